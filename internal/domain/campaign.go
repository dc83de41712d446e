package domain

import (
	"time"
)

// CampaignStatus enumerates the lifecycle states of an outreach campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignArchived  CampaignStatus = "archived"
)

// Campaign represents a cold-outreach campaign: its content, its audience,
// and the batch-cadence bookkeeping that drives daily sends.
type Campaign struct {
	ID             string         `json:"id" db:"id"`
	UserID         string         `json:"user_id" db:"user_id"`
	Name           string         `json:"name" db:"name"`
	Subject        string         `json:"subject" db:"subject"`
	HTMLContent    string         `json:"html_content" db:"html_content"`
	TextContent    string         `json:"text_content" db:"text_content"`
	FromName       string         `json:"from_name" db:"from_name"`
	FromEmail      string         `json:"from_email" db:"from_email"`
	ReplyTo        string         `json:"reply_to" db:"reply_to"`
	EmailAccountID string         `json:"email_account_id" db:"email_account_id"`
	ListIDs        []string       `json:"list_ids" db:"list_ids"`
	Status         CampaignStatus `json:"status" db:"status"`

	// Cadence fields. FirstBatchSentAt is set exactly once, when the first
	// batch dispatches. NextBatchSendTime is advanced by 24h per batch,
	// anchored to the previous value rather than wall-clock "now" so the
	// schedule does not drift with cron jitter.
	ScheduledDate      *time.Time `json:"scheduled_date" db:"scheduled_date"`
	DailySendLimit     int        `json:"daily_send_limit" db:"daily_send_limit"`
	FirstBatchSentAt   *time.Time `json:"first_batch_sent_at" db:"first_batch_sent_at"`
	NextBatchSendTime  *time.Time `json:"next_batch_send_time" db:"next_batch_send_time"`
	CurrentBatchNumber int        `json:"current_batch_number" db:"current_batch_number"`

	// Progress ledger. The three contact-id sets partition the audience:
	// every audience member is in exactly one of them once the audience has
	// been resolved. TotalContacts is nil until resolution.
	TotalContacts     *int     `json:"total_contacts" db:"total_contacts"`
	ContactsProcessed []string `json:"contacts_processed" db:"contacts_processed"`
	ContactsRemaining []string `json:"contacts_remaining" db:"contacts_remaining"`
	ContactsFailed    []string `json:"contacts_failed" db:"contacts_failed"`

	BatchHistory []BatchRecord `json:"batch_history" db:"batch_history"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// BatchRecord is one entry in a campaign's append-only batch log.
type BatchRecord struct {
	BatchNumber int       `json:"batch_number"`
	SentAt      time.Time `json:"sent_at"`
	Count       int       `json:"count"`
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignCompleted || c.Status == CampaignArchived
}

// AudienceInitialized reports whether the audience has been resolved into
// the progress ledger.
func (c *Campaign) AudienceInitialized() bool {
	return c.TotalContacts != nil
}

// SentCount returns the number of contacts the campaign has successfully
// dispatched to, computed from the persisted ledger.
func (c *Campaign) SentCount() int {
	return len(c.ContactsProcessed)
}

// LedgerConsistent checks the partition invariant: processed, remaining and
// failed are pairwise disjoint and together cover exactly TotalContacts ids.
func (c *Campaign) LedgerConsistent() bool {
	if c.TotalContacts == nil {
		return true
	}
	seen := make(map[string]struct{}, *c.TotalContacts)
	for _, set := range [][]string{c.ContactsProcessed, c.ContactsRemaining, c.ContactsFailed} {
		for _, id := range set {
			if _, dup := seen[id]; dup {
				return false
			}
			seen[id] = struct{}{}
		}
	}
	return len(seen) == *c.TotalContacts
}

// CanTransition reports whether a direct edge exists from -> to in the
// campaign lifecycle. Archived is reachable from any non-terminal state.
func CanTransition(from, to CampaignStatus) bool {
	if to == CampaignArchived {
		return from != CampaignCompleted && from != CampaignArchived
	}
	switch from {
	case CampaignDraft:
		return to == CampaignScheduled
	case CampaignScheduled:
		return to == CampaignSending || to == CampaignPaused
	case CampaignSending:
		return to == CampaignCompleted || to == CampaignPaused
	case CampaignPaused:
		return to == CampaignSending || to == CampaignScheduled
	default:
		return false
	}
}
