package domain

import "time"

// AttemptStatus is the single observable status derived from a delivery
// attempt's timestamp fields.
type AttemptStatus string

const (
	AttemptPending   AttemptStatus = "pending"
	AttemptSent      AttemptStatus = "sent"
	AttemptDelivered AttemptStatus = "delivered"
	AttemptOpened    AttemptStatus = "opened"
	AttemptClicked   AttemptStatus = "clicked"
	AttemptReplied   AttemptStatus = "replied"
	AttemptBounced   AttemptStatus = "bounced"
	AttemptFailed    AttemptStatus = "failed"
)

// DeliveryAttempt is the per-contact record of one campaign's send outcome
// and subsequent engagement signals. One row exists per (campaign, contact);
// the timestamps fill in left-to-right as signals arrive and are never unset
// except by explicit correction.
//
// Invariant: BouncedAt or BounceReason may be non-nil only if SentAt is
// non-nil. A message that never left the outbound pipeline is a send
// failure (tracked in the campaign's contacts_failed set), not a bounce.
type DeliveryAttempt struct {
	ID                string     `json:"id" db:"id"`
	CampaignID        string     `json:"campaign_id" db:"campaign_id"`
	ContactID         string     `json:"contact_id" db:"contact_id"`
	Email             string     `json:"email" db:"email"`
	ProviderMessageID string     `json:"provider_message_id" db:"provider_message_id"`
	SentAt            *time.Time `json:"sent_at" db:"sent_at"`
	DeliveredAt       *time.Time `json:"delivered_at" db:"delivered_at"`
	OpenedAt          *time.Time `json:"opened_at" db:"opened_at"`
	ClickedAt         *time.Time `json:"clicked_at" db:"clicked_at"`
	RepliedAt         *time.Time `json:"replied_at" db:"replied_at"`
	BouncedAt         *time.Time `json:"bounced_at" db:"bounced_at"`
	BounceReason      *string    `json:"bounce_reason" db:"bounce_reason"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}

// DeriveStatus maps the attempt's timestamps to one status. A later,
// more-positive engagement signal supersedes an earlier one for display;
// the underlying timestamps are all preserved for analytics.
func (a *DeliveryAttempt) DeriveStatus() AttemptStatus {
	switch {
	case a.RepliedAt != nil:
		return AttemptReplied
	case a.ClickedAt != nil:
		return AttemptClicked
	case a.OpenedAt != nil:
		return AttemptOpened
	case a.DeliveredAt != nil:
		return AttemptDelivered
	case a.SentAt != nil:
		return AttemptSent
	case a.BouncedAt != nil || a.BounceReason != nil:
		return AttemptBounced
	default:
		return AttemptPending
	}
}

// Bounceable reports whether bounce fields may legally be set on this
// attempt. Only attempts that actually went out can bounce.
func (a *DeliveryAttempt) Bounceable() bool {
	return a.SentAt != nil
}
