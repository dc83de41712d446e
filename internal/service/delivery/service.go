package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
)

// Service implements delivery-attempt business logic: attempt creation
// during batch selection, send outcomes, tracking-event ingestion, and the
// per-campaign analytics rollup.
type Service struct {
	repo Repository
}

// NewService creates a delivery service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CreateAttempt records that a contact was selected into a batch. All
// timestamp fields start null; the dispatcher fills sent_at on success and
// leaves everything null on failure.
func (s *Service) CreateAttempt(ctx context.Context, campaignID, contactID, email string) (*domain.DeliveryAttempt, error) {
	a := &domain.DeliveryAttempt{
		ID:         uuid.New().String(),
		CampaignID: campaignID,
		ContactID:  contactID,
		Email:      email,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Attempt returns the attempt for a (campaign, contact) pair.
func (s *Service) Attempt(ctx context.Context, campaignID, contactID string) (*domain.DeliveryAttempt, error) {
	return s.repo.Get(ctx, campaignID, contactID)
}

// MarkSent records a successful transmission for a contact.
func (s *Service) MarkSent(ctx context.Context, campaignID, contactID, providerMessageID string, at time.Time) error {
	return s.repo.MarkSent(ctx, campaignID, contactID, providerMessageID, at)
}

// CountSent returns the number of attempts with sent_at set for a campaign.
func (s *Service) CountSent(ctx context.Context, campaignID string) (int, error) {
	return s.repo.CountSent(ctx, campaignID)
}

// InboundEvent is one tracking signal from the webhook/pixel pipeline.
// Attempts are matched by provider message id when present, otherwise by
// (campaign, contact).
type InboundEvent struct {
	Type              EventType `json:"type"`
	CampaignID        string    `json:"campaign_id"`
	ContactID         string    `json:"contact_id"`
	ProviderMessageID string    `json:"provider_message_id"`
	OccurredAt        time.Time `json:"occurred_at"`
	BounceReason      string    `json:"bounce_reason,omitempty"`
}

// ApplyEvent updates an existing attempt from an inbound tracking signal.
// Timestamps fill once and are never overwritten by later duplicates.
// Bounce events are rejected with ErrBounceWithoutSend when the attempt has
// no sent_at: such a record belongs to contacts_failed, not bounce stats.
func (s *Service) ApplyEvent(ctx context.Context, ev InboundEvent) error {
	switch ev.Type {
	case EventDelivered, EventOpened, EventClicked, EventReplied, EventBounced:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}

	a, err := s.lookup(ctx, ev)
	if err != nil {
		return err
	}

	if ev.Type == EventBounced && !a.Bounceable() {
		logger.Warn("rejected bounce for unsent attempt",
			"campaign_id", a.CampaignID, "contact_id", a.ContactID)
		return ErrBounceWithoutSend
	}

	at := ev.OccurredAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return s.repo.SetEventTimestamp(ctx, a.ID, ev.Type, at, ev.BounceReason)
}

func (s *Service) lookup(ctx context.Context, ev InboundEvent) (*domain.DeliveryAttempt, error) {
	if ev.ProviderMessageID != "" {
		a, err := s.repo.GetByMessageID(ctx, ev.ProviderMessageID)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		// Fall through to campaign/contact lookup for providers that
		// rewrite message ids between accept and bounce.
	}
	if ev.CampaignID == "" || ev.ContactID == "" {
		return nil, ErrNotFound
	}
	return s.repo.Get(ctx, ev.CampaignID, ev.ContactID)
}

// CampaignAnalytics is the per-campaign engagement rollup. FailedSends
// comes from the campaign ledger, not from attempt records, and is always
// reported separately from Bounced.
type CampaignAnalytics struct {
	Total       int `json:"total"`
	Pending     int `json:"pending"`
	Sent        int `json:"sent"`
	Delivered   int `json:"delivered"`
	Opened      int `json:"opened"`
	Clicked     int `json:"clicked"`
	Replied     int `json:"replied"`
	Bounced     int `json:"bounced"`
	FailedSends int `json:"failed_sends"`
}

// Analytics aggregates attempt statuses for one campaign. Bounces are
// counted only for attempts that were actually sent; a malformed record
// with bounce fields but no sent_at contributes zero bounces.
func (s *Service) Analytics(ctx context.Context, c *domain.Campaign) (*CampaignAnalytics, error) {
	attempts, err := s.repo.ListByCampaign(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}

	out := &CampaignAnalytics{
		Total:       len(attempts),
		FailedSends: len(c.ContactsFailed),
	}
	for i := range attempts {
		a := &attempts[i]
		if a.SentAt != nil && (a.BouncedAt != nil || a.BounceReason != nil) {
			out.Bounced++
		}
		switch a.DeriveStatus() {
		case domain.AttemptPending:
			out.Pending++
		case domain.AttemptSent:
			out.Sent++
		case domain.AttemptDelivered:
			out.Delivered++
		case domain.AttemptOpened:
			out.Opened++
		case domain.AttemptClicked:
			out.Clicked++
		case domain.AttemptReplied:
			out.Replied++
		case domain.AttemptBounced:
			// Derived bounced with no sent_at: a legacy malformed record.
			// It counts as pending here and as a failed send in the ledger.
			out.Pending++
		}
	}
	return out, nil
}
