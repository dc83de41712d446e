package delivery

import (
	"context"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
)

// Repository defines the data access contract for delivery attempts.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Create inserts a new attempt. Returns ErrDuplicateAttempt if one
	// already exists for the same (campaign, contact) pair.
	Create(ctx context.Context, a *domain.DeliveryAttempt) error

	// Get returns the attempt for a (campaign, contact) pair.
	// Returns ErrNotFound if none exists.
	Get(ctx context.Context, campaignID, contactID string) (*domain.DeliveryAttempt, error)

	// GetByMessageID returns the attempt with the given provider message id.
	GetByMessageID(ctx context.Context, providerMessageID string) (*domain.DeliveryAttempt, error)

	// ListByCampaign returns all attempts for a campaign.
	ListByCampaign(ctx context.Context, campaignID string) ([]domain.DeliveryAttempt, error)

	// CountSent returns the number of attempts with sent_at set for a
	// campaign. Used by the sweeper to recompute actual progress.
	CountSent(ctx context.Context, campaignID string) (int, error)

	// MarkSent fills sent_at and the provider message id. Timestamps fill
	// once; a second MarkSent on the same attempt is a no-op.
	MarkSent(ctx context.Context, campaignID, contactID, providerMessageID string, at time.Time) error

	// SetEventTimestamp fills one engagement timestamp field if it is still
	// null. field is one of the Event* constants.
	SetEventTimestamp(ctx context.Context, attemptID string, field EventType, at time.Time, bounceReason string) error
}

// EventType names an inbound tracking signal.
type EventType string

const (
	EventDelivered EventType = "delivered"
	EventOpened    EventType = "opened"
	EventClicked   EventType = "clicked"
	EventReplied   EventType = "replied"
	EventBounced   EventType = "bounced"
)
