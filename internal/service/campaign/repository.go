package campaign

import (
	"context"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
)

// Outcome is the terminal result of one contact's send attempt within a
// batch. It determines which ledger set the contact moves to.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeFailed    Outcome = "failed"
)

// Repository defines the data access contract for campaigns.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single campaign. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Campaign, error)

	// List returns a user's campaigns matching the filter, newest first.
	List(ctx context.Context, userID string, filter ListFilter) ([]domain.Campaign, int, error)

	// ListByStatus returns all campaigns in any of the given statuses, in
	// creation order. Used by the scheduler pass and the sweeper.
	ListByStatus(ctx context.Context, statuses ...domain.CampaignStatus) ([]domain.Campaign, error)

	// Create inserts a new campaign and returns its ID.
	Create(ctx context.Context, c *domain.Campaign) (string, error)

	// Update modifies mutable campaign fields. Nil fields are not applied.
	Update(ctx context.Context, id string, u UpdateFields) error

	// Delete removes a campaign and its delivery attempts.
	Delete(ctx context.Context, id string) error

	// TransitionStatus performs a compare-and-swap status change: the write
	// commits only if the persisted status still equals from. Returns
	// ErrTransitionConflict when the guard fails.
	TransitionStatus(ctx context.Context, id string, from, to domain.CampaignStatus) error

	// InitAudience stores the resolved contact-id set as contacts_remaining
	// and caches total_contacts. A no-op if the audience is already
	// initialized (membership is sticky for the life of the campaign).
	InitAudience(ctx context.Context, id string, contactIDs []string) error

	// MoveContact atomically moves a contact id from contacts_remaining to
	// the set named by outcome. The removal and insertion are one write so
	// the three sets always partition the audience.
	MoveContact(ctx context.Context, id, contactID string, outcome Outcome) error

	// UpdateSchedule applies cadence-field changes. Nil fields are left
	// untouched.
	UpdateSchedule(ctx context.Context, id string, s ScheduleUpdate) error

	// AppendBatchRecord appends one entry to the campaign's batch history.
	AppendBatchRecord(ctx context.Context, id string, rec domain.BatchRecord) error
}

// ListFilter controls pagination and filtering for campaign lists.
type ListFilter struct {
	Status string
	Limit  int
	Offset int
}

// UpdateFields holds the mutable fields for a campaign update.
// Nil fields are not applied.
type UpdateFields struct {
	Name           *string
	Subject        *string
	HTMLContent    *string
	TextContent    *string
	FromName       *string
	FromEmail      *string
	ReplyTo        *string
	EmailAccountID *string
	ListIDs        *[]string
	ScheduledDate  *time.Time
	DailySendLimit *int
}

// ScheduleUpdate holds cadence-field changes written together after a batch
// dispatch or sweeper repair. Nil fields are left untouched.
type ScheduleUpdate struct {
	FirstBatchSentAt   *time.Time
	NextBatchSendTime  *time.Time
	CurrentBatchNumber *int
}
