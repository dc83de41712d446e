package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/outreach-engine/internal/domain"
)

// Service implements campaign business logic and owns the lifecycle state
// machine. All public methods are safe for concurrent use if the underlying
// repository is concurrency-safe.
type Service struct {
	repo Repository
}

// NewService creates a campaign service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.repo.Get(ctx, id)
}

// List returns a user's campaigns matching the filter.
func (s *Service) List(ctx context.Context, userID string, f ListFilter) ([]domain.Campaign, int, error) {
	return s.repo.List(ctx, userID, f)
}

// Create validates and persists a new campaign in draft status.
func (s *Service) Create(ctx context.Context, userID string, input CreateInput) (*domain.Campaign, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if input.Subject == "" {
		return nil, fmt.Errorf("subject is required")
	}
	limit := input.DailySendLimit
	if limit < 1 {
		limit = 50
	}

	c := &domain.Campaign{
		ID:             uuid.New().String(),
		UserID:         userID,
		Name:           input.Name,
		Subject:        input.Subject,
		HTMLContent:    input.HTMLContent,
		TextContent:    input.TextContent,
		FromName:       input.FromName,
		FromEmail:      input.FromEmail,
		ReplyTo:        input.ReplyTo,
		EmailAccountID: input.EmailAccountID,
		ListIDs:        input.ListIDs,
		DailySendLimit: limit,
		Status:         domain.CampaignDraft,
	}

	id, err := s.repo.Create(ctx, c)
	if err != nil {
		return nil, err
	}
	c.ID = id
	return c, nil
}

// Update modifies mutable campaign fields.
func (s *Service) Update(ctx context.Context, id string, u UpdateFields) error {
	return s.repo.Update(ctx, id, u)
}

// Delete removes a campaign. Campaigns that are scheduled or sending are
// refused; the owner must pause first so an in-flight batch is never
// orphaned mid-dispatch.
func (s *Service) Delete(ctx context.Context, id string) error {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Status == domain.CampaignScheduled || c.Status == domain.CampaignSending {
		return ErrCampaignActive
	}
	return s.repo.Delete(ctx, id)
}

// Transition moves a campaign along one lifecycle edge using a
// compare-and-swap on the persisted status. Returns ErrInvalidTransition
// for edges not in the lifecycle graph and ErrTransitionConflict when a
// concurrent writer got there first.
func (s *Service) Transition(ctx context.Context, id string, target domain.CampaignStatus) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(c.Status, target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, target)
	}
	if err := s.repo.TransitionStatus(ctx, id, c.Status, target); err != nil {
		return nil, err
	}
	c.Status = target
	return c, nil
}

// Schedule moves a draft campaign to scheduled with the given send time.
// A zero sendAt schedules the campaign for immediate pickup by the next
// scheduler pass.
func (s *Service) Schedule(ctx context.Context, id string, sendAt time.Time) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(c.ListIDs) == 0 {
		return nil, ErrNoLists
	}

	if !sendAt.IsZero() {
		if err := s.repo.Update(ctx, id, UpdateFields{ScheduledDate: &sendAt}); err != nil {
			return nil, fmt.Errorf("set scheduled date: %w", err)
		}
	}
	return s.Transition(ctx, id, domain.CampaignScheduled)
}

// Pause stops future batch dispatch. An in-flight batch finishes first; the
// dispatcher checks status only at batch boundaries.
func (s *Service) Pause(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.Transition(ctx, id, domain.CampaignPaused)
}

// Resume returns a paused campaign to active rotation: back to sending if
// the first batch already went out, otherwise back to scheduled.
func (s *Service) Resume(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	target := domain.CampaignScheduled
	if c.FirstBatchSentAt != nil {
		target = domain.CampaignSending
	}
	return s.Transition(ctx, id, target)
}

// Archive retires a campaign from all scheduler passes.
func (s *Service) Archive(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.Transition(ctx, id, domain.CampaignArchived)
}

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	Name           string   `json:"name"`
	Subject        string   `json:"subject"`
	HTMLContent    string   `json:"html_content"`
	TextContent    string   `json:"text_content"`
	FromName       string   `json:"from_name"`
	FromEmail      string   `json:"from_email"`
	ReplyTo        string   `json:"reply_to"`
	EmailAccountID string   `json:"email_account_id"`
	ListIDs        []string `json:"list_ids"`
	DailySendLimit int      `json:"daily_send_limit"`
}
