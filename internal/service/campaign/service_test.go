package campaign_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/service/campaign"
)

// memRepo is an in-memory campaign repository for unit testing.
type memRepo struct {
	mu        sync.Mutex
	campaigns map[string]*domain.Campaign
}

func newMemRepo() *memRepo {
	return &memRepo{campaigns: make(map[string]*domain.Campaign)}
}

func (m *memRepo) Get(_ context.Context, id string) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memRepo) List(_ context.Context, userID string, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Campaign
	for _, c := range m.campaigns {
		if c.UserID != userID {
			continue
		}
		if f.Status != "" && string(c.Status) != f.Status {
			continue
		}
		out = append(out, *c)
	}
	return out, len(out), nil
}

func (m *memRepo) ListByStatus(_ context.Context, statuses ...domain.CampaignStatus) ([]domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Campaign
	for _, c := range m.campaigns {
		for _, st := range statuses {
			if c.Status == st {
				out = append(out, *c)
				break
			}
		}
	}
	return out, nil
}

func (m *memRepo) Create(_ context.Context, c *domain.Campaign) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		return "", fmt.Errorf("id required")
	}
	cp := *c
	m.campaigns[cp.ID] = &cp
	return cp.ID, nil
}

func (m *memRepo) Update(_ context.Context, id string, u campaign.UpdateFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	if u.Name != nil {
		c.Name = *u.Name
	}
	if u.Subject != nil {
		c.Subject = *u.Subject
	}
	if u.ScheduledDate != nil {
		c.ScheduledDate = u.ScheduledDate
	}
	if u.DailySendLimit != nil {
		c.DailySendLimit = *u.DailySendLimit
	}
	return nil
}

func (m *memRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.campaigns[id]; !ok {
		return campaign.ErrNotFound
	}
	delete(m.campaigns, id)
	return nil
}

func (m *memRepo) TransitionStatus(_ context.Context, id string, from, to domain.CampaignStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	if c.Status != from {
		return campaign.ErrTransitionConflict
	}
	c.Status = to
	return nil
}

func (m *memRepo) InitAudience(_ context.Context, id string, contactIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	if c.TotalContacts != nil {
		return nil
	}
	n := len(contactIDs)
	c.TotalContacts = &n
	c.ContactsRemaining = append([]string(nil), contactIDs...)
	return nil
}

func (m *memRepo) MoveContact(_ context.Context, id, contactID string, outcome campaign.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	idx := -1
	for i, cid := range c.ContactsRemaining {
		if cid == contactID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("contact %s not in remaining", contactID)
	}
	c.ContactsRemaining = append(c.ContactsRemaining[:idx], c.ContactsRemaining[idx+1:]...)
	if outcome == campaign.OutcomeProcessed {
		c.ContactsProcessed = append(c.ContactsProcessed, contactID)
	} else {
		c.ContactsFailed = append(c.ContactsFailed, contactID)
	}
	return nil
}

func (m *memRepo) UpdateSchedule(_ context.Context, id string, s campaign.ScheduleUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	if s.FirstBatchSentAt != nil {
		c.FirstBatchSentAt = s.FirstBatchSentAt
	}
	if s.NextBatchSendTime != nil {
		c.NextBatchSendTime = s.NextBatchSendTime
	}
	if s.CurrentBatchNumber != nil {
		c.CurrentBatchNumber = *s.CurrentBatchNumber
	}
	return nil
}

func (m *memRepo) AppendBatchRecord(_ context.Context, id string, rec domain.BatchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	c.BatchHistory = append(c.BatchHistory, rec)
	return nil
}

func seed(t *testing.T, repo *memRepo, status domain.CampaignStatus) *domain.Campaign {
	t.Helper()
	c := &domain.Campaign{
		ID:             "c-" + string(status),
		UserID:         "u1",
		Name:           "Q3 outreach",
		Subject:        "Quick question",
		ListIDs:        []string{"l1"},
		DailySendLimit: 25,
		Status:         status,
	}
	if _, err := repo.Create(context.Background(), c); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return c
}

func TestCreateDefaultsToDraft(t *testing.T) {
	repo := newMemRepo()
	svc := campaign.NewService(repo)

	c, err := svc.Create(context.Background(), "u1", campaign.CreateInput{
		Name:    "Intro sequence",
		Subject: "Hello {{ first_name }}",
		ListIDs: []string{"l1", "l2"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.Status != domain.CampaignDraft {
		t.Errorf("new campaign status = %s, want draft", c.Status)
	}
	if c.DailySendLimit < 1 {
		t.Errorf("daily send limit must default to >= 1, got %d", c.DailySendLimit)
	}

	if _, err := svc.Create(context.Background(), "u1", campaign.CreateInput{Subject: "x"}); err == nil {
		t.Error("create without name should fail")
	}
}

func TestScheduleRequiresLists(t *testing.T) {
	repo := newMemRepo()
	svc := campaign.NewService(repo)
	c := seed(t, repo, domain.CampaignDraft)
	repo.campaigns[c.ID].ListIDs = nil

	if _, err := svc.Schedule(context.Background(), c.ID, time.Now()); err != campaign.ErrNoLists {
		t.Errorf("schedule without lists: got %v, want ErrNoLists", err)
	}
}

func TestScheduleSetsDateAndStatus(t *testing.T) {
	repo := newMemRepo()
	svc := campaign.NewService(repo)
	c := seed(t, repo, domain.CampaignDraft)

	at := time.Now().Add(time.Hour)
	got, err := svc.Schedule(context.Background(), c.ID, at)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if got.Status != domain.CampaignScheduled {
		t.Errorf("status = %s, want scheduled", got.Status)
	}
	stored, _ := repo.Get(context.Background(), c.ID)
	if stored.ScheduledDate == nil || !stored.ScheduledDate.Equal(at) {
		t.Errorf("scheduled date not persisted")
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	repo := newMemRepo()
	svc := campaign.NewService(repo)
	c := seed(t, repo, domain.CampaignDraft)

	if _, err := svc.Transition(context.Background(), c.ID, domain.CampaignCompleted); err == nil {
		t.Error("draft -> completed must be rejected")
	}
	// No state mutated on rejection.
	stored, _ := repo.Get(context.Background(), c.ID)
	if stored.Status != domain.CampaignDraft {
		t.Errorf("status mutated on invalid transition: %s", stored.Status)
	}
}

// Two concurrent scheduler passes both read the same scheduled campaign;
// only one CAS transition to sending succeeds, the other observes the
// conflict and skips.
func TestConcurrentTransitionOnlyOneWins(t *testing.T) {
	repo := newMemRepo()
	c := seed(t, repo, domain.CampaignScheduled)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Both goroutines observed status=scheduled before either wrote.
			results[i] = repo.TransitionStatus(context.Background(), c.ID, domain.CampaignScheduled, domain.CampaignSending)
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range results {
		switch err {
		case nil:
			wins++
		case campaign.ErrTransitionConflict:
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != 1 {
		t.Errorf("got %d wins, %d conflicts; want exactly 1 each", wins, conflicts)
	}
}

func TestDeleteGuardsActiveCampaigns(t *testing.T) {
	repo := newMemRepo()
	svc := campaign.NewService(repo)

	for _, status := range []domain.CampaignStatus{domain.CampaignScheduled, domain.CampaignSending} {
		c := seed(t, repo, status)
		if err := svc.Delete(context.Background(), c.ID); err != campaign.ErrCampaignActive {
			t.Errorf("delete %s campaign: got %v, want ErrCampaignActive", status, err)
		}
	}

	c := seed(t, repo, domain.CampaignDraft)
	if err := svc.Delete(context.Background(), c.ID); err != nil {
		t.Errorf("delete draft campaign: %v", err)
	}
}

func TestResumeTargetDependsOnProgress(t *testing.T) {
	repo := newMemRepo()
	svc := campaign.NewService(repo)

	// Paused before any batch went out: back to scheduled.
	c := seed(t, repo, domain.CampaignPaused)
	got, err := svc.Resume(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got.Status != domain.CampaignScheduled {
		t.Errorf("resume fresh campaign: status = %s, want scheduled", got.Status)
	}

	// Paused mid-flight: back to sending.
	c2 := seed(t, repo, domain.CampaignSending)
	now := time.Now()
	repo.campaigns[c2.ID].FirstBatchSentAt = &now
	repo.campaigns[c2.ID].Status = domain.CampaignPaused
	got, err = svc.Resume(context.Background(), c2.ID)
	if err != nil {
		t.Fatalf("resume mid-flight: %v", err)
	}
	if got.Status != domain.CampaignSending {
		t.Errorf("resume mid-flight: status = %s, want sending", got.Status)
	}
}

func TestArchiveFromNonTerminalOnly(t *testing.T) {
	repo := newMemRepo()
	svc := campaign.NewService(repo)

	c := seed(t, repo, domain.CampaignPaused)
	if _, err := svc.Archive(context.Background(), c.ID); err != nil {
		t.Errorf("archive paused campaign: %v", err)
	}

	done := seed(t, repo, domain.CampaignCompleted)
	if _, err := svc.Archive(context.Background(), done.ID); err == nil {
		t.Error("archive completed campaign should be rejected")
	}
}
