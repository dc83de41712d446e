package worker

// Shared in-memory fixtures for the worker tests: a campaign repository,
// an attempt repository, and stub collaborators (audience resolver,
// contact store, account store, executor).

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/executor"
	"github.com/ignite/outreach-engine/internal/service/campaign"
	"github.com/ignite/outreach-engine/internal/service/delivery"
)

// ---------------------------------------------------------------------------
// in-memory campaign repository

type memCampaigns struct {
	mu     sync.Mutex
	rows   map[string]*domain.Campaign
	writes int // counts mutating calls, for idempotence assertions
}

func newMemCampaigns() *memCampaigns {
	return &memCampaigns{rows: make(map[string]*domain.Campaign)}
}

func (m *memCampaigns) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *memCampaigns) Get(_ context.Context, id string) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	cp := cloneCampaign(c)
	return &cp, nil
}

func (m *memCampaigns) List(_ context.Context, userID string, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Campaign
	for _, c := range m.rows {
		if c.UserID == userID {
			out = append(out, cloneCampaign(c))
		}
	}
	return out, len(out), nil
}

func (m *memCampaigns) ListByStatus(_ context.Context, statuses ...domain.CampaignStatus) ([]domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Campaign
	for _, c := range m.rows {
		for _, st := range statuses {
			if c.Status == st {
				out = append(out, cloneCampaign(c))
				break
			}
		}
	}
	return out, nil
}

func (m *memCampaigns) Create(_ context.Context, c *domain.Campaign) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := cloneCampaign(c)
	m.rows[cp.ID] = &cp
	return cp.ID, nil
}

func (m *memCampaigns) Update(_ context.Context, id string, u campaign.UpdateFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return campaign.ErrNotFound
	}
	if u.ScheduledDate != nil {
		c.ScheduledDate = u.ScheduledDate
	}
	m.writes++
	return nil
}

func (m *memCampaigns) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	m.writes++
	return nil
}

func (m *memCampaigns) TransitionStatus(_ context.Context, id string, from, to domain.CampaignStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return campaign.ErrNotFound
	}
	if c.Status != from {
		return campaign.ErrTransitionConflict
	}
	c.Status = to
	m.writes++
	return nil
}

func (m *memCampaigns) InitAudience(_ context.Context, id string, contactIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return campaign.ErrNotFound
	}
	if c.TotalContacts != nil {
		return nil
	}
	n := len(contactIDs)
	c.TotalContacts = &n
	c.ContactsRemaining = append([]string(nil), contactIDs...)
	m.writes++
	return nil
}

func (m *memCampaigns) MoveContact(_ context.Context, id, contactID string, outcome campaign.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
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
	m.writes++
	return nil
}

func (m *memCampaigns) UpdateSchedule(_ context.Context, id string, s campaign.ScheduleUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
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
	m.writes++
	return nil
}

func (m *memCampaigns) AppendBatchRecord(_ context.Context, id string, rec domain.BatchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return campaign.ErrNotFound
	}
	c.BatchHistory = append(c.BatchHistory, rec)
	m.writes++
	return nil
}

func cloneCampaign(c *domain.Campaign) domain.Campaign {
	cp := *c
	cp.ListIDs = append([]string(nil), c.ListIDs...)
	cp.ContactsProcessed = append([]string(nil), c.ContactsProcessed...)
	cp.ContactsRemaining = append([]string(nil), c.ContactsRemaining...)
	cp.ContactsFailed = append([]string(nil), c.ContactsFailed...)
	cp.BatchHistory = append([]domain.BatchRecord(nil), c.BatchHistory...)
	return cp
}

// ---------------------------------------------------------------------------
// in-memory attempt repository

type memAttempts struct {
	mu        sync.Mutex
	rows      map[string]*domain.DeliveryAttempt
	createErr map[string]error // contact id -> injected Create failure
}

func newMemAttempts() *memAttempts {
	return &memAttempts{rows: make(map[string]*domain.DeliveryAttempt)}
}

func (m *memAttempts) Create(_ context.Context, a *domain.DeliveryAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.createErr[a.ContactID]; err != nil {
		return err
	}
	for _, ex := range m.rows {
		if ex.CampaignID == a.CampaignID && ex.ContactID == a.ContactID {
			return delivery.ErrDuplicateAttempt
		}
	}
	cp := *a
	m.rows[cp.ID] = &cp
	return nil
}

func (m *memAttempts) Get(_ context.Context, campaignID, contactID string) (*domain.DeliveryAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.rows {
		if a.CampaignID == campaignID && a.ContactID == contactID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, delivery.ErrNotFound
}

func (m *memAttempts) GetByMessageID(_ context.Context, providerMessageID string) (*domain.DeliveryAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.rows {
		if a.ProviderMessageID == providerMessageID && providerMessageID != "" {
			cp := *a
			return &cp, nil
		}
	}
	return nil, delivery.ErrNotFound
}

func (m *memAttempts) ListByCampaign(_ context.Context, campaignID string) ([]domain.DeliveryAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.DeliveryAttempt
	for _, a := range m.rows {
		if a.CampaignID == campaignID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memAttempts) CountSent(_ context.Context, campaignID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.rows {
		if a.CampaignID == campaignID && a.SentAt != nil {
			n++
		}
	}
	return n, nil
}

func (m *memAttempts) MarkSent(_ context.Context, campaignID, contactID, providerMessageID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.rows {
		if a.CampaignID == campaignID && a.ContactID == contactID {
			if a.SentAt == nil {
				t := at
				a.SentAt = &t
				a.ProviderMessageID = providerMessageID
			}
			return nil
		}
	}
	return delivery.ErrNotFound
}

func (m *memAttempts) SetEventTimestamp(_ context.Context, attemptID string, field delivery.EventType, at time.Time, bounceReason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[attemptID]
	if !ok {
		return delivery.ErrNotFound
	}
	set := func(dst **time.Time) {
		if *dst == nil {
			t := at
			*dst = &t
		}
	}
	switch field {
	case delivery.EventDelivered:
		set(&a.DeliveredAt)
	case delivery.EventOpened:
		set(&a.OpenedAt)
	case delivery.EventClicked:
		set(&a.ClickedAt)
	case delivery.EventReplied:
		set(&a.RepliedAt)
	case delivery.EventBounced:
		set(&a.BouncedAt)
		if a.BounceReason == nil && bounceReason != "" {
			r := bounceReason
			a.BounceReason = &r
		}
	}
	return nil
}

// seedAttemptSent inserts an attempt with sent_at set, bypassing the
// service, for sweeper tests.
func (m *memAttempts) seedAttemptSent(campaignID, contactID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	m.rows[id] = &domain.DeliveryAttempt{
		ID: id, CampaignID: campaignID, ContactID: contactID,
		Email: contactID + "@example.com", SentAt: &at, CreatedAt: at,
	}
}

// ---------------------------------------------------------------------------
// stub collaborators

type stubResolver struct {
	lists map[string][]string
	err   error
}

func (s *stubResolver) ResolveAudience(_ context.Context, listIDs []string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []string
	for _, l := range listIDs {
		out = append(out, s.lists[l]...)
	}
	return out, nil
}

type stubContacts struct{}

func (stubContacts) GetContacts(_ context.Context, ids []string) ([]domain.Contact, error) {
	out := make([]domain.Contact, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Contact{
			ID:        id,
			Email:     id + "@example.com",
			FirstName: "Contact-" + id,
			Company:   "Acme",
		})
	}
	return out, nil
}

type stubAccounts struct {
	account *domain.EmailAccount
	err     error
}

func (s *stubAccounts) GetAccount(_ context.Context, id string) (*domain.EmailAccount, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.account, nil
}

// stubExecutor scripts per-contact outcomes: fail lists emails that fail
// transiently, configErrAfter poisons the account after N sends (-1 never).
type stubExecutor struct {
	mu             sync.Mutex
	sent           []string
	fail           map[string]bool
	configErrAfter int
}

func newStubExecutor() *stubExecutor {
	return &stubExecutor{fail: make(map[string]bool), configErrAfter: -1}
}

func (s *stubExecutor) Send(_ context.Context, _ *domain.EmailAccount, msg *domain.OutboundMessage) (*domain.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.configErrAfter >= 0 && len(s.sent) >= s.configErrAfter {
		return nil, fmt.Errorf("%w: token expired", executor.ErrAccountConfig)
	}
	if s.fail[msg.Email] {
		return &domain.SendResult{Success: false, Error: "451 try again later"}, nil
	}
	s.sent = append(s.sent, msg.Email)
	return &domain.SendResult{
		Success:   true,
		MessageID: "msg-" + msg.ContactID,
		Provider:  domain.ProviderSMTP,
		SentAt:    time.Now().UTC(),
	}, nil
}

func (s *stubExecutor) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// ---------------------------------------------------------------------------
// wiring helper

type fixture struct {
	campaigns   *memCampaigns
	attempts    *memAttempts
	deliverySvc *delivery.Service
	tracker     *ContactQueueTracker
	dispatcher  *BatchDispatcher
	sweeper     *ReconciliationSweeper
	runner      *SchedulerRunner
	exec        *stubExecutor
	resolver    *stubResolver
}

func newFixture() *fixture {
	f := &fixture{
		campaigns: newMemCampaigns(),
		attempts:  newMemAttempts(),
		exec:      newStubExecutor(),
		resolver:  &stubResolver{lists: map[string][]string{}},
	}
	f.deliverySvc = delivery.NewService(f.attempts)
	f.tracker = NewContactQueueTracker(f.campaigns, f.resolver)
	accounts := &stubAccounts{account: &domain.EmailAccount{
		ID: "acct1", Email: "sam@outbound.io", FromName: "Sam", Provider: domain.ProviderSMTP,
	}}
	f.dispatcher = NewBatchDispatcher(
		f.campaigns, f.tracker, stubContacts{}, accounts,
		executor.NewRegistryWith(f.exec, f.exec), f.deliverySvc,
	)
	f.sweeper = NewReconciliationSweeper(f.campaigns, f.deliverySvc)
	f.runner = NewSchedulerRunner(f.campaigns, f.sweeper, f.dispatcher, nil)
	return f
}

// seedCampaign inserts a campaign with the given audience list.
func (f *fixture) seedCampaign(id string, status domain.CampaignStatus, dailyLimit int, contactIDs []string) *domain.Campaign {
	f.resolver.lists["list-"+id] = contactIDs
	c := &domain.Campaign{
		ID:             id,
		UserID:         "u1",
		Name:           "Campaign " + id,
		Subject:        "Hi {{ first_name }}",
		TextContent:    "Quick question, {{ first_name }}.",
		EmailAccountID: "acct1",
		ListIDs:        []string{"list-" + id},
		DailySendLimit: dailyLimit,
		Status:         status,
	}
	f.campaigns.Create(context.Background(), c)
	return c
}
