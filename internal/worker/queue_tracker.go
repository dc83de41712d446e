package worker

import (
	"context"
	"fmt"
	"sort"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/service/campaign"
)

// AudienceResolver resolves contact-list ids into the contact-id set they
// contain. Contact CRUD and segmentation live outside this engine.
type AudienceResolver interface {
	ResolveAudience(ctx context.Context, listIDs []string) ([]string, error)
}

// ContactStore loads the contact fields the dispatcher needs for rendering
// and addressing.
type ContactStore interface {
	GetContacts(ctx context.Context, ids []string) ([]domain.Contact, error)
}

// ContactQueueTracker maintains each campaign's progress ledger: which
// contacts have been processed, which remain, and which failed. The three
// sets partition the audience; every mutation moves a contact from
// remaining to exactly one destination.
type ContactQueueTracker struct {
	campaigns campaign.Repository
	resolver  AudienceResolver
}

// NewContactQueueTracker creates a queue tracker.
func NewContactQueueTracker(campaigns campaign.Repository, resolver AudienceResolver) *ContactQueueTracker {
	return &ContactQueueTracker{campaigns: campaigns, resolver: resolver}
}

// EnsureAudience resolves and persists the campaign's audience on first
// use. Membership is sticky: once computed, a contact removed from its
// list mid-campaign stays in the audience, so an actively-executing
// campaign never shrinks under the operator. The contact ids are
// deduplicated and stored in sorted order so batch selection is
// deterministic across retries.
func (t *ContactQueueTracker) EnsureAudience(ctx context.Context, c *domain.Campaign) error {
	if c.AudienceInitialized() {
		return nil
	}
	if len(c.ListIDs) == 0 {
		return campaign.ErrNoLists
	}

	ids, err := t.resolver.ResolveAudience(ctx, c.ListIDs)
	if err != nil {
		return fmt.Errorf("resolve audience: %w", err)
	}

	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	sort.Strings(unique)

	if err := t.campaigns.InitAudience(ctx, c.ID, unique); err != nil {
		return fmt.Errorf("init audience: %w", err)
	}

	n := len(unique)
	c.TotalContacts = &n
	c.ContactsRemaining = unique
	return nil
}

// SelectNextBatch returns the next slice of contact ids to email, in the
// stable ledger order, sized min(daily_send_limit, |remaining|).
func (t *ContactQueueTracker) SelectNextBatch(c *domain.Campaign) []string {
	size := BatchSize(c)
	if size <= 0 {
		return nil
	}
	batch := make([]string, size)
	copy(batch, c.ContactsRemaining[:size])
	return batch
}

// RecordOutcome moves a contact from remaining to processed or failed,
// both in storage and on the in-memory campaign so the dispatch loop sees
// a consistent ledger. Failed contacts are terminal for this campaign;
// re-queueing one is an administrative action outside this engine.
func (t *ContactQueueTracker) RecordOutcome(ctx context.Context, c *domain.Campaign, contactID string, outcome campaign.Outcome) error {
	if err := t.campaigns.MoveContact(ctx, c.ID, contactID, outcome); err != nil {
		return fmt.Errorf("move contact %s to %s: %w", contactID, outcome, err)
	}

	for i, id := range c.ContactsRemaining {
		if id == contactID {
			c.ContactsRemaining = append(c.ContactsRemaining[:i], c.ContactsRemaining[i+1:]...)
			break
		}
	}
	switch outcome {
	case campaign.OutcomeProcessed:
		c.ContactsProcessed = append(c.ContactsProcessed, contactID)
	case campaign.OutcomeFailed:
		c.ContactsFailed = append(c.ContactsFailed, contactID)
	}
	return nil
}
