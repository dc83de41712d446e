package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/outreach-engine/internal/content"
	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/executor"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
	"github.com/ignite/outreach-engine/internal/service/campaign"
	"github.com/ignite/outreach-engine/internal/service/delivery"
)

// =============================================================================
// BATCH DISPATCHER: Sends One Campaign Batch
// =============================================================================
// Dispatches the next batch of a sending campaign: selects contacts in
// ledger order, renders per-contact content, transmits through the
// campaign's email account, and records every outcome in the progress
// ledger before advancing the cadence fields.
//
// Failure containment:
//   - One failing contact never aborts the rest of the batch.
//   - An account configuration error (bad credentials, unknown provider)
//     aborts the remaining contacts of the batch WITHOUT failing them;
//     they stay in contacts_remaining for the next run.
//   - A send timeout is a send failure, never silently retried.
//   - An attempt-ledger storage error before transmission leaves the
//     contact in contacts_remaining; failed is reserved for contacts the
//     engine actually tried to deliver.

// errAttemptStore marks an attempt-ledger failure that happened before any
// message reached the provider.
var errAttemptStore = errors.New("attempt store unavailable")

// AccountStore loads email-account credentials. Accounts are provisioned
// and verified outside this engine.
type AccountStore interface {
	GetAccount(ctx context.Context, id string) (*domain.EmailAccount, error)
}

// DefaultSendTimeout bounds a single delivery attempt.
const DefaultSendTimeout = 30 * time.Second

// DefaultMaxConcurrentSends bounds simultaneous sends within one batch, to
// respect provider rate limits. Batches of the same campaign never run
// concurrently with each other.
const DefaultMaxConcurrentSends = 5

// BatchDispatcher sends campaign batches.
type BatchDispatcher struct {
	campaigns campaign.Repository
	tracker   *ContactQueueTracker
	contacts  ContactStore
	accounts  AccountStore
	executors *executor.Registry
	renderer  *content.Renderer
	delivery  *delivery.Service

	sendTimeout   time.Duration
	maxConcurrent int

	totalSent   int64
	totalFailed int64
}

// NewBatchDispatcher creates a dispatcher with default limits.
func NewBatchDispatcher(
	campaigns campaign.Repository,
	tracker *ContactQueueTracker,
	contacts ContactStore,
	accounts AccountStore,
	executors *executor.Registry,
	deliverySvc *delivery.Service,
) *BatchDispatcher {
	return &BatchDispatcher{
		campaigns:     campaigns,
		tracker:       tracker,
		contacts:      contacts,
		accounts:      accounts,
		executors:     executors,
		renderer:      content.NewRenderer(),
		delivery:      deliverySvc,
		sendTimeout:   DefaultSendTimeout,
		maxConcurrent: DefaultMaxConcurrentSends,
	}
}

// SetSendTimeout overrides the per-send timeout.
func (d *BatchDispatcher) SetSendTimeout(t time.Duration) {
	if t > 0 {
		d.sendTimeout = t
	}
}

// SetMaxConcurrent overrides the in-batch concurrency bound.
func (d *BatchDispatcher) SetMaxConcurrent(n int) {
	if n > 0 {
		d.maxConcurrent = n
	}
}

// Stats returns lifetime dispatch counters.
func (d *BatchDispatcher) Stats() map[string]int64 {
	return map[string]int64{
		"total_sent":   atomic.LoadInt64(&d.totalSent),
		"total_failed": atomic.LoadInt64(&d.totalFailed),
	}
}

// BatchResult summarizes one DispatchBatch call.
type BatchResult struct {
	CampaignID  string
	BatchNumber int
	Attempted   int
	Sent        int
	Failed      int
	Skipped     int
	Completed   bool
	AccountErr  error
}

// DispatchBatch sends the next batch for a sending campaign and updates
// the cadence fields. The caller has already decided the batch is due.
func (d *BatchDispatcher) DispatchBatch(ctx context.Context, c *domain.Campaign, now time.Time) (*BatchResult, error) {
	res := &BatchResult{CampaignID: c.ID, BatchNumber: c.CurrentBatchNumber + 1}

	if err := d.tracker.EnsureAudience(ctx, c); err != nil {
		return nil, err
	}

	batch := d.tracker.SelectNextBatch(c)
	if len(batch) == 0 {
		res.Completed = d.completeIfDone(ctx, c)
		return res, nil
	}

	account, err := d.accounts.GetAccount(ctx, c.EmailAccountID)
	if err != nil {
		// No usable account: leave the whole batch in remaining.
		res.AccountErr = fmt.Errorf("load account %s: %w", c.EmailAccountID, err)
		return res, nil
	}
	exec, err := d.executors.For(account)
	if err != nil {
		res.AccountErr = err
		return res, nil
	}

	contactList, err := d.contacts.GetContacts(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("load contacts: %w", err)
	}
	byID := make(map[string]domain.Contact, len(contactList))
	for _, ct := range contactList {
		byID[ct.ID] = ct
	}

	var (
		ledgerMu    sync.Mutex
		wg          sync.WaitGroup
		sem         = make(chan struct{}, d.maxConcurrent)
		accountDown atomic.Bool
		accountErr  error
		sent, fail  int64
		skipped     int64
	)

	record := func(contactID string, outcome campaign.Outcome) {
		ledgerMu.Lock()
		defer ledgerMu.Unlock()
		if err := d.tracker.RecordOutcome(ctx, c, contactID, outcome); err != nil {
			log.Printf("[BatchDispatcher] Campaign %s: record outcome for %s: %v", c.ID, contactID, err)
		}
	}

	// Contacts are launched in ledger order; the semaphore bounds how many
	// are in flight at once.
	for _, contactID := range batch {
		if accountDown.Load() {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(contactID string) {
			defer wg.Done()
			defer func() { <-sem }()

			contact, ok := byID[contactID]
			if !ok {
				// Contact row deleted outside the engine; the sticky
				// audience still carries it. Terminal failure.
				record(contactID, campaign.OutcomeFailed)
				atomic.AddInt64(&fail, 1)
				return
			}

			outcome, err := d.sendOne(ctx, c, account, exec, contact)
			if err != nil {
				if errors.Is(err, executor.ErrAccountConfig) {
					// Bad credentials poison the account for this run;
					// unattempted contacts stay in remaining.
					if accountDown.CompareAndSwap(false, true) {
						accountErr = err
					}
					return
				}
				if errors.Is(err, errAttemptStore) {
					// The provider never saw this contact; it stays in
					// remaining for a later batch.
					log.Printf("[BatchDispatcher] Campaign %s: contact %s: %v", c.ID, contactID, err)
					return
				}
				log.Printf("[BatchDispatcher] Campaign %s: contact %s: %v", c.ID, contactID, err)
				record(contactID, campaign.OutcomeFailed)
				atomic.AddInt64(&fail, 1)
				return
			}

			switch outcome {
			case campaign.OutcomeProcessed:
				record(contactID, campaign.OutcomeProcessed)
				atomic.AddInt64(&sent, 1)
			case campaign.OutcomeFailed:
				record(contactID, campaign.OutcomeFailed)
				atomic.AddInt64(&fail, 1)
			default:
				// Already-sent duplicate detected; ledger repaired.
				record(contactID, campaign.OutcomeProcessed)
				atomic.AddInt64(&skipped, 1)
			}
		}(contactID)
	}
	wg.Wait()

	res.Attempted = int(sent + fail + skipped)
	res.Sent = int(sent)
	res.Failed = int(fail)
	res.Skipped = int(skipped)
	res.AccountErr = accountErr
	atomic.AddInt64(&d.totalSent, sent)
	atomic.AddInt64(&d.totalFailed, fail)

	if res.Attempted == 0 {
		// Nothing went out (account died before the first contact): do not
		// advance the cadence, the next run retries this batch.
		return res, nil
	}

	if err := d.advanceCadence(ctx, c, now, res); err != nil {
		return res, err
	}
	res.Completed = d.completeIfDone(ctx, c)

	log.Printf("[BatchDispatcher] Campaign %s: batch %d done (sent=%d failed=%d skipped=%d remaining=%d)",
		c.ID, res.BatchNumber, res.Sent, res.Failed, res.Skipped, len(c.ContactsRemaining))
	return res, nil
}

// sendOne renders and transmits one message. The empty outcome "" means
// a duplicate attempt that had already been sent.
func (d *BatchDispatcher) sendOne(ctx context.Context, c *domain.Campaign, account *domain.EmailAccount, exec executor.Executor, contact domain.Contact) (campaign.Outcome, error) {
	_, err := d.delivery.CreateAttempt(ctx, c.ID, contact.ID, contact.Email)
	if err != nil {
		if !errors.Is(err, delivery.ErrDuplicateAttempt) {
			return "", fmt.Errorf("%w: create attempt: %v", errAttemptStore, err)
		}
		existing, getErr := d.delivery.Attempt(ctx, c.ID, contact.ID)
		if getErr != nil {
			return "", fmt.Errorf("%w: load existing attempt: %v", errAttemptStore, getErr)
		}
		if existing.SentAt != nil {
			// A previous run sent this contact but crashed before moving
			// it out of remaining. Repair without re-sending.
			return "", nil
		}
		// Attempt row exists with no outcome; fall through and send.
	}

	subject, html, text, renderErr := d.renderer.RenderMessage(c, contact)
	if renderErr != nil {
		logger.Warn("template error, sending raw content",
			"campaign_id", c.ID, "contact_id", contact.ID, "error", renderErr.Error())
	}

	fromName := c.FromName
	if fromName == "" {
		fromName = account.FromName
	}
	fromEmail := c.FromEmail
	if fromEmail == "" {
		fromEmail = account.Email
	}

	msg := &domain.OutboundMessage{
		CampaignID:  c.ID,
		ContactID:   contact.ID,
		Email:       contact.Email,
		FromName:    fromName,
		FromEmail:   fromEmail,
		ReplyTo:     c.ReplyTo,
		Subject:     subject,
		HTMLContent: html,
		TextContent: text,
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	result, err := exec.Send(sendCtx, account, msg)
	if err != nil {
		if errors.Is(err, executor.ErrAccountConfig) {
			return "", err
		}
		// Timeout or transport error: a send failure for this contact.
		return campaign.OutcomeFailed, nil
	}
	if !result.Success {
		logger.Info("send rejected", "campaign_id", c.ID, "contact_id", contact.ID, "error", result.Error)
		return campaign.OutcomeFailed, nil
	}

	sentAt := result.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}
	if err := d.delivery.MarkSent(ctx, c.ID, contact.ID, result.MessageID, sentAt); err != nil {
		return "", fmt.Errorf("mark sent: %w", err)
	}
	return campaign.OutcomeProcessed, nil
}

// advanceCadence moves the campaign's schedule forward one batch and
// appends the batch record. The first batch anchors the cadence at "now";
// every later batch adds 24h to the previous scheduled time.
func (d *BatchDispatcher) advanceCadence(ctx context.Context, c *domain.Campaign, now time.Time, res *BatchResult) error {
	next := NextBatchTime(c, now)
	batchNum := c.CurrentBatchNumber + 1

	upd := campaign.ScheduleUpdate{
		NextBatchSendTime:  &next,
		CurrentBatchNumber: &batchNum,
	}
	if c.FirstBatchSentAt == nil {
		first := now
		upd.FirstBatchSentAt = &first
	}
	if err := d.campaigns.UpdateSchedule(ctx, c.ID, upd); err != nil {
		return fmt.Errorf("advance cadence: %w", err)
	}

	rec := domain.BatchRecord{BatchNumber: batchNum, SentAt: now, Count: res.Sent}
	if err := d.campaigns.AppendBatchRecord(ctx, c.ID, rec); err != nil {
		return fmt.Errorf("append batch record: %w", err)
	}

	if upd.FirstBatchSentAt != nil {
		c.FirstBatchSentAt = upd.FirstBatchSentAt
	}
	c.NextBatchSendTime = &next
	c.CurrentBatchNumber = batchNum
	c.BatchHistory = append(c.BatchHistory, rec)
	return nil
}

// completeIfDone transitions sending -> completed once the remaining set
// is empty. A CAS conflict means another run got there first; that is
// success, not an error.
func (d *BatchDispatcher) completeIfDone(ctx context.Context, c *domain.Campaign) bool {
	if !c.AudienceInitialized() || len(c.ContactsRemaining) > 0 {
		return false
	}
	err := d.campaigns.TransitionStatus(ctx, c.ID, domain.CampaignSending, domain.CampaignCompleted)
	if err != nil {
		if errors.Is(err, campaign.ErrTransitionConflict) {
			return true
		}
		log.Printf("[BatchDispatcher] Campaign %s: complete transition: %v", c.ID, err)
		return false
	}
	c.Status = domain.CampaignCompleted
	log.Printf("[BatchDispatcher] Campaign %s: completed (%d processed, %d failed)",
		c.ID, len(c.ContactsProcessed), len(c.ContactsFailed))
	return true
}
