package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/pkg/distlock"
	"github.com/ignite/outreach-engine/internal/service/campaign"
)

// =============================================================================
// SCHEDULER RUNNER: The Externally-Clocked Trigger
// =============================================================================
// One RunOnce call is one scheduler pass: sweep, promote due scheduled
// campaigns, dispatch due batches. No long-lived state: every pass reads
// persisted campaign rows, does bounded work, and persists results, so any
// instance can run the trigger and a crash between passes loses nothing.
//
// Serialization is layered. The per-campaign CAS status transition is the
// correctness mechanism: two passes racing on the same scheduled campaign
// resolve with exactly one winner. The distributed lock on top merely
// keeps redundant passes cheap.
//
// The in-process ticker (Start/Stop) exists for local development; in
// production an external cron hits the trigger endpoint every 5 minutes
// and the ticker stays off.

// DefaultRunnerInterval is the recommended trigger cadence.
const DefaultRunnerInterval = 5 * time.Minute

// runLockKey names the distributed lock held for the duration of a pass.
const runLockKey = "outreach:scheduler:run"

// LockFactory builds a fresh lock per pass; locks are single-use.
type LockFactory func() distlock.DistLock

// RunLockFactory returns a LockFactory over the standard run-lock key,
// preferring Redis and falling back to a PG advisory lock. Both nil
// backends disable locking entirely.
func RunLockFactory(redisClient *redis.Client, db *sql.DB, ttl time.Duration) LockFactory {
	if redisClient == nil && db == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultRunnerInterval - time.Minute
	}
	return func() distlock.DistLock {
		return distlock.NewLock(redisClient, db, runLockKey, ttl)
	}
}

// SchedulerRunner orchestrates scheduler passes.
type SchedulerRunner struct {
	campaigns  campaign.Repository
	sweeper    *ReconciliationSweeper
	dispatcher *BatchDispatcher
	newLock    LockFactory
	interval   time.Duration

	// Stats
	passes     int64
	dispatched int64
	errCount   int64

	// Control (in-process ticker mode only)
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewSchedulerRunner creates a runner. newLock may be nil, in which case
// passes run unlocked (single-instance deployments and tests).
func NewSchedulerRunner(campaigns campaign.Repository, sweeper *ReconciliationSweeper, dispatcher *BatchDispatcher, newLock LockFactory) *SchedulerRunner {
	return &SchedulerRunner{
		campaigns:  campaigns,
		sweeper:    sweeper,
		dispatcher: dispatcher,
		newLock:    newLock,
		interval:   DefaultRunnerInterval,
	}
}

// SetInterval overrides the in-process ticker interval.
func (r *SchedulerRunner) SetInterval(d time.Duration) {
	if d > 0 {
		r.interval = d
	}
}

// RunReport summarizes one scheduler pass.
type RunReport struct {
	Skipped    bool          `json:"skipped"`
	Repairs    []Repair      `json:"repairs,omitempty"`
	Promoted   int           `json:"promoted"`
	Dispatched []BatchResult `json:"dispatched,omitempty"`
	Errors     []string      `json:"errors,omitempty"`
}

// RunOnce executes a single scheduler pass. Per-campaign failures are
// contained and reported; one broken campaign never blocks the rest.
func (r *SchedulerRunner) RunOnce(ctx context.Context) (*RunReport, error) {
	report := &RunReport{}

	if r.newLock != nil {
		lock := r.newLock()
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire run lock: %w", err)
		}
		if !ok {
			log.Printf("[SchedulerRunner] Pass already running elsewhere, skipping")
			report.Skipped = true
			return report, nil
		}
		defer lock.Release(ctx)
	}

	atomic.AddInt64(&r.passes, 1)
	now := time.Now().UTC()

	// (a) Repair inconsistent state before making decisions from it.
	repairs, err := r.sweeper.Sweep(ctx, now)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		atomic.AddInt64(&r.errCount, 1)
	}
	report.Repairs = repairs

	// (b) Promote scheduled campaigns whose start time has arrived.
	report.Promoted = r.promoteDue(ctx, now, report)

	// (c) Dispatch due batches.
	r.dispatchDue(ctx, now, report)

	return report, nil
}

// promoteDue CAS-transitions due scheduled campaigns to sending. A CAS
// conflict means a concurrent pass already took the campaign; skip it.
func (r *SchedulerRunner) promoteDue(ctx context.Context, now time.Time, report *RunReport) int {
	scheduled, err := r.campaigns.ListByStatus(ctx, domain.CampaignScheduled)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("list scheduled: %v", err))
		atomic.AddInt64(&r.errCount, 1)
		return 0
	}

	promoted := 0
	for i := range scheduled {
		c := &scheduled[i]
		if c.ScheduledDate != nil && c.ScheduledDate.After(now) {
			continue
		}
		err := r.campaigns.TransitionStatus(ctx, c.ID, domain.CampaignScheduled, domain.CampaignSending)
		if err != nil {
			if errors.Is(err, campaign.ErrTransitionConflict) {
				continue
			}
			report.Errors = append(report.Errors, fmt.Sprintf("promote %s: %v", c.ID, err))
			atomic.AddInt64(&r.errCount, 1)
			continue
		}
		promoted++
		log.Printf("[SchedulerRunner] Campaign %s: scheduled -> sending", c.ID)
	}
	return promoted
}

func (r *SchedulerRunner) dispatchDue(ctx context.Context, now time.Time, report *RunReport) {
	sending, err := r.campaigns.ListByStatus(ctx, domain.CampaignSending)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("list sending: %v", err))
		atomic.AddInt64(&r.errCount, 1)
		return
	}

	repaired := make(map[string]struct{}, len(report.Repairs))
	for _, rep := range report.Repairs {
		repaired[rep.CampaignID] = struct{}{}
	}

	for i := range sending {
		c := &sending[i]
		if _, ok := repaired[c.ID]; ok {
			// Repaired this pass; dispatch decisions wait for the next
			// tick so they are made from settled state.
			continue
		}
		decision := ShouldSendNow(c, now)

		if decision.Overdue {
			next := OverdueResetTime(now)
			if err := r.campaigns.UpdateSchedule(ctx, c.ID, campaign.ScheduleUpdate{NextBatchSendTime: &next}); err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("overdue reset %s: %v", c.ID, err))
				atomic.AddInt64(&r.errCount, 1)
				continue
			}
			log.Printf("[SchedulerRunner] Campaign %s: %s; skipped batches will not catch up, resuming at %s",
				c.ID, decision.Reason, next.Format(time.RFC3339))
			continue
		}
		if !decision.Send {
			continue
		}

		result, err := r.dispatcher.DispatchBatch(ctx, c, now)
		if err != nil {
			// Contained per campaign: audience resolution or storage
			// errors here must not block the other campaigns.
			report.Errors = append(report.Errors, fmt.Sprintf("dispatch %s: %v", c.ID, err))
			atomic.AddInt64(&r.errCount, 1)
			continue
		}
		if result.AccountErr != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("campaign %s account: %v", c.ID, result.AccountErr))
		}
		report.Dispatched = append(report.Dispatched, *result)
		atomic.AddInt64(&r.dispatched, 1)
	}
}

// ForceProcess dispatches a campaign immediately on operator request,
// through the same CAS-guarded path as the scheduler: a scheduled campaign
// is promoted first, and a campaign another pass is advancing is skipped
// exactly as a lost CAS is.
func (r *SchedulerRunner) ForceProcess(ctx context.Context, id string) (*BatchResult, error) {
	c, err := r.campaigns.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if c.Status == domain.CampaignScheduled {
		if err := r.campaigns.TransitionStatus(ctx, id, domain.CampaignScheduled, domain.CampaignSending); err != nil {
			return nil, err
		}
		c.Status = domain.CampaignSending
	}
	if c.Status != domain.CampaignSending {
		return nil, fmt.Errorf("%w: cannot process campaign in status %s", campaign.ErrInvalidTransition, c.Status)
	}

	if r.newLock != nil {
		lock := r.newLock()
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire run lock: %w", err)
		}
		if !ok {
			return nil, campaign.ErrTransitionConflict
		}
		defer lock.Release(ctx)
	}

	return r.dispatcher.DispatchBatch(ctx, c, time.Now().UTC())
}

// Stats returns lifetime runner counters.
func (r *SchedulerRunner) Stats() map[string]int64 {
	return map[string]int64{
		"passes":     atomic.LoadInt64(&r.passes),
		"dispatched": atomic.LoadInt64(&r.dispatched),
		"errors":     atomic.LoadInt64(&r.errCount),
	}
}

// Start begins the in-process ticker loop (local development only; the
// persisted fields remain the source of truth either way).
func (r *SchedulerRunner) Start() error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("runner already running")
	}
	r.running = true
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.mu.Unlock()

	log.Printf("[SchedulerRunner] Starting in-process ticker (interval=%s)", r.interval)

	r.wg.Add(1)
	go r.loop()
	return nil
}

// Stop gracefully stops the ticker loop.
func (r *SchedulerRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	r.wg.Wait()
	log.Printf("[SchedulerRunner] Stopped. Passes: %d, batches dispatched: %d, errors: %d",
		atomic.LoadInt64(&r.passes), atomic.LoadInt64(&r.dispatched), atomic.LoadInt64(&r.errCount))
}

func (r *SchedulerRunner) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(r.ctx); err != nil {
				log.Printf("[SchedulerRunner] Pass failed: %v", err)
			}
		}
	}
}
