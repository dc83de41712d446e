package worker

import (
	"fmt"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
)

// =============================================================================
// BATCH SCHEDULER: Send-Window Math for the 24-Hour Cadence
// =============================================================================
// Pure timing decisions for campaign batches. All state lives on the
// campaign row; these functions never touch storage, which keeps the
// cadence rules trivially testable and lets the sweeper reuse them.

const (
	// BatchInterval is the cadence between batches.
	BatchInterval = 24 * time.Hour

	// SendWindowTolerance absorbs cron jitter: a batch is "on time" within
	// this distance of next_batch_send_time on either side. The trigger
	// fires every 5 minutes, so a ±5m window guarantees exactly one tick
	// lands inside it without ever skipping or doubling a batch.
	SendWindowTolerance = 5 * time.Minute

	// OverdueThreshold is how late a batch must be before we stop trying
	// to hit the original schedule. More than one full cadence late means
	// the scheduler was down; catching up the missed days back-to-back
	// would burst well past the daily limit's intent.
	OverdueThreshold = 25 * time.Hour

	// OverdueResetDelay is how far in the future sending resumes after an
	// overdue reset. Just past one trigger interval, so the next tick
	// lands inside the fresh window.
	OverdueResetDelay = 5 * time.Minute
)

// Decision is the outcome of a send-window check.
type Decision struct {
	Send    bool
	Overdue bool
	Reason  string
}

// ShouldSendNow decides whether the campaign's next batch is due. It never
// mutates the campaign; when Overdue is set the caller applies
// OverdueResetTime and logs the skipped schedule.
func ShouldSendNow(c *domain.Campaign, now time.Time) Decision {
	if c.Status != domain.CampaignSending {
		return Decision{Reason: fmt.Sprintf("status is %s, not sending", c.Status)}
	}
	if c.AudienceInitialized() && len(c.ContactsRemaining) == 0 {
		return Decision{Reason: "no contacts remaining"}
	}

	// First batch: eligible as soon as the campaign's own start time has
	// arrived (or immediately for manual/unscheduled campaigns).
	if c.FirstBatchSentAt == nil {
		if c.ScheduledDate != nil && c.ScheduledDate.After(now) {
			return Decision{Reason: fmt.Sprintf("scheduled for %s", c.ScheduledDate.Format(time.RFC3339))}
		}
		return Decision{Send: true, Reason: "first batch"}
	}

	if c.NextBatchSendTime == nil {
		// Crash left no future schedule; the sweeper repairs this.
		return Decision{Reason: "no next batch time set"}
	}

	next := *c.NextBatchSendTime
	if now.Sub(next) > OverdueThreshold {
		return Decision{Overdue: true, Reason: fmt.Sprintf("batch overdue by %s", now.Sub(next).Round(time.Minute))}
	}
	if now.Before(next.Add(-SendWindowTolerance)) {
		return Decision{Reason: fmt.Sprintf("window opens at %s", next.Add(-SendWindowTolerance).Format(time.RFC3339))}
	}
	if now.After(next.Add(SendWindowTolerance)) {
		return Decision{Reason: "missed send window, waiting for next cycle"}
	}
	return Decision{Send: true, Reason: "inside send window"}
}

// NextBatchTime computes next_batch_send_time after a batch completes.
// Subsequent batches anchor to the previous scheduled time, not to "now",
// so execution jitter never accumulates into schedule drift.
func NextBatchTime(c *domain.Campaign, now time.Time) time.Time {
	if c.FirstBatchSentAt == nil || c.NextBatchSendTime == nil {
		return now.Add(BatchInterval)
	}
	return c.NextBatchSendTime.Add(BatchInterval)
}

// OverdueResetTime is the fresh next_batch_send_time applied when a
// campaign's schedule is more than OverdueThreshold in the past.
func OverdueResetTime(now time.Time) time.Time {
	return now.Add(OverdueResetDelay)
}

// BatchSize returns how many contacts the next batch should contain.
func BatchSize(c *domain.Campaign) int {
	if c.DailySendLimit < len(c.ContactsRemaining) {
		return c.DailySendLimit
	}
	return len(c.ContactsRemaining)
}
