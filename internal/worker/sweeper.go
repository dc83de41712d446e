package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/service/campaign"
	"github.com/ignite/outreach-engine/internal/service/delivery"
)

// =============================================================================
// RECONCILIATION SWEEPER: Repairs Stalled or Inconsistent Campaigns
// =============================================================================
// A crash between "batch finished" and "schedule written" can leave a
// sending campaign with no future batch time, a stale overdue schedule, or
// a sent count that already met the target without the completed status
// ever landing. The sweeper scans sending campaigns every scheduler pass
// and repairs all three cases from the persisted ledger.
//
// Every repair is idempotent: sweeping an already-consistent campaign
// writes nothing. Repairs are logged, never surfaced as user errors, and
// this is the only code path that mutates campaigns outside normal batch
// execution.

// RepairKind names one category of sweeper repair.
type RepairKind string

const (
	RepairForceComplete   RepairKind = "force_complete"
	RepairMissingSchedule RepairKind = "missing_schedule"
	RepairOverdueReset    RepairKind = "overdue_reset"
)

// Repair describes one repair the sweeper applied.
type Repair struct {
	CampaignID string     `json:"campaign_id"`
	Kind       RepairKind `json:"kind"`
	Detail     string     `json:"detail"`
}

// ReconciliationSweeper repairs inconsistent campaign state.
type ReconciliationSweeper struct {
	campaigns campaign.Repository
	delivery  *delivery.Service
}

// NewReconciliationSweeper creates a sweeper.
func NewReconciliationSweeper(campaigns campaign.Repository, deliverySvc *delivery.Service) *ReconciliationSweeper {
	return &ReconciliationSweeper{campaigns: campaigns, delivery: deliverySvc}
}

// Sweep scans all sending campaigns and applies any needed repairs.
// One broken campaign never blocks the sweep of the others.
func (s *ReconciliationSweeper) Sweep(ctx context.Context, now time.Time) ([]Repair, error) {
	sending, err := s.campaigns.ListByStatus(ctx, domain.CampaignSending)
	if err != nil {
		return nil, fmt.Errorf("list sending campaigns: %w", err)
	}

	var repairs []Repair
	for i := range sending {
		c := &sending[i]
		rs, err := s.sweepOne(ctx, c, now)
		if err != nil {
			log.Printf("[Sweeper] Campaign %s: %v", c.ID, err)
			continue
		}
		repairs = append(repairs, rs...)
	}
	return repairs, nil
}

func (s *ReconciliationSweeper) sweepOne(ctx context.Context, c *domain.Campaign, now time.Time) ([]Repair, error) {
	var repairs []Repair

	sentCount, err := s.delivery.CountSent(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("count sent attempts: %w", err)
	}

	// 1. Every contact is accounted for but the completion transition was
	// lost in a crash or lost CAS between the final ledger move and the
	// status write. Either signal proves it: the sent count met the
	// target, or the remaining set drained with some contacts failing
	// terminally (so sent alone never reaches the total).
	done := c.AudienceInitialized() && *c.TotalContacts > 0 &&
		(sentCount >= *c.TotalContacts || len(c.ContactsRemaining) == 0)
	if done {
		err := s.campaigns.TransitionStatus(ctx, c.ID, domain.CampaignSending, domain.CampaignCompleted)
		if err != nil && !errors.Is(err, campaign.ErrTransitionConflict) {
			return nil, fmt.Errorf("force complete: %w", err)
		}
		repairs = append(repairs, Repair{
			CampaignID: c.ID,
			Kind:       RepairForceComplete,
			Detail:     fmt.Sprintf("sent=%d failed=%d total=%d remaining=%d", sentCount, len(c.ContactsFailed), *c.TotalContacts, len(c.ContactsRemaining)),
		})
		log.Printf("[Sweeper] Campaign %s: force-completed (sent=%d failed=%d total=%d)", c.ID, sentCount, len(c.ContactsFailed), *c.TotalContacts)
		return repairs, nil
	}

	// 2. First batch went out but no future schedule exists: rebuild the
	// cadence from how many batches the sent count implies.
	if c.FirstBatchSentAt != nil && c.NextBatchSendTime == nil {
		batches := batchesCompleted(sentCount, c.DailySendLimit)
		next := c.FirstBatchSentAt.Add(time.Duration(batches) * BatchInterval)
		upd := campaign.ScheduleUpdate{
			NextBatchSendTime:  &next,
			CurrentBatchNumber: &batches,
		}
		if err := s.campaigns.UpdateSchedule(ctx, c.ID, upd); err != nil {
			return nil, fmt.Errorf("rebuild schedule: %w", err)
		}
		c.NextBatchSendTime = &next
		c.CurrentBatchNumber = batches
		repairs = append(repairs, Repair{
			CampaignID: c.ID,
			Kind:       RepairMissingSchedule,
			Detail:     fmt.Sprintf("rebuilt batch %d, next at %s", batches, next.Format(time.RFC3339)),
		})
		log.Printf("[Sweeper] Campaign %s: rebuilt missing schedule (batch=%d next=%s)", c.ID, batches, next.Format(time.RFC3339))
	}

	// 3. Schedule more than one full cadence in the past: resume promptly
	// instead of firing the missed days back-to-back.
	if c.NextBatchSendTime != nil && now.Sub(*c.NextBatchSendTime) > OverdueThreshold {
		next := OverdueResetTime(now)
		if err := s.campaigns.UpdateSchedule(ctx, c.ID, campaign.ScheduleUpdate{NextBatchSendTime: &next}); err != nil {
			return nil, fmt.Errorf("overdue reset: %w", err)
		}
		repairs = append(repairs, Repair{
			CampaignID: c.ID,
			Kind:       RepairOverdueReset,
			Detail:     fmt.Sprintf("was due %s, resuming at %s", c.NextBatchSendTime.Format(time.RFC3339), next.Format(time.RFC3339)),
		})
		log.Printf("[Sweeper] Campaign %s: overdue schedule reset, skipped batches will not catch up (was due %s)",
			c.ID, c.NextBatchSendTime.Format(time.RFC3339))
		c.NextBatchSendTime = &next
	}

	return repairs, nil
}

// batchesCompleted is ceil(sentCount / dailyLimit): how many batches must
// have run to produce the sent count.
func batchesCompleted(sentCount, dailyLimit int) int {
	if dailyLimit < 1 {
		dailyLimit = 1
	}
	return (sentCount + dailyLimit - 1) / dailyLimit
}
