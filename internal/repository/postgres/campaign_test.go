package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/service/campaign"
	"github.com/ignite/outreach-engine/internal/service/delivery"
)

func newMockRepo(t *testing.T) (*CampaignRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewCampaignRepo(db), mock
}

func TestTransitionStatusCASWins(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`UPDATE outreach_campaigns`).
		WithArgs(string(domain.CampaignSending), "c1", string(domain.CampaignScheduled)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.TransitionStatus(context.Background(), "c1", domain.CampaignScheduled, domain.CampaignSending)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Zero rows affected with the row still present means another writer moved
// the status first; the caller gets the conflict sentinel, not a generic
// error.
func TestTransitionStatusCASConflict(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`UPDATE outreach_campaigns`).
		WithArgs(string(domain.CampaignSending), "c1", string(domain.CampaignScheduled)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := repo.TransitionStatus(context.Background(), "c1", domain.CampaignScheduled, domain.CampaignSending)
	assert.ErrorIs(t, err, campaign.ErrTransitionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionStatusMissingRow(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`UPDATE outreach_campaigns`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	err := repo.TransitionStatus(context.Background(), "nope", domain.CampaignScheduled, domain.CampaignSending)
	assert.ErrorIs(t, err, campaign.ErrNotFound)
}

func TestInitAudienceSecondCallIsNoop(t *testing.T) {
	repo, mock := newMockRepo(t)

	// total_contacts already set: the guard filters the row out, and the
	// repository treats that as sticky-membership success.
	mock.ExpectExec(`UPDATE outreach_campaigns`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := repo.InitAudience(context.Background(), "c1", []string{"a", "b"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMoveContactRequiresMembership(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`UPDATE outreach_campaigns`).
		WithArgs("x", "c1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MoveContact(context.Background(), "c1", "x", campaign.OutcomeProcessed)
	assert.Error(t, err, "moving a contact outside remaining must fail loudly")
}

func TestUpdateScheduleNoFieldsWritesNothing(t *testing.T) {
	repo, mock := newMockRepo(t)

	err := repo.UpdateSchedule(context.Background(), "c1", campaign.ScheduleUpdate{})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func newMockAttemptRepo(t *testing.T) (*AttemptRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewAttemptRepo(db), mock
}

// A replayed MarkSent hits zero rows because sent_at is already filled;
// with the row present that is a no-op, preserving the original timestamp.
func TestMarkSentIsFillOnce(t *testing.T) {
	repo, mock := newMockAttemptRepo(t)
	at := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE outreach_delivery_attempts`).
		WithArgs(at, "msg-1", "c1", "ct1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("c1", "ct1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := repo.MarkSent(context.Background(), "c1", "ct1", "msg-1", at)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetEventTimestampRejectsUnknownField(t *testing.T) {
	repo, _ := newMockAttemptRepo(t)

	err := repo.SetEventTimestamp(context.Background(), "a1", delivery.EventType("unsubscribed"), time.Now(), "")
	assert.ErrorIs(t, err, delivery.ErrUnknownEvent)
}
