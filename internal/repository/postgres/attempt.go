package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/service/delivery"
)

// AttemptRepo implements delivery.Repository against PostgreSQL.
//
// Two schema constraints back the service-level invariants:
// UNIQUE(campaign_id, contact_id) makes duplicate attempts impossible to
// insert, and CHECK (bounced_at IS NULL OR sent_at IS NOT NULL) makes a
// bounce on a never-sent attempt unrepresentable.
type AttemptRepo struct{ db *sql.DB }

// NewAttemptRepo creates a Postgres-backed delivery-attempt repository.
func NewAttemptRepo(db *sql.DB) *AttemptRepo { return &AttemptRepo{db: db} }

const attemptCols = `
	id, campaign_id, contact_id, email, COALESCE(provider_message_id,''),
	sent_at, delivered_at, opened_at, clicked_at, replied_at,
	bounced_at, bounce_reason, created_at`

func scanAttempt(row interface{ Scan(...interface{}) error }) (*domain.DeliveryAttempt, error) {
	a := &domain.DeliveryAttempt{}
	err := row.Scan(
		&a.ID, &a.CampaignID, &a.ContactID, &a.Email, &a.ProviderMessageID,
		&a.SentAt, &a.DeliveredAt, &a.OpenedAt, &a.ClickedAt, &a.RepliedAt,
		&a.BouncedAt, &a.BounceReason, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *AttemptRepo) Create(ctx context.Context, a *domain.DeliveryAttempt) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO outreach_delivery_attempts
			(id, campaign_id, contact_id, email, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, a.ID, a.CampaignID, a.ContactID, a.Email)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return delivery.ErrDuplicateAttempt
		}
		return fmt.Errorf("create attempt: %w", err)
	}
	return nil
}

func (r *AttemptRepo) Get(ctx context.Context, campaignID, contactID string) (*domain.DeliveryAttempt, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+attemptCols+`
		FROM outreach_delivery_attempts
		WHERE campaign_id = $1 AND contact_id = $2
	`, campaignID, contactID)
	a, err := scanAttempt(row)
	if err == sql.ErrNoRows {
		return nil, delivery.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	return a, nil
}

func (r *AttemptRepo) GetByMessageID(ctx context.Context, providerMessageID string) (*domain.DeliveryAttempt, error) {
	if providerMessageID == "" {
		return nil, delivery.ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `
		SELECT `+attemptCols+`
		FROM outreach_delivery_attempts
		WHERE provider_message_id = $1
	`, providerMessageID)
	a, err := scanAttempt(row)
	if err == sql.ErrNoRows {
		return nil, delivery.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt by message id: %w", err)
	}
	return a, nil
}

func (r *AttemptRepo) ListByCampaign(ctx context.Context, campaignID string) ([]domain.DeliveryAttempt, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+attemptCols+`
		FROM outreach_delivery_attempts
		WHERE campaign_id = $1
		ORDER BY created_at
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var out []domain.DeliveryAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *AttemptRepo) CountSent(ctx context.Context, campaignID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM outreach_delivery_attempts
		WHERE campaign_id = $1 AND sent_at IS NOT NULL
	`, campaignID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sent attempts: %w", err)
	}
	return n, nil
}

// MarkSent fills sent_at once; the IS NULL guard makes a replayed mark a
// no-op rather than a timestamp rewrite.
func (r *AttemptRepo) MarkSent(ctx context.Context, campaignID, contactID, providerMessageID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE outreach_delivery_attempts
		SET sent_at = $1, provider_message_id = $2
		WHERE campaign_id = $3 AND contact_id = $4 AND sent_at IS NULL
	`, at, providerMessageID, campaignID, contactID)
	if err != nil {
		return fmt.Errorf("mark attempt sent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark attempt sent: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM outreach_delivery_attempts
			              WHERE campaign_id = $1 AND contact_id = $2)
		`, campaignID, contactID).Scan(&exists); err != nil {
			return fmt.Errorf("mark attempt sent: %w", err)
		}
		if !exists {
			return delivery.ErrNotFound
		}
	}
	return nil
}

// SetEventTimestamp fills one engagement timestamp if still null. The
// column name comes from a fixed map, never from input.
func (r *AttemptRepo) SetEventTimestamp(ctx context.Context, attemptID string, field delivery.EventType, at time.Time, bounceReason string) error {
	cols := map[delivery.EventType]string{
		delivery.EventDelivered: "delivered_at",
		delivery.EventOpened:    "opened_at",
		delivery.EventClicked:   "clicked_at",
		delivery.EventReplied:   "replied_at",
		delivery.EventBounced:   "bounced_at",
	}
	col, ok := cols[field]
	if !ok {
		return delivery.ErrUnknownEvent
	}

	var res sql.Result
	var err error
	if field == delivery.EventBounced {
		res, err = r.db.ExecContext(ctx, fmt.Sprintf(`
			UPDATE outreach_delivery_attempts
			SET %s = COALESCE(%s, $1),
			    bounce_reason = COALESCE(bounce_reason, NULLIF($2, ''))
			WHERE id = $3
		`, col, col), at, bounceReason, attemptID)
	} else {
		res, err = r.db.ExecContext(ctx, fmt.Sprintf(`
			UPDATE outreach_delivery_attempts
			SET %s = COALESCE(%s, $1)
			WHERE id = $2
		`, col, col), at, attemptID)
	}
	if err != nil {
		return fmt.Errorf("set %s: %w", col, err)
	}
	return requireRow(res, delivery.ErrNotFound)
}
