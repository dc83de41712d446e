package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository against PostgreSQL. The
// progress ledger lives in three text[] columns and batch history in a
// jsonb column, all on the campaign row, so ledger moves and cadence
// advances are single-row writes.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

const campaignCols = `
	id, user_id, name, subject,
	COALESCE(html_content,''), COALESCE(text_content,''),
	COALESCE(from_name,''), COALESCE(from_email,''), COALESCE(reply_to,''),
	COALESCE(email_account_id,''), list_ids, status,
	scheduled_date, daily_send_limit, first_batch_sent_at,
	next_batch_send_time, current_batch_number,
	total_contacts, contacts_processed, contacts_remaining, contacts_failed,
	batch_history, created_at, updated_at`

func scanCampaign(row interface{ Scan(...interface{}) error }) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	var history []byte
	err := row.Scan(
		&c.ID, &c.UserID, &c.Name, &c.Subject,
		&c.HTMLContent, &c.TextContent,
		&c.FromName, &c.FromEmail, &c.ReplyTo,
		&c.EmailAccountID, pq.Array(&c.ListIDs), &c.Status,
		&c.ScheduledDate, &c.DailySendLimit, &c.FirstBatchSentAt,
		&c.NextBatchSendTime, &c.CurrentBatchNumber,
		&c.TotalContacts, pq.Array(&c.ContactsProcessed),
		pq.Array(&c.ContactsRemaining), pq.Array(&c.ContactsFailed),
		&history, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &c.BatchHistory); err != nil {
			return nil, fmt.Errorf("decode batch history: %w", err)
		}
	}
	return c, nil
}

func (r *CampaignRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+campaignCols+`
		FROM outreach_campaigns
		WHERE id = $1
	`, id)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) List(ctx context.Context, userID string, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	countQ := `SELECT COUNT(*) FROM outreach_campaigns WHERE user_id = $1`
	countArgs := []interface{}{userID}
	if f.Status != "" {
		countQ += ` AND status = $2`
		countArgs = append(countArgs, f.Status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQ, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	q := `
		SELECT ` + campaignCols + `
		FROM outreach_campaigns
		WHERE user_id = $1`
	args := []interface{}{userID}
	idx := 2
	if f.Status != "" {
		q += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

func (r *CampaignRepo) ListByStatus(ctx context.Context, statuses ...domain.CampaignStatus) ([]domain.Campaign, error) {
	ss := make([]string, len(statuses))
	for i, s := range statuses {
		ss[i] = string(s)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+campaignCols+`
		FROM outreach_campaigns
		WHERE status = ANY($1)
		ORDER BY created_at
	`, pq.Array(ss))
	if err != nil {
		return nil, fmt.Errorf("list campaigns by status: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) (string, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO outreach_campaigns
			(id, user_id, name, subject, html_content, text_content,
			 from_name, from_email, reply_to, email_account_id, list_ids,
			 status, scheduled_date, daily_send_limit,
			 contacts_processed, contacts_remaining, contacts_failed,
			 batch_history, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
		        $12, $13, $14, '{}', '{}', '{}', '[]', NOW(), NOW())
	`, c.ID, c.UserID, c.Name, c.Subject, c.HTMLContent, c.TextContent,
		c.FromName, c.FromEmail, c.ReplyTo, c.EmailAccountID, pq.Array(c.ListIDs),
		c.Status, c.ScheduledDate, c.DailySendLimit)
	if err != nil {
		return "", fmt.Errorf("create campaign: %w", err)
	}
	return c.ID, nil
}

func (r *CampaignRepo) Update(ctx context.Context, id string, u campaign.UpdateFields) error {
	sets := []string{}
	args := []interface{}{}
	idx := 1

	add := func(col string, v interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, v)
		idx++
	}

	if u.Name != nil {
		add("name", *u.Name)
	}
	if u.Subject != nil {
		add("subject", *u.Subject)
	}
	if u.HTMLContent != nil {
		add("html_content", *u.HTMLContent)
	}
	if u.TextContent != nil {
		add("text_content", *u.TextContent)
	}
	if u.FromName != nil {
		add("from_name", *u.FromName)
	}
	if u.FromEmail != nil {
		add("from_email", *u.FromEmail)
	}
	if u.ReplyTo != nil {
		add("reply_to", *u.ReplyTo)
	}
	if u.EmailAccountID != nil {
		add("email_account_id", *u.EmailAccountID)
	}
	if u.ListIDs != nil {
		add("list_ids", pq.Array(*u.ListIDs))
	}
	if u.ScheduledDate != nil {
		add("scheduled_date", *u.ScheduledDate)
	}
	if u.DailySendLimit != nil {
		add("daily_send_limit", *u.DailySendLimit)
	}
	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = NOW()")
	q := "UPDATE outreach_campaigns SET "
	for i, s := range sets {
		if i > 0 {
			q += ", "
		}
		q += s
	}
	q += fmt.Sprintf(" WHERE id = $%d", idx)
	args = append(args, id)

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}
	return requireRow(res, campaign.ErrNotFound)
}

func (r *CampaignRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM outreach_campaigns WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	return requireRow(res, campaign.ErrNotFound)
}

// TransitionStatus is the compare-and-swap at the heart of double-send
// protection: the status guard in the WHERE clause makes concurrent
// scheduler passes resolve with exactly one winner, no row locks held
// across application code.
func (r *CampaignRepo) TransitionStatus(ctx context.Context, id string, from, to domain.CampaignStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE outreach_campaigns
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, to, id, from)
	if err != nil {
		return fmt.Errorf("transition campaign status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition campaign status: %w", err)
	}
	if n == 0 {
		// Either the row is gone or another writer moved the status first.
		var exists bool
		if err := r.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM outreach_campaigns WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("transition campaign status: %w", err)
		}
		if !exists {
			return campaign.ErrNotFound
		}
		return campaign.ErrTransitionConflict
	}
	return nil
}

// InitAudience writes the ledger exactly once: the total_contacts IS NULL
// guard makes a concurrent second initialization a no-op, keeping
// membership sticky.
func (r *CampaignRepo) InitAudience(ctx context.Context, id string, contactIDs []string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE outreach_campaigns
		SET total_contacts = $1,
		    contacts_remaining = $2,
		    contacts_processed = '{}',
		    contacts_failed = '{}',
		    updated_at = NOW()
		WHERE id = $3 AND total_contacts IS NULL
	`, len(contactIDs), pq.Array(contactIDs), id)
	if err != nil {
		return fmt.Errorf("init audience: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("init audience: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM outreach_campaigns WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("init audience: %w", err)
		}
		if !exists {
			return campaign.ErrNotFound
		}
		// Already initialized; sticky membership wins.
	}
	return nil
}

// MoveContact removes the contact from contacts_remaining and appends it
// to the outcome set in one UPDATE, so no interleaving can observe a
// contact in zero or two sets. The membership guard rejects moves for
// contacts not currently in remaining.
func (r *CampaignRepo) MoveContact(ctx context.Context, id, contactID string, outcome campaign.Outcome) error {
	dest := "contacts_processed"
	if outcome == campaign.OutcomeFailed {
		dest = "contacts_failed"
	}
	q := fmt.Sprintf(`
		UPDATE outreach_campaigns
		SET contacts_remaining = array_remove(contacts_remaining, $1),
		    %s = array_append(%s, $1),
		    updated_at = NOW()
		WHERE id = $2 AND $1 = ANY(contacts_remaining)
	`, dest, dest)

	res, err := r.db.ExecContext(ctx, q, contactID, id)
	if err != nil {
		return fmt.Errorf("move contact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("move contact: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("move contact: %s not in remaining set of campaign %s", contactID, id)
	}
	return nil
}

func (r *CampaignRepo) UpdateSchedule(ctx context.Context, id string, s campaign.ScheduleUpdate) error {
	sets := []string{}
	args := []interface{}{}
	idx := 1

	if s.FirstBatchSentAt != nil {
		sets = append(sets, fmt.Sprintf("first_batch_sent_at = $%d", idx))
		args = append(args, *s.FirstBatchSentAt)
		idx++
	}
	if s.NextBatchSendTime != nil {
		sets = append(sets, fmt.Sprintf("next_batch_send_time = $%d", idx))
		args = append(args, *s.NextBatchSendTime)
		idx++
	}
	if s.CurrentBatchNumber != nil {
		sets = append(sets, fmt.Sprintf("current_batch_number = $%d", idx))
		args = append(args, *s.CurrentBatchNumber)
		idx++
	}
	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = NOW()")
	q := "UPDATE outreach_campaigns SET "
	for i, set := range sets {
		if i > 0 {
			q += ", "
		}
		q += set
	}
	q += fmt.Sprintf(" WHERE id = $%d", idx)
	args = append(args, id)

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	return requireRow(res, campaign.ErrNotFound)
}

func (r *CampaignRepo) AppendBatchRecord(ctx context.Context, id string, rec domain.BatchRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode batch record: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE outreach_campaigns
		SET batch_history = COALESCE(batch_history, '[]'::jsonb) || $1::jsonb,
		    updated_at = NOW()
		WHERE id = $2
	`, payload, id)
	if err != nil {
		return fmt.Errorf("append batch record: %w", err)
	}
	return requireRow(res, campaign.ErrNotFound)
}

func requireRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}
