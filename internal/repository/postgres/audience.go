package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/service/campaign"
)

// AudienceRepo resolves contact lists and loads contact and email-account
// rows for the dispatcher. Contacts, lists and accounts are owned by other
// parts of the product; this repository only reads them.
type AudienceRepo struct{ db *sql.DB }

// NewAudienceRepo creates a Postgres-backed audience repository.
func NewAudienceRepo(db *sql.DB) *AudienceRepo { return &AudienceRepo{db: db} }

// ResolveAudience returns the union of contact ids across the given lists.
// Duplicates across lists are possible; the queue tracker deduplicates.
func (r *AudienceRepo) ResolveAudience(ctx context.Context, listIDs []string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT contact_id FROM outreach_list_members
		WHERE list_id = ANY($1)
	`, pq.Array(listIDs))
	if err != nil {
		return nil, fmt.Errorf("resolve audience: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan contact id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// GetContacts loads the contact rows for a batch.
func (r *AudienceRepo) GetContacts(ctx context.Context, ids []string) ([]domain.Contact, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, email, COALESCE(first_name,''), COALESCE(last_name,''),
		       COALESCE(company,''), COALESCE(title,''), custom_fields
		FROM outreach_contacts
		WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("get contacts: %w", err)
	}
	defer rows.Close()

	var out []domain.Contact
	for rows.Next() {
		var c domain.Contact
		var fields []byte
		if err := rows.Scan(&c.ID, &c.Email, &c.FirstName, &c.LastName,
			&c.Company, &c.Title, &fields); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &c.Fields); err != nil {
				return nil, fmt.Errorf("decode custom fields for contact %s: %w", c.ID, err)
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetAccount loads one email account with its provider credentials.
func (r *AudienceRepo) GetAccount(ctx context.Context, id string) (*domain.EmailAccount, error) {
	a := &domain.EmailAccount{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, email, COALESCE(from_name,''), provider,
		       COALESCE(smtp_host,''), COALESCE(smtp_port,0),
		       COALESCE(smtp_username,''), COALESCE(smtp_password,''),
		       COALESCE(aws_access_key,''), COALESCE(aws_secret_key,''),
		       COALESCE(aws_region,''), status
		FROM outreach_email_accounts
		WHERE id = $1
	`, id).Scan(
		&a.ID, &a.UserID, &a.Email, &a.FromName, &a.Provider,
		&a.SMTPHost, &a.SMTPPort, &a.SMTPUser, &a.SMTPPass,
		&a.AWSKey, &a.AWSSecret, &a.AWSRegion, &a.Status,
	)
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get email account: %w", err)
	}
	return a, nil
}
