package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mailpilot/mailpilot/internal/database"
	"github.com/mailpilot/mailpilot/internal/model"
)

// RecipientRepository handles recipient persistence
type RecipientRepository struct {
	db *database.Postgres
}

// NewRecipientRepository creates a new RecipientRepository
func NewRecipientRepository(db *database.Postgres) *RecipientRepository {
	return &RecipientRepository{db: db}
}

// ListPending returns the pending recipients of a campaign in list order
func (r *RecipientRepository) ListPending(ctx context.Context, campaignID string) ([]model.Recipient, error) {
	query := `
		SELECT id, campaign_id, email, name, variables, status, last_error, position, updated_at
		FROM recipients
		WHERE campaign_id = $1 AND status = 'pending'
		ORDER BY position, id
	`
	rows, err := r.db.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending recipients: %w", err)
	}
	defer rows.Close()

	var recipients []model.Recipient
	for rows.Next() {
		var (
			rc   model.Recipient
			vars []byte
		)
		if err := rows.Scan(
			&rc.ID,
			&rc.CampaignID,
			&rc.Email,
			&rc.Name,
			&vars,
			&rc.Status,
			&rc.LastError,
			&rc.Position,
			&rc.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan recipient: %w", err)
		}
		if len(vars) > 0 {
			if err := json.Unmarshal(vars, &rc.Variables); err != nil {
				return nil, fmt.Errorf("failed to decode variables of recipient %s: %w", rc.ID, err)
			}
		}
		recipients = append(recipients, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list pending recipients: %w", err)
	}
	return recipients, nil
}

// MarkFailed moves a pending recipient to failed and records the error
func (r *RecipientRepository) MarkFailed(ctx context.Context, id, lastErr string) error {
	query := `
		UPDATE recipients
		   SET status = 'failed', last_error = $1, updated_at = $2
		 WHERE id = $3 AND status = 'pending'
	`
	result, err := r.db.ExecContext(ctx, query, lastErr, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark recipient failed: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark recipient failed: %w", err)
	}
	if rows == 0 {
		return ErrNotPending
	}
	return nil
}

// CountByStatus returns per-status recipient totals for a campaign
func (r *RecipientRepository) CountByStatus(ctx context.Context, campaignID string) (model.RecipientCounts, error) {
	query := `
		SELECT
		  COUNT(*)                                  AS total,
		  COUNT(*) FILTER (WHERE status='pending')  AS pending,
		  COUNT(*) FILTER (WHERE status='sent')     AS sent,
		  COUNT(*) FILTER (WHERE status='failed')   AS failed
		FROM recipients
		WHERE campaign_id = $1
	`
	var c model.RecipientCounts
	err := r.db.QueryRowContext(ctx, query, campaignID).Scan(&c.Total, &c.Pending, &c.Sent, &c.Failed)
	if err != nil {
		return model.RecipientCounts{}, fmt.Errorf("failed to count recipients: %w", err)
	}
	return c, nil
}

// VerifyLedger checks that the number of sent recipients of a campaign
// equals the number of ledger rows written for it
func (r *RecipientRepository) VerifyLedger(ctx context.Context, campaignID string) error {
	query := `
		SELECT
		  (SELECT COUNT(*) FROM recipients WHERE campaign_id = $1 AND status = 'sent'),
		  (SELECT COUNT(*) FROM sent_messages WHERE campaign_id = $1)
	`
	var sent, recorded int
	if err := r.db.QueryRowContext(ctx, query, campaignID).Scan(&sent, &recorded); err != nil {
		return fmt.Errorf("failed to verify ledger: %w", err)
	}
	if sent != recorded {
		return fmt.Errorf("%w: campaign %s has %d sent recipients and %d ledger rows",
			ErrLedgerMismatch, campaignID, sent, recorded)
	}
	return nil
}
