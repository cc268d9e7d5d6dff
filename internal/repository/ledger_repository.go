package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mailpilot/mailpilot/internal/database"
	"github.com/mailpilot/mailpilot/internal/model"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// LedgerRepository handles the append-only delivery ledger
type LedgerRepository struct {
	db *database.Postgres
}

// NewLedgerRepository creates a new LedgerRepository
func NewLedgerRepository(db *database.Postgres) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// RecordSent appends a ledger row and marks the recipient sent in one
// transaction. Nothing is written when the recipient is no longer pending.
func (r *LedgerRepository) RecordSent(ctx context.Context, recipientID string, rec *model.SentMessageRecord) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		insert := `
			INSERT INTO sent_messages (id, campaign_id, owner_id, recipient_email, recipient_name,
			    subject, body, provider_message_id, sent_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`
		if _, err := tx.ExecContext(ctx, insert,
			rec.ID,
			rec.CampaignID,
			rec.OwnerID,
			rec.RecipientEmail,
			rec.RecipientName,
			rec.Subject,
			rec.Body,
			rec.ProviderMessageID,
			rec.SentAt,
		); err != nil {
			return fmt.Errorf("failed to insert ledger record: %w", err)
		}

		update := `
			UPDATE recipients
			   SET status = 'sent', last_error = NULL, updated_at = $1
			 WHERE id = $2 AND status = 'pending'
		`
		result, err := tx.ExecContext(ctx, update, rec.SentAt, recipientID)
		if err != nil {
			return fmt.Errorf("failed to mark recipient sent: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to mark recipient sent: %w", err)
		}
		if rows == 0 {
			return ErrNotPending
		}
		return nil
	})
}

// CountSentSince returns how many messages of a campaign were sent at or
// after since
func (r *LedgerRepository) CountSentSince(ctx context.Context, campaignID string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM sent_messages WHERE campaign_id = $1 AND sent_at >= $2`
	var n int
	if err := r.db.QueryRowContext(ctx, query, campaignID, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sent messages: %w", err)
	}
	return n, nil
}

// History returns ledger rows of campaigns owned by ownerID, newest first
func (r *LedgerRepository) History(ctx context.Context, ownerID string, filter model.HistoryFilter) ([]model.SentMessageRecord, error) {
	var (
		conds = []string{"owner_id = $1"}
		args  = []interface{}{ownerID}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.CampaignID != "" {
		add("campaign_id = $%d", filter.CampaignID)
	}
	if filter.RecipientEmail != "" {
		add("recipient_email = $%d", filter.RecipientEmail)
	}
	if filter.Since != nil {
		add("sent_at >= $%d", *filter.Since)
	}
	if filter.Until != nil {
		add("sent_at < $%d", *filter.Until)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	query := fmt.Sprintf(`
		SELECT id, campaign_id, owner_id, recipient_email, recipient_name, subject, body,
		       provider_message_id, sent_at
		FROM sent_messages
		WHERE %s
		ORDER BY sent_at DESC, id
		LIMIT $%d OFFSET $%d
	`, strings.Join(conds, " AND "), len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query delivery history: %w", err)
	}
	defer rows.Close()

	records := []model.SentMessageRecord{}
	for rows.Next() {
		var rec model.SentMessageRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.CampaignID,
			&rec.OwnerID,
			&rec.RecipientEmail,
			&rec.RecipientName,
			&rec.Subject,
			&rec.Body,
			&rec.ProviderMessageID,
			&rec.SentAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ledger record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query delivery history: %w", err)
	}
	return records, nil
}
