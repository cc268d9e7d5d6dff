package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mailpilot/mailpilot/internal/database"
	"github.com/mailpilot/mailpilot/internal/model"
)

// CampaignRepository handles campaign persistence
type CampaignRepository struct {
	db *database.Postgres
}

// NewCampaignRepository creates a new CampaignRepository
func NewCampaignRepository(db *database.Postgres) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// GetByID retrieves a campaign by ID
func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	query := `
		SELECT id, owner_id, name, subject_template, body_template, status, daily_limit,
		       delay_min_seconds, delay_max_seconds, attachments, created_at, updated_at
		FROM campaigns
		WHERE id = $1
	`
	var (
		c           model.Campaign
		attachments []byte
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID,
		&c.OwnerID,
		&c.Name,
		&c.SubjectTemplate,
		&c.BodyTemplate,
		&c.Status,
		&c.DailyLimit,
		&c.DelayMinSeconds,
		&c.DelayMaxSeconds,
		&attachments,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &c.Attachments); err != nil {
			return nil, fmt.Errorf("failed to decode campaign attachments: %w", err)
		}
	}
	return &c, nil
}

// UpdateStatus sets the campaign status
func (r *CampaignRepository) UpdateStatus(ctx context.Context, id string, status model.CampaignStatus) error {
	query := `UPDATE campaigns SET status = $1, updated_at = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update campaign status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update campaign status: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListResumable returns the IDs of non-draft campaigns that still have
// pending recipients
func (r *CampaignRepository) ListResumable(ctx context.Context) ([]string, error) {
	query := `
		SELECT c.id
		FROM campaigns c
		WHERE c.status <> 'draft'
		  AND EXISTS (
		      SELECT 1 FROM recipients rc
		      WHERE rc.campaign_id = c.id AND rc.status = 'pending'
		  )
		ORDER BY c.updated_at
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list resumable campaigns: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan campaign id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list resumable campaigns: %w", err)
	}
	return ids, nil
}
