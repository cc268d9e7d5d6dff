package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mailpilot/mailpilot/internal/database"
	"github.com/mailpilot/mailpilot/internal/model"
)

// TokenSealer encrypts tokens before they are stored
type TokenSealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// CredentialRepository handles OAuth credential persistence
type CredentialRepository struct {
	db     *database.Postgres
	sealer TokenSealer
}

// NewCredentialRepository creates a new CredentialRepository.
// Tokens are stored as given when sealer is nil.
func NewCredentialRepository(db *database.Postgres, sealer TokenSealer) *CredentialRepository {
	return &CredentialRepository{db: db, sealer: sealer}
}

// Get retrieves the credential of a user
func (r *CredentialRepository) Get(ctx context.Context, userID string) (*model.Credential, error) {
	query := `
		SELECT user_id, email, access_token, refresh_token, token_type, scope, expires_at, updated_at
		FROM credentials
		WHERE user_id = $1
	`
	var c model.Credential
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&c.UserID,
		&c.Email,
		&c.AccessToken,
		&c.RefreshToken,
		&c.TokenType,
		&c.Scope,
		&c.ExpiresAt,
		&c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	if c.AccessToken, err = r.open(c.AccessToken); err != nil {
		return nil, err
	}
	if c.RefreshToken, err = r.open(c.RefreshToken); err != nil {
		return nil, err
	}
	return &c, nil
}

// Upsert stores a full credential, replacing any previous one for the user
func (r *CredentialRepository) Upsert(ctx context.Context, c *model.Credential) error {
	access, err := r.seal(c.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := r.seal(c.RefreshToken)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO credentials (user_id, email, access_token, refresh_token, token_type, scope,
		    expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
		    email = EXCLUDED.email,
		    access_token = EXCLUDED.access_token,
		    refresh_token = EXCLUDED.refresh_token,
		    token_type = EXCLUDED.token_type,
		    scope = EXCLUDED.scope,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = EXCLUDED.updated_at
	`
	_, err = r.db.ExecContext(ctx, query,
		c.UserID,
		c.Email,
		access,
		refresh,
		c.TokenType,
		c.Scope,
		c.ExpiresAt,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}

// UpdateAccessToken stores a refreshed access token in a single statement.
// The refresh token is replaced only when refreshToken is not empty.
func (r *CredentialRepository) UpdateAccessToken(ctx context.Context, userID, accessToken, refreshToken string, expiresAt time.Time) error {
	access, err := r.seal(accessToken)
	if err != nil {
		return err
	}
	refresh := ""
	if refreshToken != "" {
		if refresh, err = r.seal(refreshToken); err != nil {
			return err
		}
	}

	query := `
		UPDATE credentials
		   SET access_token = $1,
		       refresh_token = COALESCE(NULLIF($2, ''), refresh_token),
		       expires_at = $3,
		       updated_at = $4
		 WHERE user_id = $5
	`
	result, err := r.db.ExecContext(ctx, query, access, refresh, expiresAt, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to update access token: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update access token: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *CredentialRepository) seal(token string) (string, error) {
	if r.sealer == nil || token == "" {
		return token, nil
	}
	sealed, err := r.sealer.Seal(token)
	if err != nil {
		return "", fmt.Errorf("failed to seal token: %w", err)
	}
	return sealed, nil
}

func (r *CredentialRepository) open(token string) (string, error) {
	if r.sealer == nil || token == "" {
		return token, nil
	}
	plain, err := r.sealer.Open(token)
	if err != nil {
		return "", fmt.Errorf("failed to open token: %w", err)
	}
	return plain, nil
}
