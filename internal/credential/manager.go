// Package credential produces authorized mail-provider clients for users,
// refreshing OAuth access tokens shortly before they expire.
package credential

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/mailpilot/mailpilot/internal/logger"
	"github.com/mailpilot/mailpilot/internal/model"
	"github.com/mailpilot/mailpilot/internal/repository"
)

const (
	defaultMargin       = 60 * time.Second
	defaultRetryDelay   = 500 * time.Millisecond
	defaultRefreshLimit = 30 * time.Second
)

// Store persists credentials
type Store interface {
	Get(ctx context.Context, userID string) (*model.Credential, error)
	Upsert(ctx context.Context, c *model.Credential) error
	UpdateAccessToken(ctx context.Context, userID, accessToken, refreshToken string, expiresAt time.Time) error
}

// AuthClient is an HTTP client that authenticates as the user
type AuthClient struct {
	HTTP      *http.Client
	Email     string
	ExpiresAt time.Time
}

// Manager hands out authorized clients. Concurrent refreshes for the same
// user collapse into a single provider call.
type Manager struct {
	store      Store
	refresher  Refresher
	log        *logger.Logger
	group      singleflight.Group
	margin     time.Duration
	retryDelay time.Duration
	httpClient *http.Client
	now        func() time.Time
}

// Option configures a Manager
type Option func(*Manager)

// WithSafetyMargin sets how long before expiry a token is refreshed
func WithSafetyMargin(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.margin = d
		}
	}
}

// WithRetryDelay sets the pause before retrying a transient refresh failure
func WithRetryDelay(d time.Duration) Option {
	return func(m *Manager) { m.retryDelay = d }
}

// WithHTTPClient sets the base client wrapped by authorized clients
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.httpClient = c }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a new credential Manager
func NewManager(store Store, refresher Refresher, log *logger.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		refresher:  refresher,
		log:        log.WithComponent("credential"),
		margin:     defaultMargin,
		retryDelay: defaultRetryDelay,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AuthorizedClient returns a client whose access token stays valid for at
// least the safety margin, refreshing it first when necessary.
func (m *Manager) AuthorizedClient(ctx context.Context, userID string) (*AuthClient, error) {
	cred, err := m.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !cred.NeedsRefresh(m.now(), m.margin) {
		return m.client(cred), nil
	}

	v, err, shared := m.group.Do(userID, func() (interface{}, error) {
		// The refresh outlives a single caller's cancellation since other
		// callers may be waiting on it.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultRefreshLimit)
		defer cancel()
		return m.refresh(rctx, userID)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		m.log.Debug().Str("user_id", userID).Msg("joined in-flight token refresh")
	}
	return m.client(v.(*model.Credential)), nil
}

// Connect stores a freshly granted token for userID
func (m *Manager) Connect(ctx context.Context, userID, email string, tok *oauth2.Token) error {
	if tok == nil || tok.RefreshToken == "" {
		return fmt.Errorf("%w: refresh token is required", repository.ErrInvalidInput)
	}
	tokenType := tok.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	scope, _ := tok.Extra("scope").(string)
	cred := &model.Credential{
		UserID:       userID,
		Email:        email,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tokenType,
		Scope:        scope,
		ExpiresAt:    tok.Expiry,
	}
	if err := m.store.Upsert(ctx, cred); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	m.log.AuditLog(userID, "credential.connect", "credential", userID, map[string]interface{}{"email": email})
	return nil
}

func (m *Manager) load(ctx context.Context, userID string) (*model.Credential, error) {
	cred, err := m.store.Get(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &Error{Kind: Revoked, UserID: userID, Err: ErrNotConnected}
	}
	if err != nil {
		return nil, &Error{Kind: Transient, UserID: userID, Err: err}
	}
	return cred, nil
}

func (m *Manager) refresh(ctx context.Context, userID string) (*model.Credential, error) {
	// Re-read: a refresh that finished just before this flight started has
	// already stored a fresh token.
	cred, err := m.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !cred.NeedsRefresh(m.now(), m.margin) {
		return cred, nil
	}
	if cred.RefreshToken == "" {
		return nil, &Error{Kind: Revoked, UserID: userID, Err: errors.New("no refresh token stored")}
	}

	tok, err := m.refresher.Refresh(ctx, cred.RefreshToken)
	if IsTransient(err) {
		m.log.Warn().Err(err).Str("user_id", userID).Msg("token refresh failed, retrying once")
		if werr := sleep(ctx, m.retryDelay); werr != nil {
			return nil, &Error{Kind: Transient, UserID: userID, Err: werr}
		}
		tok, err = m.refresher.Refresh(ctx, cred.RefreshToken)
	}
	if err != nil {
		var ce *Error
		if errors.As(err, &ce) {
			ce.UserID = userID
			if ce.Kind == Revoked {
				m.log.Warn().Err(err).Str("user_id", userID).Msg("refresh token revoked")
			}
			return nil, ce
		}
		return nil, &Error{Kind: Transient, UserID: userID, Err: err}
	}

	cred.AccessToken = tok.AccessToken
	cred.ExpiresAt = tok.Expiry
	if tok.TokenType != "" {
		cred.TokenType = tok.TokenType
	}
	// Providers may rotate the refresh token; an empty one keeps the old.
	rotated := ""
	if tok.RefreshToken != "" && tok.RefreshToken != cred.RefreshToken {
		rotated = tok.RefreshToken
		cred.RefreshToken = rotated
	}
	if err := m.store.UpdateAccessToken(ctx, userID, cred.AccessToken, rotated, cred.ExpiresAt); err != nil {
		return nil, &Error{Kind: Transient, UserID: userID, Err: fmt.Errorf("failed to persist refreshed token: %w", err)}
	}

	m.log.Info().
		Str("user_id", userID).
		Time("expires_at", cred.ExpiresAt).
		Bool("rotated", rotated != "").
		Msg("access token refreshed")
	return cred, nil
}

func (m *Manager) client(cred *model.Credential) *AuthClient {
	ctx := context.Background()
	if m.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: cred.AccessToken,
		TokenType:   cred.TokenType,
		Expiry:      cred.ExpiresAt,
	})
	return &AuthClient{
		HTTP:      oauth2.NewClient(ctx, src),
		Email:     cred.Email,
		ExpiresAt: cred.ExpiresAt,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
