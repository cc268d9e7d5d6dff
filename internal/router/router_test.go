package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/mailpilot/mailpilot/internal/auth"
	"github.com/mailpilot/mailpilot/internal/config"
	"github.com/mailpilot/mailpilot/internal/handler"
	"github.com/mailpilot/mailpilot/internal/logger"
	"github.com/mailpilot/mailpilot/internal/middleware"
	"github.com/mailpilot/mailpilot/internal/model"
	"github.com/mailpilot/mailpilot/internal/quota"
	"github.com/mailpilot/mailpilot/internal/service"
)

type okChecker struct{}

func (okChecker) HealthCheck(context.Context) error { return nil }

type noCampaigns struct{}

func (noCampaigns) GetByID(context.Context, string) (*model.Campaign, error) {
	return &model.Campaign{ID: "camp-1", OwnerID: "user-1"}, nil
}

type noHistory struct{}

func (noHistory) History(context.Context, string, model.HistoryFilter) ([]model.SentMessageRecord, error) {
	return []model.SentMessageRecord{}, nil
}

type noRuns struct{}

func (noRuns) Run(context.Context, string) (*model.DispatchResult, error) {
	return &model.DispatchResult{}, nil
}
func (noRuns) Start(context.Context, string) error { return nil }
func (noRuns) Stop(string) error                   { return nil }

type noConnector struct{}

func (noConnector) Connect(context.Context, string, string, *oauth2.Token) error { return nil }

func newTestRouter(t *testing.T) (http.Handler, *auth.TokenService) {
	t.Helper()

	cfg := &config.Config{}
	cfg.Security.JWTSecret = "secret"
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000"}

	tokens, err := auth.NewTokenService(cfg.Security)
	require.NoError(t, err)

	svc := service.NewDispatchService(noCampaigns{}, noHistory{}, noRuns{}, quota.NewMemoryGovernor(500), noConnector{}, logger.Nop())
	h := handler.New(okChecker{}, nil, logger.Nop(), cfg, svc)
	mw := middleware.New(nil, logger.Nop(), cfg)
	return New(h, mw, cfg, tokens), tokens
}

func TestRouter(t *testing.T) {
	r, tokens := newTestRouter(t)
	tok, err := tokens.IssueAccessToken("user-1", "", time.Minute)
	require.NoError(t, err)

	tests := []struct {
		method, path string
		auth         bool
		status       int
	}{
		{http.MethodGet, "/health", false, http.StatusOK},
		{http.MethodGet, "/metrics", false, http.StatusOK},
		{http.MethodGet, "/api/v1/quota", false, http.StatusUnauthorized},
		{http.MethodGet, "/api/v1/quota", true, http.StatusOK},
		{http.MethodGet, "/api/v1/history", true, http.StatusOK},
		{http.MethodPost, "/api/v1/campaigns/camp-1/dispatch", true, http.StatusOK},
		{http.MethodPost, "/api/v1/campaigns/camp-1/stop", true, http.StatusAccepted},
		{http.MethodGet, "/api/v1/campaigns/camp-1/dispatch", true, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.auth {
				req.Header.Set("Authorization", "Bearer "+tok)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
			assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
		})
	}
}
