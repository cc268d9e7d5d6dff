package router

import (
	"net/http"
	"time"

	"github.com/mailpilot/mailpilot/internal/auth"
	"github.com/mailpilot/mailpilot/internal/config"
	"github.com/mailpilot/mailpilot/internal/handler"
	"github.com/mailpilot/mailpilot/internal/metrics"
	"github.com/mailpilot/mailpilot/internal/middleware"
)

// New creates and configures the HTTP router
func New(h *handler.Handler, mw *middleware.Middleware, cfg *config.Config, tokenSvc *auth.TokenService) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoints (no auth required)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/v1/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":"MailPilot API v1","version":"` + handler.Version + `"}`))
	})

	authMw := mw.Auth(tokenSvc)
	apiRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Limit:  cfg.Security.RateLimiting.DefaultLimit,
		Window: cfg.Security.RateLimiting.DefaultWindow,
		KeyFn:  middleware.UserKey,
	})
	// Starting a campaign is expensive; keep it well below the read limit.
	dispatchRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Limit:  10,
		Window: 1 * time.Minute,
		KeyFn:  middleware.UserKey,
	})

	protected := func(next http.HandlerFunc) http.Handler {
		return authMw(apiRateLimit(next))
	}

	// Campaign dispatch
	mux.Handle("POST /api/v1/campaigns/{id}/dispatch", authMw(dispatchRateLimit(http.HandlerFunc(h.StartDispatch))))
	mux.Handle("POST /api/v1/campaigns/{id}/stop", protected(h.StopDispatch))

	// Delivery ledger and quota
	mux.Handle("GET /api/v1/history", protected(h.GetHistory))
	mux.Handle("GET /api/v1/quota", protected(h.GetQuota))

	// Mail account connection
	mux.Handle("POST /api/v1/credentials", protected(h.ConnectCredential))

	// Apply middleware stack
	var handler http.Handler = mux

	handler = mw.CORS(cfg.Server.AllowedOrigins)(handler)

	// Security headers
	handler = mw.SecurityHeaders(handler)

	// Request logging
	handler = mw.Logger(handler)

	// Request ID
	handler = mw.RequestID(handler)

	// Panic recovery (outermost)
	handler = mw.Recover(handler)

	return handler
}
