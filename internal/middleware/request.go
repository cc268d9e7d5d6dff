package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mailpilot/mailpilot/internal/logger"
)

type contextKey string

const maxRequestIDLen = 128

const (
	RequestIDKey contextKey = "request_id"
	traceKey     contextKey = "request_trace"
)

// trace is shared by every layer handling one request. Inner layers record
// what they learn (user, campaign) so outer layers can log it after the
// request has unwound.
type trace struct {
	start time.Time

	mu         sync.Mutex
	requestID  string
	userID     string
	campaignID string
}

// withTrace returns r carrying a trace, reusing one set by an outer layer
func withTrace(r *http.Request) (*http.Request, *trace) {
	if t, ok := r.Context().Value(traceKey).(*trace); ok {
		return r, t
	}
	t := &trace{start: time.Now()}
	return r.WithContext(context.WithValue(r.Context(), traceKey, t)), t
}

func traceFrom(ctx context.Context) *trace {
	t, _ := ctx.Value(traceKey).(*trace)
	return t
}

func (t *trace) setRequestID(id string) {
	t.mu.Lock()
	t.requestID = id
	t.mu.Unlock()
}

func (t *trace) setCaller(userID, campaignID string) {
	t.mu.Lock()
	t.userID, t.campaignID = userID, campaignID
	t.mu.Unlock()
}

// logger returns log with whatever the request has revealed so far
func (t *trace) logger(log *logger.Logger) *logger.Logger {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.requestID != "" {
		log = log.WithRequestID(t.requestID)
	}
	if t.userID != "" {
		log = log.WithUserID(t.userID)
	}
	if t.campaignID != "" {
		log = log.WithCampaignID(t.campaignID)
	}
	return log
}

// RequestID adds a unique request ID to each request
func (m *Middleware) RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Reuse a caller-supplied ID when it is reasonably sized
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" || len(requestID) > maxRequestIDLen {
			requestID = uuid.New().String()
		}

		r, t := withTrace(r)
		t.setRequestID(requestID)

		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
