package middleware

import (
	"context"
	"time"

	"github.com/mailpilot/mailpilot/internal/config"
	"github.com/mailpilot/mailpilot/internal/logger"
)

// CounterStore backs the fixed-window rate limiter
type CounterStore interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// Middleware holds all HTTP middleware
type Middleware struct {
	rdb CounterStore
	log *logger.Logger
	cfg *config.Config
}

// New creates a new Middleware instance. rdb may be nil, which disables
// rate limiting.
func New(rdb CounterStore, log *logger.Logger, cfg *config.Config) *Middleware {
	return &Middleware{
		rdb: rdb,
		log: log,
		cfg: cfg,
	}
}
