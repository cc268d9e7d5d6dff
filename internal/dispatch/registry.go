package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mailpilot/mailpilot/internal/logger"
	"github.com/mailpilot/mailpilot/internal/model"
)

var (
	// ErrAlreadyRunning is returned when a campaign is already dispatching
	// in this or another process.
	ErrAlreadyRunning = errors.New("dispatch: campaign is already running")
	// ErrNotRunning is returned when no run is known for a campaign
	ErrNotRunning = errors.New("dispatch: campaign is not running")
)

// Runner executes one campaign run
type Runner interface {
	Run(ctx context.Context, campaignID string) (*model.DispatchResult, error)
}

// Locker provides a lock shared between processes
type Locker interface {
	AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	ExtendLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

type run struct {
	cancel context.CancelFunc
	done   chan struct{}
	result *model.DispatchResult
	err    error
}

// Registry tracks campaign runs. A campaign runs at most once at a time;
// different campaigns run concurrently.
type Registry struct {
	runner  Runner
	locker  Locker
	lockTTL time.Duration
	log     *logger.Logger

	mu   sync.Mutex
	runs map[string]*run
}

// NewRegistry creates a Registry. locker may be nil for single-process use.
func NewRegistry(runner Runner, locker Locker, lockTTL time.Duration, log *logger.Logger) *Registry {
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	return &Registry{
		runner:  runner,
		locker:  locker,
		lockTTL: lockTTL,
		log:     log.WithComponent("dispatch_registry"),
		runs:    make(map[string]*run),
	}
}

func lockKey(campaignID string) string {
	return "dispatch:lock:" + campaignID
}

// Start launches a run of campaignID in the background. The run stops when
// ctx is cancelled, Stop is called or the registry shuts down.
func (r *Registry) Start(ctx context.Context, campaignID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.runs[campaignID]; ok && !isDone(cur) {
		return ErrAlreadyRunning
	}

	token := uuid.NewString()
	if r.locker != nil {
		ok, err := r.locker.AcquireLock(ctx, lockKey(campaignID), token, r.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to lock campaign: %w", err)
		}
		if !ok {
			return ErrAlreadyRunning
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	cur := &run{cancel: cancel, done: make(chan struct{})}
	r.runs[campaignID] = cur

	go func() {
		defer close(cur.done)
		defer cancel()

		var renewed chan struct{}
		if r.locker != nil {
			renewed = make(chan struct{})
			go func() {
				defer close(renewed)
				r.keepLock(runCtx, cancel, campaignID, token)
			}()
		}

		cur.result, cur.err = r.runner.Run(runCtx, campaignID)
		if cur.err != nil {
			r.log.Error().Err(cur.err).Str("campaign_id", campaignID).Msg("campaign run failed")
		}

		if r.locker != nil {
			cancel()
			<-renewed
			if err := r.locker.ReleaseLock(context.WithoutCancel(ctx), lockKey(campaignID), token); err != nil {
				r.log.Error().Err(err).Str("campaign_id", campaignID).Msg("failed to release campaign lock")
			}
		}
	}()

	return nil
}

// keepLock renews the campaign lock every third of its TTL until ctx is
// done. Losing the lock cancels the run.
func (r *Registry) keepLock(ctx context.Context, cancel context.CancelFunc, campaignID, token string) {
	ticker := time.NewTicker(r.renewEvery())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		ok, err := r.locker.ExtendLock(ctx, lockKey(campaignID), token, r.lockTTL)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// transient; the next tick retries while the TTL still covers us
			r.log.Warn().Err(err).Str("campaign_id", campaignID).Msg("failed to renew campaign lock")
			continue
		}
		if !ok {
			r.log.Error().Str("campaign_id", campaignID).Msg("campaign lock lost, stopping run")
			cancel()
			return
		}
	}
}

func (r *Registry) renewEvery() time.Duration {
	if every := r.lockTTL / 3; every > 0 {
		return every
	}
	return time.Millisecond
}

// Run starts campaignID and waits for it to finish
func (r *Registry) Run(ctx context.Context, campaignID string) (*model.DispatchResult, error) {
	if err := r.Start(ctx, campaignID); err != nil {
		return nil, err
	}
	return r.Wait(context.WithoutCancel(ctx), campaignID)
}

// Stop asks a running campaign to stop at its next recipient boundary
func (r *Registry) Stop(campaignID string) error {
	r.mu.Lock()
	cur, ok := r.runs[campaignID]
	r.mu.Unlock()

	if !ok || isDone(cur) {
		return ErrNotRunning
	}
	cur.cancel()
	return nil
}

// Wait blocks until the latest run of campaignID finishes and returns its
// result.
func (r *Registry) Wait(ctx context.Context, campaignID string) (*model.DispatchResult, error) {
	r.mu.Lock()
	cur, ok := r.runs[campaignID]
	r.mu.Unlock()

	if !ok {
		return nil, ErrNotRunning
	}
	select {
	case <-cur.done:
		return cur.result, cur.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Active returns the IDs of campaigns currently running
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.runs))
	for id, cur := range r.runs {
		if !isDone(cur) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Shutdown stops every run and waits for them to reach a boundary
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	runs := make([]*run, 0, len(r.runs))
	for _, cur := range r.runs {
		runs = append(runs, cur)
	}
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, cur := range runs {
		cur.cancel()
		g.Go(func() error {
			select {
			case <-cur.done:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	return g.Wait()
}

func isDone(cur *run) bool {
	select {
	case <-cur.done:
		return true
	default:
		return false
	}
}
