package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mailpilot/mailpilot/internal/logger"
)

// ResumableLister finds campaigns that still have pending recipients
type ResumableLister interface {
	ListResumable(ctx context.Context) ([]string, error)
}

// Scheduler periodically resumes campaigns left with pending recipients,
// typically after the daily quota resets.
type Scheduler struct {
	cron     *cron.Cron
	lister   ResumableLister
	registry *Registry
	log      *logger.Logger
	ctx      context.Context
}

// NewScheduler registers the resume job on spec, evaluated in UTC
func NewScheduler(ctx context.Context, spec string, lister ResumableLister, registry *Registry, log *logger.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:     cron.New(cron.WithLocation(time.UTC)),
		lister:   lister,
		registry: registry,
		log:      log.WithComponent("dispatch_scheduler"),
		ctx:      ctx,
	}
	if _, err := s.cron.AddFunc(spec, func() { s.ResumeAll(s.ctx) }); err != nil {
		return nil, fmt.Errorf("invalid resume schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins running the schedule in the background
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and returns a context done once a running job ends
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// ResumeAll starts every resumable campaign that is not already running and
// returns how many were started.
func (s *Scheduler) ResumeAll(ctx context.Context) int {
	ids, err := s.lister.ListResumable(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list resumable campaigns")
		return 0
	}

	started := 0
	for _, id := range ids {
		err := s.registry.Start(ctx, id)
		switch {
		case err == nil:
			started++
		case errors.Is(err, ErrAlreadyRunning):
			s.log.Debug().Str("campaign_id", id).Msg("campaign already running, not resuming")
		default:
			s.log.Error().Err(err).Str("campaign_id", id).Msg("failed to resume campaign")
		}
	}
	if len(ids) > 0 {
		s.log.Info().Int("resumable", len(ids)).Int("started", started).Msg("resumed campaigns")
	}
	return started
}
