// Package dispatch runs campaigns: it walks a campaign's pending recipients
// one at a time, personalizes and sends each message, and records the
// outcome in the delivery ledger.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/mailpilot/mailpilot/internal/config"
	"github.com/mailpilot/mailpilot/internal/credential"
	"github.com/mailpilot/mailpilot/internal/email"
	"github.com/mailpilot/mailpilot/internal/logger"
	"github.com/mailpilot/mailpilot/internal/message"
	"github.com/mailpilot/mailpilot/internal/metrics"
	"github.com/mailpilot/mailpilot/internal/model"
	"github.com/mailpilot/mailpilot/internal/quota"
	"github.com/mailpilot/mailpilot/internal/repository"
	"github.com/mailpilot/mailpilot/internal/tmpl"
)

// CampaignStore reads campaigns and moves them through their lifecycle
type CampaignStore interface {
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
	UpdateStatus(ctx context.Context, id string, status model.CampaignStatus) error
}

// RecipientStore reads pending recipients and records failures
type RecipientStore interface {
	ListPending(ctx context.Context, campaignID string) ([]model.Recipient, error)
	MarkFailed(ctx context.Context, id, lastErr string) error
	VerifyLedger(ctx context.Context, campaignID string) error
}

// Ledger records successful deliveries
type Ledger interface {
	RecordSent(ctx context.Context, recipientID string, rec *model.SentMessageRecord) error
	CountSentSince(ctx context.Context, campaignID string, since time.Time) (int, error)
}

// Credentials hands out authorized provider clients
type Credentials interface {
	AuthorizedClient(ctx context.Context, userID string) (*credential.AuthClient, error)
}

// Composer builds provider-ready messages
type Composer interface {
	Build(ctx context.Context, from, to, subject, body string, refs []model.AttachmentRef) (*message.Result, error)
}

// Deps groups the collaborators of a Dispatcher
type Deps struct {
	Campaigns   CampaignStore
	Recipients  RecipientStore
	Ledger      Ledger
	Credentials Credentials
	Composer    Composer
	Sender      email.Sender
	Quota       quota.Governor
}

// Dispatcher runs campaigns sequentially, one recipient at a time
type Dispatcher struct {
	Deps
	cfg       config.DispatchConfig
	log       *logger.Logger
	sanitizer *bluemonday.Policy
	sleep     func(ctx context.Context, d time.Duration) error
	jitter    func(lo, hi time.Duration) time.Duration
	now       func() time.Time
}

// NewDispatcher creates a new Dispatcher
func NewDispatcher(deps Deps, cfg config.DispatchConfig, log *logger.Logger) *Dispatcher {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	return &Dispatcher{
		Deps:      deps,
		cfg:       cfg,
		log:       log.WithComponent("dispatch"),
		sanitizer: bluemonday.UGCPolicy(),
		sleep:     sleepContext,
		jitter:    uniform,
		now:       time.Now,
	}
}

// outcome of a single recipient
type outcome int

const (
	outcomeSent outcome = iota
	outcomeFailed
	outcomeAbort
)

// Run dispatches every pending recipient of a campaign and returns a
// summary. Partial runs (quota exhausted, credentials revoked, cancelled)
// still return a result; the error is reserved for runs that could not
// start at all.
func (d *Dispatcher) Run(ctx context.Context, campaignID string) (*model.DispatchResult, error) {
	camp, err := d.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign: %w", err)
	}
	pending, err := d.Recipients.ListPending(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending recipients: %w", err)
	}

	log := d.log.WithCampaignID(camp.ID).WithUserID(camp.OwnerID)
	result := &model.DispatchResult{
		CampaignID: camp.ID,
		State:      model.DispatchStateCompleted,
		Total:      len(pending),
	}

	// Status writes must land even when the caller has gone away.
	bg := context.WithoutCancel(ctx)
	if err := d.Campaigns.UpdateStatus(bg, camp.ID, model.CampaignStatusRunning); err != nil {
		return nil, fmt.Errorf("failed to mark campaign running: %w", err)
	}
	metrics.ActiveCampaigns.Inc()
	defer metrics.ActiveCampaigns.Dec()

	log.Info().Int("pending", len(pending)).Msg("dispatch started")

	limit := &campaignLimit{camp: camp}
	minDelay, maxDelay := d.delayRange(camp)
	for i := range pending {
		r := &pending[i]

		if ctx.Err() != nil {
			result.State = model.DispatchStateCancelled
			break
		}
		reached, err := d.campaignLimitReached(bg, limit)
		if err != nil {
			result.State = model.DispatchStateAborted
			result.Error = err.Error()
			log.Error().Err(err).Msg("failed to count today's campaign sends")
			break
		}
		if reached {
			log.Info().Int("daily_limit", camp.DailyLimit).Msg("campaign daily limit reached")
			result.QuotaExhausted = true
			break
		}

		res, err := d.Quota.Reserve(bg, camp.OwnerID, 1)
		if err != nil {
			result.State = model.DispatchStateAborted
			result.Error = err.Error()
			log.Error().Err(err).Msg("quota reservation failed")
			break
		}
		if res.Granted == 0 {
			log.Info().Str("recipient_id", r.ID).Msg("daily quota exhausted")
			result.QuotaExhausted = true
			metrics.QuotaExhausted.Inc()
			break
		}

		if i > 0 {
			if err := d.sleep(ctx, d.jitter(minDelay, maxDelay)); err != nil {
				d.release(bg, camp.OwnerID, res.Day, log)
				result.State = model.DispatchStateCancelled
				break
			}
		}

		switch out, err := d.deliver(bg, camp, r, res.Day, log); out {
		case outcomeSent:
			result.Sent++
			limit.sent++
		case outcomeFailed:
			result.Failed++
		case outcomeAbort:
			result.State = model.DispatchStateAborted
			result.Error = err.Error()
			result.ReconnectRequired = credential.IsRevoked(err)
		}
		if result.State == model.DispatchStateAborted {
			break
		}
	}

	d.finish(bg, camp, result, log)
	return result, nil
}

// deliver handles one recipient. ctx is never cancelled by the caller; the
// provider call is bounded by the send timeout instead.
func (d *Dispatcher) deliver(ctx context.Context, camp *model.Campaign, r *model.Recipient, day string, log *logger.Logger) (outcome, error) {
	rlog := log.With().Str("recipient_id", r.ID).Str("to", r.Email).Logger()

	vars := r.TemplateVars()
	subject := tmpl.Render(camp.SubjectTemplate, vars)
	body := tmpl.Render(camp.BodyTemplate, vars)
	if missing := tmpl.Missing(camp.SubjectTemplate+"\n"+camp.BodyTemplate, vars); len(missing) > 0 {
		rlog.Warn().Strs("variables", missing).Msg("template variables left unresolved")
	}

	client, err := d.Credentials.AuthorizedClient(ctx, camp.OwnerID)
	if err != nil {
		d.release(ctx, camp.OwnerID, day, log)
		if credential.IsRevoked(err) {
			rlog.Warn().Err(err).Msg("credentials revoked, reconnect required")
		} else {
			rlog.Error().Err(err).Msg("could not obtain provider client")
		}
		return outcomeAbort, err
	}

	msg, err := d.Composer.Build(ctx, d.from(client.Email), r.Email, subject, body, camp.Attachments)
	if err != nil {
		return d.fail(ctx, camp, r, day, fmt.Errorf("failed to build message: %w", err), log)
	}
	if len(msg.Skipped) > 0 {
		metrics.AttachmentsSkipped.Add(float64(len(msg.Skipped)))
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	start := time.Now()
	providerID, err := d.Sender.Send(sendCtx, client.HTTP, msg.Raw)
	cancel()
	metrics.SendDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if email.IsAuthError(err) {
			// The provider refused a token that was just validated. Every
			// later send would fail the same way, so leave the recipient
			// pending and stop.
			d.release(ctx, camp.OwnerID, day, log)
			rlog.Warn().Err(err).Msg("provider rejected credentials, reconnect required")
			return outcomeAbort, &credential.Error{Kind: credential.Revoked, UserID: camp.OwnerID, Err: err}
		}
		return d.fail(ctx, camp, r, day, err, log)
	}

	rec := &model.SentMessageRecord{
		ID:                uuid.NewString(),
		CampaignID:        camp.ID,
		OwnerID:           camp.OwnerID,
		RecipientEmail:    r.Email,
		RecipientName:     r.Name,
		Subject:           subject,
		Body:              d.ledgerBody(body, msg.Text),
		ProviderMessageID: providerID,
		SentAt:            d.now().UTC(),
	}
	if err := d.Ledger.RecordSent(ctx, r.ID, rec); err != nil {
		// The message went out but could not be recorded. The recipient
		// stays pending and the unit stays consumed.
		rlog.Error().Err(err).Str("provider_message_id", providerID).Msg("failed to record delivery")
		return outcomeAbort, fmt.Errorf("failed to record delivery: %w", err)
	}

	metrics.MessagesSent.Inc()
	rlog.Info().
		Str("provider_message_id", providerID).
		Int("attachments", msg.Parts-1).
		Int("attachments_skipped", len(msg.Skipped)).
		Msg("message sent")
	return outcomeSent, nil
}

// fail marks a recipient failed and gives its quota unit back
func (d *Dispatcher) fail(ctx context.Context, camp *model.Campaign, r *model.Recipient, day string, cause error, log *logger.Logger) (outcome, error) {
	d.release(ctx, camp.OwnerID, day, log)
	log.Warn().Err(cause).Str("recipient_id", r.ID).Str("to", r.Email).Msg("send failed")

	if err := d.Recipients.MarkFailed(ctx, r.ID, cause.Error()); err != nil {
		if errors.Is(err, repository.ErrNotPending) {
			log.Warn().Str("recipient_id", r.ID).Msg("recipient already left pending state")
			return outcomeFailed, nil
		}
		log.Error().Err(err).Str("recipient_id", r.ID).Msg("failed to mark recipient failed")
		return outcomeAbort, fmt.Errorf("failed to mark recipient failed: %w", err)
	}
	metrics.MessagesFailed.Inc()
	return outcomeFailed, nil
}

// release gives a unit back to the day it was reserved on
func (d *Dispatcher) release(ctx context.Context, userID, day string, log *logger.Logger) {
	if err := d.Quota.Release(ctx, userID, day, 1); err != nil {
		log.Error().Err(err).Msg("failed to release quota unit")
	}
}

func (d *Dispatcher) finish(ctx context.Context, camp *model.Campaign, result *model.DispatchResult, log *logger.Logger) {
	result.Pending = result.Total - result.Sent - result.Failed

	if remaining, err := d.Quota.Remaining(ctx, camp.OwnerID); err != nil {
		log.Error().Err(err).Msg("failed to read remaining quota")
	} else {
		result.Remaining = remaining
	}

	if err := d.Campaigns.UpdateStatus(ctx, camp.ID, model.CampaignStatusCompleted); err != nil {
		log.Error().Err(err).Msg("failed to mark campaign completed")
	}

	if err := d.Recipients.VerifyLedger(ctx, camp.ID); err != nil {
		log.Error().Err(err).Msg("delivery ledger out of step with recipient statuses")
	}

	metrics.Runs.WithLabelValues(string(result.State)).Inc()
	log.Info().
		Str("state", string(result.State)).
		Int("sent", result.Sent).
		Int("failed", result.Failed).
		Int("total", result.Total).
		Int("pending", result.Pending).
		Int("remaining", result.Remaining).
		Bool("quota_exhausted", result.QuotaExhausted).
		Bool("reconnect_required", result.ReconnectRequired).
		Msg("dispatch finished")
}

// campaignLimit tracks a campaign's own daily ceiling across a run. The
// ledger count is taken once per UTC day the run touches.
type campaignLimit struct {
	camp *model.Campaign
	day  string
	base int
	sent int
}

// campaignLimitReached reports whether the campaign has used its DailyLimit
// for the current UTC day, counting sends of earlier runs on the same day.
func (d *Dispatcher) campaignLimitReached(ctx context.Context, l *campaignLimit) (bool, error) {
	if l.camp.DailyLimit <= 0 {
		return false, nil
	}
	now := d.now().UTC()
	if today := quota.Day(now); today != l.day {
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		n, err := d.Ledger.CountSentSince(ctx, l.camp.ID, start)
		if err != nil {
			return false, fmt.Errorf("failed to count campaign sends: %w", err)
		}
		l.day, l.base, l.sent = today, n, 0
	}
	return l.base+l.sent >= l.camp.DailyLimit, nil
}

func (d *Dispatcher) from(address string) string {
	if d.cfg.SenderName == "" {
		return address
	}
	return (&mail.Address{Name: d.cfg.SenderName, Address: address}).String()
}

// ledgerBody is the copy kept for the history feed. HTML bodies are kept
// as HTML, minus anything unsafe to render.
func (d *Dispatcher) ledgerBody(rendered, text string) string {
	if message.IsHTML(rendered) {
		return d.sanitizer.Sanitize(rendered)
	}
	return text
}

func (d *Dispatcher) delayRange(camp *model.Campaign) (time.Duration, time.Duration) {
	lo, hi := d.cfg.DelayMinSeconds, d.cfg.DelayMaxSeconds
	if camp.DelayMaxSeconds > 0 && camp.DelayMaxSeconds >= camp.DelayMinSeconds {
		lo, hi = camp.DelayMinSeconds, camp.DelayMaxSeconds
	}
	return time.Duration(lo) * time.Second, time.Duration(hi) * time.Second
}

func uniform(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int64N(int64(hi-lo)+1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
