package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mailpilot/mailpilot/internal/attachment"
	"github.com/mailpilot/mailpilot/internal/config"
	"github.com/mailpilot/mailpilot/internal/credential"
	"github.com/mailpilot/mailpilot/internal/logger"
	"github.com/mailpilot/mailpilot/internal/message"
	"github.com/mailpilot/mailpilot/internal/model"
	"github.com/mailpilot/mailpilot/internal/quota"
	"github.com/mailpilot/mailpilot/internal/repository"
)

type fakeCampaigns struct {
	mu       sync.Mutex
	campaign model.Campaign
	statuses []model.CampaignStatus
}

func (f *fakeCampaigns) GetByID(_ context.Context, id string) (*model.Campaign, error) {
	if id != f.campaign.ID {
		return nil, repository.ErrNotFound
	}
	c := f.campaign
	return &c, nil
}

func (f *fakeCampaigns) UpdateStatus(_ context.Context, _ string, status model.CampaignStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeCampaigns) ListResumable(context.Context) ([]string, error) {
	return []string{f.campaign.ID}, nil
}

type fakeRecipients struct {
	mu         sync.Mutex
	recipients []model.Recipient
	failed     map[string]string
}

func (f *fakeRecipients) ListPending(_ context.Context, _ string) ([]model.Recipient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Recipient
	for _, r := range f.recipients {
		if r.Status == model.RecipientStatusPending {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRecipients) MarkFailed(_ context.Context, id, lastErr string) error {
	return f.set(id, model.RecipientStatusFailed, lastErr)
}

func (f *fakeRecipients) VerifyLedger(context.Context, string) error {
	return nil
}

func (f *fakeRecipients) set(id string, status model.RecipientStatus, lastErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.recipients {
		if f.recipients[i].ID != id {
			continue
		}
		if f.recipients[i].Status != model.RecipientStatusPending {
			return repository.ErrNotPending
		}
		f.recipients[i].Status = status
		if status == model.RecipientStatusFailed {
			if f.failed == nil {
				f.failed = map[string]string{}
			}
			f.failed[id] = lastErr
		}
		return nil
	}
	return repository.ErrNotFound
}

func (f *fakeRecipients) countStatus(status model.RecipientStatus) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.recipients {
		if r.Status == status {
			n++
		}
	}
	return n
}

type fakeLedger struct {
	mu         sync.Mutex
	recipients *fakeRecipients
	records    []model.SentMessageRecord
}

func (f *fakeLedger) RecordSent(_ context.Context, recipientID string, rec *model.SentMessageRecord) error {
	if err := f.recipients.set(recipientID, model.RecipientStatusSent, ""); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, *rec)
	return nil
}

func (f *fakeLedger) CountSentSince(_ context.Context, campaignID string, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, rec := range f.records {
		if rec.CampaignID == campaignID && !rec.SentAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// fakeCredentials fails with err from call number failFrom (1-based) on.
type fakeCredentials struct {
	mu       sync.Mutex
	calls    int
	failFrom int
	err      error
}

func (f *fakeCredentials) AuthorizedClient(_ context.Context, userID string) (*credential.AuthClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failFrom > 0 && f.calls >= f.failFrom {
		return nil, f.err
	}
	return &credential.AuthClient{
		HTTP:      http.DefaultClient,
		Email:     "owner@example.com",
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil
}

// fakeSender returns errs[i] for the i-th call (nil when out of range).
type fakeSender struct {
	mu    sync.Mutex
	raws  []string
	errs  []error
	block bool
}

func (f *fakeSender) Send(ctx context.Context, _ *http.Client, raw string) (string, error) {
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.raws)
	f.raws = append(f.raws, raw)
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	return fmt.Sprintf("gmail-%d", i+1), nil
}

func (f *fakeSender) sent(t *testing.T) []*mail.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*mail.Message, 0, len(f.raws))
	for _, raw := range f.raws {
		data, err := message.Decode(raw)
		if err != nil {
			t.Fatalf("decode raw message: %v", err)
		}
		msg, err := mail.ReadMessage(strings.NewReader(string(data)))
		if err != nil {
			t.Fatalf("parse raw message: %v", err)
		}
		out = append(out, msg)
	}
	return out
}

type memReader map[string][]byte

func (m memReader) ReadBytes(_ context.Context, path string) ([]byte, error) {
	data, ok := m[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", attachment.ErrNotFound, path)
	}
	return data, nil
}

type harness struct {
	campaigns   *fakeCampaigns
	recipients  *fakeRecipients
	ledger      *fakeLedger
	credentials *fakeCredentials
	sender      *fakeSender
	quota       *quota.MemoryGovernor
	files       memReader
	sleeps      []time.Duration
	onSleep     func(n int)
	dispatcher  *Dispatcher
}

func newHarness(t *testing.T, n, limit int) *harness {
	t.Helper()

	h := &harness{
		campaigns: &fakeCampaigns{campaign: model.Campaign{
			ID:              "camp-1",
			OwnerID:         "user-1",
			Name:            "Launch",
			SubjectTemplate: "Hello {{name}}",
			BodyTemplate:    "Hi {{name}}, welcome aboard.",
			Status:          model.CampaignStatusDraft,
		}},
		recipients:  &fakeRecipients{},
		credentials: &fakeCredentials{},
		sender:      &fakeSender{},
		quota:       quota.NewMemoryGovernor(limit),
		files:       memReader{},
	}
	for i := 0; i < n; i++ {
		h.recipients.recipients = append(h.recipients.recipients, model.Recipient{
			ID:         fmt.Sprintf("rcpt-%d", i+1),
			CampaignID: "camp-1",
			Email:      fmt.Sprintf("person%d@example.com", i+1),
			Name:       fmt.Sprintf("Person %d", i+1),
			Status:     model.RecipientStatusPending,
			Position:   i,
		})
	}
	h.ledger = &fakeLedger{recipients: h.recipients}

	h.dispatcher = NewDispatcher(Deps{
		Campaigns:   h.campaigns,
		Recipients:  h.recipients,
		Ledger:      h.ledger,
		Credentials: h.credentials,
		Composer:    message.NewComposer(h.files, logger.Nop()),
		Sender:      h.sender,
		Quota:       h.quota,
	}, config.DispatchConfig{
		SendTimeout:     time.Second,
		DelayMinSeconds: 30,
		DelayMaxSeconds: 90,
	}, logger.Nop())

	h.dispatcher.jitter = func(lo, hi time.Duration) time.Duration { return hi }
	h.dispatcher.sleep = func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		if h.onSleep != nil {
			h.onSleep(len(h.sleeps))
		}
		return ctx.Err()
	}
	return h
}
