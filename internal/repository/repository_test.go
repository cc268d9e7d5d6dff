package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailpilot/mailpilot/internal/database"
	"github.com/mailpilot/mailpilot/internal/model"
)

func newMock(t *testing.T) (*database.Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return &database.Postgres{DB: db}, mock
}

var (
	campaignCols  = []string{"id", "owner_id", "name", "subject_template", "body_template", "status", "daily_limit", "delay_min_seconds", "delay_max_seconds", "attachments", "created_at", "updated_at"}
	recipientCols = []string{"id", "campaign_id", "email", "name", "variables", "status", "last_error", "position", "updated_at"}
	ledgerCols    = []string{"id", "campaign_id", "owner_id", "recipient_email", "recipient_name", "subject", "body", "provider_message_id", "sent_at"}
	credCols      = []string{"user_id", "email", "access_token", "refresh_token", "token_type", "scope", "expires_at", "updated_at"}
)

func TestCampaignRepository_GetByID(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCampaignRepository(db)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`(?s)SELECT .+ FROM campaigns\s+WHERE id = \$1`).
		WithArgs("camp-1").
		WillReturnRows(sqlmock.NewRows(campaignCols).AddRow(
			"camp-1", "user-1", "Spring", "Hi {{name}}", "Body", "draft", 0, 30, 90,
			`[{"filename":"deck.pdf","sizeBytes":10,"storagePath":"u/deck.pdf"}]`, now, now,
		))

	c, err := repo.GetByID(context.Background(), "camp-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", c.OwnerID)
	assert.Equal(t, model.CampaignStatusDraft, c.Status)
	require.Len(t, c.Attachments, 1)
	assert.Equal(t, "u/deck.pdf", c.Attachments[0].StoragePath)
}

func TestCampaignRepository_GetByID_NotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCampaignRepository(db)

	mock.ExpectQuery(`(?s)SELECT .+ FROM campaigns`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCampaignRepository_UpdateStatus(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCampaignRepository(db)

	mock.ExpectExec(`UPDATE campaigns SET status = \$1`).
		WithArgs(model.CampaignStatusRunning, sqlmock.AnyArg(), "camp-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE campaigns SET status = \$1`).
		WithArgs(model.CampaignStatusCompleted, sqlmock.AnyArg(), "gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.UpdateStatus(context.Background(), "camp-1", model.CampaignStatusRunning))
	assert.ErrorIs(t, repo.UpdateStatus(context.Background(), "gone", model.CampaignStatusCompleted), ErrNotFound)
}

func TestCampaignRepository_ListResumable(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCampaignRepository(db)

	mock.ExpectQuery(`SELECT c.id\s+FROM campaigns c`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("a").AddRow("b"))

	ids, err := repo.ListResumable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestRecipientRepository_ListPending(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRecipientRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM recipients\s+WHERE campaign_id = \$1 AND status = 'pending'\s+ORDER BY position`).
		WithArgs("camp-1").
		WillReturnRows(sqlmock.NewRows(recipientCols).
			AddRow("r1", "camp-1", "ana@example.com", "Ana", `{"company":"Acme"}`, "pending", nil, 0, now).
			AddRow("r2", "camp-1", "bo@example.com", "", nil, "pending", nil, 1, now))

	got, err := repo.ListPending(context.Background(), "camp-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Acme", got[0].Variables["company"])
	assert.Nil(t, got[1].Variables)
	assert.Equal(t, model.RecipientStatusPending, got[1].Status)
}

func TestRecipientRepository_ListPending_BadVariables(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRecipientRepository(db)

	mock.ExpectQuery(`FROM recipients`).
		WithArgs("camp-1").
		WillReturnRows(sqlmock.NewRows(recipientCols).
			AddRow("r1", "camp-1", "ana@example.com", "Ana", `{not json`, "pending", nil, 0, time.Now()))

	_, err := repo.ListPending(context.Background(), "camp-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "r1")
}

func TestRecipientRepository_MarkFailed(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRecipientRepository(db)

	mock.ExpectExec(`UPDATE recipients\s+SET status = 'failed'`).
		WithArgs("boom", sqlmock.AnyArg(), "r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE recipients\s+SET status = 'failed'`).
		WithArgs("boom", sqlmock.AnyArg(), "r2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.MarkFailed(context.Background(), "r1", "boom"))
	assert.ErrorIs(t, repo.MarkFailed(context.Background(), "r2", "boom"), ErrNotPending)
}

func TestRecipientRepository_CountByStatus(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRecipientRepository(db)

	mock.ExpectQuery(`COUNT\(\*\)`).
		WithArgs("camp-1").
		WillReturnRows(sqlmock.NewRows([]string{"total", "pending", "sent", "failed"}).AddRow(5, 3, 1, 1))

	c, err := repo.CountByStatus(context.Background(), "camp-1")
	require.NoError(t, err)
	assert.Equal(t, model.RecipientCounts{Total: 5, Pending: 3, Sent: 1, Failed: 1}, c)
}

func TestRecipientRepository_VerifyLedger(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRecipientRepository(db)

	mock.ExpectQuery(`FROM sent_messages`).
		WithArgs("ok").
		WillReturnRows(sqlmock.NewRows([]string{"sent", "recorded"}).AddRow(2, 2))
	mock.ExpectQuery(`FROM sent_messages`).
		WithArgs("bad").
		WillReturnRows(sqlmock.NewRows([]string{"sent", "recorded"}).AddRow(2, 1))

	require.NoError(t, repo.VerifyLedger(context.Background(), "ok"))
	assert.ErrorIs(t, repo.VerifyLedger(context.Background(), "bad"), ErrLedgerMismatch)
}

func sentRecord() *model.SentMessageRecord {
	return &model.SentMessageRecord{
		ID:                "m1",
		CampaignID:        "camp-1",
		OwnerID:           "user-1",
		RecipientEmail:    "ana@example.com",
		RecipientName:     "Ana",
		Subject:           "Hi Ana",
		Body:              "Hello",
		ProviderMessageID: "gm-1",
		SentAt:            time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestLedgerRepository_RecordSent(t *testing.T) {
	db, mock := newMock(t)
	repo := NewLedgerRepository(db)
	rec := sentRecord()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO sent_messages`).
		WithArgs(rec.ID, rec.CampaignID, rec.OwnerID, rec.RecipientEmail, rec.RecipientName,
			rec.Subject, rec.Body, rec.ProviderMessageID, rec.SentAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE recipients\s+SET status = 'sent'`).
		WithArgs(rec.SentAt, "r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.RecordSent(context.Background(), "r1", rec))
}

func TestLedgerRepository_RecordSent_NotPendingRollsBack(t *testing.T) {
	db, mock := newMock(t)
	repo := NewLedgerRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO sent_messages`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE recipients`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.RecordSent(context.Background(), "r1", sentRecord())
	assert.ErrorIs(t, err, ErrNotPending)
}

func TestLedgerRepository_RecordSent_InsertError(t *testing.T) {
	db, mock := newMock(t)
	repo := NewLedgerRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO sent_messages`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.RecordSent(context.Background(), "r1", sentRecord())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestLedgerRepository_CountSentSince(t *testing.T) {
	db, mock := newMock(t)
	repo := NewLedgerRepository(db)
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM sent_messages WHERE campaign_id = \$1 AND sent_at >= \$2`).
		WithArgs("camp-1", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := repo.CountSentSince(context.Background(), "camp-1", since)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestLedgerRepository_History(t *testing.T) {
	db, mock := newMock(t)
	repo := NewLedgerRepository(db)
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rec := sentRecord()

	mock.ExpectQuery(`WHERE owner_id = \$1 AND campaign_id = \$2 AND sent_at >= \$3\s+ORDER BY sent_at DESC, id\s+LIMIT \$4 OFFSET \$5`).
		WithArgs("user-1", "camp-1", since, maxHistoryLimit, 0).
		WillReturnRows(sqlmock.NewRows(ledgerCols).AddRow(
			rec.ID, rec.CampaignID, rec.OwnerID, rec.RecipientEmail, rec.RecipientName,
			rec.Subject, rec.Body, rec.ProviderMessageID, rec.SentAt,
		))

	got, err := repo.History(context.Background(), "user-1", model.HistoryFilter{
		CampaignID: "camp-1",
		Since:      &since,
		Limit:      10000,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, *rec, got[0])
}

func TestLedgerRepository_History_Empty(t *testing.T) {
	db, mock := newMock(t)
	repo := NewLedgerRepository(db)

	mock.ExpectQuery(`WHERE owner_id = \$1\s+ORDER BY`).
		WithArgs("user-1", defaultHistoryLimit, 0).
		WillReturnRows(sqlmock.NewRows(ledgerCols))

	got, err := repo.History(context.Background(), "user-1", model.HistoryFilter{})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

// reverseSealer stands in for the secret box so sealed values are visible
type reverseSealer struct{}

func (reverseSealer) Seal(s string) (string, error) { return "sealed:" + s, nil }

func (reverseSealer) Open(s string) (string, error) {
	if !strings.HasPrefix(s, "sealed:") {
		return "", errors.New("not sealed")
	}
	return strings.TrimPrefix(s, "sealed:"), nil
}

func TestCredentialRepository_GetOpensTokens(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCredentialRepository(db, reverseSealer{})
	exp := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM credentials\s+WHERE user_id = \$1`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(credCols).AddRow(
			"user-1", "me@example.com", "sealed:at", "sealed:rt", "Bearer", "", exp, exp,
		))

	c, err := repo.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "at", c.AccessToken)
	assert.Equal(t, "rt", c.RefreshToken)
	assert.Equal(t, exp, c.ExpiresAt)
}

func TestCredentialRepository_GetNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCredentialRepository(db, nil)

	mock.ExpectQuery(`FROM credentials`).WithArgs("nobody").WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCredentialRepository_GetCorruptToken(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCredentialRepository(db, reverseSealer{})

	mock.ExpectQuery(`FROM credentials`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(credCols).AddRow(
			"user-1", "me@example.com", "plain", "sealed:rt", "Bearer", "", time.Now(), time.Now(),
		))

	_, err := repo.Get(context.Background(), "user-1")
	assert.Error(t, err)
}

func TestCredentialRepository_UpsertSealsTokens(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCredentialRepository(db, reverseSealer{})
	exp := time.Now().Add(time.Hour).UTC()

	mock.ExpectExec(`(?s)INSERT INTO credentials .+ ON CONFLICT \(user_id\) DO UPDATE`).
		WithArgs("user-1", "me@example.com", "sealed:at", "sealed:rt", "Bearer", "", exp, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Upsert(context.Background(), &model.Credential{
		UserID:       "user-1",
		Email:        "me@example.com",
		AccessToken:  "at",
		RefreshToken: "rt",
		TokenType:    "Bearer",
		ExpiresAt:    exp,
	})
	require.NoError(t, err)
}

func TestCredentialRepository_UpdateAccessToken(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCredentialRepository(db, reverseSealer{})
	exp := time.Now().Add(time.Hour).UTC()

	// a refresh that does not rotate the refresh token passes an empty value
	mock.ExpectExec(`UPDATE credentials`).
		WithArgs("sealed:at2", "", exp, sqlmock.AnyArg(), "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE credentials`).
		WithArgs("sealed:at3", "sealed:rt2", exp, sqlmock.AnyArg(), "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE credentials`).
		WithArgs("sealed:at4", "", exp, sqlmock.AnyArg(), "gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	require.NoError(t, repo.UpdateAccessToken(ctx, "user-1", "at2", "", exp))
	require.NoError(t, repo.UpdateAccessToken(ctx, "user-1", "at3", "rt2", exp))
	assert.ErrorIs(t, repo.UpdateAccessToken(ctx, "gone", "at4", "", exp), ErrNotFound)
}
