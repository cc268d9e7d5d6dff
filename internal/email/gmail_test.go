package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGmailSender_Send(t *testing.T) {
	var gotRaw, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var body struct {
			Raw string `json:"raw"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotRaw = body.Raw
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg-123","threadId":"t-1"}`))
	}))
	defer srv.Close()

	sender := NewGmailSender(srv.URL + "/")
	id, err := sender.Send(context.Background(), srv.Client(), "SGVsbG8")

	require.NoError(t, err)
	assert.Equal(t, "msg-123", id)
	assert.Equal(t, "SGVsbG8", gotRaw)
	assert.Equal(t, "/gmail/v1/users/me/messages/send", gotPath)
}

func TestGmailSender_SendRejected(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		reason     string
		authFailed bool
	}{
		{name: "invalid recipient", status: http.StatusBadRequest, reason: "invalidArgument"},
		{name: "token refused", status: http.StatusUnauthorized, reason: "authError", authFailed: true},
		{name: "rate limited", status: http.StatusTooManyRequests, reason: "rateLimitExceeded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"error": map[string]interface{}{
						"code":    tt.status,
						"message": "rejected",
						"errors":  []map[string]string{{"reason": tt.reason, "message": "rejected"}},
					},
				})
			}))
			defer srv.Close()

			_, err := NewGmailSender(srv.URL+"/").Send(context.Background(), srv.Client(), "SGVsbG8")

			var se *SendError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Equal(t, tt.reason, se.Reason)
			assert.Equal(t, tt.authFailed, IsAuthError(err))
		})
	}
}

func TestGmailSender_SendHonoursDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewGmailSender(srv.URL+"/").Send(ctx, srv.Client(), "SGVsbG8")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGmailSender_RequiresClient(t *testing.T) {
	_, err := NewGmailSender("").Send(context.Background(), nil, "SGVsbG8")
	assert.Error(t, err)
}
