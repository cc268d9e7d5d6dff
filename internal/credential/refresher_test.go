package credential

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/oauth2"

	"github.com/mailpilot/mailpilot/internal/model"
)

func toOAuth(c model.Credential) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		Expiry:       c.ExpiresAt,
	}
}

func TestClassify(t *testing.T) {
	retrieve := func(status int, code string) error {
		return &oauth2.RetrieveError{
			Response:  &http.Response{StatusCode: status},
			ErrorCode: code,
		}
	}

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"invalid grant", retrieve(http.StatusBadRequest, "invalid_grant"), Revoked},
		{"unauthorized client", retrieve(http.StatusUnauthorized, "unauthorized_client"), Revoked},
		{"server error", retrieve(http.StatusServiceUnavailable, ""), Transient},
		{"rate limited", retrieve(http.StatusTooManyRequests, ""), Transient},
		{"network", errors.New("dial tcp: connection refused"), Transient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ce *Error
			assert.True(t, errors.As(classify(tt.err), &ce))
			assert.Equal(t, tt.want, ce.Kind)
			assert.ErrorIs(t, ce, tt.err)
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "revoked", Revoked.String())
	assert.Equal(t, "transient", Transient.String())
	assert.Equal(t, "unknown", Kind(0).String())
}
