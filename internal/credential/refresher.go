package credential

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"

	"github.com/mailpilot/mailpilot/internal/config"
)

// Refresher exchanges a refresh token for a new access token
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// GoogleRefresher refreshes tokens against Google's OAuth endpoint
type GoogleRefresher struct {
	config     *oauth2.Config
	httpClient *http.Client
}

// NewGoogleRefresher creates a GoogleRefresher from the OAuth client config
func NewGoogleRefresher(cfg config.GoogleConfig, httpClient *http.Client) *GoogleRefresher {
	endpoint := google.Endpoint
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{gmail.GmailSendScope}
	}
	return &GoogleRefresher{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		httpClient: httpClient,
	}
}

// Refresh performs one refresh-token grant. Failures are classified as
// Revoked or Transient.
func (r *GoogleRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if r.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	}
	// An expired token forces the source to hit the endpoint.
	src := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, classify(err)
	}
	return tok, nil
}

func classify(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "invalid_grant" {
			return &Error{Kind: Revoked, Err: err}
		}
		if re.Response != nil && re.Response.StatusCode >= 500 {
			return &Error{Kind: Transient, Err: err}
		}
		if re.Response != nil && (re.Response.StatusCode == http.StatusBadRequest ||
			re.Response.StatusCode == http.StatusUnauthorized) {
			return &Error{Kind: Revoked, Err: err}
		}
	}
	return &Error{Kind: Transient, Err: err}
}
