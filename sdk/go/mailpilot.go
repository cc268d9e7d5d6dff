// Package mailpilot is a client for the MailPilot campaign dispatch API.
package mailpilot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config holds the configuration for the MailPilot client.
type Config struct {
	// BaseURL is the root URL of the MailPilot server.
	// Examples: "https://mail.example.com" or "https://mail.example.com/api/v1"
	// The "/api/v1" suffix is appended automatically if missing.
	BaseURL string

	// Token is the bearer access token sent with every request.
	Token string

	// HTTPClient is an optional custom HTTP client. Synchronous dispatches
	// last for a whole campaign run, so the default client has no timeout;
	// bound calls with the context instead.
	HTTPClient *http.Client
}

func (c *Config) defaults() {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	if !strings.HasSuffix(c.BaseURL, "/api/v1") {
		c.BaseURL = c.BaseURL + "/api/v1"
	}
}

// Client is the MailPilot SDK client.
type Client struct {
	cfg Config
}

// NewClient creates a new MailPilot client with the given configuration.
func NewClient(cfg Config) *Client {
	cfg.defaults()
	return &Client{cfg: cfg}
}

// StartDispatch runs a campaign and waits for its summary. When the mail
// account's authorization is revoked mid-run the partial result is returned
// together with ErrReconnectRequired.
func (c *Client) StartDispatch(ctx context.Context, campaignID string) (*DispatchResult, error) {
	status, body, err := c.do(ctx, http.MethodPost, "/campaigns/"+url.PathEscape(campaignID)+"/dispatch", nil, nil)
	if err != nil {
		return nil, err
	}

	if status == http.StatusConflict {
		var conflict dispatchConflict
		if err := json.Unmarshal(body, &conflict); err == nil && conflict.Error.Code == "reconnect_required" && conflict.Result != nil {
			return conflict.Result, ErrReconnectRequired
		}
	}
	if status >= 400 {
		return nil, statusError(status, body)
	}

	var res DispatchResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("mailpilot: failed to parse dispatch result: %w", err)
	}
	return &res, nil
}

// StartDispatchAsync starts a campaign run in the background on the server.
func (c *Client) StartDispatchAsync(ctx context.Context, campaignID string) error {
	q := url.Values{"async": {"true"}}
	_, err := c.call(ctx, http.MethodPost, "/campaigns/"+url.PathEscape(campaignID)+"/dispatch", q, nil)
	return err
}

// StopDispatch asks the server to stop a background run at the next
// recipient boundary.
func (c *Client) StopDispatch(ctx context.Context, campaignID string) error {
	_, err := c.call(ctx, http.MethodPost, "/campaigns/"+url.PathEscape(campaignID)+"/stop", nil, nil)
	return err
}

// History returns one page of the caller's delivery ledger, newest first.
func (c *Client) History(ctx context.Context, query HistoryQuery) (*HistoryPage, error) {
	q := url.Values{}
	if query.CampaignID != "" {
		q.Set("campaignId", query.CampaignID)
	}
	if query.Recipient != "" {
		q.Set("recipient", query.Recipient)
	}
	if !query.Since.IsZero() {
		q.Set("since", query.Since.UTC().Format(time.RFC3339))
	}
	if !query.Until.IsZero() {
		q.Set("until", query.Until.UTC().Format(time.RFC3339))
	}
	if query.Limit > 0 {
		q.Set("limit", strconv.Itoa(query.Limit))
	}
	if query.Offset > 0 {
		q.Set("offset", strconv.Itoa(query.Offset))
	}

	body, err := c.call(ctx, http.MethodGet, "/history", q, nil)
	if err != nil {
		return nil, err
	}

	var page HistoryPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("mailpilot: failed to parse history: %w", err)
	}
	return &page, nil
}

// Quota returns the caller's remaining sends for the current UTC day.
func (c *Client) Quota(ctx context.Context) (*Quota, error) {
	body, err := c.call(ctx, http.MethodGet, "/quota", nil, nil)
	if err != nil {
		return nil, err
	}

	var q Quota
	if err := json.Unmarshal(body, &q); err != nil {
		return nil, fmt.Errorf("mailpilot: failed to parse quota: %w", err)
	}
	return &q, nil
}

// ConnectCredential stores the mail account's OAuth token pair.
func (c *Client) ConnectCredential(ctx context.Context, req ConnectRequest) error {
	_, err := c.call(ctx, http.MethodPost, "/credentials", nil, req)
	return err
}

// call performs a request and converts error statuses into errors.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, payload interface{}) ([]byte, error) {
	status, body, err := c.do(ctx, method, path, query, payload)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, statusError(status, body)
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload interface{}) (int, []byte, error) {
	if c.cfg.Token == "" {
		return 0, nil, ErrNoToken
	}

	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("mailpilot: failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	target := c.cfg.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("mailpilot: failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("mailpilot: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("mailpilot: failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func statusError(status int, body []byte) error {
	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", ErrTokenInvalid, parseAPIError(status, body))
	case http.StatusForbidden:
		return fmt.Errorf("%w: %w", ErrForbidden, parseAPIError(status, body))
	}
	return parseAPIError(status, body)
}

