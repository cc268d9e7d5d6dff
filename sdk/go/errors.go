package mailpilot

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors returned by the SDK.
var (
	// ErrNoToken is returned when the client has no access token configured.
	ErrNoToken = errors.New("mailpilot: no access token configured")

	// ErrTokenInvalid is returned when the access token is invalid or expired.
	ErrTokenInvalid = errors.New("mailpilot: token is invalid or expired")

	// ErrForbidden is returned when the campaign belongs to another user.
	ErrForbidden = errors.New("mailpilot: access forbidden")

	// ErrReconnectRequired is returned with a partial result when the mail
	// account's authorization was revoked mid-run.
	ErrReconnectRequired = errors.New("mailpilot: mail account must be reconnected")
)

// APIError represents an error response from the MailPilot API.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mailpilot: API error %d [%s]: %s", e.StatusCode, e.Code, e.Message)
}

// apiErrorWrapper matches the MailPilot API error envelope.
type apiErrorWrapper struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func parseAPIError(statusCode int, body []byte) error {
	var wrapper apiErrorWrapper
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error.Code != "" {
		return &APIError{
			StatusCode: statusCode,
			Code:       wrapper.Error.Code,
			Message:    wrapper.Error.Message,
		}
	}

	return &APIError{
		StatusCode: statusCode,
		Code:       "unknown",
		Message:    string(body),
	}
}

// IsAPIError checks whether err is an APIError and returns it.
func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
