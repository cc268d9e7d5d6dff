package email

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Sender is the interface that all mail providers must implement.
// Messages arrive fully built and base64url encoded.
type Sender interface {
	// Send submits raw on behalf of the account that client authenticates as
	// and returns the provider's message ID.
	Send(ctx context.Context, client *http.Client, raw string) (string, error)
}

// SendError is a provider rejection of a single message
type SendError struct {
	StatusCode int
	Reason     string
	Err        error
}

func (e *SendError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("send rejected (%d %s): %v", e.StatusCode, e.Reason, e.Err)
	}
	return fmt.Sprintf("send rejected (%d): %v", e.StatusCode, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether the provider refused the access token
func IsAuthError(err error) bool {
	var se *SendError
	return errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized
}
