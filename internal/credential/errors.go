package credential

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned when a user has never stored a credential
var ErrNotConnected = errors.New("credential: no mail account connected")

// Kind classifies credential failures
type Kind int

const (
	// Revoked means the refresh token no longer works; the user must
	// reconnect their account.
	Revoked Kind = iota + 1
	// Transient means the refresh failed for a reason that may clear up,
	// such as a network error or a provider 5xx.
	Transient
)

func (k Kind) String() string {
	switch k {
	case Revoked:
		return "revoked"
	case Transient:
		return "transient"
	default:
		return "unknown"
	}
}

// Error is returned by the Manager when no valid client can be produced
type Error struct {
	Kind   Kind
	UserID string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("credential %s for user %s: %v", e.Kind, e.UserID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRevoked reports whether err requires the user to reconnect
func IsRevoked(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == Revoked
}

// IsTransient reports whether err is a temporary refresh failure
func IsTransient(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == Transient
}
