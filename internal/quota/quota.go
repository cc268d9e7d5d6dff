// Package quota enforces the per-user daily send ceiling. Counters reset at
// the UTC day boundary.
package quota

import (
	"context"
	"errors"
	"time"
)

// DefaultDailyLimit is the provider's daily ceiling per sending account
const DefaultDailyLimit = 500

// ErrInvalidAmount is returned for non-positive reservation sizes
var ErrInvalidAmount = errors.New("quota: amount must be positive")

// Reservation is the capacity granted by one Reserve call. Day is the UTC
// day the units were counted against.
type Reservation struct {
	Day     string
	Granted int
}

// Governor hands out send capacity. Reserve claims up to n units for today;
// Release gives back units that were reserved but not used, on the day they
// were reserved, so a release after midnight never frees capacity on the
// new day.
type Governor interface {
	Reserve(ctx context.Context, userID string, n int) (Reservation, error)
	Release(ctx context.Context, userID, day string, n int) error
	Remaining(ctx context.Context, userID string) (int, error)
	Limit() int
}

// Day returns the UTC calendar day t falls in, as YYYY-MM-DD
func Day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func grant(limit, used, n int) int {
	free := limit - used
	if free <= 0 {
		return 0
	}
	if n < free {
		return n
	}
	return free
}
