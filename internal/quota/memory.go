package quota

import (
	"context"
	"sync"
	"time"
)

// MemoryGovernor keeps counters in process memory. It suits single-instance
// deployments and tests.
type MemoryGovernor struct {
	mu    sync.Mutex
	limit int
	now   func() time.Time
	used  map[string]int
}

// NewMemoryGovernor creates a MemoryGovernor with the given daily limit
func NewMemoryGovernor(limit int) *MemoryGovernor {
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	return &MemoryGovernor{
		limit: limit,
		now:   time.Now,
		used:  make(map[string]int),
	}
}

// SetClock overrides the time source
func (g *MemoryGovernor) SetClock(now func() time.Time) {
	g.mu.Lock()
	g.now = now
	g.mu.Unlock()
}

func memoryKey(userID, day string) string {
	return userID + "|" + day
}

// Reserve claims up to n units for userID
func (g *MemoryGovernor) Reserve(_ context.Context, userID string, n int) (Reservation, error) {
	if n <= 0 {
		return Reservation{}, ErrInvalidAmount
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	day := Day(g.now())
	k := memoryKey(userID, day)
	granted := grant(g.limit, g.used[k], n)
	g.used[k] += granted
	return Reservation{Day: day, Granted: granted}, nil
}

// Release returns n unused units reserved by userID on day
func (g *MemoryGovernor) Release(_ context.Context, userID, day string, n int) error {
	if n <= 0 {
		return ErrInvalidAmount
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	k := memoryKey(userID, day)
	g.used[k] -= n
	if g.used[k] <= 0 {
		delete(g.used, k)
	}
	return nil
}

// Remaining returns the units left today for userID
func (g *MemoryGovernor) Remaining(_ context.Context, userID string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return grant(g.limit, g.used[memoryKey(userID, Day(g.now()))], g.limit), nil
}

// Limit returns the daily ceiling
func (g *MemoryGovernor) Limit() int {
	return g.limit
}
