package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyTTL = 48 * time.Hour

// reserveScript grants min(n, limit - used) and adds it to the counter.
// KEYS[1] counter, ARGV[1] n, ARGV[2] limit, ARGV[3] ttl seconds.
var reserveScript = redis.NewScript(`
local used = tonumber(redis.call("GET", KEYS[1]) or "0")
local free = tonumber(ARGV[2]) - used
if free <= 0 then
	return 0
end
local n = tonumber(ARGV[1])
if n > free then
	n = free
end
redis.call("INCRBY", KEYS[1], n)
redis.call("EXPIRE", KEYS[1], ARGV[3])
return n
`)

// releaseScript subtracts ARGV[1] without going below zero.
var releaseScript = redis.NewScript(`
local used = tonumber(redis.call("GET", KEYS[1]) or "0")
local n = tonumber(ARGV[1])
if n > used then
	n = used
end
if n > 0 then
	redis.call("DECRBY", KEYS[1], n)
end
return n
`)

// Client is the subset of the Redis client the governor needs
type Client interface {
	redis.Scripter
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisGovernor keeps counters in Redis so every instance shares them
type RedisGovernor struct {
	client Client
	limit  int
	now    func() time.Time
}

// NewRedisGovernor creates a RedisGovernor with the given daily limit
func NewRedisGovernor(client Client, limit int) *RedisGovernor {
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	return &RedisGovernor{client: client, limit: limit, now: time.Now}
}

// SetClock overrides the time source
func (g *RedisGovernor) SetClock(now func() time.Time) {
	g.now = now
}

func redisKey(userID, day string) string {
	return fmt.Sprintf("quota:%s:%s", userID, day)
}

// Reserve claims up to n units for userID
func (g *RedisGovernor) Reserve(ctx context.Context, userID string, n int) (Reservation, error) {
	if n <= 0 {
		return Reservation{}, ErrInvalidAmount
	}
	day := Day(g.now())
	granted, err := reserveScript.Run(ctx, g.client, []string{redisKey(userID, day)},
		n, g.limit, int(keyTTL.Seconds())).Int()
	if err != nil {
		return Reservation{}, fmt.Errorf("failed to reserve quota: %w", err)
	}
	return Reservation{Day: day, Granted: granted}, nil
}

// Release returns n unused units reserved by userID on day
func (g *RedisGovernor) Release(ctx context.Context, userID, day string, n int) error {
	if n <= 0 {
		return ErrInvalidAmount
	}
	if err := releaseScript.Run(ctx, g.client, []string{redisKey(userID, day)}, n).Err(); err != nil {
		return fmt.Errorf("failed to release quota: %w", err)
	}
	return nil
}

// Remaining returns the units left today for userID
func (g *RedisGovernor) Remaining(ctx context.Context, userID string) (int, error) {
	used, err := g.client.Get(ctx, redisKey(userID, Day(g.now()))).Int()
	if err == redis.Nil {
		used = 0
	} else if err != nil {
		return 0, fmt.Errorf("failed to read quota: %w", err)
	}
	return grant(g.limit, used, g.limit), nil
}

// Limit returns the daily ceiling
func (g *RedisGovernor) Limit() int {
	return g.limit
}
