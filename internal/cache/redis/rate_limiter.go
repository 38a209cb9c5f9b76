package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/spotledger/internal/domain"
)

// slidingWindowLua trims entries older than the window, then admits the
// request if fewer than limit remain. Returns {allowed, count}.
const slidingWindowLua = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
    redis.call('ZADD', key, now, member)
    redis.call('PEXPIRE', key, math.ceil(window / 1000))
    return {1, count + 1}
end
return {0, count}
`

// RateLimiter implements domain.RateLimiter using a sliding window backed by
// Redis sorted sets and an atomic Lua script.
type RateLimiter struct {
	rdb           *redis.Client
	slidingWindow *redis.Script
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:           c.Underlying(),
		slidingWindow: redis.NewScript(slidingWindowLua),
	}
}

func rateLimitKey(key string) string {
	return "ratelimit:" + key
}

// Allow reports whether a request for key is permitted and counts it if so.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	result, err := rl.slidingWindow.Run(
		ctx,
		rl.rdb,
		[]string{rateLimitKey(key)},
		time.Now().UnixMicro(),
		window.Microseconds(),
		limit,
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit allow %s: %w", key, err)
	}
	if len(result) < 2 {
		return false, fmt.Errorf("redis: rate limit allow %s: unexpected result length %d", key, len(result))
	}
	return result[0] == 1, nil
}

// Compile-time interface check.
var _ domain.RateLimiter = (*RateLimiter)(nil)
