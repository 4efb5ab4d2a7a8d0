package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript trims the window, admits the request only while the
// count is under the limit and reports the oldest entry still counted.
//
// KEYS[1] = window key
// ARGV[1] = now (unix ms)  ARGV[2] = window (ms)  ARGV[3] = limit  ARGV[4] = member
var slidingWindowScript = redis.NewScript(`
local key    = KEYS[1]
local now    = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit  = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
local count = redis.call("ZCARD", key)
local allowed = 0
if count < limit then
	redis.call("ZADD", key, now, ARGV[4])
	count = count + 1
	allowed = 1
end
redis.call("PEXPIRE", key, window)

local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
local oldestScore = now
if oldest[2] then
	oldestScore = tonumber(oldest[2])
end
return {allowed, count, oldestScore}
`)

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter is how long until the oldest counted request leaves the
	// window. Zero when Allowed.
	RetryAfter time.Duration
}

// RateLimiter admits requests per key, typically a user id.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

type slidingWindowLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRateLimiter returns a Redis sliding-window limiter admitting limit
// requests per window for each key. Rejected requests do not count.
func NewRateLimiter(client *redis.Client, limit int, window time.Duration) RateLimiter {
	return &slidingWindowLimiter{client: client, limit: limit, window: window, now: time.Now}
}

func (r *slidingWindowLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := r.now().UnixMilli()
	windowMs := r.window.Milliseconds()
	// Members must be unique: two gateway replicas can hit the same millisecond.
	member := fmt.Sprintf("%d-%s", now, uuid.NewString()[:8])

	res, err := slidingWindowScript.Run(ctx, r.client,
		[]string{"ratelimit:" + key}, now, windowMs, r.limit, member,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit check for %q: %w", key, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("rate limit check for %q: unexpected reply %v", key, res)
	}

	d := Decision{
		Allowed:   res[0] == 1,
		Limit:     r.limit,
		Remaining: max(r.limit-int(res[1]), 0),
	}
	if !d.Allowed {
		d.RetryAfter = max(time.Duration(res[2]+windowMs-now)*time.Millisecond, 0)
	}
	return d, nil
}
