package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/dayahead/internal/domain"
)

// slidingWindowLua keeps one sorted-set member per counted request, scored by
// its time in microseconds.
//
//	KEYS[1] counter key
//	ARGV    now, window, limit, member
//
// It returns {allowed, count, oldest}; oldest is the score of the earliest
// request still in the window, or 0.
const slidingWindowLua = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
  redis.call('ZADD', key, now, ARGV[4])
  redis.call('PEXPIRE', key, math.ceil(window / 1000))
  count = count + 1
  allowed = 1
end
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local first = 0
if oldest[2] then first = tonumber(oldest[2]) end
return {allowed, count, first}
`

// RateLimiter implements domain.RateLimiter in Redis so the limit holds across
// every replica serving the API.
type RateLimiter struct {
	rdb    *redis.Client
	script *redis.Script
	now    func() time.Time
}

func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:    c.Underlying(),
		script: redis.NewScript(slidingWindowLua),
		now:    time.Now,
	}
}

// Allow counts one request for key if it fits in limit per window.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (domain.RateDecision, error) {
	now := rl.now().UnixMicro()
	res, err := rl.script.Run(ctx, rl.rdb, []string{"ratelimit:" + key},
		now, window.Microseconds(), limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return domain.RateDecision{}, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(res) != 3 {
		return domain.RateDecision{}, fmt.Errorf("redis: rate limit %s: got %d values", key, len(res))
	}

	d := domain.RateDecision{
		Allowed:   res[0] == 1,
		Remaining: max(limit-int(res[1]), 0),
	}
	if !d.Allowed && res[2] > 0 {
		d.RetryAfter = max(time.Duration(res[2]+window.Microseconds()-now)*time.Microsecond, 0)
	}
	return d, nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
