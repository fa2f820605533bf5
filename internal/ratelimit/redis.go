package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// WindowLimits resolves the request budget and window length for a bucket
// key; the Redis limiter approximates a token bucket with fixed windows.
type WindowLimits func(key string) (limit int64, window time.Duration)

var allowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ Limiter = (*RedisLimiter)(nil)

// RedisLimiter is a distributed fixed-window limiter for multi-instance
// deployments where all workers must share one budget per key. Losing the
// counters on restart only causes a brief burst of extra throttling.
type RedisLimiter struct {
	client *goredis.Client
	limits WindowLimits
	now    func() time.Time
	script *goredis.Script
}

func NewRedisLimiter(client *goredis.Client, limits WindowLimits) (*RedisLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limits == nil {
		return nil, fmt.Errorf("window limits are required")
	}

	return &RedisLimiter{
		client: client,
		limits: limits,
		now:    time.Now,
		script: allowScript,
	}, nil
}

func (r *RedisLimiter) TryAcquire(ctx context.Context, key string, cost int) (bool, error) {
	if r == nil || r.client == nil || r.script == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}

	normalized := strings.ToLower(strings.TrimSpace(key))
	if normalized == "" {
		return false, fmt.Errorf("bucket key is required")
	}
	if cost < 1 {
		cost = 1
	}
	if ctx == nil {
		ctx = context.Background()
	}

	limit, window := r.limits(normalized)
	if limit < 1 {
		limit = 1
	}
	if window < time.Second {
		window = time.Second
	}

	windowSeconds := int64(window / time.Second)
	bucket := r.now().UTC().Unix() / windowSeconds
	redisKey := fmt.Sprintf("ratelimit:%s:%d", normalized, bucket)

	// Cost > 1 is modelled as repeated increments inside the same window.
	allowed := true
	for i := 0; i < cost; i++ {
		result, err := r.script.Run(ctx, r.client, []string{redisKey}, limit, windowSeconds).Int()
		if err != nil {
			return false, fmt.Errorf("failed to evaluate rate limit: %w", err)
		}
		if result != 1 {
			allowed = false
		}
	}

	return allowed, nil
}

// WindowLimitsFromPolicy derives fixed-window budgets from the same policy
// the local limiter uses: recipient keys get their hourly cap per hour,
// provider keys their per-second rate per second.
func WindowLimitsFromPolicy(policy *Policy) WindowLimits {
	return func(key string) (int64, time.Duration) {
		if IsRecipientKey(key) {
			perHour := policy.recipient.forChannel(RecipientChannelFromKey(key))
			if perHour < 1 {
				perHour = 1
			}
			return int64(perHour), time.Hour
		}

		limit, _ := policy.Limits(key)
		perSec := int64(limit)
		if perSec < 1 {
			perSec = 1
		}
		return perSec, time.Second
	}
}
