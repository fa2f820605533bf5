package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newTestRedisClient(t *testing.T) *goredis.Client {
	t.Helper()

	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(server.Close)

	return goredis.NewClient(&goredis.Options{Addr: server.Addr()})
}

func fixedWindowLimits(limit int64, window time.Duration) WindowLimits {
	return func(key string) (int64, time.Duration) {
		return limit, window
	}
}

func TestRedisLimiterEnforcesWindowBudget(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)
	limiter, err := NewRedisLimiter(rdb, fixedWindowLimits(2, time.Second))
	if err != nil {
		t.Fatalf("NewRedisLimiter() error = %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		allowed, err := limiter.TryAcquire(context.Background(), "provider:relay-a", 1)
		if err != nil {
			t.Fatalf("TryAcquire() error = %v", err)
		}
		if !allowed {
			t.Fatalf("call %d should be allowed", i+1)
		}
	}

	allowed, err := limiter.TryAcquire(context.Background(), "provider:relay-a", 1)
	if err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	if allowed {
		t.Fatal("third call in the window should be denied")
	}

	now = now.Add(time.Second)
	allowed, err = limiter.TryAcquire(context.Background(), "provider:relay-a", 1)
	if err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	if !allowed {
		t.Fatal("next window should allow the call")
	}
}

func TestRedisLimiterRejectsEmptyKey(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)
	limiter, err := NewRedisLimiter(rdb, fixedWindowLimits(1, time.Second))
	if err != nil {
		t.Fatalf("NewRedisLimiter() error = %v", err)
	}

	if _, err := limiter.TryAcquire(context.Background(), "  ", 1); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestWindowLimitsFromPolicy(t *testing.T) {
	t.Parallel()

	policy := NewPolicy(DefaultChannelHourly())
	policy.SetProviderRate("relay-a", 25, 25)
	limits := WindowLimitsFromPolicy(policy)

	limit, window := limits("recipient:sms:+15551112233")
	if limit != 20 || window != time.Hour {
		t.Fatalf("sms recipient = (%d, %s), want (20, 1h)", limit, window)
	}

	limit, window = limits("provider:relay-a")
	if limit != 25 || window != time.Second {
		t.Fatalf("provider = (%d, %s), want (25, 1s)", limit, window)
	}
}
