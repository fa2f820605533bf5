package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	sweepThreshold = 100_000
	bucketIdleTTL  = 2 * time.Hour
)

// KeyLimits resolves the refill rate and capacity for a bucket key.
type KeyLimits func(key string) (rate.Limit, int)

type localBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalLimiter is an in-process token-bucket limiter with one lazily created
// bucket per key. Refill is computed from elapsed wall-clock time at acquire
// time; there are no background timers.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*localBucket
	limits  KeyLimits
	now     func() time.Time
}

func NewLocalLimiter(limits KeyLimits) *LocalLimiter {
	return &LocalLimiter{
		buckets: make(map[string]*localBucket),
		limits:  limits,
		now:     time.Now,
	}
}

func (l *LocalLimiter) TryAcquire(ctx context.Context, key string, cost int) (bool, error) {
	if cost < 1 {
		cost = 1
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	bucket, ok := l.buckets[key]
	if !ok {
		limit, burst := l.limits(key)
		bucket = &localBucket{limiter: rate.NewLimiter(limit, burst)}
		if len(l.buckets) >= sweepThreshold {
			l.sweepLocked(now)
		}
		l.buckets[key] = bucket
	}
	bucket.lastSeen = now

	return bucket.limiter.AllowN(now, cost), nil
}

// sweepLocked drops buckets idle long enough to be fully refilled anyway.
func (l *LocalLimiter) sweepLocked(now time.Time) {
	for key, bucket := range l.buckets {
		if now.Sub(bucket.lastSeen) > bucketIdleTTL {
			delete(l.buckets, key)
		}
	}
}
