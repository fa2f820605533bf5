package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Store records fingerprints and answers whether one was already accepted
// within the window. CheckAndRecord must be atomic: two concurrent calls with
// the same fingerprint may report at most one non-duplicate. Forget releases
// a fingerprint whose submission was not accepted after all, so only accepted
// records can suppress later ones.
type Store interface {
	CheckAndRecord(ctx context.Context, fingerprint string, window time.Duration) (duplicate bool, err error)
	Forget(ctx context.Context, fingerprint string) error
}

// MemoryStore is the in-process store for single-node runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (s *MemoryStore) CheckAndRecord(ctx context.Context, fingerprint string, window time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expiry, ok := s.entries[fingerprint]; ok && expiry.After(now) {
		return true, nil
	}

	// Opportunistic sweep keeps the map bounded without a background timer.
	for fp, expiry := range s.entries {
		if !expiry.After(now) {
			delete(s.entries, fp)
		}
	}

	s.entries[fingerprint] = now.Add(window)
	return false, nil
}

func (s *MemoryStore) Forget(ctx context.Context, fingerprint string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, fingerprint)
	return nil
}

var _ Store = (*MemoryStore)(nil)

// RedisStore shares the suppression window across process instances using
// SET NX with the window as TTL.
type RedisStore struct {
	client *goredis.Client
}

func NewRedisStore(client *goredis.Client) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) CheckAndRecord(ctx context.Context, fingerprint string, window time.Duration) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if window <= 0 {
		window = time.Hour
	}

	stored, err := s.client.SetNX(ctx, "dedup:"+fingerprint, 1, window).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record fingerprint: %w", err)
	}

	return !stored, nil
}

func (s *RedisStore) Forget(ctx context.Context, fingerprint string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.client.Del(ctx, "dedup:"+fingerprint).Err(); err != nil {
		return fmt.Errorf("failed to release fingerprint: %w", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
