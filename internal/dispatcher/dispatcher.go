package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/notifyd/notifyd/internal/domain"
	"github.com/notifyd/notifyd/internal/observability"
	"github.com/notifyd/notifyd/internal/provider"
	"github.com/notifyd/notifyd/internal/ratelimit"
	"github.com/notifyd/notifyd/internal/registry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const claimBatchSize = 1

// NotificationStore is the slice of the notification repository the
// dispatcher needs.
type NotificationStore interface {
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	Transition(ctx context.Context, id string, from, to domain.Status, updates map[string]any) error
}

// AttemptStore records the per-call delivery audit trail.
type AttemptStore interface {
	Create(ctx context.Context, a *domain.DeliveryAttempt) error
}

// Queue is the lease-based work queue the dispatcher claims from.
type Queue interface {
	Claim(ctx context.Context, owner string, limit int, leaseFor time.Duration) ([]domain.QueueItem, error)
	Ack(ctx context.Context, itemID, attemptID string) error
	Requeue(ctx context.Context, itemID, attemptID string, nextAttemptAt time.Time) error
}

// Router exposes provider candidates and circuit outcome reporting. Every
// candidate obtained from ListProviders must be finished with ReportOutcome
// or Release.
type Router interface {
	ListProviders(channel domain.Channel) []registry.Candidate
	ReportOutcome(name string, channel domain.Channel, success bool)
	Release(name string, channel domain.Channel)
}

// Directory resolves a candidate name to a live provider adapter.
type Directory interface {
	Get(name string, channel domain.Channel) (provider.Provider, bool)
}

type Config struct {
	Owner                string
	Concurrency          int
	PollInterval         time.Duration
	LeaseDuration        time.Duration
	ProviderTimeout      time.Duration
	RateRetryDelay       time.Duration
	CircuitCountFailover bool
}

func (c Config) normalized() Config {
	if c.Owner == "" {
		c.Owner = "dispatcher"
	}
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = 30 * time.Second
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = 30 * time.Second
	}
	if c.RateRetryDelay <= 0 {
		c.RateRetryDelay = 5 * time.Second
	}
	return c
}

// Dispatcher claims due queue items and drives each through one delivery
// attempt: provider selection in priority order, same-attempt failover on
// retryable failures, and retry or terminal-failure bookkeeping.
type Dispatcher struct {
	cfg           Config
	notifications NotificationStore
	attempts      AttemptStore
	queue         Queue
	router        Router
	directory     Directory
	limiter       ratelimit.Limiter
	backoff       *BackoffPolicy
	metrics       *observability.Metrics
	logger        *zap.Logger
	now           func() time.Time
	newID         func() string
}

func New(
	cfg Config,
	notifications NotificationStore,
	attempts AttemptStore,
	queue Queue,
	router Router,
	directory Directory,
	limiter ratelimit.Limiter,
	backoff *BackoffPolicy,
	metrics *observability.Metrics,
	logger *zap.Logger,
	newID func() string,
) (*Dispatcher, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification store is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("attempt store is required")
	}
	if queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if router == nil {
		return nil, fmt.Errorf("router is required")
	}
	if directory == nil {
		return nil, fmt.Errorf("provider directory is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if backoff == nil {
		return nil, fmt.Errorf("backoff policy is required")
	}
	if newID == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		cfg:           cfg.normalized(),
		notifications: notifications,
		attempts:      attempts,
		queue:         queue,
		router:        router,
		directory:     directory,
		limiter:       limiter,
		backoff:       backoff,
		metrics:       metrics,
		logger:        logger,
		now:           time.Now,
		newID:         newID,
	}, nil
}

// Run blocks until ctx cancellation, polling the queue with cfg.Concurrency
// workers.
func (d *Dispatcher) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	for i := 0; i < d.cfg.Concurrency; i++ {
		worker := fmt.Sprintf("%s-%d", d.cfg.Owner, i)
		group.Go(func() error {
			return d.workerLoop(ctx, worker)
		})
	}

	return group.Wait()
}

func (d *Dispatcher) workerLoop(ctx context.Context, owner string) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		items, err := d.queue.Claim(ctx, owner, claimBatchSize, d.cfg.LeaseDuration)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.logger.Error("queue claim failed", zap.String("worker", owner), zap.Error(err))
			items = nil
		}

		for i := range items {
			d.processItem(ctx, &items[i])
		}

		if len(items) == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(d.cfg.PollInterval):
			}
		}
	}
}
