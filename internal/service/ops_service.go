package service

import (
	"context"
	"fmt"
	"time"

	"github.com/notifyd/notifyd/internal/domain"
	"github.com/notifyd/notifyd/internal/observability"
	"github.com/notifyd/notifyd/internal/repository"
	"go.uber.org/zap"
)

const defaultMonitorInterval = 15 * time.Second

// ProviderHealthSource exposes the registry's live circuit view.
type ProviderHealthSource interface {
	Snapshot() []domain.ProviderState
}

// OpsService serves operational paths: queue depth, provider health, and
// provider enable/disable. Its monitor loop also samples depth and circuit
// state into gauges.
type OpsService struct {
	queue     repository.QueueRepository
	configs   repository.ProviderRepository
	providers ProviderHealthSource
	interval  time.Duration
	metrics   *observability.Metrics
	logger    *zap.Logger
}

func NewOpsService(
	queue repository.QueueRepository,
	configs repository.ProviderRepository,
	providers ProviderHealthSource,
	interval time.Duration,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*OpsService, error) {
	if queue == nil {
		return nil, fmt.Errorf("queue repository is required")
	}
	if configs == nil {
		return nil, fmt.Errorf("provider repository is required")
	}
	if providers == nil {
		return nil, fmt.Errorf("provider health source is required")
	}
	if interval <= 0 {
		interval = defaultMonitorInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OpsService{
		queue:     queue,
		configs:   configs,
		providers: providers,
		interval:  interval,
		metrics:   metrics,
		logger:    logger,
	}, nil
}

func (s *OpsService) QueueDepth(ctx context.Context) (map[domain.Channel]int64, error) {
	return s.queue.Depth(ctx)
}

func (s *OpsService) ProviderHealth() []domain.ProviderState {
	return s.providers.Snapshot()
}

// SetProviderEnabled toggles a provider in the persisted configuration. The
// registry picks the change up on its next refresh; disabling does not abort
// deliveries already in flight.
func (s *OpsService) SetProviderEnabled(ctx context.Context, name string, channel domain.Channel, enabled bool) error {
	if err := s.configs.SetEnabled(ctx, name, channel, enabled); err != nil {
		return err
	}

	s.logger.Info("provider toggled",
		zap.String("provider", name),
		zap.String("channel", channel.String()),
		zap.Bool("enabled", enabled),
	)
	return nil
}

// Run samples queue depth and circuit state into metrics until ctx is done.
func (s *OpsService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sample(ctx)
		}
	}
}

func (s *OpsService) sample(ctx context.Context) {
	depths, err := s.queue.Depth(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("queue depth sample failed", zap.Error(err))
		}
	} else {
		for channel, depth := range depths {
			s.metrics.SetQueueDepth(channel.String(), depth)
		}
	}

	for _, state := range s.providers.Snapshot() {
		s.metrics.SetCircuitState(state.Name, state.Channel.String(), state.Circuit.String())
	}
}
