package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/notifyd/notifyd/internal/domain"
	"go.uber.org/zap"
)

const defaultRefreshInterval = time.Minute

// ProviderConfigSource loads persisted provider configuration.
type ProviderConfigSource interface {
	ListProviderConfigs(ctx context.Context) ([]domain.ProviderConfig, error)
}

// Candidate is one routable provider returned by ListProviders, already
// holding its breaker slot. The dispatcher must finish every candidate with
// either ReportOutcome or Release.
type Candidate struct {
	Name     string
	Channel  domain.Channel
	Priority int
}

type providerKey struct {
	name    string
	channel domain.Channel
}

type providerEntry struct {
	cfg domain.ProviderConfig
	br  *breaker
}

// Registry holds the configured providers per channel, their priority
// ordering, and live circuit state. It is the only writer of provider health;
// all mutation happens under one lock so concurrent dispatcher workers cannot
// lose failure counts.
type Registry struct {
	mu      sync.Mutex
	entries map[providerKey]*providerEntry

	breakerCfg BreakerConfig
	source     ProviderConfigSource
	refresh    time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

func New(source ProviderConfigSource, breakerCfg BreakerConfig, refresh time.Duration, logger *zap.Logger) *Registry {
	if refresh <= 0 {
		refresh = defaultRefreshInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Registry{
		entries:    make(map[providerKey]*providerEntry),
		breakerCfg: breakerCfg.normalized(),
		source:     source,
		refresh:    refresh,
		logger:     logger,
		now:        time.Now,
	}
}

// Upsert registers or updates a provider configuration, preserving live
// breaker state for providers that already exist.
func (r *Registry) Upsert(cfg domain.ProviderConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upsertLocked(cfg)
}

func (r *Registry) upsertLocked(cfg domain.ProviderConfig) {
	key := providerKey{name: cfg.Name, channel: cfg.Channel}
	if entry, ok := r.entries[key]; ok {
		entry.cfg = cfg
		return
	}
	r.entries[key] = &providerEntry{
		cfg: cfg,
		br:  newBreaker(r.breakerCfg),
	}
}

// Refresh reloads provider configuration from the persisted source. Providers
// removed from configuration are dropped; surviving providers keep their
// circuit state.
func (r *Registry) Refresh(ctx context.Context) error {
	if r.source == nil {
		return nil
	}

	configs, err := r.source.ListProviderConfigs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load provider configs: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[providerKey]bool, len(configs))
	for _, cfg := range configs {
		key := providerKey{name: cfg.Name, channel: cfg.Channel}
		seen[key] = true
		r.upsertLocked(cfg)
	}
	for key := range r.entries {
		if !seen[key] {
			delete(r.entries, key)
		}
	}

	return nil
}

// Start refreshes provider configuration periodically until ctx cancellation.
func (r *Registry) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ticker := time.NewTicker(r.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Error("provider config refresh failed", zap.Error(err))
			}
		}
	}
}

// ListProviders returns the routable candidates for a channel sorted by
// priority descending, filtering out disabled and circuit-open providers.
// Each returned candidate holds its breaker slot (relevant for half-open
// probes): the caller must call ReportOutcome or Release for every one.
func (r *Registry) ListProviders(channel domain.Channel) []Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	candidates := make([]Candidate, 0, len(r.entries))
	for key, entry := range r.entries {
		if key.channel != channel || !entry.cfg.Enabled {
			continue
		}
		if !entry.br.acquire(now) {
			continue
		}
		candidates = append(candidates, Candidate{
			Name:     key.name,
			Channel:  key.channel,
			Priority: entry.cfg.Priority,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].Name < candidates[j].Name
	})

	return candidates
}

// ReportOutcome records the result of a delivery attempt against a provider
// and advances its circuit state.
func (r *Registry) ReportOutcome(name string, channel domain.Channel, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[providerKey{name: name, channel: channel}]
	if !ok {
		return
	}

	now := r.now()
	before, _ := entry.br.snapshot(now)
	if success {
		entry.br.onSuccess(now)
	} else {
		entry.br.onFailure(now)
	}
	after, _ := entry.br.snapshot(now)

	if before != after {
		r.logger.Warn("provider circuit state changed",
			zap.String("provider", name),
			zap.String("channel", channel.String()),
			zap.String("from", before.String()),
			zap.String("to", after.String()),
			zap.Int("consecutiveFailures", entry.br.consecutiveFailures),
		)
	}
}

// Release frees a candidate's breaker slot without recording an outcome, for
// candidates that were listed but skipped (rate limited, unused fallback).
func (r *Registry) Release(name string, channel domain.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[providerKey{name: name, channel: channel}]; ok {
		entry.br.release()
	}
}

// Endpoint returns the configured endpoint for a provider.
func (r *Registry) Endpoint(name string, channel domain.Channel) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[providerKey{name: name, channel: channel}]
	if !ok {
		return "", false
	}
	return entry.cfg.Endpoint, true
}

// Snapshot returns the current provider health for dashboards, sorted by
// channel then priority descending.
func (r *Registry) Snapshot() []domain.ProviderState {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	states := make([]domain.ProviderState, 0, len(r.entries))
	for key, entry := range r.entries {
		circuit, openUntil := entry.br.snapshot(now)
		states = append(states, domain.ProviderState{
			Name:                key.name,
			Channel:             key.channel,
			Enabled:             entry.cfg.Enabled,
			Priority:            entry.cfg.Priority,
			ConsecutiveFailures: entry.br.consecutiveFailures,
			Circuit:             circuit,
			LastSuccessAt:       entry.br.lastSuccessAt,
			LastFailureAt:       entry.br.lastFailureAt,
			OpenUntil:           openUntil,
		})
	}

	sort.Slice(states, func(i, j int) bool {
		if states[i].Channel != states[j].Channel {
			return states[i].Channel < states[j].Channel
		}
		if states[i].Priority != states[j].Priority {
			return states[i].Priority > states[j].Priority
		}
		return states[i].Name < states[j].Name
	})

	return states
}
