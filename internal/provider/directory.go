package provider

import (
	"fmt"
	"sync"

	"github.com/notifyd/notifyd/internal/domain"
)

// EndpointSource resolves the configured endpoint for a provider, typically
// backed by the provider registry.
type EndpointSource interface {
	Endpoint(name string, channel domain.Channel) (string, bool)
}

type cachedRelay struct {
	endpoint string
	relay    Provider
}

// RelayDirectory lazily builds and caches one HTTP relay per configured
// provider. A changed endpoint (after a config refresh) replaces the cached
// relay on next lookup.
type RelayDirectory struct {
	mu     sync.Mutex
	source EndpointSource
	relays map[string]cachedRelay
	build  func(name, endpoint string) (Provider, error)
}

func NewRelayDirectory(source EndpointSource) (*RelayDirectory, error) {
	if source == nil {
		return nil, fmt.Errorf("endpoint source is required")
	}

	return &RelayDirectory{
		source: source,
		relays: make(map[string]cachedRelay),
		build: func(name, endpoint string) (Provider, error) {
			return NewHTTPRelay(name, endpoint)
		},
	}, nil
}

func (d *RelayDirectory) Get(name string, channel domain.Channel) (Provider, bool) {
	if d == nil || d.source == nil {
		return nil, false
	}

	endpoint, ok := d.source.Endpoint(name, channel)
	if !ok {
		return nil, false
	}

	key := name + "|" + channel.String()

	d.mu.Lock()
	defer d.mu.Unlock()

	if cached, ok := d.relays[key]; ok && cached.endpoint == endpoint {
		return cached.relay, true
	}

	relay, err := d.build(name, endpoint)
	if err != nil {
		return nil, false
	}

	d.relays[key] = cachedRelay{endpoint: endpoint, relay: relay}
	return relay, true
}
