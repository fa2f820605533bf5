package ratelimit

import (
	"strings"
	"sync"
	"time"

	"github.com/notifyd/notifyd/internal/domain"
	"golang.org/x/time/rate"
)

// ChannelHourly holds the per-recipient hourly caps per channel.
type ChannelHourly struct {
	Email int
	SMS   int
	Push  int
}

func DefaultChannelHourly() ChannelHourly {
	return ChannelHourly{Email: 100, SMS: 20, Push: 200}
}

func (c ChannelHourly) forChannel(channel domain.Channel) int {
	switch channel {
	case domain.ChannelEmail:
		return c.Email
	case domain.ChannelSMS:
		return c.SMS
	case domain.ChannelPush:
		return c.Push
	}
	return c.Email
}

// Policy resolves bucket limits for the engine's two key scopes: provider
// buckets use the per-second rate from provider configuration; recipient
// buckets use the per-channel hourly caps (capacity equal to the cap, so a
// quiet recipient can absorb a full hour's worth at once).
type Policy struct {
	mu        sync.RWMutex
	providers map[string]providerLimit
	recipient ChannelHourly
}

type providerLimit struct {
	perSec float64
	burst  int
}

func NewPolicy(recipient ChannelHourly) *Policy {
	return &Policy{
		providers: make(map[string]providerLimit),
		recipient: recipient,
	}
}

// SetProviderRate registers a provider's published rate limit.
func (p *Policy) SetProviderRate(provider string, perSec float64, burst int) {
	if perSec <= 0 {
		perSec = 10
	}
	if burst <= 0 {
		burst = int(perSec)
		if burst < 1 {
			burst = 1
		}
	}
	p.mu.Lock()
	p.providers[strings.ToLower(strings.TrimSpace(provider))] = providerLimit{perSec: perSec, burst: burst}
	p.mu.Unlock()
}

// Limits implements KeyLimits over the registered provider and channel rates.
func (p *Policy) Limits(key string) (rate.Limit, int) {
	if IsRecipientKey(key) {
		channel := RecipientChannelFromKey(key)
		perHour := p.recipient.forChannel(channel)
		if perHour < 1 {
			perHour = 1
		}
		return rate.Limit(float64(perHour) / time.Hour.Seconds()), perHour
	}

	name := strings.TrimPrefix(key, "provider:")
	p.mu.RLock()
	limit, ok := p.providers[name]
	p.mu.RUnlock()
	if !ok {
		return rate.Limit(10), 10
	}
	return rate.Limit(limit.perSec), limit.burst
}

func RecipientChannelFromKey(key string) domain.Channel {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 {
		return domain.ChannelEmail
	}
	return domain.Channel(parts[1])
}
