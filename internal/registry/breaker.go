package registry

import (
	"time"

	"github.com/notifyd/notifyd/internal/domain"
)

// BreakerConfig holds the circuit breaker tuning for all providers.
type BreakerConfig struct {
	// FailureThreshold is the consecutive failure count that trips the circuit.
	FailureThreshold int
	// CoolDown is how long the circuit stays open after the first trip.
	// It doubles on every re-trip from half_open, up to MaxCoolDown.
	CoolDown    time.Duration
	MaxCoolDown time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 10,
		CoolDown:         5 * time.Minute,
		MaxCoolDown:      time.Hour,
	}
}

func (c BreakerConfig) normalized() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 10
	}
	if c.CoolDown <= 0 {
		c.CoolDown = 5 * time.Minute
	}
	if c.MaxCoolDown < c.CoolDown {
		c.MaxCoolDown = c.CoolDown
	}
	return c
}

// breaker tracks failure state for one (provider, channel) pair. It is not
// safe for concurrent use; the registry serializes access under its lock.
//
// Unlike call-wrapping breakers, outcomes arrive after the fact via
// onSuccess/onFailure, and the half-open probe slot is reserved at acquire
// time so exactly one trial runs regardless of concurrent load.
type breaker struct {
	cfg BreakerConfig

	state               domain.CircuitState
	consecutiveFailures int
	coolDown            time.Duration
	openUntil           time.Time
	probeInFlight       bool
	lastSuccessAt       *time.Time
	lastFailureAt       *time.Time
}

func newBreaker(cfg BreakerConfig) *breaker {
	cfg = cfg.normalized()
	return &breaker{
		cfg:      cfg,
		state:    domain.CircuitClosed,
		coolDown: cfg.CoolDown,
	}
}

// acquire reports whether a delivery attempt may be routed through this
// provider now. Acquiring while open past the cool-down moves the circuit to
// half_open and reserves the single probe slot.
func (b *breaker) acquire(now time.Time) bool {
	switch b.state {
	case domain.CircuitClosed:
		return true
	case domain.CircuitOpen:
		if now.Before(b.openUntil) {
			return false
		}
		b.state = domain.CircuitHalfOpen
		b.probeInFlight = true
		return true
	case domain.CircuitHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	}
	return false
}

// release frees an acquired probe slot without recording an outcome, for
// candidates that were listed but never attempted.
func (b *breaker) release() {
	if b.state == domain.CircuitHalfOpen {
		b.probeInFlight = false
	}
}

func (b *breaker) onSuccess(now time.Time) {
	t := now
	b.lastSuccessAt = &t
	b.consecutiveFailures = 0

	if b.state == domain.CircuitHalfOpen {
		b.state = domain.CircuitClosed
		b.probeInFlight = false
		b.coolDown = b.cfg.CoolDown
	}
}

func (b *breaker) onFailure(now time.Time) {
	t := now
	b.lastFailureAt = &t

	switch b.state {
	case domain.CircuitHalfOpen:
		// Failed probe: re-open with a doubled cool-down.
		b.probeInFlight = false
		b.coolDown = min(b.coolDown*2, b.cfg.MaxCoolDown)
		b.trip(now)
	case domain.CircuitClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.trip(now)
		}
	case domain.CircuitOpen:
		// Late completion from a call that started before the trip.
		b.consecutiveFailures++
	}
}

func (b *breaker) trip(now time.Time) {
	b.state = domain.CircuitOpen
	b.openUntil = now.Add(b.coolDown)
}

// snapshot returns the externally visible circuit state, surfacing the
// pending open -> half_open flip without mutating it.
func (b *breaker) snapshot(now time.Time) (domain.CircuitState, *time.Time) {
	state := b.state
	var openUntil *time.Time
	if state == domain.CircuitOpen {
		if now.Before(b.openUntil) {
			t := b.openUntil
			openUntil = &t
		} else {
			state = domain.CircuitHalfOpen
		}
	}
	return state, openUntil
}
