package dispatcher

import (
	"math"
	"time"
)

const jitterFraction = 0.2

// BackoffPolicy produces the retry delay for a failed attempt: exponential
// growth from Base, capped at Max, with +-20% jitter so a burst of failures
// does not come back as one thundering herd.
type BackoffPolicy struct {
	Base time.Duration
	Max  time.Duration

	// randFloat returns a value in [0, 1); injectable for deterministic tests.
	randFloat func() float64
}

func NewBackoffPolicy(base, maxDelay time.Duration, randFloat func() float64) *BackoffPolicy {
	if base <= 0 {
		base = time.Second
	}
	if maxDelay < base {
		maxDelay = base
	}

	return &BackoffPolicy{
		Base:      base,
		Max:       maxDelay,
		randFloat: randFloat,
	}
}

// Delay returns the wait before retry number attempt (1-based: the delay
// after the first failed attempt is Delay(1)).
func (p *BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(p.Base) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.Max) {
		delay = float64(p.Max)
	}

	if p.randFloat != nil {
		// Uniform in [-jitterFraction, +jitterFraction].
		jitter := (p.randFloat()*2 - 1) * jitterFraction
		delay *= 1 + jitter
	}

	return time.Duration(delay)
}
