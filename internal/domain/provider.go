package domain

import "time"

// CircuitState is the health gate for a (provider, channel) pair.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

func (s CircuitState) String() string { return string(s) }

// ProviderState is the per (provider, channel) routing and health record.
// Enabled and Priority come from persisted configuration; the circuit fields
// are live state owned by the registry's breaker.
type ProviderState struct {
	Name                string
	Channel             Channel
	Enabled             bool
	Priority            int
	ConsecutiveFailures int
	Circuit             CircuitState
	LastSuccessAt       *time.Time
	LastFailureAt       *time.Time
	OpenUntil           *time.Time
}

// ProviderConfig is the persisted configuration for one provider adapter.
type ProviderConfig struct {
	Name       string
	Channel    Channel
	Endpoint   string
	Enabled    bool
	Priority   int
	RatePerSec float64
	Burst      int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
