package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/notifyd/notifyd/internal/domain"
)

type providerSpec struct {
	Name       string  `json:"name"`
	Channel    string  `json:"channel"`
	Endpoint   string  `json:"endpoint"`
	Enabled    *bool   `json:"enabled,omitempty"`
	Priority   int     `json:"priority"`
	RatePerSec float64 `json:"ratePerSec"`
	Burst      int     `json:"burst"`
}

// Providers parses the PROVIDERS environment JSON into provider configs.
// These seed the persisted provider table on startup.
func (c *Config) Providers() ([]domain.ProviderConfig, error) {
	raw := strings.TrimSpace(c.ProvidersJSON)
	if raw == "" {
		return nil, nil
	}

	var specs []providerSpec
	if err := json.Unmarshal([]byte(raw), &specs); err != nil {
		return nil, fmt.Errorf("invalid PROVIDERS json: %w", err)
	}

	configs := make([]domain.ProviderConfig, 0, len(specs))
	for _, spec := range specs {
		channel, err := domain.ParseChannelFromString(spec.Channel)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", spec.Name, err)
		}
		if strings.TrimSpace(spec.Name) == "" {
			return nil, fmt.Errorf("%w: provider name is required", domain.ErrValidation)
		}
		if strings.TrimSpace(spec.Endpoint) == "" {
			return nil, fmt.Errorf("%w: provider %q endpoint is required", domain.ErrValidation, spec.Name)
		}

		enabled := true
		if spec.Enabled != nil {
			enabled = *spec.Enabled
		}
		ratePerSec := spec.RatePerSec
		if ratePerSec <= 0 {
			ratePerSec = 10
		}
		burst := spec.Burst
		if burst < 1 {
			burst = int(ratePerSec)
			if burst < 1 {
				burst = 1
			}
		}

		configs = append(configs, domain.ProviderConfig{
			Name:       strings.TrimSpace(spec.Name),
			Channel:    channel,
			Endpoint:   strings.TrimSpace(spec.Endpoint),
			Enabled:    enabled,
			Priority:   spec.Priority,
			RatePerSec: ratePerSec,
			Burst:      burst,
		})
	}

	return configs, nil
}
