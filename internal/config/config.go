package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL"`

	APIPort     int    `env:"API_PORT,default=8080"`
	MetricsPort int    `env:"METRICS_PORT,default=9090"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`

	// ProvidersJSON configures the channel provider adapters as a JSON array,
	// e.g. [{"name":"relay-a","channel":"email","endpoint":"https://...","priority":10,"ratePerSec":50}].
	ProvidersJSON string `env:"PROVIDERS"`

	WorkerConcurrency  int `env:"WORKER_CONCURRENCY,default=16"`
	PollIntervalMillis int `env:"POLL_INTERVAL_MS,default=250"`
	LeaseSeconds       int `env:"LEASE_SECONDS,default=30"`

	MaxAttempts        int `env:"MAX_ATTEMPTS,default=3"`
	ProviderTimeoutSec int `env:"PROVIDER_TIMEOUT_SECONDS,default=30"`
	BackoffBaseMillis  int `env:"BACKOFF_BASE_MS,default=1000"`
	BackoffMaxSeconds  int `env:"BACKOFF_MAX_SECONDS,default=300"`
	RateRetrySeconds   int `env:"RATE_RETRY_SECONDS,default=5"`

	CircuitFailureThreshold int  `env:"CIRCUIT_FAILURE_THRESHOLD,default=10"`
	CircuitCoolDownSeconds  int  `env:"CIRCUIT_COOLDOWN_SECONDS,default=300"`
	CircuitMaxCoolDownSec   int  `env:"CIRCUIT_MAX_COOLDOWN_SECONDS,default=3600"`
	CircuitCountFailover    bool `env:"CIRCUIT_COUNT_FAILOVER,default=true"`

	DedupWindowSeconds int `env:"DEDUP_WINDOW_SECONDS,default=3600"`

	// DigestCron defines digest window boundaries in cron syntax.
	DigestCron string `env:"DIGEST_CRON,default=0 */4 * * *"`

	RecipientEmailPerHour int `env:"RECIPIENT_EMAIL_PER_HOUR,default=100"`
	RecipientSMSPerHour   int `env:"RECIPIENT_SMS_PER_HOUR,default=20"`
	RecipientPushPerHour  int `env:"RECIPIENT_PUSH_PER_HOUR,default=200"`

	ProviderRefreshSeconds int `env:"PROVIDER_REFRESH_SECONDS,default=60"`
	MonitorIntervalSeconds int `env:"MONITOR_INTERVAL_SECONDS,default=15"`

	TemplateDir string `env:"TEMPLATE_DIR"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

func (c *Config) LeaseDuration() time.Duration {
	return time.Duration(c.LeaseSeconds) * time.Second
}

func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutSec) * time.Second
}

func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMillis) * time.Millisecond
}

func (c *Config) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxSeconds) * time.Second
}

func (c *Config) RateRetryDelay() time.Duration {
	return time.Duration(c.RateRetrySeconds) * time.Second
}

func (c *Config) CircuitCoolDown() time.Duration {
	return time.Duration(c.CircuitCoolDownSeconds) * time.Second
}

func (c *Config) CircuitMaxCoolDown() time.Duration {
	return time.Duration(c.CircuitMaxCoolDownSec) * time.Second
}

func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowSeconds) * time.Second
}

func (c *Config) ProviderRefreshInterval() time.Duration {
	return time.Duration(c.ProviderRefreshSeconds) * time.Second
}

func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.MonitorIntervalSeconds) * time.Second
}
