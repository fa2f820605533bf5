package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the API and dispatcher flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal        *prometheus.CounterVec
	httpRequestDuration      *prometheus.HistogramVec
	notificationsSentTotal   *prometheus.CounterVec
	notificationsFailedTotal *prometheus.CounterVec
	suppressedTotal          *prometheus.CounterVec
	attemptDuration          *prometheus.HistogramVec
	dispatcherInflight       *prometheus.GaugeVec
	retryScheduledTotal      *prometheus.CounterVec
	queueDepth               *prometheus.GaugeVec
	circuitState             *prometheus.GaugeVec
	rateLimitedTotal         *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notifyd",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "notifyd",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		notificationsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notifyd",
				Name:      "notifications_sent_total",
				Help:      "Total number of notifications sent successfully by channel and provider.",
			},
			[]string{"channel", "provider"},
		),
		notificationsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notifyd",
				Name:      "notifications_failed_total",
				Help:      "Total number of notifications that ended in failed state by channel and reason.",
			},
			[]string{"channel", "reason"},
		),
		suppressedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notifyd",
				Name:      "notifications_suppressed_total",
				Help:      "Total number of duplicate submissions suppressed by the deduplicator.",
			},
			[]string{"channel"},
		),
		attemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "notifyd",
				Name:      "delivery_attempt_duration_seconds",
				Help:      "Provider call duration in seconds grouped by channel and provider.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"channel", "provider"},
		),
		dispatcherInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "notifyd",
				Name:      "dispatcher_inflight",
				Help:      "Current number of in-flight delivery attempts grouped by channel.",
			},
			[]string{"channel"},
		),
		retryScheduledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notifyd",
				Name:      "retry_scheduled_total",
				Help:      "Total number of notifications scheduled for retry.",
			},
			[]string{"channel"},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "notifyd",
				Name:      "queue_depth",
				Help:      "Current number of pending queue items grouped by channel.",
			},
			[]string{"channel"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "notifyd",
				Name:      "circuit_state",
				Help:      "Circuit breaker state per provider and channel (0 closed, 1 half_open, 2 open).",
			},
			[]string{"provider", "channel"},
		),
		rateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notifyd",
				Name:      "rate_limited_total",
				Help:      "Total number of delivery attempts deferred by rate limiting.",
			},
			[]string{"channel", "scope"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.notificationsSentTotal,
		m.notificationsFailedTotal,
		m.suppressedTotal,
		m.attemptDuration,
		m.dispatcherInflight,
		m.retryScheduledTotal,
		m.queueDepth,
		m.circuitState,
		m.rateLimitedTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncNotificationSent(channel, provider string) {
	if m == nil {
		return
	}
	m.notificationsSentTotal.WithLabelValues(normalizeLabel(channel), normalizeLabel(provider)).Inc()
}

func (m *Metrics) IncNotificationFailed(channel, reason string) {
	if m == nil {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	m.notificationsFailedTotal.WithLabelValues(normalizeLabel(channel), reasonLabel).Inc()
}

func (m *Metrics) IncSuppressed(channel string) {
	if m == nil {
		return
	}
	m.suppressedTotal.WithLabelValues(normalizeLabel(channel)).Inc()
}

func (m *Metrics) ObserveAttemptDuration(channel, provider string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.attemptDuration.WithLabelValues(normalizeLabel(channel), normalizeLabel(provider)).Observe(seconds)
}

func (m *Metrics) IncDispatcherInFlight(channel string) {
	if m == nil {
		return
	}
	m.dispatcherInflight.WithLabelValues(normalizeLabel(channel)).Inc()
}

func (m *Metrics) DecDispatcherInFlight(channel string) {
	if m == nil {
		return
	}
	m.dispatcherInflight.WithLabelValues(normalizeLabel(channel)).Dec()
}

func (m *Metrics) IncRetryScheduled(channel string) {
	if m == nil {
		return
	}
	m.retryScheduledTotal.WithLabelValues(normalizeLabel(channel)).Inc()
}

func (m *Metrics) SetQueueDepth(channel string, depth int64) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(channel)).Set(float64(depth))
}

func (m *Metrics) SetCircuitState(provider, channel string, state string) {
	if m == nil {
		return
	}
	var value float64
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "half_open":
		value = 1
	case "open":
		value = 2
	}
	m.circuitState.WithLabelValues(normalizeLabel(provider), normalizeLabel(channel)).Set(value)
}

func (m *Metrics) IncRateLimited(channel, scope string) {
	if m == nil {
		return
	}
	m.rateLimitedTotal.WithLabelValues(normalizeLabel(channel), normalizeLabel(scope)).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(v string) string {
	normalized := strings.ToLower(strings.TrimSpace(v))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
