package dispatcher

import (
	"context"
	"errors"
	"time"

	"github.com/notifyd/notifyd/internal/domain"
	"github.com/notifyd/notifyd/internal/provider"
	"github.com/notifyd/notifyd/internal/ratelimit"
	"github.com/notifyd/notifyd/internal/registry"
	"go.uber.org/zap"
)

// processItem drives one claimed queue item through a single delivery
// attempt. Providers are tried in priority order within the attempt;
// the attempt count advances at most once per claim, no matter how many
// providers were tried.
func (d *Dispatcher) processItem(ctx context.Context, item *domain.QueueItem) {
	logger := d.logger.With(
		zap.String("notificationID", item.NotificationID),
		zap.String("queueItemID", item.ID),
	)

	n, err := d.notifications.GetByID(ctx, item.NotificationID)
	if errors.Is(err, domain.ErrNotFound) {
		d.ack(ctx, item, logger)
		return
	}
	if err != nil {
		logger.Error("failed to load notification", zap.Error(err))
		return
	}

	// A terminal or already-sent notification left a stale queue item behind;
	// drop it.
	if n.Status.IsTerminal() || n.Status == domain.StatusSent {
		d.ack(ctx, item, logger)
		return
	}
	switch n.Status {
	case domain.StatusScheduled, domain.StatusRetryWait:
		if err := d.notifications.Transition(ctx, n.ID, n.Status, domain.StatusInFlight, nil); err != nil {
			// Lost the race, usually to a cancel. The item is stale either way.
			if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) {
				d.ack(ctx, item, logger)
				return
			}
			logger.Error("failed to mark notification in flight", zap.Error(err))
			return
		}

	case domain.StatusInFlight:
		// The previous holder died mid-attempt and its lease lapsed; this claim
		// now owns the item, so resume the attempt from here.
		logger.Warn("resuming notification abandoned in flight")

	default:
		logger.Warn("queue item references notification in unexpected status",
			zap.String("status", n.Status.String()))
		d.ack(ctx, item, logger)
		return
	}

	d.metrics.IncDispatcherInFlight(n.Channel.String())
	defer d.metrics.DecDispatcherInFlight(n.Channel.String())

	d.attempt(ctx, item, n, logger)
}

func (d *Dispatcher) attempt(ctx context.Context, item *domain.QueueItem, n *domain.Notification, logger *zap.Logger) {
	attemptNumber := n.AttemptCount + 1

	candidates := d.router.ListProviders(n.Channel)
	if len(candidates) == 0 {
		d.failTerminal(ctx, item, n, domain.ErrorKindNoAvailableProvider,
			"no provider available for channel "+n.Channel.String(), n.AttemptCount, logger)
		return
	}

	// The per-recipient budget is independent of provider choice, so one
	// denial defers the whole attempt without consuming it.
	if !d.tryAcquire(ctx, ratelimit.RecipientKey(n.Channel, n.Recipient), logger) {
		d.releaseAll(candidates)
		d.metrics.IncRateLimited(n.Channel.String(), "recipient")
		d.deferRateLimited(ctx, item, n, logger)
		return
	}

	msg := provider.Message{
		To:      n.Recipient,
		Channel: n.Channel.String(),
		Subject: n.Subject,
		Body:    n.Body,
	}

	leaseDeadline := d.now().Add(d.cfg.LeaseDuration)
	if item.LeaseExpiresAt != nil {
		leaseDeadline = *item.LeaseExpiresAt
	}

	var (
		transientFailures int
		rateLimitedSkips  int
		lastError         string
		lastTransient     *registry.Candidate
	)

	for i := range candidates {
		candidate := candidates[i]

		if !d.tryAcquire(ctx, ratelimit.ProviderKey(candidate.Name), logger) {
			d.router.Release(candidate.Name, candidate.Channel)
			d.metrics.IncRateLimited(n.Channel.String(), "provider")
			rateLimitedSkips++
			continue
		}

		adapter, ok := d.directory.Get(candidate.Name, candidate.Channel)
		if !ok {
			logger.Warn("no adapter for configured provider", zap.String("provider", candidate.Name))
			d.router.Release(candidate.Name, candidate.Channel)
			continue
		}

		// The lease is the outer time budget: a provider call may never run
		// past the point where another worker could reclaim this item.
		timeout := d.cfg.ProviderTimeout
		if remaining := leaseDeadline.Sub(d.now()); remaining < timeout {
			timeout = remaining
		}
		if timeout <= 0 {
			d.router.Release(candidate.Name, candidate.Channel)
			d.releaseAll(candidates[i+1:])
			d.flushPendingOutcome(lastTransient)
			logger.Warn("lease budget exhausted before provider call")
			return
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		start := d.now()
		result, err := adapter.Deliver(callCtx, msg)
		cancel()
		latency := d.now().Sub(start)

		// A worker being shut down aborts the call through the parent context.
		// That says nothing about the provider or the message: leave the
		// notification in flight and let the lease lapse for the next worker.
		if err != nil && ctx.Err() != nil {
			d.router.Release(candidate.Name, candidate.Channel)
			d.releaseAll(candidates[i+1:])
			d.flushPendingOutcome(lastTransient)
			return
		}

		d.recordAttempt(ctx, n, attemptNumber, candidate.Name, result, err, latency, logger)
		d.metrics.ObserveAttemptDuration(n.Channel.String(), candidate.Name, latency)

		if err == nil {
			d.router.ReportOutcome(candidate.Name, candidate.Channel, true)
			d.releaseAll(candidates[i+1:])
			d.flushPendingOutcome(lastTransient)
			d.markSent(ctx, item, n, candidate.Name, result, attemptNumber, logger)
			return
		}

		lastError = err.Error()

		switch {
		case provider.IsRateLimited(err):
			// Provider throttling says nothing about its health.
			d.router.Release(candidate.Name, candidate.Channel)
			d.metrics.IncRateLimited(n.Channel.String(), "provider")
			rateLimitedSkips++

		case provider.IsRetryable(err):
			transientFailures++
			if d.cfg.CircuitCountFailover {
				d.router.ReportOutcome(candidate.Name, candidate.Channel, false)
			} else {
				// Only the final failing provider of the attempt is charged.
				d.flushPendingOutcome(lastTransient)
				lastTransient = &candidate
			}

		default:
			// A definitive rejection of this message. The provider answered,
			// so its circuit is not charged, and no other provider can help.
			d.router.Release(candidate.Name, candidate.Channel)
			d.releaseAll(candidates[i+1:])
			d.flushPendingOutcome(lastTransient)
			d.failTerminal(ctx, item, n, domain.ErrorKindPermanentProvider, lastError, attemptNumber, logger)
			return
		}
	}

	d.flushPendingOutcome(lastTransient)

	switch {
	case transientFailures == 0 && rateLimitedSkips > 0:
		// Every candidate was throttled; the attempt was never really made.
		d.deferRateLimited(ctx, item, n, logger)

	case transientFailures == 0:
		d.failTerminal(ctx, item, n, domain.ErrorKindNoAvailableProvider,
			"no provider available for channel "+n.Channel.String(), n.AttemptCount, logger)

	case attemptNumber >= n.MaxAttempts:
		d.failTerminal(ctx, item, n, domain.ErrorKindExhaustedRetries, lastError, attemptNumber, logger)

	default:
		d.deferRetry(ctx, item, n, attemptNumber, lastError, logger)
	}
}

func (d *Dispatcher) markSent(ctx context.Context, item *domain.QueueItem, n *domain.Notification, providerName string, result *provider.Result, attemptNumber int, logger *zap.Logger) {
	sentAt := d.now().UTC()
	updates := map[string]any{
		"provider":      providerName,
		"sent_at":       sentAt,
		"attempt_count": attemptNumber,
		"last_error":    "",
		"error_kind":    "",
	}
	if result != nil && result.MessageID != "" {
		updates["provider_msg_id"] = result.MessageID
	}

	if err := d.notifications.Transition(ctx, n.ID, domain.StatusInFlight, domain.StatusSent, updates); err != nil {
		logger.Error("failed to mark notification sent", zap.Error(err))
		if !errors.Is(err, domain.ErrConflict) && !errors.Is(err, domain.ErrNotFound) {
			return
		}
	}

	d.metrics.IncNotificationSent(n.Channel.String(), providerName)
	d.ack(ctx, item, logger)

	logger.Info("notification sent",
		zap.String("provider", providerName),
		zap.Int("attempt", attemptNumber),
	)
}

func (d *Dispatcher) failTerminal(ctx context.Context, item *domain.QueueItem, n *domain.Notification, kind domain.ErrorKind, message string, attemptCount int, logger *zap.Logger) {
	updates := map[string]any{
		"error_kind":    kind,
		"last_error":    message,
		"attempt_count": attemptCount,
	}

	if err := d.notifications.Transition(ctx, n.ID, domain.StatusInFlight, domain.StatusFailed, updates); err != nil {
		logger.Error("failed to mark notification failed", zap.Error(err))
		if !errors.Is(err, domain.ErrConflict) && !errors.Is(err, domain.ErrNotFound) {
			return
		}
	}

	d.metrics.IncNotificationFailed(n.Channel.String(), kind.String())
	d.ack(ctx, item, logger)

	logger.Warn("notification failed",
		zap.String("kind", kind.String()),
		zap.String("error", message),
	)
}

// deferRetry consumes the attempt and schedules the next one with
// exponential backoff.
func (d *Dispatcher) deferRetry(ctx context.Context, item *domain.QueueItem, n *domain.Notification, attemptNumber int, lastError string, logger *zap.Logger) {
	delay := d.backoff.Delay(attemptNumber)
	nextAttemptAt := d.now().UTC().Add(delay)

	updates := map[string]any{
		"attempt_count": attemptNumber,
		"last_error":    lastError,
		"error_kind":    domain.ErrorKindTransientProvider,
	}
	if err := d.notifications.Transition(ctx, n.ID, domain.StatusInFlight, domain.StatusRetryWait, updates); err != nil {
		logger.Error("failed to mark notification retry_wait", zap.Error(err))
		return
	}

	if err := d.queue.Requeue(ctx, item.ID, item.AttemptID, nextAttemptAt); err != nil {
		logger.Error("failed to requeue notification", zap.Error(err))
		return
	}

	d.metrics.IncRetryScheduled(n.Channel.String())
	logger.Info("notification retry scheduled",
		zap.Int("attempt", attemptNumber),
		zap.Duration("delay", delay),
	)
}

// deferRateLimited requeues without consuming an attempt: the notification
// never reached a provider.
func (d *Dispatcher) deferRateLimited(ctx context.Context, item *domain.QueueItem, n *domain.Notification, logger *zap.Logger) {
	nextAttemptAt := d.now().UTC().Add(d.cfg.RateRetryDelay)

	updates := map[string]any{
		"error_kind": domain.ErrorKindRateLimited,
		"last_error": "rate limited",
	}
	if err := d.notifications.Transition(ctx, n.ID, domain.StatusInFlight, domain.StatusRetryWait, updates); err != nil {
		logger.Error("failed to mark notification retry_wait", zap.Error(err))
		return
	}

	if err := d.queue.Requeue(ctx, item.ID, item.AttemptID, nextAttemptAt); err != nil {
		logger.Error("failed to requeue notification", zap.Error(err))
		return
	}

	d.metrics.IncRetryScheduled(n.Channel.String())
	logger.Info("notification deferred by rate limit", zap.Duration("delay", d.cfg.RateRetryDelay))
}

func (d *Dispatcher) recordAttempt(ctx context.Context, n *domain.Notification, attemptNumber int, providerName string, result *provider.Result, callErr error, latency time.Duration, logger *zap.Logger) {
	attempt := &domain.DeliveryAttempt{
		ID:             d.newID(),
		NotificationID: n.ID,
		AttemptNumber:  attemptNumber,
		Provider:       providerName,
		LatencyMillis:  latency.Milliseconds(),
		CreatedAt:      d.now().UTC(),
	}

	if result != nil {
		statusCode := result.StatusCode
		attempt.StatusCode = &statusCode
		if result.Body != "" {
			body := result.Body
			attempt.ResponseBody = &body
		}
	}
	if callErr != nil {
		msg := callErr.Error()
		attempt.Error = &msg

		var deliveryErr *provider.DeliveryError
		if errors.As(callErr, &deliveryErr) && deliveryErr.StatusCode > 0 {
			statusCode := deliveryErr.StatusCode
			attempt.StatusCode = &statusCode
		}
	}

	if err := d.attempts.Create(ctx, attempt); err != nil {
		logger.Error("failed to record delivery attempt", zap.Error(err))
	}
}

func (d *Dispatcher) tryAcquire(ctx context.Context, key string, logger *zap.Logger) bool {
	allowed, err := d.limiter.TryAcquire(ctx, key, 1)
	if err != nil {
		// A broken limiter must not stall deliveries.
		logger.Warn("rate limiter error, allowing", zap.String("key", key), zap.Error(err))
		return true
	}
	return allowed
}

func (d *Dispatcher) releaseAll(candidates []registry.Candidate) {
	for _, candidate := range candidates {
		d.router.Release(candidate.Name, candidate.Channel)
	}
}

func (d *Dispatcher) flushPendingOutcome(pending *registry.Candidate) {
	if pending != nil {
		d.router.ReportOutcome(pending.Name, pending.Channel, false)
	}
}

func (d *Dispatcher) ack(ctx context.Context, item *domain.QueueItem, logger *zap.Logger) {
	if err := d.queue.Ack(ctx, item.ID, item.AttemptID); err != nil && !errors.Is(err, domain.ErrConflict) {
		logger.Error("failed to ack queue item", zap.Error(err))
	}
}
