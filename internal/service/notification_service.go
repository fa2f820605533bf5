package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/notifyd/notifyd/internal/dedup"
	"github.com/notifyd/notifyd/internal/domain"
	"github.com/notifyd/notifyd/internal/observability"
	"github.com/notifyd/notifyd/internal/render"
	"github.com/notifyd/notifyd/internal/repository"
	"github.com/notifyd/notifyd/internal/scheduler"
	"go.uber.org/zap"
)

const defaultMaxAttempts = 3

// SubmitRequest is one notification submission before normalization.
type SubmitRequest struct {
	Channel   string
	Category  string
	Recipient string
	Template  string
	Variables map[string]string
	Priority  *int
	Prefs     domain.RecipientPrefs
}

// NotificationService owns the submission pipeline: validate, render,
// deduplicate, schedule, persist, enqueue. Everything after Submit returns is
// the dispatcher's problem.
type NotificationService struct {
	notifications repository.NotificationRepository
	attempts      repository.AttemptRepository
	queue         repository.QueueRepository
	renderer      render.Renderer
	fingerprinter *dedup.Fingerprinter
	dedupStore    dedup.Store
	policy        *scheduler.Policy
	dedupWindow   time.Duration
	maxAttempts   int
	metrics       *observability.Metrics
	logger        *zap.Logger
	now           func() time.Time
	newID         func() string
}

func NewNotificationService(
	notifications repository.NotificationRepository,
	attempts repository.AttemptRepository,
	queue repository.QueueRepository,
	renderer render.Renderer,
	fingerprinter *dedup.Fingerprinter,
	dedupStore dedup.Store,
	policy *scheduler.Policy,
	dedupWindow time.Duration,
	maxAttempts int,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*NotificationService, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if queue == nil {
		return nil, fmt.Errorf("queue repository is required")
	}
	if renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if fingerprinter == nil {
		return nil, fmt.Errorf("fingerprinter is required")
	}
	if dedupStore == nil {
		return nil, fmt.Errorf("dedup store is required")
	}
	if policy == nil {
		return nil, fmt.Errorf("scheduling policy is required")
	}
	if dedupWindow <= 0 {
		dedupWindow = time.Hour
	}
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NotificationService{
		notifications: notifications,
		attempts:      attempts,
		queue:         queue,
		renderer:      renderer,
		fingerprinter: fingerprinter,
		dedupStore:    dedupStore,
		policy:        policy,
		dedupWindow:   dedupWindow,
		maxAttempts:   maxAttempts,
		metrics:       metrics,
		logger:        logger,
		now:           time.Now,
		newID:         uuid.NewString,
	}, nil
}

// Submit accepts one notification. A suppressed duplicate is returned as a
// persisted record, not an error: the caller can see what happened and why.
func (s *NotificationService) Submit(ctx context.Context, req SubmitRequest) (*domain.Notification, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	channel, err := domain.ParseChannelFromString(req.Channel)
	if err != nil {
		return nil, err
	}
	category, err := domain.ParseCategoryFromString(req.Category)
	if err != nil {
		return nil, err
	}

	n := &domain.Notification{
		ID:           s.newID(),
		Channel:      channel,
		Category:     category,
		Recipient:    strings.TrimSpace(req.Recipient),
		TemplateName: strings.TrimSpace(req.Template),
		Variables:    req.Variables,
		Status:       domain.StatusQueued,
		Priority:     domain.DefaultPriority(category),
		MaxAttempts:  s.maxAttempts,
	}
	if req.Priority != nil {
		n.Priority = *req.Priority
	}

	if err := n.Validate(); err != nil {
		return nil, err
	}

	subject, body, err := s.renderer.Render(n.TemplateName, n.Variables)
	if err != nil {
		return s.failBeforeDispatch(ctx, n, renderErrorKind(err), err)
	}
	n.Subject = subject
	n.Body = body

	// Body limits only become checkable after rendering.
	if err := n.Validate(); err != nil {
		return s.failBeforeDispatch(ctx, n, domain.ErrorKindInput, err)
	}

	now := s.now().UTC()

	// Preference validation happens before the fingerprint is recorded: a
	// rejected submission must not suppress the caller's corrected retry.
	notBefore, err := s.policy.ComputeNotBefore(req.Prefs, category, now)
	if err != nil {
		return nil, err
	}
	n.NotBefore = &notBefore

	n.Fingerprint = s.fingerprinter.Fingerprint(n.Channel, n.Recipient, n.TemplateName, n.Variables, now)

	duplicate, err := s.dedupStore.CheckAndRecord(ctx, n.Fingerprint, s.dedupWindow)
	if err != nil {
		// Dedup is best effort: a broken store must not block deliveries.
		s.logger.Warn("dedup check failed, continuing", zap.Error(err))
	} else if duplicate {
		return s.suppress(ctx, n)
	}

	if err := s.notifications.Create(ctx, n); err != nil {
		s.forgetFingerprint(ctx, n.Fingerprint)
		return nil, fmt.Errorf("failed to persist notification: %w", err)
	}

	if err := s.notifications.Transition(ctx, n.ID, domain.StatusQueued, domain.StatusScheduled, map[string]any{
		"not_before": notBefore,
	}); err != nil {
		s.forgetFingerprint(ctx, n.Fingerprint)
		return nil, fmt.Errorf("failed to schedule notification: %w", err)
	}
	n.Status = domain.StatusScheduled

	item := &domain.QueueItem{
		ID:             s.newID(),
		NotificationID: n.ID,
		Channel:        n.Channel,
		Priority:       n.Priority,
		NextAttemptAt:  notBefore,
	}
	if err := s.queue.Enqueue(ctx, item); err != nil {
		s.logger.Error("failed to enqueue notification",
			zap.String("notificationID", n.ID),
			zap.Error(err),
		)
		if markErr := s.notifications.Transition(ctx, n.ID, domain.StatusScheduled, domain.StatusFailed, map[string]any{
			"error_kind": domain.ErrorKindInput,
			"last_error": "failed to enqueue",
		}); markErr != nil {
			s.logger.Error("failed to mark notification failed after enqueue error",
				zap.String("notificationID", n.ID),
				zap.Error(markErr),
			)
		}
		s.forgetFingerprint(ctx, n.Fingerprint)
		return nil, fmt.Errorf("failed to enqueue notification: %w", err)
	}

	s.logger.Info("notification accepted",
		zap.String("notificationID", n.ID),
		zap.String("channel", n.Channel.String()),
		zap.String("category", n.Category.String()),
		zap.Time("notBefore", notBefore),
	)

	return n, nil
}

// suppress persists a terminal record for a duplicate so the submission is
// auditable, then reports it back without an error.
func (s *NotificationService) suppress(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	n.Status = domain.StatusSuppressed
	n.ErrorKind = domain.ErrorKindDuplicate
	n.LastError = "duplicate within dedup window"

	if err := s.notifications.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to persist suppressed notification: %w", err)
	}

	s.metrics.IncSuppressed(n.Channel.String())
	s.logger.Info("notification suppressed as duplicate",
		zap.String("notificationID", n.ID),
		zap.String("fingerprint", n.Fingerprint),
	)

	return n, nil
}

// forgetFingerprint releases a fingerprint recorded for a submission that was
// never accepted, so the caller's retry does not read as a duplicate of it.
func (s *NotificationService) forgetFingerprint(ctx context.Context, fingerprint string) {
	if err := s.dedupStore.Forget(ctx, fingerprint); err != nil {
		s.logger.Warn("failed to release dedup fingerprint",
			zap.String("fingerprint", fingerprint),
			zap.Error(err),
		)
	}
}

// failBeforeDispatch persists a terminal failed record for submissions that
// die before reaching the queue, so callers can inspect them later.
func (s *NotificationService) failBeforeDispatch(ctx context.Context, n *domain.Notification, kind domain.ErrorKind, cause error) (*domain.Notification, error) {
	n.Status = domain.StatusFailed
	n.ErrorKind = kind
	n.LastError = cause.Error()

	if err := s.notifications.Create(ctx, n); err != nil {
		s.logger.Error("failed to persist rejected notification", zap.Error(err))
	}
	s.metrics.IncNotificationFailed(n.Channel.String(), kind.String())

	return nil, fmt.Errorf("%w: %v", domain.ErrValidation, cause)
}

func renderErrorKind(err error) domain.ErrorKind {
	if errors.Is(err, render.ErrTemplateNotFound) {
		return domain.ErrorKindTemplateNotFound
	}
	return domain.ErrorKindTemplateRender
}

func (s *NotificationService) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	return s.notifications.GetByID(ctx, strings.TrimSpace(id))
}

func (s *NotificationService) List(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error) {
	return s.notifications.List(ctx, params)
}

// StatusCounts reports how many notifications sit in each status.
func (s *NotificationService) StatusCounts(ctx context.Context) (map[domain.Status]int64, error) {
	return s.notifications.CountByStatus(ctx)
}

func (s *NotificationService) GetAttempts(ctx context.Context, notificationID string) ([]domain.DeliveryAttempt, error) {
	if strings.TrimSpace(notificationID) == "" {
		return nil, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}

	if _, err := s.notifications.GetByID(ctx, notificationID); err != nil {
		return nil, err
	}
	return s.attempts.GetByNotificationID(ctx, notificationID)
}

func (s *NotificationService) Cancel(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	return s.notifications.Cancel(ctx, strings.TrimSpace(id))
}
