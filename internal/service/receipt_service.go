package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/notifyd/notifyd/internal/domain"
	"github.com/notifyd/notifyd/internal/repository"
	"go.uber.org/zap"
)

// ReceiptEvent is a provider callback about a message after handoff.
type ReceiptEvent string

const (
	ReceiptDelivered ReceiptEvent = "delivered"
	ReceiptBounced   ReceiptEvent = "bounced"
	ReceiptOpened    ReceiptEvent = "opened"
	ReceiptClicked   ReceiptEvent = "clicked"
)

func ParseReceiptEventFromString(s string) (ReceiptEvent, error) {
	event := ReceiptEvent(strings.ToLower(strings.TrimSpace(s)))
	switch event {
	case ReceiptDelivered, ReceiptBounced, ReceiptOpened, ReceiptClicked:
		return event, nil
	}
	return "", fmt.Errorf("%w: invalid receipt event %q", domain.ErrValidation, s)
}

// Receipt is one delivery callback from a provider. Callbacks identify the
// notification either directly or by the message id the provider assigned
// at handoff; at least one of the two must be set.
type Receipt struct {
	NotificationID    string
	ProviderMessageID string
	Event             ReceiptEvent
	Reason            string
	OccurredAt        *time.Time
}

// ReceiptService applies provider delivery callbacks to notifications.
// Receipts arrive at-least-once and out of order; the repository's guarded
// transitions keep the status monotonic.
type ReceiptService struct {
	notifications repository.NotificationRepository
	logger        *zap.Logger
	now           func() time.Time
}

func NewReceiptService(notifications repository.NotificationRepository, logger *zap.Logger) (*ReceiptService, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ReceiptService{
		notifications: notifications,
		logger:        logger,
		now:           time.Now,
	}, nil
}

func (s *ReceiptService) Apply(ctx context.Context, receipt Receipt) error {
	id, err := s.resolveID(ctx, receipt)
	if err != nil {
		return err
	}
	receipt.NotificationID = id

	at := s.now().UTC()
	if receipt.OccurredAt != nil {
		at = receipt.OccurredAt.UTC()
	}

	switch receipt.Event {
	case ReceiptDelivered:
		err = s.notifications.MarkDelivered(ctx, receipt.NotificationID, at)
	case ReceiptBounced:
		reason := receipt.Reason
		if reason == "" {
			reason = "bounced"
		}
		err = s.notifications.MarkBounced(ctx, receipt.NotificationID, at, reason)
	case ReceiptOpened:
		err = s.notifications.MarkOpened(ctx, receipt.NotificationID, at)
	case ReceiptClicked:
		err = s.notifications.MarkClicked(ctx, receipt.NotificationID, at)
	default:
		return fmt.Errorf("%w: invalid receipt event %q", domain.ErrValidation, receipt.Event)
	}
	if err != nil {
		return err
	}

	s.logger.Info("receipt applied",
		zap.String("notificationID", receipt.NotificationID),
		zap.String("event", string(receipt.Event)),
	)
	return nil
}

func (s *ReceiptService) resolveID(ctx context.Context, receipt Receipt) (string, error) {
	if id := strings.TrimSpace(receipt.NotificationID); id != "" {
		return id, nil
	}

	providerMsgID := strings.TrimSpace(receipt.ProviderMessageID)
	if providerMsgID == "" {
		return "", fmt.Errorf("%w: notification id or provider message id is required", domain.ErrValidation)
	}

	n, err := s.notifications.GetByProviderMessageID(ctx, providerMsgID)
	if err != nil {
		return "", err
	}
	return n.ID, nil
}
