package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/notifyd/notifyd/internal/domain"
	"gorm.io/gorm"
)

type ListParams struct {
	Status    *domain.Status
	Channel   *domain.Channel
	Category  *domain.Category
	Recipient *string
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
}

type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	GetByProviderMessageID(ctx context.Context, providerMsgID string) (*domain.Notification, error)
	List(ctx context.Context, params ListParams) ([]domain.Notification, int64, error)
	Transition(ctx context.Context, id string, from, to domain.Status, updates map[string]any) error
	Cancel(ctx context.Context, id string) error
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	MarkBounced(ctx context.Context, id string, at time.Time, reason string) error
	MarkOpened(ctx context.Context, id string, at time.Time) error
	MarkClicked(ctx context.Context, id string, at time.Time) error
	CountByStatus(ctx context.Context) (map[domain.Status]int64, error)
}

type GormNotificationRepo struct {
	db *gorm.DB
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db}
}

func (r *GormNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	model := notificationModelFromDomain(n)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if n != nil {
		*n = *notificationModelToDomain(model)
	}
	return nil
}

func (r *GormNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

// GetByProviderMessageID resolves a notification by the id the provider
// assigned at handoff. Receipt webhooks often carry only that id.
func (r *GormNotificationRepo) GetByProviderMessageID(ctx context.Context, providerMsgID string) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).First(&model, "provider_msg_id = ?", providerMsgID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

func (r *GormNotificationRepo) List(ctx context.Context, params ListParams) ([]domain.Notification, int64, error) {
	query := r.db.WithContext(ctx).Model(&NotificationModel{})

	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Channel != nil {
		query = query.Where("channel = ?", *params.Channel)
	}
	if params.Category != nil {
		query = query.Where("category = ?", *params.Category)
	}
	if params.Recipient != nil {
		query = query.Where("recipient = ?", *params.Recipient)
	}
	if params.From != nil {
		query = query.Where("created_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("created_at <= ?", *params.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []NotificationModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}

	return notifications, total, nil
}

// Transition moves a notification from one status to another with extra column
// updates applied atomically. The from-status is part of the WHERE clause, so
// a stale caller loses the race and gets ErrConflict instead of clobbering a
// newer state.
func (r *GormNotificationRepo) Transition(ctx context.Context, id string, from, to domain.Status, updates map[string]any) error {
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("%w: illegal transition %s -> %s", domain.ErrConflict, from, to)
	}

	values := map[string]any{"status": to}
	for column, value := range updates {
		values[column] = value
	}

	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).
			Model(&NotificationModel{}).
			Where("id = ?", id).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrNotFound
		}
		return domain.ErrConflict
	}
	return nil
}

// Cancel marks a not-yet-delivering notification failed with a cancelled
// error kind. In-flight and terminal notifications cannot be cancelled.
func (r *GormNotificationRepo) Cancel(ctx context.Context, id string) error {
	cancellable := []domain.Status{domain.StatusQueued, domain.StatusScheduled, domain.StatusRetryWait}

	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status IN ?", id, cancellable).
		Updates(map[string]any{
			"status":     domain.StatusFailed,
			"error_kind": domain.ErrorKindCancelled,
			"last_error": "cancelled by caller",
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).
			Model(&NotificationModel{}).
			Where("id = ?", id).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrNotFound
		}
		return domain.ErrConflict
	}
	return nil
}

func (r *GormNotificationRepo) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	return r.Transition(ctx, id, domain.StatusSent, domain.StatusDelivered, map[string]any{
		"delivered_at": at,
	})
}

func (r *GormNotificationRepo) MarkBounced(ctx context.Context, id string, at time.Time, reason string) error {
	return r.Transition(ctx, id, domain.StatusSent, domain.StatusBounced, map[string]any{
		"last_error": reason,
		"error_kind": domain.ErrorKindPermanentProvider,
	})
}

// MarkOpened records the first open time. Later opens keep the original
// timestamp; opens for notifications that never reached sent are a conflict.
func (r *GormNotificationRepo) MarkOpened(ctx context.Context, id string, at time.Time) error {
	return r.markEngagement(ctx, id, "opened_at", at)
}

func (r *GormNotificationRepo) MarkClicked(ctx context.Context, id string, at time.Time) error {
	return r.markEngagement(ctx, id, "clicked_at", at)
}

func (r *GormNotificationRepo) markEngagement(ctx context.Context, id, column string, at time.Time) error {
	engageable := []domain.Status{domain.StatusSent, domain.StatusDelivered}

	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status IN ? AND "+column+" IS NULL", id, engageable).
		Update(column, at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).
			Model(&NotificationModel{}).
			Where("id = ?", id).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrNotFound
		}
		// Already recorded or not in an engageable state; receipts are
		// at-least-once so this is not an error worth failing the caller for.
		return nil
	}
	return nil
}

func (r *GormNotificationRepo) CountByStatus(ctx context.Context) (map[domain.Status]int64, error) {
	type statusCount struct {
		Status domain.Status `gorm:"column:status"`
		Count  int64         `gorm:"column:count"`
	}

	var rows []statusCount
	err := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[domain.Status]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
