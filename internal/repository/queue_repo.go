package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/notifyd/notifyd/internal/domain"
	"gorm.io/gorm"
)

// QueueRepository is the lease-based work queue the dispatcher polls.
// Claiming stamps a lease and a fresh attempt id in one conditional update,
// so two workers can never hold the same item and a worker that dies simply
// lets its lease lapse.
type QueueRepository interface {
	Enqueue(ctx context.Context, item *domain.QueueItem) error
	Claim(ctx context.Context, owner string, limit int, leaseFor time.Duration) ([]domain.QueueItem, error)
	Ack(ctx context.Context, itemID, attemptID string) error
	Requeue(ctx context.Context, itemID, attemptID string, nextAttemptAt time.Time) error
	Depth(ctx context.Context) (map[domain.Channel]int64, error)
}

type GormQueueRepo struct {
	db *gorm.DB
}

func NewGormQueueRepo(db *gorm.DB) *GormQueueRepo {
	return &GormQueueRepo{db: db}
}

func (r *GormQueueRepo) Enqueue(ctx context.Context, item *domain.QueueItem) error {
	model := queueItemModelFromDomain(item)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if item != nil {
		*item = *queueItemModelToDomain(model)
	}
	return nil
}

// Claim leases up to limit due items for the given owner. Items whose lease
// has expired are eligible again, which is how work abandoned by a crashed
// worker gets picked back up. Each claimed item receives a new attempt id;
// Ack and Requeue require it, so a worker operating past its lease cannot
// overwrite the item's next claimant.
func (r *GormQueueRepo) Claim(ctx context.Context, owner string, limit int, leaseFor time.Duration) ([]domain.QueueItem, error) {
	if owner == "" {
		return nil, fmt.Errorf("claim owner is required")
	}
	if limit < 1 {
		return nil, nil
	}

	now := time.Now().UTC()
	leaseExpiresAt := now.Add(leaseFor)

	var models []QueueItemModel
	err := r.db.WithContext(ctx).Raw(`
		UPDATE queue_items
		SET lease_owner = ?, lease_expires_at = ?, attempt_id = gen_random_uuid()::text
		WHERE id IN (
			SELECT id FROM queue_items
			WHERE next_attempt_at <= ?
			  AND (lease_expires_at IS NULL OR lease_expires_at < ?)
			ORDER BY priority DESC, next_attempt_at ASC
			LIMIT ?
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *`,
		owner, leaseExpiresAt, now, now, limit,
	).Scan(&models).Error
	if err != nil {
		return nil, err
	}

	items := make([]domain.QueueItem, 0, len(models))
	for i := range models {
		items = append(items, *queueItemModelToDomain(&models[i]))
	}

	return items, nil
}

// Ack removes a completed item. The attempt id fences out a worker whose
// lease expired and whose item was claimed by someone else in the meantime.
func (r *GormQueueRepo) Ack(ctx context.Context, itemID, attemptID string) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND attempt_id = ?", itemID, attemptID).
		Delete(&QueueItemModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

// Requeue releases the lease and defers the item to a later attempt time,
// fenced by attempt id like Ack.
func (r *GormQueueRepo) Requeue(ctx context.Context, itemID, attemptID string, nextAttemptAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&QueueItemModel{}).
		Where("id = ? AND attempt_id = ?", itemID, attemptID).
		Updates(map[string]any{
			"next_attempt_at":  nextAttemptAt,
			"lease_owner":      "",
			"lease_expires_at": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormQueueRepo) Depth(ctx context.Context) (map[domain.Channel]int64, error) {
	type channelCount struct {
		Channel domain.Channel `gorm:"column:channel"`
		Count   int64          `gorm:"column:count"`
	}

	var rows []channelCount
	err := r.db.WithContext(ctx).
		Model(&QueueItemModel{}).
		Select("channel, COUNT(*) as count").
		Group("channel").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	depths := make(map[domain.Channel]int64, len(rows))
	for _, ch := range domain.Channels() {
		depths[ch] = 0
	}
	for _, row := range rows {
		depths[row.Channel] = row.Count
	}
	return depths, nil
}
