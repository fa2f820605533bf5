package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/notifyd/notifyd/internal/repository"
	"gorm.io/gorm"
)

func createQueueItemsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_queue_items",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.QueueItemModel{}); err != nil {
				return err
			}
			// Covers the claim query: due items without a live lease, ordered
			// by priority then readiness.
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_queue_claim ON queue_items (next_attempt_at, priority DESC) WHERE lease_expires_at IS NULL`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.QueueItemModel{})
		},
	}
}
