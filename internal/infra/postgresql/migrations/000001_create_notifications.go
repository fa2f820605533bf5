package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/notifyd/notifyd/internal/repository"
	"gorm.io/gorm"
)

func createNotificationsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_notifications",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.NotificationModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_notifications_status_channel_created ON notifications (status, channel, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications (recipient)`,
				`CREATE INDEX IF NOT EXISTS idx_notifications_fingerprint ON notifications (fingerprint) WHERE fingerprint <> ''`,
				`CREATE INDEX IF NOT EXISTS idx_notifications_provider_msg ON notifications (provider_msg_id) WHERE provider_msg_id <> ''`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.NotificationModel{})
		},
	}
}
