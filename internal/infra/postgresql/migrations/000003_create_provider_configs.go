package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/notifyd/notifyd/internal/repository"
	"gorm.io/gorm"
)

func createProviderConfigsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_provider_configs",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.ProviderConfigModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ProviderConfigModel{})
		},
	}
}
