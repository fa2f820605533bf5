package repository

import (
	"context"

	"github.com/notifyd/notifyd/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProviderRepository persists provider routing configuration. It doubles as
// the registry's configuration source, so edits land in the routing table on
// the next refresh without a restart.
type ProviderRepository interface {
	Upsert(ctx context.Context, cfg *domain.ProviderConfig) error
	ListProviderConfigs(ctx context.Context) ([]domain.ProviderConfig, error)
	SetEnabled(ctx context.Context, name string, channel domain.Channel, enabled bool) error
}

type GormProviderRepo struct {
	db *gorm.DB
}

func NewGormProviderRepo(db *gorm.DB) *GormProviderRepo {
	return &GormProviderRepo{db: db}
}

func (r *GormProviderRepo) Upsert(ctx context.Context, cfg *domain.ProviderConfig) error {
	model := providerConfigModelFromDomain(cfg)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}, {Name: "channel"}},
			DoUpdates: clause.AssignmentColumns([]string{"endpoint", "enabled", "priority", "rate_per_sec", "burst", "updated_at"}),
		}).
		Create(model).Error
	if err != nil {
		return err
	}
	if cfg != nil {
		*cfg = *providerConfigModelToDomain(model)
	}
	return nil
}

func (r *GormProviderRepo) ListProviderConfigs(ctx context.Context) ([]domain.ProviderConfig, error) {
	var models []ProviderConfigModel
	err := r.db.WithContext(ctx).
		Order("channel ASC, priority DESC, name ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	configs := make([]domain.ProviderConfig, 0, len(models))
	for i := range models {
		configs = append(configs, *providerConfigModelToDomain(&models[i]))
	}

	return configs, nil
}

func (r *GormProviderRepo) SetEnabled(ctx context.Context, name string, channel domain.Channel, enabled bool) error {
	result := r.db.WithContext(ctx).
		Model(&ProviderConfigModel{}).
		Where("name = ? AND channel = ?", name, channel).
		Update("enabled", enabled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
