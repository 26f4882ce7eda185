package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ordersync/backend/internal/domain/integration"
	"github.com/ordersync/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormPlatformConfigRepository implements PlatformConfigRepository using GORM
type GormPlatformConfigRepository struct {
	db *gorm.DB
}

// NewGormPlatformConfigRepository creates a new GormPlatformConfigRepository
func NewGormPlatformConfigRepository(db *gorm.DB) *GormPlatformConfigRepository {
	return &GormPlatformConfigRepository{db: db}
}

// FindByPlatform finds the config of a platform
func (r *GormPlatformConfigRepository) FindByPlatform(ctx context.Context, platform integration.PlatformCode) (*integration.PlatformConfig, error) {
	var model models.PlatformConfigModel
	if err := r.db.WithContext(ctx).First(&model, "platform = ?", platform).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrPlatformNotConfigured
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindActive returns the active configs in platform priority order
func (r *GormPlatformConfigRepository) FindActive(ctx context.Context) ([]*integration.PlatformConfig, error) {
	var rows []models.PlatformConfigModel
	if err := r.db.WithContext(ctx).Where("is_active = ?", true).Find(&rows).Error; err != nil {
		return nil, err
	}

	configs := make([]*integration.PlatformConfig, 0, len(rows))
	for i := range rows {
		configs = append(configs, rows[i].ToDomain())
	}
	slices.SortFunc(configs, func(a, b *integration.PlatformConfig) int {
		return a.Platform.Priority() - b.Platform.Priority()
	})
	return configs, nil
}

// credentialColumns are the columns Save writes on an existing row. The sync
// bookkeeping columns belong to UpdateSyncStatus.
var credentialColumns = []string{"encrypted_credentials", "sync_interval_seconds", "is_active", "updated_at"}

// Save inserts the config, or updates only the credential-side columns of an
// existing row so a stale copy cannot roll back a finished sync
func (r *GormPlatformConfigRepository) Save(ctx context.Context, cfg *integration.PlatformConfig) error {
	model := &models.PlatformConfigModel{}
	model.FromDomain(cfg)
	if model.UpdatedAt.IsZero() {
		model.UpdatedAt = time.Now()
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "platform"}},
			DoUpdates: clause.AssignmentColumns(credentialColumns),
		}).
		Create(model).Error
}

// UpdateSyncStatus writes the sync bookkeeping columns only, so a concurrent
// credential rotation is never overwritten by a finishing sync.
func (r *GormPlatformConfigRepository) UpdateSyncStatus(ctx context.Context, cfg *integration.PlatformConfig) error {
	history, err := json.Marshal(cfg.SyncHistory)
	if err != nil {
		return fmt.Errorf("failed to encode sync history: %w", err)
	}

	result := r.db.WithContext(ctx).
		Model(&models.PlatformConfigModel{}).
		Where("platform = ?", cfg.Platform).
		Updates(map[string]any{
			"last_sync_at":    cfg.LastSyncAt,
			"last_attempt_at": cfg.LastAttemptAt,
			"last_error":      cfg.LastError,
			"sync_history":    string(history),
			"updated_at":      time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return integration.ErrPlatformNotConfigured
	}
	return nil
}

// Ensure GormPlatformConfigRepository implements PlatformConfigRepository interface
var _ integration.PlatformConfigRepository = (*GormPlatformConfigRepository)(nil)
