package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/ordersync/backend/internal/domain/integration"
	"github.com/ordersync/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormOrderRepository implements OrderRepository using GORM
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository creates a new GormOrderRepository
func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// Upsert stores a new order, rewrites an existing one whose tracked fields
// changed, and skips it otherwise.
func (r *GormOrderRepository) Upsert(ctx context.Context, order *integration.CanonicalOrder) (integration.UpsertOutcome, error) {
	var outcome integration.UpsertOutcome
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.CanonicalOrderModel
		err := tx.Where("platform = ? AND external_id = ?", order.Platform, order.ExternalID).
			First(&existing).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			model := &models.CanonicalOrderModel{ID: uuid.New()}
			model.FromDomain(order)
			if err := tx.Create(model).Error; err != nil {
				return err
			}
			outcome = integration.UpsertStored
			return nil
		case err != nil:
			return err
		}

		if existing.ToDomain().TrackedFieldsEqual(order) {
			outcome = integration.UpsertSkipped
			return nil
		}

		id, created := existing.ID, existing.CreatedAt
		existing.FromDomain(order)
		existing.ID, existing.CreatedAt = id, created
		existing.UpdatedAt = time.Now()
		if err := tx.Save(&existing).Error; err != nil {
			return err
		}
		outcome = integration.UpsertUpdated
		return nil
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// FindByKey finds an order by its platform identity
func (r *GormOrderRepository) FindByKey(ctx context.Context, platform integration.PlatformCode, externalID string) (*integration.CanonicalOrder, error) {
	var model models.CanonicalOrderModel
	if err := r.db.WithContext(ctx).
		Where("platform = ? AND external_id = ?", platform, externalID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrOrderNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByDateRange returns the non-duplicate orders of every platform dated within [from, to]
func (r *GormOrderRepository) FindByDateRange(ctx context.Context, from, to time.Time) ([]*integration.CanonicalOrder, error) {
	var rows []models.CanonicalOrderModel
	if err := r.db.WithContext(ctx).
		Where("order_date >= ? AND order_date <= ?", from.UTC(), to.UTC()).
		Where("dedup_status <> ?", integration.DedupStatusDuplicate).
		Order("order_date ASC").
		Order("platform ASC").
		Order("external_id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	orders := make([]*integration.CanonicalOrder, 0, len(rows))
	for i := range rows {
		orders = append(orders, rows[i].ToDomain())
	}
	return orders, nil
}

// Ensure GormOrderRepository implements OrderRepository interface
var _ integration.OrderRepository = (*GormOrderRepository)(nil)
