package repository

import (
	"context"
	"time"

	"settlement-service/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OrderRepository is the Order Ledger's persistence.
type OrderRepository interface {
	FindByProviderRef(ctx context.Context, providerRef string) (*models.Order, error)
	FindByOrderID(ctx context.Context, orderID string) (*models.Order, error)
	Create(ctx context.Context, order *models.Order) error
	// CreateIfAbsent inserts order unless a row with the same order id or provider ref exists.
	// It reports whether this call inserted the row.
	CreateIfAbsent(ctx context.Context, order *models.Order) (bool, error)
	// CompareAndSetStatus applies updates only while the stored status still equals from.
	// It reports whether a row changed.
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, from models.OrderStatus, updates map[string]interface{}) (bool, error)
	ListPending(ctx context.Context, provider string, since time.Time, limit int) ([]models.Order, error)
}

// GormOrderRepository implements OrderRepository using GORM.
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) OrderRepository {
	return &GormOrderRepository{db: db}
}

func (r *GormOrderRepository) FindByProviderRef(ctx context.Context, providerRef string) (*models.Order, error) {
	var o models.Order
	if err := r.db.WithContext(ctx).
		Where("provider_ref = ?", providerRef).
		First(&o).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return &o, nil
}

func (r *GormOrderRepository) FindByOrderID(ctx context.Context, orderID string) (*models.Order, error) {
	var o models.Order
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		First(&o).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return &o, nil
}

func (r *GormOrderRepository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *GormOrderRepository) CreateIfAbsent(ctx context.Context, order *models.Order) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(order)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *GormOrderRepository) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from models.OrderStatus, updates map[string]interface{}) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, mapWriteError(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *GormOrderRepository) ListPending(ctx context.Context, provider string, since time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("provider = ? AND status = ? AND created_at >= ?", provider, models.OrderStatusPending, since).
		Order("created_at ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}
