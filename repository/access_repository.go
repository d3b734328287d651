package repository

import (
	"context"

	"settlement-service/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AccessRepository interface {
	// Upsert keeps one row per (email, product). A repeat grant refreshes order, activity and expiry.
	Upsert(ctx context.Context, access *models.CustomerAccess) error
	FindActive(ctx context.Context, email, productID string) (*models.CustomerAccess, error)
}

type GormAccessRepository struct {
	db *gorm.DB
}

func NewGormAccessRepository(db *gorm.DB) AccessRepository {
	return &GormAccessRepository{db: db}
}

func (r *GormAccessRepository) Upsert(ctx context.Context, access *models.CustomerAccess) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "customer_email"}, {Name: "product_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"order_id", "is_active", "expires_at", "updated_at"}),
		}).
		Create(access).Error
}

func (r *GormAccessRepository) FindActive(ctx context.Context, email, productID string) (*models.CustomerAccess, error) {
	var a models.CustomerAccess
	if err := r.db.WithContext(ctx).
		Where("customer_email = ? AND product_id = ? AND is_active = ?", email, productID, true).
		First(&a).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return &a, nil
}
