package repository

import (
	"context"
	"time"

	"settlement-service/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DeliveryResult is the outcome of one webhook POST.
type DeliveryResult struct {
	Status      models.DeliveryStatus
	StatusCode  int
	Error       string
	DeliveredAt *time.Time
}

type WebhookRepository interface {
	ListActiveSubscriptions(ctx context.Context, sellerID string) ([]models.WebhookSubscription, error)
	FindSubscription(ctx context.Context, id uuid.UUID) (*models.WebhookSubscription, error)
	// ReserveDelivery claims the (subscription, order, event) slot. It reports false when already claimed.
	ReserveDelivery(ctx context.Context, delivery *models.WebhookDelivery) (bool, error)
	RecordDeliveryResult(ctx context.Context, id uuid.UUID, result DeliveryResult) error
	IncrementReplay(ctx context.Context, id uuid.UUID) error
	FindDelivery(ctx context.Context, id uuid.UUID) (*models.WebhookDelivery, error)
	ListDeliveries(ctx context.Context, orderID string) ([]models.WebhookDelivery, error)
}

type GormWebhookRepository struct {
	db *gorm.DB
}

func NewGormWebhookRepository(db *gorm.DB) WebhookRepository {
	return &GormWebhookRepository{db: db}
}

func (r *GormWebhookRepository) ListActiveSubscriptions(ctx context.Context, sellerID string) ([]models.WebhookSubscription, error) {
	var subs []models.WebhookSubscription
	err := r.db.WithContext(ctx).
		Where("seller_id = ? AND active = ?", sellerID, true).
		Find(&subs).Error
	return subs, err
}

func (r *GormWebhookRepository) FindSubscription(ctx context.Context, id uuid.UUID) (*models.WebhookSubscription, error) {
	var s models.WebhookSubscription
	if err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return &s, nil
}

func (r *GormWebhookRepository) ReserveDelivery(ctx context.Context, delivery *models.WebhookDelivery) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(delivery)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *GormWebhookRepository) RecordDeliveryResult(ctx context.Context, id uuid.UUID, result DeliveryResult) error {
	return r.db.WithContext(ctx).
		Model(&models.WebhookDelivery{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       result.Status,
			"status_code":  result.StatusCode,
			"error":        result.Error,
			"delivered_at": result.DeliveredAt,
		}).Error
}

func (r *GormWebhookRepository) IncrementReplay(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.WebhookDelivery{}).
		Where("id = ?", id).
		UpdateColumn("replay_count", gorm.Expr("replay_count + ?", 1)).Error
}

func (r *GormWebhookRepository) FindDelivery(ctx context.Context, id uuid.UUID) (*models.WebhookDelivery, error) {
	var d models.WebhookDelivery
	if err := r.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return &d, nil
}

func (r *GormWebhookRepository) ListDeliveries(ctx context.Context, orderID string) ([]models.WebhookDelivery, error) {
	var deliveries []models.WebhookDelivery
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&deliveries).Error
	return deliveries, err
}
