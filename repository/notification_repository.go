package repository

import (
	"context"

	"settlement-service/models"

	"gorm.io/gorm"
)

type NotificationRepository interface {
	SaveLog(ctx context.Context, log *models.NotificationLog) error
	// HasSent reports whether a successful notification of kind was already logged for the order.
	HasSent(ctx context.Context, orderID, channel, kind string) (bool, error)
}

type GormNotificationRepository struct {
	db *gorm.DB
}

func NewGormNotificationRepository(db *gorm.DB) NotificationRepository {
	return &GormNotificationRepository{db: db}
}

func (r *GormNotificationRepository) SaveLog(ctx context.Context, log *models.NotificationLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

func (r *GormNotificationRepository) HasSent(ctx context.Context, orderID, channel, kind string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.NotificationLog{}).
		Where("order_id = ? AND channel = ? AND kind = ? AND status = ?", orderID, channel, kind, models.NotificationStatusSent).
		Count(&count).Error
	return count > 0, err
}
