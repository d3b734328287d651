package repository

import (
	"context"
	"time"

	"settlement-service/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConversionRepository persists the conversion event log and its destinations.
type ConversionRepository interface {
	FindByEventID(ctx context.Context, eventID string) (*models.ConversionEvent, error)
	// CreatePending records a new pending event. It reports false when the event id already exists.
	CreatePending(ctx context.Context, event *models.ConversionEvent) (bool, error)
	AddAttempt(ctx context.Context, attempt *models.ConversionAttempt) error
	Complete(ctx context.Context, eventID string, status models.ConversionStatus, completedAt time.Time) error
	// ListStalePending returns pending events not touched since cutoff, oldest first.
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.ConversionEvent, error)
	// ClaimPending bumps updated_at on a pending event last touched before cutoff.
	// Of concurrent callers at most one gets true.
	ClaimPending(ctx context.Context, eventID string, cutoff, now time.Time) (bool, error)
	ListDestinations(ctx context.Context, sellerID, productID string) ([]models.ConversionDestination, error)
}

type GormConversionRepository struct {
	db *gorm.DB
}

func NewGormConversionRepository(db *gorm.DB) ConversionRepository {
	return &GormConversionRepository{db: db}
}

func (r *GormConversionRepository) FindByEventID(ctx context.Context, eventID string) (*models.ConversionEvent, error) {
	var ev models.ConversionEvent
	if err := r.db.WithContext(ctx).
		Preload("Attempts", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Where("event_id = ?", eventID).
		First(&ev).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return &ev, nil
}

func (r *GormConversionRepository) CreatePending(ctx context.Context, event *models.ConversionEvent) (bool, error) {
	event.Status = models.ConversionPending
	res := r.db.WithContext(ctx).
		Omit("Attempts").
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *GormConversionRepository) AddAttempt(ctx context.Context, attempt *models.ConversionAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *GormConversionRepository) Complete(ctx context.Context, eventID string, status models.ConversionStatus, completedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.ConversionEvent{}).
		Where("event_id = ? AND status = ?", eventID, models.ConversionPending).
		Updates(map[string]interface{}{
			"status":       status,
			"completed_at": completedAt,
		}).Error
}

func (r *GormConversionRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.ConversionEvent, error) {
	var events []models.ConversionEvent
	err := r.db.WithContext(ctx).
		Preload("Attempts", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Where("status = ? AND updated_at < ?", models.ConversionPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *GormConversionRepository) ClaimPending(ctx context.Context, eventID string, cutoff, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ConversionEvent{}).
		Where("event_id = ? AND status = ? AND updated_at < ?", eventID, models.ConversionPending, cutoff).
		Update("updated_at", now)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListDestinations returns active destinations for the product plus the seller's catch-all ones.
func (r *GormConversionRepository) ListDestinations(ctx context.Context, sellerID, productID string) ([]models.ConversionDestination, error) {
	var dests []models.ConversionDestination
	err := r.db.WithContext(ctx).
		Where("seller_id = ? AND active = ? AND (product_id = ? OR product_id = '')", sellerID, true, productID).
		Order("created_at ASC").
		Find(&dests).Error
	return dests, err
}
