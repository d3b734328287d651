package database

import (
	"context"
	"fmt"
	"time"

	"settlement-service/models"
	"settlement-service/pkg/retry"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Models lists every table the service owns, in migration order.
func Models() []interface{} {
	return []interface{}{
		&models.Product{},
		&models.Order{},
		&models.CustomerAccess{},
		&models.NotificationLog{},
		&models.WebhookSubscription{},
		&models.WebhookDelivery{},
		&models.ConversionDestination{},
		&models.ConversionEvent{},
		&models.ConversionAttempt{},
	}
}

// ConnectPostgres opens the pool, retrying with backoff while the database comes up, then migrates.
func ConnectPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	var db *gorm.DB
	policy := retry.Policy{MaxAttempts: 10, BaseDelay: 2 * time.Second, MaxDelay: 20 * time.Second}

	_, err := retry.Do(ctx, policy, func(_ context.Context, attempt int) error {
		var err error
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			logger.Warn("DB connection failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL after retries: %w", err)
	}

	sqlDB, err := db.DB()
	if err == nil {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
	}
	logger.Info("Connected to PostgreSQL successfully")

	if err := db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return nil, fmt.Errorf("AutoMigrate failed: %w", err)
	}
	return db, nil
}

func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}
