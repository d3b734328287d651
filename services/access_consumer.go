package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"settlement-service/models"
	"settlement-service/repository"
)

// AccessGrantConsumer upserts the buyer's product access. Safe to run any number of times.
type AccessGrantConsumer struct {
	access   repository.AccessRepository
	products repository.ProductRepository
	now      func() time.Time
}

func NewAccessGrantConsumer(access repository.AccessRepository, products repository.ProductRepository) *AccessGrantConsumer {
	return &AccessGrantConsumer{access: access, products: products, now: time.Now}
}

func (c *AccessGrantConsumer) Name() string { return "access_grant" }

func (c *AccessGrantConsumer) Consume(ctx context.Context, order *models.Order) error {
	now := c.now()
	grant := &models.CustomerAccess{
		CustomerEmail: order.CustomerEmail,
		ProductID:     order.ProductID,
		OrderID:       order.OrderID,
		IsActive:      true,
		GrantedAt:     now,
	}

	product, err := c.products.FindByID(ctx, order.ProductID)
	switch {
	case err == nil:
		if product.AccessDays > 0 {
			expires := now.AddDate(0, 0, product.AccessDays)
			grant.ExpiresAt = &expires
		}
	case errors.Is(err, repository.ErrNotFound):
		// Unknown to the catalog: lifetime access.
	default:
		return fmt.Errorf("load product: %w", err)
	}

	if err := c.access.Upsert(ctx, grant); err != nil {
		return fmt.Errorf("upsert access: %w", err)
	}
	return nil
}
