package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"settlement-service/models"
	"settlement-service/repository"
	"settlement-service/sender"

	"go.uber.org/zap"
)

// PushConsumer notifies the seller's devices through the product's SNS topic.
type PushConsumer struct {
	push          sender.PushSender
	notifications repository.NotificationRepository
	products      repository.ProductRepository
	logger        *zap.Logger
}

func NewPushConsumer(push sender.PushSender, notifications repository.NotificationRepository, products repository.ProductRepository, logger *zap.Logger) *PushConsumer {
	return &PushConsumer{push: push, notifications: notifications, products: products, logger: logger}
}

func (c *PushConsumer) Name() string { return "push" }

func (c *PushConsumer) Consume(ctx context.Context, order *models.Order) error {
	product, err := c.products.FindByID(ctx, order.ProductID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load product: %w", err)
	}
	if product.SellerTopic == "" {
		return nil
	}

	if sent, err := c.notifications.HasSent(ctx, order.OrderID, models.ChannelPush, models.NotificationSellerSale); err == nil && sent {
		return nil
	}

	_, sendErr := c.push.SendPush(ctx, product.SellerTopic, sender.PushMessage{
		Type:      "sale",
		Title:     "New sale",
		Body:      fmt.Sprintf("%s sold for %s %s", product.Name, formatMinor(order.Amount), order.Currency),
		OrderID:   order.OrderID,
		ProductID: order.ProductID,
		Amount:    order.Amount,
		Currency:  order.Currency,
		Timestamp: time.Now().UTC(),
	})

	log := &models.NotificationLog{
		OrderID:   order.OrderID,
		Channel:   models.ChannelPush,
		Kind:      models.NotificationSellerSale,
		Recipient: product.SellerID,
		Status:    models.NotificationStatusSent,
	}
	if sendErr != nil {
		log.Status = models.NotificationStatusFailed
		log.Error = sendErr.Error()
	}
	if err := c.notifications.SaveLog(ctx, log); err != nil {
		c.logger.Warn("Failed to save notification log", zap.String("order_id", order.OrderID), zap.Error(err))
	}
	return sendErr
}
