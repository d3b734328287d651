package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"settlement-service/models"
	"settlement-service/repository"
	"settlement-service/sender"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrDeliveryNotFound = errors.New("webhook delivery not found")

// WebhookPoster is implemented by sender.WebhookSender.
type WebhookPoster interface {
	Post(ctx context.Context, url, secret, event string, payload []byte) (sender.HTTPResult, error)
}

type webhookPayload struct {
	Event      string    `json:"event"`
	OrderID    string    `json:"order_id"`
	ProductID  string    `json:"product_id"`
	Status     string    `json:"status"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	Commission int64     `json:"seller_commission"`
	Customer   customer  `json:"customer"`
	PaidAt     time.Time `json:"paid_at"`
}

type customer struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// WebhookConsumer delivers order.completed to the seller's subscriptions: one attempt per
// (subscription, order, event), recorded for manual replay. It never retries.
type WebhookConsumer struct {
	webhooks repository.WebhookRepository
	poster   WebhookPoster
	logger   *zap.Logger
	now      func() time.Time
}

func NewWebhookConsumer(webhooks repository.WebhookRepository, poster WebhookPoster, logger *zap.Logger) *WebhookConsumer {
	return &WebhookConsumer{webhooks: webhooks, poster: poster, logger: logger, now: time.Now}
}

func (c *WebhookConsumer) Name() string { return "webhook" }

func (c *WebhookConsumer) Consume(ctx context.Context, order *models.Order) error {
	subs, err := c.webhooks.ListActiveSubscriptions(ctx, order.SellerID)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}

	payload, err := json.Marshal(c.buildPayload(order))
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	var errs []error
	for _, sub := range subs {
		if !subscribes(sub, models.EventOrderCompleted, order.ProductID) {
			continue
		}
		delivery := &models.WebhookDelivery{
			SubscriptionID: sub.ID,
			OrderID:        order.OrderID,
			Event:          models.EventOrderCompleted,
			Status:         models.DeliveryPending,
			Payload:        string(payload),
		}
		reserved, err := c.webhooks.ReserveDelivery(ctx, delivery)
		if err != nil {
			errs = append(errs, fmt.Errorf("reserve delivery for %s: %w", sub.ID, err))
			continue
		}
		if !reserved {
			c.logger.Info("Webhook already delivered for order", zap.String("subscription_id", sub.ID.String()), zap.String("order_id", order.OrderID))
			continue
		}
		if err := c.deliver(ctx, sub, delivery.ID, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Deliveries lists the recorded webhook deliveries for an order.
func (c *WebhookConsumer) Deliveries(ctx context.Context, orderID string) ([]models.WebhookDelivery, error) {
	return c.webhooks.ListDeliveries(ctx, orderID)
}

// Replay re-sends a recorded delivery once, on operator request.
func (c *WebhookConsumer) Replay(ctx context.Context, deliveryID uuid.UUID) (*models.WebhookDelivery, error) {
	delivery, err := c.webhooks.FindDelivery(ctx, deliveryID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrDeliveryNotFound
	}
	if err != nil {
		return nil, err
	}
	sub, err := c.webhooks.FindSubscription(ctx, delivery.SubscriptionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrDeliveryNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := c.webhooks.IncrementReplay(ctx, delivery.ID); err != nil {
		return nil, fmt.Errorf("increment replay: %w", err)
	}
	deliverErr := c.deliver(ctx, *sub, delivery.ID, []byte(delivery.Payload))
	if deliverErr != nil {
		c.logger.Warn("Webhook replay failed", zap.String("delivery_id", delivery.ID.String()), zap.Error(deliverErr))
	}
	return c.webhooks.FindDelivery(ctx, delivery.ID)
}

func (c *WebhookConsumer) deliver(ctx context.Context, sub models.WebhookSubscription, deliveryID uuid.UUID, payload []byte) error {
	res, postErr := c.poster.Post(ctx, sub.URL, sub.Secret, models.EventOrderCompleted, payload)

	result := repository.DeliveryResult{Status: models.DeliverySent, StatusCode: res.StatusCode}
	if postErr != nil {
		result.Status = models.DeliveryFailed
		result.Error = postErr.Error()
	} else {
		now := c.now()
		result.DeliveredAt = &now
	}
	if err := c.webhooks.RecordDeliveryResult(ctx, deliveryID, result); err != nil {
		c.logger.Warn("Failed to record webhook delivery", zap.String("delivery_id", deliveryID.String()), zap.Error(err))
	}
	if postErr != nil {
		return fmt.Errorf("webhook %s: %w", sub.ID, postErr)
	}
	return nil
}

func (c *WebhookConsumer) buildPayload(order *models.Order) webhookPayload {
	paidAt := c.now().UTC()
	if order.CompletedAt != nil {
		paidAt = order.CompletedAt.UTC()
	}
	return webhookPayload{
		Event:      models.EventOrderCompleted,
		OrderID:    order.OrderID,
		ProductID:  order.ProductID,
		Status:     string(order.Status),
		Amount:     order.Amount,
		Currency:   order.Currency,
		Commission: order.SellerCommission,
		Customer:   customer{Email: order.CustomerEmail, Name: order.CustomerName, Phone: order.CustomerPhone},
		PaidAt:     paidAt,
	}
}

func subscribes(sub models.WebhookSubscription, event, productID string) bool {
	if sub.ProductID != "" && sub.ProductID != productID {
		return false
	}
	for _, e := range strings.Split(sub.Events, ",") {
		e = strings.TrimSpace(e)
		if e == event || e == "*" {
			return true
		}
	}
	return false
}
