package models

import (
	"time"

	"github.com/google/uuid"
)

const EventOrderCompleted = "order.completed"

// WebhookSubscription is a seller-registered endpoint. Empty ProductID matches every product.
type WebhookSubscription struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	SellerID  string    `gorm:"type:varchar(64);index;not null" json:"seller_id"`
	ProductID string    `gorm:"type:varchar(64)" json:"product_id"`
	URL       string    `gorm:"type:varchar(1024);not null" json:"url"`
	Secret    string    `gorm:"type:varchar(255)" json:"-"`
	Events    string    `gorm:"type:varchar(255);not null" json:"events"` // comma separated
	Active    bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// WebhookDelivery logs the single attempt made per (subscription, order, event).
type WebhookDelivery struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	SubscriptionID uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_delivery_sub_order_event" json:"subscription_id"`
	OrderID        string         `gorm:"type:varchar(64);not null;index;uniqueIndex:idx_delivery_sub_order_event" json:"order_id"`
	Event          string         `gorm:"type:varchar(64);not null;uniqueIndex:idx_delivery_sub_order_event" json:"event"`
	Status         DeliveryStatus `gorm:"type:varchar(20);not null" json:"status"`
	StatusCode     int            `json:"status_code"`
	Error          string         `gorm:"type:text" json:"error,omitempty"`
	Payload        string         `gorm:"type:jsonb" json:"payload"`
	ReplayCount    int            `gorm:"not null;default:0" json:"replay_count"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}
