package models

import (
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusFailed    OrderStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusFailed
}

// Order is the canonical merchant-facing purchase record. Orders are never deleted.
type Order struct {
	ID               uuid.UUID   `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID          string      `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_id"`
	ProductID        string      `gorm:"type:varchar(64);index;not null" json:"product_id"`
	SellerID         string      `gorm:"type:varchar(64);index" json:"seller_id"`
	CustomerEmail    string      `gorm:"type:varchar(255);not null" json:"customer_email"`
	CustomerName     string      `gorm:"type:varchar(255)" json:"customer_name"`
	CustomerPhone    string      `gorm:"type:varchar(32)" json:"customer_phone"`
	Amount           int64       `gorm:"not null" json:"amount"` // minor units
	Currency         string      `gorm:"type:varchar(10);not null" json:"currency"`
	PaymentMethod    string      `gorm:"type:varchar(32)" json:"payment_method"`
	Provider         string      `gorm:"type:varchar(32);index:idx_orders_provider_status_created,priority:1" json:"provider"`
	ProviderRef      *string     `gorm:"type:varchar(128);uniqueIndex" json:"provider_ref,omitempty"`
	Status           OrderStatus `gorm:"type:varchar(20);not null;index:idx_orders_provider_status_created,priority:2" json:"status"`
	SellerCommission int64       `json:"seller_commission"`
	Recovered        bool        `gorm:"default:false" json:"recovered"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
	FailedAt         *time.Time  `json:"failed_at,omitempty"`
	CreatedAt        time.Time   `gorm:"autoCreateTime;index:idx_orders_provider_status_created,priority:3" json:"created_at"`
	UpdatedAt        time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}
