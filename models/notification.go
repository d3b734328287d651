package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ChannelEmail = "email"
	ChannelPush  = "push"

	NotificationBuyerConfirmation = "buyer_confirmation"
	NotificationSellerSale        = "seller_sale"

	NotificationStatusSent   = "sent"
	NotificationStatusFailed = "failed"
)

// NotificationLog records each best-effort notification sent for an order.
type NotificationLog struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID   string    `gorm:"type:varchar(64);index;not null"`
	Channel   string    `gorm:"type:varchar(16);not null"`
	Kind      string    `gorm:"type:varchar(32);not null"`
	Recipient string    `gorm:"type:varchar(255)"`
	Status    string    `gorm:"type:varchar(20);not null"`
	Error     string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}
