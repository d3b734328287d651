package models

import (
	"time"

	"github.com/google/uuid"
)

type ConversionStatus string

const (
	ConversionPending ConversionStatus = "pending"
	ConversionSent    ConversionStatus = "sent"
	ConversionPartial ConversionStatus = "partial"
	ConversionFailed  ConversionStatus = "failed"
)

// ConversionEvent is one logical ad-attribution event. EventID is client supplied and is the dedup key.
type ConversionEvent struct {
	EventID     string              `gorm:"type:varchar(128);primaryKey" json:"event_id"`
	SellerID    string              `gorm:"type:varchar(64);index" json:"seller_id"`
	ProductID   string              `gorm:"type:varchar(64);index" json:"product_id"`
	EventName   string              `gorm:"type:varchar(64);not null" json:"event_name"`
	OrderID     string              `gorm:"type:varchar(64);index" json:"order_id,omitempty"`
	Value       int64               `json:"value"`
	Currency    string              `gorm:"type:varchar(10)" json:"currency"`
	Status      ConversionStatus    `gorm:"type:varchar(20);not null" json:"status"`
	Payload     string              `gorm:"type:jsonb" json:"payload"`
	Attempts    []ConversionAttempt `gorm:"foreignKey:EventID;references:EventID" json:"attempts,omitempty"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
	CreatedAt   time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

// ConversionAttempt is one delivery attempt to one destination.
type ConversionAttempt struct {
	ID            uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	EventID       string    `gorm:"type:varchar(128);index;not null" json:"event_id"`
	DestinationID uuid.UUID `gorm:"type:uuid;not null" json:"destination_id"`
	Attempt       int       `gorm:"not null" json:"attempt"`
	StatusCode    int       `json:"status_code"`
	Success       bool      `json:"success"`
	Error         string    `gorm:"type:text" json:"error,omitempty"`
	Response      string    `gorm:"type:text" json:"response,omitempty"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// ConversionDestination is an ad platform endpoint a seller registered for a product.
// An empty ProductID applies to all of the seller's products.
type ConversionDestination struct {
	ID            uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	SellerID      string    `gorm:"type:varchar(64);index;not null" json:"seller_id"`
	ProductID     string    `gorm:"type:varchar(64);index" json:"product_id"`
	Kind          string    `gorm:"type:varchar(32);not null" json:"kind"`
	Endpoint      string    `gorm:"type:varchar(1024);not null" json:"endpoint"`
	PixelID       string    `gorm:"type:varchar(64)" json:"pixel_id"`
	AccessToken   string    `gorm:"type:varchar(512)" json:"-"`
	TestEventCode string    `gorm:"type:varchar(64)" json:"test_event_code,omitempty"`
	Active        bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}
