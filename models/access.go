package models

import (
	"time"

	"github.com/google/uuid"
)

// CustomerAccess grants a buyer access to a product. One row per (email, product); writes are upserts.
type CustomerAccess struct {
	ID            uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	CustomerEmail string     `gorm:"type:varchar(255);not null;uniqueIndex:idx_access_email_product" json:"customer_email"`
	ProductID     string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_access_email_product" json:"product_id"`
	OrderID       string     `gorm:"type:varchar(64);not null" json:"order_id"`
	IsActive      bool       `gorm:"not null;default:true" json:"is_active"`
	GrantedAt     time.Time  `gorm:"not null" json:"granted_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CustomerAccess) TableName() string {
	return "customer_access"
}
