package models

import "time"

// Product is read-only here; the catalog owns it.
type Product struct {
	ID          string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	SellerID    string    `gorm:"type:varchar(64);index;not null" json:"seller_id"`
	SellerEmail string    `gorm:"type:varchar(255)" json:"seller_email"`
	SellerTopic string    `gorm:"type:varchar(512)" json:"-"` // SNS topic for seller push
	Name        string    `gorm:"type:varchar(255);not null" json:"name"`
	Price       int64     `json:"price"`
	Currency    string    `gorm:"type:varchar(10)" json:"currency"`
	AccessDays  int       `json:"access_days"` // 0 means lifetime
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}
