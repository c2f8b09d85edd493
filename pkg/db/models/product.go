package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is the seller owned listing. Stock only moves through conditional updates.
type Product struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	SellerID      uuid.UUID       `gorm:"column:seller_id;type:uuid;not null"`
	Name          string          `gorm:"column:name;not null"`
	ImageURL      *string         `gorm:"column:image_url"`
	Price         decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	StockQuantity int             `gorm:"column:stock_quantity;not null;default:0"`
	IsAvailable   bool            `gorm:"column:is_available;not null"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
