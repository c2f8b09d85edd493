package models

import (
	"time"

	"github.com/google/uuid"
)

// Cart records which seller currently owns a buyer's cart.
type Cart struct {
	BuyerID   uuid.UUID  `gorm:"column:buyer_id;type:uuid;primaryKey"`
	SellerID  *uuid.UUID `gorm:"column:seller_id;type:uuid"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Cart) TableName() string { return "carts" }
