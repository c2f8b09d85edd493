package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

// CartItem is one line of a buyer cart. SellerID is denormalized from the product.
type CartItem struct {
	ID          uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	BuyerID     uuid.UUID             `gorm:"column:buyer_id;type:uuid;not null"`
	ProductID   uuid.UUID             `gorm:"column:product_id;type:uuid;not null"`
	SellerID    uuid.UUID             `gorm:"column:seller_id;type:uuid;not null"`
	Quantity    int                   `gorm:"column:quantity;not null"`
	ProductType enums.CartProductType `gorm:"column:product_type;type:cart_product_type;not null;default:'regular'"`
	CreatedAt   time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}
