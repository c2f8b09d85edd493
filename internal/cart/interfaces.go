package cart

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

// Repository defines persistence operations for carts and cart items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error)
	FindCart(ctx context.Context, buyerID uuid.UUID) (*models.Cart, error)
	EnsureCart(ctx context.Context, buyerID uuid.UUID, now time.Time) error
	ClaimSeller(ctx context.Context, buyerID, sellerID uuid.UUID, now time.Time) (bool, error)
	LockCart(ctx context.Context, buyerID uuid.UUID, now time.Time) error
	ReleaseSellerIfEmpty(ctx context.Context, buyerID uuid.UUID, now time.Time) error
	FindItem(ctx context.Context, buyerID, itemID uuid.UUID) (*models.CartItem, error)
	FindLine(ctx context.Context, buyerID, productID uuid.UUID, productType enums.CartProductType) (*models.CartItem, error)
	SumProductQuantity(ctx context.Context, buyerID, productID, exceptItemID uuid.UUID) (int, error)
	CreateItem(ctx context.Context, item *models.CartItem) error
	UpdateItemQuantity(ctx context.Context, itemID uuid.UUID, qty int, now time.Time) error
	DeleteItem(ctx context.Context, buyerID, itemID uuid.UUID) (int64, error)
	DeleteItems(ctx context.Context, buyerID uuid.UUID) error
	ListLines(ctx context.Context, buyerID uuid.UUID) ([]Line, error)
}

// Manager is the buyer cart surface. Every mutation keeps the cart single-seller.
type Manager interface {
	AddItem(ctx context.Context, input AddItemInput) (*Cart, error)
	UpdateItem(ctx context.Context, buyerID, itemID uuid.UUID, qty int) (*Cart, error)
	RemoveItem(ctx context.Context, buyerID, itemID uuid.UUID) (*Cart, error)
	Clear(ctx context.Context, buyerID uuid.UUID) error
	Get(ctx context.Context, buyerID uuid.UUID) (*Cart, error)
}

type AddItemInput struct {
	BuyerID     uuid.UUID
	ProductID   uuid.UUID
	Quantity    int
	ProductType enums.CartProductType
}
