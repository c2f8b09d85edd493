package cart

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

const (
	claimSellerSQL = `UPDATE carts SET seller_id = ?, updated_at = ? WHERE buyer_id = ? AND (seller_id IS NULL OR seller_id = ?)`
	releaseSQL     = `UPDATE carts SET seller_id = NULL, updated_at = ? WHERE buyer_id = ? AND NOT EXISTS (SELECT 1 FROM cart_items WHERE buyer_id = ?)`
	lockCartSQL    = `UPDATE carts SET updated_at = ? WHERE buyer_id = ?`
	listLinesSQL   = `SELECT ci.id AS item_id, ci.product_id, ci.seller_id, ci.quantity, ci.product_type,
  p.name, p.image_url, p.price, p.is_available, p.stock_quantity
FROM cart_items ci
JOIN products p ON p.id = ci.product_id
WHERE ci.buyer_id = ?
ORDER BY ci.created_at ASC, ci.id ASC`
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).Where("id = ?", productID).First(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// FindCart returns nil without error when the buyer never had a cart.
func (r *repository) FindCart(ctx context.Context, buyerID uuid.UUID) (*models.Cart, error) {
	var record models.Cart
	err := r.db.WithContext(ctx).Where("buyer_id = ?", buyerID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) EnsureCart(ctx context.Context, buyerID uuid.UUID, now time.Time) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "buyer_id"}}, DoNothing: true}).
		Create(&models.Cart{BuyerID: buyerID, UpdatedAt: now}).Error
}

// ClaimSeller binds the cart to sellerID unless another seller already owns it.
func (r *repository) ClaimSeller(ctx context.Context, buyerID, sellerID uuid.UUID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(claimSellerSQL, sellerID, now, buyerID, sellerID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// LockCart takes the carts row lock for the rest of the transaction. Statements
// after it see every cart_items change committed by writers that held the lock.
func (r *repository) LockCart(ctx context.Context, buyerID uuid.UUID, now time.Time) error {
	return r.db.WithContext(ctx).Exec(lockCartSQL, now, buyerID).Error
}

func (r *repository) ReleaseSellerIfEmpty(ctx context.Context, buyerID uuid.UUID, now time.Time) error {
	return r.db.WithContext(ctx).Exec(releaseSQL, now, buyerID, buyerID).Error
}

func (r *repository) FindItem(ctx context.Context, buyerID, itemID uuid.UUID) (*models.CartItem, error) {
	var item models.CartItem
	if err := r.db.WithContext(ctx).Where("id = ? AND buyer_id = ?", itemID, buyerID).First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repository) FindLine(ctx context.Context, buyerID, productID uuid.UUID, productType enums.CartProductType) (*models.CartItem, error) {
	var item models.CartItem
	err := r.db.WithContext(ctx).
		Where("buyer_id = ? AND product_id = ? AND product_type = ?", buyerID, productID, productType).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// SumProductQuantity counts units of productID across all of the buyer's lines,
// whatever their product type, leaving out exceptItemID.
func (r *repository) SumProductQuantity(ctx context.Context, buyerID, productID, exceptItemID uuid.UUID) (int, error) {
	var total int
	err := r.db.WithContext(ctx).
		Model(&models.CartItem{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("buyer_id = ? AND product_id = ? AND id <> ?", buyerID, productID, exceptItemID).
		Scan(&total).Error
	return total, err
}

func (r *repository) CreateItem(ctx context.Context, item *models.CartItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *repository) UpdateItemQuantity(ctx context.Context, itemID uuid.UUID, qty int, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.CartItem{}).
		Where("id = ?", itemID).
		Updates(map[string]any{"quantity": qty, "updated_at": now}).Error
}

func (r *repository) DeleteItem(ctx context.Context, buyerID, itemID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Where("id = ? AND buyer_id = ?", itemID, buyerID).Delete(&models.CartItem{})
	return res.RowsAffected, res.Error
}

func (r *repository) DeleteItems(ctx context.Context, buyerID uuid.UUID) error {
	return r.db.WithContext(ctx).Where("buyer_id = ?", buyerID).Delete(&models.CartItem{}).Error
}

func (r *repository) ListLines(ctx context.Context, buyerID uuid.UUID) ([]Line, error) {
	var lines []Line
	if err := r.db.WithContext(ctx).Raw(listLinesSQL, buyerID).Scan(&lines).Error; err != nil {
		return nil, err
	}
	return lines, nil
}
