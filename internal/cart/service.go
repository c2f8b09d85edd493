package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/db"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type manager struct {
	repo Repository
	tx   txRunner
	logg *logger.Logger
	now  func() time.Time
}

// NewManager builds the cart manager backed by the provided stack.
func NewManager(repo Repository, tx txRunner, logg *logger.Logger) (Manager, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &manager{
		repo: repo,
		tx:   tx,
		logg: logg,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (m *manager) AddItem(ctx context.Context, input AddItemInput) (*Cart, error) {
	if input.BuyerID == uuid.Nil || input.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id and product id required")
	}
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	productType, err := enums.ParseCartProductType(string(input.ProductType))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product type")
	}

	err = m.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := m.repo.WithTx(tx)
		now := m.now()

		product, err := repo.FindProduct(ctx, input.ProductID)
		if err != nil {
			return notFoundOr(err, "product not found", "load product")
		}
		if !product.IsAvailable {
			return pkgerrors.NewReason(pkgerrors.ReasonProductUnavailable, fmt.Sprintf("%s is currently unavailable", product.Name))
		}

		if err := repo.EnsureCart(ctx, input.BuyerID, now); err != nil {
			return db.Classify(err, "create cart")
		}
		// The claim holds the carts row lock, so the reads below cannot race
		// another mutation of this cart.
		claimed, err := repo.ClaimSeller(ctx, input.BuyerID, product.SellerID, now)
		if err != nil {
			return db.Classify(err, "claim cart seller")
		}
		if !claimed {
			return pkgerrors.NewReason(pkgerrors.ReasonSellerConflict, "cart holds items from another seller; clear it first")
		}

		existing, err := repo.FindLine(ctx, input.BuyerID, product.ID, productType)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return db.Classify(err, "load cart line")
		}
		inCart, err := repo.SumProductQuantity(ctx, input.BuyerID, product.ID, uuid.Nil)
		if err != nil {
			return db.Classify(err, "count cart units")
		}
		if want := inCart + input.Quantity; want > product.StockQuantity {
			return outOfStock(product, want)
		}

		if existing != nil {
			if err := repo.UpdateItemQuantity(ctx, existing.ID, existing.Quantity+input.Quantity, now); err != nil {
				return db.Classify(err, "update cart line")
			}
			return nil
		}
		item := &models.CartItem{
			ID:          uuid.New(),
			BuyerID:     input.BuyerID,
			ProductID:   product.ID,
			SellerID:    product.SellerID,
			Quantity:    input.Quantity,
			ProductType: productType,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := repo.CreateItem(ctx, item); err != nil {
			return db.Classify(err, "insert cart line")
		}
		return nil
	})
	if err != nil {
		if pkgerrors.IsReason(err, pkgerrors.ReasonSellerConflict) && m.logg != nil {
			logCtx := m.logg.WithFields(ctx, map[string]any{
				"buyer_id":   input.BuyerID.String(),
				"product_id": input.ProductID.String(),
			})
			m.logg.Warn(logCtx, "cart seller conflict")
		}
		return nil, err
	}
	return m.Get(ctx, input.BuyerID)
}

func (m *manager) UpdateItem(ctx context.Context, buyerID, itemID uuid.UUID, qty int) (*Cart, error) {
	if qty < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity cannot be negative")
	}
	if qty == 0 {
		return m.RemoveItem(ctx, buyerID, itemID)
	}
	err := m.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := m.repo.WithTx(tx)
		now := m.now()
		if err := repo.LockCart(ctx, buyerID, now); err != nil {
			return db.Classify(err, "lock cart")
		}
		item, err := repo.FindItem(ctx, buyerID, itemID)
		if err != nil {
			return notFoundOr(err, "cart item not found", "load cart item")
		}
		product, err := repo.FindProduct(ctx, item.ProductID)
		if err != nil {
			return notFoundOr(err, "product not found", "load product")
		}
		others, err := repo.SumProductQuantity(ctx, buyerID, item.ProductID, item.ID)
		if err != nil {
			return db.Classify(err, "count cart units")
		}
		if want := others + qty; want > product.StockQuantity {
			return outOfStock(product, want)
		}
		if err := repo.UpdateItemQuantity(ctx, item.ID, qty, now); err != nil {
			return db.Classify(err, "update cart line")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m.Get(ctx, buyerID)
}

func (m *manager) RemoveItem(ctx context.Context, buyerID, itemID uuid.UUID) (*Cart, error) {
	err := m.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := m.repo.WithTx(tx)
		now := m.now()
		if err := repo.LockCart(ctx, buyerID, now); err != nil {
			return db.Classify(err, "lock cart")
		}
		removed, err := repo.DeleteItem(ctx, buyerID, itemID)
		if err != nil {
			return db.Classify(err, "delete cart line")
		}
		if removed == 0 {
			return pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
		}
		if err := repo.ReleaseSellerIfEmpty(ctx, buyerID, now); err != nil {
			return db.Classify(err, "release cart seller")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m.Get(ctx, buyerID)
}

func (m *manager) Clear(ctx context.Context, buyerID uuid.UUID) error {
	if buyerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "buyer id required")
	}
	return m.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := m.repo.WithTx(tx)
		now := m.now()
		if err := repo.LockCart(ctx, buyerID, now); err != nil {
			return db.Classify(err, "lock cart")
		}
		if err := repo.DeleteItems(ctx, buyerID); err != nil {
			return db.Classify(err, "clear cart")
		}
		if err := repo.ReleaseSellerIfEmpty(ctx, buyerID, now); err != nil {
			return db.Classify(err, "release cart seller")
		}
		return nil
	})
}

// Get returns the cart with live product data. A buyer without a cart gets an empty one.
func (m *manager) Get(ctx context.Context, buyerID uuid.UUID) (*Cart, error) {
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id required")
	}
	record, err := m.repo.FindCart(ctx, buyerID)
	if err != nil {
		return nil, db.Classify(err, "load cart")
	}
	lines, err := m.repo.ListLines(ctx, buyerID)
	if err != nil {
		return nil, db.Classify(err, "load cart lines")
	}
	out := &Cart{BuyerID: buyerID, Lines: lines}
	if record != nil {
		out.SellerID = record.SellerID
	}
	if out.Lines == nil {
		out.Lines = []Line{}
	}
	return out, nil
}

func notFoundOr(err error, notFoundMsg, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, notFoundMsg)
	}
	return db.Classify(err, op)
}

func outOfStock(product *models.Product, want int) error {
	return pkgerrors.NewReason(pkgerrors.ReasonOutOfStock, fmt.Sprintf("only %d of %s left", product.StockQuantity, product.Name)).
		WithDetails(map[string]any{
			"product_id": product.ID.String(),
			"available":  product.StockQuantity,
			"requested":  want,
		})
}
