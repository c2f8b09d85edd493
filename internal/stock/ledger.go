// Package stock owns product stock. Every mutation is a single conditional
// UPDATE so concurrent buyers can never drive stock_quantity below zero.
package stock

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/db"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/metrics"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox/payloads"
)

const (
	reserveSQL = `UPDATE products SET stock_quantity = stock_quantity - ?, updated_at = ? WHERE id = ? AND stock_quantity >= ?`
	releaseSQL = `UPDATE products SET stock_quantity = stock_quantity + ?, updated_at = ? WHERE id = ?`
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type reservationRecorder interface {
	IncReservation(outcome string)
}

type Ledger struct {
	db      *gorm.DB
	tx      txRunner
	outbox  outboxEmitter
	metrics reservationRecorder
	logg    *logger.Logger
	now     func() time.Time
}

type LedgerParams struct {
	DB      *gorm.DB
	Tx      txRunner
	Outbox  outboxEmitter
	Metrics reservationRecorder
	Logger  *logger.Logger
}

func NewLedger(params LedgerParams) (*Ledger, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("database required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &Ledger{
		db:      params.DB,
		tx:      params.Tx,
		outbox:  params.Outbox,
		metrics: params.Metrics,
		logg:    params.Logger,
		now:     nowUTC,
	}, nil
}

// Reserve takes qty units of productID in its own statement.
func (l *Ledger) Reserve(ctx context.Context, productID uuid.UUID, qty int) error {
	return l.ReserveTx(ctx, l.db, productID, qty)
}

// ReserveTx is Reserve bound to the caller's transaction.
func (l *Ledger) ReserveTx(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if err := validate(productID, qty); err != nil {
		return err
	}
	res := tx.WithContext(ctx).Exec(reserveSQL, qty, l.now().UTC(), productID, qty)
	if res.Error != nil {
		return db.Classify(res.Error, "reserve stock")
	}
	if res.RowsAffected == 0 {
		if err := l.ensureExists(ctx, tx, productID); err != nil {
			return err
		}
		l.record(metrics.ReservationInsufficient)
		return pkgerrors.NewReason(pkgerrors.ReasonInsufficientStock, fmt.Sprintf("insufficient stock for product %s", productID)).
			WithDetails(map[string]any{"product_id": productID.String(), "requested": qty})
	}
	l.record(metrics.ReservationOK)
	return nil
}

// Release restores qty units; used by cancellation and saga compensation.
func (l *Ledger) Release(ctx context.Context, productID uuid.UUID, qty int) error {
	return l.ReleaseTx(ctx, l.db, productID, qty)
}

func (l *Ledger) ReleaseTx(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if err := validate(productID, qty); err != nil {
		return err
	}
	res := tx.WithContext(ctx).Exec(releaseSQL, qty, l.now().UTC(), productID)
	if res.Error != nil {
		return db.Classify(res.Error, "release stock")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	return nil
}

// Compensated records a release performed to undo a partial reservation.
func (l *Ledger) Compensated() {
	l.record(metrics.ReservationCompensated)
}

func (l *Ledger) Get(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := l.db.WithContext(ctx).Where("id = ?", productID).First(&product).Error
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, db.Classify(err, "load product")
	}
	return &product, nil
}

// SetAvailability is the vendor toggle. Only the owning seller may flip it.
func (l *Ledger) SetAvailability(ctx context.Context, sellerID, productID uuid.UUID, available bool) (*models.Product, error) {
	if sellerID == uuid.Nil || productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id and product id required")
	}
	var product models.Product
	err := l.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", productID).First(&product).Error; err != nil {
			if stdErrors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
			}
			return db.Classify(err, "load product")
		}
		if product.SellerID != sellerID {
			return pkgerrors.New(pkgerrors.CodePermission, "product belongs to another seller")
		}
		if product.IsAvailable == available {
			return nil
		}
		now := l.now().UTC()
		if err := tx.Model(&models.Product{}).
			Where("id = ?", productID).
			Updates(map[string]any{"is_available": available, "updated_at": now}).Error; err != nil {
			return db.Classify(err, "update availability")
		}
		product.IsAvailable = available
		product.UpdatedAt = now
		return l.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventProductAvailabilityChanged,
			AggregateType: enums.AggregateProduct,
			AggregateID:   productID,
			Actor:         &outbox.ActorRef{UserID: sellerID, Role: enums.ActorRoleSeller},
			Data: payloads.ProductAvailabilityChangedEvent{
				ProductID:   productID,
				SellerID:    sellerID,
				IsAvailable: available,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if l.logg != nil {
		logCtx := l.logg.WithFields(ctx, map[string]any{
			"product_id":   productID.String(),
			"is_available": available,
		})
		l.logg.Info(logCtx, "product availability set")
	}
	return &product, nil
}

func (l *Ledger) ensureExists(ctx context.Context, tx *gorm.DB, productID uuid.UUID) error {
	var count int64
	if err := tx.WithContext(ctx).Model(&models.Product{}).Where("id = ?", productID).Count(&count).Error; err != nil {
		return db.Classify(err, "load product")
	}
	if count == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	return nil
}

func (l *Ledger) record(outcome string) {
	if l.metrics != nil {
		l.metrics.IncReservation(outcome)
	}
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func validate(productID uuid.UUID, qty int) error {
	if productID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	return nil
}
