// Package assignment arbitrates driver claims on ready delivery orders.
package assignment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/internal/notifications"
	"github.com/angelmondragon/fulfillment-backend/internal/realtime"
	"github.com/angelmondragon/fulfillment-backend/pkg/db"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/metrics"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/fulfillment-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type dispatcher interface {
	Dispatch(ctx context.Context, evt notifications.OrderEvent)
}

type driversPublisher interface {
	PublishDrivers(ctx context.Context, evt realtime.Event) error
}

type claimRecorder interface {
	IncClaim(outcome string)
	IncTransition(from, to string)
}

// Arbiter decides which driver gets a ready delivery order.
type Arbiter struct {
	repo       Repository
	tx         txRunner
	outbox     outboxEmitter
	dispatcher dispatcher
	drivers    driversPublisher
	metrics    claimRecorder
	logg       *logger.Logger
	now        func() time.Time
}

type ArbiterParams struct {
	Repo       Repository
	Tx         txRunner
	Outbox     outboxEmitter
	Dispatcher dispatcher
	Drivers    driversPublisher
	Metrics    claimRecorder
	Logger     *logger.Logger
}

func NewArbiter(params ArbiterParams) (*Arbiter, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("assignment repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Dispatcher == nil {
		return nil, fmt.Errorf("notification dispatcher required")
	}
	return &Arbiter{
		repo:       params.Repo,
		tx:         params.Tx,
		outbox:     params.Outbox,
		dispatcher: params.Dispatcher,
		drivers:    params.Drivers,
		metrics:    params.Metrics,
		logg:       params.Logger,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// AssignDriver claims orderID for driverID. Concurrent callers race on a
// single conditional UPDATE; losers get ALREADY_ASSIGNED.
func (a *Arbiter) AssignDriver(ctx context.Context, orderID, driverID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if driverID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if a.logg != nil {
		ctx = a.logg.WithFields(ctx, map[string]any{
			"order_id":  orderID.String(),
			"driver_id": driverID.String(),
		})
	}

	now := a.now()
	var claimed *models.Order
	err := a.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := a.repo.WithTx(tx)
		rows, err := repo.Claim(ctx, orderID, driverID, now)
		if err != nil {
			return db.Classify(err, "claim order")
		}
		if rows == 0 {
			return explainLostClaim(ctx, repo, orderID)
		}

		order, err := repo.FindOrder(ctx, orderID)
		if err != nil {
			return db.Classify(err, "load claimed order")
		}
		from := enums.OrderStatusReady
		if err := repo.CreateStatusEvent(ctx, &models.OrderStatusEvent{
			ID:         uuid.New(),
			OrderID:    orderID,
			FromStatus: &from,
			ToStatus:   enums.OrderStatusAssigned,
			ActorID:    driverID,
			ActorRole:  enums.ActorRoleDriver,
			CreatedAt:  now,
		}); err != nil {
			return db.Classify(err, "record order status")
		}
		claimed = order
		return a.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderDriverAssigned,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         &outbox.ActorRef{UserID: driverID, Role: enums.ActorRoleDriver},
			OccurredAt:    now,
			Data: payloads.OrderDriverAssignedEvent{
				OrderID:    orderID,
				BuyerID:    order.BuyerID,
				SellerID:   order.SellerID,
				DriverID:   driverID,
				AssignedAt: now,
			},
		})
	})
	if err != nil {
		a.recordClaim(err)
		if a.logg != nil && pkgerrors.IsReason(err, pkgerrors.ReasonAlreadyAssigned) {
			a.logg.Info(ctx, "driver claim lost")
		}
		return nil, err
	}

	a.recordClaim(nil)
	if a.metrics != nil {
		a.metrics.IncTransition(string(enums.OrderStatusReady), string(enums.OrderStatusAssigned))
	}
	a.dispatcher.Dispatch(ctx, notifications.OrderEvent{
		OrderID:      claimed.ID,
		BuyerID:      claimed.BuyerID,
		SellerID:     claimed.SellerID,
		DriverID:     claimed.DriverID,
		DeliveryType: claimed.DeliveryType,
		From:         enums.OrderStatusReady,
		Status:       enums.OrderStatusAssigned,
		ActorID:      driverID,
		ActorRole:    enums.ActorRoleDriver,
		Total:        claimed.Total,
	})
	a.announceClaimed(ctx, claimed)
	if a.logg != nil {
		a.logg.Info(ctx, "driver claim won")
	}
	return claimed, nil
}

// explainLostClaim re-reads the order to tell a lost race from a bad request.
func explainLostClaim(ctx context.Context, repo Repository, orderID uuid.UUID) error {
	order, err := repo.FindOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return db.Classify(err, "load order")
	}
	if order.DriverID != nil {
		return pkgerrors.NewReason(pkgerrors.ReasonAlreadyAssigned, "order already has a driver")
	}
	return pkgerrors.NewReason(pkgerrors.ReasonInvalidTransition, "order is not waiting for a driver").
		WithDetails(map[string]any{"status": order.Status, "delivery_type": order.DeliveryType})
}

func (a *Arbiter) recordClaim(err error) {
	if a.metrics == nil {
		return
	}
	switch {
	case err == nil:
		a.metrics.IncClaim(metrics.ClaimWon)
	case pkgerrors.IsReason(err, pkgerrors.ReasonAlreadyAssigned):
		a.metrics.IncClaim(metrics.ClaimLost)
	default:
		a.metrics.IncClaim(metrics.ClaimInvalid)
	}
}

type claimableChange struct {
	OrderID   uuid.UUID `json:"order_id"`
	Claimable bool      `json:"claimable"`
}

// announceClaimed tells waiting drivers the order left the queue.
func (a *Arbiter) announceClaimed(ctx context.Context, order *models.Order) {
	if a.drivers == nil {
		return
	}
	payload, err := json.Marshal(claimableChange{OrderID: order.ID, Claimable: false})
	if err != nil {
		if a.logg != nil {
			a.logg.Error(ctx, "encode claimed announcement", err)
		}
		return
	}
	orderID := order.ID
	err = a.drivers.PublishDrivers(context.WithoutCancel(ctx), realtime.Event{
		Type:    realtime.EventClaimableChanged,
		OrderID: &orderID,
		Status:  enums.OrderStatusAssigned,
		Payload: payload,
		SentAt:  a.now(),
	})
	if err != nil && a.logg != nil {
		a.logg.Warn(a.logg.WithField(ctx, "error", err.Error()), "announce claimed order failed")
	}
}

// ListClaimable pages through ready, unassigned delivery orders, oldest first.
func (a *Arbiter) ListClaimable(ctx context.Context, params pagination.Params) (*pagination.Page[models.Order], error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := a.repo.ListClaimable(ctx, cursor, params.Limit)
	if err != nil {
		return nil, db.Classify(err, "list claimable orders")
	}
	page := pagination.Paginate(rows, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	return &page, nil
}
