package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/internal/cart"
	"github.com/angelmondragon/fulfillment-backend/internal/notifications"
	"github.com/angelmondragon/fulfillment-backend/pkg/db"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/fulfillment-backend/pkg/pagination"
)

type service struct {
	repo       Repository
	tx         txRunner
	outbox     outboxEmitter
	stock      StockLedger
	carts      CartReader
	dispatcher Dispatcher
	fees       FeeSchedule
	metrics    transitionRecorder
	logg       *logger.Logger
	now        func() time.Time
}

// ServiceParams wires the coordinator.
type ServiceParams struct {
	Repo       Repository
	Tx         txRunner
	Outbox     outboxEmitter
	Stock      StockLedger
	Carts      CartReader
	Dispatcher Dispatcher
	Fees       FeeSchedule
	Metrics    transitionRecorder
	Logger     *logger.Logger
}

// NewService builds the order coordinator with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Stock == nil {
		return nil, fmt.Errorf("stock ledger required")
	}
	if params.Carts == nil {
		return nil, fmt.Errorf("cart reader required")
	}
	if params.Dispatcher == nil {
		return nil, fmt.Errorf("notification dispatcher required")
	}
	return &service{
		repo:       params.Repo,
		tx:         params.Tx,
		outbox:     params.Outbox,
		stock:      params.Stock,
		carts:      params.Carts,
		dispatcher: params.Dispatcher,
		fees:       params.Fees,
		metrics:    params.Metrics,
		logg:       params.Logger,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// CreateOrder turns the buyer's cart into a pending order. Stock is reserved
// line by line before the order is written; any failure afterwards releases
// every reservation taken so far.
func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if input.BuyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if !input.DeliveryType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid delivery type")
	}
	if !input.PaymentMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method")
	}

	current, err := s.carts.Get(ctx, input.BuyerID)
	if err != nil {
		return nil, err
	}
	if current.IsEmpty() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	sellers := current.Sellers()
	if len(sellers) != 1 {
		return nil, pkgerrors.NewReason(pkgerrors.ReasonSellerConflict, "cart holds items from more than one seller")
	}
	if err := input.Contact.validate(input.DeliveryType); err != nil {
		return nil, err
	}
	for _, line := range current.Lines {
		if !line.IsAvailable {
			return nil, pkgerrors.NewReason(pkgerrors.ReasonProductUnavailable, fmt.Sprintf("%s is no longer available", line.Name)).
				WithDetails(map[string]any{"product_id": line.ProductID.String()})
		}
	}

	if s.logg != nil {
		ctx = s.logg.WithActor(ctx, input.BuyerID.String(), string(enums.ActorRoleBuyer))
	}

	totals := s.fees.Price(current.Lines, input.DeliveryType)
	reserved, err := s.reserve(ctx, current.Lines)
	if err != nil {
		return nil, err
	}

	now := s.now()
	order := buildOrder(input, sellers[0], current.Lines, totals, now)

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Create(ctx, order); err != nil {
			return db.Classify(err, "create order")
		}
		if err := repo.CreateStatusEvent(ctx, &models.OrderStatusEvent{
			ID:        uuid.New(),
			OrderID:   order.ID,
			ToStatus:  enums.OrderStatusPending,
			ActorID:   input.BuyerID,
			ActorRole: enums.ActorRoleBuyer,
			CreatedAt: now,
		}); err != nil {
			return db.Classify(err, "record order status")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: input.BuyerID, Role: enums.ActorRoleBuyer},
			OccurredAt:    now,
			Data: payloads.OrderCreatedEvent{
				OrderID:      order.ID,
				BuyerID:      order.BuyerID,
				SellerID:     order.SellerID,
				DeliveryType: order.DeliveryType,
				Subtotal:     order.Subtotal,
				DeliveryFee:  order.DeliveryFee,
				Total:        order.Total,
				ItemCount:    len(order.Items),
			},
		})
	})
	if err != nil {
		s.compensate(ctx, reserved)
		return nil, err
	}

	if s.logg != nil {
		ctx = s.logg.WithOrderID(ctx, order.ID.String())
	}
	if err := s.carts.Clear(ctx, input.BuyerID); err != nil && s.logg != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "clear cart after order failed")
	}
	if s.metrics != nil {
		s.metrics.IncTransition("", string(enums.OrderStatusPending))
	}
	s.dispatcher.Dispatch(ctx, notifications.OrderEvent{
		OrderID:      order.ID,
		BuyerID:      order.BuyerID,
		SellerID:     order.SellerID,
		DeliveryType: order.DeliveryType,
		Status:       enums.OrderStatusPending,
		ActorID:      input.BuyerID,
		ActorRole:    enums.ActorRoleBuyer,
		Total:        order.Total,
	})
	if s.logg != nil {
		s.logg.Info(ctx, "order created")
	}
	return order, nil
}

// reserve takes stock for every line, each in its own statement. On the first
// failure it gives back what was already taken.
func (s *service) reserve(ctx context.Context, lines []cart.Line) ([]cart.Line, error) {
	reserved := make([]cart.Line, 0, len(lines))
	for _, line := range lines {
		if err := s.stock.Reserve(ctx, line.ProductID, line.Quantity); err != nil {
			s.compensate(ctx, reserved)
			if pkgerrors.IsReason(err, pkgerrors.ReasonInsufficientStock) {
				return nil, pkgerrors.NewReason(pkgerrors.ReasonInsufficientStock, fmt.Sprintf("not enough stock for %s", line.Name)).
					WithDetails(map[string]any{
						"product_id":   line.ProductID.String(),
						"product_name": line.Name,
						"requested":    line.Quantity,
					})
			}
			return nil, err
		}
		reserved = append(reserved, line)
	}
	return reserved, nil
}

func (s *service) compensate(ctx context.Context, lines []cart.Line) {
	if len(lines) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	var errs error
	for _, line := range lines {
		if err := s.stock.Release(ctx, line.ProductID, line.Quantity); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("release %s: %w", line.ProductID, err))
			continue
		}
		s.stock.Compensated()
	}
	if errs != nil && s.logg != nil {
		s.logg.Error(ctx, "stock compensation incomplete", errs)
	}
}

func buildOrder(input CreateOrderInput, sellerID uuid.UUID, lines []cart.Line, totals Totals, now time.Time) *models.Order {
	order := &models.Order{
		ID:            uuid.New(),
		BuyerID:       input.BuyerID,
		SellerID:      sellerID,
		Status:        enums.OrderStatusPending,
		DeliveryType:  input.DeliveryType,
		Subtotal:      totals.Subtotal,
		DeliveryFee:   totals.DeliveryFee,
		Total:         totals.Total,
		CustomerName:  strings.TrimSpace(input.Contact.CustomerName),
		PhoneNumber:   strings.TrimSpace(input.Contact.PhoneNumber),
		PaymentMethod: input.PaymentMethod,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if input.DeliveryType.RequiresDriver() {
		order.DeliveryAddress = optionalString(input.Contact.DeliveryAddress)
	}
	order.CustomerNotes = optionalString(input.Contact.CustomerNotes)

	order.Items = make([]models.OrderItem, 0, len(lines))
	for _, line := range lines {
		order.Items = append(order.Items, models.OrderItem{
			ID:           uuid.New(),
			OrderID:      order.ID,
			ProductID:    line.ProductID,
			ProductName:  line.Name,
			ProductImage: line.ImageURL,
			Price:        line.Price,
			Quantity:     line.Quantity,
			Notes:        optionalString(input.ItemNotes[line.ProductID]),
		})
	}
	return order
}

// Transition applies one lifecycle move for the acting user. The write only
// lands if the order still has the status (and driver) observed when loading it.
func (s *service) Transition(ctx context.Context, input TransitionInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	actor := Actor{ID: input.ActorID, Role: input.ActorRole}
	if err := actor.validate(); err != nil {
		return nil, err
	}
	if !input.To.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid target status")
	}

	order, err := s.load(ctx, s.repo, input.OrderID)
	if err != nil {
		return nil, err
	}
	from := order.Status
	rule, ok := Rule(from, input.To)
	if !ok || !rule.AppliesTo(order.DeliveryType) {
		return nil, invalidTransition(from, input.To)
	}
	if rule.ViaArbiter {
		return nil, pkgerrors.NewReason(pkgerrors.ReasonInvalidTransition, "drivers claim ready orders through the claim endpoint").
			WithDetails(map[string]any{"from": from, "to": input.To})
	}
	if !rule.Allows(actor.Role) || !isParty(order, actor) {
		return nil, pkgerrors.New(pkgerrors.CodePermission, "actor may not move this order")
	}

	if s.logg != nil {
		ctx = s.logg.WithOrderID(ctx, order.ID.String())
		ctx = s.logg.WithActor(ctx, actor.ID.String(), string(actor.Role))
	}

	now := s.now()
	updates := map[string]any{
		"status":     input.To,
		"updated_at": now,
	}
	if column := milestoneColumn(input.To); column != "" {
		updates[column] = now
	}
	reason := strings.TrimSpace(input.Reason)
	if input.To == enums.OrderStatusRejected && reason != "" {
		updates["rejection_reason"] = reason
	}
	guard := StatusGuard{OrderID: order.ID, From: from}
	if actor.Role == enums.ActorRoleDriver {
		guard.DriverID = &actor.ID
	}

	var updated *models.Order
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		rows, err := repo.UpdateStatus(ctx, guard, updates)
		if err != nil {
			return db.Classify(err, "update order status")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeState, "order changed while processing the request").
				WithDetails(map[string]any{"expected_status": from})
		}

		if releasesStock(input.To) {
			items, err := repo.ListItems(ctx, order.ID)
			if err != nil {
				return db.Classify(err, "load order items")
			}
			for _, item := range items {
				if err := s.stock.ReleaseTx(ctx, tx, item.ProductID, item.Quantity); err != nil {
					return err
				}
			}
		}

		fromStatus := from
		event := &models.OrderStatusEvent{
			ID:         uuid.New(),
			OrderID:    order.ID,
			FromStatus: &fromStatus,
			ToStatus:   input.To,
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			Note:       optionalString(reason),
			CreatedAt:  now,
		}
		if err := repo.CreateStatusEvent(ctx, event); err != nil {
			return db.Classify(err, "record order status")
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderStatusChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: actor.ID, Role: actor.Role},
			OccurredAt:    now,
			Data: payloads.OrderStatusChangedEvent{
				OrderID:      order.ID,
				BuyerID:      order.BuyerID,
				SellerID:     order.SellerID,
				DriverID:     order.DriverID,
				DeliveryType: order.DeliveryType,
				From:         from,
				To:           input.To,
				ActorID:      actor.ID,
				ActorRole:    actor.Role,
				Reason:       reason,
				ChangedAt:    now,
			},
		}); err != nil {
			return err
		}

		updated, err = s.loadWithItems(ctx, repo, order.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncTransition(string(from), string(input.To))
	}
	s.dispatcher.Dispatch(ctx, notifications.OrderEvent{
		OrderID:      updated.ID,
		BuyerID:      updated.BuyerID,
		SellerID:     updated.SellerID,
		DriverID:     updated.DriverID,
		DeliveryType: updated.DeliveryType,
		From:         from,
		Status:       input.To,
		ActorID:      actor.ID,
		ActorRole:    actor.Role,
		Reason:       reason,
		Total:        updated.Total,
	})
	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{"from": string(from), "to": string(input.To)}), "order transitioned")
	}
	return updated, nil
}

// DeleteUnconfirmed withdraws a pending order. Deleting and accepting race on
// the same row; whichever statement lands first wins and the other sees a
// state error.
func (s *service) DeleteUnconfirmed(ctx context.Context, orderID, buyerID uuid.UUID) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if buyerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	var deleted *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		items, err := repo.ListItems(ctx, orderID)
		if err != nil {
			return db.Classify(err, "load order items")
		}
		snapshot, err := repo.FindByID(ctx, orderID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return db.Classify(err, "load order")
		}

		rows, err := repo.DeletePending(ctx, orderID, buyerID)
		if err != nil {
			return db.Classify(err, "delete order")
		}
		if rows == 0 {
			return s.explainFailedDelete(ctx, repo, orderID, buyerID)
		}

		for _, item := range items {
			if err := s.stock.ReleaseTx(ctx, tx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}
		if err := repo.DeleteItems(ctx, orderID); err != nil {
			return db.Classify(err, "delete order items")
		}
		if err := repo.DeleteStatusEvents(ctx, orderID); err != nil {
			return db.Classify(err, "delete order history")
		}

		deleted = snapshot
		now := s.now()
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderDeleted,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         &outbox.ActorRef{UserID: buyerID, Role: enums.ActorRoleBuyer},
			OccurredAt:    now,
			Data: payloads.OrderDeletedEvent{
				OrderID:   orderID,
				BuyerID:   buyerID,
				SellerID:  snapshot.SellerID,
				DeletedAt: now,
			},
		})
	})
	if err != nil {
		return err
	}
	if s.logg != nil && deleted != nil {
		s.logg.Info(s.logg.WithOrderID(ctx, deleted.ID.String()), "pending order deleted")
	}
	return nil
}

func (s *service) explainFailedDelete(ctx context.Context, repo Repository, orderID, buyerID uuid.UUID) error {
	order, err := s.load(ctx, repo, orderID)
	if err != nil {
		return err
	}
	if order.BuyerID != buyerID {
		return pkgerrors.New(pkgerrors.CodePermission, "order belongs to another buyer")
	}
	return pkgerrors.NewReason(pkgerrors.ReasonNoLongerPending, "order is no longer pending").
		WithDetails(map[string]any{"status": order.Status})
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}
	order, err := s.loadWithItems(ctx, s.repo, orderID)
	if err != nil {
		return nil, err
	}
	if !canView(order, actor) {
		return nil, pkgerrors.New(pkgerrors.CodePermission, "order not visible to actor")
	}
	return order, nil
}

// List pages through the orders the actor is party to, newest first.
func (s *service) List(ctx context.Context, actor Actor, params ListParams) (*pagination.Page[models.Order], error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}
	if params.Status != nil && !params.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, err := s.repo.ListForActor(ctx, actor, listFilter{
		Status: params.Status,
		Cursor: cursor,
		Limit:  params.Limit,
	})
	if err != nil {
		return nil, db.Classify(err, "list orders")
	}
	page := pagination.Paginate(rows, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	return &page, nil
}

// History returns the order's status trail, oldest first.
func (s *service) History(ctx context.Context, orderID uuid.UUID, actor Actor) ([]models.OrderStatusEvent, error) {
	if _, err := s.Get(ctx, orderID, actor); err != nil {
		return nil, err
	}
	events, err := s.repo.ListStatusEvents(ctx, orderID)
	if err != nil {
		return nil, db.Classify(err, "load order history")
	}
	if events == nil {
		events = []models.OrderStatusEvent{}
	}
	return events, nil
}

func (s *service) load(ctx context.Context, repo Repository, orderID uuid.UUID) (*models.Order, error) {
	order, err := repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, db.Classify(err, "load order")
	}
	return order, nil
}

func (s *service) loadWithItems(ctx context.Context, repo Repository, orderID uuid.UUID) (*models.Order, error) {
	order, err := repo.FindWithItems(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, db.Classify(err, "load order")
	}
	return order, nil
}

// isParty reports whether actor is the order's buyer, seller or assigned driver.
func isParty(order *models.Order, actor Actor) bool {
	switch actor.Role {
	case enums.ActorRoleBuyer:
		return order.BuyerID == actor.ID
	case enums.ActorRoleSeller:
		return order.SellerID == actor.ID
	case enums.ActorRoleDriver:
		return order.DriverID != nil && *order.DriverID == actor.ID
	}
	return false
}

// canView extends isParty so drivers can inspect orders waiting in the claim queue.
func canView(order *models.Order, actor Actor) bool {
	if isParty(order, actor) {
		return true
	}
	return actor.Role == enums.ActorRoleDriver &&
		order.DriverID == nil &&
		order.Status == enums.OrderStatusReady &&
		order.DeliveryType.RequiresDriver()
}

func invalidTransition(from, to enums.OrderStatus) error {
	return pkgerrors.NewReason(pkgerrors.ReasonInvalidTransition, fmt.Sprintf("cannot move order from %s to %s", from, to)).
		WithDetails(map[string]any{"from": from, "to": to, "allowed": NextStatuses(from)})
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
