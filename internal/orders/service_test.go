package orders

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/internal/cart"
	"github.com/angelmondragon/fulfillment-backend/internal/notifications"
	"github.com/angelmondragon/fulfillment-backend/internal/stock"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/dbtest"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox"
	"github.com/angelmondragon/fulfillment-backend/pkg/pagination"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []notifications.OrderEvent
}

func (r *recordingDispatcher) Dispatch(_ context.Context, evt notifications.OrderEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingDispatcher) last() notifications.OrderEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type transitionCounter struct {
	mu    sync.Mutex
	moves map[string]int
}

func (c *transitionCounter) IncTransition(from, to string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.moves == nil {
		c.moves = map[string]int{}
	}
	c.moves[from+">"+to]++
}

type harness struct {
	svc        Service
	conn       *gorm.DB
	carts      cart.Manager
	dispatcher *recordingDispatcher
	metrics    *transitionCounter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client, conn := dbtest.Client(t)
	emitter := outbox.NewService(outbox.NewRepository(conn), nil)
	ledger, err := stock.NewLedger(stock.LedgerParams{DB: conn, Tx: client, Outbox: emitter})
	require.NoError(t, err)
	carts, err := cart.NewManager(cart.NewRepository(conn), client, nil)
	require.NoError(t, err)

	h := &harness{conn: conn, carts: carts, dispatcher: &recordingDispatcher{}, metrics: &transitionCounter{}}
	h.svc, err = NewService(ServiceParams{
		Repo:       NewRepository(conn),
		Tx:         client,
		Outbox:     emitter,
		Stock:      ledger,
		Carts:      carts,
		Dispatcher: h.dispatcher,
		Fees:       DefaultFeeSchedule(),
		Metrics:    h.metrics,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) seedProduct(t *testing.T, sellerID uuid.UUID, name, price string, qty int) models.Product {
	t.Helper()
	now := time.Now().UTC()
	p := models.Product{
		ID:            uuid.New(),
		SellerID:      sellerID,
		Name:          name,
		Price:         decimal.RequireFromString(price),
		StockQuantity: qty,
		IsAvailable:   true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, h.conn.Create(&p).Error)
	return p
}

func (h *harness) stockOf(t *testing.T, id uuid.UUID) int {
	t.Helper()
	var p models.Product
	require.NoError(t, h.conn.First(&p, "id = ?", id).Error)
	return p.StockQuantity
}

func (h *harness) addToCart(t *testing.T, buyer uuid.UUID, product models.Product, qty int) {
	t.Helper()
	_, err := h.carts.AddItem(context.Background(), cart.AddItemInput{BuyerID: buyer, ProductID: product.ID, Quantity: qty})
	require.NoError(t, err)
}

func (h *harness) outboxTypes(t *testing.T, orderID uuid.UUID) []enums.OutboxEventType {
	t.Helper()
	var rows []models.OutboxEvent
	require.NoError(t, h.conn.Where("aggregate_id = ?", orderID).Order("created_at ASC").Find(&rows).Error)
	out := make([]enums.OutboxEventType, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.EventType)
	}
	return out
}

func deliveryInput(buyer uuid.UUID) CreateOrderInput {
	return CreateOrderInput{
		BuyerID:      buyer,
		DeliveryType: enums.DeliveryTypeDelivery,
		Contact: Contact{
			CustomerName:    "Rana",
			PhoneNumber:     "+20100000000",
			DeliveryAddress: "12 Nile St",
		},
		PaymentMethod: enums.PaymentMethodCash,
	}
}

// placeOrder creates a one-line order and returns it.
func (h *harness) placeOrder(t *testing.T, buyer, seller uuid.UUID, deliveryType enums.DeliveryType) *models.Order {
	t.Helper()
	product := h.seedProduct(t, seller, "Koshari", "10.00", 10)
	h.addToCart(t, buyer, product, 1)
	input := deliveryInput(buyer)
	input.DeliveryType = deliveryType
	order, err := h.svc.CreateOrder(context.Background(), input)
	require.NoError(t, err)
	return order
}

func (h *harness) move(t *testing.T, orderID uuid.UUID, to enums.OrderStatus, actorID uuid.UUID, role enums.ActorRole) (*models.Order, error) {
	t.Helper()
	return h.svc.Transition(context.Background(), TransitionInput{OrderID: orderID, To: to, ActorID: actorID, ActorRole: role})
}

func TestCreateOrderTotalsSnapshotAndSideEffects(t *testing.T) {
	h := newHarness(t)
	buyer, seller := uuid.New(), uuid.New()
	wrap := h.seedProduct(t, seller, "Wrap", "10.00", 5)
	plate := h.seedProduct(t, seller, "Plate", "20.00", 5)
	h.addToCart(t, buyer, wrap, 2)
	h.addToCart(t, buyer, plate, 1)

	input := deliveryInput(buyer)
	input.ItemNotes = map[uuid.UUID]string{wrap.ID: "no onions"}
	order, err := h.svc.CreateOrder(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, enums.OrderStatusPending, order.Status)
	assert.Equal(t, seller, order.SellerID)
	assert.True(t, order.Subtotal.Equal(decimal.NewFromInt(40)), order.Subtotal.String())
	assert.True(t, order.DeliveryFee.Equal(decimal.NewFromInt(15)))
	assert.True(t, order.Total.Equal(decimal.NewFromInt(55)), order.Total.String())
	require.Len(t, order.Items, 2)

	assert.Equal(t, 3, h.stockOf(t, wrap.ID))
	assert.Equal(t, 4, h.stockOf(t, plate.ID))

	remaining, err := h.carts.Get(context.Background(), buyer)
	require.NoError(t, err)
	assert.True(t, remaining.IsEmpty())

	assert.Equal(t, []enums.OutboxEventType{enums.EventOrderCreated}, h.outboxTypes(t, order.ID))

	history, err := h.svc.History(context.Background(), order.ID, Actor{ID: buyer, Role: enums.ActorRoleBuyer})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Nil(t, history[0].FromStatus)
	assert.Equal(t, enums.OrderStatusPending, history[0].ToStatus)

	evt := h.dispatcher.last()
	assert.Equal(t, enums.OrderStatusPending, evt.Status)
	assert.Equal(t, seller, evt.SellerID)
	assert.Equal(t, 1, h.metrics.moves[">pending"])

	stored, err := h.svc.Get(context.Background(), order.ID, Actor{ID: seller, Role: enums.ActorRoleSeller})
	require.NoError(t, err)
	var noted int
	for _, item := range stored.Items {
		if item.ProductID == wrap.ID {
			require.NotNil(t, item.Notes)
			assert.Equal(t, "no onions", *item.Notes)
			noted++
		}
	}
	assert.Equal(t, 1, noted)
}

func TestOrderItemsKeepPriceAfterLiveChange(t *testing.T) {
	h := newHarness(t)
	buyer, seller := uuid.New(), uuid.New()
	order := h.placeOrder(t, buyer, seller, enums.DeliveryTypePickup)

	require.NoError(t, h.conn.Model(&models.Product{}).
		Where("id = ?", order.Items[0].ProductID).
		Update("price", decimal.RequireFromString("99.00")).Error)

	stored, err := h.svc.Get(context.Background(), order.ID, Actor{ID: buyer, Role: enums.ActorRoleBuyer})
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assert.True(t, stored.Items[0].Price.Equal(decimal.NewFromInt(10)), stored.Items[0].Price.String())
	assert.True(t, stored.Total.Equal(decimal.NewFromInt(10)))
}

func TestCreateOrderValidation(t *testing.T) {
	h := newHarness(t)
	buyer, seller := uuid.New(), uuid.New()

	_, err := h.svc.CreateOrder(context.Background(), deliveryInput(buyer))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "empty cart")

	product := h.seedProduct(t, seller, "Fuul", "5.00", 5)
	h.addToCart(t, buyer, product, 1)

	input := deliveryInput(buyer)
	input.Contact.DeliveryAddress = ""
	_, err = h.svc.CreateOrder(context.Background(), input)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "delivery needs an address")

	input = deliveryInput(buyer)
	input.PaymentMethod = "crypto"
	_, err = h.svc.CreateOrder(context.Background(), input)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	require.NoError(t, h.conn.Model(&models.Product{}).Where("id = ?", product.ID).Update("is_available", false).Error)
	_, err = h.svc.CreateOrder(context.Background(), deliveryInput(buyer))
	assert.True(t, pkgerrors.IsReason(err, pkgerrors.ReasonProductUnavailable))
	assert.Equal(t, 5, h.stockOf(t, product.ID))
}

func TestCreateOrderInsufficientStockLeavesNothingBehind(t *testing.T) {
	h := newHarness(t)
	buyer, seller := uuid.New(), uuid.New()
	first := h.seedProduct(t, seller, "Taameya", "4.00", 5)
	second := h.seedProduct(t, seller, "Hawawshi", "8.00", 1)
	h.addToCart(t, buyer, first, 2)
	h.addToCart(t, buyer, second, 1)
	require.NoError(t, h.conn.Model(&models.Product{}).Where("id = ?", second.ID).Update("stock_quantity", 0).Error)

	_, err := h.svc.CreateOrder(context.Background(), deliveryInput(buyer))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsReason(err, pkgerrors.ReasonInsufficientStock))
	assert.Contains(t, err.Error(), "Hawawshi")

	assert.Equal(t, 5, h.stockOf(t, first.ID))
	assert.Equal(t, 0, h.stockOf(t, second.ID))
	var orders int64
	require.NoError(t, h.conn.Model(&models.Order{}).Count(&orders).Error)
	assert.Zero(t, orders)
}

type fakeStock struct {
	mu          sync.Mutex
	reserveFn   func(productID uuid.UUID, qty int) error
	released    map[uuid.UUID]int
	compensated int
}

func (f *fakeStock) Reserve(_ context.Context, productID uuid.UUID, qty int) error {
	if f.reserveFn != nil {
		return f.reserveFn(productID, qty)
	}
	return nil
}

func (f *fakeStock) Release(_ context.Context, productID uuid.UUID, qty int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released == nil {
		f.released = map[uuid.UUID]int{}
	}
	f.released[productID] += qty
	return nil
}

func (f *fakeStock) ReleaseTx(ctx context.Context, _ *gorm.DB, productID uuid.UUID, qty int) error {
	return f.Release(ctx, productID, qty)
}

func (f *fakeStock) Compensated() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.compensated++
}

type fakeCarts struct {
	cart    *cart.Cart
	cleared bool
}

func (f *fakeCarts) Get(context.Context, uuid.UUID) (*cart.Cart, error) { return f.cart, nil }

func (f *fakeCarts) Clear(context.Context, uuid.UUID) error {
	f.cleared = true
	return nil
}

type failingTx struct{ err error }

func (f failingTx) WithTx(context.Context, func(tx *gorm.DB) error) error { return f.err }

func newFakeCart(buyer, seller uuid.UUID, lines ...cart.Line) *fakeCarts {
	for i := range lines {
		lines[i].SellerID = seller
		lines[i].IsAvailable = true
	}
	return &fakeCarts{cart: &cart.Cart{BuyerID: buyer, SellerID: &seller, Lines: lines}}
}

func TestCreateOrderCompensatesEarlierReservations(t *testing.T) {
	buyer, seller := uuid.New(), uuid.New()
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	carts := newFakeCart(buyer, seller,
		cart.Line{ProductID: a, Name: "A", Quantity: 2, Price: decimal.NewFromInt(1)},
		cart.Line{ProductID: b, Name: "B", Quantity: 3, Price: decimal.NewFromInt(1)},
		cart.Line{ProductID: c, Name: "C", Quantity: 1, Price: decimal.NewFromInt(1)},
	)
	ledger := &fakeStock{reserveFn: func(productID uuid.UUID, qty int) error {
		if productID == c {
			return pkgerrors.NewReason(pkgerrors.ReasonInsufficientStock, "insufficient stock")
		}
		return nil
	}}
	svc, err := NewService(ServiceParams{
		Repo:       NewRepository(nil),
		Tx:         failingTx{},
		Outbox:     outbox.NewService(outbox.NewRepository(nil), nil),
		Stock:      ledger,
		Carts:      carts,
		Dispatcher: &recordingDispatcher{},
		Fees:       DefaultFeeSchedule(),
	})
	require.NoError(t, err)

	_, err = svc.CreateOrder(context.Background(), deliveryInput(buyer))
	require.True(t, pkgerrors.IsReason(err, pkgerrors.ReasonInsufficientStock))
	assert.Contains(t, err.Error(), "C")
	assert.Equal(t, map[uuid.UUID]int{a: 2, b: 3}, ledger.released)
	assert.Equal(t, 2, ledger.compensated)
	assert.False(t, carts.cleared)
}

func TestCreateOrderReleasesWhenWriteFails(t *testing.T) {
	buyer, seller := uuid.New(), uuid.New()
	a := uuid.New()
	carts := newFakeCart(buyer, seller, cart.Line{ProductID: a, Name: "A", Quantity: 4, Price: decimal.NewFromInt(3)})
	ledger := &fakeStock{}
	dispatcher := &recordingDispatcher{}
	svc, err := NewService(ServiceParams{
		Repo:       NewRepository(nil),
		Tx:         failingTx{err: pkgerrors.New(pkgerrors.CodeTransient, "db gone")},
		Outbox:     outbox.NewService(outbox.NewRepository(nil), nil),
		Stock:      ledger,
		Carts:      carts,
		Dispatcher: dispatcher,
	})
	require.NoError(t, err)

	_, err = svc.CreateOrder(context.Background(), deliveryInput(buyer))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeTransient))
	assert.Equal(t, map[uuid.UUID]int{a: 4}, ledger.released)
	assert.Empty(t, dispatcher.events)
}

func TestCreateOrderRejectsMixedSellers(t *testing.T) {
	buyer := uuid.New()
	carts := &fakeCarts{cart: &cart.Cart{BuyerID: buyer, Lines: []cart.Line{
		{ProductID: uuid.New(), SellerID: uuid.New(), Quantity: 1, IsAvailable: true},
		{ProductID: uuid.New(), SellerID: uuid.New(), Quantity: 1, IsAvailable: true},
	}}}
	svc, err := NewService(ServiceParams{
		Repo:       NewRepository(nil),
		Tx:         failingTx{},
		Outbox:     outbox.NewService(outbox.NewRepository(nil), nil),
		Stock:      &fakeStock{},
		Carts:      carts,
		Dispatcher: &recordingDispatcher{},
	})
	require.NoError(t, err)

	_, err = svc.CreateOrder(context.Background(), deliveryInput(buyer))
	assert.True(t, pkgerrors.IsReason(err, pkgerrors.ReasonSellerConflict))
}

func TestDeliveryLifecycle(t *testing.T) {
	h := newHarness(t)
	buyer, seller, driver := uuid.New(), uuid.New(), uuid.New()
	order := h.placeOrder(t, buyer, seller, enums.DeliveryTypeDelivery)

	updated, err := h.move(t, order.ID, enums.OrderStatusAccepted, seller, enums.ActorRoleSeller)
	require.NoError(t, err)
	require.NotNil(t, updated.AcceptedAt)
	_, err = h.move(t, order.ID, enums.OrderStatusReady, seller, enums.ActorRoleSeller)
	require.NoError(t, err)

	_, err = h.move(t, order.ID, enums.OrderStatusAssigned, driver, enums.ActorRoleDriver)
	assert.True(t, pkgerrors.IsReason(err, pkgerrors.ReasonInvalidTransition), "claims go through the arbiter")
	_, err = h.move(t, order.ID, enums.OrderStatusDelivered, seller, enums.ActorRoleSeller)
	assert.True(t, pkgerrors.IsReason(err, pkgerrors.ReasonInvalidTransition), "delivery orders need a driver")

	require.NoError(t, h.conn.Model(&models.Order{}).Where("id = ?", order.ID).
		Updates(map[string]any{"driver_id": driver, "status": enums.OrderStatusAssigned}).Error)

	_, err = h.move(t, order.ID, enums.OrderStatusPickedUp, uuid.New(), enums.ActorRoleDriver)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodePermission), "only the assigned driver")

	for _, to := range []enums.OrderStatus{enums.OrderStatusPickedUp, enums.OrderStatusInTransit, enums.OrderStatusDelivered} {
		_, err = h.move(t, order.ID, to, driver, enums.ActorRoleDriver)
		require.NoErrorf(t, err, "driver to %s", to)
	}
	assert.Equal(t, enums.OrderStatusDelivered, h.dispatcher.last().Status)
	assert.Equal(t, enums.ActorRoleDriver, h.dispatcher.last().ActorRole)

	_, err = h.move(t, order.ID, enums.OrderStatusCompleted, seller, enums.ActorRoleSeller)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodePermission), "buyer confirms receipt")
	done, err := h.move(t, order.ID, enums.OrderStatusCompleted, buyer, enums.ActorRoleBuyer)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	require.NotNil(t, done.DeliveredAt)

	_, err = h.move(t, order.ID, enums.OrderStatusCancelled, seller, enums.ActorRoleSeller)
	assert.True(t, pkgerrors.IsReason(err, pkgerrors.ReasonInvalidTransition), "terminal")

	history, err := h.svc.History(context.Background(), order.ID, Actor{ID: driver, Role: enums.ActorRoleDriver})
	require.NoError(t, err)
	assert.Len(t, history, 7)
	assert.Equal(t, 1, h.metrics.moves["in_transit>delivered"])
}

func TestPickupOrderCompletesWithoutDriver(t *testing.T) {
	h := newHarness(t)
	buyer, seller := uuid.New(), uuid.New()
	order := h.placeOrder(t, buyer, seller, enums.DeliveryTypePickup)
	assert.Nil(t, order.DeliveryAddress)

	_, err := h.move(t, order.ID, enums.OrderStatusReady, seller, enums.ActorRoleSeller)
	assert.True(t, pkgerrors.IsReason(err, pkgerrors.ReasonInvalidTransition), "must accept first")

	_, err = h.move(t, order.ID, enums.OrderStatusAccepted, buyer, enums.ActorRoleBuyer)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodePermission))
	_, err = h.move(t, order.ID, enums.OrderStatusAccepted, uuid.New(), enums.ActorRoleSeller)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodePermission), "another seller")

	_, err = h.move(t, order.ID, enums.OrderStatusAccepted, seller, enums.ActorRoleSeller)
	require.NoError(t, err)
	_, err = h.move(t, order.ID, enums.OrderStatusReady, seller, enums.ActorRoleSeller)
	require.NoError(t, err)
	done, err := h.move(t, order.ID, enums.OrderStatusCompleted, buyer, enums.ActorRoleBuyer)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCompleted, done.Status)

	evt := h.dispatcher.last()
	assert.Equal(t, enums.OrderStatusCompleted, evt.Status)
	assert.Equal(t, enums.ActorRoleBuyer, evt.ActorRole)
}

func TestRejectStoresReasonAndReleasesStock(t *testing.T) {
	h := newHarness(t)
	buyer, seller := uuid.New(), uuid.New()
	order := h.placeOrder(t, buyer, seller, enums.DeliveryTypeDineIn)
	productID := order.Items[0].ProductID
	assert.Equal(t, 9, h.stockOf(t, productID))

	rejected, err := h.svc.Transition(context.Background(), TransitionInput{
		OrderID:   order.ID,
		To:        enums.OrderStatusRejected,
		ActorID:   seller,
		ActorRole: enums.ActorRoleSeller,
		Reason:    "closing early",
	})
	require.NoError(t, err)
	require.NotNil(t, rejected.RejectionReason)
	assert.Equal(t, "closing early", *rejected.RejectionReason)
	require.NotNil(t, rejected.RejectedAt)
	assert.Equal(t, 10, h.stockOf(t, productID))

	assert.Equal(t, []enums.OutboxEventType{enums.EventOrderCreated, enums.EventOrderStatusChanged}, h.outboxTypes(t, order.ID))
	assert.Equal(t, "closing early", h.dispatcher.last().Reason)
}

func TestCancelFromReadyReleasesStock(t *testing.T) {
	h := newHarness(t)
	buyer, seller := uuid.New(), uuid.New()
	order := h.placeOrder(t, buyer, seller, enums.DeliveryTypeDelivery)
	productID := order.Items[0].ProductID

	for _, to := range []enums.OrderStatus{enums.OrderStatusAccepted, enums.OrderStatusReady, enums.OrderStatusCancelled} {
		_, err := h.move(t, order.ID, to, seller, enums.ActorRoleSeller)
		require.NoError(t, err)
	}
	assert.Equal(t, 10, h.stockOf(t, productID))
}

func TestConcurrentSellerDecisionsApplyOnce(t *testing.T) {
	h := newHarness(t)
	buyer, seller := uuid.New(), uuid.New()
	order := h.placeOrder(t, buyer, seller, enums.DeliveryTypePickup)

	targets := []enums.OrderStatus{enums.OrderStatusAccepted, enums.OrderStatusRejected}
	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, to := range targets {
		wg.Add(1)
		go func(i int, to enums.OrderStatus) {
			defer wg.Done()
			_, errs[i] = h.svc.Transition(context.Background(), TransitionInput{
				OrderID: order.ID, To: to, ActorID: seller, ActorRole: enums.ActorRoleSeller,
			})
		}(i, to)
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeState), err.Error())
	}
	assert.Equal(t, 1, succeeded)
}

func TestDeleteUnconfirmed(t *testing.T) {
	h := newHarness(t)
	buyer, seller := uuid.New(), uuid.New()
	order := h.placeOrder(t, buyer, seller, enums.DeliveryTypePickup)
	productID := order.Items[0].ProductID

	err := h.svc.DeleteUnconfirmed(context.Background(), order.ID, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodePermission))

	require.NoError(t, h.svc.DeleteUnconfirmed(context.Background(), order.ID, buyer))
	assert.Equal(t, 10, h.stockOf(t, productID))

	var items int64
	require.NoError(t, h.conn.Model(&models.OrderItem{}).Where("order_id = ?", order.ID).Count(&items).Error)
	assert.Zero(t, items)
	assert.Equal(t, []enums.OutboxEventType{enums.EventOrderCreated, enums.EventOrderDeleted}, h.outboxTypes(t, order.ID))

	err = h.svc.DeleteUnconfirmed(context.Background(), order.ID, buyer)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestDeleteAfterAcceptIsNoLongerPending(t *testing.T) {
	h := newHarness(t)
	buyer, seller := uuid.New(), uuid.New()
	order := h.placeOrder(t, buyer, seller, enums.DeliveryTypePickup)

	_, err := h.move(t, order.ID, enums.OrderStatusAccepted, seller, enums.ActorRoleSeller)
	require.NoError(t, err)

	err = h.svc.DeleteUnconfirmed(context.Background(), order.ID, buyer)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeState))
	assert.True(t, pkgerrors.IsReason(err, pkgerrors.ReasonNoLongerPending))
	assert.Equal(t, 9, h.stockOf(t, order.Items[0].ProductID), "accepted order keeps its reservation")
}

func TestDeleteRacesAccept(t *testing.T) {
	h := newHarness(t)
	buyer, seller := uuid.New(), uuid.New()
	order := h.placeOrder(t, buyer, seller, enums.DeliveryTypePickup)

	var (
		wg                   sync.WaitGroup
		deleteErr, acceptErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		deleteErr = h.svc.DeleteUnconfirmed(context.Background(), order.ID, buyer)
	}()
	go func() {
		defer wg.Done()
		_, acceptErr = h.move(t, order.ID, enums.OrderStatusAccepted, seller, enums.ActorRoleSeller)
	}()
	wg.Wait()

	require.True(t, (deleteErr == nil) != (acceptErr == nil), "exactly one side wins: delete=%v accept=%v", deleteErr, acceptErr)
	if deleteErr != nil {
		assert.True(t, pkgerrors.IsReason(deleteErr, pkgerrors.ReasonNoLongerPending))
	} else {
		assert.True(t, pkgerrors.IsCode(acceptErr, pkgerrors.CodeNotFound) || pkgerrors.IsCode(acceptErr, pkgerrors.CodeState))
	}
}

func TestGetAndListVisibility(t *testing.T) {
	h := newHarness(t)
	buyer, seller := uuid.New(), uuid.New()
	var placed []*models.Order
	for i := 0; i < 3; i++ {
		placed = append(placed, h.placeOrder(t, buyer, seller, enums.DeliveryTypeDelivery))
	}

	_, err := h.svc.Get(context.Background(), placed[0].ID, Actor{ID: uuid.New(), Role: enums.ActorRoleBuyer})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodePermission))
	_, err = h.svc.Get(context.Background(), uuid.New(), Actor{ID: buyer, Role: enums.ActorRoleBuyer})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	driver := Actor{ID: uuid.New(), Role: enums.ActorRoleDriver}
	_, err = h.svc.Get(context.Background(), placed[0].ID, driver)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodePermission), "pending orders are not in the claim queue")
	for _, to := range []enums.OrderStatus{enums.OrderStatusAccepted, enums.OrderStatusReady} {
		_, err = h.move(t, placed[0].ID, to, seller, enums.ActorRoleSeller)
		require.NoError(t, err)
	}
	_, err = h.svc.Get(context.Background(), placed[0].ID, driver)
	assert.NoError(t, err, "ready delivery orders are visible to drivers")

	first, err := h.svc.List(context.Background(), Actor{ID: buyer, Role: enums.ActorRoleBuyer}, ListParams{Params: paginationParams(2, "")})
	require.NoError(t, err)
	assert.Len(t, first.Items, 2)
	require.NotEmpty(t, first.NextCursor)
	second, err := h.svc.List(context.Background(), Actor{ID: buyer, Role: enums.ActorRoleBuyer}, ListParams{Params: paginationParams(2, first.NextCursor)})
	require.NoError(t, err)
	assert.Len(t, second.Items, 1)
	assert.Empty(t, second.NextCursor)

	ready := enums.OrderStatusReady
	bySeller, err := h.svc.List(context.Background(), Actor{ID: seller, Role: enums.ActorRoleSeller}, ListParams{Status: &ready})
	require.NoError(t, err)
	require.Len(t, bySeller.Items, 1)
	assert.Equal(t, placed[0].ID, bySeller.Items[0].ID)

	none, err := h.svc.List(context.Background(), driver, ListParams{})
	require.NoError(t, err)
	assert.Empty(t, none.Items)

	_, err = h.svc.List(context.Background(), Actor{ID: buyer, Role: enums.ActorRoleBuyer}, ListParams{Params: paginationParams(2, "!!")})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	assert.Error(t, err)
	_, err = NewService(ServiceParams{Repo: NewRepository(nil), Tx: failingTx{}})
	assert.Error(t, err)
}

func paginationParams(limit int, cursor string) pagination.Params {
	return pagination.Params{Limit: limit, Cursor: cursor}
}
