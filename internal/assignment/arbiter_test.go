package assignment

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/internal/notifications"
	"github.com/angelmondragon/fulfillment-backend/internal/realtime"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/dbtest"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/metrics"
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

type fakeDrivers struct {
	mu     sync.Mutex
	events []realtime.Event
	err    error
}

func (f *fakeDrivers) PublishDrivers(_ context.Context, evt realtime.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return f.err
}

type claimCounter struct {
	mu       sync.Mutex
	outcomes map[string]int
	moves    int
}

func (c *claimCounter) IncClaim(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcomes == nil {
		c.outcomes = map[string]int{}
	}
	c.outcomes[outcome]++
}

func (c *claimCounter) IncTransition(string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.moves++
}

type harness struct {
	arbiter    *Arbiter
	conn       *gorm.DB
	dispatcher *recordingDispatcher
	drivers    *fakeDrivers
	metrics    *claimCounter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client, conn := dbtest.Client(t)
	h := &harness{
		conn:       conn,
		dispatcher: &recordingDispatcher{},
		drivers:    &fakeDrivers{},
		metrics:    &claimCounter{},
	}
	var err error
	h.arbiter, err = NewArbiter(ArbiterParams{
		Repo:       NewRepository(conn),
		Tx:         client,
		Outbox:     outbox.NewService(outbox.NewRepository(conn), nil),
		Dispatcher: h.dispatcher,
		Drivers:    h.drivers,
		Metrics:    h.metrics,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) seedOrder(t *testing.T, status enums.OrderStatus, dt enums.DeliveryType, createdAt time.Time) models.Order {
	t.Helper()
	address := "1 Main St"
	order := models.Order{
		ID:              uuid.New(),
		BuyerID:         uuid.New(),
		SellerID:        uuid.New(),
		Status:          status,
		DeliveryType:    dt,
		Subtotal:        decimal.RequireFromString("20"),
		DeliveryFee:     decimal.RequireFromString("15"),
		Total:           decimal.RequireFromString("35"),
		DeliveryAddress: &address,
		CustomerName:    "Ana",
		PhoneNumber:     "5551234",
		PaymentMethod:   enums.PaymentMethodCash,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
	require.NoError(t, h.conn.Create(&order).Error)
	return order
}

func TestAssignDriverClaimsReadyDeliveryOrder(t *testing.T) {
	h := newHarness(t)
	order := h.seedOrder(t, enums.OrderStatusReady, enums.DeliveryTypeDelivery, time.Now().UTC())
	driverID := uuid.New()

	claimed, err := h.arbiter.AssignDriver(context.Background(), order.ID, driverID)
	require.NoError(t, err)
	require.NotNil(t, claimed.DriverID)
	assert.Equal(t, driverID, *claimed.DriverID)
	assert.Equal(t, enums.OrderStatusAssigned, claimed.Status)
	assert.NotNil(t, claimed.AssignedAt)

	var events []models.OrderStatusEvent
	require.NoError(t, h.conn.Where("order_id = ?", order.ID).Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, enums.ActorRoleDriver, events[0].ActorRole)
	assert.Equal(t, enums.OrderStatusReady, *events[0].FromStatus)

	var outboxed int64
	require.NoError(t, h.conn.Model(&models.OutboxEvent{}).
		Where("event_type = ? AND aggregate_id = ?", enums.EventOrderDriverAssigned, order.ID).
		Count(&outboxed).Error)
	assert.Equal(t, int64(1), outboxed)

	require.Len(t, h.dispatcher.events, 1)
	assert.Equal(t, enums.OrderStatusAssigned, h.dispatcher.events[0].Status)
	assert.Equal(t, order.BuyerID, h.dispatcher.events[0].BuyerID)

	require.Len(t, h.drivers.events, 1)
	assert.Equal(t, realtime.EventClaimableChanged, h.drivers.events[0].Type)
	var change claimableChange
	require.NoError(t, json.Unmarshal(h.drivers.events[0].Payload, &change))
	assert.Equal(t, order.ID, change.OrderID)
	assert.False(t, change.Claimable)
	assert.Equal(t, 1, h.metrics.outcomes[metrics.ClaimWon])
	assert.Equal(t, 1, h.metrics.moves)
}

func TestAssignDriverConcurrentClaimsHaveOneWinner(t *testing.T) {
	h := newHarness(t)
	order := h.seedOrder(t, enums.OrderStatusReady, enums.DeliveryTypeDelivery, time.Now().UTC())

	const drivers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []uuid.UUID
		lost    int
	)
	for i := 0; i < drivers; i++ {
		driverID := uuid.New()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.arbiter.AssignDriver(context.Background(), order.ID, driverID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, driverID)
			case pkgerrors.IsReason(err, pkgerrors.ReasonAlreadyAssigned):
				lost++
			default:
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, drivers-1, lost)

	var stored models.Order
	require.NoError(t, h.conn.First(&stored, "id = ?", order.ID).Error)
	require.NotNil(t, stored.DriverID)
	assert.Equal(t, winners[0], *stored.DriverID)
	assert.Equal(t, 1, h.metrics.outcomes[metrics.ClaimWon])
	assert.Equal(t, drivers-1, h.metrics.outcomes[metrics.ClaimLost])
	assert.Len(t, h.dispatcher.events, 1)
}

func TestAssignDriverRejectsIneligibleOrders(t *testing.T) {
	h := newHarness(t)
	now := time.Now().UTC()
	pickup := h.seedOrder(t, enums.OrderStatusReady, enums.DeliveryTypePickup, now)
	pending := h.seedOrder(t, enums.OrderStatusPending, enums.DeliveryTypeDelivery, now)

	_, err := h.arbiter.AssignDriver(context.Background(), pickup.ID, uuid.New())
	assert.True(t, pkgerrors.IsReason(err, pkgerrors.ReasonInvalidTransition))

	_, err = h.arbiter.AssignDriver(context.Background(), pending.ID, uuid.New())
	assert.True(t, pkgerrors.IsReason(err, pkgerrors.ReasonInvalidTransition))

	_, err = h.arbiter.AssignDriver(context.Background(), uuid.New(), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = h.arbiter.AssignDriver(context.Background(), pickup.ID, uuid.Nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))

	assert.Equal(t, 3, h.metrics.outcomes[metrics.ClaimInvalid])
	assert.Empty(t, h.dispatcher.events)
	assert.Empty(t, h.drivers.events)
}

func TestAssignDriverSurvivesRealtimeFailure(t *testing.T) {
	h := newHarness(t)
	h.drivers.err = errors.New("redis down")
	order := h.seedOrder(t, enums.OrderStatusReady, enums.DeliveryTypeDelivery, time.Now().UTC())

	_, err := h.arbiter.AssignDriver(context.Background(), order.ID, uuid.New())
	require.NoError(t, err)
	assert.Len(t, h.drivers.events, 1)
}

func TestListClaimableOldestFirst(t *testing.T) {
	h := newHarness(t)
	base := time.Now().UTC().Add(-time.Hour)
	first := h.seedOrder(t, enums.OrderStatusReady, enums.DeliveryTypeDelivery, base)
	second := h.seedOrder(t, enums.OrderStatusReady, enums.DeliveryTypeDelivery, base.Add(time.Minute))
	third := h.seedOrder(t, enums.OrderStatusReady, enums.DeliveryTypeDelivery, base.Add(2*time.Minute))
	h.seedOrder(t, enums.OrderStatusReady, enums.DeliveryTypePickup, base)
	h.seedOrder(t, enums.OrderStatusAccepted, enums.DeliveryTypeDelivery, base)

	ctx := context.Background()
	page, err := h.arbiter.ListClaimable(ctx, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, first.ID, page.Items[0].ID)
	assert.Equal(t, second.ID, page.Items[1].ID)
	require.NotEmpty(t, page.NextCursor)

	next, err := h.arbiter.ListClaimable(ctx, pagination.Params{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, next.Items, 1)
	assert.Equal(t, third.ID, next.Items[0].ID)
	assert.Empty(t, next.NextCursor)

	_, err = h.arbiter.AssignDriver(ctx, first.ID, uuid.New())
	require.NoError(t, err)
	after, err := h.arbiter.ListClaimable(ctx, pagination.Params{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, after.Items, 2)

	_, err = h.arbiter.ListClaimable(ctx, pagination.Params{Cursor: "%%%"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestNewArbiterRequiresDependencies(t *testing.T) {
	_, err := NewArbiter(ArbiterParams{})
	require.Error(t, err)
}
