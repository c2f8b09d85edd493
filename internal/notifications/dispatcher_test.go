package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/fulfillment-backend/internal/realtime"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/dbtest"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

type fakePublisher struct {
	mu        sync.Mutex
	err       error
	published map[uuid.UUID][]realtime.Event
}

func (f *fakePublisher) PublishUser(ctx context.Context, userID uuid.UUID, evt realtime.Event) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.published == nil {
		f.published = map[uuid.UUID][]realtime.Event{}
	}
	f.published[userID] = append(f.published[userID], evt)
	return nil
}

type fakeDispatchMetrics struct {
	ok, failed int
}

func (f *fakeDispatchMetrics) IncDispatch(ok bool) {
	if ok {
		f.ok++
		return
	}
	f.failed++
}

func TestDispatchStoresAndPublishes(t *testing.T) {
	conn := dbtest.Open(t)
	pub := &fakePublisher{}
	rec := &fakeDispatchMetrics{}
	d, err := NewDispatcher(DispatcherParams{Repo: NewRepository(conn), Publisher: pub, Metrics: rec})
	require.NoError(t, err)

	buyer, seller := uuid.New(), uuid.New()
	evt := OrderEvent{
		OrderID:      uuid.New(),
		BuyerID:      buyer,
		SellerID:     seller,
		DeliveryType: enums.DeliveryTypePickup,
		Status:       enums.OrderStatusPending,
		ActorID:      buyer,
		ActorRole:    enums.ActorRoleBuyer,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Dispatch(ctx, evt)

	var rows []models.Notification
	require.NoError(t, conn.Where("recipient_id = ?", seller).Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.NotificationTypeOrderCreated, rows[0].Type)
	assert.False(t, rows[0].IsRead)

	var data map[string]any
	require.NoError(t, json.Unmarshal(rows[0].Data, &data))
	assert.Equal(t, evt.OrderID.String(), data["order_id"])

	require.Len(t, pub.published[seller], 1, "cancelled caller context does not stop delivery")
	assert.Equal(t, realtime.EventNotification, pub.published[seller][0].Type)
	assert.Equal(t, 1, rec.ok)
}

func TestDispatchSkipsSelfNotification(t *testing.T) {
	conn := dbtest.Open(t)
	pub := &fakePublisher{}
	d, err := NewDispatcher(DispatcherParams{Repo: NewRepository(conn), Publisher: pub})
	require.NoError(t, err)

	buyer := uuid.New()
	d.Dispatch(context.Background(), OrderEvent{
		OrderID:   uuid.New(),
		BuyerID:   buyer,
		SellerID:  uuid.New(),
		Status:    enums.OrderStatusCancelled,
		ActorID:   buyer,
		ActorRole: enums.ActorRoleBuyer,
	})

	var count int64
	require.NoError(t, conn.Model(&models.Notification{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.Empty(t, pub.published)
}

func TestDispatchPublishFailureIsSwallowed(t *testing.T) {
	conn := dbtest.Open(t)
	pub := &fakePublisher{err: errors.New("redis down")}
	rec := &fakeDispatchMetrics{}
	d, err := NewDispatcher(DispatcherParams{Repo: NewRepository(conn), Publisher: pub, Metrics: rec})
	require.NoError(t, err)

	seller := uuid.New()
	d.Dispatch(context.Background(), OrderEvent{
		OrderID:   uuid.New(),
		BuyerID:   uuid.New(),
		SellerID:  seller,
		Status:    enums.OrderStatusAccepted,
		ActorID:   seller,
		ActorRole: enums.ActorRoleSeller,
	})

	var count int64
	require.NoError(t, conn.Model(&models.Notification{}).Count(&count).Error)
	assert.Equal(t, int64(1), count, "the stored row survives a push failure")
	assert.Equal(t, 1, rec.failed)
}

func TestNewDispatcherRequiresRepo(t *testing.T) {
	_, err := NewDispatcher(DispatcherParams{})
	assert.Error(t, err)
}
