package stock

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/dbtest"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox"
)

type countingRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (c *countingRecorder) IncReservation(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcomes == nil {
		c.outcomes = map[string]int{}
	}
	c.outcomes[outcome]++
}

func newTestLedger(t *testing.T) (*Ledger, *gorm.DB, *countingRecorder) {
	t.Helper()
	client, conn := dbtest.Client(t)
	rec := &countingRecorder{}
	ledger, err := NewLedger(LedgerParams{
		DB:      conn,
		Tx:      client,
		Outbox:  outbox.NewService(outbox.NewRepository(conn), nil),
		Metrics: rec,
	})
	require.NoError(t, err)
	return ledger, conn, rec
}

func seedProduct(t *testing.T, conn *gorm.DB, sellerID uuid.UUID, stock int) models.Product {
	t.Helper()
	now := time.Now().UTC()
	product := models.Product{
		ID:            uuid.New(),
		SellerID:      sellerID,
		Name:          "Shawarma",
		Price:         decimal.RequireFromString("10.00"),
		StockQuantity: stock,
		IsAvailable:   true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, conn.Create(&product).Error)
	return product
}

func stockOf(t *testing.T, conn *gorm.DB, id uuid.UUID) int {
	t.Helper()
	var product models.Product
	require.NoError(t, conn.First(&product, "id = ?", id).Error)
	return product.StockQuantity
}

func TestReserveAndRelease(t *testing.T) {
	ledger, conn, rec := newTestLedger(t)
	ctx := context.Background()
	product := seedProduct(t, conn, uuid.New(), 5)

	require.NoError(t, ledger.Reserve(ctx, product.ID, 3))
	assert.Equal(t, 2, stockOf(t, conn, product.ID))

	err := ledger.Reserve(ctx, product.ID, 3)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsReason(err, pkgerrors.ReasonInsufficientStock))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	assert.Equal(t, 2, stockOf(t, conn, product.ID), "failed reserve leaves stock untouched")

	require.NoError(t, ledger.Release(ctx, product.ID, 3))
	assert.Equal(t, 5, stockOf(t, conn, product.ID))

	assert.Equal(t, 1, rec.outcomes["ok"])
	assert.Equal(t, 1, rec.outcomes["insufficient"])
}

func TestReserveValidationAndMissingProduct(t *testing.T) {
	ledger, conn, _ := newTestLedger(t)
	ctx := context.Background()
	product := seedProduct(t, conn, uuid.New(), 5)

	for _, qty := range []int{0, -1} {
		err := ledger.Reserve(ctx, product.ID, qty)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "qty %d", qty)
	}
	assert.True(t, pkgerrors.IsCode(ledger.Reserve(ctx, uuid.New(), 1), pkgerrors.CodeNotFound))
	assert.True(t, pkgerrors.IsCode(ledger.Release(ctx, uuid.New(), 1), pkgerrors.CodeNotFound))
}

func TestConcurrentReservesNeverOversell(t *testing.T) {
	ledger, conn, _ := newTestLedger(t)
	product := seedProduct(t, conn, uuid.New(), 3)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- ledger.Reserve(context.Background(), product.ID, 2)
		}()
	}
	wg.Wait()
	close(results)

	var ok, insufficient int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case pkgerrors.IsReason(err, pkgerrors.ReasonInsufficientStock):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, insufficient)
	assert.Equal(t, 1, stockOf(t, conn, product.ID))
}

func TestReserveReleaseSequenceStaysInBounds(t *testing.T) {
	ledger, conn, _ := newTestLedger(t)
	ctx := context.Background()
	const initial = 7
	product := seedProduct(t, conn, uuid.New(), initial)

	rng := rand.New(rand.NewSource(42))
	var held []int
	for i := 0; i < 200; i++ {
		if len(held) > 0 && rng.Intn(2) == 0 {
			idx := rng.Intn(len(held))
			require.NoError(t, ledger.Release(ctx, product.ID, held[idx]))
			held = append(held[:idx], held[idx+1:]...)
		} else {
			qty := rng.Intn(4) + 1
			if err := ledger.Reserve(ctx, product.ID, qty); err == nil {
				held = append(held, qty)
			}
		}
		stock := stockOf(t, conn, product.ID)
		require.GreaterOrEqual(t, stock, 0)
		require.LessOrEqual(t, stock, initial)
	}
	for _, qty := range held {
		require.NoError(t, ledger.Release(ctx, product.ID, qty))
	}
	assert.Equal(t, initial, stockOf(t, conn, product.ID))
}

func TestReserveTxRollsBackWithCaller(t *testing.T) {
	ledger, conn, _ := newTestLedger(t)
	product := seedProduct(t, conn, uuid.New(), 4)

	_ = conn.Transaction(func(tx *gorm.DB) error {
		require.NoError(t, ledger.ReserveTx(context.Background(), tx, product.ID, 4))
		return assert.AnError
	})
	assert.Equal(t, 4, stockOf(t, conn, product.ID))
}

func TestSetAvailability(t *testing.T) {
	ledger, conn, _ := newTestLedger(t)
	ctx := context.Background()
	sellerID := uuid.New()
	product := seedProduct(t, conn, sellerID, 1)

	_, err := ledger.SetAvailability(ctx, uuid.New(), product.ID, false)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodePermission))

	_, err = ledger.SetAvailability(ctx, sellerID, uuid.New(), false)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	updated, err := ledger.SetAvailability(ctx, sellerID, product.ID, false)
	require.NoError(t, err)
	assert.False(t, updated.IsAvailable)

	_, err = ledger.SetAvailability(ctx, sellerID, product.ID, false)
	require.NoError(t, err)

	var events []models.OutboxEvent
	require.NoError(t, conn.Find(&events).Error)
	require.Len(t, events, 1, "no-op toggles do not emit")
	assert.Equal(t, enums.EventProductAvailabilityChanged, events[0].EventType)

	stored, err := ledger.Get(ctx, product.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsAvailable)
}
