package ratings

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

	"github.com/angelmondragon/fulfillment-backend/pkg/db/dbtest"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
)

func seedOrder(t *testing.T, conn *gorm.DB, status enums.OrderStatus, withDriver bool) models.Order {
	t.Helper()
	now := time.Now().UTC()
	order := models.Order{
		ID:            uuid.New(),
		BuyerID:       uuid.New(),
		SellerID:      uuid.New(),
		Status:        status,
		DeliveryType:  enums.DeliveryTypeDelivery,
		Subtotal:      decimal.RequireFromString("10"),
		DeliveryFee:   decimal.RequireFromString("15"),
		Total:         decimal.RequireFromString("25"),
		CustomerName:  "Ana",
		PhoneNumber:   "5551234",
		PaymentMethod: enums.PaymentMethodCash,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if withDriver {
		driverID := uuid.New()
		order.DriverID = &driverID
	}
	require.NoError(t, conn.Create(&order).Error)
	return order
}

func newLedger(t *testing.T) (*Ledger, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t)
	ledger, err := NewLedger(conn, nil)
	require.NoError(t, err)
	return ledger, conn
}

func strPtr(s string) *string { return &s }

func TestSubmitRatingIsWriteOnce(t *testing.T) {
	ledger, conn := newLedger(t)
	order := seedOrder(t, conn, enums.OrderStatusDelivered, true)
	ctx := context.Background()

	rated, err := ledger.SubmitRating(ctx, SubmitRatingInput{
		OrderID: order.ID, Role: enums.RatingRoleSeller, Stars: 4, Comment: strPtr(" tasty "), ActorID: order.BuyerID,
	})
	require.NoError(t, err)
	require.NotNil(t, rated.SellerRating)
	assert.Equal(t, 4, *rated.SellerRating)
	assert.Equal(t, "tasty", *rated.SellerReview)
	assert.Nil(t, rated.DriverRating)

	_, err = ledger.SubmitRating(ctx, SubmitRatingInput{
		OrderID: order.ID, Role: enums.RatingRoleSeller, Stars: 1, ActorID: order.BuyerID,
	})
	assert.True(t, pkgerrors.IsReason(err, pkgerrors.ReasonAlreadyRated))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	var stored models.Order
	require.NoError(t, conn.First(&stored, "id = ?", order.ID).Error)
	assert.Equal(t, 4, *stored.SellerRating)

	_, err = ledger.SubmitRating(ctx, SubmitRatingInput{
		OrderID: order.ID, Role: enums.RatingRoleDriver, Stars: 5, ActorID: order.BuyerID,
	})
	require.NoError(t, err)
}

func TestSubmitRatingConcurrentFirstWins(t *testing.T) {
	ledger, conn := newLedger(t)
	order := seedOrder(t, conn, enums.OrderStatusCompleted, false)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		already int
	)
	for stars := MinStars; stars <= MaxStars; stars++ {
		wg.Add(1)
		go func(stars int) {
			defer wg.Done()
			_, err := ledger.SubmitRating(context.Background(), SubmitRatingInput{
				OrderID: order.ID, Role: enums.RatingRoleSeller, Stars: stars, ActorID: order.BuyerID,
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if pkgerrors.IsReason(err, pkgerrors.ReasonAlreadyRated) {
				already++
			}
		}(stars)
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, MaxStars-1, already)
}

func TestSubmitRatingRejections(t *testing.T) {
	ledger, conn := newLedger(t)
	ctx := context.Background()
	delivered := seedOrder(t, conn, enums.OrderStatusDelivered, false)
	inTransit := seedOrder(t, conn, enums.OrderStatusInTransit, true)

	tests := []struct {
		name  string
		input SubmitRatingInput
		code  pkgerrors.Code
	}{
		{"stars too low", SubmitRatingInput{OrderID: delivered.ID, Role: enums.RatingRoleSeller, Stars: 0, ActorID: delivered.BuyerID}, pkgerrors.CodeValidation},
		{"stars too high", SubmitRatingInput{OrderID: delivered.ID, Role: enums.RatingRoleSeller, Stars: 6, ActorID: delivered.BuyerID}, pkgerrors.CodeValidation},
		{"bad role", SubmitRatingInput{OrderID: delivered.ID, Role: "buyer", Stars: 3, ActorID: delivered.BuyerID}, pkgerrors.CodeValidation},
		{"not the buyer", SubmitRatingInput{OrderID: delivered.ID, Role: enums.RatingRoleSeller, Stars: 3, ActorID: delivered.SellerID}, pkgerrors.CodePermission},
		{"no driver", SubmitRatingInput{OrderID: delivered.ID, Role: enums.RatingRoleDriver, Stars: 3, ActorID: delivered.BuyerID}, pkgerrors.CodeValidation},
		{"not ratable yet", SubmitRatingInput{OrderID: inTransit.ID, Role: enums.RatingRoleDriver, Stars: 3, ActorID: inTransit.BuyerID}, pkgerrors.CodeState},
		{"missing order", SubmitRatingInput{OrderID: uuid.New(), Role: enums.RatingRoleSeller, Stars: 3, ActorID: uuid.New()}, pkgerrors.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ledger.SubmitRating(ctx, tt.input)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, tt.code), "got %v", err)
		})
	}
}

func TestCanRate(t *testing.T) {
	driverID := uuid.New()
	stars := 5

	assert.True(t, CanRate(models.Order{Status: enums.OrderStatusDelivered}, enums.RatingRoleSeller))
	assert.False(t, CanRate(models.Order{Status: enums.OrderStatusDelivered}, enums.RatingRoleDriver))
	assert.True(t, CanRate(models.Order{Status: enums.OrderStatusCompleted, DriverID: &driverID}, enums.RatingRoleDriver))
	assert.False(t, CanRate(models.Order{Status: enums.OrderStatusReady}, enums.RatingRoleSeller))
	assert.False(t, CanRate(models.Order{Status: enums.OrderStatusCompleted, SellerRating: &stars}, enums.RatingRoleSeller))
}
