package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/fulfillment-backend/internal/orders"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/pagination"
)

type fakeOrdersService struct {
	createFn     func(ctx context.Context, input orders.CreateOrderInput) (*models.Order, error)
	transitionFn func(ctx context.Context, input orders.TransitionInput) (*models.Order, error)
	deleteFn     func(ctx context.Context, orderID, buyerID uuid.UUID) error
	getFn        func(ctx context.Context, orderID uuid.UUID, actor orders.Actor) (*models.Order, error)
	listFn       func(ctx context.Context, actor orders.Actor, params orders.ListParams) (*pagination.Page[models.Order], error)
	historyFn    func(ctx context.Context, orderID uuid.UUID, actor orders.Actor) ([]models.OrderStatusEvent, error)
}

func (f *fakeOrdersService) CreateOrder(ctx context.Context, input orders.CreateOrderInput) (*models.Order, error) {
	return f.createFn(ctx, input)
}

func (f *fakeOrdersService) Transition(ctx context.Context, input orders.TransitionInput) (*models.Order, error) {
	return f.transitionFn(ctx, input)
}

func (f *fakeOrdersService) DeleteUnconfirmed(ctx context.Context, orderID, buyerID uuid.UUID) error {
	return f.deleteFn(ctx, orderID, buyerID)
}

func (f *fakeOrdersService) Get(ctx context.Context, orderID uuid.UUID, actor orders.Actor) (*models.Order, error) {
	return f.getFn(ctx, orderID, actor)
}

func (f *fakeOrdersService) List(ctx context.Context, actor orders.Actor, params orders.ListParams) (*pagination.Page[models.Order], error) {
	return f.listFn(ctx, actor, params)
}

func (f *fakeOrdersService) History(ctx context.Context, orderID uuid.UUID, actor orders.Actor) ([]models.OrderStatusEvent, error) {
	return f.historyFn(ctx, orderID, actor)
}

func sampleOrder(status enums.OrderStatus) *models.Order {
	now := time.Now().UTC()
	return &models.Order{
		ID:            uuid.New(),
		BuyerID:       uuid.New(),
		SellerID:      uuid.New(),
		Status:        status,
		DeliveryType:  enums.DeliveryTypeDelivery,
		CustomerName:  "Ana",
		PhoneNumber:   "555-0100",
		PaymentMethod: enums.PaymentMethodCash,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestCreateOrderMapsBody(t *testing.T) {
	buyerID := uuid.New()
	productID := uuid.New()
	var got orders.CreateOrderInput
	svc := &fakeOrdersService{
		createFn: func(_ context.Context, input orders.CreateOrderInput) (*models.Order, error) {
			got = input
			return sampleOrder(enums.OrderStatusPending), nil
		},
	}
	body := `{"delivery_type":"delivery","customer_name":"Ana","phone_number":"555-0100",` +
		`"delivery_address":"1 Main St","item_notes":{"` + productID.String() + `":"no onions"}}`

	rec := httptest.NewRecorder()
	CreateOrder(svc, testLogger())(rec, asActor(newRequest(http.MethodPost, "/api/v1/orders", body), buyerID, enums.ActorRoleBuyer))

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, buyerID, got.BuyerID)
	assert.Equal(t, enums.DeliveryTypeDelivery, got.DeliveryType)
	assert.Equal(t, enums.PaymentMethodCash, got.PaymentMethod)
	assert.Equal(t, "1 Main St", got.Contact.DeliveryAddress)
	assert.Equal(t, "no onions", got.ItemNotes[productID])

	var resp orderResponse
	decodeData(t, rec, &resp)
	assert.Equal(t, enums.OrderStatusPending, resp.Status)
}

func TestCreateOrderRejectsBadNoteKeys(t *testing.T) {
	svc := &fakeOrdersService{
		createFn: func(context.Context, orders.CreateOrderInput) (*models.Order, error) {
			t.Fatal("service must not be called")
			return nil, nil
		},
	}
	body := `{"delivery_type":"pickup","customer_name":"Ana","phone_number":"1","item_notes":{"x":"y"}}`
	rec := httptest.NewRecorder()
	CreateOrder(svc, testLogger())(rec, asActor(newRequest(http.MethodPost, "/api/v1/orders", body), uuid.New(), enums.ActorRoleBuyer))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateOrderOutOfStock(t *testing.T) {
	svc := &fakeOrdersService{
		createFn: func(context.Context, orders.CreateOrderInput) (*models.Order, error) {
			return nil, pkgerrors.NewReason(pkgerrors.ReasonInsufficientStock, "not enough stock").
				WithDetails(map[string]any{"available": 1})
		},
	}
	body := `{"delivery_type":"pickup","customer_name":"Ana","phone_number":"1"}`
	rec := httptest.NewRecorder()
	CreateOrder(svc, testLogger())(rec, asActor(newRequest(http.MethodPost, "/api/v1/orders", body), uuid.New(), enums.ActorRoleBuyer))

	require.Equal(t, http.StatusConflict, rec.Code)
	apiErr := decodeError(t, rec)
	assert.Equal(t, pkgerrors.ReasonInsufficientStock, apiErr.Reason)
	assert.NotNil(t, apiErr.Details)
}

func TestTransitionOrderPassesActor(t *testing.T) {
	sellerID := uuid.New()
	order := sampleOrder(enums.OrderStatusRejected)
	var got orders.TransitionInput
	svc := &fakeOrdersService{
		transitionFn: func(_ context.Context, input orders.TransitionInput) (*models.Order, error) {
			got = input
			return order, nil
		},
	}
	req := withURLParams(newRequest(http.MethodPost, "/", `{"to":"rejected","reason":"closed"}`), "orderId", order.ID.String())
	rec := httptest.NewRecorder()
	TransitionOrder(svc, testLogger())(rec, asActor(req, sellerID, enums.ActorRoleSeller))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orders.TransitionInput{
		OrderID:   order.ID,
		To:        enums.OrderStatusRejected,
		ActorID:   sellerID,
		ActorRole: enums.ActorRoleSeller,
		Reason:    "closed",
	}, got)
}

func TestTransitionOrderInvalidTransition(t *testing.T) {
	svc := &fakeOrdersService{
		transitionFn: func(context.Context, orders.TransitionInput) (*models.Order, error) {
			return nil, pkgerrors.NewReason(pkgerrors.ReasonInvalidTransition, "cannot move from pending to delivered")
		},
	}
	orderID := uuid.NewString()
	req := withURLParams(newRequest(http.MethodPost, "/", `{"to":"delivered"}`), "orderId", orderID)
	rec := httptest.NewRecorder()
	TransitionOrder(svc, testLogger())(rec, asActor(req, uuid.New(), enums.ActorRoleDriver))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, pkgerrors.ReasonInvalidTransition, decodeError(t, rec).Reason)
}

func TestTransitionOrderUnknownStatus(t *testing.T) {
	req := withURLParams(newRequest(http.MethodPost, "/", `{"to":"teleported"}`), "orderId", uuid.NewString())
	rec := httptest.NewRecorder()
	TransitionOrder(&fakeOrdersService{}, testLogger())(rec, asActor(req, uuid.New(), enums.ActorRoleSeller))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListOrdersParsesFilters(t *testing.T) {
	driverID := uuid.New()
	order := sampleOrder(enums.OrderStatusAssigned)
	var gotActor orders.Actor
	var gotParams orders.ListParams
	svc := &fakeOrdersService{
		listFn: func(_ context.Context, actor orders.Actor, params orders.ListParams) (*pagination.Page[models.Order], error) {
			gotActor = actor
			gotParams = params
			return &pagination.Page[models.Order]{Items: []models.Order{*order}, NextCursor: "next"}, nil
		},
	}
	rec := httptest.NewRecorder()
	req := asActor(newRequest(http.MethodGet, "/api/v1/orders?limit=10&cursor=abc&status=assigned", ""), driverID, enums.ActorRoleDriver)
	ListOrders(svc, testLogger())(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orders.Actor{ID: driverID, Role: enums.ActorRoleDriver}, gotActor)
	assert.Equal(t, 10, gotParams.Limit)
	assert.Equal(t, "abc", gotParams.Cursor)
	require.NotNil(t, gotParams.Status)
	assert.Equal(t, enums.OrderStatusAssigned, *gotParams.Status)

	var page orderPageResponse
	decodeData(t, rec, &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, order.ID, page.Items[0].ID)
	assert.Equal(t, "next", page.NextCursor)
}

func TestGetOrderHidesForeignOrders(t *testing.T) {
	svc := &fakeOrdersService{
		getFn: func(context.Context, uuid.UUID, orders.Actor) (*models.Order, error) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		},
	}
	req := withURLParams(newRequest(http.MethodGet, "/", ""), "orderId", uuid.NewString())
	rec := httptest.NewRecorder()
	GetOrder(svc, testLogger())(rec, asActor(req, uuid.New(), enums.ActorRoleBuyer))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetOrderReportsRatableRoles(t *testing.T) {
	buyerID := uuid.New()
	driverID := uuid.New()
	stars := 4
	order := sampleOrder(enums.OrderStatusDelivered)
	order.BuyerID = buyerID
	order.DriverID = &driverID
	order.SellerRating = &stars
	svc := &fakeOrdersService{
		getFn: func(context.Context, uuid.UUID, orders.Actor) (*models.Order, error) {
			return order, nil
		},
	}
	req := withURLParams(newRequest(http.MethodGet, "/", ""), "orderId", order.ID.String())
	rec := httptest.NewRecorder()
	GetOrder(svc, testLogger())(rec, asActor(req, buyerID, enums.ActorRoleBuyer))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp orderResponse
	decodeData(t, rec, &resp)
	assert.False(t, resp.CanRateSeller, "seller already rated")
	assert.True(t, resp.CanRateDriver)

	order.Status = enums.OrderStatusInTransit
	rec = httptest.NewRecorder()
	GetOrder(svc, testLogger())(rec, asActor(req, buyerID, enums.ActorRoleBuyer))
	decodeData(t, rec, &resp)
	assert.False(t, resp.CanRateDriver, "not ratable before delivery")
}

func TestOrderHistory(t *testing.T) {
	orderID := uuid.New()
	buyerID := uuid.New()
	pending := enums.OrderStatusPending
	svc := &fakeOrdersService{
		historyFn: func(_ context.Context, id uuid.UUID, _ orders.Actor) ([]models.OrderStatusEvent, error) {
			return []models.OrderStatusEvent{
				{ID: uuid.New(), OrderID: id, ToStatus: enums.OrderStatusPending, ActorID: buyerID, ActorRole: enums.ActorRoleBuyer},
				{ID: uuid.New(), OrderID: id, FromStatus: &pending, ToStatus: enums.OrderStatusCancelled, ActorID: buyerID, ActorRole: enums.ActorRoleBuyer},
			}, nil
		},
	}
	req := withURLParams(newRequest(http.MethodGet, "/", ""), "orderId", orderID.String())
	rec := httptest.NewRecorder()
	OrderHistory(svc, testLogger())(rec, asActor(req, buyerID, enums.ActorRoleBuyer))

	require.Equal(t, http.StatusOK, rec.Code)
	var events []statusEventResponse
	decodeData(t, rec, &events)
	require.Len(t, events, 2)
	assert.Nil(t, events[0].FromStatus)
	assert.Equal(t, enums.OrderStatusCancelled, events[1].ToStatus)
}

func TestDeleteOrder(t *testing.T) {
	buyerID := uuid.New()
	orderID := uuid.New()
	t.Run("Success", func(t *testing.T) {
		svc := &fakeOrdersService{
			deleteFn: func(_ context.Context, oid, bid uuid.UUID) error {
				assert.Equal(t, orderID, oid)
				assert.Equal(t, buyerID, bid)
				return nil
			},
		}
		req := withURLParams(newRequest(http.MethodDelete, "/", ""), "orderId", orderID.String())
		rec := httptest.NewRecorder()
		DeleteOrder(svc, testLogger())(rec, asActor(req, buyerID, enums.ActorRoleBuyer))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
	t.Run("NoLongerPending", func(t *testing.T) {
		svc := &fakeOrdersService{
			deleteFn: func(context.Context, uuid.UUID, uuid.UUID) error {
				return pkgerrors.NewReason(pkgerrors.ReasonNoLongerPending, "order already accepted")
			},
		}
		req := withURLParams(newRequest(http.MethodDelete, "/", ""), "orderId", orderID.String())
		rec := httptest.NewRecorder()
		DeleteOrder(svc, testLogger())(rec, asActor(req, buyerID, enums.ActorRoleBuyer))
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, pkgerrors.ReasonNoLongerPending, decodeError(t, rec).Reason)
	})
}
