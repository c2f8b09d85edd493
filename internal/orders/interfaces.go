package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/internal/cart"
	"github.com/angelmondragon/fulfillment-backend/internal/notifications"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox"
	"github.com/angelmondragon/fulfillment-backend/pkg/pagination"
)

// Repository defines persistence operations for orders and their audit trail.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindWithItems(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ListItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error)
	UpdateStatus(ctx context.Context, guard StatusGuard, updates map[string]any) (int64, error)
	DeletePending(ctx context.Context, orderID, buyerID uuid.UUID) (int64, error)
	DeleteItems(ctx context.Context, orderID uuid.UUID) error
	DeleteStatusEvents(ctx context.Context, orderID uuid.UUID) error
	CreateStatusEvent(ctx context.Context, event *models.OrderStatusEvent) error
	ListStatusEvents(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusEvent, error)
	ListForActor(ctx context.Context, actor Actor, filter listFilter) ([]models.Order, error)
}

// StatusGuard is the observed state a conditional status update must still match.
type StatusGuard struct {
	OrderID  uuid.UUID
	From     enums.OrderStatus
	DriverID *uuid.UUID
}

type listFilter struct {
	Status *enums.OrderStatus
	Cursor *pagination.Cursor
	Limit  int
}

// Service is the order coordinator consumed by every role's handlers.
type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error)
	Transition(ctx context.Context, input TransitionInput) (*models.Order, error)
	DeleteUnconfirmed(ctx context.Context, orderID, buyerID uuid.UUID) error
	Get(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error)
	List(ctx context.Context, actor Actor, params ListParams) (*pagination.Page[models.Order], error)
	History(ctx context.Context, orderID uuid.UUID, actor Actor) ([]models.OrderStatusEvent, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// StockLedger reserves and releases product stock.
type StockLedger interface {
	Reserve(ctx context.Context, productID uuid.UUID, qty int) error
	Release(ctx context.Context, productID uuid.UUID, qty int) error
	ReleaseTx(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error
	Compensated()
}

// CartReader is the slice of the cart manager the coordinator needs.
type CartReader interface {
	Get(ctx context.Context, buyerID uuid.UUID) (*cart.Cart, error)
	Clear(ctx context.Context, buyerID uuid.UUID) error
}

// Dispatcher delivers order notifications without reporting failures.
type Dispatcher interface {
	Dispatch(ctx context.Context, evt notifications.OrderEvent)
}

type transitionRecorder interface {
	IncTransition(from, to string)
}
