package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

// OrderCreatedEvent is emitted once the order row and its items are committed.
type OrderCreatedEvent struct {
	OrderID      uuid.UUID          `json:"order_id"`
	BuyerID      uuid.UUID          `json:"buyer_id"`
	SellerID     uuid.UUID          `json:"seller_id"`
	DeliveryType enums.DeliveryType `json:"delivery_type"`
	Subtotal     decimal.Decimal    `json:"subtotal"`
	DeliveryFee  decimal.Decimal    `json:"delivery_fee"`
	Total        decimal.Decimal    `json:"total"`
	ItemCount    int                `json:"item_count"`
}

// OrderStatusChangedEvent covers every lifecycle move except driver assignment.
type OrderStatusChangedEvent struct {
	OrderID      uuid.UUID          `json:"order_id"`
	BuyerID      uuid.UUID          `json:"buyer_id"`
	SellerID     uuid.UUID          `json:"seller_id"`
	DriverID     *uuid.UUID         `json:"driver_id,omitempty"`
	DeliveryType enums.DeliveryType `json:"delivery_type"`
	From         enums.OrderStatus  `json:"from"`
	To           enums.OrderStatus  `json:"to"`
	ActorID      uuid.UUID          `json:"actor_id"`
	ActorRole    enums.ActorRole    `json:"actor_role"`
	Reason       string             `json:"reason,omitempty"`
	ChangedAt    time.Time          `json:"changed_at"`
}

// OrderDriverAssignedEvent is emitted by the winner of a driver claim.
type OrderDriverAssignedEvent struct {
	OrderID    uuid.UUID `json:"order_id"`
	BuyerID    uuid.UUID `json:"buyer_id"`
	SellerID   uuid.UUID `json:"seller_id"`
	DriverID   uuid.UUID `json:"driver_id"`
	AssignedAt time.Time `json:"assigned_at"`
}

// OrderDeletedEvent is emitted when a buyer withdraws a pending order.
type OrderDeletedEvent struct {
	OrderID   uuid.UUID `json:"order_id"`
	BuyerID   uuid.UUID `json:"buyer_id"`
	SellerID  uuid.UUID `json:"seller_id"`
	DeletedAt time.Time `json:"deleted_at"`
}

type ProductAvailabilityChangedEvent struct {
	ProductID   uuid.UUID `json:"product_id"`
	SellerID    uuid.UUID `json:"seller_id"`
	IsAvailable bool      `json:"is_available"`
}
