package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

// Order is the frozen snapshot of a cart plus its mutable fulfillment status.
type Order struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	BuyerID         uuid.UUID           `gorm:"column:buyer_id;type:uuid;not null"`
	SellerID        uuid.UUID           `gorm:"column:seller_id;type:uuid;not null"`
	DriverID        *uuid.UUID          `gorm:"column:driver_id;type:uuid"`
	Status          enums.OrderStatus   `gorm:"column:status;type:order_status;not null"`
	DeliveryType    enums.DeliveryType  `gorm:"column:delivery_type;type:delivery_type;not null"`
	Subtotal        decimal.Decimal     `gorm:"column:subtotal;type:numeric(12,2);not null"`
	DeliveryFee     decimal.Decimal     `gorm:"column:delivery_fee;type:numeric(12,2);not null"`
	Total           decimal.Decimal     `gorm:"column:total;type:numeric(12,2);not null"`
	DeliveryAddress *string             `gorm:"column:delivery_address"`
	CustomerName    string              `gorm:"column:customer_name;not null"`
	PhoneNumber     string              `gorm:"column:phone_number;not null"`
	CustomerNotes   *string             `gorm:"column:customer_notes"`
	PaymentMethod   enums.PaymentMethod `gorm:"column:payment_method;type:payment_method;not null"`
	RejectionReason *string             `gorm:"column:rejection_reason"`
	SellerRating    *int                `gorm:"column:seller_rating"`
	SellerReview    *string             `gorm:"column:seller_review"`
	DriverRating    *int                `gorm:"column:driver_rating"`
	DriverReview    *string             `gorm:"column:driver_review"`
	CreatedAt       time.Time           `gorm:"column:created_at"`
	AcceptedAt      *time.Time          `gorm:"column:accepted_at"`
	ReadyAt         *time.Time          `gorm:"column:ready_at"`
	AssignedAt      *time.Time          `gorm:"column:assigned_at"`
	PickedUpAt      *time.Time          `gorm:"column:picked_up_at"`
	InTransitAt     *time.Time          `gorm:"column:in_transit_at"`
	DeliveredAt     *time.Time          `gorm:"column:delivered_at"`
	CompletedAt     *time.Time          `gorm:"column:completed_at"`
	CancelledAt     *time.Time          `gorm:"column:cancelled_at"`
	RejectedAt      *time.Time          `gorm:"column:rejected_at"`
	UpdatedAt       time.Time           `gorm:"column:updated_at"`
	Items           []OrderItem         `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}
