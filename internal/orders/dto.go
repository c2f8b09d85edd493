package orders

import (
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/pagination"
)

// Actor is the authenticated caller acting on an order.
type Actor struct {
	ID   uuid.UUID
	Role enums.ActorRole
}

func (a Actor) validate() error {
	if a.ID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if !a.Role.IsValid() {
		return pkgerrors.New(pkgerrors.CodePermission, "unknown actor role")
	}
	return nil
}

// Contact is the buyer-supplied delivery contact information.
type Contact struct {
	CustomerName    string
	PhoneNumber     string
	DeliveryAddress string
	CustomerNotes   string
}

func (c Contact) validate(deliveryType enums.DeliveryType) error {
	fields := map[string]string{}
	if strings.TrimSpace(c.CustomerName) == "" {
		fields["customer_name"] = "required"
	}
	if strings.TrimSpace(c.PhoneNumber) == "" {
		fields["phone_number"] = "required"
	}
	if deliveryType.RequiresDriver() && strings.TrimSpace(c.DeliveryAddress) == "" {
		fields["delivery_address"] = "required for delivery"
	}
	if len(fields) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid contact information").WithDetails(fields)
	}
	return nil
}

// CreateOrderInput turns the buyer's cart into an order.
type CreateOrderInput struct {
	BuyerID       uuid.UUID
	DeliveryType  enums.DeliveryType
	Contact       Contact
	PaymentMethod enums.PaymentMethod
	// ItemNotes are per-product notes copied onto the matching order items.
	ItemNotes map[uuid.UUID]string
}

// TransitionInput requests one lifecycle move.
type TransitionInput struct {
	OrderID   uuid.UUID
	To        enums.OrderStatus
	ActorID   uuid.UUID
	ActorRole enums.ActorRole
	Reason    string
}

// ListParams filters the per-role order listing.
type ListParams struct {
	pagination.Params
	Status *enums.OrderStatus
}
