package notifications

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

// OrderEvent describes one committed order transition. Status is the new status;
// creation is reported as pending.
type OrderEvent struct {
	OrderID      uuid.UUID
	BuyerID      uuid.UUID
	SellerID     uuid.UUID
	DriverID     *uuid.UUID
	DeliveryType enums.DeliveryType
	From         enums.OrderStatus
	Status       enums.OrderStatus
	ActorID      uuid.UUID
	ActorRole    enums.ActorRole
	Reason       string
	Total        decimal.Decimal
}

// Route is the addressed message for one event.
type Route struct {
	RecipientID uuid.UUID
	Type        enums.NotificationType
	Title       string
	Message     string
}

// Resolve picks the counterpart who should hear about evt. It reports false
// when nobody should be notified, including moves the recipient made themselves.
func Resolve(evt OrderEvent) (Route, bool) {
	short := shortID(evt.OrderID)
	var r Route
	switch evt.Status {
	case enums.OrderStatusPending:
		r = Route{evt.SellerID, enums.NotificationTypeOrderCreated, "New order",
			fmt.Sprintf("Order %s is waiting for your confirmation.", short)}
	case enums.OrderStatusAccepted:
		r = Route{evt.BuyerID, enums.NotificationTypeOrderAccepted, "Order accepted",
			fmt.Sprintf("Your order %s was accepted and is being prepared.", short)}
	case enums.OrderStatusRejected:
		msg := fmt.Sprintf("Your order %s was rejected.", short)
		if evt.Reason != "" {
			msg = fmt.Sprintf("Your order %s was rejected: %s", short, evt.Reason)
		}
		r = Route{evt.BuyerID, enums.NotificationTypeOrderRejected, "Order rejected", msg}
	case enums.OrderStatusReady:
		msg := fmt.Sprintf("Your order %s is ready.", short)
		if evt.DeliveryType.RequiresDriver() {
			msg = fmt.Sprintf("Your order %s is ready and waiting for a driver.", short)
		}
		r = Route{evt.BuyerID, enums.NotificationTypeOrderReady, "Order ready", msg}
	case enums.OrderStatusAssigned:
		r = Route{evt.BuyerID, enums.NotificationTypeOrderAssigned, "Driver assigned",
			fmt.Sprintf("A driver accepted your order %s.", short)}
	case enums.OrderStatusPickedUp:
		r = Route{evt.BuyerID, enums.NotificationTypeOrderPickedUp, "Order picked up",
			fmt.Sprintf("Your order %s was picked up.", short)}
	case enums.OrderStatusInTransit:
		r = Route{evt.BuyerID, enums.NotificationTypeOrderInTransit, "On the way",
			fmt.Sprintf("Your order %s is on the way.", short)}
	case enums.OrderStatusDelivered:
		if evt.ActorRole == enums.ActorRoleBuyer {
			r = Route{evt.SellerID, enums.NotificationTypeOrderDelivered, "Order received",
				fmt.Sprintf("The buyer confirmed receiving order %s.", short)}
		} else {
			r = Route{evt.BuyerID, enums.NotificationTypeOrderDelivered, "Order delivered",
				fmt.Sprintf("Your order %s was delivered.", short)}
		}
	case enums.OrderStatusCompleted:
		if evt.ActorRole == enums.ActorRoleBuyer {
			r = Route{evt.SellerID, enums.NotificationTypeOrderCompleted, "Order completed",
				fmt.Sprintf("The buyer completed order %s.", short)}
		} else {
			r = Route{evt.BuyerID, enums.NotificationTypeOrderCompleted, "Order completed",
				fmt.Sprintf("Your order %s is complete.", short)}
		}
	case enums.OrderStatusCancelled:
		r = Route{evt.BuyerID, enums.NotificationTypeOrderCancelled, "Order cancelled",
			fmt.Sprintf("Your order %s was cancelled.", short)}
	default:
		return Route{}, false
	}
	if r.RecipientID == uuid.Nil || r.RecipientID == evt.ActorID {
		return Route{}, false
	}
	return r, true
}

func shortID(id uuid.UUID) string {
	return "#" + id.String()[:8]
}
