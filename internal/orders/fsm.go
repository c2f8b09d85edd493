package orders

import "github.com/angelmondragon/fulfillment-backend/pkg/enums"

// TransitionRule describes one permitted edge of the order lifecycle.
type TransitionRule struct {
	From   enums.OrderStatus
	To     enums.OrderStatus
	Actors []enums.ActorRole

	// DeliveryOnly edges exist only for delivery orders, NonDeliveryOnly only for pickup and dine-in.
	DeliveryOnly    bool
	NonDeliveryOnly bool

	// ViaArbiter edges are applied by the assignment arbiter, never by Transition.
	ViaArbiter bool
}

// Allows reports whether role may drive this edge.
func (r TransitionRule) Allows(role enums.ActorRole) bool {
	for _, actor := range r.Actors {
		if actor == role {
			return true
		}
	}
	return false
}

// AppliesTo reports whether the edge exists for orders of the given delivery type.
func (r TransitionRule) AppliesTo(deliveryType enums.DeliveryType) bool {
	if r.DeliveryOnly && !deliveryType.RequiresDriver() {
		return false
	}
	if r.NonDeliveryOnly && deliveryType.RequiresDriver() {
		return false
	}
	return true
}

type edge struct {
	from enums.OrderStatus
	to   enums.OrderStatus
}

var (
	bySeller        = []enums.ActorRole{enums.ActorRoleSeller}
	byBuyer         = []enums.ActorRole{enums.ActorRoleBuyer}
	byDriver        = []enums.ActorRole{enums.ActorRoleDriver}
	bySellerOrBuyer = []enums.ActorRole{enums.ActorRoleSeller, enums.ActorRoleBuyer}
)

var transitionTable = map[edge]TransitionRule{
	{enums.OrderStatusPending, enums.OrderStatusAccepted}:    {Actors: bySeller},
	{enums.OrderStatusPending, enums.OrderStatusRejected}:    {Actors: bySeller},
	{enums.OrderStatusAccepted, enums.OrderStatusReady}:      {Actors: bySeller},
	{enums.OrderStatusAccepted, enums.OrderStatusCancelled}:  {Actors: bySeller},
	{enums.OrderStatusReady, enums.OrderStatusCancelled}:     {Actors: bySeller},
	{enums.OrderStatusReady, enums.OrderStatusAssigned}:      {Actors: byDriver, DeliveryOnly: true, ViaArbiter: true},
	{enums.OrderStatusReady, enums.OrderStatusDelivered}:     {Actors: bySellerOrBuyer, NonDeliveryOnly: true},
	{enums.OrderStatusReady, enums.OrderStatusCompleted}:     {Actors: bySellerOrBuyer, NonDeliveryOnly: true},
	{enums.OrderStatusAssigned, enums.OrderStatusPickedUp}:   {Actors: byDriver, DeliveryOnly: true},
	{enums.OrderStatusPickedUp, enums.OrderStatusInTransit}:  {Actors: byDriver, DeliveryOnly: true},
	{enums.OrderStatusInTransit, enums.OrderStatusDelivered}: {Actors: byDriver, DeliveryOnly: true},
	{enums.OrderStatusDelivered, enums.OrderStatusCompleted}: {Actors: byBuyer},
}

func init() {
	for e, rule := range transitionTable {
		rule.From, rule.To = e.from, e.to
		transitionTable[e] = rule
	}
}

// Rule returns the rule for from -> to, if that edge exists.
func Rule(from, to enums.OrderStatus) (TransitionRule, bool) {
	rule, ok := transitionTable[edge{from, to}]
	return rule, ok
}

// CanTransition reports whether role may move an order from -> to, ignoring
// delivery type, ownership and arbiter-only edges.
func CanTransition(from, to enums.OrderStatus, role enums.ActorRole) bool {
	rule, ok := Rule(from, to)
	return ok && rule.Allows(role)
}

// NextStatuses lists the statuses reachable from from, in lifecycle order.
func NextStatuses(from enums.OrderStatus) []enums.OrderStatus {
	var out []enums.OrderStatus
	for _, to := range enums.OrderStatuses() {
		if _, ok := Rule(from, to); ok {
			out = append(out, to)
		}
	}
	return out
}

// milestoneColumn names the timestamp stamped when an order enters status.
func milestoneColumn(status enums.OrderStatus) string {
	switch status {
	case enums.OrderStatusAccepted:
		return "accepted_at"
	case enums.OrderStatusReady:
		return "ready_at"
	case enums.OrderStatusAssigned:
		return "assigned_at"
	case enums.OrderStatusPickedUp:
		return "picked_up_at"
	case enums.OrderStatusInTransit:
		return "in_transit_at"
	case enums.OrderStatusDelivered:
		return "delivered_at"
	case enums.OrderStatusCompleted:
		return "completed_at"
	case enums.OrderStatusCancelled:
		return "cancelled_at"
	case enums.OrderStatusRejected:
		return "rejected_at"
	}
	return ""
}

// releasesStock reports whether entering status returns the order's reserved stock.
func releasesStock(status enums.OrderStatus) bool {
	return status == enums.OrderStatusCancelled || status == enums.OrderStatusRejected
}
