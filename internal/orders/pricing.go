package orders

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/fulfillment-backend/internal/cart"
	"github.com/angelmondragon/fulfillment-backend/pkg/config"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

// FeeSchedule is the flat delivery fee per delivery type.
type FeeSchedule struct {
	Delivery decimal.Decimal
	Pickup   decimal.Decimal
	DineIn   decimal.Decimal
}

// DefaultFeeSchedule charges 15 for delivery and nothing otherwise.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		Delivery: decimal.NewFromInt(15),
		Pickup:   decimal.Zero,
		DineIn:   decimal.Zero,
	}
}

// NewFeeSchedule parses the configured decimal strings. Empty values keep the default.
func NewFeeSchedule(cfg config.OrdersConfig) (FeeSchedule, error) {
	schedule := DefaultFeeSchedule()
	fields := []struct {
		name  string
		raw   string
		value *decimal.Decimal
	}{
		{"delivery", cfg.DeliveryFee, &schedule.Delivery},
		{"pickup", cfg.PickupFee, &schedule.Pickup},
		{"dine_in", cfg.DineInFee, &schedule.DineIn},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		parsed, err := decimal.NewFromString(f.raw)
		if err != nil {
			return FeeSchedule{}, fmt.Errorf("parse %s fee: %w", f.name, err)
		}
		if parsed.IsNegative() {
			return FeeSchedule{}, fmt.Errorf("%s fee must not be negative", f.name)
		}
		*f.value = parsed
	}
	return schedule, nil
}

// Fee returns the fee for deliveryType.
func (s FeeSchedule) Fee(deliveryType enums.DeliveryType) decimal.Decimal {
	switch deliveryType {
	case enums.DeliveryTypeDelivery:
		return s.Delivery
	case enums.DeliveryTypePickup:
		return s.Pickup
	case enums.DeliveryTypeDineIn:
		return s.DineIn
	}
	return decimal.Zero
}

// Totals is the frozen money breakdown of an order.
type Totals struct {
	Subtotal    decimal.Decimal
	DeliveryFee decimal.Decimal
	Total       decimal.Decimal
}

// Price sums lines at their current price and adds the flat fee.
func (s FeeSchedule) Price(lines []cart.Line, deliveryType enums.DeliveryType) Totals {
	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.LineTotal())
	}
	fee := s.Fee(deliveryType)
	return Totals{
		Subtotal:    subtotal,
		DeliveryFee: fee,
		Total:       subtotal.Add(fee),
	}
}
