package cart

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

// Line is a cart item joined with the live product row.
type Line struct {
	ItemID        uuid.UUID             `json:"item_id"`
	ProductID     uuid.UUID             `json:"product_id"`
	SellerID      uuid.UUID             `json:"seller_id"`
	Quantity      int                   `json:"quantity"`
	ProductType   enums.CartProductType `json:"product_type"`
	Name          string                `json:"name"`
	ImageURL      *string               `json:"image_url,omitempty"`
	Price         decimal.Decimal       `json:"price"`
	IsAvailable   bool                  `json:"is_available"`
	StockQuantity int                   `json:"stock_quantity"`
}

func (l Line) LineTotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Cart struct {
	BuyerID  uuid.UUID  `json:"buyer_id"`
	SellerID *uuid.UUID `json:"seller_id,omitempty"`
	Lines    []Line     `json:"lines"`
}

// Total is the sum of price x quantity over all lines at current prices.
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	if c == nil {
		return total
	}
	for _, line := range c.Lines {
		total = total.Add(line.LineTotal())
	}
	return total
}

// Count is the number of units in the cart.
func (c *Cart) Count() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, line := range c.Lines {
		n += line.Quantity
	}
	return n
}

func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Lines) == 0
}

// Sellers lists the distinct sellers referenced by the lines, in line order.
func (c *Cart) Sellers() []uuid.UUID {
	if c == nil {
		return nil
	}
	seen := map[uuid.UUID]struct{}{}
	var out []uuid.UUID
	for _, line := range c.Lines {
		if _, ok := seen[line.SellerID]; ok {
			continue
		}
		seen[line.SellerID] = struct{}{}
		out = append(out, line.SellerID)
	}
	return out
}
