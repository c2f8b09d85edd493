package cart

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCartTotalAndCount(t *testing.T) {
	seller := uuid.New()
	c := &Cart{Lines: []Line{
		{SellerID: seller, Quantity: 2, Price: decimal.RequireFromString("10.00")},
		{SellerID: seller, Quantity: 1, Price: decimal.RequireFromString("20.00")},
	}}
	assert.True(t, c.Total().Equal(decimal.NewFromInt(40)))
	assert.Equal(t, 3, c.Count())
	assert.Equal(t, []uuid.UUID{seller}, c.Sellers())

	var nilCart *Cart
	assert.True(t, nilCart.Total().IsZero())
	assert.Zero(t, nilCart.Count())
	assert.True(t, nilCart.IsEmpty())
}
