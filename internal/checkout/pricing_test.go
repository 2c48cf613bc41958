package checkout

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestPrice(t *testing.T) {
	tests := []struct {
		name     string
		lines    []PricedLine
		fee      string
		pct      int
		discount string
		total    string
	}{
		{
			name:     "no discount",
			lines:    []PricedLine{{Price: d("100"), Quantity: 3}, {Price: d("49.5"), Quantity: 2}},
			fee:      "10",
			discount: "0",
			total:    "409",
		},
		{
			name:     "discount rounds to whole unit",
			lines:    []PricedLine{{Price: d("99.99"), Quantity: 1}},
			fee:      "10",
			pct:      15,
			discount: "15",
			total:    "94.99",
		},
		{
			name:     "empty order has no delivery fee",
			fee:      "10",
			pct:      50,
			discount: "0",
			total:    "0",
		},
		{
			name:     "total never negative",
			lines:    []PricedLine{{Price: d("20"), Quantity: 1}},
			fee:      "0",
			pct:      100,
			discount: "20",
			total:    "0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := Price(tt.lines, d(tt.fee), tt.pct)
			assert.True(t, q.Discount.Equal(d(tt.discount)), "discount %s", q.Discount)
			assert.True(t, q.Total.Equal(d(tt.total)), "total %s", q.Total)
		})
	}
}

func TestSameAmount(t *testing.T) {
	assert.True(t, SameAmount(94.99, d("94.99")))
	assert.True(t, SameAmount(310, d("310.00")))
	assert.False(t, SameAmount(94.98, d("94.99")))
}
