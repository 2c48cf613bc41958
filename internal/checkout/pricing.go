package checkout

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Price computes subtotal, delivery fee, discount and total for the given
// lines. The delivery fee is waived on an empty subtotal; the discount is the
// percentage of the subtotal rounded to a whole unit; the total never goes
// below zero.
func Price(lines []PricedLine, deliveryFee decimal.Decimal, discountPct int) Quote {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	fee := deliveryFee
	if !subtotal.IsPositive() {
		fee = decimal.Zero
	}
	discount := decimal.Zero
	if discountPct > 0 {
		discount = subtotal.Mul(decimal.NewFromInt(int64(discountPct))).Div(hundred).Round(0)
	}
	total := subtotal.Add(fee).Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	return Quote{
		Subtotal:    subtotal,
		DeliveryFee: fee,
		DiscountPct: discountPct,
		Discount:    discount,
		Total:       total,
	}
}

// PricedLine is a quantity at a unit price.
type PricedLine struct {
	Price    decimal.Decimal
	Quantity int
}

// SameAmount compares a client-supplied amount with a computed one to the cent.
func SameAmount(client float64, computed decimal.Decimal) bool {
	return decimal.NewFromFloat(client).Round(2).Equal(computed.Round(2))
}
