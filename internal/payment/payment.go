// Package payment opens hosted checkout sessions with the payment provider.
package payment

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrNotConfigured is returned when no provider key is set.
var ErrNotConfigured = errors.New("payment system is not configured")

// Line is one purchasable row on the hosted page.
type Line struct {
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int64
}

// SessionRequest describes a payment for one order. Amounts are in major
// currency units before the display multiplier is applied.
type SessionRequest struct {
	OrderID     string
	Lines       []Line
	DeliveryFee decimal.Decimal
	Discount    decimal.Decimal
}

// Session is a created hosted payment page.
type Session struct {
	ID  string
	URL string
}

// Gateway creates payment sessions.
type Gateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
}

// Disabled is used when no provider is configured.
type Disabled struct{}

func (Disabled) CreateSession(context.Context, SessionRequest) (*Session, error) {
	return nil, ErrNotConfigured
}
