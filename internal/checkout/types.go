package checkout

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Issue reasons reported per line item.
const (
	ReasonNotFound          = "not_found"
	ReasonInvalidQuantity   = "invalid_quantity"
	ReasonInsufficientStock = "insufficient_stock"
)

// AlertStockShortfall is raised when a paid order cannot take all its units.
const AlertStockShortfall = "StockShortfall"

// LineRequest is one requested (product, quantity) pair.
type LineRequest struct {
	ProductID string
	Quantity  int
}

// PlaceOrderInput is a checkout request for one user.
type PlaceOrderInput struct {
	UserID    string
	Items     []LineRequest
	Address   map[string]any
	Amount    float64
	PromoCode string
}

// PlaceOrderResult is returned once the payment session is open.
type PlaceOrderResult struct {
	OrderID    string    `json:"orderId"`
	SessionURL string    `json:"session_url"`
	Total      float64   `json:"amount"`
	ExpiresAt  time.Time `json:"reservationExpiresAt"`
}

// Issue explains why one line item cannot be ordered.
type Issue struct {
	ProductID string `json:"productId"`
	Name      string `json:"name,omitempty"`
	Reason    string `json:"reason"`
	Available int    `json:"available"`
	Requested int    `json:"requested"`
}

// ShortfallError lists every line item that blocked a checkout.
type ShortfallError struct {
	Issues []Issue
}

func (e *ShortfallError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		parts = append(parts, fmt.Sprintf("%s: %s (available %d, requested %d)", is.ProductID, is.Reason, is.Available, is.Requested))
	}
	return "checkout rejected: " + strings.Join(parts, "; ")
}

// onlyInvalidQuantity reports whether every issue is a malformed quantity.
func (e *ShortfallError) onlyInvalidQuantity() bool {
	for _, is := range e.Issues {
		if is.Reason != ReasonInvalidQuantity {
			return false
		}
	}
	return true
}

// Quote is the price breakdown of an order.
type Quote struct {
	Subtotal    decimal.Decimal
	DeliveryFee decimal.Decimal
	DiscountPct int
	Discount    decimal.Decimal
	Total       decimal.Decimal
}

// ConfirmResult reports what a payment callback did.
type ConfirmResult struct {
	OrderID     string   `json:"orderId"`
	Paid        bool     `json:"paid"`
	AlreadyPaid bool     `json:"alreadyPaid,omitempty"`
	Shortfall   []string `json:"shortfall,omitempty"`
}

// ExpiryMessage asks the worker to check an order's reservation.
type ExpiryMessage struct {
	OrderID       string    `json:"order_id"`
	ExpiresAt     time.Time `json:"expires_at"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}
