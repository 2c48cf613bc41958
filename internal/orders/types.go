package orders

import (
	"errors"
	"time"
)

// DefaultStatus is the workflow label new orders start with.
const DefaultStatus = "textile Processing"

// Reservation states of an order's stock hold.
const (
	ReservationHeld      = "held"      // units taken from available, payment pending
	ReservationCommitted = "committed" // units taken from stock, order paid
	ReservationReleased  = "released"  // hold returned after expiry
)

// Item is a snapshot of a product at checkout time.
type Item struct {
	ProductID string  `dynamodbav:"product_id" json:"_id"`
	Name      string  `dynamodbav:"name" json:"name"`
	Price     float64 `dynamodbav:"price" json:"price"`
	Category  string  `dynamodbav:"category,omitempty" json:"category,omitempty"`
	Image     string  `dynamodbav:"image,omitempty" json:"image,omitempty"`
	Quantity  int     `dynamodbav:"quantity" json:"quantity"`
}

// Order represents the item stored in the orders table.
type Order struct {
	ID                   string         `dynamodbav:"order_id" json:"_id"`   // PK
	UserID               string         `dynamodbav:"user_id" json:"userId"` // GSI hash key
	Items                []Item         `dynamodbav:"items" json:"items"`
	Amount               float64        `dynamodbav:"amount" json:"amount"`
	Address              map[string]any `dynamodbav:"address" json:"address"`
	Status               string         `dynamodbav:"status" json:"status"`
	Payment              bool           `dynamodbav:"payment" json:"payment"`
	PaymentMethod        string         `dynamodbav:"payment_method" json:"paymentMethod"`
	PromoCode            string         `dynamodbav:"promo_code,omitempty" json:"promoCode,omitempty"`
	DiscountPct          int            `dynamodbav:"discount_pct,omitempty" json:"discountPercent,omitempty"`
	Reservation          string         `dynamodbav:"reservation" json:"reservation"`
	ReservationExpiresAt time.Time      `dynamodbav:"reservation_expires_at" json:"reservationExpiresAt"`
	Shortfall            []string       `dynamodbav:"shortfall,omitempty" json:"shortfall,omitempty"`
	SessionID            string         `dynamodbav:"session_id,omitempty" json:"-"`
	CreatedAt            time.Time      `dynamodbav:"created_at" json:"date"`
	UpdatedAt            time.Time      `dynamodbav:"updated_at" json:"updatedAt"`
}

var ErrNotFound = errors.New("order not found")
