package catalog

import (
	"errors"
	"fmt"
	"time"
)

// DefaultStock is applied when a product is created without a stock count.
const DefaultStock = 100

// Product is the item stored in the products table.
//
// Stock is the on-hand count and only shrinks when a payment is confirmed.
// Available is the part of Stock not held by unpaid orders; checkout reserves
// against it. 0 <= Available <= Stock always holds.
type Product struct {
	ID          string    `dynamodbav:"product_id" json:"_id"` // PK
	Name        string    `dynamodbav:"name" json:"name"`
	Description string    `dynamodbav:"description" json:"description"`
	Price       float64   `dynamodbav:"price" json:"price"`
	Category    string    `dynamodbav:"category" json:"category"`
	Image       string    `dynamodbav:"image" json:"image"`
	Stock       int       `dynamodbav:"stock" json:"stock"`
	Available   int       `dynamodbav:"available" json:"available"`
	CreatedAt   time.Time `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `dynamodbav:"updated_at" json:"updatedAt"`
}

// Reserved is the number of units held by unpaid orders.
func (p Product) Reserved() int { return p.Stock - p.Available }

// Adjustment is an admin stock change. Exactly one of Delta and Set is given.
type Adjustment struct {
	Delta *int
	Set   *int
}

var (
	ErrNotFound          = errors.New("product not found")
	ErrAlreadyExists     = errors.New("product already exists")
	ErrInvalidProduct    = errors.New("invalid product")
	ErrInvalidAdjustment = errors.New("exactly one of delta or set must be provided")
	ErrNegativeStock     = errors.New("stock cannot be negative")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrHeldStock         = errors.New("target stock is below units held by pending orders")
	ErrConcurrentUpdate  = errors.New("product changed concurrently, retry")
)

// StockShortage is returned when a negative delta asks for more units than
// can be removed. Units held by pending checkouts cannot be removed.
type StockShortage struct {
	Stock     int `json:"stock"`
	Available int `json:"available"`
	Held      int `json:"held"`
	Requested int `json:"requested"`
}

// Reason explains the shortage in words an admin can act on.
func (e *StockShortage) Reason() string {
	if e.Requested > e.Stock {
		return fmt.Sprintf("only %d units in stock, cannot remove %d", e.Stock, e.Requested)
	}
	return fmt.Sprintf("%d of %d units are held by pending checkouts, at most %d can be removed",
		e.Held, e.Stock, e.Available)
}

func (e *StockShortage) Error() string { return "insufficient stock: " + e.Reason() }

func (e *StockShortage) Is(target error) bool { return target == ErrInsufficientStock }
