// Package invoice builds invoice data for an order, renders it to HTML and
// PDF, and optionally stores the PDF in S3.
package invoice

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/textile-storefront/internal/apierr"
	"github.com/imrishuroy/textile-storefront/internal/catalog"
	"github.com/imrishuroy/textile-storefront/internal/checkout"
	"github.com/imrishuroy/textile-storefront/internal/orders"
	"github.com/imrishuroy/textile-storefront/internal/users"
)

// DateLayout is how the generation date is printed.
const DateLayout = "02 Jan 2006"

type OrderReader interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
}

type UserReader interface {
	Get(ctx context.Context, id string) (*users.User, error)
}

type ProductReader interface {
	GetMany(ctx context.Context, ids []string) (map[string]catalog.Product, error)
}

// Line is one invoice row.
type Line struct {
	ProductID   string  `json:"productId"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Quantity    int     `json:"quantity"`
	Total       float64 `json:"total"`
}

// Breakdown is the money summary printed under the lines.
type Breakdown struct {
	Subtotal    float64 `json:"subtotal"`
	Shipping    float64 `json:"shipping"`
	DiscountPct int     `json:"discountPercent"`
	Discount    float64 `json:"discount"`
	GrandTotal  float64 `json:"grandTotal"`
}

// Data is everything an invoice shows.
type Data struct {
	Order         orders.Order `json:"order"`
	User          users.User   `json:"user"`
	Items         []Line       `json:"items"`
	Breakdown     Breakdown    `json:"breakdown"`
	GeneratedDate string       `json:"generatedDate"`
}

// Assembler collects invoice data from the stores.
type Assembler struct {
	orders      OrderReader
	users       UserReader
	products    ProductReader
	deliveryFee decimal.Decimal
	nowFunc     func() time.Time
}

func NewAssembler(o OrderReader, u UserReader, p ProductReader, deliveryFee decimal.Decimal) *Assembler {
	return &Assembler{orders: o, users: u, products: p, deliveryFee: deliveryFee, nowFunc: time.Now}
}

// Assemble loads the order, its owner and the current product descriptions.
// Products deleted since checkout fall back to the name captured on the order.
func (a *Assembler) Assemble(ctx context.Context, orderID string) (*Data, error) {
	order, err := a.orders.Get(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if order == nil {
		return nil, apierr.NotFound("order not found")
	}
	user, err := a.users.Get(ctx, order.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return nil, apierr.NotFound("user not found")
	}

	ids := make([]string, 0, len(order.Items))
	for _, it := range order.Items {
		ids = append(ids, it.ProductID)
	}
	products, err := a.products.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}

	lines := make([]Line, 0, len(order.Items))
	priced := make([]checkout.PricedLine, 0, len(order.Items))
	for _, it := range order.Items {
		desc := it.Name
		if p, ok := products[it.ProductID]; ok && p.Description != "" {
			desc = p.Description
		}
		price := decimal.NewFromFloat(it.Price)
		lines = append(lines, Line{
			ProductID:   it.ProductID,
			Name:        it.Name,
			Description: desc,
			Price:       it.Price,
			Quantity:    it.Quantity,
			Total:       price.Mul(decimal.NewFromInt(int64(it.Quantity))).Round(2).InexactFloat64(),
		})
		priced = append(priced, checkout.PricedLine{Price: price, Quantity: it.Quantity})
	}
	q := checkout.Price(priced, a.deliveryFee, order.DiscountPct)

	return &Data{
		Order: *order,
		User:  *user,
		Items: lines,
		Breakdown: Breakdown{
			Subtotal:    q.Subtotal.Round(2).InexactFloat64(),
			Shipping:    q.DeliveryFee.Round(2).InexactFloat64(),
			DiscountPct: q.DiscountPct,
			Discount:    q.Discount.Round(2).InexactFloat64(),
			GrandTotal:  q.Total.Round(2).InexactFloat64(),
		},
		GeneratedDate: a.nowFunc().Format(DateLayout),
	}, nil
}
