// Package checkout turns carts into orders: it reserves stock, opens payment
// sessions and settles or releases reservations when payment completes or
// times out.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/textile-storefront/internal/apierr"
	"github.com/imrishuroy/textile-storefront/internal/aws"
	"github.com/imrishuroy/textile-storefront/internal/catalog"
	"github.com/imrishuroy/textile-storefront/internal/orders"
	"github.com/imrishuroy/textile-storefront/internal/payment"
	"github.com/imrishuroy/textile-storefront/internal/promo"
	"github.com/imrishuroy/textile-storefront/internal/users"
)

// maxLines keeps a checkout transaction within the 100 item limit together
// with the order put and the cart clear.
const maxLines = 98

const settleAttempts = 3

// Scheduler arranges for a reservation to be checked after it expires.
type Scheduler interface {
	ScheduleExpiry(ctx context.Context, orderID string, expiresAt time.Time) error
}

// Alerter notifies operators.
type Alerter interface {
	Raise(ctx context.Context, alert aws.Alert) error
}

// Options are the pricing and reservation settings of a Service.
type Options struct {
	DeliveryFee    decimal.Decimal
	PaymentMethod  string
	ReservationTTL time.Duration
}

// Service implements checkout, payment confirmation and reservation expiry.
type Service struct {
	dynamo    aws.DynamoDBAPI
	catalog   *catalog.Store
	orders    *orders.Store
	users     *users.Store
	promos    *promo.Book
	gateway   payment.Gateway
	scheduler Scheduler
	alerter   Alerter
	opts      Options
	log       *slog.Logger
	nowFunc   func() time.Time
}

// Deps groups the collaborators of a Service. Scheduler is required.
type Deps struct {
	DynamoDB  aws.DynamoDBAPI
	Catalog   *catalog.Store
	Orders    *orders.Store
	Users     *users.Store
	Promos    *promo.Book
	Gateway   payment.Gateway
	Scheduler Scheduler
	Alerter   Alerter
	Logger    *slog.Logger
}

func NewService(d Deps, opts Options) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PaymentMethod == "" {
		opts.PaymentMethod = "Online"
	}
	return &Service{
		dynamo:    d.DynamoDB,
		catalog:   d.Catalog,
		orders:    d.Orders,
		users:     d.Users,
		promos:    d.Promos,
		gateway:   d.Gateway,
		scheduler: d.Scheduler,
		alerter:   d.Alerter,
		opts:      opts,
		log:       logger.With("component", "checkout"),
		nowFunc:   time.Now,
	}
}

// PlaceOrder validates the request against the catalog, reserves stock,
// persists the order, clears the cart and opens a payment session.
// Nothing is left behind when any step fails.
func (s *Service) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*PlaceOrderResult, error) {
	if in.UserID == "" {
		return nil, apierr.Unauthorized("user id is missing")
	}
	if len(in.Items) == 0 {
		return nil, apierr.Validation("no items in order")
	}
	if len(in.Address) == 0 {
		return nil, apierr.Validation("address is required")
	}

	lines, issues := mergeLines(in.Items)
	if len(lines) > maxLines {
		return nil, apierr.Validation(fmt.Sprintf("an order may contain at most %d different products", maxLines))
	}
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	products, err := s.catalog.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	issues = append(issues, stockIssues(lines, products)...)
	if len(issues) > 0 {
		return nil, shortfall(issues)
	}

	discountPct := 0
	promoCode := ""
	if in.PromoCode != "" {
		code, ok := s.promos.Lookup(in.PromoCode)
		if !ok {
			return nil, apierr.Validation("invalid promo code")
		}
		discountPct, promoCode = code.Percent, code.Code
	}

	items := make([]orders.Item, 0, len(lines))
	priced := make([]PricedLine, 0, len(lines))
	for _, l := range lines {
		p := products[l.ProductID]
		items = append(items, orders.Item{
			ProductID: p.ID,
			Name:      p.Name,
			Price:     p.Price,
			Category:  p.Category,
			Image:     p.Image,
			Quantity:  l.Quantity,
		})
		priced = append(priced, PricedLine{Price: decimal.NewFromFloat(p.Price), Quantity: l.Quantity})
	}
	quote := Price(priced, s.opts.DeliveryFee, discountPct)
	if !SameAmount(in.Amount, quote.Total) {
		return nil, apierr.Validation(fmt.Sprintf("order amount %.2f does not match computed total %s", in.Amount, quote.Total.StringFixed(2))).
			WithDetails(map[string]string{"expected": quote.Total.StringFixed(2)})
	}

	previousCart, err := s.users.GetCart(ctx, in.UserID)
	if errors.Is(err, users.ErrNotFound) {
		return nil, apierr.NotFound("user not found")
	}
	if err != nil {
		return nil, err
	}

	now := s.nowFunc().UTC()
	order := orders.Order{
		ID:                   uuid.NewString(),
		UserID:               in.UserID,
		Items:                items,
		Amount:               quote.Total.InexactFloat64(),
		Address:              in.Address,
		Status:               orders.DefaultStatus,
		PaymentMethod:        s.opts.PaymentMethod,
		PromoCode:            promoCode,
		DiscountPct:          discountPct,
		Reservation:          orders.ReservationHeld,
		ReservationExpiresAt: now.Add(s.opts.ReservationTTL),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.reserve(ctx, order); err != nil {
		return nil, err
	}
	s.catalog.Invalidate(ctx)
	s.log.InfoContext(ctx, "order reserved", "order_id", order.ID, "user_id", order.UserID, "lines", len(items), "total", quote.Total.String())

	// Every held order has an expiry check queued before the shopper can pay.
	if err := s.scheduler.ScheduleExpiry(ctx, order.ID, order.ReservationExpiresAt); err != nil {
		s.log.ErrorContext(ctx, "schedule reservation expiry failed, rolling back order", "order_id", order.ID, "error", err)
		if cerr := s.abandon(ctx, order, previousCart); cerr != nil {
			s.log.ErrorContext(ctx, "rollback after scheduling failure incomplete", "order_id", order.ID, "error", cerr)
		}
		return nil, apierr.Wrap(apierr.KindUpstream, "checkout is temporarily unavailable, please retry", err)
	}

	sess, err := s.gateway.CreateSession(ctx, sessionRequest(order, quote))
	if err != nil {
		s.log.ErrorContext(ctx, "payment session failed, rolling back order", "order_id", order.ID, "error", err)
		if cerr := s.abandon(ctx, order, previousCart); cerr != nil {
			s.log.ErrorContext(ctx, "rollback after payment failure incomplete", "order_id", order.ID, "error", cerr)
		}
		msg := "payment session could not be created"
		if errors.Is(err, payment.ErrNotConfigured) {
			msg = "payment system is not configured, please contact the administrator"
		}
		return nil, apierr.Wrap(apierr.KindUpstream, msg, err)
	}

	if err := s.orders.SetSession(ctx, order.ID, sess.ID); err != nil {
		s.log.WarnContext(ctx, "record payment session failed", "order_id", order.ID, "error", err)
	}
	return &PlaceOrderResult{
		OrderID:    order.ID,
		SessionURL: sess.URL,
		Total:      order.Amount,
		ExpiresAt:  order.ReservationExpiresAt,
	}, nil
}

// reserve runs the checkout transaction: hold every line, put the order and
// clear the cart.
func (s *Service) reserve(ctx context.Context, order orders.Order) error {
	now := order.CreatedAt
	tx := make([]types.TransactWriteItem, 0, len(order.Items)+2)
	for _, it := range order.Items {
		tx = append(tx, s.catalog.ReserveItem(it.ProductID, it.Quantity, now))
	}
	put, err := s.orders.PutNewItem(order)
	if err != nil {
		return err
	}
	tx = append(tx, put, s.users.ClearCartItem(order.UserID))

	_, err = s.dynamo.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: tx})
	if err == nil {
		return nil
	}
	codes, ok := aws.CancellationReasons(err)
	if !ok {
		return fmt.Errorf("reserve order: %w", err)
	}
	var stockFailed bool
	for i, code := range codes {
		if code != "ConditionalCheckFailed" {
			continue
		}
		switch {
		case i < len(order.Items):
			stockFailed = true
		case i == len(order.Items)+1:
			return apierr.NotFound("user not found")
		}
	}
	if !stockFailed {
		return fmt.Errorf("reserve order: %w", err)
	}

	// Stock moved under us: report the current numbers.
	lines := make([]LineRequest, 0, len(order.Items))
	ids := make([]string, 0, len(order.Items))
	for _, it := range order.Items {
		lines = append(lines, LineRequest{ProductID: it.ProductID, Quantity: it.Quantity})
		ids = append(ids, it.ProductID)
	}
	products, rerr := s.catalog.GetMany(ctx, ids)
	if rerr != nil {
		return fmt.Errorf("reload products after conflict: %w", rerr)
	}
	issues := stockIssues(lines, products)
	if len(issues) == 0 {
		return apierr.Conflict("stock changed during checkout, please retry")
	}
	return shortfall(issues)
}

// abandon undoes a reservation whose payment session never opened.
func (s *Service) abandon(ctx context.Context, order orders.Order, cart map[string]int) error {
	now := s.nowFunc()
	tx := make([]types.TransactWriteItem, 0, len(order.Items)+1)
	for _, it := range order.Items {
		tx = append(tx, s.catalog.ReleaseItem(it.ProductID, it.Quantity, now))
	}
	tx = append(tx, s.orders.DeleteItem(order.ID, orders.ReservationHeld))
	var errs []error
	if _, err := s.dynamo.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: tx}); err != nil {
		errs = append(errs, fmt.Errorf("release reservation: %w", err))
	} else {
		s.catalog.Invalidate(ctx)
	}
	if err := s.users.RestoreCart(ctx, order.UserID, cart); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// UserOrders lists the caller's orders.
func (s *Service) UserOrders(ctx context.Context, userID string) ([]orders.Order, error) {
	return s.orders.ListByUser(ctx, userID)
}

// ListOrders lists all orders, optionally for one user.
func (s *Service) ListOrders(ctx context.Context, userID string) ([]orders.Order, error) {
	return s.orders.List(ctx, userID)
}

// UpdateStatus changes an order's workflow label.
func (s *Service) UpdateStatus(ctx context.Context, orderID, status string) error {
	if orderID == "" || status == "" {
		return apierr.Validation("orderId and status are required")
	}
	err := s.orders.UpdateStatus(ctx, orderID, status)
	if errors.Is(err, orders.ErrNotFound) {
		return apierr.NotFound("order not found")
	}
	return err
}

// mergeLines folds duplicate product ids together and reports non-positive
// quantities.
func mergeLines(items []LineRequest) ([]LineRequest, []Issue) {
	var (
		merged []LineRequest
		issues []Issue
		index  = map[string]int{}
	)
	for _, it := range items {
		if it.ProductID == "" {
			issues = append(issues, Issue{Reason: ReasonNotFound, Requested: it.Quantity})
			continue
		}
		if it.Quantity <= 0 {
			issues = append(issues, Issue{ProductID: it.ProductID, Reason: ReasonInvalidQuantity, Requested: it.Quantity})
			continue
		}
		if i, ok := index[it.ProductID]; ok {
			merged[i].Quantity += it.Quantity
			continue
		}
		index[it.ProductID] = len(merged)
		merged = append(merged, it)
	}
	return merged, issues
}

func stockIssues(lines []LineRequest, products map[string]catalog.Product) []Issue {
	var issues []Issue
	for _, l := range lines {
		p, ok := products[l.ProductID]
		if !ok {
			issues = append(issues, Issue{ProductID: l.ProductID, Reason: ReasonNotFound, Requested: l.Quantity})
			continue
		}
		if p.Available < l.Quantity {
			issues = append(issues, Issue{
				ProductID: l.ProductID,
				Name:      p.Name,
				Reason:    ReasonInsufficientStock,
				Available: p.Available,
				Requested: l.Quantity,
			})
		}
	}
	return issues
}

func shortfall(issues []Issue) error {
	se := &ShortfallError{Issues: issues}
	kind, msg := apierr.KindInsufficientStock, "some items are unavailable in the requested quantity"
	if se.onlyInvalidQuantity() {
		kind, msg = apierr.KindValidation, "item quantities must be positive"
	}
	return &apierr.Error{Kind: kind, Message: msg, Details: issues, Cause: se}
}

func sessionRequest(o orders.Order, q Quote) payment.SessionRequest {
	lines := make([]payment.Line, 0, len(o.Items))
	for _, it := range o.Items {
		lines = append(lines, payment.Line{
			Name:      it.Name,
			UnitPrice: decimal.NewFromFloat(it.Price),
			Quantity:  int64(it.Quantity),
		})
	}
	return payment.SessionRequest{
		OrderID:     o.ID,
		Lines:       lines,
		DeliveryFee: q.DeliveryFee,
		Discount:    q.Discount,
	}
}
