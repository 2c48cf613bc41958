package checkout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/textile-storefront/internal/apierr"
	"github.com/imrishuroy/textile-storefront/internal/aws"
	"github.com/imrishuroy/textile-storefront/internal/catalog"
	"github.com/imrishuroy/textile-storefront/internal/dynamotest"
	"github.com/imrishuroy/textile-storefront/internal/orders"
	"github.com/imrishuroy/textile-storefront/internal/payment"
	"github.com/imrishuroy/textile-storefront/internal/promo"
	"github.com/imrishuroy/textile-storefront/internal/users"
)

const (
	productsTable = "products"
	ordersTable   = "orders"
	usersTable    = "users"
)

type fakeGateway struct {
	err    error
	reqs   []payment.SessionRequest
	during func()
}

func (g *fakeGateway) CreateSession(_ context.Context, req payment.SessionRequest) (*payment.Session, error) {
	g.reqs = append(g.reqs, req)
	if g.during != nil {
		g.during()
	}
	if g.err != nil {
		return nil, g.err
	}
	return &payment.Session{ID: "cs_" + req.OrderID, URL: "https://pay.example/" + req.OrderID}, nil
}

type fakeScheduler struct {
	scheduled map[string]time.Time
	err       error
}

func (f *fakeScheduler) ScheduleExpiry(_ context.Context, orderID string, at time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.scheduled[orderID] = at
	return nil
}

type fakeAlerter struct {
	alerts []aws.Alert
}

func (f *fakeAlerter) Raise(_ context.Context, a aws.Alert) error {
	f.alerts = append(f.alerts, a)
	return nil
}

type harness struct {
	svc       *Service
	fake      *dynamotest.Fake
	catalog   *catalog.Store
	orders    *orders.Store
	users     *users.Store
	gateway   *fakeGateway
	scheduler *fakeScheduler
	alerter   *fakeAlerter
	now       time.Time
	userID    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fake := dynamotest.New().
		CreateTable(productsTable, "product_id").
		CreateTable(ordersTable, "order_id").
		CreateTable(usersTable, "user_id")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := &harness{
		fake:      fake,
		catalog:   catalog.NewStore(fake, productsTable, nil, logger),
		orders:    orders.NewStore(fake, ordersTable, "user_id-index"),
		users:     users.NewStore(fake, usersTable),
		gateway:   &fakeGateway{},
		scheduler: &fakeScheduler{scheduled: map[string]time.Time{}},
		alerter:   &fakeAlerter{},
		now:       time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	h.svc = NewService(Deps{
		DynamoDB:  fake,
		Catalog:   h.catalog,
		Orders:    h.orders,
		Users:     h.users,
		Promos:    promo.NewBook(map[string]int{"SAVE10": 10}),
		Gateway:   h.gateway,
		Scheduler: h.scheduler,
		Alerter:   h.alerter,
		Logger:    logger,
	}, Options{
		DeliveryFee:    decimal.NewFromInt(10),
		ReservationTTL: 30 * time.Minute,
	})
	h.svc.nowFunc = func() time.Time { return h.now }

	u, err := h.users.Create(context.Background(), users.User{Name: "Meera", Email: "meera@example.com", PasswordHash: "x"})
	require.NoError(t, err)
	h.userID = u.ID
	return h
}

func (h *harness) product(t *testing.T, id string, price float64, stock int) {
	t.Helper()
	_, err := h.catalog.Create(context.Background(), catalog.Product{ID: id, Name: "Cotton " + id, Category: "Cotton", Price: price}, &stock)
	require.NoError(t, err)
}

func (h *harness) stock(t *testing.T, id string) (int, int) {
	t.Helper()
	p, err := h.catalog.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p.Stock, p.Available
}

func (h *harness) place(qty int, amount float64) (*PlaceOrderResult, error) {
	return h.svc.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID:  h.userID,
		Items:   []LineRequest{{ProductID: "p1", Quantity: qty}},
		Address: map[string]any{"city": "Surat"},
		Amount:  amount,
	})
}

func requireKind(t *testing.T, err error, kind apierr.Kind) *apierr.Error {
	t.Helper()
	var ae *apierr.Error
	require.ErrorAs(t, err, &ae)
	require.Equal(t, kind, ae.Kind)
	return ae
}

func TestPlaceOrder_InsufficientStockLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	h.product(t, "p1", 100, 5)
	_, err := h.users.AddToCart(context.Background(), h.userID, "p1")
	require.NoError(t, err)

	_, err = h.place(6, 610)
	ae := requireKind(t, err, apierr.KindInsufficientStock)

	issues, ok := ae.Details.([]Issue)
	require.True(t, ok)
	require.Len(t, issues, 1)
	assert.Equal(t, Issue{ProductID: "p1", Name: "Cotton p1", Reason: ReasonInsufficientStock, Available: 5, Requested: 6}, issues[0])

	var se *ShortfallError
	assert.ErrorAs(t, err, &se)
	assert.Empty(t, h.fake.Items(ordersTable))
	cart, err := h.users.GetCart(context.Background(), h.userID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"p1": 1}, cart)
	_, available := h.stock(t, "p1")
	assert.Equal(t, 5, available)
}

func TestPlaceOrder_Validation(t *testing.T) {
	h := newHarness(t)
	h.product(t, "p1", 100, 5)
	ctx := context.Background()

	_, err := h.place(0, 10)
	ae := requireKind(t, err, apierr.KindValidation)
	assert.Equal(t, ReasonInvalidQuantity, ae.Details.([]Issue)[0].Reason)

	_, err = h.svc.PlaceOrder(ctx, PlaceOrderInput{UserID: h.userID, Address: map[string]any{"city": "Surat"}})
	requireKind(t, err, apierr.KindValidation)

	_, err = h.svc.PlaceOrder(ctx, PlaceOrderInput{UserID: h.userID, Items: []LineRequest{{ProductID: "p1", Quantity: 1}}})
	requireKind(t, err, apierr.KindValidation)

	_, err = h.place(1, 99)
	requireKind(t, err, apierr.KindValidation)

	_, err = h.svc.PlaceOrder(ctx, PlaceOrderInput{
		UserID:    h.userID,
		Items:     []LineRequest{{ProductID: "p1", Quantity: 1}},
		Address:   map[string]any{"city": "Surat"},
		Amount:    110,
		PromoCode: "NOPE",
	})
	requireKind(t, err, apierr.KindValidation)

	_, err = h.svc.PlaceOrder(ctx, PlaceOrderInput{
		UserID:  h.userID,
		Items:   []LineRequest{{ProductID: "missing", Quantity: 1}},
		Address: map[string]any{"city": "Surat"},
		Amount:  110,
	})
	ae = requireKind(t, err, apierr.KindInsufficientStock)
	assert.Equal(t, ReasonNotFound, ae.Details.([]Issue)[0].Reason)

	assert.Empty(t, h.fake.Items(ordersTable))
	assert.Empty(t, h.gateway.reqs)
}

func TestPlaceOrder_MergesDuplicateLines(t *testing.T) {
	h := newHarness(t)
	h.product(t, "p1", 100, 5)

	res, err := h.svc.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID:  h.userID,
		Items:   []LineRequest{{ProductID: "p1", Quantity: 1}, {ProductID: "p1", Quantity: 2}},
		Address: map[string]any{"city": "Surat"},
		Amount:  310,
	})
	require.NoError(t, err)
	o, err := h.orders.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	require.Len(t, o.Items, 1)
	assert.Equal(t, 3, o.Items[0].Quantity)
}

func TestPlaceOrderThenConfirm(t *testing.T) {
	h := newHarness(t)
	h.product(t, "p1", 100, 5)
	ctx := context.Background()
	_, err := h.users.AddToCart(ctx, h.userID, "p1")
	require.NoError(t, err)

	res, err := h.place(3, 310)
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/"+res.OrderID, res.SessionURL)
	assert.Equal(t, h.now.Add(30*time.Minute), h.scheduler.scheduled[res.OrderID])

	stock, available := h.stock(t, "p1")
	assert.Equal(t, 5, stock)
	assert.Equal(t, 2, available)

	o, err := h.orders.Get(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.ReservationHeld, o.Reservation)
	assert.Equal(t, "cs_"+res.OrderID, o.SessionID)
	assert.False(t, o.Payment)
	assert.Equal(t, 310.0, o.Amount)
	assert.Equal(t, "Online", o.PaymentMethod)

	cart, err := h.users.GetCart(ctx, h.userID)
	require.NoError(t, err)
	assert.Empty(t, cart)

	conf, err := h.svc.ConfirmPayment(ctx, res.OrderID, true)
	require.NoError(t, err)
	assert.True(t, conf.Paid)
	assert.False(t, conf.AlreadyPaid)

	stock, available = h.stock(t, "p1")
	assert.Equal(t, 2, stock)
	assert.Equal(t, 2, available)

	again, err := h.svc.ConfirmPayment(ctx, res.OrderID, true)
	require.NoError(t, err)
	assert.True(t, again.AlreadyPaid)
	stock, _ = h.stock(t, "p1")
	assert.Equal(t, 2, stock)

	o, err = h.orders.Get(ctx, res.OrderID)
	require.NoError(t, err)
	assert.True(t, o.Payment)
	assert.Equal(t, orders.ReservationCommitted, o.Reservation)
}

func TestConfirmPayment_FailureReleasesAndDeletes(t *testing.T) {
	h := newHarness(t)
	h.product(t, "p1", 100, 5)
	ctx := context.Background()

	res, err := h.place(3, 310)
	require.NoError(t, err)

	conf, err := h.svc.ConfirmPayment(ctx, res.OrderID, false)
	require.NoError(t, err)
	assert.False(t, conf.Paid)

	stock, available := h.stock(t, "p1")
	assert.Equal(t, 5, stock)
	assert.Equal(t, 5, available)
	assert.Nil(t, h.fake.Item(ordersTable, res.OrderID))

	_, err = h.svc.ConfirmPayment(ctx, res.OrderID, false)
	requireKind(t, err, apierr.KindNotFound)
}

func TestConfirmPayment_FailureOnPaidOrderDeletesIt(t *testing.T) {
	h := newHarness(t)
	h.product(t, "p1", 100, 5)
	ctx := context.Background()

	res, err := h.place(3, 310)
	require.NoError(t, err)
	_, err = h.svc.ConfirmPayment(ctx, res.OrderID, true)
	require.NoError(t, err)

	_, err = h.svc.ConfirmPayment(ctx, res.OrderID, false)
	require.NoError(t, err)
	assert.Nil(t, h.fake.Item(ordersTable, res.OrderID))

	stock, available := h.stock(t, "p1")
	assert.Equal(t, 2, stock)
	assert.Equal(t, 2, available)
}

func TestPlaceOrder_PaymentFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	h.product(t, "p1", 100, 5)
	ctx := context.Background()
	_, err := h.users.AddToCart(ctx, h.userID, "p1")
	require.NoError(t, err)
	h.gateway.err = payment.ErrNotConfigured

	_, err = h.place(3, 310)
	ae := requireKind(t, err, apierr.KindUpstream)
	assert.Contains(t, ae.Message, "not configured")
	assert.True(t, errors.Is(err, payment.ErrNotConfigured))

	_, available := h.stock(t, "p1")
	assert.Equal(t, 5, available)
	assert.Empty(t, h.fake.Items(ordersTable))
	cart, err := h.users.GetCart(ctx, h.userID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"p1": 1}, cart)

	// the queued expiry check finds nothing left to release
	require.Len(t, h.scheduler.scheduled, 1)
	for id := range h.scheduler.scheduled {
		h.now = h.now.Add(time.Hour)
		remaining, err := h.svc.ReleaseExpired(ctx, id)
		require.NoError(t, err)
		assert.Zero(t, remaining)
	}
	_, available = h.stock(t, "p1")
	assert.Equal(t, 5, available)
}

func TestPlaceOrder_SchedulingFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	h.product(t, "p1", 100, 5)
	ctx := context.Background()
	_, err := h.users.AddToCart(ctx, h.userID, "p1")
	require.NoError(t, err)
	h.scheduler.err = errors.New("queue unavailable")

	_, err = h.place(3, 310)
	requireKind(t, err, apierr.KindUpstream)

	stock, available := h.stock(t, "p1")
	assert.Equal(t, 5, stock)
	assert.Equal(t, 5, available)
	assert.Empty(t, h.fake.Items(ordersTable))
	assert.Empty(t, h.gateway.reqs, "no payment session without a queued expiry check")
	cart, err := h.users.GetCart(ctx, h.userID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"p1": 1}, cart)
}

func TestPlaceOrder_RollbackKeepsCartEditsMadeDuringCheckout(t *testing.T) {
	h := newHarness(t)
	h.product(t, "p1", 100, 5)
	h.product(t, "p2", 50, 5)
	ctx := context.Background()
	_, err := h.users.AddToCart(ctx, h.userID, "p1")
	require.NoError(t, err)

	h.gateway.err = errors.New("gateway timeout")
	h.gateway.during = func() {
		_, err := h.users.AddToCart(ctx, h.userID, "p2")
		require.NoError(t, err)
		_, err = h.users.AddToCart(ctx, h.userID, "p1")
		require.NoError(t, err)
	}

	_, err = h.place(3, 310)
	requireKind(t, err, apierr.KindUpstream)

	cart, err := h.users.GetCart(ctx, h.userID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"p1": 2, "p2": 1}, cart)
}

func TestPlaceOrder_AppliesPromo(t *testing.T) {
	h := newHarness(t)
	h.product(t, "p1", 100, 5)

	res, err := h.svc.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID:    h.userID,
		Items:     []LineRequest{{ProductID: "p1", Quantity: 3}},
		Address:   map[string]any{"city": "Surat"},
		Amount:    280,
		PromoCode: " save10 ",
	})
	require.NoError(t, err)
	assert.Equal(t, 280.0, res.Total)

	require.Len(t, h.gateway.reqs, 1)
	assert.True(t, h.gateway.reqs[0].Discount.Equal(decimal.NewFromInt(30)))
	assert.True(t, h.gateway.reqs[0].DeliveryFee.Equal(decimal.NewFromInt(10)))

	o, err := h.orders.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", o.PromoCode)
	assert.Equal(t, 10, o.DiscountPct)
}

func TestReleaseExpired(t *testing.T) {
	h := newHarness(t)
	h.product(t, "p1", 100, 5)
	ctx := context.Background()

	res, err := h.place(3, 310)
	require.NoError(t, err)

	h.now = h.now.Add(10 * time.Minute)
	remaining, err := h.svc.ReleaseExpired(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, 20*time.Minute, remaining)
	_, available := h.stock(t, "p1")
	assert.Equal(t, 2, available)

	h.now = h.now.Add(21 * time.Minute)
	remaining, err = h.svc.ReleaseExpired(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Zero(t, remaining)

	stock, available := h.stock(t, "p1")
	assert.Equal(t, 5, stock)
	assert.Equal(t, 5, available)
	o, err := h.orders.Get(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.ReservationReleased, o.Reservation)

	// A second delivery of the same message is a no-op.
	_, err = h.svc.ReleaseExpired(ctx, res.OrderID)
	require.NoError(t, err)
	_, available = h.stock(t, "p1")
	assert.Equal(t, 5, available)

	conf, err := h.svc.ConfirmPayment(ctx, res.OrderID, true)
	require.NoError(t, err)
	assert.True(t, conf.Paid)
	assert.Empty(t, conf.Shortfall)
	stock, available = h.stock(t, "p1")
	assert.Equal(t, 2, stock)
	assert.Equal(t, 2, available)
	assert.Empty(t, h.alerter.alerts)
}

func TestLateConfirm_RecordsShortfall(t *testing.T) {
	h := newHarness(t)
	h.product(t, "p1", 100, 5)
	ctx := context.Background()

	res, err := h.place(3, 310)
	require.NoError(t, err)
	h.now = h.now.Add(time.Hour)
	_, err = h.svc.ReleaseExpired(ctx, res.OrderID)
	require.NoError(t, err)

	delta := -4
	_, err = h.catalog.AdjustStock(ctx, "p1", catalog.Adjustment{Delta: &delta})
	require.NoError(t, err)

	conf, err := h.svc.ConfirmPayment(ctx, res.OrderID, true)
	require.NoError(t, err)
	assert.True(t, conf.Paid)
	assert.Equal(t, []string{"p1"}, conf.Shortfall)

	stock, available := h.stock(t, "p1")
	assert.Equal(t, 1, stock)
	assert.Equal(t, 1, available)

	o, err := h.orders.Get(ctx, res.OrderID)
	require.NoError(t, err)
	assert.True(t, o.Payment)
	assert.Equal(t, []string{"p1"}, o.Shortfall)

	require.Len(t, h.alerter.alerts, 1)
	assert.Equal(t, AlertStockShortfall, h.alerter.alerts[0].Kind)
	assert.Equal(t, res.OrderID, h.alerter.alerts[0].OrderID)
}

func TestReleaseExpired_IgnoresPaidAndMissing(t *testing.T) {
	h := newHarness(t)
	h.product(t, "p1", 100, 5)
	ctx := context.Background()

	remaining, err := h.svc.ReleaseExpired(ctx, "nope")
	require.NoError(t, err)
	assert.Zero(t, remaining)

	res, err := h.place(2, 210)
	require.NoError(t, err)
	_, err = h.svc.ConfirmPayment(ctx, res.OrderID, true)
	require.NoError(t, err)

	h.now = h.now.Add(time.Hour)
	_, err = h.svc.ReleaseExpired(ctx, res.OrderID)
	require.NoError(t, err)
	stock, available := h.stock(t, "p1")
	assert.Equal(t, 3, stock)
	assert.Equal(t, 3, available)
}

func TestUpdateStatusAndListing(t *testing.T) {
	h := newHarness(t)
	h.product(t, "p1", 100, 5)
	ctx := context.Background()

	res, err := h.place(1, 110)
	require.NoError(t, err)

	require.NoError(t, h.svc.UpdateStatus(ctx, res.OrderID, "Shipped"))
	err = h.svc.UpdateStatus(ctx, "missing", "Shipped")
	requireKind(t, err, apierr.KindNotFound)

	mine, err := h.svc.UserOrders(ctx, h.userID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "Shipped", mine[0].Status)

	all, err := h.svc.ListOrders(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
