package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/textile-storefront/internal/apierr"
	"github.com/imrishuroy/textile-storefront/internal/auth"
	"github.com/imrishuroy/textile-storefront/internal/catalog"
	"github.com/imrishuroy/textile-storefront/internal/checkout"
	"github.com/imrishuroy/textile-storefront/internal/dynamotest"
	"github.com/imrishuroy/textile-storefront/internal/idempotency"
	"github.com/imrishuroy/textile-storefront/internal/invoice"
	"github.com/imrishuroy/textile-storefront/internal/orders"
	"github.com/imrishuroy/textile-storefront/internal/pagination"
	"github.com/imrishuroy/textile-storefront/internal/payment"
	"github.com/imrishuroy/textile-storefront/internal/promo"
	"github.com/imrishuroy/textile-storefront/internal/users"
)

type stubGateway struct{ calls int }

func (g *stubGateway) CreateSession(_ context.Context, req payment.SessionRequest) (*payment.Session, error) {
	g.calls++
	return &payment.Session{ID: "cs_" + req.OrderID, URL: "https://pay.example/" + req.OrderID}, nil
}

type stubScheduler struct{}

func (stubScheduler) ScheduleExpiry(context.Context, string, time.Time) error { return nil }

type stubRenderer struct{}

func (stubRenderer) Render(context.Context, string) ([]byte, error) { return []byte("%PDF-1.7 test"), nil }

type testAPI struct {
	router     *gin.Engine
	catalog    *catalog.Store
	gateway    *stubGateway
	tokens     *auth.Tokens
	adminToken string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	fake := dynamotest.New().
		CreateTable("products", "product_id").
		CreateTable("users", "user_id").
		CreateTable("orders", "order_id").
		CreateTable("idempotency", "idempotency_key")

	catalogStore := catalog.NewStore(fake, "products", nil, logger)
	userStore := users.NewStore(fake, "users")
	orderStore := orders.NewStore(fake, "orders", "user_id-index")
	tokens := auth.NewTokens("test-secret", time.Hour)
	authSvc := auth.NewService(userStore, tokens, auth.NewHasher(4), "admin@shop.test", "admin-pass-1", logger)
	promos := promo.NewBook(map[string]int{"SAVE10": 10})
	gateway := &stubGateway{}

	checkoutSvc := checkout.NewService(checkout.Deps{
		DynamoDB:  fake,
		Catalog:   catalogStore,
		Orders:    orderStore,
		Users:     userStore,
		Promos:    promos,
		Gateway:   gateway,
		Scheduler: stubScheduler{},
		Logger:    logger,
	}, checkout.Options{DeliveryFee: decimal.NewFromInt(2), ReservationTTL: 30 * time.Minute})

	invoices := invoice.NewService(
		invoice.NewAssembler(orderStore, userStore, catalogStore, decimal.NewFromInt(2)),
		stubRenderer{}, nil, logger)

	r := gin.New()
	RegisterRoutes(r, HandlerConfig{
		Catalog:     catalogStore,
		Users:       userStore,
		Auth:        authSvc,
		Checkout:    checkoutSvc,
		Idempotency: idempotency.NewStore(fake, "idempotency", time.Hour),
		Invoices:    invoices,
		Promos:      promos,
		Logger:      logger,
	})

	adminToken, err := tokens.Issue(auth.AdminSubject, auth.RoleAdmin)
	require.NoError(t, err)
	return &testAPI{router: r, catalog: catalogStore, gateway: gateway, tokens: tokens, adminToken: adminToken}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Code    apierr.Kind     `json:"code"`
	Data    json.RawMessage `json:"data"`
	Details json.RawMessage `json:"details"`
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any, headers ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(auth.TokenHeader, token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	var env envelope
	if w.Header().Get("Content-Type") != "application/pdf" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

// topLevel decodes the top-level keys of a JSON response.
func topLevel(t *testing.T, w *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m), w.Body.String())
	return m
}

func keysOf(m map[string]json.RawMessage) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (a *testAPI) registerUser(t *testing.T, email string) string {
	t.Helper()
	w, env := a.do(t, http.MethodPost, "/api/user/register", "", gin.H{"name": "Meera", "email": email, "password": "password1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var data struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return data.Token
}

func (a *testAPI) addProduct(t *testing.T, stock int) string {
	t.Helper()
	w, env := a.do(t, http.MethodPost, "/api/textile/add", a.adminToken, gin.H{
		"name": "Cotton Kurta", "category": "Cotton", "price": 100, "stock": stock,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var p catalog.Product
	require.NoError(t, json.Unmarshal(env.Data, &p))
	return p.ID
}

func TestHealthAndNoRoute(t *testing.T) {
	a := newTestAPI(t)
	w, env := a.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)

	w, env = a.do(t, http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apierr.KindNotFound, env.Code)
}

func TestTextileRoutes(t *testing.T) {
	a := newTestAPI(t)
	userToken := a.registerUser(t, "meera@example.com")

	w, env := a.do(t, http.MethodPost, "/api/textile/add", userToken, gin.H{"name": "X", "category": "Y", "price": 1})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, apierr.KindForbidden, env.Code)

	id := a.addProduct(t, 5)

	w, env = a.do(t, http.MethodGet, "/api/textile/list?category=Cotton&sortBy=price&limit=10", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	listed := topLevel(t, w)
	assert.Equal(t, []string{"data", "pagination", "success"}, keysOf(listed))
	var products []catalog.Product
	require.NoError(t, json.Unmarshal(env.Data, &products))
	require.Len(t, products, 1)
	var meta pagination.Meta
	require.NoError(t, json.Unmarshal(listed["pagination"], &meta))
	assert.Equal(t, 1, meta.Total)

	w, _ = a.do(t, http.MethodGet, "/api/textile/list?category=Silk", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, string(topLevel(t, w)["data"]))

	w, _ = a.do(t, http.MethodGet, "/api/textile/list?sortBy=colour", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = a.do(t, http.MethodPost, "/api/textile/adjust-stock", a.adminToken, gin.H{"id": id, "delta": -7})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apierr.KindInsufficientStock, env.Code)

	w, env = a.do(t, http.MethodPost, "/api/textile/adjust-stock", a.adminToken, gin.H{"id": id})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, string(env.Details), "delta")

	w, env = a.do(t, http.MethodPost, "/api/textile/adjust-stock", a.adminToken, gin.H{"id": id, "set": 12})
	require.Equal(t, http.StatusOK, w.Code)
	var p catalog.Product
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, 12, p.Stock)
	assert.Equal(t, 12, p.Available)

	w, _ = a.do(t, http.MethodDelete, "/api/textile/remove", a.adminToken, gin.H{"id": id})
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = a.do(t, http.MethodGet, "/api/textile/"+id, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPlaceOrder_IdempotentReplay(t *testing.T) {
	a := newTestAPI(t)
	token := a.registerUser(t, "meera@example.com")
	id := a.addProduct(t, 5)

	w, _ := a.do(t, http.MethodPost, "/api/cart/add", token, gin.H{"itemId": id})
	require.Equal(t, http.StatusOK, w.Code)

	body := gin.H{
		"items":   []gin.H{{"_id": id, "quantity": 3}},
		"amount":  302,
		"address": gin.H{"city": "Surat"},
	}
	w, env := a.do(t, http.MethodPost, "/api/order/place", token, body, IdempotencyHeader, "key-1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"amount", "message", "orderId", "reservationExpiresAt", "session_url", "success"}, keysOf(topLevel(t, w)))
	var first checkout.PlaceOrderResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	assert.Equal(t, "https://pay.example/"+first.OrderID, first.SessionURL)

	w, _ = a.do(t, http.MethodPost, "/api/order/place", token, body, IdempotencyHeader, "key-1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "true", w.Header().Get(ReplayedHeader))
	var second checkout.PlaceOrderResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, first.SessionURL, second.SessionURL)
	assert.Equal(t, 1, a.gateway.calls)

	body["amount"] = 202
	w, env = a.do(t, http.MethodPost, "/api/order/place", token, body, IdempotencyHeader, "key-1")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apierr.KindConflict, env.Code)

	p, err := a.catalog.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 5, p.Stock)
	assert.Equal(t, 2, p.Available)

	w, env = a.do(t, http.MethodGet, "/api/cart/get", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"cartData":{}}`, string(env.Data))

	w, env = a.do(t, http.MethodPost, "/api/order/verify", token, gin.H{"orderId": first.OrderID, "success": "true"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, env.Success)
	assert.Equal(t, "Paid", env.Message)
	assert.JSONEq(t, `"`+first.OrderID+`"`, string(topLevel(t, w)["orderId"]))

	w, env = a.do(t, http.MethodPost, "/api/order/verify", token, gin.H{"orderId": first.OrderID, "success": "true"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)
	assert.JSONEq(t, `true`, string(topLevel(t, w)["alreadyPaid"]))

	w, env = a.do(t, http.MethodPost, "/api/order/userorders", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"data", "success"}, keysOf(topLevel(t, w)))
	var mine []orders.Order
	require.NoError(t, json.Unmarshal(env.Data, &mine))
	require.Len(t, mine, 1)
	assert.True(t, mine[0].Payment)

	w, _ = a.do(t, http.MethodGet, "/api/order/listorders", token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, env = a.do(t, http.MethodGet, "/api/order/listorders?userId=nobody", a.adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, string(env.Data))
	w, env = a.do(t, http.MethodGet, "/api/order/listorders", a.adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var all []orders.Order
	require.NoError(t, json.Unmarshal(env.Data, &all))
	assert.Len(t, all, 1)

	w, env = a.do(t, http.MethodPost, "/api/order/updatestatus", a.adminToken, gin.H{"orderId": first.OrderID, "status": "Shipped"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"message", "success"}, keysOf(topLevel(t, w)))
	assert.True(t, env.Success)
}

func TestVerifyOrder_FailedPaymentReportsFailure(t *testing.T) {
	a := newTestAPI(t)
	token := a.registerUser(t, "meera@example.com")
	id := a.addProduct(t, 5)

	w, _ := a.do(t, http.MethodPost, "/api/order/place", token, gin.H{
		"items":   []gin.H{{"_id": id, "quantity": 2}},
		"amount":  202,
		"address": gin.H{"city": "Surat"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var placed checkout.PlaceOrderResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &placed))

	w, env := a.do(t, http.MethodPost, "/api/order/verify", token, gin.H{"orderId": placed.OrderID, "success": "false"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.False(t, env.Success)
	assert.Equal(t, "Payment failed", env.Message)
	assert.Equal(t, []string{"message", "orderId", "success"}, keysOf(topLevel(t, w)))

	p, err := a.catalog.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 5, p.Available)

	w, env = a.do(t, http.MethodPost, "/api/order/userorders", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, string(env.Data))
}

func TestAdjustStock_CannotRemoveMoreThanOnHand(t *testing.T) {
	a := newTestAPI(t)
	id := a.addProduct(t, 3)

	w, env := a.do(t, http.MethodPost, "/api/textile/adjust-stock", a.adminToken, gin.H{"id": id, "delta": -10})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.False(t, env.Success)
	assert.Equal(t, apierr.KindInsufficientStock, env.Code)
	assert.True(t, strings.HasPrefix(env.Message, "Insufficient stock"), env.Message)

	p, err := a.catalog.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Stock)
	assert.Equal(t, 3, p.Available)

	w, env = a.do(t, http.MethodPost, "/api/textile/adjust-stock", a.adminToken, gin.H{"id": id, "delta": -2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var adjusted catalog.Product
	require.NoError(t, json.Unmarshal(env.Data, &adjusted))
	assert.Equal(t, 1, adjusted.Stock)
	assert.Equal(t, []string{"data", "message", "success"}, keysOf(topLevel(t, w)))
}

func TestAdjustStock_ExplainsHeldUnits(t *testing.T) {
	a := newTestAPI(t)
	token := a.registerUser(t, "meera@example.com")
	id := a.addProduct(t, 5)

	w, _ := a.do(t, http.MethodPost, "/api/order/place", token, gin.H{
		"items":   []gin.H{{"_id": id, "quantity": 3}},
		"amount":  302,
		"address": gin.H{"city": "Surat"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, env := a.do(t, http.MethodPost, "/api/textile/adjust-stock", a.adminToken, gin.H{"id": id, "delta": -4})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, env.Message, "held by pending checkouts")
	assert.JSONEq(t, `{"stock":5,"available":2,"held":3,"requested":4}`, string(env.Details))
}

func TestPlaceOrder_InsufficientStock(t *testing.T) {
	a := newTestAPI(t)
	token := a.registerUser(t, "meera@example.com")
	id := a.addProduct(t, 5)

	w, env := a.do(t, http.MethodPost, "/api/order/place", token, gin.H{
		"items":   []gin.H{{"_id": id, "quantity": 6}},
		"amount":  602,
		"address": gin.H{"city": "Surat"},
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.False(t, env.Success)
	assert.Equal(t, apierr.KindInsufficientStock, env.Code)

	var issues []checkout.Issue
	require.NoError(t, json.Unmarshal(env.Details, &issues))
	require.Len(t, issues, 1)
	assert.Equal(t, 5, issues[0].Available)
	assert.Equal(t, 6, issues[0].Requested)
	assert.Zero(t, a.gateway.calls)

	w, _ = a.do(t, http.MethodPost, "/api/order/place", "", gin.H{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestInvoiceRoutes(t *testing.T) {
	a := newTestAPI(t)
	token := a.registerUser(t, "meera@example.com")
	other := a.registerUser(t, "other@example.com")
	id := a.addProduct(t, 5)

	w, env := a.do(t, http.MethodPost, "/api/order/place", token, gin.H{
		"items":   []gin.H{{"_id": id, "quantity": 1}},
		"amount":  102,
		"address": gin.H{"city": "Surat"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res checkout.PlaceOrderResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))

	w, env = a.do(t, http.MethodGet, "/api/invoice/data/"+res.OrderID, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var data invoice.Data
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, 102.0, data.Breakdown.GrandTotal)

	w, _ = a.do(t, http.MethodGet, "/api/invoice/data/"+res.OrderID, other, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = a.do(t, http.MethodPost, "/api/invoice/generate/"+res.OrderID, token, gin.H{"htmlContent": "<p>hi</p>"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "invoice-"+res.OrderID+".pdf")

	w, env = a.do(t, http.MethodGet, "/api/invoice/generate/"+res.OrderID+"?store=true", a.adminToken, nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, apierr.KindUpstream, env.Code)
}

func TestUserAndAdminRoutes(t *testing.T) {
	a := newTestAPI(t)
	token := a.registerUser(t, "meera@example.com")

	w, env := a.do(t, http.MethodPost, "/api/user/register", "", gin.H{"name": "Meera", "email": "meera@example.com", "password": "password1"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apierr.KindConflict, env.Code)

	w, _ = a.do(t, http.MethodPost, "/api/user/login", "", gin.H{"email": "meera@example.com", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, env = a.do(t, http.MethodPut, "/api/user/profile", token, gin.H{"phone": "+91 90000 00000"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var u users.User
	require.NoError(t, json.Unmarshal(env.Data, &u))
	assert.Equal(t, "+91 90000 00000", u.Phone)
	assert.NotContains(t, string(env.Data), "password")

	w, env = a.do(t, http.MethodPost, "/api/admin/login", "", gin.H{"username": "admin@shop.test", "password": "admin-pass-1"})
	require.Equal(t, http.StatusOK, w.Code)
	var tok struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &tok))

	w, _ = a.do(t, http.MethodGet, "/api/admin/verify", tok.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = a.do(t, http.MethodGet, "/api/user/all?search=meera", tok.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), "meera@example.com")

	w, env = a.do(t, http.MethodGet, "/api/user/stats", tok.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st users.Stats
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, 1, st.TotalUsers)

	w, env = a.do(t, http.MethodPost, "/api/promo/validate", token, gin.H{"code": "save10"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"code":"SAVE10","discount":10}`, string(env.Data))
	w, _ = a.do(t, http.MethodPost, "/api/promo/validate", token, gin.H{"code": "NOPE"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
