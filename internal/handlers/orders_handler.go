package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/textile-storefront/internal/apierr"
	"github.com/imrishuroy/textile-storefront/internal/auth"
	"github.com/imrishuroy/textile-storefront/internal/checkout"
	"github.com/imrishuroy/textile-storefront/internal/idempotency"
	"github.com/imrishuroy/textile-storefront/internal/orders"
	"github.com/imrishuroy/textile-storefront/internal/validation"
)

// IdempotencyHeader lets clients retry order placement safely.
const IdempotencyHeader = "Idempotency-Key"

// ReplayedHeader is set on responses served from a stored idempotent result.
const ReplayedHeader = "Idempotent-Replayed"

func (a *api) registerOrderRoutes(g *gin.RouterGroup) {
	g.POST("/place", a.user, a.placeOrder)
	g.POST("/verify", a.user, a.verifyOrder)
	g.POST("/userorders", a.user, a.userOrders)
	g.GET("/listorders", a.admin, a.listOrders)
	g.POST("/updatestatus", a.admin, a.updateStatus)
}

func (a *api) placeOrder(c *gin.Context) {
	ctx := c.Request.Context()

	var req validation.PlaceOrderRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	userID := auth.UserID(c)
	in := checkout.PlaceOrderInput{
		UserID:    userID,
		Address:   req.Address,
		Amount:    req.Amount,
		PromoCode: req.PromoCode,
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, checkout.LineRequest{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	idempKey := c.GetHeader(IdempotencyHeader)
	if idempKey == "" || a.Idempotency == nil {
		res, err := a.Checkout.PlaceOrder(ctx, in)
		if err != nil {
			apierr.Abort(c, err)
			return
		}
		apierr.Fields(c, http.StatusOK, "order placed", placedFields(res))
		return
	}

	key := idempotency.ScopedKey(userID, idempKey)
	rec, owned, err := a.Idempotency.Begin(ctx, key, fingerprint(req))
	switch {
	case errors.Is(err, idempotency.ErrFingerprintMismatch):
		apierr.Abort(c, apierr.Conflict("idempotency key was already used for a different request"))
		return
	case err != nil:
		apierr.Abort(c, fmt.Errorf("idempotency check: %w", err))
		return
	}
	if !owned {
		a.replay(c, rec)
		return
	}

	res, err := a.Checkout.PlaceOrder(ctx, in)
	if err != nil {
		if merr := a.Idempotency.MarkFailed(ctx, key, err.Error()); merr != nil {
			a.log.WarnContext(ctx, "mark idempotency key failed", "idempotency_key", idempKey, "error", merr)
		}
		apierr.Abort(c, err)
		return
	}

	body, err := json.Marshal(apierr.Body(true, "order placed", placedFields(res)))
	if err != nil {
		apierr.Abort(c, fmt.Errorf("marshal response: %w", err))
		return
	}
	if err := a.Idempotency.MarkDone(ctx, key, res.OrderID, string(body), http.StatusOK); err != nil {
		a.log.WarnContext(ctx, "store idempotent response failed", "order_id", res.OrderID, "error", err)
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

// replay answers a request whose key was claimed earlier.
func (a *api) replay(c *gin.Context, rec *idempotency.Record) {
	switch rec.Status {
	case idempotency.StatusDone:
		c.Header(ReplayedHeader, "true")
		if rec.ResponseBody != "" {
			c.Data(rec.ResponseStatus, "application/json; charset=utf-8", []byte(rec.ResponseBody))
			return
		}
		apierr.Fields(c, http.StatusOK, "order placed", gin.H{"orderId": rec.OrderID})
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, apierr.Envelope{Success: false, Message: "request already in progress"})
	default:
		apierr.Abort(c, fmt.Errorf("unknown idempotency status %q", rec.Status))
	}
}

// placedFields is the place-order body: the shopper is redirected to session_url.
func placedFields(res *checkout.PlaceOrderResult) gin.H {
	return gin.H{
		"session_url":          res.SessionURL,
		"orderId":              res.OrderID,
		"amount":               res.Total,
		"reservationExpiresAt": res.ExpiresAt,
	}
}

func fingerprint(req validation.PlaceOrderRequest) string {
	raw, _ := json.Marshal(req)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func (a *api) verifyOrder(c *gin.Context) {
	var req validation.VerifyRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	res, err := a.Checkout.ConfirmPayment(c.Request.Context(), req.OrderID, bool(req.Success))
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	if !res.Paid {
		c.JSON(http.StatusOK, apierr.Body(false, "Payment failed", gin.H{"orderId": res.OrderID}))
		return
	}
	fields := gin.H{"orderId": res.OrderID, "alreadyPaid": res.AlreadyPaid}
	if len(res.Shortfall) > 0 {
		fields["shortfall"] = res.Shortfall
	}
	apierr.Fields(c, http.StatusOK, "Paid", fields)
}

func (a *api) userOrders(c *gin.Context) {
	list, err := a.Checkout.UserOrders(c.Request.Context(), auth.UserID(c))
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	apierr.Fields(c, http.StatusOK, "", gin.H{"data": orderList(list)})
}

func (a *api) listOrders(c *gin.Context) {
	list, err := a.Checkout.ListOrders(c.Request.Context(), c.Query("userId"))
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	apierr.Fields(c, http.StatusOK, "", gin.H{"data": orderList(list)})
}

func (a *api) updateStatus(c *gin.Context) {
	var req validation.UpdateStatusRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	if err := a.Checkout.UpdateStatus(c.Request.Context(), req.OrderID, req.Status); err != nil {
		apierr.Abort(c, err)
		return
	}
	apierr.Fields(c, http.StatusOK, "Status Updated", nil)
}

func orderList(list []orders.Order) []orders.Order {
	if list == nil {
		return []orders.Order{}
	}
	return list
}
