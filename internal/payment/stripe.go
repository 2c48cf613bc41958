package payment

import (
	"context"
	"fmt"
	"net/url"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// DeliveryLineName labels the delivery fee row.
const DeliveryLineName = "Delivery Charges"

type sessionCreator interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type couponCreator interface {
	New(params *stripe.CouponParams) (*stripe.Coupon, error)
}

// Stripe opens Stripe Checkout sessions in payment mode.
type Stripe struct {
	sessions    sessionCreator
	coupons     couponCreator
	currency    string
	multiplier  decimal.Decimal
	frontendURL string
}

// NewStripe builds a gateway for secretKey. Unit amounts sent to Stripe are
// price * 100 * multiplier in the smallest unit of currency.
func NewStripe(secretKey, currency string, multiplier int64, frontendURL string) *Stripe {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return newStripe(sc.CheckoutSessions, sc.Coupons, currency, multiplier, frontendURL)
}

func newStripe(sessions sessionCreator, coupons couponCreator, currency string, multiplier int64, frontendURL string) *Stripe {
	return &Stripe{
		sessions:    sessions,
		coupons:     coupons,
		currency:    currency,
		multiplier:  decimal.NewFromInt(multiplier),
		frontendURL: frontendURL,
	}
}

// MinorUnits converts a major-unit amount into what Stripe charges.
func (s *Stripe) MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Mul(s.multiplier).Round(0).IntPart()
}

func (s *Stripe) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(s.returnURL(true, req.OrderID)),
		CancelURL:         stripe.String(s.returnURL(false, req.OrderID)),
		ClientReferenceID: stripe.String(req.OrderID),
	}
	params.Context = ctx
	params.AddMetadata("order_id", req.OrderID)

	for _, l := range req.Lines {
		params.LineItems = append(params.LineItems, s.lineItem(l.Name, l.UnitPrice, l.Quantity))
	}
	if req.DeliveryFee.IsPositive() {
		params.LineItems = append(params.LineItems, s.lineItem(DeliveryLineName, req.DeliveryFee, 1))
	}

	if req.Discount.IsPositive() {
		couponParams := &stripe.CouponParams{
			AmountOff: stripe.Int64(s.MinorUnits(req.Discount)),
			Currency:  stripe.String(s.currency),
			Duration:  stripe.String(string(stripe.CouponDurationOnce)),
			Name:      stripe.String("Order discount"),
		}
		couponParams.Context = ctx
		coupon, err := s.coupons.New(couponParams)
		if err != nil {
			return nil, fmt.Errorf("create discount coupon: %w", err)
		}
		params.Discounts = []*stripe.CheckoutSessionDiscountParams{{Coupon: stripe.String(coupon.ID)}}
	}

	sess, err := s.sessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &Session{ID: sess.ID, URL: sess.URL}, nil
}

func (s *Stripe) lineItem(name string, price decimal.Decimal, qty int64) *stripe.CheckoutSessionLineItemParams {
	return &stripe.CheckoutSessionLineItemParams{
		PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency: stripe.String(s.currency),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(name),
			},
			UnitAmount: stripe.Int64(s.MinorUnits(price)),
		},
		Quantity: stripe.Int64(qty),
	}
}

func (s *Stripe) returnURL(success bool, orderID string) string {
	return fmt.Sprintf("%s/verify?success=%t&orderId=%s", s.frontendURL, success, url.QueryEscape(orderID))
}
