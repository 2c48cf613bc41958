package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/textile-storefront/internal/apierr"
	"github.com/imrishuroy/textile-storefront/internal/aws"
	"github.com/imrishuroy/textile-storefront/internal/orders"
)

const conditionFailed = "ConditionalCheckFailed"

// errOrderChanged means the order row moved between our read and the write.
var errOrderChanged = errors.New("order changed concurrently")

// ConfirmPayment records the outcome of a payment session. On success the
// order's units leave stock exactly once; on failure the order is removed and
// any held units return to the available pool.
func (s *Service) ConfirmPayment(ctx context.Context, orderID string, success bool) (*ConfirmResult, error) {
	if orderID == "" {
		return nil, apierr.Validation("orderId is required")
	}
	for attempt := 0; attempt < settleAttempts; attempt++ {
		order, err := s.orders.Get(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if order == nil {
			return nil, apierr.NotFound("order not found")
		}

		var res *ConfirmResult
		if success {
			res, err = s.settle(ctx, order)
		} else {
			res, err = s.discard(ctx, order)
		}
		if errors.Is(err, errOrderChanged) {
			s.log.InfoContext(ctx, "order changed during confirmation, re-reading", "order_id", orderID, "attempt", attempt+1)
			continue
		}
		return res, err
	}
	return nil, apierr.Conflict("order is being updated, please retry")
}

// settle commits a paid order's units. Lines that no longer fit in stock are
// recorded as a shortfall on the order and raised to operators.
func (s *Service) settle(ctx context.Context, order *orders.Order) (*ConfirmResult, error) {
	if order.Payment {
		s.log.InfoContext(ctx, "payment already confirmed", "order_id", order.ID)
		return &ConfirmResult{OrderID: order.ID, Paid: true, AlreadyPaid: true}, nil
	}
	fromAvailable := order.Reservation == orders.ReservationReleased
	now := s.nowFunc()

	missing := map[string]bool{}
	for attempt := 0; attempt < settleAttempts; attempt++ {
		var (
			shortfall []string
			lines     []orders.Item
		)
		for _, it := range order.Items {
			if missing[it.ProductID] {
				shortfall = append(shortfall, it.ProductID)
				continue
			}
			lines = append(lines, it)
		}

		tx := make([]types.TransactWriteItem, 0, len(lines)+1)
		tx = append(tx, s.orders.MarkPaidItem(order.ID, order.Reservation, shortfall, now))
		for _, it := range lines {
			tx = append(tx, s.catalog.CommitItem(it.ProductID, it.Quantity, fromAvailable, now))
		}

		_, err := s.dynamo.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: tx})
		if err == nil {
			s.catalog.Invalidate(ctx)
			if len(shortfall) > 0 {
				s.raiseShortfall(ctx, order.ID, shortfall)
			}
			s.log.InfoContext(ctx, "payment confirmed", "order_id", order.ID, "from_available", fromAvailable, "shortfall", len(shortfall))
			return &ConfirmResult{OrderID: order.ID, Paid: true, Shortfall: shortfall}, nil
		}

		codes, ok := aws.CancellationReasons(err)
		if !ok {
			return nil, fmt.Errorf("commit order: %w", err)
		}
		if len(codes) > 0 && codes[0] == conditionFailed {
			return nil, errOrderChanged
		}
		progressed := false
		for i, code := range codes {
			if i == 0 || i > len(lines) || code != conditionFailed {
				continue
			}
			missing[lines[i-1].ProductID] = true
			progressed = true
		}
		if !progressed {
			return nil, fmt.Errorf("commit order: %w", err)
		}
		s.log.WarnContext(ctx, "stock short while committing paid order", "order_id", order.ID, "attempt", attempt+1, "short_lines", len(missing))
	}
	return nil, fmt.Errorf("commit order %s: stock kept changing", order.ID)
}

// discard removes an order whose payment failed.
func (s *Service) discard(ctx context.Context, order *orders.Order) (*ConfirmResult, error) {
	res := &ConfirmResult{OrderID: order.ID}
	if order.Payment {
		s.log.WarnContext(ctx, "failure callback for a paid order, deleting it without restoring stock", "order_id", order.ID)
	}
	if order.Reservation != orders.ReservationHeld {
		err := s.orders.Delete(ctx, order.ID)
		if errors.Is(err, orders.ErrNotFound) {
			return res, nil
		}
		return res, err
	}

	err := s.returnUnits(ctx, order, s.orders.DeleteItem(order.ID, orders.ReservationHeld))
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "payment failed, order removed", "order_id", order.ID)
	return res, nil
}

// ReleaseExpired returns an unpaid order's held units to the available pool
// once its reservation has lapsed. The order itself is kept, so a late
// payment confirmation can still commit against available stock. When the
// reservation has not expired yet the remaining time is returned.
func (s *Service) ReleaseExpired(ctx context.Context, orderID string) (time.Duration, error) {
	for attempt := 0; attempt < settleAttempts; attempt++ {
		order, err := s.orders.Get(ctx, orderID)
		if err != nil {
			return 0, err
		}
		if order == nil || order.Payment || order.Reservation != orders.ReservationHeld {
			return 0, nil
		}
		if remaining := order.ReservationExpiresAt.Sub(s.nowFunc()); remaining > 0 {
			return remaining, nil
		}

		err = s.returnUnits(ctx, order, s.orders.ReleaseItem(order.ID, s.nowFunc()))
		if errors.Is(err, errOrderChanged) {
			continue
		}
		if err != nil {
			return 0, err
		}
		s.log.InfoContext(ctx, "reservation released", "order_id", order.ID, "lines", len(order.Items))
		return 0, nil
	}
	return 0, fmt.Errorf("release order %s: order kept changing", orderID)
}

// returnUnits adds the order's held units back to available together with
// orderItem in one transaction. Products deleted since checkout are skipped.
func (s *Service) returnUnits(ctx context.Context, order *orders.Order, orderItem types.TransactWriteItem) error {
	now := s.nowFunc()
	gone := map[string]bool{}
	for attempt := 0; attempt <= len(order.Items); attempt++ {
		var lines []orders.Item
		for _, it := range order.Items {
			if !gone[it.ProductID] {
				lines = append(lines, it)
			}
		}
		tx := make([]types.TransactWriteItem, 0, len(lines)+1)
		for _, it := range lines {
			tx = append(tx, s.catalog.ReleaseItem(it.ProductID, it.Quantity, now))
		}
		tx = append(tx, orderItem)

		_, err := s.dynamo.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: tx})
		if err == nil {
			s.catalog.Invalidate(ctx)
			return nil
		}
		codes, ok := aws.CancellationReasons(err)
		if !ok {
			return fmt.Errorf("release order: %w", err)
		}
		if len(codes) == len(tx) && codes[len(tx)-1] == conditionFailed {
			return errOrderChanged
		}
		progressed := false
		for i, code := range codes {
			if i < len(lines) && code == conditionFailed {
				s.log.WarnContext(ctx, "product gone, its held units are dropped", "order_id", order.ID, "product_id", lines[i].ProductID)
				gone[lines[i].ProductID] = true
				progressed = true
			}
		}
		if !progressed {
			return fmt.Errorf("release order: %w", err)
		}
	}
	return fmt.Errorf("release order %s: no products left to release", order.ID)
}

func (s *Service) raiseShortfall(ctx context.Context, orderID string, productIDs []string) {
	if s.alerter == nil {
		return
	}
	err := s.alerter.Raise(ctx, aws.Alert{
		Kind:       AlertStockShortfall,
		OrderID:    orderID,
		ProductIDs: productIDs,
		Detail:     "paid order could not take all of its units from stock",
	})
	if err != nil {
		s.log.ErrorContext(ctx, "raise shortfall alert failed", "order_id", orderID, "error", err)
	}
}
