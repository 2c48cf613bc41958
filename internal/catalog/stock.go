package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/textile-storefront/internal/aws"
)

const setStockAttempts = 3

// AdjustStock applies an admin stock change and returns the updated product.
//
// A positive delta adds units to both counters. A negative delta only removes
// units that are not held by pending orders. Set replaces the on-hand count
// while keeping held units intact, using a compare-and-swap on the values it
// read.
func (s *Store) AdjustStock(ctx context.Context, id string, adj Adjustment) (*Product, error) {
	if (adj.Delta == nil) == (adj.Set == nil) {
		return nil, ErrInvalidAdjustment
	}
	if adj.Set != nil {
		return s.setStock(ctx, id, *adj.Set)
	}

	d := *adj.Delta
	if d == 0 {
		p, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, ErrNotFound
		}
		return p, nil
	}

	cond := "attribute_exists(product_id)"
	values := map[string]types.AttributeValue{
		":d":   aws.N(d),
		":now": aws.S(s.now()),
	}
	if d < 0 {
		cond += " AND available >= :need"
		values[":need"] = aws.N(-d)
	}
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       productKey(id),
		UpdateExpression:          aws.String("SET stock = stock + :d, available = available + :d, updated_at = :now"),
		ConditionExpression:       aws.String(cond),
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		if aws.IsConditionFailed(err) {
			return nil, s.classifyDeltaFailure(ctx, id, -d)
		}
		return nil, fmt.Errorf("adjust stock: %w", err)
	}
	s.Invalidate(ctx)
	return unmarshalProduct(out.Attributes)
}

func (s *Store) setStock(ctx context.Context, id string, target int) (*Product, error) {
	if target < 0 {
		return nil, ErrNegativeStock
	}
	for attempt := 0; attempt < setStockAttempts; attempt++ {
		p, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, ErrNotFound
		}
		held := p.Reserved()
		if target < held {
			return nil, ErrHeldStock
		}
		out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
			TableName:           &s.tableName,
			Key:                 productKey(id),
			UpdateExpression:    aws.String("SET stock = :target, available = :avail, updated_at = :now"),
			ConditionExpression: aws.String("stock = :stock AND available = :available"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":target":    aws.N(target),
				":avail":     aws.N(target - held),
				":stock":     aws.N(p.Stock),
				":available": aws.N(p.Available),
				":now":       aws.S(s.now()),
			},
			ReturnValues: types.ReturnValueAllNew,
		})
		if err == nil {
			s.Invalidate(ctx)
			return unmarshalProduct(out.Attributes)
		}
		if !aws.IsConditionFailed(err) {
			return nil, fmt.Errorf("set stock: %w", err)
		}
		s.log.InfoContext(ctx, "stock changed during set, retrying", "product_id", id, "attempt", attempt+1)
	}
	return nil, ErrConcurrentUpdate
}

// classifyDeltaFailure tells a missing product apart from a shortage after a
// conditional update was rejected.
func (s *Store) classifyDeltaFailure(ctx context.Context, id string, requested int) error {
	p, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if p == nil {
		return ErrNotFound
	}
	return &StockShortage{Stock: p.Stock, Available: p.Available, Held: p.Reserved(), Requested: requested}
}

// ReserveItem holds qty units for an unpaid order.
func (s *Store) ReserveItem(id string, qty int, now time.Time) types.TransactWriteItem {
	return s.counterUpdate(id, "SET available = available - :q, updated_at = :now", "available >= :q", qty, now)
}

// ReleaseItem returns qty held units to the available pool.
func (s *Store) ReleaseItem(id string, qty int, now time.Time) types.TransactWriteItem {
	return s.counterUpdate(id, "SET available = available + :q, updated_at = :now", "attribute_exists(product_id)", qty, now)
}

// CommitItem removes qty units from stock for a paid order. When the order's
// reservation was already released the units are taken from available too.
func (s *Store) CommitItem(id string, qty int, fromAvailable bool, now time.Time) types.TransactWriteItem {
	if fromAvailable {
		return s.counterUpdate(id,
			"SET stock = stock - :q, available = available - :q, updated_at = :now",
			"stock >= :q AND available >= :q", qty, now)
	}
	return s.counterUpdate(id, "SET stock = stock - :q, updated_at = :now", "stock >= :q", qty, now)
}

func (s *Store) counterUpdate(id, update, cond string, qty int, now time.Time) types.TransactWriteItem {
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:           &s.tableName,
			Key:                 productKey(id),
			UpdateExpression:    aws.String(update),
			ConditionExpression: aws.String(cond),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":q":   aws.N(qty),
				":now": aws.S(now.UTC().Format(time.RFC3339Nano)),
			},
		},
	}
}

func (s *Store) now() string {
	return s.nowFunc().UTC().Format(time.RFC3339Nano)
}

func unmarshalProduct(item map[string]types.AttributeValue) (*Product, error) {
	if len(item) == 0 {
		return nil, errors.New("empty product item")
	}
	var p Product
	if err := attributevalue.UnmarshalMap(item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	return &p, nil
}
