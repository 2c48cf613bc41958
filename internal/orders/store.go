package orders

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/textile-storefront/internal/aws"
)

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	userIndex string
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store. userIndex is the GSI keyed on user_id.
func NewStore(client aws.DynamoDBAPI, tableName, userIndex string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		userIndex: userIndex,
		nowFunc:   time.Now,
	}
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            orderKey(orderID),
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// ListByUser returns a user's orders, oldest first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	var (
		out      []Order
		startKey map[string]types.AttributeValue
	)
	for {
		res, err := s.client.Query(ctx, &dyn.QueryInput{
			TableName:                 &s.tableName,
			IndexName:                 &s.userIndex,
			KeyConditionExpression:    aws.String("user_id = :u"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":u": aws.S(userID)},
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("query orders: %w", err)
		}
		var page []Order
		if err := attributevalue.UnmarshalListOfMaps(res.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal orders: %w", err)
		}
		out = append(out, page...)
		if len(res.LastEvaluatedKey) == 0 {
			break
		}
		startKey = res.LastEvaluatedKey
	}
	sortByCreated(out)
	return out, nil
}

// List returns every order, or only userID's when userID is set.
func (s *Store) List(ctx context.Context, userID string) ([]Order, error) {
	if userID != "" {
		return s.ListByUser(ctx, userID)
	}
	var (
		out      []Order
		startKey map[string]types.AttributeValue
	)
	for {
		res, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:         &s.tableName,
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scan orders: %w", err)
		}
		var page []Order
		if err := attributevalue.UnmarshalListOfMaps(res.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal orders: %w", err)
		}
		out = append(out, page...)
		if len(res.LastEvaluatedKey) == 0 {
			break
		}
		startKey = res.LastEvaluatedKey
	}
	sortByCreated(out)
	return out, nil
}

// UpdateStatus sets the workflow label. Returns ErrNotFound if the order does
// not exist.
func (s *Store) UpdateStatus(ctx context.Context, orderID, status string) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      orderKey(orderID),
		UpdateExpression:         aws.String("SET #s = :new, updated_at = :ua"),
		ConditionExpression:      aws.String("attribute_exists(order_id)"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new": aws.S(status),
			":ua":  aws.S(s.stamp(s.nowFunc())),
		},
	})
	if err != nil {
		if aws.IsConditionFailed(err) {
			return ErrNotFound
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// SetSession records the payment session id on a pending order.
func (s *Store) SetSession(ctx context.Context, orderID, sessionID string) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 orderKey(orderID),
		UpdateExpression:    aws.String("SET session_id = :sid, updated_at = :ua"),
		ConditionExpression: aws.String("attribute_exists(order_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sid": aws.S(sessionID),
			":ua":  aws.S(s.stamp(s.nowFunc())),
		},
	})
	if err != nil {
		if aws.IsConditionFailed(err) {
			return ErrNotFound
		}
		return fmt.Errorf("set session: %w", err)
	}
	return nil
}

// Delete removes an order. Returns ErrNotFound if it does not exist.
func (s *Store) Delete(ctx context.Context, orderID string) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName:           &s.tableName,
		Key:                 orderKey(orderID),
		ConditionExpression: aws.String("attribute_exists(order_id)"),
	})
	if err != nil {
		if aws.IsConditionFailed(err) {
			return ErrNotFound
		}
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

// PutNewItem inserts o inside a transaction.
func (s *Store) PutNewItem(o Order) (types.TransactWriteItem, error) {
	item, err := attributevalue.MarshalMap(o)
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal order: %w", err)
	}
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:           &s.tableName,
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(order_id)"),
		},
	}, nil
}

// MarkPaidItem flips an unpaid order to paid and committed, guarded on the
// reservation state read beforehand. shortfall lists products whose units
// could not be taken from stock.
func (s *Store) MarkPaidItem(orderID, reservation string, shortfall []string, now time.Time) types.TransactWriteItem {
	update := "SET payment = :t, reservation = :committed, updated_at = :ua"
	values := map[string]types.AttributeValue{
		":t":         aws.Bool(true),
		":f":         aws.Bool(false),
		":r":         aws.S(reservation),
		":committed": aws.S(ReservationCommitted),
		":ua":        aws.S(s.stamp(now)),
	}
	if len(shortfall) > 0 {
		update += ", shortfall = :sf"
		values[":sf"] = &types.AttributeValueMemberSS{Value: shortfall}
	}
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:                 &s.tableName,
			Key:                       orderKey(orderID),
			UpdateExpression:          aws.String(update),
			ConditionExpression:       aws.String("payment = :f AND reservation = :r"),
			ExpressionAttributeValues: values,
		},
	}
}

// ReleaseItem marks a held reservation as released.
func (s *Store) ReleaseItem(orderID string, now time.Time) types.TransactWriteItem {
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:           &s.tableName,
			Key:                 orderKey(orderID),
			UpdateExpression:    aws.String("SET reservation = :released, updated_at = :ua"),
			ConditionExpression: aws.String("payment = :f AND reservation = :held"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":f":        aws.Bool(false),
				":held":     aws.S(ReservationHeld),
				":released": aws.S(ReservationReleased),
				":ua":       aws.S(s.stamp(now)),
			},
		},
	}
}

// DeleteItem removes an order inside a transaction, guarded on the
// reservation state read beforehand.
func (s *Store) DeleteItem(orderID, reservation string) types.TransactWriteItem {
	return types.TransactWriteItem{
		Delete: &types.Delete{
			TableName:                 &s.tableName,
			Key:                       orderKey(orderID),
			ConditionExpression:       aws.String("reservation = :r"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":r": aws.S(reservation)},
		},
	}
}

func (s *Store) stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func orderKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"order_id": aws.S(id)}
}

func sortByCreated(o []Order) {
	sort.SliceStable(o, func(i, j int) bool { return o[i].CreatedAt.Before(o[j].CreatedAt) })
}

func boolPtr(b bool) *bool { return &b }
