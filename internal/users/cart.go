package users

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/textile-storefront/internal/aws"
)

// AddToCart increments the quantity of productID by one.
func (s *Store) AddToCart(ctx context.Context, userID, productID string) (map[string]int, error) {
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      userKey(userID),
		UpdateExpression:         aws.String("SET #cart.#pid = if_not_exists(#cart.#pid, :zero) + :one, updated_at = :now"),
		ConditionExpression:      aws.String("attribute_exists(user_id) AND attribute_exists(#cart)"),
		ExpressionAttributeNames: map[string]string{"#cart": "cart", "#pid": productID},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": aws.N(0),
			":one":  aws.N(1),
			":now":  aws.S(s.stamp()),
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		if aws.IsConditionFailed(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("add to cart: %w", err)
	}
	return cartFrom(out.Attributes)
}

// RemoveFromCart decrements the quantity of productID by one. Quantities never
// go below zero and entries that reach zero are dropped.
func (s *Store) RemoveFromCart(ctx context.Context, userID, productID string) (map[string]int, error) {
	names := map[string]string{"#cart": "cart", "#pid": productID}
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       userKey(userID),
		UpdateExpression:          aws.String("SET #cart.#pid = #cart.#pid - :one, updated_at = :now"),
		ConditionExpression:       aws.String("#cart.#pid > :zero"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: map[string]types.AttributeValue{":zero": aws.N(0), ":one": aws.N(1), ":now": aws.S(s.stamp())},
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		if !aws.IsConditionFailed(err) {
			return nil, fmt.Errorf("remove from cart: %w", err)
		}
		// Not in the cart: report the current cart unchanged.
		return s.GetCart(ctx, userID)
	}
	cart, err := cartFrom(out.Attributes)
	if err != nil {
		return nil, err
	}
	if _, still := cart[productID]; still {
		return cart, nil
	}

	_, err = s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       userKey(userID),
		UpdateExpression:          aws.String("REMOVE #cart.#pid"),
		ConditionExpression:       aws.String("#cart.#pid = :zero"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: map[string]types.AttributeValue{":zero": aws.N(0)},
	})
	if err != nil && !aws.IsConditionFailed(err) {
		return nil, fmt.Errorf("drop cart entry: %w", err)
	}
	return cart, nil
}

// GetCart returns the non-empty cart entries of a user.
func (s *Store) GetCart(ctx context.Context, userID string) (map[string]int, error) {
	u, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrNotFound
	}
	return u.Cart, nil
}

// ClearCartItem empties the cart as part of a checkout transaction.
func (s *Store) ClearCartItem(userID string) types.TransactWriteItem {
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:                 &s.tableName,
			Key:                       userKey(userID),
			UpdateExpression:          aws.String("SET cart = :empty"),
			ConditionExpression:       aws.String("attribute_exists(user_id)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":empty": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{}}},
		},
	}
}

// RestoreCart adds the lines of a cart that checkout cleared back onto the
// current cart, so entries added in the meantime are kept.
func (s *Store) RestoreCart(ctx context.Context, userID string, cart map[string]int) error {
	ids := make([]string, 0, len(cart))
	for id, q := range cart {
		if q > 0 {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	sort.Strings(ids)

	names := map[string]string{"#cart": "cart"}
	values := map[string]types.AttributeValue{":zero": aws.N(0), ":now": aws.S(s.stamp())}
	sets := make([]string, 0, len(ids)+1)
	for i, id := range ids {
		p, q := fmt.Sprintf("#p%d", i), fmt.Sprintf(":q%d", i)
		names[p] = id
		values[q] = aws.N(cart[id])
		sets = append(sets, fmt.Sprintf("#cart.%s = if_not_exists(#cart.%s, :zero) + %s", p, p, q))
	}
	sets = append(sets, "updated_at = :now")

	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       userKey(userID),
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ConditionExpression:       aws.String("attribute_exists(user_id) AND attribute_exists(#cart)"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		if aws.IsConditionFailed(err) {
			return ErrNotFound
		}
		return fmt.Errorf("restore cart: %w", err)
	}
	return nil
}

func cartFrom(item map[string]types.AttributeValue) (map[string]int, error) {
	var u struct {
		Cart map[string]int `dynamodbav:"cart"`
	}
	if err := attributevalue.UnmarshalMap(item, &u); err != nil {
		return nil, fmt.Errorf("unmarshal cart: %w", err)
	}
	return compactCart(u.Cart), nil
}

func compactCart(cart map[string]int) map[string]int {
	out := make(map[string]int, len(cart))
	for id, q := range cart {
		if q > 0 {
			out[id] = q
		}
	}
	return out
}
