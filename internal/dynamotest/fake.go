// Package dynamotest provides an in-memory stand-in for the DynamoDB client.
//
// It understands the expression subset used by the stores in this repository:
// conditions joined with AND built from comparisons (=, <>, <, <=, >, >=),
// attribute_exists and attribute_not_exists; update expressions with SET
// (plain values, a + b, a - b, if_not_exists) and REMOVE; one level of map
// nesting in paths (cart.#pid). Transactions are applied all-or-nothing.
package dynamotest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Fake is a goroutine-safe in-memory DynamoDB.
type Fake struct {
	mu     sync.Mutex
	keys   map[string][]string
	tables map[string]map[string]map[string]types.AttributeValue
	fail   map[string]error
	calls  map[string]int
}

// New returns an empty Fake with no tables.
func New() *Fake {
	return &Fake{
		keys:   map[string][]string{},
		tables: map[string]map[string]map[string]types.AttributeValue{},
		fail:   map[string]error{},
		calls:  map[string]int{},
	}
}

// CreateTable registers a table and its key attribute names (hash, then optional range).
func (f *Fake) CreateTable(name string, keyAttrs ...string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[name] = keyAttrs
	if _, ok := f.tables[name]; !ok {
		f.tables[name] = map[string]map[string]types.AttributeValue{}
	}
	return f
}

// FailNext makes the next call to op (e.g. "UpdateItem") return err.
func (f *Fake) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = err
}

// Calls reports how many times op has been invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Items returns a copy of every item stored in table.
func (f *Fake) Items(table string) []map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sortedItems(table)
}

// Item returns a copy of the item with the given hash key value, or nil.
func (f *Fake) Item(table, hashKey string) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.tables[table][hashKey]
	if !ok {
		return nil
	}
	return cloneItem(item)
}

// Seed stores item verbatim, bypassing conditions.
func (f *Fake) Seed(table string, item map[string]types.AttributeValue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, err := f.keyOf(table, item)
	if err != nil {
		return err
	}
	f.tables[table][k] = cloneItem(item)
	return nil
}

func (f *Fake) enter(op string) error {
	f.calls[op]++
	if err, ok := f.fail[op]; ok {
		delete(f.fail, op)
		return err
	}
	return nil
}

func (f *Fake) keyOf(table string, item map[string]types.AttributeValue) (string, error) {
	attrs, ok := f.keys[table]
	if !ok {
		return "", fmt.Errorf("dynamotest: unknown table %q", table)
	}
	parts := make([]string, 0, len(attrs))
	for _, a := range attrs {
		v, ok := item[a]
		if !ok {
			return "", fmt.Errorf("dynamotest: item in %q missing key attribute %q", table, a)
		}
		s, ok := scalarString(v)
		if !ok {
			return "", fmt.Errorf("dynamotest: key attribute %q must be S or N", a)
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "|"), nil
}

func (f *Fake) sortedItems(table string) []map[string]types.AttributeValue {
	keys := make([]string, 0, len(f.tables[table]))
	for k := range f.tables[table] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]map[string]types.AttributeValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, cloneItem(f.tables[table][k]))
	}
	return out
}

func conditionFailed(msg string) error {
	return &types.ConditionalCheckFailedException{Message: &msg}
}

// GetItem implements the DynamoDB API.
func (f *Fake) GetItem(ctx context.Context, in *dyn.GetItemInput, _ ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetItem"); err != nil {
		return nil, err
	}
	k, err := f.keyOf(*in.TableName, in.Key)
	if err != nil {
		return nil, err
	}
	item, ok := f.tables[*in.TableName][k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: cloneItem(item)}, nil
}

// PutItem implements the DynamoDB API.
func (f *Fake) PutItem(ctx context.Context, in *dyn.PutItemInput, _ ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("PutItem"); err != nil {
		return nil, err
	}
	if err := f.put(*in.TableName, in.Item, in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, true); err != nil {
		return nil, err
	}
	return &dyn.PutItemOutput{}, nil
}

func (f *Fake) put(table string, item map[string]types.AttributeValue, cond *string, names map[string]string, values map[string]types.AttributeValue, apply bool) error {
	k, err := f.keyOf(table, item)
	if err != nil {
		return err
	}
	existing := f.tables[table][k]
	ok, err := evalCondition(deref(cond), existing, names, values)
	if err != nil {
		return err
	}
	if !ok {
		return conditionFailed("put condition failed")
	}
	if apply {
		f.tables[table][k] = cloneItem(item)
	}
	return nil
}

// UpdateItem implements the DynamoDB API.
func (f *Fake) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, _ ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdateItem"); err != nil {
		return nil, err
	}
	updated, old, err := f.update(*in.TableName, in.Key, in.UpdateExpression, in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, true)
	if err != nil {
		return nil, err
	}
	out := &dyn.UpdateItemOutput{}
	switch in.ReturnValues {
	case types.ReturnValueAllNew, types.ReturnValueUpdatedNew:
		out.Attributes = cloneItem(updated)
	case types.ReturnValueAllOld, types.ReturnValueUpdatedOld:
		out.Attributes = cloneItem(old)
	}
	return out, nil
}

func (f *Fake) update(table string, key map[string]types.AttributeValue, expr, cond *string, names map[string]string, values map[string]types.AttributeValue, apply bool) (map[string]types.AttributeValue, map[string]types.AttributeValue, error) {
	k, err := f.keyOf(table, key)
	if err != nil {
		return nil, nil, err
	}
	existing := f.tables[table][k]
	ok, err := evalCondition(deref(cond), existing, names, values)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, conditionFailed("update condition failed")
	}
	next := cloneItem(existing)
	if next == nil {
		next = cloneItem(key)
	}
	if err := applyUpdate(deref(expr), next, names, values); err != nil {
		return nil, nil, err
	}
	if apply {
		f.tables[table][k] = next
	}
	return next, existing, nil
}

// DeleteItem implements the DynamoDB API.
func (f *Fake) DeleteItem(ctx context.Context, in *dyn.DeleteItemInput, _ ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteItem"); err != nil {
		return nil, err
	}
	old, err := f.delete(*in.TableName, in.Key, in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, true)
	if err != nil {
		return nil, err
	}
	out := &dyn.DeleteItemOutput{}
	if in.ReturnValues == types.ReturnValueAllOld {
		out.Attributes = cloneItem(old)
	}
	return out, nil
}

func (f *Fake) delete(table string, key map[string]types.AttributeValue, cond *string, names map[string]string, values map[string]types.AttributeValue, apply bool) (map[string]types.AttributeValue, error) {
	k, err := f.keyOf(table, key)
	if err != nil {
		return nil, err
	}
	existing := f.tables[table][k]
	ok, err := evalCondition(deref(cond), existing, names, values)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed("delete condition failed")
	}
	if apply {
		delete(f.tables[table], k)
	}
	return existing, nil
}

// Query implements the DynamoDB API. The key condition is evaluated as a
// filter over the whole table, so secondary indexes need no registration.
func (f *Fake) Query(ctx context.Context, in *dyn.QueryInput, _ ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Query"); err != nil {
		return nil, err
	}
	if _, ok := f.tables[*in.TableName]; !ok {
		return nil, fmt.Errorf("dynamotest: unknown table %q", *in.TableName)
	}
	var out []map[string]types.AttributeValue
	for _, item := range f.sortedItems(*in.TableName) {
		ok, err := evalCondition(deref(in.KeyConditionExpression), item, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		ok, err = evalCondition(deref(in.FilterExpression), item, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, item)
		}
	}
	return &dyn.QueryOutput{Items: out, Count: int32(len(out))}, nil
}

// Scan implements the DynamoDB API.
func (f *Fake) Scan(ctx context.Context, in *dyn.ScanInput, _ ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Scan"); err != nil {
		return nil, err
	}
	if _, ok := f.tables[*in.TableName]; !ok {
		return nil, fmt.Errorf("dynamotest: unknown table %q", *in.TableName)
	}
	var out []map[string]types.AttributeValue
	for _, item := range f.sortedItems(*in.TableName) {
		ok, err := evalCondition(deref(in.FilterExpression), item, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, item)
		}
	}
	return &dyn.ScanOutput{Items: out, Count: int32(len(out))}, nil
}

// BatchGetItem implements the DynamoDB API. Missing keys are simply absent
// from the response; UnprocessedKeys is always empty.
func (f *Fake) BatchGetItem(ctx context.Context, in *dyn.BatchGetItemInput, _ ...func(*dyn.Options)) (*dyn.BatchGetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("BatchGetItem"); err != nil {
		return nil, err
	}
	out := &dyn.BatchGetItemOutput{Responses: map[string][]map[string]types.AttributeValue{}}
	for table, ka := range in.RequestItems {
		if len(ka.Keys) > 100 {
			return nil, errors.New("dynamotest: too many keys in BatchGetItem")
		}
		for _, key := range ka.Keys {
			k, err := f.keyOf(table, key)
			if err != nil {
				return nil, err
			}
			if item, ok := f.tables[table][k]; ok {
				out.Responses[table] = append(out.Responses[table], cloneItem(item))
			}
		}
	}
	return out, nil
}

// TransactWriteItems implements the DynamoDB API. Every condition is checked
// before any write; the first failing set cancels the whole transaction with
// per-item cancellation reasons, like the real service.
func (f *Fake) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, _ ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("TransactWriteItems"); err != nil {
		return nil, err
	}
	if len(in.TransactItems) > 100 {
		return nil, errors.New("dynamotest: transaction exceeds 100 items")
	}

	seen := map[string]bool{}
	reasons := make([]types.CancellationReason, len(in.TransactItems))
	canceled := false
	for i, it := range in.TransactItems {
		table, key, err := f.transactTarget(it)
		if err != nil {
			return nil, err
		}
		id := table + "/" + key
		if seen[id] {
			return nil, errors.New("dynamotest: transaction touches the same item twice")
		}
		seen[id] = true

		err = f.transactApply(it, false)
		code := "None"
		var ccf *types.ConditionalCheckFailedException
		switch {
		case errors.As(err, &ccf):
			code = "ConditionalCheckFailed"
			canceled = true
		case err != nil:
			return nil, err
		}
		reasons[i] = types.CancellationReason{Code: &code}
	}
	if canceled {
		msg := "Transaction cancelled, please refer cancellation reasons for specific reasons"
		return nil, &types.TransactionCanceledException{Message: &msg, CancellationReasons: reasons}
	}
	for _, it := range in.TransactItems {
		if err := f.transactApply(it, true); err != nil {
			return nil, err
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (f *Fake) transactTarget(it types.TransactWriteItem) (string, string, error) {
	var (
		table string
		item  map[string]types.AttributeValue
	)
	switch {
	case it.Put != nil:
		table, item = *it.Put.TableName, it.Put.Item
	case it.Update != nil:
		table, item = *it.Update.TableName, it.Update.Key
	case it.Delete != nil:
		table, item = *it.Delete.TableName, it.Delete.Key
	case it.ConditionCheck != nil:
		table, item = *it.ConditionCheck.TableName, it.ConditionCheck.Key
	default:
		return "", "", errors.New("dynamotest: empty transact item")
	}
	k, err := f.keyOf(table, item)
	return table, k, err
}

func (f *Fake) transactApply(it types.TransactWriteItem, apply bool) error {
	switch {
	case it.Put != nil:
		p := it.Put
		return f.put(*p.TableName, p.Item, p.ConditionExpression, p.ExpressionAttributeNames, p.ExpressionAttributeValues, apply)
	case it.Update != nil:
		u := it.Update
		_, _, err := f.update(*u.TableName, u.Key, u.UpdateExpression, u.ConditionExpression, u.ExpressionAttributeNames, u.ExpressionAttributeValues, apply)
		return err
	case it.Delete != nil:
		d := it.Delete
		_, err := f.delete(*d.TableName, d.Key, d.ConditionExpression, d.ExpressionAttributeNames, d.ExpressionAttributeValues, apply)
		return err
	default:
		c := it.ConditionCheck
		k, err := f.keyOf(*c.TableName, c.Key)
		if err != nil {
			return err
		}
		ok, err := evalCondition(deref(c.ConditionExpression), f.tables[*c.TableName][k], c.ExpressionAttributeNames, c.ExpressionAttributeValues)
		if err != nil {
			return err
		}
		if !ok {
			return conditionFailed("condition check failed")
		}
		return nil
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
