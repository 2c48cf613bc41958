package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/imrishuroy/textile-storefront/internal/aws"
)

const batchGetLimit = 100

// Store encapsulates operations on the products table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	cache     Cache
	log       *slog.Logger
	nowFunc   func() time.Time
}

// NewStore creates a products Store. cache may be nil.
func NewStore(client aws.DynamoDBAPI, tableName string, cache Cache, logger *slog.Logger) *Store {
	if cache == nil {
		cache = noopCache{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client:    client,
		tableName: tableName,
		cache:     cache,
		log:       logger.With("component", "catalog"),
		nowFunc:   time.Now,
	}
}

// TableName is the products table this store writes to.
func (s *Store) TableName() string { return s.tableName }

// Create persists a new product. A missing ID is generated, a nil stock means
// DefaultStock, and Available starts equal to Stock.
func (s *Store) Create(ctx context.Context, p Product, stock *int) (*Product, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.Category = strings.TrimSpace(p.Category)
	if p.Name == "" || p.Category == "" || p.Price < 0 {
		return nil, ErrInvalidProduct
	}
	p.Stock = DefaultStock
	if stock != nil {
		p.Stock = *stock
	}
	if p.Stock < 0 {
		return nil, ErrNegativeStock
	}
	p.Available = p.Stock
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := s.nowFunc().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return nil, fmt.Errorf("marshal product: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(product_id)"),
	})
	if err != nil {
		if aws.IsConditionFailed(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("put product: %w", err)
	}
	s.Invalidate(ctx)
	return &p, nil
}

// Get fetches a product by id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, id string) (*Product, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            productKey(id),
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var p Product
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	return &p, nil
}

// GetMany fetches products by id with consistent reads. Ids that do not exist
// are absent from the result.
func (s *Store) GetMany(ctx context.Context, ids []string) (map[string]Product, error) {
	out := make(map[string]Product, len(ids))
	unique := dedupe(ids)
	for start := 0; start < len(unique); start += batchGetLimit {
		end := min(start+batchGetLimit, len(unique))
		keys := make([]map[string]types.AttributeValue, 0, end-start)
		for _, id := range unique[start:end] {
			keys = append(keys, productKey(id))
		}
		request := map[string]types.KeysAndAttributes{
			s.tableName: {Keys: keys, ConsistentRead: boolPtr(true)},
		}
		// UnprocessedKeys are retried a bounded number of times.
		for attempt := 0; len(request) > 0; attempt++ {
			if attempt == 5 {
				return nil, fmt.Errorf("batch get products: unprocessed keys after %d attempts", attempt)
			}
			res, err := s.client.BatchGetItem(ctx, &dyn.BatchGetItemInput{RequestItems: request})
			if err != nil {
				return nil, fmt.Errorf("batch get products: %w", err)
			}
			for _, item := range res.Responses[s.tableName] {
				var p Product
				if err := attributevalue.UnmarshalMap(item, &p); err != nil {
					return nil, fmt.Errorf("unmarshal product: %w", err)
				}
				out[p.ID] = p
			}
			request = res.UnprocessedKeys
		}
	}
	return out, nil
}

// Delete removes a product and returns what was stored.
func (s *Store) Delete(ctx context.Context, id string) (*Product, error) {
	out, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName:           &s.tableName,
		Key:                 productKey(id),
		ConditionExpression: aws.String("attribute_exists(product_id)"),
		ReturnValues:        types.ReturnValueAllOld,
	})
	if err != nil {
		if aws.IsConditionFailed(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("delete product: %w", err)
	}
	s.Invalidate(ctx)
	var p Product
	if err := attributevalue.UnmarshalMap(out.Attributes, &p); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	return &p, nil
}

// All returns every product, served from the cache when possible.
func (s *Store) All(ctx context.Context) ([]Product, error) {
	if products, ok, err := s.cache.GetProducts(ctx); err != nil {
		s.log.WarnContext(ctx, "catalog cache read failed", "error", err)
	} else if ok {
		return products, nil
	}

	var (
		products []Product
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:         &s.tableName,
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scan products: %w", err)
		}
		var page []Product
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal products: %w", err)
		}
		products = append(products, page...)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	if err := s.cache.SetProducts(ctx, products); err != nil {
		s.log.WarnContext(ctx, "catalog cache write failed", "error", err)
	}
	return products, nil
}

// List applies q to the whole catalog.
func (s *Store) List(ctx context.Context, q Query) (Page, error) {
	products, err := s.All(ctx)
	if err != nil {
		return Page{}, err
	}
	return q.Apply(products), nil
}

// Categories returns the distinct categories in the catalog, sorted.
func (s *Store) Categories(ctx context.Context) ([]string, error) {
	products, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	return categories(products), nil
}

// Invalidate drops the cached listing. Failures are logged only.
func (s *Store) Invalidate(ctx context.Context) {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.log.WarnContext(ctx, "catalog cache invalidate failed", "error", err)
	}
}

func productKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"product_id": aws.S(id)}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func boolPtr(b bool) *bool { return &b }
