package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheKey holds the JSON-encoded product scan.
const CacheKey = "catalog:products"

// Cache stores the full product listing between writes.
type Cache interface {
	GetProducts(ctx context.Context) ([]Product, bool, error)
	SetProducts(ctx context.Context, products []Product) error
	Invalidate(ctx context.Context) error
}

// RedisCache keeps the listing in a single Redis key with a TTL.
type RedisCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisCache(rdb redis.Cmdable, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

// NewRedisClient parses url (redis://...) and returns a connected client.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func (c *RedisCache) GetProducts(ctx context.Context) ([]Product, bool, error) {
	raw, err := c.rdb.Get(ctx, CacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var products []Product
	if err := json.Unmarshal(raw, &products); err != nil {
		return nil, false, fmt.Errorf("decode cached products: %w", err)
	}
	return products, true, nil
}

func (c *RedisCache) SetProducts(ctx context.Context, products []Product) error {
	raw, err := json.Marshal(products)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, CacheKey, raw, c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context) error {
	return c.rdb.Del(ctx, CacheKey).Err()
}

type noopCache struct{}

func (noopCache) GetProducts(context.Context) ([]Product, bool, error) { return nil, false, nil }
func (noopCache) SetProducts(context.Context, []Product) error         { return nil }
func (noopCache) Invalidate(context.Context) error                     { return nil }
