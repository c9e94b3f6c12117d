// Package redis implements store.KeyValueStore on Redis strings.
//
// Usage:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	c := redis.New(client, redis.WithTTL(24*time.Hour))
//	if err := c.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"backjob/internal/store"
)

var _ store.KeyValueStore = (*Cache)(nil)

// Option configures the Cache.
type Option func(*Cache)

// WithTTL sets an expiry on every written key. Zero keeps keys until evicted.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// Cache is a KeyValueStore backed by Redis GET / SET / SETNX.
type Cache struct {
	client goredis.Cmdable
	ttl    time.Duration
}

// New creates a Redis-backed cache. The caller owns the client lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Cache {
	c := &Cache{client: client}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the value at key; a missing key is not an error.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("backjob/redis: get %s: %w", key, err)
	}
	return v, true, nil
}

// Set writes value at key.
func (c *Cache) Set(ctx context.Context, key string, value []byte) error {
	if err := c.client.Set(ctx, key, value, c.ttl).Err(); err != nil {
		return fmt.Errorf("backjob/redis: set %s: %w", key, err)
	}
	return nil
}

// Add writes value at key only if absent (SETNX).
func (c *Cache) Add(ctx context.Context, key string, value []byte) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, value, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("backjob/redis: setnx %s: %w", key, err)
	}
	return ok, nil
}

// Delete evicts key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// Ping verifies the Redis connection is alive.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
