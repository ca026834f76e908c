package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Cache implements ports.Cache using Redis. All keys share one prefix so
// the ledger can sit on a shared instance.
type Cache struct {
	client *goredis.Client
	prefix string
}

// NewCache creates a new Redis-backed cache.
func NewCache(client *goredis.Client) *Cache {
	return &Cache{
		client: client,
		prefix: "tfl:",
	}
}

// Get returns nil, nil if the key does not exist.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis cache get: %w", err)
	}
	return val, nil
}

// Set stores value under key with ttl.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis cache set: %w", err)
	}
	return nil
}

// Delete removes keys. Missing keys are not an error.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.prefix + k
	}
	if err := c.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis cache delete: %w", err)
	}
	return nil
}
