package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenCache stores the current MVola access token for a bounded time.
type TokenCache interface {
	Get(ctx context.Context) (string, bool, error)
	Set(ctx context.Context, token string, ttl time.Duration) error
}

// stringStore is the subset of *redis.Client the token cache needs.
type stringStore interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisTokenCache keeps a single token under one key with a native redis TTL.
type RedisTokenCache struct {
	client stringStore
	key    string
}

func NewRedisTokenCache(client stringStore, key string) *RedisTokenCache {
	if key == "" {
		key = "mvola:token"
	}
	return &RedisTokenCache{client: client, key: key}
}

// Get returns (token, true, nil) on a hit and ("", false, nil) when the key is absent or expired.
func (c *RedisTokenCache) Get(ctx context.Context) (string, bool, error) {
	tok, err := c.client.Get(ctx, c.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis GET %s: %w", c.key, err)
	}
	return tok, tok != "", nil
}

// Set stores token for ttl. Non-positive ttls are ignored so a token never outlives its expiry.
func (c *RedisTokenCache) Set(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 || token == "" {
		return nil
	}
	if err := c.client.Set(ctx, c.key, token, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", c.key, err)
	}
	return nil
}
