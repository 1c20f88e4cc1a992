package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// systemKeyCacheKey holds the cached system key value.
	systemKeyCacheKey = "config:system_key"
	// SystemKeyTTL bounds how long a cached system key is trusted.
	SystemKeyTTL = 10 * time.Minute
)

// ErrCacheMiss is returned when a key is not cached.
var ErrCacheMiss = errors.New("cache miss")

// GetSystemKey returns the cached system key or ErrCacheMiss.
func (c *Cache) GetSystemKey(ctx context.Context) (string, error) {
	value, err := c.client.Get(ctx, systemKeyCacheKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrCacheMiss
		}
		return "", fmt.Errorf("redis get failed: %w", err)
	}
	if value == "" {
		return "", ErrCacheMiss
	}
	return value, nil
}

// SetSystemKey caches the system key.
func (c *Cache) SetSystemKey(ctx context.Context, value string) error {
	if value == "" {
		return nil
	}
	return c.client.Set(ctx, systemKeyCacheKey, value, SystemKeyTTL).Err()
}

// DeleteSystemKey drops the cached system key.
func (c *Cache) DeleteSystemKey(ctx context.Context) error {
	return c.client.Del(ctx, systemKeyCacheKey).Err()
}
