// Package cache provides the Redis access layer: the system-key cache and
// the IP token bucket used to throttle token endpoints.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Pool defaults. Query parameters in REDIS_URL (pool_size, min_idle_conns,
// read_timeout, ...) take precedence.
const (
	defaultPoolSize     = 10
	defaultMinIdleConns = 2
	defaultReadTimeout  = 500 * time.Millisecond
	defaultWriteTimeout = 500 * time.Millisecond
	connectTimeout      = 3 * time.Second
)

// Cache wraps the Redis client shared by the system-key cache, the token
// throttle and the usage stream.
type Cache struct {
	client *redis.Client
}

// New parses redisURL, applies pool defaults and verifies the connection.
func New(ctx context.Context, redisURL string) (*Cache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	applyDefaults(opt)

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// applyDefaults fills pool settings the URL left unset. Reads and writes sit
// on the request path, so they get short timeouts.
func applyDefaults(opt *redis.Options) {
	if opt.PoolSize == 0 {
		opt.PoolSize = defaultPoolSize
	}
	if opt.MinIdleConns == 0 {
		opt.MinIdleConns = defaultMinIdleConns
	}
	if opt.ReadTimeout == 0 {
		opt.ReadTimeout = defaultReadTimeout
	}
	if opt.WriteTimeout == 0 {
		opt.WriteTimeout = defaultWriteTimeout
	}
	if opt.ConnMaxIdleTime == 0 {
		opt.ConnMaxIdleTime = 5 * time.Minute
	}
}

// NewFromClient wraps an existing client. Used by tests.
func NewFromClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Ping checks Redis connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Client returns the underlying client for the usage stream.
func (c *Cache) Client() *redis.Client {
	return c.client
}
