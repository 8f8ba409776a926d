// Package redis provides the Redis-backed prompt/context cache.
//
// The cache degrades gracefully: when Redis is unreachable, Get reports a
// miss and Set/Invalidate become no-ops, so a cache outage makes calls slower
// instead of failing them. Errors are logged, never returned to the caller.
package redis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voxloop-ai/voxloop/internal/store"
)

// Compile-time interface check.
var _ store.Cache = (*Cache)(nil)

// Cache wraps a go-redis client as a [store.Cache].
type Cache struct {
	client *redis.Client
}

// Option configures a [Cache].
type Option func(*options)

type options struct {
	db       int
	password string
}

// WithDB selects a Redis logical database. Default 0.
func WithDB(db int) Option {
	return func(o *options) { o.db = db }
}

// WithPassword sets the Redis AUTH password.
func WithPassword(pw string) Option {
	return func(o *options) { o.password = pw }
}

// New connects to Redis at addr ("host:port"). The connection is verified
// with a ping so a misconfigured address surfaces at startup rather than as
// silent cache misses.
func New(ctx context.Context, addr string, opts ...Option) (*Cache, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		DB:       o.db,
		Password: o.password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Cache{client: client}, nil
}

// NewFromClient wraps an existing client. Used by tests with miniredis.
func NewFromClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Get returns the cached value for key. Backend errors count as misses.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("cache get failed", "key", key, "err", err)
		}
		return "", false
	}
	return val, true
}

// Set stores value under key with the given TTL. Zero TTL means no expiry.
// Backend errors are logged and swallowed.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		slog.Warn("cache set failed", "key", key, "err", err)
	}
}

// Invalidate removes every key matching the glob pattern using incremental
// SCAN, so large keyspaces never block Redis the way KEYS would.
func (c *Cache) Invalidate(ctx context.Context, pattern string) {
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 100 {
			c.del(ctx, keys)
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		slog.Warn("cache invalidate scan failed", "pattern", pattern, "err", err)
		return
	}
	if len(keys) > 0 {
		c.del(ctx, keys)
	}
}

func (c *Cache) del(ctx context.Context, keys []string) {
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		slog.Warn("cache delete failed", "keys", len(keys), "err", err)
	}
}

// Ping verifies backend connectivity. Used by the readiness probe.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}
