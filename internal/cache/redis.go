// Package cache provides result cache backends for the search executor.
// Both implementations satisfy the executor's capability interface; the
// cache is a pure optimization and callers swallow its failures.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Redis is a result cache backed by Redis (or Redis-compatible backends
// like Dragonfly, Valkey or KeyDB — all use the same go-redis library).
type Redis struct {
	client *redis.Client
}

// NewRedis connects to a Redis-compatible backend.
// url should be in the format: redis://[password@]host:port[/db]
func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	log.Info().Str("addr", opts.Addr).Msg("Connected to Redis-compatible backend for result caching")

	return &Redis{client: client}, nil
}

// Get retrieves a cached value. A missing key is not an error.
func (c *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Set stores a value with the given TTL.
func (c *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Close releases the client's connections.
func (c *Redis) Close() error {
	return c.client.Close()
}
