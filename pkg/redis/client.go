// Package redis provides the Redis client used by the cache, dedup and rate limiter.
package redis

import (
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"

	"github.com/Proton-105/user-sync/pkg/config"
)

// Client wraps the go-redis client.
type Client struct {
	*redis.Client
}

// New creates a Redis client configured with cfg, instruments it with Prometheus and
// verifies the connection with Ping.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.IdleTimeout,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: cfg.MinRetryBackoff,
		MaxRetryBackoff: cfg.MaxRetryBackoff,
	}
	rdb := redis.NewClient(opts)
	rdb.AddHook(MetricsHook{})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Client{rdb}, nil
}

// HealthCheck issues a PING.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c == nil || c.Client == nil {
		return redis.ErrClosed
	}
	return c.Ping(ctx).Err()
}

// Close shuts down the Redis client.
func (c *Client) Close() error {
	if c == nil || c.Client == nil {
		return nil
	}
	return c.Client.Close()
}
