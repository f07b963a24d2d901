package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cleaner periodically drops stale rate-limit state from Redis and from an
// optional in-memory limiter.
type Cleaner struct {
	redisClient redis.Cmdable
	memory      *MemoryLimiter
	log         *slog.Logger
	interval    time.Duration
	maxAge      time.Duration
}

// NewCleaner constructs a Cleaner. Either client or memory may be nil.
func NewCleaner(client redis.Cmdable, memory *MemoryLimiter, log *slog.Logger, interval, maxAge time.Duration) *Cleaner {
	if log == nil {
		log = slog.Default()
	}
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}

	return &Cleaner{
		redisClient: client,
		memory:      memory,
		log:         log,
		interval:    interval,
		maxAge:      maxAge,
	}
}

// Run starts the cleaner loop until the context is cancelled.
func (c *Cleaner) Run(ctx context.Context) {
	if c.interval <= 0 || (c.redisClient == nil && c.memory == nil) {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("rate limit cleaner stopped", slog.String("reason", ctx.Err().Error()))
			return
		case <-ticker.C:
			c.cleanup(ctx)
		}
	}
}

func (c *Cleaner) cleanup(ctx context.Context) int {
	cleaned := 0
	if c.memory != nil {
		cleaned += c.memory.Cleanup(c.maxAge)
	}
	if c.redisClient != nil {
		cleaned += c.cleanupRedis(ctx)
	}

	if cleaned > 0 {
		c.log.Info("rate limit keys cleaned", slog.Int("keys_removed", cleaned))
	}
	return cleaned
}

func (c *Cleaner) cleanupRedis(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	const scanCount = 100

	cutoff := float64(time.Now().Add(-c.maxAge).UnixNano()) / float64(time.Millisecond)
	var cursor uint64
	cleaned := 0

	for {
		keys, nextCursor, err := c.redisClient.Scan(ctx, cursor, keyPrefix+"*", scanCount).Result()
		if err != nil {
			c.log.Error("rate limit scan failed", slog.Any("error", err))
			return cleaned
		}

		for _, key := range keys {
			var cardCmd *redis.IntCmd
			_, err := c.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%f", cutoff))
				cardCmd = pipe.ZCard(ctx, key)
				return nil
			})
			if err != nil {
				c.log.Warn("cleanup pipeline failed", slog.String("key", key), slog.Any("error", err))
				continue
			}

			if cardCmd.Val() == 0 {
				if err := c.redisClient.Del(ctx, key).Err(); err != nil {
					c.log.Warn("failed to delete empty rate limit key", slog.String("key", key), slog.Any("error", err))
					continue
				}
				cleaned++
			}
		}

		if nextCursor == 0 {
			break
		}
		cursor = nextCursor
	}

	return cleaned
}
