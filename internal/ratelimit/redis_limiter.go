package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisLimiter implements Limiter using Redis sorted sets and a sliding window,
// so limits hold across replicas.
type RedisLimiter struct {
	client redis.Cmdable
	log    *slog.Logger
	now    func() time.Time
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedisLimiter creates a Redis-backed Limiter implementation.
func NewRedisLimiter(client redis.Cmdable, log *slog.Logger) *RedisLimiter {
	if log == nil {
		log = slog.Default()
	}

	return &RedisLimiter{
		client: client,
		log:    log,
		now:    time.Now,
	}
}

// Check evaluates the rate limit for a given key using a sliding window algorithm.
func (l *RedisLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	if l.client == nil {
		return nil, errors.New("redis client is not configured for rate limiting")
	}

	now := l.now()
	if limit <= 0 {
		return &Result{Allowed: false, Remaining: 0, ResetAt: now.Add(window)}, nil
	}

	windowStart := now.Add(-window)
	redisKey := keyPrefix + key

	cutoff := float64(windowStart.UnixNano()) / float64(time.Millisecond)
	score := float64(now.UnixNano()) / float64(time.Millisecond)

	var countCmd *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, redisKey, "-inf", fmt.Sprintf("(%f", cutoff))
		pipe.ZAdd(ctx, redisKey, redis.Z{
			Score:  score,
			Member: uuid.NewString(),
		})
		countCmd = pipe.ZCard(ctx, redisKey)
		pipe.Expire(ctx, redisKey, window*2)
		return nil
	})
	if err != nil {
		l.log.Error("rate limiter pipeline failed", slog.String("key", key), slog.Any("error", err))
		return nil, err
	}

	count, err := countCmd.Result()
	if err != nil {
		l.log.Error("rate limiter failed to read count", slog.String("key", key), slog.Any("error", err))
		return nil, err
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return &Result{
		Allowed:   count <= int64(limit),
		Remaining: remaining,
		ResetAt:   now.Add(window),
	}, nil
}
