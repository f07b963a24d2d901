package idempotency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "dedup:"

const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
)

// Record is the stored completion of one message.
type Record struct {
	Status      string
	Outcome     string
	CompletedAt time.Time
}

type Store interface {
	Lock(ctx context.Context, key string, lockTTL time.Duration) (bool, error)
	Get(ctx context.Context, key string) (*Record, error)
	Set(ctx context.Context, key string, record *Record, ttl time.Duration) error
	ReleaseLock(ctx context.Context, key string) error
}

type RedisStore struct {
	client redis.Cmdable
	log    *slog.Logger
}

func NewRedisStore(client redis.Cmdable, log *slog.Logger) *RedisStore {
	if log == nil {
		log = slog.Default()
	}

	return &RedisStore{
		client: client,
		log:    log,
	}
}

func (s *RedisStore) Lock(ctx context.Context, key string, lockTTL time.Duration) (bool, error) {
	acquired, err := s.client.SetNX(ctx, lockKey(key), StatusProcessing, lockTTL).Result()
	if err != nil {
		s.log.Error("failed to acquire dedup lock", slog.String("key", key), slog.Any("error", err))
		return false, err
	}

	return acquired, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	result, err := s.client.HGetAll(ctx, recordKey(key)).Result()
	if err != nil {
		s.log.Error("failed to fetch dedup record", slog.String("key", key), slog.Any("error", err))
		return nil, err
	}

	if len(result) == 0 {
		return nil, nil
	}

	record := &Record{
		Status:  result["status"],
		Outcome: result["outcome"],
	}
	if raw := result["completed_at"]; raw != "" {
		completedAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("decode dedup record %s: %w", key, err)
		}
		record.CompletedAt = completedAt
	}

	return record, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, record *Record, ttl time.Duration) error {
	if record == nil {
		return nil
	}

	args := map[string]any{
		"status":       record.Status,
		"outcome":      record.Outcome,
		"completed_at": record.CompletedAt.UTC().Format(time.RFC3339Nano),
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, recordKey(key), args)
		pipe.Expire(ctx, recordKey(key), ttl)
		return nil
	})
	if err != nil {
		s.log.Error("failed to store dedup record", slog.String("key", key), slog.Any("error", err))
		return err
	}

	return nil
}

func (s *RedisStore) ReleaseLock(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, lockKey(key)).Err(); err != nil {
		s.log.Error("failed to release dedup lock", slog.String("key", key), slog.Any("error", err))
		return err
	}

	return nil
}

func recordKey(key string) string {
	return keyPrefix + key
}

func lockKey(key string) string {
	return keyPrefix + key + ":lock"
}
