package idempotency

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cleaner removes dedup keys left without an expiry, or with one longer than maxTTL.
type Cleaner struct {
	client   redis.Cmdable
	log      *slog.Logger
	interval time.Duration
	maxTTL   time.Duration
}

func NewCleaner(client redis.Cmdable, log *slog.Logger, interval, maxTTL time.Duration) *Cleaner {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	if maxTTL <= 0 {
		maxTTL = defaultTTL + time.Hour
	}

	return &Cleaner{
		client:   client,
		log:      log,
		interval: interval,
		maxTTL:   maxTTL,
	}
}

func (c *Cleaner) Run(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cleanup(ctx)
		}
	}
}

func (c *Cleaner) cleanup(ctx context.Context) int {
	var (
		cursor  uint64
		err     error
		removed int
	)

	for {
		var keys []string
		keys, cursor, err = c.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			c.log.Error("dedup cleaner scan failed", slog.Any("error", err))
			return removed
		}

		for _, key := range keys {
			if strings.HasSuffix(key, ":lock") {
				continue
			}

			ttl, err := c.client.TTL(ctx, key).Result()
			if err != nil {
				c.log.Warn("failed to get key ttl", slog.String("key", key), slog.Any("error", err))
				continue
			}

			if ttl < 0 || ttl > c.maxTTL {
				if err := c.client.Del(ctx, key).Err(); err != nil {
					c.log.Warn("failed to delete stale dedup key", slog.String("key", key), slog.Any("error", err))
					continue
				}
				removed++
			}
		}

		if cursor == 0 {
			break
		}
	}

	return removed
}
