// Package usercache caches user details read by the query surface.
package usercache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/Proton-105/user-sync/internal/domain"
)

const (
	defaultTTL = 5 * time.Minute
	// versionTTL outlives any read-through window; an expired counter reads as "0".
	versionTTL = 24 * time.Hour
)

// setIfVersion writes the entry only while the version counter still holds the value
// observed before the store read.
var setIfVersion = redis.NewScript(`
local current = redis.call('GET', KEYS[2]) or '0'
if current ~= ARGV[2] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// Cache provides Redis-backed caching for user records. A nil Cache is a valid,
// always-missing cache.
type Cache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewCache constructs a user cache backed by the provided Redis client.
func NewCache(client redis.Cmdable, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}

	return &Cache{client: client, ttl: ttl}
}

// Get fetches a cached user record. A miss returns nil, nil.
func (c *Cache) Get(ctx context.Context, id string) (*domain.User, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}

	data, err := c.client.Get(ctx, cacheKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cached user: %w", err)
	}

	var user domain.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("decode cached user: %w", err)
	}

	return &user, nil
}

// Version returns the invalidation counter for id. Pass it to SetIfUnchanged after
// reading the store so a write that lands during the read is never overwritten.
func (c *Cache) Version(ctx context.Context, id string) (string, error) {
	if c == nil || c.client == nil {
		return "0", nil
	}

	version, err := c.client.Get(ctx, versionKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "0", nil
		}
		return "", fmt.Errorf("get cache version: %w", err)
	}

	return version, nil
}

// SetIfUnchanged caches user unless it was invalidated after version was read. It
// reports whether the entry was written.
func (c *Cache) SetIfUnchanged(ctx context.Context, user *domain.User, version string) (bool, error) {
	if c == nil || c.client == nil || user == nil {
		return false, nil
	}

	payload, err := json.Marshal(user)
	if err != nil {
		return false, fmt.Errorf("encode user for cache: %w", err)
	}

	written, err := setIfVersion.Run(ctx, c.client,
		[]string{cacheKey(user.ID), versionKey(user.ID)},
		payload, version, c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("set cached user: %w", err)
	}

	return written == 1, nil
}

// Invalidate removes the cached entry and bumps the version counter.
func (c *Cache) Invalidate(ctx context.Context, id string) error {
	if c == nil || c.client == nil {
		return nil
	}

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, cacheKey(id))
		pipe.Incr(ctx, versionKey(id))
		pipe.Expire(ctx, versionKey(id), versionTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate cached user: %w", err)
	}

	return nil
}

func cacheKey(id string) string {
	return "user:" + id
}

func versionKey(id string) string {
	return "user:" + id + ":v"
}
