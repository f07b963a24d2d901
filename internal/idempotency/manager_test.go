package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupManager(t *testing.T) (Manager, *RedisStore, *miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client, nil)
	return NewManager(store, time.Hour, nil), store, mr, client
}

func TestManager_SecondDeliveryIsDuplicate(t *testing.T) {
	ctx := context.Background()
	mgr, _, _, _ := setupManager(t)

	calls := 0
	op := func(ctx context.Context) (string, error) {
		calls++
		return "applied", nil
	}

	first, err := mgr.Execute(ctx, "m1", op)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.Equal(t, "applied", first.Outcome)

	second, err := mgr.Execute(ctx, "m1", op)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, "applied", second.Outcome)
	assert.Equal(t, 1, calls)
}

func TestManager_FailureIsNotRecorded(t *testing.T) {
	ctx := context.Background()
	mgr, _, _, _ := setupManager(t)

	boom := errors.New("store down")
	_, err := mgr.Execute(ctx, "m1", func(ctx context.Context) (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)

	result, err := mgr.Execute(ctx, "m1", func(ctx context.Context) (string, error) { return "applied", nil })
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
}

func TestManager_LockedMessageIsInProgress(t *testing.T) {
	ctx := context.Background()
	mgr, store, _, _ := setupManager(t)

	locked, err := store.Lock(ctx, MessageKey("m1"), time.Minute)
	require.NoError(t, err)
	require.True(t, locked)

	_, err = mgr.Execute(ctx, "m1", func(ctx context.Context) (string, error) { return "applied", nil })
	assert.ErrorIs(t, err, ErrInProgress)
}

func TestManager_RecordExpires(t *testing.T) {
	ctx := context.Background()
	mgr, _, mr, _ := setupManager(t)

	_, err := mgr.Execute(ctx, "m1", func(ctx context.Context) (string, error) { return "skipped", nil })
	require.NoError(t, err)

	key := recordKey(MessageKey("m1"))
	assert.Equal(t, time.Hour, mr.TTL(key))
	assert.False(t, mr.Exists(lockKey(MessageKey("m1"))))

	mr.FastForward(2 * time.Hour)
	result, err := mgr.Execute(ctx, "m1", func(ctx context.Context) (string, error) { return "applied", nil })
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
}

func TestCleaner_RemovesKeysWithoutExpiry(t *testing.T) {
	ctx := context.Background()
	_, _, mr, client := setupManager(t)

	mr.HSet(recordKey("stale"), "status", StatusCompleted)
	mr.HSet(recordKey("fresh"), "status", StatusCompleted)
	mr.SetTTL(recordKey("fresh"), time.Hour)

	removed := NewCleaner(client, nil, time.Minute, 2*time.Hour).cleanup(ctx)
	assert.Equal(t, 1, removed)
	assert.False(t, mr.Exists(recordKey("stale")))
	assert.True(t, mr.Exists(recordKey("fresh")))
}

func TestMessageKey_Deterministic(t *testing.T) {
	assert.Equal(t, MessageKey("abc"), MessageKey("abc"))
	assert.NotEqual(t, MessageKey("abc"), MessageKey("abd"))
	assert.Len(t, MessageKey("abc"), 64)
}
