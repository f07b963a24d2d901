package consumer

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/user-sync/internal/domain"
	"github.com/Proton-105/user-sync/internal/idempotency"
	"github.com/Proton-105/user-sync/internal/queue"
)

var testPollerConfig = PollerConfig{BatchSize: 10, WaitSeconds: 20, Backoff: 10 * time.Second}

// runCycles runs the poller until it has slept cycles times.
func runCycles(t *testing.T, p *Poller, sleeper *recordingSleeper, cycles int) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sleeper.limit = cycles
	sleeper.cancel = cancel

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestPoller_BacksOffAfterEveryCycle(t *testing.T) {
	q := &flakyConsumer{MemoryQueue: queue.NewMemoryQueue(time.Minute), receiveFails: 1}
	q.SendString(`{"operation":"create","user":{"id":"1"}}`)

	store := newSpyStore()
	sleeper := &recordingSleeper{}
	p := NewPoller(q, newTestRouter(store, nil, nil), testPollerConfig, nil, WithSleeper(sleeper))

	// error cycle, processing cycle, empty cycle
	runCycles(t, p, sleeper, 3)

	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second, 10 * time.Second}, sleeper.sleeps)
	assert.Equal(t, 3, q.receiveCalls)
	assert.Equal(t, 1, store.Len())
	assert.Zero(t, q.Len())
	assert.Equal(t, StateStopped, p.State())
}

func TestPoller_MalformedMessageIsDeletedWithoutWrite(t *testing.T) {
	q := queue.NewMemoryQueue(time.Minute)
	q.Send(nil)

	store := newSpyStore()
	log, buf := newTestLogger()
	p := NewPoller(q, newTestRouter(store, nil, log), testPollerConfig, log)

	n, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Zero(t, q.Len())
	assert.Zero(t, store.Writes())
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "MALFORMED_MESSAGE")
}

func TestPoller_BadMessageDoesNotHaltBatch(t *testing.T) {
	q := queue.NewMemoryQueue(time.Minute)
	q.SendString("{broken")
	q.SendString(`{"operation":"rename","user":{"id":"1"}}`)
	q.SendString(`{"operation":"update","user":{"id":"404","firstName":"Z"}}`)
	q.SendString(`{"operation":"create","user":{"id":"2","email":"b@x.com"}}`)

	store := newSpyStore()
	p := NewPoller(q, newTestRouter(store, nil, nil), testPollerConfig, nil)

	n, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	assert.Zero(t, q.Len(), "terminal outcomes are all acknowledged")
	assert.Equal(t, 1, store.Writes())
	_, err = store.GetByID(context.Background(), "2")
	assert.NoError(t, err)
}

func TestPoller_TransientFailureKeepsMessage(t *testing.T) {
	q := queue.NewMemoryQueue(time.Minute)
	q.SendString(`{"operation":"create","user":{"id":"1"}}`)

	store := newSpyStore()
	store.SetFailing(true)
	p := NewPoller(q, newTestRouter(store, nil, nil), testPollerConfig, nil)

	_, err := p.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, q.Len())
	assert.Zero(t, store.Len())
}

func TestPoller_RecoversPanics(t *testing.T) {
	q := queue.NewMemoryQueue(time.Minute)
	q.SendString(`{"operation":"create","user":{"id":"1"}}`)

	// A router without handlers panics on the first dereference.
	p := NewPoller(q, NewRouter(nil, nil, nil), testPollerConfig, nil)

	n, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, q.Len(), "panicking message is left for redelivery")
}

func TestPoller_BlockedGuardAcknowledges(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue(time.Minute)
	q.SendString(`{"operation":"update","user":{"id":"1","firstName":"Z"}}`)

	store := newSpyStore()
	require.NoError(t, store.MemoryStore.Put(ctx, &domain.User{ID: "1", FirstName: "A", Status: domain.StatusBlocked}))
	p := NewPoller(q, newTestRouter(store, nil, nil), testPollerConfig, nil)

	_, err := p.RunOnce(ctx)
	require.NoError(t, err)

	assert.Zero(t, q.Len())
	assert.Zero(t, store.Writes())
}

func TestPoller_DeleteFailureIsRedelivered(t *testing.T) {
	q := &flakyConsumer{MemoryQueue: queue.NewMemoryQueue(time.Nanosecond), deleteFails: 1}
	q.SendString(`{"operation":"create","user":{"id":"1","firstName":"A"}}`)

	store := newSpyStore()
	p := NewPoller(q, newTestRouter(store, nil, nil), testPollerConfig, nil)

	_, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, q.Len())

	time.Sleep(time.Millisecond)
	_, err = p.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Zero(t, q.Len())
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 2, store.Writes(), "without dedup a redelivery is re-applied")
}

func TestPoller_DedupSkipsRedeliveredMessage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	dedup := idempotency.NewManager(idempotency.NewRedisStore(client, nil), time.Hour, nil)

	q := &flakyConsumer{MemoryQueue: queue.NewMemoryQueue(time.Nanosecond), deleteFails: 1}
	q.SendString(`{"operation":"create","user":{"id":"1","firstName":"A"}}`)

	store := newSpyStore()
	p := NewPoller(q, newTestRouter(store, nil, nil), testPollerConfig, nil, WithDedup(dedup))

	_, err := p.RunOnce(context.Background())
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	_, err = p.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Zero(t, q.Len())
	assert.Equal(t, 1, store.Writes())
}

func TestPoller_DedupDoesNotRecordRetries(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	dedup := idempotency.NewManager(idempotency.NewRedisStore(client, nil), time.Hour, nil)

	q := queue.NewMemoryQueue(time.Nanosecond)
	q.SendString(`{"operation":"create","user":{"id":"1"}}`)

	store := newSpyStore()
	store.SetFailing(true)
	p := NewPoller(q, newTestRouter(store, nil, nil), testPollerConfig, nil, WithDedup(dedup))

	_, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, q.Len())

	store.SetFailing(false)
	time.Sleep(time.Millisecond)
	_, err = p.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Zero(t, q.Len())
	assert.Equal(t, 1, store.Len())
}

func TestPoller_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPoller(queue.NewMemoryQueue(0), newTestRouter(newSpyStore(), nil, nil), PollerConfig{}, nil)
	require.NoError(t, p.Run(ctx))
	assert.Equal(t, StateStopped, p.State())
}

func TestTimerSleeper(t *testing.T) {
	require.NoError(t, TimerSleeper{}.Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, TimerSleeper{}.Sleep(ctx, time.Hour), context.Canceled)
}

func TestPollerConfig_Defaults(t *testing.T) {
	cfg := PollerConfig{WaitSeconds: -1}.withDefaults()
	assert.Equal(t, DefaultBatchSize, cfg.BatchSize)
	assert.Equal(t, DefaultWaitSeconds, cfg.WaitSeconds)
	assert.Equal(t, DefaultBackoff, cfg.Backoff)
}
