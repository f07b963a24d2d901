package consumer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Proton-105/user-sync/internal/domain"
	apperrors "github.com/Proton-105/user-sync/internal/errors"
	"github.com/Proton-105/user-sync/internal/notify"
	"github.com/Proton-105/user-sync/internal/queue"
	"github.com/Proton-105/user-sync/internal/repository"
	"github.com/Proton-105/user-sync/internal/user"
)

// spyStore wraps a MemoryStore and counts writes.
type spyStore struct {
	*repository.MemoryStore

	mu      sync.Mutex
	writes  int
	failing bool
}

func newSpyStore() *spyStore {
	return &spyStore{MemoryStore: repository.NewMemoryStore()}
}

func (s *spyStore) Put(ctx context.Context, u *domain.User) error {
	if err := s.write(); err != nil {
		return err
	}
	return s.MemoryStore.Put(ctx, u)
}

func (s *spyStore) UpdateFields(ctx context.Context, id string, fields map[string]string, at time.Time) error {
	if err := s.write(); err != nil {
		return err
	}
	return s.MemoryStore.UpdateFields(ctx, id, fields, at)
}

func (s *spyStore) write() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writes++
	if s.failing {
		return apperrors.NewStoreUnavailableError("write", errors.New("connection refused"))
	}
	return nil
}

func (s *spyStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *spyStore) SetFailing(failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, msg notify.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
}

// recordingSleeper records every backoff and cancels the run after limit sleeps.
type recordingSleeper struct {
	mu     sync.Mutex
	sleeps []time.Duration
	limit  int
	cancel context.CancelFunc
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	done := len(s.sleeps) >= s.limit
	s.mu.Unlock()

	if done {
		s.cancel()
		return ctx.Err()
	}
	return nil
}

// flakyConsumer fails Receive and Delete a configured number of times.
type flakyConsumer struct {
	*queue.MemoryQueue

	mu           sync.Mutex
	receiveFails int
	deleteFails  int
	receiveCalls int
}

func (c *flakyConsumer) Receive(ctx context.Context, max, wait int32) ([]queue.Message, error) {
	c.mu.Lock()
	c.receiveCalls++
	if c.receiveFails > 0 {
		c.receiveFails--
		c.mu.Unlock()
		return nil, apperrors.NewQueueUnavailableError("receive", errors.New("throttled"))
	}
	c.mu.Unlock()
	return c.MemoryQueue.Receive(ctx, max, wait)
}

func (c *flakyConsumer) Delete(ctx context.Context, receipt string) error {
	c.mu.Lock()
	if c.deleteFails > 0 {
		c.deleteFails--
		c.mu.Unlock()
		return apperrors.NewQueueUnavailableError("delete", errors.New("receipt expired"))
	}
	c.mu.Unlock()
	return c.MemoryQueue.Delete(ctx, receipt)
}

var fixedNow = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func newTestLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func newTestRouter(store repository.UserStore, notifier notify.Notifier, log *slog.Logger) *Router {
	handlers := user.NewHandlers(store, log,
		user.WithClock(func() time.Time { return fixedNow }),
		user.WithRetryPolicy(apperrors.RetryPolicy{}),
	)
	return NewRouter(handlers, notifier, log)
}
