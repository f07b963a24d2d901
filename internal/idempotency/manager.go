// Package idempotency deduplicates redelivered queue messages.
package idempotency

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrInProgress means another consumer holds the lock for the message.
var ErrInProgress = errors.New("message with this key is already being processed")

const (
	defaultLockTTL = 5 * time.Minute
	defaultTTL     = 24 * time.Hour
)

// Operation processes a message and returns its terminal outcome label.
// Returning an error leaves no completion record, so a redelivery runs again.
type Operation func(ctx context.Context) (string, error)

type Result struct {
	Outcome   string
	Duplicate bool
}

type Manager interface {
	Execute(ctx context.Context, messageID string, fn Operation) (*Result, error)
}

type manager struct {
	store   Store
	ttl     time.Duration
	lockTTL time.Duration
	now     func() time.Time
	log     *slog.Logger
}

// NewManager builds a Manager. ttl bounds how long a completed message id is remembered;
// it should exceed the queue's retention period.
func NewManager(store Store, ttl time.Duration, log *slog.Logger) Manager {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	return &manager{
		store:   store,
		ttl:     ttl,
		lockTTL: defaultLockTTL,
		now:     time.Now,
		log:     log,
	}
}

func (m *manager) Execute(ctx context.Context, messageID string, fn Operation) (*Result, error) {
	if fn == nil {
		return nil, errors.New("operation fn cannot be nil")
	}

	key := MessageKey(messageID)

	record, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if record != nil && record.Status == StatusCompleted {
		return &Result{Outcome: record.Outcome, Duplicate: true}, nil
	}

	locked, err := m.store.Lock(ctx, key, m.lockTTL)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, ErrInProgress
	}

	defer func() {
		if err := m.store.ReleaseLock(context.WithoutCancel(ctx), key); err != nil {
			m.log.Warn("dedup lock not released", slog.String("message_id", messageID), slog.Any("error", err))
		}
	}()

	outcome, err := fn(ctx)
	if err != nil {
		return nil, err
	}

	if err := m.store.Set(ctx, key, &Record{
		Status:      StatusCompleted,
		Outcome:     outcome,
		CompletedAt: m.now(),
	}, m.ttl); err != nil {
		// The work is applied; a redelivery will run it again under idempotent handlers.
		m.log.Warn("dedup record not stored", slog.String("message_id", messageID), slog.Any("error", err))
	}

	return &Result{Outcome: outcome}, nil
}
