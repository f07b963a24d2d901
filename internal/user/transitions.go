package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Proton-105/user-sync/internal/domain"
	apperrors "github.com/Proton-105/user-sync/internal/errors"
	"github.com/Proton-105/user-sync/internal/repository"
	"github.com/Proton-105/user-sync/internal/usercache"
)

// Handlers apply create, update and block transitions against the store. Each
// transition performs exactly one logical store write.
type Handlers struct {
	store repository.UserStore
	cache *usercache.Cache
	retry apperrors.RetryPolicy
	now   func() time.Time
	log   *slog.Logger
}

// Option customises Handlers.
type Option func(*Handlers)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(h *Handlers) {
		if now != nil {
			h.now = now
		}
	}
}

// WithRetryPolicy overrides the retry policy for store writes.
func WithRetryPolicy(policy apperrors.RetryPolicy) Option {
	return func(h *Handlers) {
		h.retry = policy
	}
}

// WithCache invalidates cached details after each write.
func WithCache(cache *usercache.Cache) Option {
	return func(h *Handlers) {
		h.cache = cache
	}
}

func NewHandlers(store repository.UserStore, log *slog.Logger, opts ...Option) *Handlers {
	if log == nil {
		log = slog.Default()
	}

	h := &Handlers{
		store: store,
		retry: apperrors.DefaultRetryPolicy,
		now:   func() time.Time { return time.Now().UTC() },
		log:   log,
	}
	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Create upserts the full record described by payload. A missing status becomes
// created; both timestamps are set to now. Re-applying the same create overwrites.
func (h *Handlers) Create(ctx context.Context, payload domain.UserPayload) (*domain.User, error) {
	if payload.ID == "" {
		return nil, apperrors.NewMalformedMessageError("create requires user.id", nil)
	}

	status := domain.StatusCreated
	if payload.Status != nil && *payload.Status != "" {
		status = domain.Status(*payload.Status)
		if !status.Valid() {
			return nil, apperrors.NewMalformedMessageError(fmt.Sprintf("invalid status %q", *payload.Status), nil)
		}
	}

	now := h.now()
	record := domain.User{ID: payload.ID, Status: status, CreatedAt: now, UpdatedAt: now}.Apply(withoutStatus(payload.Patch()))

	if err := h.write(ctx, func() error { return h.store.Put(ctx, &record) }); err != nil {
		return nil, err
	}

	h.invalidate(ctx, record.ID)
	h.log.InfoContext(ctx, "user created", slog.String("user_id", record.ID), slog.String("status", string(record.Status)))

	return &record, nil
}

// Update merges patch into current, which the caller has already loaded and checked
// against the blocked-guard. Attributes absent from patch are left untouched.
func (h *Handlers) Update(ctx context.Context, current *domain.User, patch map[string]string) (*domain.User, error) {
	if current == nil {
		return nil, apperrors.NewNotFoundError("user not found")
	}

	if raw, ok := patch[domain.AttrStatus]; ok {
		if !domain.IsTransitionAllowed(current.Status, domain.Status(raw)) {
			return nil, apperrors.NewMalformedMessageError(
				fmt.Sprintf("status %q cannot be applied to a %s user", raw, current.Status), nil)
		}
	}

	now := h.now()
	err := h.write(ctx, func() error { return h.store.UpdateFields(ctx, current.ID, patch, now) })
	if err != nil {
		return nil, err
	}

	updated := current.Apply(patch)
	updated.UpdatedAt = now

	h.invalidate(ctx, current.ID)
	h.log.InfoContext(ctx, "user updated", slog.String("user_id", current.ID), slog.Int("fields", len(patch)))

	return &updated, nil
}

// Block sets status to blocked. Blocking a blocked user succeeds.
func (h *Handlers) Block(ctx context.Context, id string) error {
	if id == "" {
		return apperrors.NewBadRequestError("id must be provided")
	}

	if _, err := h.store.GetByID(ctx, id); err != nil {
		return mapStoreError(err, id)
	}

	now := h.now()
	fields := map[string]string{domain.AttrStatus: string(domain.StatusBlocked)}
	if err := h.write(ctx, func() error { return h.store.UpdateFields(ctx, id, fields, now) }); err != nil {
		return err
	}

	h.invalidate(ctx, id)
	h.log.InfoContext(ctx, "user blocked", slog.String("user_id", id))

	return nil
}

// Lookup loads a record, mapping absence to NOT_FOUND.
func (h *Handlers) Lookup(ctx context.Context, id string) (*domain.User, error) {
	user, err := h.store.GetByID(ctx, id)
	if err != nil {
		return nil, mapStoreError(err, id)
	}
	return user, nil
}

func (h *Handlers) write(ctx context.Context, fn func() error) error {
	err := apperrors.WithRetryPolicy(ctx, h.retry, fn)
	if err != nil {
		return mapStoreError(err, "")
	}
	return nil
}

func (h *Handlers) invalidate(ctx context.Context, id string) {
	if err := h.cache.Invalidate(ctx, id); err != nil {
		h.log.WarnContext(ctx, "user cache invalidation failed", slog.String("user_id", id), slog.Any("error", err))
	}
}

func mapStoreError(err error, id string) error {
	if errors.Is(err, repository.ErrUserNotFound) {
		if id == "" {
			return apperrors.NewNotFoundError("user not found")
		}
		return apperrors.NewNotFoundError(fmt.Sprintf("user %s not found", id))
	}
	return err
}

func withoutStatus(fields map[string]string) map[string]string {
	delete(fields, domain.AttrStatus)
	return fields
}
