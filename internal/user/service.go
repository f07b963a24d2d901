// Package user implements the user state transitions and the query service.
package user

import (
	"context"
	"log/slog"

	"github.com/Proton-105/user-sync/internal/domain"
	apperrors "github.com/Proton-105/user-sync/internal/errors"
	"github.com/Proton-105/user-sync/internal/repository"
	"github.com/Proton-105/user-sync/internal/usercache"
)

// BlockedMessage acknowledges a successful block.
const BlockedMessage = "User blocked"

// StatusResult is returned by CheckStatus.
type StatusResult struct {
	ID     string        `json:"id"`
	Status domain.Status `json:"status"`
}

// BlockResult is returned by BlockByID.
type BlockResult struct {
	Message string `json:"message"`
}

// Service provides the synchronous query and command operations.
type Service struct {
	store    repository.UserStore
	handlers *Handlers
	cache    *usercache.Cache
	log      *slog.Logger
}

// NewService constructs a new Service instance. cache may be nil.
func NewService(store repository.UserStore, handlers *Handlers, cache *usercache.Cache, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}

	return &Service{store: store, handlers: handlers, cache: cache, log: log}
}

// CheckStatus returns the id and status of the lowest-id record matching email and dob.
func (s *Service) CheckStatus(ctx context.Context, email, dob string) (StatusResult, error) {
	if email == "" || dob == "" {
		return StatusResult{}, apperrors.NewBadRequestError("both email and date of birth must be provided")
	}

	users, err := s.store.GetBySecondaryKey(ctx, email, dob)
	if err != nil {
		return StatusResult{}, err
	}
	if len(users) == 0 {
		return StatusResult{}, apperrors.NewNotFoundError("user not found")
	}

	if len(users) > 1 {
		s.log.DebugContext(ctx, "secondary key matches several users", slog.Int("matches", len(users)))
	}

	first := users[0]
	return StatusResult{ID: first.ID, Status: first.Status}, nil
}

// GetDetails returns the full record, reading through the cache when one is configured.
// A record invalidated while it was being read is returned but not cached.
func (s *Service) GetDetails(ctx context.Context, id string) (*domain.User, error) {
	if id == "" {
		return nil, apperrors.NewBadRequestError("id must be provided")
	}

	cached, err := s.cache.Get(ctx, id)
	if err != nil {
		s.log.WarnContext(ctx, "user cache read failed", slog.String("user_id", id), slog.Any("error", err))
	}
	if cached != nil {
		return cached, nil
	}

	version, versionErr := s.cache.Version(ctx, id)
	if versionErr != nil {
		s.log.WarnContext(ctx, "user cache version read failed", slog.String("user_id", id), slog.Any("error", versionErr))
	}

	user, err := s.handlers.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	if versionErr == nil {
		written, err := s.cache.SetIfUnchanged(ctx, user, version)
		if err != nil {
			s.log.WarnContext(ctx, "user cache write failed", slog.String("user_id", id), slog.Any("error", err))
		} else if !written {
			s.log.DebugContext(ctx, "user changed during read; not cached", slog.String("user_id", id))
		}
	}

	return user, nil
}

// BlockByID blocks the user or returns a typed failure with no write.
func (s *Service) BlockByID(ctx context.Context, id string) (BlockResult, error) {
	if err := s.handlers.Block(ctx, id); err != nil {
		return BlockResult{}, err
	}

	return BlockResult{Message: BlockedMessage}, nil
}
