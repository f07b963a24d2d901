// Package lifecycle coordinates process startup probes and graceful shutdown.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Hook is a named step of the shutdown sequence, such as flushing Sentry or closing Redis.
type Hook struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Shutdown coordinates graceful shutdown hooks in parallel.
type Shutdown struct {
	mu      sync.Mutex
	hooks   []Hook
	timeout time.Duration
	log     *slog.Logger
}

// NewShutdown constructs a new Shutdown coordinator. A positive timeout bounds the
// whole sequence.
func NewShutdown(log *slog.Logger, timeout time.Duration) *Shutdown {
	if log == nil {
		log = slog.Default()
	}

	return &Shutdown{log: log, timeout: timeout}
}

// Register adds a named shutdown hook.
func (s *Shutdown) Register(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.hooks = append(s.hooks, Hook{Name: name, Fn: fn})
}

// Execute runs all registered hooks concurrently and waits for completion. Hook
// failures are joined into the returned error.
func (s *Shutdown) Execute(ctx context.Context) error {
	s.mu.Lock()
	hooks := append([]Hook(nil), s.hooks...)
	s.mu.Unlock()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	s.log.Info("shutdown sequence started", slog.Int("hook_count", len(hooks)))

	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		errs  []error
	)

	for _, hook := range hooks {
		h := hook

		wg.Add(1)
		go func() {
			defer wg.Done()

			s.log.Info("running shutdown hook", slog.String("hook", h.Name))

			if err := h.Fn(ctx); err != nil {
				s.log.Error("shutdown hook failed", slog.String("hook", h.Name), slog.Any("error", err))
				errMu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", h.Name, err))
				errMu.Unlock()
				return
			}

			s.log.Info("shutdown hook completed", slog.String("hook", h.Name))
		}()
	}

	wg.Wait()
	s.log.Info("shutdown sequence finished", slog.Duration("elapsed", time.Since(start)))

	return errors.Join(errs...)
}
