package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rateLimitChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "syncer_ratelimit_checks_total",
		Help: "Total number of rate limit checks by backend and result.",
	}, []string{"backend", "result"})

	rateLimitBackendErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "syncer_ratelimit_backend_errors_total",
		Help: "Total number of primary backend errors encountered by the limiter.",
	})
)

// AdaptiveLimiter delegates to a primary (Redis) limiter and falls back to
// a stricter in-memory limiter when the primary fails.
type AdaptiveLimiter struct {
	primary  Limiter
	fallback Limiter
	log      *slog.Logger
}

var _ Limiter = (*AdaptiveLimiter)(nil)

// NewAdaptiveLimiter creates a limiter that adapts between Redis and in-memory backends.
func NewAdaptiveLimiter(primary, fallback Limiter, log *slog.Logger) *AdaptiveLimiter {
	if log == nil {
		log = slog.Default()
	}

	return &AdaptiveLimiter{
		primary:  primary,
		fallback: fallback,
		log:      log,
	}
}

// Check evaluates the limit using the primary backend and halves the limit on the
// fallback when the primary fails. It returns ErrLimitExceeded for rejected requests.
func (a *AdaptiveLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	result, err := a.primary.Check(ctx, key, limit, window)
	if err == nil {
		return a.observe("redis", result)
	}

	rateLimitBackendErrorsTotal.Inc()
	a.log.Warn("redis limiter failed, falling back to in-memory", slog.String("key", key), slog.Any("error", err))

	fallbackLimit := limit / 2
	if fallbackLimit <= 0 {
		fallbackLimit = 1
	}

	result, err = a.fallback.Check(ctx, key, fallbackLimit, window)
	if err != nil {
		return result, err
	}

	return a.observe("fallback", result)
}

func (a *AdaptiveLimiter) observe(backend string, result *Result) (*Result, error) {
	rateLimitChecksTotal.WithLabelValues(backend, boolLabel(result.Allowed)).Inc()
	if !result.Allowed {
		return result, ErrLimitExceeded
	}
	return result, nil
}

func boolLabel(value bool) string {
	if value {
		return "allowed"
	}
	return "rejected"
}
