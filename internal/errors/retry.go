package errors

import (
	"context"
	"errors"
	"math"
	"time"
)

const (
	MaxRetries        = 3
	InitialBackoff    = 100 * time.Millisecond
	MaxBackoff        = 5 * time.Second
	BackoffMultiplier = 2.0
)

// RetryPolicy bounds WithRetryPolicy. The zero value disables retries.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy is used for store writes.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:     MaxRetries,
	InitialBackoff: InitialBackoff,
	MaxBackoff:     MaxBackoff,
}

// WithRetryPolicy runs fn until it succeeds, returns a non-retryable error, the
// policy is exhausted or ctx is done.
func WithRetryPolicy(ctx context.Context, policy RetryPolicy, fn func() error) error {
	if fn == nil {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}

	var err error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return ctxErr
		}

		err = fn()
		if err == nil {
			return nil
		}

		if !IsRetryable(err) {
			return err
		}

		if attempt == policy.MaxRetries {
			return err
		}

		timer := time.NewTimer(policy.backoff(attempt + 1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}

	return err
}

func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		return appErr.Retryable
	}

	return false
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	delay := float64(p.InitialBackoff) * math.Pow(BackoffMultiplier, float64(attempt))
	backoff := time.Duration(delay)
	if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
		return p.MaxBackoff
	}

	return backoff
}
