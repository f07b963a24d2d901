// Package ratelimit limits command surface requests per client.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// Result captures the outcome of a rate-limit evaluation.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns how long a rejected client should wait, rounded up to a second.
func (r *Result) RetryAfter(now time.Time) time.Duration {
	if r == nil || !r.ResetAt.After(now) {
		return time.Second
	}
	return r.ResetAt.Sub(now).Round(time.Second) + time.Second
}

// Limiter describes a rate-limiting strategy interface.
type Limiter interface {
	Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

// ErrLimitExceeded indicates the rate limit has been reached for the key.
var ErrLimitExceeded = errors.New("rate limit exceeded")

const keyPrefix = "ratelimit:"
