package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	requests []time.Time
}

// MemoryLimiter is an in-process sliding-window Limiter. It backs single-replica
// deployments and the Redis fallback.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

var _ Limiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter returns an in-memory limiter implementation.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Check enforces a sliding-window limit for the provided key. Rejected requests are
// not counted.
func (m *MemoryLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	now := m.now()
	windowStart := now.Add(-window)

	m.mu.Lock()
	defer m.mu.Unlock()

	bkt, ok := m.buckets[key]
	if !ok {
		bkt = &bucket{requests: make([]time.Time, 0, 8)}
		m.buckets[key] = bkt
	}

	bkt.requests = keepRecent(bkt.requests, windowStart)
	count := len(bkt.requests)

	allowed := count < limit
	if allowed {
		bkt.requests = append(bkt.requests, now)
		count++
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	resetAt := now.Add(window)
	if len(bkt.requests) > 0 {
		resetAt = bkt.requests[0].Add(window)
	}

	return &Result{
		Allowed:   allowed,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// Cleanup removes buckets that have been inactive for more than maxAge and returns
// how many were removed.
func (m *MemoryLimiter) Cleanup(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}

	cutoff := m.now().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, bkt := range m.buckets {
		if len(bkt.requests) == 0 || bkt.requests[len(bkt.requests)-1].Before(cutoff) {
			delete(m.buckets, key)
			removed++
		}
	}

	return removed
}

func keepRecent(reqs []time.Time, windowStart time.Time) []time.Time {
	firstIdx := 0
	for firstIdx < len(reqs) && reqs[firstIdx].Before(windowStart) {
		firstIdx++
	}

	if firstIdx == 0 {
		return reqs
	}

	if firstIdx >= len(reqs) {
		return reqs[:0]
	}

	copy(reqs, reqs[firstIdx:])
	return reqs[:len(reqs)-firstIdx]
}
