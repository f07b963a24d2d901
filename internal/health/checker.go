// Package health aggregates component checks for the readiness probe.
package health

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	StatusOK   = "OK"
	StatusDown = "DOWN"

	defaultTimeout = 3 * time.Second
)

// Checkable represents a component that can report its health status.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// CheckFunc adapts a function to Checkable.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) HealthCheck(ctx context.Context) error {
	return f(ctx)
}

// Report is the outcome of one Check run.
type Report struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

// Healthy reports whether every component passed.
func (r Report) Healthy() bool {
	return r.Status == StatusOK
}

// Failing lists the names of failed components in order.
func (r Report) Failing() []string {
	var names []string
	for name, status := range r.Components {
		if status != StatusOK {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Checker aggregates health checks for multiple components.
type Checker struct {
	log     *slog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	checks map[string]Checkable
}

// NewChecker instantiates a Checker. Each component check is bounded by timeout.
func NewChecker(log *slog.Logger, timeout time.Duration) *Checker {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Checker{
		log:     log,
		timeout: timeout,
		checks:  make(map[string]Checkable),
	}
}

// AddCheck registers a checkable component by name.
func (c *Checker) AddCheck(name string, check Checkable) {
	if name == "" || check == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Check runs all registered health checks concurrently.
func (c *Checker) Check(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]Checkable, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]string, len(checks))
	)

	for name, check := range checks {
		wg.Add(1)
		go func(name string, check Checkable) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			status := StatusOK
			if err := check.HealthCheck(checkCtx); err != nil {
				status = err.Error()
				c.log.Error("health check failed", slog.String("component", name), slog.Any("error", err))
			}

			mu.Lock()
			results[name] = status
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	report := Report{Status: StatusOK, Components: results}
	for _, status := range results {
		if status != StatusOK {
			report.Status = StatusDown
			break
		}
	}

	return report
}

// Pinger abstracts the subset of redis.Client used for health checks.
type Pinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisChecker verifies connectivity to a Redis instance.
type RedisChecker struct {
	pinger Pinger
}

// NewRedisChecker constructs a RedisChecker.
func NewRedisChecker(pinger Pinger) *RedisChecker {
	return &RedisChecker{pinger: pinger}
}

// HealthCheck issues a PING command against Redis.
func (c *RedisChecker) HealthCheck(ctx context.Context) error {
	if c == nil || c.pinger == nil {
		return redis.ErrClosed
	}
	return c.pinger.Ping(ctx).Err()
}
