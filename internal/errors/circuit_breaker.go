package errors

import (
	"errors"
	"sync"
	"time"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerSettings tunes a CircuitBreaker.
type BreakerSettings struct {
	ErrorThreshold      float64
	MinRequests         int
	OpenTimeout         time.Duration
	HalfOpenMaxRequests int
}

// DefaultBreakerSettings trips after half of at least ten calls fail and probes again after 30s.
var DefaultBreakerSettings = BreakerSettings{
	ErrorThreshold:      0.5,
	MinRequests:         10,
	OpenTimeout:         30 * time.Second,
	HalfOpenMaxRequests: 3,
}

var (
	ErrCircuitOpen             = errors.New("circuit breaker is open")
	errHalfOpenTooManyRequests = errors.New("too many requests in half-open")
)

type CircuitBreaker struct {
	mu              sync.Mutex
	settings        BreakerSettings
	state           State
	failures        int
	successes       int
	requests        int
	lastFailureTime time.Time
	now             func() time.Time
}

func NewCircuitBreaker(settings BreakerSettings) *CircuitBreaker {
	return &CircuitBreaker{
		settings: settings,
		state:    StateClosed,
		now:      time.Now,
	}
}

func (cb *CircuitBreaker) Call(fn func() error) error {
	if fn == nil {
		return nil
	}

	cb.mu.Lock()
	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailureTime) >= cb.settings.OpenTimeout {
			cb.transitionToHalfOpenLocked()
		} else {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
	}

	if cb.state == StateHalfOpen && cb.requests >= cb.settings.HalfOpenMaxRequests {
		cb.mu.Unlock()
		return errHalfOpenTooManyRequests
	}
	cb.mu.Unlock()

	callErr := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.requests++
	if callErr != nil {
		cb.failures++

		if cb.state == StateHalfOpen {
			cb.tripToOpenLocked()
		} else {
			cb.evaluateStateLocked()
		}

		return callErr
	}

	cb.successes++

	if cb.state == StateHalfOpen && cb.successes >= cb.settings.HalfOpenMaxRequests {
		cb.state = StateClosed
		cb.resetCountersLocked()
	}

	return nil
}

func (cb *CircuitBreaker) evaluateStateLocked() {
	if cb.requests < cb.settings.MinRequests {
		return
	}

	errorRate := float64(cb.failures) / float64(cb.requests)
	if errorRate >= cb.settings.ErrorThreshold {
		cb.tripToOpenLocked()
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) resetCountersLocked() {
	cb.failures = 0
	cb.successes = 0
	cb.requests = 0
}

func (cb *CircuitBreaker) transitionToHalfOpenLocked() {
	cb.state = StateHalfOpen
	cb.resetCountersLocked()
}

func (cb *CircuitBreaker) tripToOpenLocked() {
	cb.state = StateOpen
	cb.lastFailureTime = cb.now()
	cb.resetCountersLocked()
}
