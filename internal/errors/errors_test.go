package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPolicy = RetryPolicy{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

func TestCodeOf(t *testing.T) {
	testCases := []struct {
		name      string
		err       error
		code      Code
		retryable bool
	}{
		{name: "malformed", err: NewMalformedMessageError("bad body", nil), code: CodeMalformedMessage},
		{name: "wrapped not found", err: fmt.Errorf("update: %w", NewNotFoundError("missing")), code: CodeNotFound},
		{name: "store unavailable", err: NewStoreUnavailableError("put", errors.New("timeout")), code: CodeStoreUnavailable, retryable: true},
		{name: "queue unavailable", err: NewQueueUnavailableError("receive", errors.New("throttled")), code: CodeQueueUnavailable, retryable: true},
		{name: "corrupt record", err: NewCorruptRecordError("decode user 1", errors.New("bad attribute")), code: CodeInternal},
		{name: "foreign error", err: errors.New("boom"), code: CodeInternal},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.code, CodeOf(tc.err))
			assert.True(t, Is(tc.err, tc.code))
			assert.Equal(t, tc.retryable, IsRetryable(tc.err))
		})
	}

	assert.False(t, Is(nil, CodeNotFound))
}

func TestAppError_UnwrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewStoreUnavailableError("get", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestWithRetryPolicy_RetriesRetryableErrors(t *testing.T) {
	calls := 0
	err := WithRetryPolicy(context.Background(), fastPolicy, func() error {
		calls++
		if calls < 3 {
			return NewStoreUnavailableError("put", errors.New("flaky"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryPolicy_StopsOnPermanentError(t *testing.T) {
	calls := 0
	err := WithRetryPolicy(context.Background(), fastPolicy, func() error {
		calls++
		return NewNotFoundError("missing")
	})

	assert.True(t, Is(err, CodeNotFound))
	assert.Equal(t, 1, calls)
}

func TestWithRetryPolicy_GivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	err := WithRetryPolicy(context.Background(), fastPolicy, func() error {
		calls++
		return NewStoreUnavailableError("put", errors.New("down"))
	})

	assert.True(t, Is(err, CodeStoreUnavailable))
	assert.Equal(t, fastPolicy.MaxRetries+1, calls)
}

func TestWithRetryPolicy_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithRetryPolicy(ctx, fastPolicy, func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCircuitBreaker_TripsAndRecovers(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(BreakerSettings{
		ErrorThreshold:      0.5,
		MinRequests:         2,
		OpenTimeout:         time.Minute,
		HalfOpenMaxRequests: 1,
	})
	cb.now = func() time.Time { return now }

	failure := errors.New("downstream 500")
	assert.ErrorIs(t, cb.Call(func() error { return failure }), failure)
	assert.ErrorIs(t, cb.Call(func() error { return failure }), failure)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	assert.ErrorIs(t, cb.Call(func() error { called = true; return nil }), ErrCircuitOpen)
	assert.False(t, called)

	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}
