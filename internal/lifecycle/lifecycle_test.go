package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/user-sync/internal/health"
)

func TestShutdown_RunsAllHooksAndJoinsErrors(t *testing.T) {
	s := NewShutdown(nil, time.Second)

	var ran atomic.Int32
	s.Register("http", func(context.Context) error { ran.Add(1); return nil })
	s.Register("redis", func(context.Context) error { ran.Add(1); return errors.New("already closed") })
	s.Register("nil", nil)

	err := s.Execute(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: already closed")
	assert.Equal(t, int32(2), ran.Load())
}

func TestShutdown_TimeoutCancelsHooks(t *testing.T) {
	s := NewShutdown(nil, 20*time.Millisecond)
	s.Register("stuck", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	err := s.Execute(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProbes(t *testing.T) {
	checker := health.NewChecker(nil, time.Second)
	checker.AddCheck("store", health.CheckFunc(func(context.Context) error { return errors.New("describe table failed") }))

	var alive atomic.Bool
	alive.Store(true)
	probes := NewProbes(checker, alive.Load, nil)

	require.NoError(t, probes.Liveness(context.Background()))
	err := probes.Readiness(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store")

	alive.Store(false)
	assert.ErrorIs(t, probes.Liveness(context.Background()), ErrPollLoopDown)

	report, err := NewProbes(nil, nil, nil).Report(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Healthy())
}
