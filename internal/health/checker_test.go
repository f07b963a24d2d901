package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecker_AggregatesComponents(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	checker := NewChecker(nil, time.Second)
	checker.AddCheck("redis", NewRedisChecker(client))
	checker.AddCheck("store", CheckFunc(func(context.Context) error { return nil }))

	report := checker.Check(context.Background())
	require.True(t, report.Healthy())
	assert.Equal(t, map[string]string{"redis": StatusOK, "store": StatusOK}, report.Components)

	checker.AddCheck("queue", CheckFunc(func(context.Context) error { return errors.New("queue attributes failed") }))
	mr.Close()

	report = checker.Check(context.Background())
	assert.False(t, report.Healthy())
	assert.Equal(t, StatusDown, report.Status)
	assert.Equal(t, []string{"queue", "redis"}, report.Failing())
	assert.Equal(t, "queue attributes failed", report.Components["queue"])
}

func TestChecker_BoundsSlowChecks(t *testing.T) {
	checker := NewChecker(nil, 20*time.Millisecond)
	checker.AddCheck("slow", CheckFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	report := checker.Check(context.Background())
	assert.Equal(t, []string{"slow"}, report.Failing())
}

func TestChecker_IgnoresInvalidRegistrations(t *testing.T) {
	checker := NewChecker(nil, 0)
	checker.AddCheck("", CheckFunc(func(context.Context) error { return nil }))
	checker.AddCheck("nil", nil)

	report := checker.Check(context.Background())
	assert.True(t, report.Healthy())
	assert.Empty(t, report.Components)
}

func TestRedisChecker_Nil(t *testing.T) {
	assert.Error(t, NewRedisChecker(nil).HealthCheck(context.Background()))
}
