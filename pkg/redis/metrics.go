package redis

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	goredis "github.com/redis/go-redis/v9"
)

var (
	redisRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_requests_total",
			Help: "Total number of Redis requests by command.",
		},
		[]string{"command"},
	)
	redisErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_errors_total",
			Help: "Total number of Redis errors by command.",
		},
		[]string{"command"},
	)
	redisRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_request_duration_seconds",
			Help:    "Redis request latency distributions.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)
)

// MetricsHook records Prometheus metrics for every command and pipeline.
// A cache miss (redis.Nil) is not counted as an error.
type MetricsHook struct{}

var _ goredis.Hook = MetricsHook{}

func (MetricsHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (MetricsHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		observe(cmd.Name(), time.Since(start), err)
		return err
	}
}

func (MetricsHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		observe("pipeline", time.Since(start), err)
		return err
	}
}

func observe(command string, elapsed time.Duration, err error) {
	redisRequestDuration.WithLabelValues(command).Observe(elapsed.Seconds())
	redisRequestsTotal.WithLabelValues(command).Inc()
	if err != nil && !errors.Is(err, goredis.Nil) {
		redisErrorsTotal.WithLabelValues(command).Inc()
	}
}
