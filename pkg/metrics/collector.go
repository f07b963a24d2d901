package metrics

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncer_messages_total",
			Help: "Total number of queue messages processed labeled by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
	messageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "syncer_message_duration_seconds",
			Help:    "Duration of queue message handling in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	pollErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncer_poll_errors_total",
			Help: "Total number of queue transport failures by call",
		},
		[]string{"call"},
	)
	pollerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "syncer_poller_state",
			Help: "Current poll loop state; 1 for the active state",
		},
		[]string{"state"},
	)
	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncer_queue_depth",
			Help: "Approximate number of visible messages in the queue",
		},
	)
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncer_http_requests_total",
			Help: "Total number of command surface requests by route and status",
		},
		[]string{"route", "method", "status"},
	)
	httpDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "syncer_http_request_duration_seconds",
			Help:    "Duration of command surface requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncer_errors_total",
			Help: "Total number of errors split by code and severity",
		},
		[]string{"code", "severity"},
	)
	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncer_notifications_total",
			Help: "Total number of downstream notifications by result",
		},
		[]string{"result"},
	)
	rateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "syncer_rate_limited_total",
			Help: "Total number of command surface requests rejected by the rate limiter",
		},
	)
)

var pollerStates = []string{"polling", "processing", "waiting", "stopped"}

// RecordMessage counts a processed message and observes its handling time.
func RecordMessage(operation, outcome string, duration time.Duration) {
	if operation == "" {
		operation = "unknown"
	}
	if outcome == "" {
		outcome = "unknown"
	}

	messagesTotal.WithLabelValues(operation, outcome).Inc()
	messageDurationSeconds.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordPollError counts a failed queue call such as "receive" or "delete".
func RecordPollError(call string) {
	pollErrorsTotal.WithLabelValues(call).Inc()
}

// SetPollerState marks state as the only active poll loop state.
func SetPollerState(state string) {
	for _, s := range pollerStates {
		value := 0.0
		if s == state {
			value = 1
		}
		pollerState.WithLabelValues(s).Set(value)
	}
}

// RecordHTTPRequest tracks a command surface request.
func RecordHTTPRequest(route, method string, status int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}

	httpRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	httpDurationSeconds.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordError increments error counters with metadata.
func RecordError(code, severity string) {
	if code == "" {
		code = "unknown"
	}
	if severity == "" {
		severity = "unknown"
	}

	errorsTotal.WithLabelValues(code, severity).Inc()
}

// RecordNotification counts a downstream notification attempt.
func RecordNotification(result string) {
	notificationsTotal.WithLabelValues(result).Inc()
}

// RecordRateLimited counts a rejected request.
func RecordRateLimited() {
	rateLimitedTotal.Inc()
}

// DepthReader reports the approximate number of messages waiting in a queue.
type DepthReader interface {
	ApproximateDepth(ctx context.Context) (int64, error)
}

// DepthCollector periodically samples queue depth into the syncer_queue_depth gauge.
type DepthCollector struct {
	reader   DepthReader
	interval time.Duration
	log      *slog.Logger
}

// NewDepthCollector builds a collector bound to reader.
func NewDepthCollector(reader DepthReader, interval time.Duration, log *slog.Logger) *DepthCollector {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	return &DepthCollector{reader: reader, interval: interval, log: log}
}

// Run samples until ctx is cancelled.
func (c *DepthCollector) Run(ctx context.Context) {
	if c == nil || c.reader == nil {
		return
	}

	for {
		if err := c.collect(ctx); err != nil && ctx.Err() == nil {
			c.log.Debug("queue depth sample failed", slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.interval):
		}
	}
}

func (c *DepthCollector) collect(ctx context.Context) error {
	depth, err := c.reader.ApproximateDepth(ctx)
	if err != nil {
		return err
	}

	queueDepth.Set(float64(depth))
	return nil
}
