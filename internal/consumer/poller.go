package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	apperrors "github.com/Proton-105/user-sync/internal/errors"
	"github.com/Proton-105/user-sync/internal/idempotency"
	"github.com/Proton-105/user-sync/internal/queue"
	"github.com/Proton-105/user-sync/pkg/logger"
	"github.com/Proton-105/user-sync/pkg/metrics"
)

// State is the poll loop state.
type State string

const (
	StatePolling    State = "polling"
	StateProcessing State = "processing"
	StateWaiting    State = "waiting"
	StateStopped    State = "stopped"
)

const (
	DefaultBatchSize   int32 = 10
	DefaultWaitSeconds int32 = 20
	DefaultBackoff           = 10 * time.Second
)

// Sleeper waits between poll cycles. Sleep returns ctx.Err() when cancelled first.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// TimerSleeper sleeps on a time.Timer.
type TimerSleeper struct{}

func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PollerConfig tunes the poll loop.
type PollerConfig struct {
	BatchSize   int32
	WaitSeconds int32
	Backoff     time.Duration
}

func (c PollerConfig) withDefaults() PollerConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.WaitSeconds < 0 {
		c.WaitSeconds = DefaultWaitSeconds
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	return c
}

// PollerOption customises a Poller.
type PollerOption func(*Poller)

// WithSleeper replaces the backoff timer.
func WithSleeper(s Sleeper) PollerOption {
	return func(p *Poller) {
		if s != nil {
			p.sleeper = s
		}
	}
}

// WithDedup skips messages whose id was already processed to a terminal outcome.
func WithDedup(m idempotency.Manager) PollerOption {
	return func(p *Poller) {
		p.dedup = m
	}
}

// WithErrorHandler sets the handler that logs and reports failed messages.
func WithErrorHandler(h *apperrors.Handler) PollerOption {
	return func(p *Poller) {
		if h != nil {
			p.errs = h
		}
	}
}

// Poller drives the queue: receive a batch, handle each message in order, acknowledge
// terminal outcomes, then back off before the next cycle.
type Poller struct {
	consumer queue.Consumer
	router   *Router
	sleeper  Sleeper
	dedup    idempotency.Manager
	errs     *apperrors.Handler
	cfg      PollerConfig
	log      *slog.Logger
	state    atomic.Value
}

func NewPoller(consumer queue.Consumer, router *Router, cfg PollerConfig, log *slog.Logger, opts ...PollerOption) *Poller {
	if log == nil {
		log = slog.Default()
	}

	p := &Poller{
		consumer: consumer,
		router:   router,
		sleeper:  TimerSleeper{},
		errs:     apperrors.NewHandler(log, false),
		cfg:      cfg.withDefaults(),
		log:      log.With(slog.String("component", "poller")),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.setState(StateStopped)

	return p
}

// State returns the current loop state.
func (p *Poller) State() State {
	return p.state.Load().(State)
}

func (p *Poller) setState(s State) {
	p.state.Store(s)
	metrics.SetPollerState(string(s))
}

// Run polls until ctx is cancelled. It never returns early on queue or message failures.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info("poll loop started",
		slog.Int("batch_size", int(p.cfg.BatchSize)),
		slog.Int("wait_seconds", int(p.cfg.WaitSeconds)),
		slog.Duration("backoff", p.cfg.Backoff),
	)
	defer func() {
		p.setState(StateStopped)
		p.log.Info("poll loop stopped")
	}()

	for ctx.Err() == nil {
		if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
			metrics.RecordPollError("receive")
			p.errs.Handle(ctx, err)
		}

		p.setState(StateWaiting)
		if err := p.sleeper.Sleep(ctx, p.cfg.Backoff); err != nil {
			break
		}
	}

	return nil
}

// RunOnce performs a single receive and processing pass and returns the number of
// messages received.
func (p *Poller) RunOnce(ctx context.Context) (int, error) {
	p.setState(StatePolling)

	messages, err := p.consumer.Receive(ctx, p.cfg.BatchSize, p.cfg.WaitSeconds)
	if err != nil {
		return 0, err
	}

	if len(messages) == 0 {
		p.log.Debug("queue is empty, waiting before next poll")
		return 0, nil
	}

	p.setState(StateProcessing)
	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}
		p.process(ctx, msg)
	}

	return len(messages), nil
}

func (p *Poller) process(ctx context.Context, msg queue.Message) {
	ctx = logger.ContextWithCorrelationID(ctx, msg.ID)
	start := time.Now()

	outcome := p.handle(ctx, msg)

	operation := outcome.Operation.String()
	if operation == "" {
		operation = "invalid"
	}
	metrics.RecordMessage(operation, outcome.Kind.String(), time.Since(start))

	if outcome.Err != nil && outcome.Kind != Skipped {
		p.errs.Handle(ctx, outcome.Err,
			slog.String("message_id", msg.ID),
			slog.String("operation", operation),
			slog.String("outcome", outcome.Kind.String()),
		)
	}

	if !outcome.Kind.Acknowledge() {
		return
	}

	if err := p.consumer.Delete(ctx, msg.ReceiptHandle); err != nil {
		metrics.RecordPollError("delete")
		p.log.WarnContext(ctx, "message not deleted, it will be redelivered",
			slog.String("message_id", msg.ID),
			slog.String("receipt_handle", msg.ReceiptHandle),
			slog.Any("error", err),
		)
	}
}

var errRetryOutcome = errors.New("retry outcome")

func (p *Poller) handle(ctx context.Context, msg queue.Message) Outcome {
	if p.dedup == nil || msg.ID == "" {
		return p.safeRoute(ctx, msg)
	}

	var outcome Outcome
	result, err := p.dedup.Execute(ctx, msg.ID, func(ctx context.Context) (string, error) {
		outcome = p.safeRoute(ctx, msg)
		if !outcome.Kind.Acknowledge() {
			return "", errRetryOutcome
		}
		return outcome.Kind.String(), nil
	})

	switch {
	case err == nil && result.Duplicate:
		p.log.InfoContext(ctx, "message already processed, acknowledging",
			slog.String("message_id", msg.ID),
			slog.String("previous_outcome", result.Outcome),
		)
		return Outcome{Kind: Skipped}
	case err == nil, errors.Is(err, errRetryOutcome):
		return outcome
	case errors.Is(err, idempotency.ErrInProgress):
		p.log.InfoContext(ctx, "message is being processed by another consumer", slog.String("message_id", msg.ID))
		return Outcome{Kind: Retry}
	default:
		p.log.WarnContext(ctx, "dedup unavailable, processing without it", slog.Any("error", err))
		return p.safeRoute(ctx, msg)
	}
}

// safeRoute validates and routes msg, converting a panic into a Retry outcome.
func (p *Poller) safeRoute(ctx context.Context, msg queue.Message) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = Outcome{Kind: Retry, Operation: outcome.Operation, Err: fmt.Errorf("panic while handling message: %v", r)}
		}
	}()

	ev, err := Validate(msg)
	if err != nil {
		return Outcome{Kind: Rejected, Err: err}
	}

	outcome.Operation = ev.Operation
	return p.router.Route(ctx, ev)
}
