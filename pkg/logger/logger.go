// Package logger builds the application's slog logger.
package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	slogsentry "github.com/samber/slog-sentry/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Proton-105/user-sync/pkg/config"
)

// Option customizes New.
type Option func(*options)

type options struct {
	level  *slog.LevelVar
	output io.Writer
}

// WithLevelVar makes the logger read its minimum level from lv so it can be changed at runtime.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(o *options) { o.level = lv }
}

// WithOutput replaces stdout as the primary destination.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.output = w }
}

// New creates a logger with masking of sensitive attributes, optional file rotation
// and, when Sentry is enabled, forwarding of error records.
func New(cfg config.Config, opts ...Option) *slog.Logger {
	o := options{output: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	if o.level == nil {
		o.level = new(slog.LevelVar)
	}
	o.level.Set(ParseLevel(cfg.Logger.Level))

	out := o.output
	if cfg.Logger.File != "" {
		out = io.MultiWriter(out, &lumberjack.Logger{
			Filename:   cfg.Logger.File,
			MaxSize:    cfg.Logger.MaxSizeMB,
			MaxBackups: cfg.Logger.MaxBackups,
			Compress:   true,
		})
	}

	handlerOpts := &slog.HandlerOptions{Level: o.level}

	var base slog.Handler
	if strings.EqualFold(cfg.Logger.Format, "text") {
		base = slog.NewTextHandler(out, handlerOpts)
	} else {
		base = slog.NewJSONHandler(out, handlerOpts)
	}

	var handler slog.Handler = NewMaskingHandler(base)
	if cfg.Sentry.Enabled {
		sentryHandler := slogsentry.Option{Level: slog.LevelError}.NewSentryHandler()
		handler = newFanoutHandler(handler, NewMaskingHandler(sentryHandler))
	}

	return slog.New(handler).With(slog.String("env", cfg.AppEnv))
}

// ParseLevel maps a config level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// InitSentry configures the global Sentry hub and returns a flush function for shutdown.
func InitSentry(cfg config.SentryConfig, env string) (func(ctx context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	environment := cfg.Environment
	if environment == "" {
		environment = env
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: environment,
	}); err != nil {
		return nil, fmt.Errorf("init sentry: %w", err)
	}

	return func(ctx context.Context) error {
		timeout := 2 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if !sentry.Flush(timeout) {
			return errors.New("sentry flush timed out")
		}
		return nil
	}, nil
}

// fanoutHandler delivers each record to every handler that accepts its level.
type fanoutHandler struct {
	handlers []slog.Handler
}

func newFanoutHandler(handlers ...slog.Handler) *fanoutHandler {
	return &fanoutHandler{handlers: handlers}
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, next := range h.handlers {
		if next.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, next := range h.handlers {
		if !next.Enabled(ctx, record.Level) {
			continue
		}
		if err := next.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, 0, len(h.handlers))
	for _, handler := range h.handlers {
		next = append(next, handler.WithAttrs(attrs))
	}
	return &fanoutHandler{handlers: next}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, 0, len(h.handlers))
	for _, handler := range h.handlers {
		next = append(next, handler.WithGroup(name))
	}
	return &fanoutHandler{handlers: next}
}
