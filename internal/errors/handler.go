package errors

import (
	"context"
	"errors"
	"log/slog"

	"github.com/getsentry/sentry-go"

	"github.com/Proton-105/user-sync/pkg/logger"
	"github.com/Proton-105/user-sync/pkg/metrics"
)

// Handler is the single place where failures are logged, counted and reported.
type Handler struct {
	log           *slog.Logger
	sentryEnabled bool
}

func NewHandler(log *slog.Logger, sentryEnabled bool) *Handler {
	return &Handler{
		log:           log,
		sentryEnabled: sentryEnabled,
	}
}

// Handle logs err at a level derived from its code and returns the code and whether
// the failing operation may be retried.
func (h *Handler) Handle(ctx context.Context, err error, attrs ...slog.Attr) (Code, bool) {
	if err == nil {
		return "", false
	}

	if ctx == nil {
		ctx = context.Background()
	}

	log := h.log
	if log == nil {
		log = slog.Default()
	}

	code := CodeOf(err)
	severity := SeverityOf(err)
	retryable := IsRetryable(err)

	fields := []slog.Attr{
		slog.String("code", string(code)),
		slog.String("severity", string(severity)),
		slog.Bool("retryable", retryable),
		slog.String("error", err.Error()),
	}
	if correlationID := logger.CorrelationIDFromContext(ctx); correlationID != "" {
		fields = append(fields, slog.String("correlation_id", correlationID))
	}
	fields = append(fields, attrs...)

	log.LogAttrs(ctx, levelFor(code), "application error", fields...)
	metrics.RecordError(string(code), string(severity))

	if h.sentryEnabled && (severity == SeverityCritical || severity == SeverityHigh) {
		h.sendToSentry(err)
	}

	return code, retryable
}

func levelFor(code Code) slog.Level {
	switch code {
	case CodeUnknownOperation, CodeBlockedGuardAborted, CodeBadRequest, CodeNotificationFailed:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

func (h *Handler) sendToSentry(err error) {
	if err == nil {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		var appErr *AppError
		if errors.As(err, &appErr) && appErr != nil {
			if appErr.Code != "" {
				scope.SetTag("code", string(appErr.Code))
			}

			if appErr.Severity != "" {
				scope.SetTag("severity", string(appErr.Severity))
			}
		}

		sentry.CaptureException(err)
	})
}
