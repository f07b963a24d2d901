package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/getsentry/sentry-go"

	"github.com/Proton-105/user-sync/pkg/logger"
)

// Recovery turns a handler panic into a 500 response and reports it.
func Recovery(log *slog.Logger, sentryEnabled bool) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil || rec == http.ErrAbortHandler {
					if rec != nil {
						panic(rec)
					}
					return
				}

				log.ErrorContext(r.Context(), "panic in http handler",
					slog.Any("panic", rec),
					slog.String("path", r.URL.Path),
					slog.String("correlation_id", logger.CorrelationIDFromContext(r.Context())),
					slog.String("stack", string(debug.Stack())),
				)
				if sentryEnabled {
					sentry.CurrentHub().Recover(rec)
				}

				writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
			}()

			next.ServeHTTP(w, r)
		})
	}
}
