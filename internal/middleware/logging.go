// Package middleware holds the HTTP middleware of the command surface.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Proton-105/user-sync/pkg/logger"
)

// Logging creates an HTTP middleware that logs request and response details.
func Logging(log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			statusCode := ww.Status()
			if statusCode == 0 {
				statusCode = http.StatusOK
			}

			level := slog.LevelInfo
			if statusCode >= http.StatusInternalServerError {
				level = slog.LevelError
			}

			log.LogAttrs(r.Context(), level,
				"handled http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", statusCode),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("correlation_id", logger.CorrelationIDFromContext(r.Context())),
			)
		})
	}
}
