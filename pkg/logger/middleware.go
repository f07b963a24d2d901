package logger

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// CorrelationIDHeader is echoed back to callers and accepted from upstream proxies.
const CorrelationIDHeader = "X-Correlation-ID"

// correlationIDKey marks the context storage slot for the correlation identifier.
type correlationIDKey struct{}

// CorrelationIDFromContext returns the correlation identifier stored in ctx, or an empty string when absent.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return id
	}

	return ""
}

// ContextWithCorrelationID stores id in ctx. The poll loop uses the queue message id.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// Middleware injects a correlation identifier into the request context before delegating to the next handler.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get(CorrelationIDHeader)
		if correlationID == "" {
			correlationID = uuid.NewString()
		}
		w.Header().Set(CorrelationIDHeader, correlationID)
		next.ServeHTTP(w, r.WithContext(ContextWithCorrelationID(r.Context(), correlationID)))
	})
}
