package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/Proton-105/user-sync/internal/ratelimit"
	"github.com/Proton-105/user-sync/pkg/metrics"
)

// RateLimitMiddleware enforces per-client rate limits on the command surface.
type RateLimitMiddleware struct {
	limiter ratelimit.Limiter
	rules   *ratelimit.Rules
	log     *slog.Logger
	now     func() time.Time
}

// NewRateLimitMiddleware constructs a rate-limit middleware component.
func NewRateLimitMiddleware(limiter ratelimit.Limiter, rules *ratelimit.Rules, log *slog.Logger) *RateLimitMiddleware {
	if log == nil {
		log = slog.Default()
	}

	return &RateLimitMiddleware{
		limiter: limiter,
		rules:   rules,
		log:     log,
		now:     time.Now,
	}
}

// Handle returns an HTTP middleware keyed by client IP. Limiter failures let the
// request through.
func (m *RateLimitMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.limiter == nil || !m.rules.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := clientIP(r)
		if m.rules.IsWhitelisted(clientIP) {
			next.ServeHTTP(w, r)
			return
		}

		limit, window, err := m.rules.GetPerClientLimit()
		if err != nil {
			m.log.Error("failed to load per-client rate limit", slog.Any("error", err))
			next.ServeHTTP(w, r)
			return
		}

		result, err := m.limiter.Check(r.Context(), "client:"+clientIP, limit, window)
		if err != nil && !errors.Is(err, ratelimit.ErrLimitExceeded) {
			m.log.Warn("rate limiter error", slog.String("client_ip", clientIP), slog.Any("error", err))
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

		if !result.Allowed {
			metrics.RecordRateLimited()
			m.log.Warn("rate limit exceeded", slog.String("client_ip", clientIP))

			retryAfter := result.RetryAfter(m.now())
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Rate limit exceeded. Try again later.")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: code, Message: message})
}
