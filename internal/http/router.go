package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Proton-105/user-sync/internal/middleware"
	"github.com/Proton-105/user-sync/pkg/logger"
)

// RouterConfig carries the optional pieces of the middleware chain.
type RouterConfig struct {
	Log           *slog.Logger
	SentryEnabled bool
	// RateLimit guards the user endpoints when set. Probes and /metrics are never limited.
	RateLimit *middleware.RateLimitMiddleware
	// DevQueue mounts POST /dev/messages, which enqueues the raw body. Only set it for
	// the in-memory queue driver.
	DevQueue MessageSink
}

// NewRouter wires the user endpoints, the probes and /metrics.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(logger.Middleware)
	r.Use(middleware.Recovery(log, cfg.SentryEnabled))
	r.Use(middleware.Logging(log))
	r.Use(middleware.Metrics)

	r.Get("/healthz", h.handleLiveness)
	r.Get("/readyz", h.handleReadiness)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	if cfg.DevQueue != nil {
		r.Post("/dev/messages", h.enqueueHandler(cfg.DevQueue))
	}

	r.Group(func(r chi.Router) {
		if cfg.RateLimit != nil {
			r.Use(cfg.RateLimit.Handle)
		}

		r.Post("/check-status", h.handleCheckStatus)
		r.Get("/users/{id}", h.handleGetUser)
		r.Post("/users/{id}/block", h.handleBlockUser)
	})

	return r
}
