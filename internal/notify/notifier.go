// Package notify forwards applied user changes to a downstream endpoint.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/Proton-105/user-sync/internal/errors"
	"github.com/Proton-105/user-sync/pkg/logger"
	"github.com/Proton-105/user-sync/pkg/metrics"
)

const defaultTimeout = 5 * time.Second

// Notification is the outbound payload. Creates carry id and email; updates carry
// id, status and a message.
type Notification struct {
	ID      string `json:"id"`
	Email   string `json:"email,omitempty"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// Notifier delivers notifications without blocking or failing the caller.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Notification) {}

// HTTPNotifier POSTs notifications as JSON in background goroutines.
type HTTPNotifier struct {
	endpoint string
	client   *http.Client
	breaker  *apperrors.CircuitBreaker
	log      *slog.Logger
	wg       sync.WaitGroup
}

// NewHTTPNotifier builds a notifier for endpoint. A nil client gets one with timeout.
func NewHTTPNotifier(endpoint string, timeout time.Duration, client *http.Client, log *slog.Logger) *HTTPNotifier {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	if log == nil {
		log = slog.Default()
	}

	return &HTTPNotifier{
		endpoint: endpoint,
		client:   client,
		breaker:  apperrors.NewCircuitBreaker(apperrors.DefaultBreakerSettings),
		log:      log.With(slog.String("component", "notifier")),
	}
}

// New returns an HTTPNotifier when endpoint is set and a NopNotifier otherwise.
func New(endpoint string, timeout time.Duration, log *slog.Logger) Notifier {
	if endpoint == "" {
		return NopNotifier{}
	}
	return NewHTTPNotifier(endpoint, timeout, nil, log)
}

// Notify sends n in the background. The request outlives ctx cancellation so a
// finished state change is still reported during shutdown.
func (h *HTTPNotifier) Notify(ctx context.Context, n Notification) {
	bg := context.WithoutCancel(ctx)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		if err := h.Send(bg, n); err != nil {
			h.log.Warn("notification not delivered",
				slog.String("user_id", n.ID),
				slog.String("correlation_id", logger.CorrelationIDFromContext(bg)),
				slog.Any("error", err),
			)
		}
	}()
}

// Send delivers n synchronously through the circuit breaker.
func (h *HTTPNotifier) Send(ctx context.Context, n Notification) error {
	err := h.breaker.Call(func() error {
		return h.post(ctx, n)
	})
	if err != nil {
		metrics.RecordNotification("failed")
		return apperrors.NewNotificationError(err)
	}

	metrics.RecordNotification("delivered")
	return nil
}

func (h *HTTPNotifier) post(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		req.Header.Set(logger.CorrelationIDHeader, id)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("downstream responded %d", resp.StatusCode)
	}

	return nil
}

// Wait blocks until in-flight notifications finish or ctx is done.
func (h *HTTPNotifier) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreatedNotification describes a created record.
func CreatedNotification(id, email string) Notification {
	return Notification{ID: id, Email: email}
}

// UpdatedNotification describes an updated record.
func UpdatedNotification(id, status string) Notification {
	return Notification{ID: id, Status: status, Message: "User updated"}
}
