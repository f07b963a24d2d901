package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/user-sync/internal/ratelimit"
	"github.com/Proton-105/user-sync/pkg/config"
)

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func TestRateLimit_RejectsOverLimit(t *testing.T) {
	rules := ratelimit.NewRules(config.RateLimitConfig{
		Enabled:   true,
		PerClient: config.RateLimitRule{Limit: 2, Window: "1m"},
	})
	mw := NewRateLimitMiddleware(ratelimit.NewMemoryLimiter(), rules, nil)
	handler := mw.Handle(http.HandlerFunc(okHandler))

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/users/1", nil)
		req.RemoteAddr = "192.0.2.10:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		last = rec
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.NotEmpty(t, last.Header().Get("Retry-After"))

	var body errorBody
	require.NoError(t, json.Unmarshal(last.Body.Bytes(), &body))
	assert.Equal(t, "RATE_LIMITED", body.Error)
}

func TestRateLimit_WhitelistAndDisabled(t *testing.T) {
	testCases := []struct {
		name string
		cfg  config.RateLimitConfig
	}{
		{name: "disabled", cfg: config.RateLimitConfig{PerClient: config.RateLimitRule{Limit: 1, Window: "1m"}}},
		{name: "whitelisted", cfg: config.RateLimitConfig{
			Enabled:   true,
			PerClient: config.RateLimitRule{Limit: 1, Window: "1m"},
			Whitelist: []string{"192.0.2.0/24"},
		}},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			mw := NewRateLimitMiddleware(ratelimit.NewMemoryLimiter(), ratelimit.NewRules(tc.cfg), nil)
			handler := mw.Handle(http.HandlerFunc(okHandler))

			for i := 0; i < 3; i++ {
				req := httptest.NewRequest(http.MethodGet, "/", nil)
				req.RemoteAddr = "192.0.2.10:5555"
				rec := httptest.NewRecorder()
				handler.ServeHTTP(rec, req)
				assert.Equal(t, http.StatusOK, rec.Code)
			}
		})
	}
}

func TestRecovery_Returns500(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := Recovery(log, false)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/1", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "panic in http handler")
}

func TestLoggingAndMetrics_RecordStatus(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	r := chi.NewRouter()
	r.Use(Logging(log), Metrics)
	r.Get("/users/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/42", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "handled http request", entry["msg"])
	assert.Equal(t, float64(http.StatusNotFound), entry["status"])
	assert.Equal(t, "/users/42", entry["path"])
}
