// Package httptransport exposes the synchronous query and command surface over HTTP.
package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/Proton-105/user-sync/internal/domain"
	apperrors "github.com/Proton-105/user-sync/internal/errors"
	"github.com/Proton-105/user-sync/internal/health"
	"github.com/Proton-105/user-sync/internal/user"
)

// UserService is implemented by user.Service.
type UserService interface {
	CheckStatus(ctx context.Context, email, dob string) (user.StatusResult, error)
	GetDetails(ctx context.Context, id string) (*domain.User, error)
	BlockByID(ctx context.Context, id string) (user.BlockResult, error)
}

// Probes is implemented by lifecycle.Probes.
type Probes interface {
	Liveness(ctx context.Context) error
	Report(ctx context.Context) (health.Report, error)
}

// MessageSink accepts raw queue bodies. queue.MemoryQueue implements it.
type MessageSink interface {
	SendString(body string) string
}

const maxMessageBytes = 256 << 10

// checkStatusRequest values are matched exactly as stored, so only presence is checked.
type checkStatusRequest struct {
	Email string `json:"email" validate:"required"`
	DOB   string `json:"dob" validate:"required"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Handler serves the user endpoints and the probes.
type Handler struct {
	users    UserService
	probes   Probes
	errs     *apperrors.Handler
	validate *validator.Validate
	log      *slog.Logger
}

// NewHandler builds a Handler. probes may be nil, in which case both probes report OK.
func NewHandler(users UserService, probes Probes, errs *apperrors.Handler, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if errs == nil {
		errs = apperrors.NewHandler(log, false)
	}

	return &Handler{
		users:    users,
		probes:   probes,
		errs:     errs,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
	}
}

func (h *Handler) handleCheckStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req checkStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, apperrors.NewBadRequestError("request body must be a JSON object with email and dob"))
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	req.DOB = strings.TrimSpace(req.DOB)
	if err := h.validate.Struct(req); err != nil {
		h.writeError(ctx, w, apperrors.NewBadRequestError(validationMessage(err)))
		return
	}

	result, err := h.users.CheckStatus(ctx, req.Email, req.DOB)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	record, err := h.users.GetDetails(ctx, strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) handleBlockUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	result, err := h.users.BlockByID(ctx, strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) enqueueHandler(sink MessageSink) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes+1))
		if err != nil || len(body) == 0 || len(body) > maxMessageBytes {
			h.writeError(r.Context(), w, apperrors.NewBadRequestError("message body must be between 1 byte and 256KiB"))
			return
		}

		id := sink.SendString(string(body))
		h.log.InfoContext(r.Context(), "message enqueued", slog.String("message_id", id))
		writeJSON(w, http.StatusAccepted, map[string]string{"messageId": id})
	}
}

func (h *Handler) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if h.probes != nil {
		if err := h.probes.Liveness(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": health.StatusDown, "error": err.Error()})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": health.StatusOK})
}

func (h *Handler) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if h.probes == nil {
		writeJSON(w, http.StatusOK, health.Report{Status: health.StatusOK, Components: map[string]string{}})
		return
	}

	report, err := h.probes.Report(r.Context())
	if err != nil {
		h.log.WarnContext(r.Context(), "readiness check failed", slog.Any("error", err))
		writeJSON(w, http.StatusServiceUnavailable, report)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// writeError hands err to the error handler and writes the JSON envelope.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	code, _ := h.errs.Handle(ctx, err)

	message := "internal server error"
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && code != apperrors.CodeInternal {
		message = appErr.Message
	}

	writeJSON(w, statusFor(code), errorResponse{Error: string(code), Message: message})
}

func statusFor(code apperrors.Code) int {
	switch code {
	case apperrors.CodeBadRequest:
		return http.StatusBadRequest
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}

	return "both email and date of birth must be provided"
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
