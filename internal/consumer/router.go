package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/Proton-105/user-sync/internal/domain"
	apperrors "github.com/Proton-105/user-sync/internal/errors"
	"github.com/Proton-105/user-sync/internal/notify"
	"github.com/Proton-105/user-sync/internal/user"
)

// BlockedGuardMessage is logged when an update targets a blocked user.
const BlockedGuardMessage = "Update operation aborted: User is blocked"

// OutcomeKind tells the poll loop whether to acknowledge a message.
type OutcomeKind int

const (
	// Applied means the state change was written.
	Applied OutcomeKind = iota
	// Skipped means nothing was written on purpose, such as the blocked-guard.
	Skipped
	// Rejected means the message can never succeed.
	Rejected
	// Retry means a transient failure; the message is left for redelivery.
	Retry
)

func (k OutcomeKind) String() string {
	switch k {
	case Applied:
		return "applied"
	case Skipped:
		return "skipped"
	case Rejected:
		return "rejected"
	case Retry:
		return "retry"
	default:
		return "unknown"
	}
}

// Acknowledge reports whether the message should be deleted from the queue.
func (k OutcomeKind) Acknowledge() bool {
	return k != Retry
}

// Outcome is the result of handling one message.
type Outcome struct {
	Kind      OutcomeKind
	Operation domain.Operation
	Err       error
}

func applied(op domain.Operation) Outcome {
	return Outcome{Kind: Applied, Operation: op}
}

// failed classifies err: retryable and foreign errors are retried, application errors rejected.
func failed(op domain.Operation, err error) Outcome {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) || appErr.Retryable {
		return Outcome{Kind: Retry, Operation: op, Err: err}
	}
	return Outcome{Kind: Rejected, Operation: op, Err: err}
}

// Router dispatches validated events to the transition handlers and enforces the
// blocked-guard on updates.
type Router struct {
	handlers *user.Handlers
	notifier notify.Notifier
	log      *slog.Logger
}

func NewRouter(handlers *user.Handlers, notifier notify.Notifier, log *slog.Logger) *Router {
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	if log == nil {
		log = slog.Default()
	}

	return &Router{handlers: handlers, notifier: notifier, log: log}
}

// Route applies ev and returns its outcome.
func (r *Router) Route(ctx context.Context, ev domain.Event) Outcome {
	var payload domain.UserPayload
	if err := json.Unmarshal(ev.User, &payload); err != nil {
		return failed(ev.Operation, apperrors.NewMalformedMessageError("user payload is not a valid object", err))
	}

	switch ev.Operation {
	case domain.OperationCreate:
		return r.create(ctx, payload)
	case domain.OperationUpdate:
		return r.update(ctx, payload)
	case domain.OperationBlock:
		return r.block(ctx, payload)
	default:
		return failed(ev.Operation, apperrors.NewUnknownOperationError(ev.Operation.String()))
	}
}

func (r *Router) create(ctx context.Context, payload domain.UserPayload) Outcome {
	created, err := r.handlers.Create(ctx, payload)
	if err != nil {
		return failed(domain.OperationCreate, err)
	}

	r.notifier.Notify(ctx, notify.CreatedNotification(created.ID, created.Email))
	return applied(domain.OperationCreate)
}

func (r *Router) update(ctx context.Context, payload domain.UserPayload) Outcome {
	if payload.ID == "" {
		return failed(domain.OperationUpdate, apperrors.NewMalformedMessageError("update requires user.id", nil))
	}

	current, err := r.handlers.Lookup(ctx, payload.ID)
	if err != nil {
		return failed(domain.OperationUpdate, err)
	}

	if current.IsBlocked() {
		r.log.WarnContext(ctx, BlockedGuardMessage, slog.String("user_id", current.ID))
		return Outcome{
			Kind:      Skipped,
			Operation: domain.OperationUpdate,
			Err:       apperrors.NewBlockedGuardError(current.ID),
		}
	}

	updated, err := r.handlers.Update(ctx, current, payload.Patch())
	if err != nil {
		return failed(domain.OperationUpdate, err)
	}

	r.notifier.Notify(ctx, notify.UpdatedNotification(updated.ID, string(updated.Status)))
	return applied(domain.OperationUpdate)
}

func (r *Router) block(ctx context.Context, payload domain.UserPayload) Outcome {
	if payload.ID == "" {
		return failed(domain.OperationBlock, apperrors.NewMalformedMessageError("block requires user.id", nil))
	}

	if err := r.handlers.Block(ctx, payload.ID); err != nil {
		return failed(domain.OperationBlock, err)
	}

	return applied(domain.OperationBlock)
}
