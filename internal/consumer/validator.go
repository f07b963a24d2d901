// Package consumer turns queue messages into applied user state changes.
package consumer

import (
	"bytes"
	"encoding/json"

	"github.com/Proton-105/user-sync/internal/domain"
	apperrors "github.com/Proton-105/user-sync/internal/errors"
	"github.com/Proton-105/user-sync/internal/queue"
)

type envelope struct {
	Operation *string         `json:"operation"`
	User      json.RawMessage `json:"user"`
}

// Validate parses a raw message into an event. It fails with MALFORMED_MESSAGE when the
// body is missing, unparseable or lacks operation or user, and with UNKNOWN_OPERATION
// when the operation is not supported.
func Validate(msg queue.Message) (domain.Event, error) {
	if msg.Body == nil {
		return domain.Event{}, apperrors.NewMalformedMessageError("message body is missing", nil)
	}

	body := bytes.TrimSpace([]byte(*msg.Body))
	if len(body) == 0 {
		return domain.Event{}, apperrors.NewMalformedMessageError("message body is empty", nil)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.Event{}, apperrors.NewMalformedMessageError("message body is not a JSON object", err)
	}

	if env.Operation == nil || *env.Operation == "" {
		return domain.Event{}, apperrors.NewMalformedMessageError("invalid message structure: operation is missing", nil)
	}
	if isAbsent(env.User) {
		return domain.Event{}, apperrors.NewMalformedMessageError("invalid message structure: user is missing", nil)
	}

	op, err := domain.ParseOperation(*env.Operation)
	if err != nil {
		return domain.Event{}, apperrors.NewUnknownOperationError(*env.Operation)
	}

	return domain.Event{
		Operation:     op,
		User:          env.User,
		MessageID:     msg.ID,
		ReceiptHandle: msg.ReceiptHandle,
	}, nil
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
