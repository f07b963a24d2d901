package errors

import (
	"errors"
	"fmt"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Code classifies an AppError.
type Code string

const (
	CodeMalformedMessage    Code = "MALFORMED_MESSAGE"
	CodeUnknownOperation    Code = "UNKNOWN_OPERATION"
	CodeBlockedGuardAborted Code = "BLOCKED_GUARD_ABORTED"
	CodeNotFound            Code = "NOT_FOUND"
	CodeBadRequest          Code = "BAD_REQUEST"
	CodeStoreUnavailable    Code = "STORE_UNAVAILABLE"
	CodeQueueUnavailable    Code = "QUEUE_UNAVAILABLE"
	CodeNotificationFailed  Code = "NOTIFICATION_FAILED"
	CodeInternal            Code = "INTERNAL"
)

type AppError struct {
	Code      Code
	Message   string
	Severity  Severity
	Retryable bool
	cause     error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}

	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

func (e *AppError) Cause() error {
	return e.Unwrap()
}

// NewMalformedMessageError reports a queue body that cannot be turned into an event.
func NewMalformedMessageError(msg string, cause error) *AppError {
	return &AppError{
		Code:      CodeMalformedMessage,
		Message:   msg,
		Severity:  SeverityMedium,
		Retryable: false,
		cause:     cause,
	}
}

func NewUnknownOperationError(operation string) *AppError {
	return &AppError{
		Code:      CodeUnknownOperation,
		Message:   fmt.Sprintf("unknown operation %q", operation),
		Severity:  SeverityLow,
		Retryable: false,
	}
}

// NewBlockedGuardError marks an update that was skipped because the user is blocked.
// It is an expected outcome, not a failure.
func NewBlockedGuardError(userID string) *AppError {
	return &AppError{
		Code:      CodeBlockedGuardAborted,
		Message:   fmt.Sprintf("user %s is blocked", userID),
		Severity:  SeverityLow,
		Retryable: false,
	}
}

func NewNotFoundError(msg string) *AppError {
	return &AppError{
		Code:      CodeNotFound,
		Message:   msg,
		Severity:  SeverityLow,
		Retryable: false,
	}
}

func NewBadRequestError(msg string) *AppError {
	return &AppError{
		Code:      CodeBadRequest,
		Message:   msg,
		Severity:  SeverityLow,
		Retryable: false,
	}
}

func NewStoreUnavailableError(operation string, cause error) *AppError {
	return &AppError{
		Code:      CodeStoreUnavailable,
		Message:   fmt.Sprintf("store %s failed", operation),
		Severity:  SeverityHigh,
		Retryable: true,
		cause:     cause,
	}
}

func NewQueueUnavailableError(operation string, cause error) *AppError {
	return &AppError{
		Code:      CodeQueueUnavailable,
		Message:   fmt.Sprintf("queue %s failed", operation),
		Severity:  SeverityHigh,
		Retryable: true,
		cause:     cause,
	}
}

func NewNotificationError(cause error) *AppError {
	return &AppError{
		Code:      CodeNotificationFailed,
		Message:   "downstream notification failed",
		Severity:  SeverityMedium,
		Retryable: false,
		cause:     cause,
	}
}

// NewCorruptRecordError reports a stored record that cannot be encoded or decoded.
// Redelivering the message cannot fix it.
func NewCorruptRecordError(msg string, cause error) *AppError {
	return &AppError{
		Code:      CodeInternal,
		Message:   msg,
		Severity:  SeverityHigh,
		Retryable: false,
		cause:     cause,
	}
}

// CodeOf returns the code of the first AppError in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		return appErr.Code
	}

	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	if err == nil {
		return false
	}

	return CodeOf(err) == code
}

// SeverityOf returns the severity of err, treating foreign errors as high.
func SeverityOf(err error) Severity {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		return appErr.Severity
	}

	return SeverityHigh
}
