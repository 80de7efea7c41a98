package processor

import (
	"errors"
	"fmt"
)

// ErrorKind classifies processing failures. Only unsupported events are
// excluded from retrying; they can never succeed on a later attempt.
type ErrorKind int

const (
	ErrorOrderNotFound ErrorKind = iota + 1
	ErrorUnsupportedEvent
	ErrorInternal
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorOrderNotFound:
		return "order_not_found"
	case ErrorUnsupportedEvent:
		return "unsupported_event"
	case ErrorInternal:
		return "internal"
	}
	return "unknown"
}

// Error is a classified processing failure.
type Error struct {
	Kind  ErrorKind
	msg   string
	cause error
}

func (e *Error) Error() string {
	return e.msg
}

func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) Retryable() bool {
	return e.Kind != ErrorUnsupportedEvent
}

// Retryable reports whether a processing failure should be requeued.
// Unclassified errors are treated as retryable.
func Retryable(err error) bool {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Retryable()
	}
	return true
}

func orderNotFoundError(externalID string) *Error {
	return &Error{
		Kind: ErrorOrderNotFound,
		msg:  fmt.Sprintf("order not found for external ID: %s", externalID),
	}
}

func unsupportedEventError(eventType string) *Error {
	return &Error{
		Kind: ErrorUnsupportedEvent,
		msg:  fmt.Sprintf("unsupported event type: %s", eventType),
	}
}

func internalError(op string, cause error) *Error {
	return &Error{
		Kind:  ErrorInternal,
		msg:   fmt.Sprintf("%s: %v", op, cause),
		cause: cause,
	}
}
