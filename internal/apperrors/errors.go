package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an application error for callers that need to react to it
// (HTTP status mapping, retry decisions).
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidRequest
	KindNotFound
	KindPersistence
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindNotFound:
		return "not_found"
	case KindPersistence:
		return "persistence_failure"
	case KindConflict:
		return "concurrency_conflict"
	default:
		return "unknown"
	}
}

// Error is a structured application error.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same kind and code, so sentinel values
// like ErrPrizeNotFound work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// NewInvalidRequest creates an input validation error.
func NewInvalidRequest(code, message string) *Error {
	return &Error{Kind: KindInvalidRequest, Code: code, Message: message}
}

// NewNotFound creates an error for an entity missing under the caller's owner.
func NewNotFound(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

// NewPersistence wraps a storage failure.
func NewPersistence(code, message string, err error) *Error {
	return &Error{Kind: KindPersistence, Code: code, Message: message, Err: err}
}

// NewConflict reports a lost compare-and-set on shared state.
func NewConflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

// Sentinels for the common lookups.
var (
	ErrPrizeNotFound       = NewNotFound("PRIZE_NOT_FOUND", "prize does not exist")
	ErrParticipantNotFound = NewNotFound("PARTICIPANT_NOT_FOUND", "participant does not exist")
	ErrRemainingConflict   = NewConflict("REMAINING_CONFLICT", "prize remaining count changed concurrently")
)
