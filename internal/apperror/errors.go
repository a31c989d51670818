// Package apperror holds the error taxonomy shared by the lending services.
// Callers wrap one of the sentinels with context and match with errors.Is.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrInvalidInput = errors.New("invalid input")
	ErrRateLimited  = errors.New("rate limit exceeded")

	// ErrValidation marks a request body that decoded but failed validation.
	// It is a kind of ErrInvalidInput.
	ErrValidation = fmt.Errorf("%w: validation failed", ErrInvalidInput)
)

// Error carries a caller-facing message next to its taxonomy sentinel.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

// NotFound reports an absent entity, e.g. NotFound("book") -> "book not found".
func NotFound(entity string) error {
	return &Error{Kind: ErrNotFound, Message: entity + " not found"}
}

// InvalidState reports a business-rule violation.
func InvalidState(format string, args ...any) error {
	return &Error{Kind: ErrInvalidState, Message: fmt.Sprintf(format, args...)}
}

// InvalidInput reports a malformed request value.
func InvalidInput(format string, args ...any) error {
	return &Error{Kind: ErrInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// Validation reports a request body that failed field validation.
func Validation(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// RateLimited reports a request rejected by a limiter.
func RateLimited(operation string) error {
	return &Error{Kind: ErrRateLimited, Message: operation + ": " + ErrRateLimited.Error()}
}

// Message returns the caller-facing message of err. Errors outside the
// taxonomy are returned verbatim.
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
