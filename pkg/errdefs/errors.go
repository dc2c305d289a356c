package errdefs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals that the requested object doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidParameter signals that the user input is invalid.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrConflict signals that some internal state conflicts with the requested action
	// and can't be performed. A change in state should be able to clear this error.
	ErrConflict = errors.New("conflict")

	// ErrUnauthorized is used to signify that the caller is not authorized to perform a
	// specific action on the backend.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnavailable signals that the requested action/subsystem is not available.
	// Errors of this kind are transient and the caller may retry.
	ErrUnavailable = errors.New("unavailable")

	// ErrCanceled signals that the action was canceled.
	ErrCanceled = errors.New("canceled")

	// ErrDeadlineExceeded signals that the deadline was reached before the action completed.
	ErrDeadlineExceeded = errors.New("deadline exceeded")

	// ErrDataLoss indicates that data was lost or there is data corruption.
	ErrDataLoss = errors.New("data loss")

	// ErrUnsupported indicates that the action was not supported.
	ErrUnsupported = errors.New("unsupported")

	// ErrTooLarge signals that the content exceeds a configured size or dimension
	// limit and can not be accepted.
	ErrTooLarge = errors.New("too large")

	// ErrPolicyViolation signals that the request is well-formed but forbidden by
	// the configured policy.
	ErrPolicyViolation = errors.New("policy violation")

	// ErrMoved signals that the requested object lives under another location.
	// Use errors.As with *MovedError to get the new location.
	ErrMoved = errors.New("moved")
)

// MovedError carries the canonical location of a moved object.
type MovedError struct {
	Location string
}

// Error implements error.
func (e *MovedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMoved, e.Location)
}

// Is reports whether the target is ErrMoved.
func (e *MovedError) Is(target error) bool {
	return target == ErrMoved
}

// NewMoved returns a *MovedError pointing at location.
func NewMoved(location string) error {
	return &MovedError{Location: location}
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable reports whether err is transient.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
