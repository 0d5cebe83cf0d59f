package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument indicates malformed input such as a non-positive quantity.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInsufficientStock is returned when a movement would drive stock negative.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrConflict indicates a unique constraint collision.
	ErrConflict = errors.New("conflict")
	// ErrContention marks lock-wait timeouts, deadlocks and serialization failures.
	// Callers may resubmit the request.
	ErrContention = errors.New("resource contention, retry the request")
	// ErrUnauthorized is raised when no actor is attached to a mutating request.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is reserved for the upstream authorization layer.
	ErrForbidden = errors.New("forbidden")
)

// IsRetryable reports whether the caller may resubmit the operation unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrContention)
}
