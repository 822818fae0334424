package workflow

import "errors"

var (
	// ErrNotFound is returned when the record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrIllegalTransition is returned when no edge exists for (kind, from, to), regardless of actor
	ErrIllegalTransition = errors.New("illegal transition")

	// ErrForbidden is returned when the edge exists but the actor is not in its allowed set
	ErrForbidden = errors.New("forbidden")

	// ErrConflict is returned when a concurrent transition won the compare-and-swap
	ErrConflict = errors.New("conflicting concurrent transition")

	// ErrDispatchFailure is returned alongside a committed state when notification persistence failed
	ErrDispatchFailure = errors.New("notification dispatch failed")

	// ErrInvalidState is returned when a state is not part of the kind's enumeration
	ErrInvalidState = errors.New("invalid state")

	// ErrUnknownKind is returned for entity kinds outside the closed enumeration
	ErrUnknownKind = errors.New("unknown entity kind")
)

// IsCommitted reports whether the transition was durably applied despite err
func IsCommitted(err error) bool {
	return err == nil || errors.Is(err, ErrDispatchFailure)
}

// IsRetryable reports whether the caller may re-read and re-attempt
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
