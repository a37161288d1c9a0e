package storage

import "errors"

// Storage errors shared by every backend.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists. Append-only stores do not allow updates.
	ErrDuplicateKey = errors.New("duplicate key: append-only store does not allow updates")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict is returned by CommitCycle when the entity's snapshot version
	// is no longer the expected one. Callers re-read and retry.
	ErrConflict = errors.New("snapshot version conflict")

	// ErrInvalidTransition is returned when a poll state change is not allowed
	// by the state machine.
	ErrInvalidTransition = errors.New("invalid poll state transition")
)

// IsDomainError reports whether err is one of the sentinel errors above, as
// opposed to an I/O failure of the underlying backend.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrDuplicateKey) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInvalidTransition)
}
