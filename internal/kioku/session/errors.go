package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a session does not exist.
	ErrNotFound = errors.New("session: not found")

	// ErrUnauthorized is returned when the caller does not own the session.
	// It is never retried.
	ErrUnauthorized = errors.New("session: caller does not own session")

	// ErrStorage matches every *StorageError via errors.Is.
	ErrStorage = errors.New("session: storage failure")

	// ErrInvalid is returned for malformed arguments (empty IDs, unknown roles).
	ErrInvalid = errors.New("session: invalid argument")
)

// StorageError wraps a backend I/O failure with the operation that hit it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("session: storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStorage) true for every StorageError.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// storageErr wraps err unless it is nil or already a sentinel the caller
// must see unchanged.
func storageErr(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrStorage) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
