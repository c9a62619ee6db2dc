package bookings

import (
	"errors"
	"fmt"

	"github.com/example/teetime-scheduler/internal/db"
)

var (
	ErrNotFound          = errors.New("booking request not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// StorageError means the backing store could not be reached or failed the operation.
// Nothing about the request should be assumed changed; callers retry on the next sweep.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Message) }

func invalidTransition(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if db.IsNotFound(err) {
		return ErrNotFound
	}
	var se *StorageError
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidTransition) || errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
