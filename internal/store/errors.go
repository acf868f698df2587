package store

import (
	"errors"

	"github.com/lib/pq"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write violates a unique constraint.
var ErrConflict = errors.New("conflict")

const uniqueViolation = "23505"

// mapWriteError converts driver errors into store sentinels.
func mapWriteError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ConflictError{Constraint: pqErr.Constraint, err: err}
	}
	return err
}

// ConflictError reports which unique constraint a write collided with.
type ConflictError struct {
	Constraint string
	err        error
}

func (e ConflictError) Error() string {
	if e.Constraint == "" {
		return ErrConflict.Error()
	}
	return ErrConflict.Error() + ": " + e.Constraint
}

func (e ConflictError) Is(target error) bool {
	return target == ErrConflict
}

func (e ConflictError) Unwrap() error {
	return e.err
}
