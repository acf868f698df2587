package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
)

func TestMapWriteErrorUniqueViolation(t *testing.T) {
	driverErr := &pq.Error{Code: "23505", Constraint: "profiles_username_key"}

	err := mapWriteError(fmt.Errorf("exec: %w", driverErr))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	var conflict ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %T", err)
	}
	if conflict.Constraint != "profiles_username_key" {
		t.Fatalf("unexpected constraint %q", conflict.Constraint)
	}
}

func TestMapWriteErrorPassesThroughOtherErrors(t *testing.T) {
	driverErr := &pq.Error{Code: "23514", Constraint: "username_length"}

	err := mapWriteError(driverErr)
	if errors.Is(err, ErrConflict) {
		t.Fatalf("check violation must not map to ErrConflict")
	}
	if err != driverErr {
		t.Fatalf("expected original error, got %v", err)
	}
}
