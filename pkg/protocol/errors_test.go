package protocol_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"crewlink/pkg/protocol"
)

func TestValidationError(t *testing.T) {
	t.Parallel()

	err := &protocol.ValidationError{Field: "body", Reason: "required for kind message"}

	if !strings.Contains(err.Error(), "body") {
		t.Errorf("Error() missing field name: %q", err.Error())
	}

	wrapped := fmt.Errorf("post message: %w", err)
	var ve *protocol.ValidationError
	if !errors.As(wrapped, &ve) {
		t.Fatal("errors.As failed to extract ValidationError")
	}
	if ve.Field != "body" {
		t.Errorf("Field = %q, want body", ve.Field)
	}
}

func TestStateConflictError(t *testing.T) {
	t.Parallel()

	err := &protocol.StateConflictError{
		ExecutionID: "exec-1",
		StateKey:    "progress",
		Version:     2,
		Value:       protocol.Value{"count": float64(2)},
	}

	wrapped := fmt.Errorf("sync state: %w", err)
	var sce *protocol.StateConflictError
	if !errors.As(wrapped, &sce) {
		t.Fatal("errors.As failed to extract StateConflictError")
	}
	if sce.Version != 2 {
		t.Errorf("Version = %d, want 2", sce.Version)
	}
	if !sce.Value.Equal(protocol.Value{"count": float64(2)}) {
		t.Errorf("Value = %v", sce.Value)
	}
	if !strings.Contains(err.Error(), "progress") {
		t.Errorf("Error() missing state key: %q", err.Error())
	}
}

func TestNotFoundError(t *testing.T) {
	t.Parallel()

	err := &protocol.NotFoundError{Resource: "conflict", ID: "cf-42"}

	wrapped := fmt.Errorf("resolve: %w", err)
	var nfe *protocol.NotFoundError
	if !errors.As(wrapped, &nfe) {
		t.Fatal("errors.As failed to extract NotFoundError")
	}
	if nfe.Resource != "conflict" || nfe.ID != "cf-42" {
		t.Errorf("got %q/%q", nfe.Resource, nfe.ID)
	}
}

func TestStoreUnavailableErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("database is locked")
	err := &protocol.StoreUnavailableError{Op: "append interaction", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("errors.Is failed to find the wrapped cause")
	}
	if !strings.Contains(err.Error(), "append interaction") {
		t.Errorf("Error() missing op: %q", err.Error())
	}
}

func TestErrorTypesAreDistinct(t *testing.T) {
	t.Parallel()

	// A StateConflictError must not be mistaken for a ValidationError by
	// errors.As chains in callers that branch on the taxonomy.
	err := fmt.Errorf("wrapped: %w", &protocol.StateConflictError{StateKey: "k", Version: 1})

	var ve *protocol.ValidationError
	if errors.As(err, &ve) {
		t.Error("StateConflictError matched ValidationError")
	}
	var nfe *protocol.NotFoundError
	if errors.As(err, &nfe) {
		t.Error("StateConflictError matched NotFoundError")
	}
}
