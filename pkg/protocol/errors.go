package protocol

import "fmt"

// ValidationError reports a malformed or incomplete request. It is fatal to
// the single call and never retried automatically.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StateConflictError reports a compare-and-swap loss: the caller's expected
// version was stale. It carries the actual current version and value so the
// caller can re-read and retry, or report a conflict. It enables typed
// discrimination via errors.As. Intermediate layers must never swallow it;
// the conflict engine depends on seeing it intact.
type StateConflictError struct {
	ExecutionID string
	StateKey    string
	Version     int64 // actual current version (0 = no entry)
	Value       Value // actual current value
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("state conflict on %s/%s: current version is %d",
		e.ExecutionID, e.StateKey, e.Version)
}

// NotFoundError reports an unknown execution, interaction, conflict, or
// agent. Fatal to the call.
type NotFoundError struct {
	Resource string // "execution", "interaction", "conflict", "agent", "state entry"
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// StoreUnavailableError reports that the backing durable store or broadcast
// medium was unreachable. The whole operation aborts; no partial append, CAS,
// or broadcast occurs.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}
