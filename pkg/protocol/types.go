// Package protocol defines the wire types shared by the crewlink daemon,
// clients, and storage: the Interaction record, structured Value payloads,
// socket frames, typed errors, and the SQLite schema.
package protocol

import "time"

// Kind classifies an interaction record.
type Kind string

// Interaction kind constants.
const (
	KindMessage   Kind = "message"
	KindEvent     Kind = "event"
	KindStateSync Kind = "state_sync"
	KindConflict  Kind = "conflict"
)

// Valid reports whether k is one of the four known interaction kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindMessage, KindEvent, KindStateSync, KindConflict:
		return true
	default:
		return false
	}
}

// Priority bounds and defaults for messages and events.
const (
	PriorityMin        = 1
	PriorityMax        = 10
	PriorityDefault    = 5
	PriorityEscalation = 9
)

// ConflictType classifies a reported conflict.
type ConflictType string

// Conflict type constants.
const (
	ConflictConcurrentUpdate    ConflictType = "concurrent_update"
	ConflictDuplicateAssignment ConflictType = "duplicate_assignment"
	ConflictResourceContention  ConflictType = "resource_contention"
	ConflictStateMismatch       ConflictType = "state_mismatch"
	ConflictDeadline            ConflictType = "deadline_conflict"
	ConflictPriority            ConflictType = "priority_conflict"
)

// Valid reports whether t is one of the known conflict types.
func (t ConflictType) Valid() bool {
	switch t {
	case ConflictConcurrentUpdate, ConflictDuplicateAssignment,
		ConflictResourceContention, ConflictStateMismatch,
		ConflictDeadline, ConflictPriority:
		return true
	default:
		return false
	}
}

// Strategy selects how a conflict is resolved.
type Strategy string

// Resolution strategy constants.
const (
	StrategyLatestWins Strategy = "latest_wins" // Keep the stored value; no state write.
	StrategyMerge      Strategy = "merge"       // Union of disjoint fields, escalate on overlap.
	StrategyRollback   Strategy = "rollback"    // Re-write current_value as a new version.
	StrategyEscalate   Strategy = "escalate"    // Notify the crew; no state write.
)

// Valid reports whether s is one of the four known strategies.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyLatestWins, StrategyMerge, StrategyRollback, StrategyEscalate:
		return true
	default:
		return false
	}
}

// Outcome is the recorded result of a resolution attempt.
type Outcome string

// Resolution outcome constants.
const (
	OutcomeKept       Outcome = "kept"        // latest_wins: stored value retained.
	OutcomeMerged     Outcome = "merged"      // merge: union written at a new version.
	OutcomeRolledBack Outcome = "rolled_back" // rollback: current_value re-written.
	OutcomeEscalated  Outcome = "escalated"   // escalate (or merge on overlap): crew notified.
)

// EventConflictEscalated is the event_type of the notification fanned out to
// every crew member when a conflict is escalated.
const EventConflictEscalated = "conflict_escalated"

// ResolutionData carries the two sides of a conflict plus the recorded
// outcome once resolved. StateKey is required for merge and rollback, which
// CAS-write against it.
type ResolutionData struct {
	StateKey       string  `json:"state_key,omitempty"`
	CurrentValue   Value   `json:"current_value,omitempty"`
	AttemptedValue Value   `json:"attempted_value,omitempty"`
	Outcome        Outcome `json:"outcome,omitempty"`
}

// Interaction is the append-only unit of record. One row per message, event,
// state sync attempt, or conflict within an execution. Seq is assigned by the
// store and orders interactions within their execution.
type Interaction struct {
	ID          string    `json:"id"`
	Seq         int64     `json:"seq,omitempty"`
	ExecutionID string    `json:"execution_id"`
	FromAgentID string    `json:"from_agent_id"`
	ToAgentID   string    `json:"to_agent_id,omitempty"` // empty = broadcast
	Kind        Kind      `json:"kind"`
	Priority    int       `json:"priority,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`

	// message
	Body             string     `json:"body,omitempty"`
	RequiresResponse bool       `json:"requires_response,omitempty"`
	ResponseDeadline *time.Time `json:"response_deadline,omitempty"`
	Response         string     `json:"response,omitempty"`

	// event
	EventType string `json:"event_type,omitempty"`
	EventData Value  `json:"event_data,omitempty"`

	// state_sync
	StateKey      string `json:"state_key,omitempty"`
	StateValue    Value  `json:"state_value,omitempty"`
	StateVersion  int64  `json:"state_version,omitempty"`
	PreviousState Value  `json:"previous_state,omitempty"`

	// conflict
	ConflictType ConflictType    `json:"conflict_type,omitempty"`
	Detected     bool            `json:"detected,omitempty"`
	Resolved     bool            `json:"resolved,omitempty"`
	Strategy     Strategy        `json:"resolution_strategy,omitempty"`
	Resolution   *ResolutionData `json:"resolution_data,omitempty"`
	ResolvedAt   *time.Time      `json:"resolved_at,omitempty"`
}

// Broadcast reports whether the interaction is addressed to the whole crew.
func (in Interaction) Broadcast() bool {
	return in.ToAgentID == ""
}
