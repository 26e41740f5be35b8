package protocol

import (
	"encoding/json"
	"time"
)

// FrameType identifies a line-delimited JSON frame on a coordination socket.
type FrameType string

// Frame type constants. Request frames are answered with OK or ERROR on the
// same connection; SUBSCRIBE pins the connection as a live subscriber and is
// answered with SUBSCRIBED followed by a stream of INTERACTION frames.
const (
	FrameSubscribe       FrameType = "SUBSCRIBE"
	FrameSubscribed      FrameType = "SUBSCRIBED"
	FrameInteraction     FrameType = "INTERACTION"
	FramePing            FrameType = "PING"
	FramePong            FrameType = "PONG"
	FrameMessage         FrameType = "MESSAGE"
	FrameEvent           FrameType = "EVENT"
	FrameStateSync       FrameType = "STATE_SYNC"
	FrameStateGet        FrameType = "STATE_GET"
	FrameRespond         FrameType = "RESPOND"
	FrameConflictReport  FrameType = "CONFLICT_REPORT"
	FrameConflictResolve FrameType = "CONFLICT_RESOLVE"
	FrameConflicts       FrameType = "CONFLICTS"
	FrameEvents          FrameType = "EVENTS"
	FramePending         FrameType = "PENDING"
	FrameHistory         FrameType = "HISTORY"
	FrameOK              FrameType = "OK"
	FrameError           FrameType = "ERROR"
)

// Frame is the envelope for every socket message. Exactly one payload field
// matching Type is set.
type Frame struct {
	Type FrameType `json:"type"`

	Subscribe       *SubscribePayload       `json:"subscribe,omitempty"`
	Subscribed      *SubscribedPayload      `json:"subscribed,omitempty"`
	Interaction     *Interaction            `json:"interaction,omitempty"`
	Message         *MessagePayload         `json:"message,omitempty"`
	Event           *EventPayload           `json:"event,omitempty"`
	StateSync       *StateSyncPayload       `json:"state_sync,omitempty"`
	StateGet        *StateGetPayload        `json:"state_get,omitempty"`
	Respond         *RespondPayload         `json:"respond,omitempty"`
	ConflictReport  *ConflictReportPayload  `json:"conflict_report,omitempty"`
	ConflictResolve *ConflictResolvePayload `json:"conflict_resolve,omitempty"`
	Conflicts       *ConflictsPayload       `json:"conflicts,omitempty"`
	Events          *EventsPayload          `json:"events,omitempty"`
	Pending         *PendingPayload         `json:"pending,omitempty"`
	History         *HistoryPayload         `json:"history,omitempty"`
	OK              *OKPayload              `json:"ok,omitempty"`
	Error           *ErrorPayload           `json:"error,omitempty"`
}

// SubscribePayload opens a live subscription for one execution.
type SubscribePayload struct {
	ExecutionID string `json:"execution_id"`
	AgentID     string `json:"agent_id,omitempty"`
}

// SubscribedPayload confirms a subscription.
type SubscribedPayload struct {
	SubscriberID string `json:"subscriber_id"`
	ExecutionID  string `json:"execution_id"`
}

// MessagePayload posts a direct or broadcast message. An empty ToAgentID
// means broadcast to the whole crew.
type MessagePayload struct {
	ExecutionID      string     `json:"execution_id"`
	FromAgentID      string     `json:"from_agent_id"`
	ToAgentID        string     `json:"to_agent_id,omitempty"`
	Body             string     `json:"body"`
	Priority         int        `json:"priority,omitempty"`
	RequiresResponse bool       `json:"requires_response,omitempty"`
	ResponseDeadline *time.Time `json:"response_deadline,omitempty"`
}

// EventPayload publishes a coordination event.
type EventPayload struct {
	ExecutionID string `json:"execution_id"`
	FromAgentID string `json:"from_agent_id"`
	ToAgentID   string `json:"to_agent_id,omitempty"`
	EventType   string `json:"event_type"`
	EventData   Value  `json:"event_data,omitempty"`
	Priority    int    `json:"priority,omitempty"`
}

// StateSyncPayload attempts a versioned state write.
type StateSyncPayload struct {
	ExecutionID   string `json:"execution_id"`
	FromAgentID   string `json:"from_agent_id"`
	StateKey      string `json:"state_key"`
	StateValue    Value  `json:"state_value"`
	StateVersion  int64  `json:"state_version"`
	PreviousState Value  `json:"previous_state,omitempty"`
}

// StateGetPayload reads the current entry for one key.
type StateGetPayload struct {
	ExecutionID string `json:"execution_id"`
	StateKey    string `json:"state_key"`
}

// RespondPayload answers a message that requires a response.
type RespondPayload struct {
	InteractionID string `json:"interaction_id"`
	ResponderID   string `json:"responder_id"`
	Response      string `json:"response"`
}

// ConflictReportPayload reports a detected conflict.
type ConflictReportPayload struct {
	ExecutionID    string       `json:"execution_id"`
	ReporterID     string       `json:"reporter_id"`
	ConflictType   ConflictType `json:"conflict_type"`
	StateKey       string       `json:"state_key,omitempty"`
	CurrentValue   Value        `json:"current_value,omitempty"`
	AttemptedValue Value        `json:"attempted_value,omitempty"`
}

// ConflictResolvePayload resolves a reported conflict with one strategy.
type ConflictResolvePayload struct {
	ConflictID string   `json:"conflict_id"`
	Strategy   Strategy `json:"strategy"`
}

// ConflictsPayload lists unresolved conflicts for an execution.
type ConflictsPayload struct {
	ExecutionID string `json:"execution_id"`
}

// EventsPayload queries the event record, optionally filtered by type and
// time (polling/replay path).
type EventsPayload struct {
	ExecutionID string     `json:"execution_id"`
	EventTypes  []string   `json:"event_types,omitempty"`
	Since       *time.Time `json:"since,omitempty"`
}

// PendingPayload lists messages an agent could still respond to.
type PendingPayload struct {
	ExecutionID string `json:"execution_id"`
	AgentID     string `json:"agent_id"`
}

// HistoryPayload queries the full interaction record with filters and
// pagination.
type HistoryPayload struct {
	ExecutionID string `json:"execution_id"`
	AgentID     string `json:"agent_id,omitempty"`
	Kind        Kind   `json:"kind,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	Offset      int    `json:"offset,omitempty"`
}

// OKPayload is the success reply to a request frame. Result holds the
// operation-specific response, decoded by the caller.
type OKPayload struct {
	Detail string          `json:"detail,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Error code constants mirroring the error taxonomy.
const (
	ErrCodeValidation       = "validation"
	ErrCodeStateConflict    = "state_conflict"
	ErrCodeNotFound         = "not_found"
	ErrCodeStoreUnavailable = "store_unavailable"
	ErrCodeInternal         = "internal"
)

// ErrorPayload is the failure reply to a request frame. For state_conflict
// errors Conflict carries the actual current version and value.
type ErrorPayload struct {
	Code     string             `json:"code"`
	Detail   string             `json:"detail"`
	Conflict *StateConflictInfo `json:"conflict,omitempty"`
}

// StateConflictInfo is the wire form of a StateConflictError.
type StateConflictInfo struct {
	ExecutionID string `json:"execution_id"`
	StateKey    string `json:"state_key"`
	Version     int64  `json:"state_version"`
	Value       Value  `json:"state_value,omitempty"`
}
