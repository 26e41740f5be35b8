// Package coord is the coordination service: the one place that ties the
// interaction store, the versioned state table, the crew registry, the
// conflict engine, and the live broadcast together. The socket gateway and
// the CLI both drive this package; neither touches storage directly.
package coord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"crewlink/pkg/conflict"
	"crewlink/pkg/crew"
	"crewlink/pkg/protocol"
	"crewlink/pkg/state"
	"crewlink/pkg/store"
)

// urgentWindow is how close a response deadline must be before a pending
// message counts as urgent.
const urgentWindow = 5 * time.Minute

// defaultHistoryLimit caps History pages when the caller gives no limit.
const defaultHistoryLimit = 50

// Service exposes every coordination operation.
type Service struct {
	store     *store.Store
	state     *state.Table
	crews     crew.Registry
	conflicts *conflict.Engine
	pub       conflict.Publisher

	// mu spans each append-publish pair so subscribers see interactions in
	// the same order the store assigned their seq numbers.
	mu sync.Mutex

	// nowFunc returns the current time. Overridable in tests.
	nowFunc func() time.Time
}

// NewService wires a Service. pub may be nil when nothing subscribes.
func NewService(s *store.Store, tbl *state.Table, crews crew.Registry, engine *conflict.Engine, pub conflict.Publisher) *Service {
	if pub == nil {
		pub = conflict.NopPublisher{}
	}
	return &Service{
		store:     s,
		state:     tbl,
		crews:     crews,
		conflicts: engine,
		pub:       pub,
		nowFunc:   time.Now,
	}
}

// Receipt is returned for posted messages and events: the stored interaction
// plus how many crew members it was addressed to.
type Receipt struct {
	Interaction *protocol.Interaction `json:"interaction"`
	Delivered   int                   `json:"delivered"`
}

// MessageRequest describes a message to post.
type MessageRequest struct {
	ExecutionID      string
	FromAgentID      string
	ToAgentID        string // empty = broadcast to the whole crew
	Body             string
	Priority         int
	RequiresResponse bool
	ResponseDeadline *time.Time
}

// PostMessage appends a message and broadcasts it to live subscribers. The
// sender, and the recipient when one is named, must be crew members.
func (s *Service) PostMessage(ctx context.Context, req MessageRequest) (*Receipt, error) {
	members, err := s.requireMember(ctx, req.ExecutionID, req.FromAgentID)
	if err != nil {
		return nil, err
	}

	// A broadcast is addressed to the whole crew, sender included.
	delivered := len(members)
	if req.ToAgentID != "" {
		if !hasMember(members, req.ToAgentID) {
			return nil, &protocol.NotFoundError{Resource: "agent", ID: req.ToAgentID}
		}
		if req.ToAgentID == req.FromAgentID {
			return nil, &protocol.ValidationError{Field: "to_agent_id", Reason: "cannot message yourself"}
		}
		delivered = 1
	}

	in := &protocol.Interaction{
		ExecutionID:      req.ExecutionID,
		FromAgentID:      req.FromAgentID,
		ToAgentID:        req.ToAgentID,
		Kind:             protocol.KindMessage,
		Body:             req.Body,
		Priority:         req.Priority,
		RequiresResponse: req.RequiresResponse,
		ResponseDeadline: req.ResponseDeadline,
	}
	if err := s.appendAndPublish(ctx, in); err != nil {
		return nil, err
	}
	return &Receipt{Interaction: in, Delivered: delivered}, nil
}

// appendAndPublish durably appends in and pushes it to live subscribers.
// The pair runs under the mutex: publish order must match seq order even
// when requests land on concurrent goroutines.
func (s *Service) appendAndPublish(ctx context.Context, in *protocol.Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Append(ctx, in); err != nil {
		return err
	}
	s.pub.Publish(*in)
	return nil
}

// EventRequest describes an event to publish.
type EventRequest struct {
	ExecutionID string
	FromAgentID string
	ToAgentID   string // empty = broadcast
	EventType   string
	EventData   protocol.Value
	Priority    int
}

// PublishEvent appends an event and broadcasts it.
func (s *Service) PublishEvent(ctx context.Context, req EventRequest) (*Receipt, error) {
	members, err := s.requireMember(ctx, req.ExecutionID, req.FromAgentID)
	if err != nil {
		return nil, err
	}

	delivered := len(members)
	if req.ToAgentID != "" {
		if !hasMember(members, req.ToAgentID) {
			return nil, &protocol.NotFoundError{Resource: "agent", ID: req.ToAgentID}
		}
		delivered = 1
	}

	in := &protocol.Interaction{
		ExecutionID: req.ExecutionID,
		FromAgentID: req.FromAgentID,
		ToAgentID:   req.ToAgentID,
		Kind:        protocol.KindEvent,
		EventType:   req.EventType,
		EventData:   req.EventData,
		Priority:    req.Priority,
	}
	if err := s.appendAndPublish(ctx, in); err != nil {
		return nil, err
	}
	return &Receipt{Interaction: in, Delivered: delivered}, nil
}

// SyncRequest describes a versioned state write.
type SyncRequest struct {
	ExecutionID   string
	AgentID       string
	StateKey      string
	Value         protocol.Value
	Version       int64 // version the agent believes is current; 0 = create only
	PreviousState protocol.Value
}

// SyncState records the sync attempt, then applies it through the
// compare-and-swap table. On a version conflict it files a concurrent_update
// conflict on the agent's behalf and returns the StateConflictError so the
// caller sees the actual current version and value. The attempt record is
// kept either way.
func (s *Service) SyncState(ctx context.Context, req SyncRequest) (*state.Entry, error) {
	if _, err := s.requireMember(ctx, req.ExecutionID, req.AgentID); err != nil {
		return nil, err
	}

	in := &protocol.Interaction{
		ExecutionID:   req.ExecutionID,
		FromAgentID:   req.AgentID,
		Kind:          protocol.KindStateSync,
		StateKey:      req.StateKey,
		StateValue:    req.Value,
		StateVersion:  req.Version,
		PreviousState: req.PreviousState,
	}
	if err := s.appendAndPublish(ctx, in); err != nil {
		return nil, err
	}

	entry, err := s.state.CompareAndSwap(ctx, req.ExecutionID, req.StateKey, req.Value, req.Version)
	if err != nil {
		var conflictErr *protocol.StateConflictError
		if errors.As(err, &conflictErr) {
			if _, recErr := s.conflicts.Record(ctx, conflict.Report{
				ExecutionID:    req.ExecutionID,
				ReporterID:     req.AgentID,
				Type:           protocol.ConflictConcurrentUpdate,
				StateKey:       req.StateKey,
				CurrentValue:   conflictErr.Value,
				AttemptedValue: req.Value,
			}); recErr != nil {
				return nil, fmt.Errorf("record conflict for %s/%s: %w", req.ExecutionID, req.StateKey, recErr)
			}
		}
		return nil, err
	}
	return entry, nil
}

// CurrentState returns the current entry for a state key.
func (s *Service) CurrentState(ctx context.Context, executionID, stateKey string) (*state.Entry, error) {
	return s.state.Get(ctx, executionID, stateKey)
}

// ReportConflict files a conflict an agent noticed on its own.
func (s *Service) ReportConflict(ctx context.Context, r conflict.Report) (*protocol.Interaction, error) {
	if _, err := s.requireMember(ctx, r.ExecutionID, r.ReporterID); err != nil {
		return nil, err
	}
	if !r.Type.Valid() {
		return nil, &protocol.ValidationError{
			Field:  "conflict_type",
			Reason: fmt.Sprintf("unknown conflict type %q", r.Type),
		}
	}
	return s.conflicts.Record(ctx, r)
}

// ResolveConflict applies a strategy to an open conflict.
func (s *Service) ResolveConflict(ctx context.Context, conflictID string, strategy protocol.Strategy) (*protocol.Interaction, error) {
	return s.conflicts.Resolve(ctx, conflictID, strategy)
}

// UnresolvedConflicts returns an execution's open conflicts, oldest first.
func (s *Service) UnresolvedConflicts(ctx context.Context, executionID string) ([]protocol.Interaction, error) {
	return s.conflicts.Unresolved(ctx, executionID)
}

// ConflictSummary aggregates an execution's conflict history.
func (s *Service) ConflictSummary(ctx context.Context, executionID string) (*conflict.Summary, error) {
	return s.conflicts.Summarize(ctx, executionID)
}

// EventsRequest filters the event log.
type EventsRequest struct {
	ExecutionID string
	EventTypes  []string
	Since       *time.Time
}

// Events returns an execution's events, oldest first.
func (s *Service) Events(ctx context.Context, req EventsRequest) ([]protocol.Interaction, error) {
	return s.store.List(ctx, store.Filter{
		ExecutionID: req.ExecutionID,
		Kind:        protocol.KindEvent,
		EventTypes:  req.EventTypes,
		Since:       req.Since,
	})
}

// Respond records an agent's response to a message that requires one. Only
// the addressed agent may respond to a direct message; anyone in the crew
// except the sender may answer a broadcast.
func (s *Service) Respond(ctx context.Context, interactionID, responderID, response string) (*protocol.Interaction, error) {
	in, err := s.store.Get(ctx, interactionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireMember(ctx, in.ExecutionID, responderID); err != nil {
		return nil, err
	}
	if in.ToAgentID != "" && in.ToAgentID != responderID {
		return nil, &protocol.ValidationError{
			Field:  "responder_id",
			Reason: "message is addressed to another agent",
		}
	}
	if in.FromAgentID == responderID {
		return nil, &protocol.ValidationError{
			Field:  "responder_id",
			Reason: "cannot respond to your own message",
		}
	}

	updated, err := s.store.SetResponse(ctx, interactionID, responderID, response)
	if err != nil {
		return nil, err
	}
	s.pub.Publish(*updated)
	return updated, nil
}

// PendingMessage is an unanswered message visible to an agent, annotated
// with its deadline status.
type PendingMessage struct {
	protocol.Interaction

	// Overdue means the response deadline has passed.
	Overdue bool `json:"overdue"`

	// Urgent means the deadline is inside the urgent window but not yet
	// passed. Messages with no deadline are never urgent.
	Urgent bool `json:"urgent"`
}

// PendingResponses returns the unanswered messages agentID could respond
// to: those addressed to it plus broadcasts, excluding its own.
func (s *Service) PendingResponses(ctx context.Context, executionID, agentID string) ([]PendingMessage, error) {
	if _, err := s.requireMember(ctx, executionID, agentID); err != nil {
		return nil, err
	}

	rows, err := s.store.List(ctx, store.Filter{
		ExecutionID: executionID,
		AgentID:     agentID,
		PendingOnly: true,
	})
	if err != nil {
		return nil, err
	}

	now := s.nowFunc()
	var out []PendingMessage
	for _, in := range rows {
		if in.FromAgentID == agentID {
			continue
		}
		pm := PendingMessage{Interaction: in}
		if in.ResponseDeadline != nil {
			until := in.ResponseDeadline.Sub(now)
			pm.Overdue = until <= 0
			pm.Urgent = until > 0 && until <= urgentWindow
		}
		out = append(out, pm)
	}
	return out, nil
}

// HistoryRequest pages through an execution's interaction history.
type HistoryRequest struct {
	ExecutionID string
	AgentID     string // restrict to what this agent sent, received, or saw broadcast
	Kind        protocol.Kind
	Limit       int
	Offset      int
}

// History returns interactions newest first, paginated.
func (s *Service) History(ctx context.Context, req HistoryRequest) ([]protocol.Interaction, error) {
	if req.Kind != "" && !req.Kind.Valid() {
		return nil, &protocol.ValidationError{
			Field:  "kind",
			Reason: fmt.Sprintf("unknown kind %q", req.Kind),
		}
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.store.List(ctx, store.Filter{
		ExecutionID: req.ExecutionID,
		AgentID:     req.AgentID,
		Kind:        req.Kind,
		Limit:       limit,
		Offset:      req.Offset,
		Descending:  true,
	})
}

// Crew returns the execution's roster.
func (s *Service) Crew(ctx context.Context, executionID string) ([]crew.Member, error) {
	return s.crews.Members(ctx, executionID)
}

// requireMember resolves the crew and checks agentID belongs to it.
func (s *Service) requireMember(ctx context.Context, executionID, agentID string) ([]crew.Member, error) {
	if agentID == "" {
		return nil, &protocol.ValidationError{Field: "agent_id", Reason: "must not be empty"}
	}
	members, err := s.crews.Members(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if !hasMember(members, agentID) {
		return nil, &protocol.NotFoundError{Resource: "agent", ID: agentID}
	}
	return members, nil
}

func hasMember(members []crew.Member, agentID string) bool {
	for _, m := range members {
		if m.AgentID == agentID {
			return true
		}
	}
	return false
}
