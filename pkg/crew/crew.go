// Package crew resolves which agents belong to an execution. The daemon
// needs the roster to count deliveries and to fan out escalations; it comes
// either from in-process registration or from a TOML roster file that is
// reloaded when it changes on disk.
package crew

import (
	"context"
	"sync"

	"crewlink/pkg/protocol"
)

// Member is one agent in a crew.
type Member struct {
	AgentID string `toml:"agent_id" json:"agent_id"`
	Role    string `toml:"role,omitempty" json:"role,omitempty"`
}

// Registry resolves crew membership for an execution.
type Registry interface {
	// Members returns the crew of the given execution. Unknown executions
	// yield NotFoundError.
	Members(ctx context.Context, executionID string) ([]Member, error)
}

// Static is an in-memory Registry populated by Register calls. Used by the
// daemon when no roster file is configured, and by tests.
type Static struct {
	mu    sync.RWMutex
	crews map[string][]Member
}

// NewStatic returns an empty Static registry.
func NewStatic() *Static {
	return &Static{crews: make(map[string][]Member)}
}

// Register sets the crew of an execution, replacing any previous roster.
func (s *Static) Register(executionID string, members ...Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crews[executionID] = append([]Member(nil), members...)
}

// Members implements Registry.
func (s *Static) Members(_ context.Context, executionID string) ([]Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members, ok := s.crews[executionID]
	if !ok {
		return nil, &protocol.NotFoundError{Resource: "execution", ID: executionID}
	}
	return append([]Member(nil), members...), nil
}
