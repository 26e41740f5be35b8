// Package conflict implements conflict reporting and the four resolution
// strategies: latest_wins, merge, rollback, and escalate. A conflict is an
// interaction row whose resolution columns are filled in exactly once; the
// engine serializes resolution so racing resolvers cannot both win.
package conflict

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"crewlink/pkg/crew"
	"crewlink/pkg/protocol"
	"crewlink/pkg/state"
	"crewlink/pkg/store"
)

// Publisher delivers an interaction to live subscribers. The gateway hub
// implements it; a no-op suffices when nothing is listening.
type Publisher interface {
	Publish(in protocol.Interaction)
}

// NopPublisher discards everything.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(protocol.Interaction) {}

// Engine records conflicts and resolves them.
type Engine struct {
	store *store.Store
	state *state.Table
	crews crew.Registry
	pub   Publisher

	// mu serializes Resolve so two resolvers racing on the same conflict
	// see each other's outcome instead of both applying a strategy.
	mu sync.Mutex

	// nowFunc returns the current time. Overridable in tests.
	nowFunc func() time.Time
}

// NewEngine wires the engine to its storage, state table, crew registry, and
// broadcast publisher.
func NewEngine(s *store.Store, tbl *state.Table, crews crew.Registry, pub Publisher) *Engine {
	if pub == nil {
		pub = NopPublisher{}
	}
	return &Engine{
		store:   s,
		state:   tbl,
		crews:   crews,
		pub:     pub,
		nowFunc: time.Now,
	}
}

// Report describes a conflict an agent (or the daemon itself) noticed.
type Report struct {
	ExecutionID    string
	ReporterID     string
	Type           protocol.ConflictType
	StateKey       string
	CurrentValue   protocol.Value
	AttemptedValue protocol.Value
}

// Record appends a detected, unresolved conflict row and broadcasts it.
func (e *Engine) Record(ctx context.Context, r Report) (*protocol.Interaction, error) {
	in := &protocol.Interaction{
		ExecutionID:  r.ExecutionID,
		FromAgentID:  r.ReporterID,
		Kind:         protocol.KindConflict,
		ConflictType: r.Type,
		Detected:     true,
		Resolution: &protocol.ResolutionData{
			StateKey:       r.StateKey,
			CurrentValue:   r.CurrentValue,
			AttemptedValue: r.AttemptedValue,
		},
	}
	if err := e.store.Append(ctx, in); err != nil {
		return nil, err
	}
	e.pub.Publish(*in)
	return in, nil
}

// Resolve applies strategy to the conflict and records the outcome. It is
// idempotent: resolving an already-resolved conflict returns the stored
// record unchanged, whatever strategy is passed.
//
// merge and rollback write state through the CAS table; a concurrent state
// write can therefore surface as a StateConflictError, in which case the
// conflict stays unresolved and the caller may retry.
func (e *Engine) Resolve(ctx context.Context, conflictID string, strategy protocol.Strategy) (*protocol.Interaction, error) {
	if !strategy.Valid() {
		return nil, &protocol.ValidationError{
			Field:  "strategy",
			Reason: fmt.Sprintf("unknown strategy %q", strategy),
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	in, err := e.store.Get(ctx, conflictID)
	if err != nil {
		var nf *protocol.NotFoundError
		if errors.As(err, &nf) {
			return nil, &protocol.NotFoundError{Resource: "conflict", ID: conflictID}
		}
		return nil, err
	}
	if in.Kind != protocol.KindConflict {
		return nil, &protocol.NotFoundError{Resource: "conflict", ID: conflictID}
	}
	if in.Resolved {
		return in, nil
	}

	data := protocol.ResolutionData{}
	if in.Resolution != nil {
		data = *in.Resolution
	}

	var outcome protocol.Outcome
	switch strategy {
	case protocol.StrategyLatestWins:
		outcome = protocol.OutcomeKept
	case protocol.StrategyMerge:
		outcome, err = e.merge(ctx, in, &data)
	case protocol.StrategyRollback:
		outcome, err = e.rollback(ctx, in, &data)
	case protocol.StrategyEscalate:
		outcome, err = e.escalate(ctx, in, strategy)
	}
	if err != nil {
		return nil, err
	}

	data.Outcome = outcome
	resolvedAt := e.nowFunc().UTC()
	if err := e.store.UpdateResolution(ctx, in.ID, strategy, &data, resolvedAt); err != nil {
		return nil, err
	}

	in.Resolved = true
	in.Strategy = strategy
	in.Resolution = &data
	in.ResolvedAt = &resolvedAt
	e.pub.Publish(*in)
	return in, nil
}

// merge writes the union of the two sides when their populated fields are
// disjoint. Overlapping fields cannot be reconciled automatically, so the
// conflict escalates to the crew instead and the recorded outcome says so.
func (e *Engine) merge(ctx context.Context, in *protocol.Interaction, data *protocol.ResolutionData) (protocol.Outcome, error) {
	if data.StateKey == "" {
		return "", &protocol.ValidationError{
			Field:  "resolution_data",
			Reason: "merge requires a state_key",
		}
	}
	if data.AttemptedValue == nil {
		return "", &protocol.ValidationError{
			Field:  "resolution_data",
			Reason: "merge requires an attempted_value",
		}
	}

	entry, err := e.state.Get(ctx, in.ExecutionID, data.StateKey)
	if err != nil {
		return "", err
	}

	if keys := entry.Value.ConflictingKeys(data.AttemptedValue); len(keys) > 0 {
		if err := e.fanOutEscalation(ctx, in, protocol.StrategyMerge); err != nil {
			return "", err
		}
		return protocol.OutcomeEscalated, nil
	}

	merged := entry.Value.Union(data.AttemptedValue)
	if _, err := e.state.CompareAndSwap(ctx, in.ExecutionID, data.StateKey, merged, entry.Version); err != nil {
		return "", err
	}
	return protocol.OutcomeMerged, nil
}

// rollback re-writes the value that was current when the conflict was
// detected, as a fresh version.
func (e *Engine) rollback(ctx context.Context, in *protocol.Interaction, data *protocol.ResolutionData) (protocol.Outcome, error) {
	if data.StateKey == "" {
		return "", &protocol.ValidationError{
			Field:  "resolution_data",
			Reason: "rollback requires a state_key",
		}
	}
	if data.CurrentValue == nil {
		return "", &protocol.ValidationError{
			Field:  "resolution_data",
			Reason: "rollback requires a current_value",
		}
	}

	entry, err := e.state.Get(ctx, in.ExecutionID, data.StateKey)
	if err != nil {
		return "", err
	}
	if _, err := e.state.CompareAndSwap(ctx, in.ExecutionID, data.StateKey, data.CurrentValue, entry.Version); err != nil {
		return "", err
	}
	return protocol.OutcomeRolledBack, nil
}

// escalate notifies the whole crew and leaves state untouched.
func (e *Engine) escalate(ctx context.Context, in *protocol.Interaction, strategy protocol.Strategy) (protocol.Outcome, error) {
	if err := e.fanOutEscalation(ctx, in, strategy); err != nil {
		return "", err
	}
	return protocol.OutcomeEscalated, nil
}

// fanOutEscalation appends one conflict_escalated event per crew member,
// dispatched concurrently. Any append failure aborts the resolution and
// leaves the conflict unresolved; a retry picks up only the members that
// were not yet notified.
func (e *Engine) fanOutEscalation(ctx context.Context, in *protocol.Interaction, strategy protocol.Strategy) error {
	members, err := e.crews.Members(ctx, in.ExecutionID)
	if err != nil {
		return err
	}
	notified, err := e.escalatedRecipients(ctx, in.ExecutionID, in.ID)
	if err != nil {
		return err
	}

	eventData := protocol.Value{
		"conflict_id":   in.ID,
		"conflict_type": string(in.ConflictType),
		"strategy":      string(strategy),
	}
	if in.Resolution != nil && in.Resolution.StateKey != "" {
		eventData["state_key"] = in.Resolution.StateKey
	}

	var wg sync.WaitGroup
	errs := make([]error, len(members))
	for i, m := range members {
		if notified[m.AgentID] {
			continue
		}
		wg.Add(1)
		go func(i int, m crew.Member) {
			defer wg.Done()
			ev := &protocol.Interaction{
				ExecutionID: in.ExecutionID,
				FromAgentID: in.FromAgentID,
				ToAgentID:   m.AgentID,
				Kind:        protocol.KindEvent,
				EventType:   protocol.EventConflictEscalated,
				EventData:   eventData.Clone(),
				Priority:    protocol.PriorityEscalation,
			}
			if err := e.store.Append(ctx, ev); err != nil {
				errs[i] = err
				return
			}
			e.pub.Publish(*ev)
		}(i, m)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// escalatedRecipients returns the members that already hold a
// conflict_escalated event for this conflict. A retried resolve after a
// partial fan-out failure must not notify them a second time.
func (e *Engine) escalatedRecipients(ctx context.Context, executionID, conflictID string) (map[string]bool, error) {
	rows, err := e.store.List(ctx, store.Filter{
		ExecutionID: executionID,
		Kind:        protocol.KindEvent,
		EventTypes:  []string{protocol.EventConflictEscalated},
	})
	if err != nil {
		return nil, err
	}
	notified := make(map[string]bool, len(rows))
	for _, ev := range rows {
		if id, _ := ev.EventData["conflict_id"].(string); id == conflictID {
			notified[ev.ToAgentID] = true
		}
	}
	return notified, nil
}

// Unresolved returns the execution's open conflicts, oldest first.
func (e *Engine) Unresolved(ctx context.Context, executionID string) ([]protocol.Interaction, error) {
	return e.store.List(ctx, store.Filter{
		ExecutionID:    executionID,
		UnresolvedOnly: true,
	})
}

// Summary aggregates an execution's conflict history.
type Summary struct {
	ExecutionID string                        `json:"execution_id"`
	Total       int                           `json:"total"`
	Unresolved  int                           `json:"unresolved"`
	ByType      map[protocol.ConflictType]int `json:"by_type"`

	// OldestUnresolvedAge is how long the oldest open conflict has been
	// waiting. Zero when nothing is open.
	OldestUnresolvedAge time.Duration `json:"oldest_unresolved_age"`
}

// Summarize computes the conflict summary for an execution.
func (e *Engine) Summarize(ctx context.Context, executionID string) (*Summary, error) {
	conflicts, err := e.store.List(ctx, store.Filter{
		ExecutionID: executionID,
		Kind:        protocol.KindConflict,
	})
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		ExecutionID: executionID,
		Total:       len(conflicts),
		ByType:      make(map[protocol.ConflictType]int),
	}
	now := e.nowFunc().UTC()
	for _, c := range conflicts {
		sum.ByType[c.ConflictType]++
		if c.Resolved {
			continue
		}
		sum.Unresolved++
		if age := now.Sub(c.CreatedAt); age > sum.OldestUnresolvedAge {
			sum.OldestUnresolvedAge = age
		}
	}
	return sum, nil
}
