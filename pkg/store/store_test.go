package store_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"crewlink/pkg/protocol"
	"crewlink/pkg/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "crewlink.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAssignsIDSeqAndTimestamp(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	in := &protocol.Interaction{
		ExecutionID: "exec-1",
		FromAgentID: "agent-a",
		Kind:        protocol.KindMessage,
		Body:        "hello crew",
	}
	if err := s.Append(ctx, in); err != nil {
		t.Fatalf("append: %v", err)
	}

	if in.ID == "" {
		t.Error("expected a generated ID")
	}
	if in.Seq == 0 {
		t.Error("expected a nonzero seq")
	}
	if in.CreatedAt.IsZero() {
		t.Error("expected a timestamp")
	}
	if in.Priority != protocol.PriorityDefault {
		t.Errorf("expected default priority %d, got %d", protocol.PriorityDefault, in.Priority)
	}
}

func TestAppendSeqIsMonotonic(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	var last int64
	for i := 0; i < 5; i++ {
		in := &protocol.Interaction{
			ExecutionID: "exec-1",
			FromAgentID: "agent-a",
			Kind:        protocol.KindEvent,
			EventType:   "tick",
		}
		if err := s.Append(ctx, in); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if in.Seq <= last {
			t.Fatalf("seq not increasing: %d after %d", in.Seq, last)
		}
		last = in.Seq
	}
}

func TestAppendValidation(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		in    protocol.Interaction
		field string
	}{
		{
			name:  "missing execution_id",
			in:    protocol.Interaction{FromAgentID: "a", Kind: protocol.KindMessage, Body: "x"},
			field: "execution_id",
		},
		{
			name:  "missing from_agent_id",
			in:    protocol.Interaction{ExecutionID: "e", Kind: protocol.KindMessage, Body: "x"},
			field: "from_agent_id",
		},
		{
			name:  "unknown kind",
			in:    protocol.Interaction{ExecutionID: "e", FromAgentID: "a", Kind: "note"},
			field: "kind",
		},
		{
			name:  "message without body",
			in:    protocol.Interaction{ExecutionID: "e", FromAgentID: "a", Kind: protocol.KindMessage},
			field: "body",
		},
		{
			name:  "event without type",
			in:    protocol.Interaction{ExecutionID: "e", FromAgentID: "a", Kind: protocol.KindEvent},
			field: "event_type",
		},
		{
			name:  "state sync without key",
			in:    protocol.Interaction{ExecutionID: "e", FromAgentID: "a", Kind: protocol.KindStateSync},
			field: "state_key",
		},
		{
			name: "conflict with bad type",
			in: protocol.Interaction{
				ExecutionID: "e", FromAgentID: "a",
				Kind: protocol.KindConflict, ConflictType: "disagreement",
			},
			field: "conflict_type",
		},
		{
			name: "priority out of range",
			in: protocol.Interaction{
				ExecutionID: "e", FromAgentID: "a",
				Kind: protocol.KindMessage, Body: "x", Priority: 11,
			},
			field: "priority",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := tc.in
			err := s.Append(ctx, &in)
			var verr *protocol.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tc.field {
				t.Errorf("expected field %q, got %q", tc.field, verr.Field)
			}
		})
	}
}

func TestGetRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	deadline := time.Now().Add(10 * time.Minute).UTC().Truncate(time.Millisecond)
	in := &protocol.Interaction{
		ExecutionID:      "exec-1",
		FromAgentID:      "agent-a",
		ToAgentID:        "agent-b",
		Kind:             protocol.KindMessage,
		Body:             "status?",
		Priority:         8,
		RequiresResponse: true,
		ResponseDeadline: &deadline,
	}
	if err := s.Append(ctx, in); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := s.Get(ctx, in.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Body != "status?" || got.ToAgentID != "agent-b" || got.Priority != 8 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if !got.RequiresResponse {
		t.Error("requires_response lost")
	}
	if got.ResponseDeadline == nil || !got.ResponseDeadline.Equal(deadline) {
		t.Errorf("deadline mismatch: got %v, want %v", got.ResponseDeadline, deadline)
	}
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "nope")
	var nf *protocol.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if nf.Resource != "interaction" {
		t.Errorf("expected resource interaction, got %q", nf.Resource)
	}
}

func TestStateSyncRoundTripPreservesValues(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	in := &protocol.Interaction{
		ExecutionID:   "exec-1",
		FromAgentID:   "agent-a",
		Kind:          protocol.KindStateSync,
		StateKey:      "progress",
		StateValue:    protocol.Value{"done": float64(3), "phase": "extract"},
		StateVersion:  2,
		PreviousState: protocol.Value{"done": float64(2)},
	}
	if err := s.Append(ctx, in); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := s.Get(ctx, in.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.StateValue.Equal(in.StateValue) {
		t.Errorf("state_value mismatch: %v", got.StateValue)
	}
	if !got.PreviousState.Equal(in.PreviousState) {
		t.Errorf("previous_state mismatch: %v", got.PreviousState)
	}
	if got.StateVersion != 2 {
		t.Errorf("state_version mismatch: %d", got.StateVersion)
	}
}

func TestSetResponse(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	in := &protocol.Interaction{
		ExecutionID:      "exec-1",
		FromAgentID:      "agent-a",
		ToAgentID:        "agent-b",
		Kind:             protocol.KindMessage,
		Body:             "need review",
		RequiresResponse: true,
	}
	if err := s.Append(ctx, in); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := s.SetResponse(ctx, in.ID, "agent-b", "done")
	if err != nil {
		t.Fatalf("set response: %v", err)
	}
	if got.Response != "done" {
		t.Errorf("expected response recorded, got %q", got.Response)
	}

	// Second response to the same message is rejected.
	_, err = s.SetResponse(ctx, in.ID, "agent-c", "me too")
	var verr *protocol.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for double response, got %v", err)
	}
}

func TestSetResponseConcurrentSingleWinner(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	in := &protocol.Interaction{
		ExecutionID:      "exec-1",
		FromAgentID:      "agent-a",
		Kind:             protocol.KindMessage,
		Body:             "who can take this?",
		RequiresResponse: true,
	}
	if err := s.Append(ctx, in); err != nil {
		t.Fatalf("append: %v", err)
	}

	const responders = 8
	results := make([]error, responders)
	var wg sync.WaitGroup
	for i := 0; i < responders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = s.SetResponse(ctx, in.ID,
				fmt.Sprintf("agent-%d", i), fmt.Sprintf("response %d", i))
		}(i)
	}
	wg.Wait()

	won := 0
	for i, err := range results {
		if err == nil {
			won++
			continue
		}
		var verr *protocol.ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("responder %d: expected ValidationError, got %v", i, err)
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly one responder to win, got %d", won)
	}

	got, err := s.Get(ctx, in.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Response == "" {
		t.Error("winning response not persisted")
	}
}

func TestSetResponseRejectsNonMessage(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	in := &protocol.Interaction{
		ExecutionID: "exec-1",
		FromAgentID: "agent-a",
		Kind:        protocol.KindEvent,
		EventType:   "tick",
	}
	if err := s.Append(ctx, in); err != nil {
		t.Fatalf("append: %v", err)
	}

	_, err := s.SetResponse(ctx, in.ID, "agent-b", "ok")
	var verr *protocol.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestUpdateResolution(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	in := &protocol.Interaction{
		ExecutionID:  "exec-1",
		FromAgentID:  "agent-a",
		Kind:         protocol.KindConflict,
		ConflictType: protocol.ConflictConcurrentUpdate,
		Detected:     true,
		Resolution: &protocol.ResolutionData{
			StateKey:       "progress",
			CurrentValue:   protocol.Value{"done": float64(2)},
			AttemptedValue: protocol.Value{"done": float64(1)},
		},
	}
	if err := s.Append(ctx, in); err != nil {
		t.Fatalf("append: %v", err)
	}

	data := *in.Resolution
	data.Outcome = protocol.OutcomeKept
	resolvedAt := time.Now().UTC()
	if err := s.UpdateResolution(ctx, in.ID, protocol.StrategyLatestWins, &data, resolvedAt); err != nil {
		t.Fatalf("update resolution: %v", err)
	}

	got, err := s.Get(ctx, in.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Resolved {
		t.Error("expected resolved flag set")
	}
	if got.Strategy != protocol.StrategyLatestWins {
		t.Errorf("expected strategy recorded, got %q", got.Strategy)
	}
	if got.Resolution == nil || got.Resolution.Outcome != protocol.OutcomeKept {
		t.Errorf("expected outcome kept, got %+v", got.Resolution)
	}
	if got.ResolvedAt == nil {
		t.Error("expected resolved_at set")
	}
}

func TestUpdateResolutionUnknownConflict(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	err := s.UpdateResolution(context.Background(), "nope", protocol.StrategyEscalate,
		&protocol.ResolutionData{}, time.Now())
	var nf *protocol.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestListFilters(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	seed := []protocol.Interaction{
		{ExecutionID: "exec-1", FromAgentID: "a", ToAgentID: "b", Kind: protocol.KindMessage, Body: "direct"},
		{ExecutionID: "exec-1", FromAgentID: "a", Kind: protocol.KindMessage, Body: "broadcast"},
		{ExecutionID: "exec-1", FromAgentID: "b", Kind: protocol.KindEvent, EventType: "phase_complete"},
		{ExecutionID: "exec-1", FromAgentID: "c", Kind: protocol.KindEvent, EventType: "tick"},
		{ExecutionID: "exec-2", FromAgentID: "a", Kind: protocol.KindMessage, Body: "other execution"},
	}
	for i := range seed {
		if err := s.Append(ctx, &seed[i]); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	tests := []struct {
		name   string
		filter store.Filter
		want   int
	}{
		{"by execution", store.Filter{ExecutionID: "exec-1"}, 4},
		{"by kind", store.Filter{ExecutionID: "exec-1", Kind: protocol.KindEvent}, 2},
		{"by event type", store.Filter{ExecutionID: "exec-1", EventTypes: []string{"tick"}}, 1},
		{"by agent sees broadcasts", store.Filter{ExecutionID: "exec-1", AgentID: "c"}, 4},
		{"agent b sees direct", store.Filter{ExecutionID: "exec-1", AgentID: "b", Kind: protocol.KindMessage}, 2},
		{"limit", store.Filter{ExecutionID: "exec-1", Limit: 2}, 2},
		{"offset", store.Filter{ExecutionID: "exec-1", Offset: 3}, 1},
		{"other execution", store.Filter{ExecutionID: "exec-2"}, 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.List(ctx, tc.filter)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(got) != tc.want {
				t.Errorf("expected %d interactions, got %d", tc.want, len(got))
			}
		})
	}
}

func TestListOrdering(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	for _, body := range []string{"first", "second", "third"} {
		in := &protocol.Interaction{
			ExecutionID: "exec-1", FromAgentID: "a",
			Kind: protocol.KindMessage, Body: body,
		}
		if err := s.Append(ctx, in); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	asc, err := s.List(ctx, store.Filter{ExecutionID: "exec-1"})
	if err != nil {
		t.Fatalf("list asc: %v", err)
	}
	if asc[0].Body != "first" || asc[2].Body != "third" {
		t.Errorf("ascending order wrong: %q .. %q", asc[0].Body, asc[2].Body)
	}

	desc, err := s.List(ctx, store.Filter{ExecutionID: "exec-1", Descending: true})
	if err != nil {
		t.Fatalf("list desc: %v", err)
	}
	if desc[0].Body != "third" {
		t.Errorf("descending order wrong: %q first", desc[0].Body)
	}
}

func TestListUnresolvedAndPending(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	conflict := &protocol.Interaction{
		ExecutionID: "exec-1", FromAgentID: "a",
		Kind: protocol.KindConflict, ConflictType: protocol.ConflictStateMismatch, Detected: true,
	}
	if err := s.Append(ctx, conflict); err != nil {
		t.Fatalf("append conflict: %v", err)
	}
	resolvedConflict := &protocol.Interaction{
		ExecutionID: "exec-1", FromAgentID: "a",
		Kind: protocol.KindConflict, ConflictType: protocol.ConflictPriority, Detected: true,
	}
	if err := s.Append(ctx, resolvedConflict); err != nil {
		t.Fatalf("append conflict: %v", err)
	}
	if err := s.UpdateResolution(ctx, resolvedConflict.ID, protocol.StrategyLatestWins,
		&protocol.ResolutionData{Outcome: protocol.OutcomeKept}, time.Now()); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	pending := &protocol.Interaction{
		ExecutionID: "exec-1", FromAgentID: "a", ToAgentID: "b",
		Kind: protocol.KindMessage, Body: "?", RequiresResponse: true,
	}
	if err := s.Append(ctx, pending); err != nil {
		t.Fatalf("append pending: %v", err)
	}
	answered := &protocol.Interaction{
		ExecutionID: "exec-1", FromAgentID: "a", ToAgentID: "b",
		Kind: protocol.KindMessage, Body: "??", RequiresResponse: true,
	}
	if err := s.Append(ctx, answered); err != nil {
		t.Fatalf("append answered: %v", err)
	}
	if _, err := s.SetResponse(ctx, answered.ID, "b", "!"); err != nil {
		t.Fatalf("respond: %v", err)
	}

	unresolved, err := s.List(ctx, store.Filter{ExecutionID: "exec-1", UnresolvedOnly: true})
	if err != nil {
		t.Fatalf("list unresolved: %v", err)
	}
	if len(unresolved) != 1 || unresolved[0].ID != conflict.ID {
		t.Errorf("expected only the unresolved conflict, got %d rows", len(unresolved))
	}

	open, err := s.List(ctx, store.Filter{ExecutionID: "exec-1", PendingOnly: true})
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(open) != 1 || open[0].ID != pending.ID {
		t.Errorf("expected only the unanswered message, got %d rows", len(open))
	}
}
