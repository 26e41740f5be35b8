package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"crewlink/pkg/protocol"
	"crewlink/pkg/state"
	"crewlink/pkg/store"
)

// seedDB creates a database with a few interactions, state entries, and
// conflicts across two executions.
func seedDB(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "crewlink.db")

	s, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	appends := []*protocol.Interaction{
		{ExecutionID: "exec-1", FromAgentID: "agent-a", Kind: protocol.KindMessage, Body: "hello"},
		{ExecutionID: "exec-1", FromAgentID: "agent-b", Kind: protocol.KindEvent, EventType: "task_completed"},
		{ExecutionID: "exec-1", FromAgentID: "agent-a", Kind: protocol.KindConflict,
			ConflictType: protocol.ConflictConcurrentUpdate, Detected: true, StateKey: "plan"},
		{ExecutionID: "exec-1", FromAgentID: "agent-b", Kind: protocol.KindConflict,
			ConflictType: protocol.ConflictResourceContention, Detected: true},
		{ExecutionID: "exec-2", FromAgentID: "agent-z", Kind: protocol.KindMessage, Body: "other crew"},
	}
	for _, in := range appends {
		if err := s.Append(ctx, in); err != nil {
			t.Fatalf("append %s: %v", in.Kind, err)
		}
	}

	// Resolve the second conflict so stats cover both sides.
	err = s.UpdateResolution(ctx, appends[3].ID, protocol.StrategyLatestWins,
		&protocol.ResolutionData{Outcome: protocol.OutcomeKept}, time.Now().UTC())
	if err != nil {
		t.Fatalf("resolve conflict: %v", err)
	}

	tbl := state.NewTable(s.DB())
	if _, err := tbl.CompareAndSwap(ctx, "exec-1", "plan", protocol.Value{"phase": 1.0}, state.VersionCreate); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	return dbPath
}

func TestFetchFeed(t *testing.T) {
	dbPath := seedDB(t)
	ctx := context.Background()

	t.Run("returns execution rows oldest first", func(t *testing.T) {
		feed, err := FetchFeed(ctx, dbPath, "exec-1")
		if err != nil {
			t.Fatalf("FetchFeed failed: %v", err)
		}
		if len(feed) != 4 {
			t.Fatalf("got %d rows, want 4", len(feed))
		}
		if feed[0].Body != "hello" {
			t.Errorf("first row = %q, want the oldest message", feed[0].Body)
		}
		for i := 1; i < len(feed); i++ {
			if feed[i].Seq <= feed[i-1].Seq {
				t.Errorf("feed out of order at %d: %d after %d", i, feed[i].Seq, feed[i-1].Seq)
			}
		}
	})

	t.Run("empty execution yields empty feed", func(t *testing.T) {
		feed, err := FetchFeed(ctx, dbPath, "")
		if err != nil {
			t.Fatalf("FetchFeed failed: %v", err)
		}
		if len(feed) != 0 {
			t.Errorf("got %d rows, want 0", len(feed))
		}
	})
}

func TestFetchLatestExecution(t *testing.T) {
	ctx := context.Background()

	t.Run("picks the most recently active execution", func(t *testing.T) {
		dbPath := seedDB(t)
		got, err := FetchLatestExecution(ctx, dbPath)
		if err != nil {
			t.Fatalf("FetchLatestExecution failed: %v", err)
		}
		if got != "exec-2" {
			t.Errorf("latest execution = %q, want exec-2", got)
		}
	})

	t.Run("empty database yields empty id", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "empty.db")
		s, err := store.Open(dbPath)
		if err != nil {
			t.Fatalf("open store: %v", err)
		}
		defer s.Close()

		got, err := FetchLatestExecution(ctx, dbPath)
		if err != nil {
			t.Fatalf("FetchLatestExecution failed: %v", err)
		}
		if got != "" {
			t.Errorf("latest execution = %q, want empty", got)
		}
	})
}

func TestFetchStateEntries(t *testing.T) {
	dbPath := seedDB(t)

	entries, err := FetchStateEntries(context.Background(), dbPath, "exec-1")
	if err != nil {
		t.Fatalf("FetchStateEntries failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.StateKey != "plan" || e.Version != 1 {
		t.Errorf("entry = %s/v%d, want plan/v1", e.StateKey, e.Version)
	}
	if e.Value == "" {
		t.Error("entry value is empty")
	}
}

func TestFetchConflictStats(t *testing.T) {
	dbPath := seedDB(t)

	stats, err := FetchConflictStats(context.Background(), dbPath, "exec-1")
	if err != nil {
		t.Fatalf("FetchConflictStats failed: %v", err)
	}
	if stats.Total != 2 {
		t.Errorf("Total = %d, want 2", stats.Total)
	}
	if stats.Unresolved != 1 {
		t.Errorf("Unresolved = %d, want 1", stats.Unresolved)
	}
	if stats.ByType[protocol.ConflictConcurrentUpdate] != 1 {
		t.Errorf("ByType[concurrent_update] = %d, want 1", stats.ByType[protocol.ConflictConcurrentUpdate])
	}
	if stats.ByOutcome[protocol.OutcomeKept] != 1 {
		t.Errorf("ByOutcome[kept] = %d, want 1", stats.ByOutcome[protocol.OutcomeKept])
	}
	if len(stats.Open) != 1 || stats.Open[0].ConflictType != protocol.ConflictConcurrentUpdate {
		t.Errorf("Open = %+v, want the unresolved concurrent_update", stats.Open)
	}
}

func TestPrintSnapshot(t *testing.T) {
	dbPath := seedDB(t)

	var buf bytes.Buffer
	if err := printSnapshot(context.Background(), &buf, dbPath, "exec-1"); err != nil {
		t.Fatalf("printSnapshot failed: %v", err)
	}

	var snapshot struct {
		ExecutionID string                 `json:"execution_id"`
		Feed        []protocol.Interaction `json:"feed"`
		State       []StateEntry           `json:"state"`
		Conflicts   *ConflictStats         `json:"conflicts"`
	}
	if err := json.Unmarshal(buf.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snapshot.ExecutionID != "exec-1" {
		t.Errorf("ExecutionID = %q, want exec-1", snapshot.ExecutionID)
	}
	if len(snapshot.Feed) != 4 {
		t.Errorf("feed has %d rows, want 4", len(snapshot.Feed))
	}
	if len(snapshot.State) != 1 {
		t.Errorf("state has %d entries, want 1", len(snapshot.State))
	}
	if snapshot.Conflicts == nil || snapshot.Conflicts.Total != 2 {
		t.Errorf("conflicts = %+v, want total 2", snapshot.Conflicts)
	}
}
