package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// TestWatchDatabaseDir verifies that a change next to the database file
// produces an fsChangeMsg instead of waiting for the poll timer.
func TestWatchDatabaseDir(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "crewlink.db")

	watchCmd := watchDatabaseDir(dbPath)
	if watchCmd == nil {
		t.Fatal("watchDatabaseDir returned nil, expected tea.Cmd")
	}

	msgChan := make(chan tea.Msg, 1)
	go func() {
		msgChan <- watchCmd()
	}()

	// Give watcher time to initialize
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(dbPath, []byte("x"), 0o600); err != nil {
		t.Fatalf("failed to write database file: %v", err)
	}

	select {
	case msg := <-msgChan:
		if _, ok := msg.(fsChangeMsg); !ok {
			t.Errorf("expected fsChangeMsg, got %T", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for fsChangeMsg after file change")
	}
}

// TestWatchMissingDirFallsBack verifies polling-only mode when the database
// directory does not exist.
func TestWatchMissingDirFallsBack(t *testing.T) {
	if cmd := watchDatabaseDir("/nonexistent/dir/crewlink.db"); cmd != nil {
		t.Error("expected nil cmd for missing directory")
	}
}

// TestFsChangeTriggersRefresh verifies that fsChangeMsg schedules an
// immediate refresh and re-arms the watcher.
func TestFsChangeTriggersRefresh(t *testing.T) {
	m := testModel()

	_, cmd := m.Update(fsChangeMsg{})
	if cmd == nil {
		t.Fatal("expected refresh cmd on fsChangeMsg, got nil")
	}
}
