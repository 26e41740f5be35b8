package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"crewlink/pkg/protocol"
	"crewlink/pkg/store"

	_ "modernc.org/sqlite"
)

// feedLimit bounds how many recent interactions the dashboard keeps.
const feedLimit = 100

// StateEntry is one shared state row as shown in the state view.
type StateEntry struct {
	ExecutionID string    `json:"execution_id"`
	StateKey    string    `json:"state_key"`
	Value       string    `json:"value"`
	Version     int64     `json:"version"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ConflictStats aggregates conflict rows for the conflicts view.
type ConflictStats struct {
	Total      int                           `json:"total"`
	Unresolved int                           `json:"unresolved"`
	ByType     map[protocol.ConflictType]int `json:"by_type"`
	ByOutcome  map[protocol.Outcome]int      `json:"by_outcome"`
	Open       []protocol.Interaction        `json:"open"`
}

// FetchLatestExecution returns the execution with the most recent activity,
// or "" when the database has no interactions yet.
func FetchLatestExecution(ctx context.Context, dbPath string) (string, error) {
	s, err := store.Open(dbPath)
	if err != nil {
		return "", fmt.Errorf("open db %s: %w", dbPath, err)
	}
	defer s.Close() //nolint:errcheck // best-effort close on read-only query path

	var executionID string
	err = s.DB().QueryRowContext(ctx,
		`SELECT execution_id FROM interactions ORDER BY seq DESC LIMIT 1`,
	).Scan(&executionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("query latest execution: %w", err)
	}
	return executionID, nil
}

// FetchFeed reads the most recent interactions for one execution from the
// daemon's database.
//
// Error cases:
//   - dbPath does not exist or is not a valid sqlite DB → returns error
//   - empty executionID → returns empty slice, nil error
func FetchFeed(ctx context.Context, dbPath, executionID string) ([]protocol.Interaction, error) {
	if executionID == "" {
		return []protocol.Interaction{}, nil
	}

	s, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", dbPath, err)
	}
	defer s.Close() //nolint:errcheck // best-effort close on read-only query path

	rows, err := s.List(ctx, store.Filter{
		ExecutionID: executionID,
		Limit:       feedLimit,
		Descending:  true,
	})
	if err != nil {
		return nil, err
	}

	// Oldest first for the feed.
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// FetchStateEntries reads the shared state table directly. An empty
// executionID means all executions.
func FetchStateEntries(ctx context.Context, dbPath, executionID string) ([]StateEntry, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", dbPath, err)
	}
	defer db.Close() //nolint:errcheck // best-effort close on read-only query path

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db %s: %w", dbPath, err)
	}

	query := `
		SELECT execution_id, state_key, value, version, updated_at
		FROM   state_entries
		ORDER  BY execution_id, state_key
	`
	args := []any{}
	if executionID != "" {
		query = `
			SELECT execution_id, state_key, value, version, updated_at
			FROM   state_entries
			WHERE  execution_id = ?
			ORDER  BY state_key
		`
		args = append(args, executionID)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query state entries: %w", err)
	}
	defer rows.Close() //nolint:errcheck // best-effort close after full iteration

	var entries []StateEntry
	for rows.Next() {
		var (
			e       StateEntry
			updated string
		)
		if err := rows.Scan(&e.ExecutionID, &e.StateKey, &e.Value, &e.Version, &updated); err != nil {
			return nil, fmt.Errorf("scan state entry: %w", err)
		}
		if e.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
			return nil, fmt.Errorf("parse updated_at: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state entries: %w", err)
	}

	if entries == nil {
		entries = []StateEntry{}
	}
	return entries, nil
}

// FetchConflictStats aggregates the conflict rows for one execution.
func FetchConflictStats(ctx context.Context, dbPath, executionID string) (*ConflictStats, error) {
	stats := &ConflictStats{
		ByType:    make(map[protocol.ConflictType]int),
		ByOutcome: make(map[protocol.Outcome]int),
		Open:      []protocol.Interaction{},
	}
	if executionID == "" {
		return stats, nil
	}

	s, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", dbPath, err)
	}
	defer s.Close() //nolint:errcheck // best-effort close on read-only query path

	rows, err := s.List(ctx, store.Filter{
		ExecutionID: executionID,
		Kind:        protocol.KindConflict,
	})
	if err != nil {
		return nil, err
	}

	for _, in := range rows {
		stats.Total++
		stats.ByType[in.ConflictType]++
		if in.Resolved {
			if in.Resolution != nil {
				stats.ByOutcome[in.Resolution.Outcome]++
			}
			continue
		}
		stats.Unresolved++
		stats.Open = append(stats.Open, in)
	}
	return stats, nil
}

// printSnapshot writes a one-shot JSON snapshot of the feed, state, and
// conflicts for scripts and health checks.
func printSnapshot(ctx context.Context, w io.Writer, dbPath, executionID string) error {
	if executionID == "" {
		latest, err := FetchLatestExecution(ctx, dbPath)
		if err != nil {
			return err
		}
		executionID = latest
	}

	feed, err := FetchFeed(ctx, dbPath, executionID)
	if err != nil {
		return err
	}
	entries, err := FetchStateEntries(ctx, dbPath, executionID)
	if err != nil {
		return err
	}
	stats, err := FetchConflictStats(ctx, dbPath, executionID)
	if err != nil {
		return err
	}

	snapshot := map[string]any{
		"execution_id": executionID,
		"feed":         feed,
		"state":        entries,
		"conflicts":    stats,
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}
