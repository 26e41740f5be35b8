// Package state implements the versioned shared-state table. Every write
// goes through a compare-and-swap keyed on the version the caller believes
// is current, so two agents racing on the same key produce exactly one
// winner and one StateConflictError.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"crewlink/pkg/protocol"
)

// VersionCreate is the expected-version sentinel for "create only". The CAS
// succeeds only if no entry exists yet. An expected version of 1 also
// creates when the key is absent, so first writers need not distinguish the
// two cases.
const VersionCreate int64 = 0

// Entry is one versioned state value.
type Entry struct {
	ExecutionID string         `json:"execution_id"`
	StateKey    string         `json:"state_key"`
	Value       protocol.Value `json:"value"`
	Version     int64          `json:"version"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Table provides compare-and-swap access to state_entries. It shares the
// database with pkg/store.
type Table struct {
	db *sql.DB

	// nowFunc returns the current time. Overridable in tests.
	nowFunc func() time.Time
}

// NewTable wraps an already-open database with the schema initialized.
func NewTable(db *sql.DB) *Table {
	return &Table{db: db, nowFunc: time.Now}
}

// Get returns the current entry for (executionID, stateKey), or
// NotFoundError if no write has ever succeeded for the key.
func (t *Table) Get(ctx context.Context, executionID, stateKey string) (*Entry, error) {
	row := t.db.QueryRowContext(ctx,
		`SELECT value, version, updated_at FROM state_entries
		 WHERE execution_id = ? AND state_key = ?`,
		executionID, stateKey)

	var (
		raw       string
		version   int64
		updatedAt string
	)
	if err := row.Scan(&raw, &version, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &protocol.NotFoundError{Resource: "state entry", ID: executionID + "/" + stateKey}
		}
		return nil, &protocol.StoreUnavailableError{Op: "get state entry", Err: err}
	}

	e := &Entry{ExecutionID: executionID, StateKey: stateKey, Version: version}
	if err := json.Unmarshal([]byte(raw), &e.Value); err != nil {
		return nil, &protocol.StoreUnavailableError{Op: "decode state value", Err: err}
	}
	var err error
	if e.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, &protocol.StoreUnavailableError{Op: "parse updated_at", Err: err}
	}
	return e, nil
}

// CompareAndSwap writes value at (executionID, stateKey) if expected matches
// the current version. With no existing entry, expected of VersionCreate or
// 1 creates the entry at version 1. On a version mismatch it returns a
// StateConflictError carrying the actual current version and value; the
// store is left untouched.
//
// Each comparison runs as a single SQL statement, so concurrent callers with
// the same expected version race safely: one wins, the rest get the
// conflict error.
func (t *Table) CompareAndSwap(ctx context.Context, executionID, stateKey string, value protocol.Value, expected int64) (*Entry, error) {
	if executionID == "" {
		return nil, &protocol.ValidationError{Field: "execution_id", Reason: "must not be empty"}
	}
	if stateKey == "" {
		return nil, &protocol.ValidationError{Field: "state_key", Reason: "must not be empty"}
	}
	if expected < 0 {
		return nil, &protocol.ValidationError{Field: "state_version", Reason: "must not be negative"}
	}
	if err := value.Validate(); err != nil {
		return nil, &protocol.ValidationError{Field: "state_value", Reason: err.Error()}
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, &protocol.ValidationError{Field: "state_value", Reason: err.Error()}
	}
	now := t.nowFunc().UTC()

	if expected <= 1 {
		res, err := t.db.ExecContext(ctx, `
			INSERT INTO state_entries (execution_id, state_key, value, version, updated_at)
			VALUES (?, ?, ?, 1, ?)
			ON CONFLICT (execution_id, state_key) DO NOTHING`,
			executionID, stateKey, string(raw), now.Format(time.RFC3339Nano))
		if err != nil {
			return nil, &protocol.StoreUnavailableError{Op: "create state entry", Err: err}
		}
		if n, err := res.RowsAffected(); err != nil {
			return nil, &protocol.StoreUnavailableError{Op: "create state entry", Err: err}
		} else if n == 1 {
			return &Entry{
				ExecutionID: executionID,
				StateKey:    stateKey,
				Value:       value.Clone(),
				Version:     1,
				UpdatedAt:   now,
			}, nil
		}
		// Entry already exists. expected == 1 may still match it below;
		// VersionCreate demanded absence, so it conflicts.
	}

	if expected >= 1 {
		res, err := t.db.ExecContext(ctx, `
			UPDATE state_entries SET value = ?, version = version + 1, updated_at = ?
			WHERE execution_id = ? AND state_key = ? AND version = ?`,
			string(raw), now.Format(time.RFC3339Nano),
			executionID, stateKey, expected)
		if err != nil {
			return nil, &protocol.StoreUnavailableError{Op: "update state entry", Err: err}
		}
		if n, err := res.RowsAffected(); err != nil {
			return nil, &protocol.StoreUnavailableError{Op: "update state entry", Err: err}
		} else if n == 1 {
			return &Entry{
				ExecutionID: executionID,
				StateKey:    stateKey,
				Value:       value.Clone(),
				Version:     expected + 1,
				UpdatedAt:   now,
			}, nil
		}
	}

	return nil, t.conflict(ctx, executionID, stateKey)
}

// conflict builds the StateConflictError carrying the actual current state.
func (t *Table) conflict(ctx context.Context, executionID, stateKey string) error {
	cur, err := t.Get(ctx, executionID, stateKey)
	if err != nil {
		var nf *protocol.NotFoundError
		if errors.As(err, &nf) {
			// Caller expected a version that was never written.
			return &protocol.StateConflictError{ExecutionID: executionID, StateKey: stateKey}
		}
		return err
	}
	return &protocol.StateConflictError{
		ExecutionID: executionID,
		StateKey:    stateKey,
		Version:     cur.Version,
		Value:       cur.Value,
	}
}
