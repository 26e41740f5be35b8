// Package store persists crew interactions in SQLite. The interactions table
// is append-only except for two narrow updates: recording a response to a
// message, and recording the resolution of a conflict. All reads and writes
// go through Store so callers never touch SQL directly.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"crewlink/pkg/protocol"
)

// Store wraps the SQLite database holding interactions and state entries.
type Store struct {
	db *sql.DB

	// nowFunc returns the current time. Overridable in tests.
	nowFunc func() time.Time

	// newID returns a fresh interaction ID. Overridable in tests.
	newID func() string
}

// Open opens (creating if needed) the crewlink database at dbPath with WAL
// journaling and initializes the schema.
func Open(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite permits one writer at a time. A single pooled connection keeps
	// concurrent appends and CAS attempts from hitting SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := New(db)
	if err := s.Init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already-open database. The caller is responsible for the
// schema being initialized (Open does both).
func New(db *sql.DB) *Store {
	return &Store{
		db:      db,
		nowFunc: time.Now,
		newID:   uuid.NewString,
	}
}

// Init executes the schema DDL. Idempotent.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, protocol.SchemaDDL); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Close releases the database connection. Safe to call multiple times.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB exposes the underlying handle for packages that share the database
// (pkg/state runs its compare-and-swap against the same connection pool).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Append validates in, assigns its ID, sequence, and timestamp, and inserts
// it. On return in.ID, in.Seq, and in.CreatedAt are populated. Priority 0 is
// replaced with the default.
func (s *Store) Append(ctx context.Context, in *protocol.Interaction) error {
	if err := validate(in); err != nil {
		return err
	}

	if in.ID == "" {
		in.ID = s.newID()
	}
	if in.Priority == 0 {
		in.Priority = protocol.PriorityDefault
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = s.nowFunc().UTC()
	}

	eventData, err := marshalValue(in.EventData)
	if err != nil {
		return &protocol.ValidationError{Field: "event_data", Reason: err.Error()}
	}
	stateValue, err := marshalValue(in.StateValue)
	if err != nil {
		return &protocol.ValidationError{Field: "state_value", Reason: err.Error()}
	}
	previousState, err := marshalValue(in.PreviousState)
	if err != nil {
		return &protocol.ValidationError{Field: "previous_state", Reason: err.Error()}
	}

	var resolutionData any
	if in.Resolution != nil {
		raw, err := json.Marshal(in.Resolution)
		if err != nil {
			return &protocol.ValidationError{Field: "resolution_data", Reason: err.Error()}
		}
		resolutionData = string(raw)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO interactions (
			id, execution_id, from_agent_id, to_agent_id, kind, priority, created_at,
			body, requires_response, response_deadline, response,
			event_type, event_data,
			state_key, state_value, state_version, previous_state,
			conflict_type, detected, resolved, resolution_strategy, resolution_data, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.ExecutionID, in.FromAgentID, nullString(in.ToAgentID),
		string(in.Kind), in.Priority, in.CreatedAt.Format(time.RFC3339Nano),
		nullString(in.Body), boolInt(in.RequiresResponse), timePtr(in.ResponseDeadline), nullString(in.Response),
		nullString(in.EventType), eventData,
		nullString(in.StateKey), stateValue, nullInt(in.StateVersion), previousState,
		nullString(string(in.ConflictType)), boolInt(in.Detected), boolInt(in.Resolved),
		nullString(string(in.Strategy)), resolutionData, timePtr(in.ResolvedAt))
	if err != nil {
		return &protocol.StoreUnavailableError{Op: "append interaction", Err: err}
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return &protocol.StoreUnavailableError{Op: "append interaction", Err: err}
	}
	in.Seq = seq
	return nil
}

// Get returns the interaction with the given ID, or NotFoundError.
func (s *Store) Get(ctx context.Context, id string) (*protocol.Interaction, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+" FROM interactions WHERE id = ?", id)
	if err != nil {
		return nil, &protocol.StoreUnavailableError{Op: "get interaction", Err: err}
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, &protocol.StoreUnavailableError{Op: "get interaction", Err: err}
		}
		return nil, &protocol.NotFoundError{Resource: "interaction", ID: id}
	}
	return scanInteraction(rows)
}

// SetResponse records a response on a message that requires one. Returns the
// updated interaction. Responding to a non-message, or to a message that does
// not require a response, is a validation error.
func (s *Store) SetResponse(ctx context.Context, id, responderID, response string) (*protocol.Interaction, error) {
	if responderID == "" {
		return nil, &protocol.ValidationError{Field: "responder_id", Reason: "must not be empty"}
	}
	if response == "" {
		return nil, &protocol.ValidationError{Field: "response", Reason: "must not be empty"}
	}

	in, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Kind != protocol.KindMessage {
		return nil, &protocol.ValidationError{Field: "interaction_id", Reason: "interaction is not a message"}
	}
	if !in.RequiresResponse {
		return nil, &protocol.ValidationError{Field: "interaction_id", Reason: "message does not require a response"}
	}
	if in.Response != "" {
		return nil, &protocol.ValidationError{Field: "interaction_id", Reason: "message already has a response"}
	}

	// The WHERE clause makes first-response-wins atomic; the pre-check above
	// only produces the friendlier error for the common case.
	res, err := s.db.ExecContext(ctx,
		`UPDATE interactions SET response = ?
		 WHERE id = ? AND (response IS NULL OR response = '')`, response, id)
	if err != nil {
		return nil, &protocol.StoreUnavailableError{Op: "set response", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, &protocol.StoreUnavailableError{Op: "set response", Err: err}
	}
	if n == 0 {
		return nil, &protocol.ValidationError{Field: "interaction_id", Reason: "message already has a response"}
	}
	in.Response = response
	return in, nil
}

// UpdateResolution records the resolution of a conflict row in place. Only
// the resolution columns change; everything else on the row is immutable.
func (s *Store) UpdateResolution(ctx context.Context, id string, strategy protocol.Strategy, data *protocol.ResolutionData, resolvedAt time.Time) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return &protocol.ValidationError{Field: "resolution_data", Reason: err.Error()}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE interactions
		SET resolved = 1, resolution_strategy = ?, resolution_data = ?, resolved_at = ?
		WHERE id = ? AND kind = ?`,
		string(strategy), string(raw), resolvedAt.UTC().Format(time.RFC3339Nano),
		id, string(protocol.KindConflict))
	if err != nil {
		return &protocol.StoreUnavailableError{Op: "update resolution", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &protocol.StoreUnavailableError{Op: "update resolution", Err: err}
	}
	if n == 0 {
		return &protocol.NotFoundError{Resource: "conflict", ID: id}
	}
	return nil
}

// Filter specifies criteria for List. Zero values mean "no filter".
type Filter struct {
	// ExecutionID scopes results to one execution (required).
	ExecutionID string

	// AgentID restricts to interactions the agent sent, was addressed, or
	// could see as a broadcast.
	AgentID string

	// Kind restricts to one interaction kind.
	Kind protocol.Kind

	// EventTypes restricts event rows to the named types.
	EventTypes []string

	// Since restricts to interactions created at or after this time.
	Since *time.Time

	// UnresolvedOnly restricts conflict rows to those not yet resolved.
	UnresolvedOnly bool

	// PendingOnly restricts message rows to those awaiting a response.
	PendingOnly bool

	// Limit restricts the number of results (0 = no limit).
	Limit int

	// Offset skips the first N results, for pagination.
	Offset int

	// Descending returns newest first. Default is oldest first, which is
	// the order interactions happened in.
	Descending bool
}

// List returns interactions matching the filter, ordered by sequence.
func (s *Store) List(ctx context.Context, f Filter) ([]protocol.Interaction, error) {
	if f.ExecutionID == "" {
		return nil, &protocol.ValidationError{Field: "execution_id", Reason: "must not be empty"}
	}

	query, args := buildQuery(f)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &protocol.StoreUnavailableError{Op: "list interactions", Err: err}
	}
	defer rows.Close()

	var out []protocol.Interaction
	for rows.Next() {
		in, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *in)
	}
	if err := rows.Err(); err != nil {
		return nil, &protocol.StoreUnavailableError{Op: "list interactions", Err: err}
	}
	return out, nil
}

// buildQuery constructs the SQL query and arguments from a Filter.
func buildQuery(f Filter) (string, []any) {
	var conditions []string
	var args []any

	query := selectColumns + " FROM interactions WHERE execution_id = ?"
	args = append(args, f.ExecutionID)

	if f.AgentID != "" {
		conditions = append(conditions, "(from_agent_id = ? OR to_agent_id = ? OR to_agent_id IS NULL)")
		args = append(args, f.AgentID, f.AgentID)
	}

	if f.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(f.Kind))
	}

	if len(f.EventTypes) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(f.EventTypes)), ", ")
		conditions = append(conditions, "event_type IN ("+placeholders+")")
		for _, et := range f.EventTypes {
			args = append(args, et)
		}
	}

	if f.Since != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, f.Since.UTC().Format(time.RFC3339Nano))
	}

	if f.UnresolvedOnly {
		conditions = append(conditions, "kind = ? AND resolved = 0")
		args = append(args, string(protocol.KindConflict))
	}

	if f.PendingOnly {
		conditions = append(conditions, "kind = ? AND requires_response = 1 AND response IS NULL")
		args = append(args, string(protocol.KindMessage))
	}

	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}

	if f.Descending {
		query += " ORDER BY seq DESC"
	} else {
		query += " ORDER BY seq ASC"
	}

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	if f.Offset > 0 {
		if f.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += fmt.Sprintf(" OFFSET %d", f.Offset)
	}

	return query, args
}

const selectColumns = `SELECT
	seq, id, execution_id, from_agent_id, COALESCE(to_agent_id, ''),
	kind, priority, created_at,
	COALESCE(body, ''), requires_response, response_deadline, COALESCE(response, ''),
	COALESCE(event_type, ''), event_data,
	COALESCE(state_key, ''), state_value, COALESCE(state_version, 0), previous_state,
	COALESCE(conflict_type, ''), detected, resolved,
	COALESCE(resolution_strategy, ''), resolution_data, resolved_at`

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanInteraction(row scanner) (*protocol.Interaction, error) {
	var (
		in                                   protocol.Interaction
		kind, conflictType, strategy         string
		createdAt                            string
		requiresResponse, detected, resolved int
		responseDeadline, resolvedAt         sql.NullString
		eventData, stateValue, previousState sql.NullString
		resolutionData                       sql.NullString
	)

	err := row.Scan(
		&in.Seq, &in.ID, &in.ExecutionID, &in.FromAgentID, &in.ToAgentID,
		&kind, &in.Priority, &createdAt,
		&in.Body, &requiresResponse, &responseDeadline, &in.Response,
		&in.EventType, &eventData,
		&in.StateKey, &stateValue, &in.StateVersion, &previousState,
		&conflictType, &detected, &resolved,
		&strategy, &resolutionData, &resolvedAt)
	if err != nil {
		return nil, &protocol.StoreUnavailableError{Op: "scan interaction", Err: err}
	}

	in.Kind = protocol.Kind(kind)
	in.ConflictType = protocol.ConflictType(conflictType)
	in.Strategy = protocol.Strategy(strategy)
	in.RequiresResponse = requiresResponse != 0
	in.Detected = detected != 0
	in.Resolved = resolved != 0

	if in.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, &protocol.StoreUnavailableError{Op: "parse created_at", Err: err}
	}
	if in.ResponseDeadline, err = parseNullTime(responseDeadline); err != nil {
		return nil, &protocol.StoreUnavailableError{Op: "parse response_deadline", Err: err}
	}
	if in.ResolvedAt, err = parseNullTime(resolvedAt); err != nil {
		return nil, &protocol.StoreUnavailableError{Op: "parse resolved_at", Err: err}
	}

	if in.EventData, err = unmarshalValue(eventData); err != nil {
		return nil, &protocol.StoreUnavailableError{Op: "decode event_data", Err: err}
	}
	if in.StateValue, err = unmarshalValue(stateValue); err != nil {
		return nil, &protocol.StoreUnavailableError{Op: "decode state_value", Err: err}
	}
	if in.PreviousState, err = unmarshalValue(previousState); err != nil {
		return nil, &protocol.StoreUnavailableError{Op: "decode previous_state", Err: err}
	}
	if resolutionData.Valid && resolutionData.String != "" {
		var rd protocol.ResolutionData
		if err := json.Unmarshal([]byte(resolutionData.String), &rd); err != nil {
			return nil, &protocol.StoreUnavailableError{Op: "decode resolution_data", Err: err}
		}
		in.Resolution = &rd
	}

	return &in, nil
}

// --- validation ---

func validate(in *protocol.Interaction) error {
	if in.ExecutionID == "" {
		return &protocol.ValidationError{Field: "execution_id", Reason: "must not be empty"}
	}
	if in.FromAgentID == "" {
		return &protocol.ValidationError{Field: "from_agent_id", Reason: "must not be empty"}
	}
	if !in.Kind.Valid() {
		return &protocol.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown kind %q", in.Kind)}
	}
	if in.Priority != 0 && (in.Priority < protocol.PriorityMin || in.Priority > protocol.PriorityMax) {
		return &protocol.ValidationError{
			Field:  "priority",
			Reason: fmt.Sprintf("must be between %d and %d", protocol.PriorityMin, protocol.PriorityMax),
		}
	}

	switch in.Kind {
	case protocol.KindMessage:
		if in.Body == "" {
			return &protocol.ValidationError{Field: "body", Reason: "must not be empty"}
		}
	case protocol.KindEvent:
		if in.EventType == "" {
			return &protocol.ValidationError{Field: "event_type", Reason: "must not be empty"}
		}
		if err := in.EventData.Validate(); err != nil {
			return &protocol.ValidationError{Field: "event_data", Reason: err.Error()}
		}
	case protocol.KindStateSync:
		if in.StateKey == "" {
			return &protocol.ValidationError{Field: "state_key", Reason: "must not be empty"}
		}
		if err := in.StateValue.Validate(); err != nil {
			return &protocol.ValidationError{Field: "state_value", Reason: err.Error()}
		}
	case protocol.KindConflict:
		if !in.ConflictType.Valid() {
			return &protocol.ValidationError{
				Field:  "conflict_type",
				Reason: fmt.Sprintf("unknown conflict type %q", in.ConflictType),
			}
		}
	}
	return nil
}

// --- SQL value helpers ---

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func marshalValue(v protocol.Value) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func unmarshalValue(ns sql.NullString) (protocol.Value, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var v protocol.Value
	if err := json.Unmarshal([]byte(ns.String), &v); err != nil {
		return nil, err
	}
	return v, nil
}
