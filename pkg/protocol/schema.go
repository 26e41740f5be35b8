package protocol

// SchemaDDL defines the SQLite schema for the crewlink coordination database.
// Tables: interactions (append-only record), state_entries (versioned state).
// Execute against a SQLite database with: db.Exec(SchemaDDL)
const SchemaDDL = `
-- Append-only record of every interaction: messages, events, state sync
-- attempts, and conflicts. seq (the rowid) orders interactions within an
-- execution. Conflict rows additionally carry resolution columns which are
-- the only columns ever updated in place.
CREATE TABLE IF NOT EXISTS interactions (
    seq INTEGER PRIMARY KEY,
    id TEXT NOT NULL UNIQUE,
    execution_id TEXT NOT NULL,
    from_agent_id TEXT NOT NULL,
    to_agent_id TEXT,
    kind TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 5,
    created_at TEXT NOT NULL,

    -- message
    body TEXT,
    requires_response INTEGER NOT NULL DEFAULT 0,
    response_deadline TEXT,
    response TEXT,

    -- event
    event_type TEXT,
    event_data TEXT,

    -- state_sync
    state_key TEXT,
    state_value TEXT,
    state_version INTEGER,
    previous_state TEXT,

    -- conflict
    conflict_type TEXT,
    detected INTEGER NOT NULL DEFAULT 0,
    resolved INTEGER NOT NULL DEFAULT 0,
    resolution_strategy TEXT,
    resolution_data TEXT,
    resolved_at TEXT
);

CREATE INDEX IF NOT EXISTS interactions_by_execution
    ON interactions(execution_id, seq);

CREATE INDEX IF NOT EXISTS interactions_by_kind
    ON interactions(execution_id, kind, seq);

-- Versioned shared state, keyed by (execution_id, state_key). version starts
-- at 1 on the first accepted write and increments by exactly 1 per accepted
-- write. All mutation goes through the compare-and-swap in pkg/state.
CREATE TABLE IF NOT EXISTS state_entries (
    execution_id TEXT NOT NULL,
    state_key TEXT NOT NULL,
    value TEXT NOT NULL,
    version INTEGER NOT NULL,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (execution_id, state_key)
);
`
