package protocol

// SchemaDDL defines the SQLite schema shared by the hub and satellites.
// Tables: events (hub lifecycle log), config (ConfigStore records).
// Execute against a SQLite database with: db.Exec(SchemaDDL)
const SchemaDDL = `
-- Hub event log: connections, mode changes, commands, protocol errors
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY,
    type TEXT NOT NULL,
    source TEXT NOT NULL,
    conn_id TEXT,
    client TEXT,
    payload TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS events_conn ON events(conn_id);

-- Satellite records keyed by owner (bonding, advisory, ...), JSON values
CREATE TABLE IF NOT EXISTS config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`
