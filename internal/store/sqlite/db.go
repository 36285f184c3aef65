// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package sqlite

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	fmerr "github.com/funmax-dev/funmax/pkg/errors"
)

// OpenDB opens (or creates) the SQLite database at dbPath and runs the
// schema migration. The returned handle is shared by all sub-stores.
func OpenDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "opening sqlite db")
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "pinging sqlite db")
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "migrating sqlite db")
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	org_id     TEXT NOT NULL,
	agent_id   TEXT NOT NULL DEFAULT '',
	model_ref  TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'idle',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_org ON sessions(org_id, created_at);

CREATE TABLE IF NOT EXISTS messages (
	id            TEXT NOT NULL,
	session_id    TEXT NOT NULL,
	role          TEXT NOT NULL,
	content       TEXT NOT NULL DEFAULT '',
	tool_calls    TEXT NOT NULL DEFAULT '[]',
	tool_results  TEXT NOT NULL DEFAULT '[]',
	is_streaming  INTEGER NOT NULL DEFAULT 0,
	is_complete   INTEGER NOT NULL DEFAULT 0,
	finish_reason TEXT NOT NULL DEFAULT '',
	usage         TEXT NOT NULL DEFAULT '',
	timing        TEXT NOT NULL DEFAULT '{}',
	created_at    TEXT NOT NULL,
	PRIMARY KEY (session_id, id),
	FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);

CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_kv_expires ON kv(expires_at) WHERE expires_at != '';

CREATE TABLE IF NOT EXISTS accounts (
	org_id            TEXT PRIMARY KEY,
	balance_micro_usd INTEGER NOT NULL DEFAULT 0,
	updated_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger (
	id             TEXT PRIMARY KEY,
	org_id         TEXT NOT NULL,
	session_id     TEXT NOT NULL DEFAULT '',
	model_ref      TEXT NOT NULL DEFAULT '',
	input_tokens   INTEGER NOT NULL DEFAULT 0,
	output_tokens  INTEGER NOT NULL DEFAULT 0,
	cost_micro_usd INTEGER NOT NULL DEFAULT 0,
	created_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_org ON ledger(org_id, created_at);
`
	_, err := db.Exec(ddl)
	return err
}

// formatTime serialises a time.Time for TEXT storage. Zero times store as "".
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime deserialises a time string stored in the database.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
