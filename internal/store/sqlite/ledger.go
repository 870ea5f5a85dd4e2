// Package sqlite is a single-file ledger for local deployments. It stores the
// same tables as the Postgres ledger; vectors are kept as JSON arrays because
// all similarity search happens in the in-memory index.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS propositions (
	id              TEXT PRIMARY KEY,
	content         TEXT NOT NULL,
	recorded_at     INTEGER NOT NULL,
	valid_from      INTEGER NOT NULL,
	valid_to        INTEGER,
	status          TEXT NOT NULL DEFAULT 'ACTIVE'
	                CHECK (status IN ('ACTIVE', 'SUPERSEDED', 'CONTRADICTED', 'ARCHIVED')),
	confidence      REAL NOT NULL CHECK (confidence BETWEEN 0.0 AND 1.0),
	purpose         TEXT NOT NULL,
	source_type     TEXT NOT NULL,
	signal_valence  TEXT NOT NULL DEFAULT '',
	source          TEXT NOT NULL DEFAULT 'conversation',
	structured_data TEXT,
	session_id      TEXT NOT NULL DEFAULT '',
	message_index   INTEGER NOT NULL DEFAULT 0,
	char_start      INTEGER,
	char_end        INTEGER,
	source_file     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_propositions_recorded_at ON propositions (recorded_at);
CREATE INDEX IF NOT EXISTS idx_propositions_session ON propositions (session_id, message_index);

CREATE TABLE IF NOT EXISTS proposition_embeddings (
	proposition_id TEXT PRIMARY KEY REFERENCES propositions (id),
	embedding      TEXT NOT NULL,
	model          TEXT NOT NULL,
	dimensions     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS edges (
	id          TEXT PRIMARY KEY,
	source_id   TEXT NOT NULL REFERENCES propositions (id),
	target_id   TEXT NOT NULL REFERENCES propositions (id),
	edge_type   TEXT NOT NULL CHECK (edge_type IN ('SUPPORTS', 'CONTRADICTS', 'SUPERSEDES')),
	confidence  REAL NOT NULL,
	rationale   TEXT NOT NULL DEFAULT '',
	created_by  TEXT NOT NULL DEFAULT 'process_v1',
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_edges_source ON edges (source_id, edge_type);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges (target_id, edge_type);

CREATE TABLE IF NOT EXISTS thread_surfaces (
	id              TEXT PRIMARY KEY,
	domain_hint     TEXT NOT NULL DEFAULT '',
	summary_text    TEXT NOT NULL,
	confidence      REAL NOT NULL,
	last_rebuilt_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS thread_members (
	thread_id      TEXT NOT NULL REFERENCES thread_surfaces (id) ON DELETE CASCADE,
	proposition_id TEXT NOT NULL,
	position       INTEGER NOT NULL,
	PRIMARY KEY (thread_id, proposition_id)
);
CREATE INDEX IF NOT EXISTS idx_thread_members_proposition ON thread_members (proposition_id);

CREATE TABLE IF NOT EXISTS process_watermarks (
	name       TEXT PRIMARY KEY,
	watermark  INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// Ledger implements domain.Ledger over database/sql.
type Ledger struct {
	db *sql.DB
}

// Open creates or opens the database file and ensures the schema.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers; SQLite allows a single writer anyway.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

func (l *Ledger) Close() {
	_ = l.db.Close()
}

func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

func nullMicros(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMicros(*t), Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

// inIDs is an IN operand reading the ids from one JSON array parameter,
// so the number of bound variables stays constant however many ids there
// are.
const inIDs = `(SELECT value FROM json_each(?))`

// idArray encodes ids as the JSON array bound to inIDs.
func idArray(ids []uuid.UUID) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, id := range ids {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteByte('"')
		sb.WriteString(id.String())
		sb.WriteByte('"')
	}
	sb.WriteByte(']')
	return sb.String()
}
