package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS propositions (
	id              UUID PRIMARY KEY,
	content         TEXT NOT NULL,
	recorded_at     TIMESTAMPTZ NOT NULL,
	valid_from      TIMESTAMPTZ NOT NULL,
	valid_to        TIMESTAMPTZ,
	status          TEXT NOT NULL DEFAULT 'ACTIVE'
	                CHECK (status IN ('ACTIVE', 'SUPERSEDED', 'CONTRADICTED', 'ARCHIVED')),
	confidence      REAL NOT NULL CHECK (confidence BETWEEN 0 AND 1),
	purpose         TEXT NOT NULL,
	source_type     TEXT NOT NULL,
	signal_valence  TEXT NOT NULL DEFAULT '',
	source          TEXT NOT NULL DEFAULT 'conversation',
	structured_data JSONB,
	session_id      TEXT NOT NULL DEFAULT '',
	message_index   INTEGER NOT NULL DEFAULT 0,
	char_start      INTEGER,
	char_end        INTEGER,
	source_file     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_propositions_recorded_at ON propositions (recorded_at);
CREATE INDEX IF NOT EXISTS idx_propositions_session ON propositions (session_id, message_index);

CREATE TABLE IF NOT EXISTS proposition_embeddings (
	proposition_id UUID PRIMARY KEY REFERENCES propositions (id),
	embedding      vector NOT NULL,
	model          TEXT NOT NULL,
	dimensions     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS edges (
	id          UUID PRIMARY KEY,
	source_id   UUID NOT NULL REFERENCES propositions (id),
	target_id   UUID NOT NULL REFERENCES propositions (id),
	edge_type   TEXT NOT NULL CHECK (edge_type IN ('SUPPORTS', 'CONTRADICTS', 'SUPERSEDES')),
	confidence  REAL NOT NULL,
	rationale   TEXT NOT NULL DEFAULT '',
	created_by  TEXT NOT NULL DEFAULT 'process_v1',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_edges_source ON edges (source_id, edge_type);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges (target_id, edge_type);

CREATE TABLE IF NOT EXISTS thread_surfaces (
	id              UUID PRIMARY KEY,
	domain_hint     TEXT NOT NULL DEFAULT '',
	summary_text    TEXT NOT NULL,
	confidence      REAL NOT NULL,
	member_ids      UUID[] NOT NULL,
	last_rebuilt_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_thread_surfaces_members ON thread_surfaces USING GIN (member_ids);

CREATE TABLE IF NOT EXISTS process_watermarks (
	name       TEXT PRIMARY KEY,
	watermark  TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// EnsureSchema creates the ledger tables if they do not exist.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
