package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied on every open; all statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id             TEXT PRIMARY KEY,
		type           TEXT NOT NULL,
		priority       INTEGER NOT NULL,
		session_file   TEXT NOT NULL,
		segment_start  INTEGER,
		segment_end    INTEGER,
		context        TEXT NOT NULL DEFAULT '{}',
		status         TEXT NOT NULL DEFAULT 'pending',
		queued_at      TIMESTAMP NOT NULL,
		started_at     TIMESTAMP,
		completed_at   TIMESTAMP,
		result_node_id TEXT,
		error          TEXT,
		retry_count    INTEGER NOT NULL DEFAULT 0,
		max_retries    INTEGER NOT NULL DEFAULT 3,
		worker_id      TEXT,
		locked_until   TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_dequeue
		ON jobs (status, priority, queued_at)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_session
		ON jobs (session_file, status)`,

	`CREATE TABLE IF NOT EXISTS nodes (
		id             TEXT PRIMARY KEY,
		session_file   TEXT NOT NULL,
		segment_start  INTEGER,
		segment_end    INTEGER,
		title          TEXT NOT NULL,
		summary        TEXT NOT NULL,
		node_type      TEXT NOT NULL,
		topics         TEXT NOT NULL DEFAULT '[]',
		insights       TEXT NOT NULL DEFAULT '[]',
		prompt_version INTEGER NOT NULL DEFAULT 1,
		analyzed_at    TIMESTAMP NOT NULL,
		created_at     TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_nodes_session ON nodes (session_file)`,
	`CREATE INDEX IF NOT EXISTS idx_nodes_analyzed ON nodes (analyzed_at)`,

	`CREATE TABLE IF NOT EXISTS node_edges (
		source_id  TEXT NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
		target_id  TEXT NOT NULL,
		relation   TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (source_id, target_id, relation)
	)`,

	`CREATE TABLE IF NOT EXISTS node_embeddings (
		node_id       TEXT PRIMARY KEY REFERENCES nodes(id) ON DELETE CASCADE,
		embedding     BLOB NOT NULL,
		model_version TEXT NOT NULL,
		text_hash     TEXT NOT NULL,
		created_at    TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS patterns (
		id          TEXT PRIMARY KEY,
		kind        TEXT NOT NULL,
		label       TEXT NOT NULL,
		count       INTEGER NOT NULL,
		computed_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_patterns_kind ON patterns (kind, label)`,
}

// Migrate applies the schema to the given database handle.
func Migrate(ctx context.Context, d *sql.DB) error {
	for _, stmt := range schema {
		if _, err := d.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema statement: %w", err)
		}
	}
	return nil
}
