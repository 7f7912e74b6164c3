package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	fingerprint TEXT NOT NULL UNIQUE,
	source TEXT NOT NULL,
	sender TEXT NOT NULL DEFAULT '',
	uploaded_by TEXT NOT NULL DEFAULT '',
	storage_path TEXT NOT NULL,
	routed_path TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	credibility_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);

CREATE TABLE IF NOT EXISTS extractions (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	extracted_text TEXT NOT NULL,
	pages JSONB NOT NULL DEFAULT '[]'::jsonb,
	word_count INTEGER NOT NULL DEFAULT 0,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_extractions_active ON extractions(document_id) WHERE active;

CREATE TABLE IF NOT EXISTS classifications (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	classifier_type TEXT NOT NULL,
	category TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	rationale TEXT NOT NULL DEFAULT '',
	rule_hint JSONB,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_classifications_document ON classifications(document_id, created_at DESC);

CREATE TABLE IF NOT EXISTS logs (
	id TEXT PRIMARY KEY,
	document_id TEXT REFERENCES documents(id) ON DELETE CASCADE,
	action TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS classification_rules (
	id TEXT PRIMARY KEY,
	keyword TEXT NOT NULL UNIQUE,
	category TEXT NOT NULL,
	created_by TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS routing_rules (
	id TEXT PRIMARY KEY,
	doc_type TEXT NOT NULL,
	destination_type TEXT NOT NULL,
	destination_value TEXT NOT NULL,
	conditions JSONB,
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_routing_rules_enabled_type ON routing_rules(lower(doc_type)) WHERE enabled;

CREATE TABLE IF NOT EXISTS routing_logs (
	id TEXT PRIMARY KEY,
	document_id TEXT REFERENCES documents(id) ON DELETE CASCADE,
	rule_id TEXT REFERENCES routing_rules(id) ON DELETE SET NULL,
	file_name TEXT NOT NULL,
	file_path TEXT,
	doc_type TEXT NOT NULL DEFAULT '',
	destination TEXT,
	status TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_routing_logs_document ON routing_logs(document_id, created_at);
`

// EnsureSchema creates every table the pipeline writes to.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101701)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// withTx runs fn in a transaction and rolls back on any error.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
