package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// SchemaVersion is written to schema_meta on first init. Init refuses to run
// against a database whose recorded version falls outside SchemaConstraint,
// so an old binary cannot scribble over a newer layout.
const (
	SchemaVersion    = "1.0.0"
	SchemaConstraint = "^1"
)

// Timestamps are TEXT throughout: the canonical ISO-8601 millisecond string
// is what the audit chain hashes, so the column must return exactly the
// bytes that were written.
const schemaCommon = `
CREATE TABLE IF NOT EXISTS tenants (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	plan TEXT NOT NULL DEFAULT 'FREE',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	email TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	title TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	size_bytes INTEGER NOT NULL,
	storage_key TEXT NOT NULL,
	sha256 TEXT NOT NULL,
	status TEXT NOT NULL,
	page_count INTEGER NOT NULL DEFAULT 0,
	deadline_at TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_sha256 ON documents (sha256);
CREATE INDEX IF NOT EXISTS idx_documents_tenant_created ON documents (tenant_id, created_at);

CREATE TABLE IF NOT EXISTS signers (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	name TEXT NOT NULL,
	email TEXT NOT NULL,
	phone TEXT,
	cpf TEXT,
	qualification TEXT,
	auth_channels TEXT NOT NULL,
	sign_order INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	signed_at TEXT,
	otp_verified_at TEXT,
	signature_hash TEXT,
	signature_artefact_path TEXT,
	signature_position_page INTEGER,
	signature_position_x REAL,
	signature_position_y REAL
);
CREATE INDEX IF NOT EXISTS idx_signers_document ON signers (document_id);

CREATE TABLE IF NOT EXISTS share_tokens (
	token_hash TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	signer_id TEXT NOT NULL,
	expires_at TEXT NOT NULL,
	consumed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_share_tokens_signer ON share_tokens (signer_id);

CREATE TABLE IF NOT EXISTS otp_codes (
	id TEXT PRIMARY KEY,
	recipient TEXT NOT NULL,
	channel TEXT NOT NULL,
	code_hash TEXT NOT NULL,
	expires_at TEXT NOT NULL,
	context TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_otp_codes_recipient ON otp_codes (recipient, context, created_at);

CREATE TABLE IF NOT EXISTS certificates (
	document_id TEXT PRIMARY KEY,
	storage_key TEXT NOT NULL,
	sha256 TEXT NOT NULL,
	issued_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_meta (
	k TEXT PRIMARY KEY,
	v TEXT NOT NULL
);
`

// The audit seq column is the one place the engines need different DDL: it
// breaks created_at ties within a chain, so it must be assigned by the
// database in insert order.
const schemaAuditSQLite = `
CREATE TABLE IF NOT EXISTS audit_log (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	tenant_id TEXT NOT NULL,
	actor_kind TEXT NOT NULL,
	actor_id TEXT,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	action TEXT NOT NULL,
	ip TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT '',
	payload_json TEXT,
	created_at TEXT NOT NULL,
	prev_event_hash TEXT NOT NULL,
	event_hash TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log (entity_id, created_at, seq);
`

const schemaAuditPostgres = `
CREATE TABLE IF NOT EXISTS audit_log (
	seq BIGSERIAL PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	tenant_id TEXT NOT NULL,
	actor_kind TEXT NOT NULL,
	actor_id TEXT,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	action TEXT NOT NULL,
	ip TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT '',
	payload_json TEXT,
	created_at TEXT NOT NULL,
	prev_event_hash TEXT NOT NULL,
	event_hash TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log (entity_id, created_at, seq);
`

// Init creates the schema if needed and enforces the version gate.
func (s *Store) Init(ctx context.Context) error {
	ddl := schemaCommon
	if s.dialect == Postgres {
		ddl += schemaAuditPostgres
	} else {
		ddl += schemaAuditSQLite
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("store: create schema: %w", err)
	}
	return s.checkSchemaVersion(ctx)
}

func (s *Store) checkSchemaVersion(ctx context.Context) error {
	var recorded string
	err := s.db.QueryRowContext(ctx,
		`SELECT v FROM schema_meta WHERE k = $1`, "schema_version").Scan(&recorded)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO schema_meta (k, v) VALUES ($1, $2)`, "schema_version", SchemaVersion)
		if err != nil {
			return fmt.Errorf("store: record schema version: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("store: read schema version: %w", err)
	}

	v, err := semver.NewVersion(recorded)
	if err != nil {
		return fmt.Errorf("store: recorded schema version %q: %w", recorded, err)
	}
	c, err := semver.NewConstraint(SchemaConstraint)
	if err != nil {
		return fmt.Errorf("store: schema constraint: %w", err)
	}
	if !c.Check(v) {
		return fmt.Errorf("store: schema version %s outside supported range %s", recorded, SchemaConstraint)
	}
	return nil
}
