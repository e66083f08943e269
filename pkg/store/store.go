// Package store implements the relational persistence layer on database/sql.
// It supports both Postgres and SQLite via standard drivers; queries use $n
// placeholders, each exactly once and in ascending order, which both
// dialects accept.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Mindburn-Labs/quill/pkg/model"
)

// Dialect selects driver-specific SQL where the two engines differ.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// forUpdate renders a row-lock clause. SQLite has no FOR UPDATE; there the
// write transaction itself (txlock=immediate) provides exclusion.
func (d Dialect) forUpdate() string {
	if d == Postgres {
		return " FOR UPDATE"
	}
	return ""
}

// Store wraps the connection pool and the dialect it speaks.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// Querier is satisfied by *sql.DB and *sql.Tx, so entity methods run either
// standalone or inside an enclosing transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New wraps an open connection pool.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{
		db:      db,
		dialect: dialect,
		logger:  slog.Default().With("component", "store"),
	}
}

// Open connects according to driver ("postgres" or "sqlite") and dsn, and
// verifies the connection.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	var dialect Dialect
	switch driver {
	case "postgres":
		dialect = Postgres
	case "sqlite":
		dialect = SQLite
	default:
		return nil, fmt.Errorf("store: unknown driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", driver, err)
	}
	if dialect == SQLite {
		// A single writer avoids SQLITE_BUSY storms; readers share it.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	return New(db, dialect), nil
}

// DB exposes the pool for read-only callers and tests.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect reports which engine the store speaks.
func (s *Store) Dialect() Dialect { return s.dialect }

// Close closes the pool.
func (s *Store) Close() error { return s.db.Close() }

// WithTx runs fn inside a transaction, committing on nil and rolling back on
// error or panic. All multi-statement operations in the service layer go
// through here so audit appends share the entity mutation's transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit tx: %w", err)
	}
	return nil
}

// LockDocument takes the per-document row lock that serializes all signer
// and document mutations for one document. On Postgres this is SELECT ...
// FOR UPDATE; on SQLite the immediate write transaction already excludes
// other writers.
func (s *Store) LockDocument(ctx context.Context, tx *sql.Tx, documentID string) error {
	query := `SELECT id FROM documents WHERE id = $1` + s.dialect.forUpdate()
	var id string
	if err := tx.QueryRowContext(ctx, query, documentID).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("document %s: %w", documentID, model.ErrNotFound)
		}
		return fmt.Errorf("lock document: %w", err)
	}
	return nil
}
