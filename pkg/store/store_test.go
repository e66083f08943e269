package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/quill/pkg/clock"
	"github.com/Mindburn-Labs/quill/pkg/model"
)

// openTestStore opens a file-backed SQLite database under t.TempDir and runs
// Init. File-backed (not :memory:) so the single-connection pool behaves the
// same way it does in production.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "quill.db") +
		"?_pragma=busy_timeout(10000)&_txlock=immediate&_pragma=journal_mode(WAL)"
	s, err := Open(context.Background(), "sqlite", dsn)
	require.NoError(t, err)
	require.NoError(t, s.Init(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testStamp(offset time.Duration) string {
	base := time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)
	return clock.Format(base.Add(offset))
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "dsn")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown driver")
}

func TestInitIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	// Second and third runs must not fail or duplicate the version row.
	require.NoError(t, s.Init(context.Background()))
	require.NoError(t, s.Init(context.Background()))

	var n int
	err := s.DB().QueryRow(`SELECT COUNT(*) FROM schema_meta WHERE k = 'schema_version'`).Scan(&n)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestInitRejectsFutureSchema(t *testing.T) {
	s := openTestStore(t)
	_, err := s.DB().Exec(`UPDATE schema_meta SET v = '2.0.0' WHERE k = 'schema_version'`)
	require.NoError(t, err)

	err = s.Init(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "outside supported range")
}

func TestInitRejectsGarbageVersion(t *testing.T) {
	s := openTestStore(t)
	_, err := s.DB().Exec(`UPDATE schema_meta SET v = 'not-semver' WHERE k = 'schema_version'`)
	require.NoError(t, err)

	require.Error(t, s.Init(context.Background()))
}

func TestWithTxCommitsOnNil(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tenants (id, name, plan, created_at) VALUES ($1, $2, $3, $4)`,
			"t-1", "Acme", "FREE", testStamp(0))
		return err
	})
	require.NoError(t, err)

	var name string
	require.NoError(t, s.DB().QueryRow(`SELECT name FROM tenants WHERE id = 't-1'`).Scan(&name))
	require.Equal(t, "Acme", name)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		_, execErr := tx.ExecContext(ctx,
			`INSERT INTO tenants (id, name, plan, created_at) VALUES ($1, $2, $3, $4)`,
			"t-rollback", "Ghost", "FREE", testStamp(0))
		require.NoError(t, execErr)
		return boom
	})
	require.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM tenants WHERE id = 't-rollback'`).Scan(&n))
	require.Zero(t, n)
}

func TestLockDocumentMissing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		return s.LockDocument(ctx, tx, "no-such-doc")
	})
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestDialectForUpdate(t *testing.T) {
	require.Equal(t, " FOR UPDATE", Postgres.forUpdate())
	require.Equal(t, "", SQLite.forUpdate())
}
