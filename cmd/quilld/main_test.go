package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/quill/pkg/auth"
	"github.com/Mindburn-Labs/quill/pkg/store"
)

// TestRun_Help verifies that the help command prints usage and exits 0.
func TestRun_Help(t *testing.T) {
	args := []string{"quilld", "--help"}
	var stdout, stderr bytes.Buffer

	// Overwrite runServer logic to avoid starting the actual server
	originalRunServer := startServer
	defer func() { startServer = originalRunServer }()
	startServer = func() {}

	exitCode := Run(args, &stdout, &stderr)

	assert.Equal(t, 0, exitCode)
	assert.Contains(t, stdout.String(), "Usage: quilld")
}

// TestRun_DefaultsToServer verifies a bare invocation starts the server.
func TestRun_DefaultsToServer(t *testing.T) {
	args := []string{"quilld"}
	var stdout, stderr bytes.Buffer

	originalRunServer := startServer
	defer func() { startServer = originalRunServer }()
	called := false
	startServer = func() { called = true }

	exitCode := Run(args, &stdout, &stderr)

	assert.Equal(t, 0, exitCode)
	assert.True(t, called, "expected runServer to be called")
}

// TestRun_Unknown verifies unknown commands print usage and exit non-zero.
func TestRun_Unknown(t *testing.T) {
	args := []string{"quilld", "unknown-command"}
	var stdout, stderr bytes.Buffer

	originalRunServer := startServer
	defer func() { startServer = originalRunServer }()
	called := false
	startServer = func() { called = true }

	exitCode := Run(args, &stdout, &stderr)

	assert.Equal(t, 2, exitCode)
	assert.Contains(t, stderr.String(), "unknown command")
	assert.False(t, called, "runServer must not start on a typo")
}

func TestRun_TokenMintsVerifiableToken(t *testing.T) {
	args := []string{"quilld", "token",
		"-secret", "s3cret", "-user", "u_1", "-tenant", "t_1", "-role", "USER"}
	var stdout, stderr bytes.Buffer

	exitCode := Run(args, &stdout, &stderr)
	require.Equal(t, 0, exitCode, stderr.String())

	tok := strings.TrimSpace(stdout.String())
	require.NotEmpty(t, tok)

	claims, err := auth.NewVerifier([]byte("s3cret")).Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, "u_1", claims.Subject)
	assert.Equal(t, "t_1", claims.TenantID)
	assert.Equal(t, "USER", claims.Role)
}

func TestRun_TokenRequiresFlags(t *testing.T) {
	args := []string{"quilld", "token", "-user", "u_1"}
	var stdout, stderr bytes.Buffer

	exitCode := Run(args, &stdout, &stderr)

	assert.Equal(t, 2, exitCode)
	assert.Contains(t, stderr.String(), "required")
}

func TestRun_TokenRejectsUnknownRole(t *testing.T) {
	args := []string{"quilld", "token",
		"-secret", "s3cret", "-user", "u_1", "-tenant", "t_1", "-role", "ROOT"}
	var stdout, stderr bytes.Buffer

	exitCode := Run(args, &stdout, &stderr)

	assert.Equal(t, 2, exitCode)
	assert.Contains(t, stderr.String(), "unknown role")
}

func TestRun_SeedRequiresFlags(t *testing.T) {
	args := []string{"quilld", "seed"}
	var stdout, stderr bytes.Buffer

	exitCode := Run(args, &stdout, &stderr)

	assert.Equal(t, 2, exitCode)
	assert.Contains(t, stderr.String(), "required")
}

// TestRun_SeedCreatesTenantAndAdmin runs the seed command against a scratch
// SQLite file and reads the rows back.
func TestRun_SeedCreatesTenantAndAdmin(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "quill.db") +
		"?_pragma=busy_timeout(10000)&_txlock=immediate&_pragma=journal_mode(WAL)"
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", dsn)

	args := []string{"quilld", "seed", "-name", "Acme", "-email", "ops@acme.example"}
	var stdout, stderr bytes.Buffer

	exitCode := Run(args, &stdout, &stderr)
	require.Equal(t, 0, exitCode, stderr.String())

	var tenantID, userID string
	for _, line := range strings.Split(strings.TrimSpace(stdout.String()), "\n") {
		k, v, ok := strings.Cut(line, ":")
		require.True(t, ok, "unexpected seed output line %q", line)
		switch strings.TrimSpace(k) {
		case "tenant":
			tenantID = strings.TrimSpace(v)
		case "user":
			userID = strings.TrimSpace(v)
		}
	}
	require.NotEmpty(t, tenantID)
	require.NotEmpty(t, userID)

	ctx := context.Background()
	st, err := store.Open(ctx, "sqlite", dsn)
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	tenant, err := st.GetTenant(ctx, st.DB(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", tenant.Name)
	assert.Equal(t, "FREE", tenant.Plan)

	admin, err := st.GetUser(ctx, st.DB(), userID)
	require.NoError(t, err)
	assert.Equal(t, tenantID, admin.TenantID)
	assert.Equal(t, "ops@acme.example", admin.Email)
	assert.Equal(t, "ADMIN", string(admin.Role))
}
