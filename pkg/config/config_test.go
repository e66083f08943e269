package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/quill/pkg/config"
)

// envKeys is every variable Load reads; tests blank them all so the host
// environment cannot leak in.
var envKeys = []string{
	"QUILL_CONFIG", "PORT", "LOG_FORMAT", "LOG_LEVEL", "DB_DRIVER",
	"DATABASE_URL", "BLOB_BACKEND", "BLOB_ROOT", "BLOB_S3_BUCKET",
	"BLOB_S3_REGION", "BLOB_S3_ENDPOINT", "BLOB_S3_PREFIX",
	"BLOB_S3_FORCE_PATH_STYLE", "BLOB_GCS_BUCKET", "BLOB_GCS_PREFIX",
	"API_JWT_SECRET", "CORS_ORIGINS", "REDIS_ADDR", "PLANS_FILE",
	"NOTIFY_WEBHOOK_URL", "OTEL_ENABLED", "OTEL_ENDPOINT",
	"OTP_TTL_MINUTES", "INVITE_TTL_DAYS", "SHORTCODE_LENGTH",
	"BCRYPT_COST", "CHAIN_GENESIS_PREFIX", "REMINDER_WINDOW_HOURS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, config.DriverSQLite, cfg.DBDriver)
	assert.Contains(t, cfg.DatabaseURL, "quill.db")
	assert.Equal(t, config.BlobFS, cfg.BlobBackend)
	assert.Equal(t, "uploads", cfg.BlobRoot)
	assert.Equal(t, 10, cfg.OtpTTLMinutes)
	assert.Equal(t, 30, cfg.InviteTTLDays)
	assert.Equal(t, 6, cfg.ShortCodeLength)
	assert.Equal(t, 10, cfg.BcryptCost)
	assert.Equal(t, "genesis_block_", cfg.ChainGenesisPrefix)
	assert.Equal(t, 48, cfg.ReminderWindowHours)
	assert.False(t, cfg.OtelEnabled)
	assert.Empty(t, cfg.RedisAddr)
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://quill@db:5432/quill?sslmode=disable")
	t.Setenv("BLOB_BACKEND", "s3")
	t.Setenv("BLOB_S3_BUCKET", "quill-prod")
	t.Setenv("BLOB_S3_REGION", "eu-central-1")
	t.Setenv("CORS_ORIGINS", "https://app.example.com, https://staging.example.com")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("OTP_TTL_MINUTES", "5")
	t.Setenv("SHORTCODE_LENGTH", "8")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, config.DriverPostgres, cfg.DBDriver)
	assert.Equal(t, "postgres://quill@db:5432/quill?sslmode=disable", cfg.DatabaseURL)
	assert.Equal(t, config.BlobS3, cfg.BlobBackend)
	assert.Equal(t, "quill-prod", cfg.S3Bucket)
	assert.Equal(t, []string{"https://app.example.com", "https://staging.example.com"}, cfg.CORSOrigins)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.True(t, cfg.OtelEnabled)
	assert.Equal(t, 5, cfg.OtpTTLMinutes)
	assert.Equal(t, 8, cfg.ShortCodeLength)
}

func TestLoadProfileThenEnv(t *testing.T) {
	clearEnv(t)
	profile := filepath.Join(t.TempDir(), "quill.yaml")
	require.NoError(t, os.WriteFile(profile, []byte(
		"port: \"7000\"\nlog_format: json\notp_ttl_minutes: 3\n"), 0o600))
	t.Setenv("QUILL_CONFIG", profile)
	t.Setenv("PORT", "7001")

	cfg, err := config.Load()
	require.NoError(t, err)

	// Environment beats profile, profile beats default.
	assert.Equal(t, "7001", cfg.Port)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 3, cfg.OtpTTLMinutes)
	assert.Equal(t, 30, cfg.InviteTTLDays)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]func(t *testing.T){
		"unparsable int": func(t *testing.T) {
			t.Setenv("OTP_TTL_MINUTES", "soon")
		},
		"unknown driver": func(t *testing.T) {
			t.Setenv("DB_DRIVER", "oracle")
		},
		"unknown backend": func(t *testing.T) {
			t.Setenv("BLOB_BACKEND", "tape")
		},
		"s3 without bucket": func(t *testing.T) {
			t.Setenv("BLOB_BACKEND", "s3")
		},
		"shortcode too short": func(t *testing.T) {
			t.Setenv("SHORTCODE_LENGTH", "2")
		},
		"bcrypt cost out of range": func(t *testing.T) {
			t.Setenv("BCRYPT_COST", "99")
		},
	}
	for name, set := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			set(t)
			_, err := config.Load()
			require.Error(t, err)
		})
	}
}

func TestLoadRejectsUnknownProfileKeys(t *testing.T) {
	clearEnv(t)
	profile := filepath.Join(t.TempDir(), "quill.yaml")
	require.NoError(t, os.WriteFile(profile, []byte("prot: \"7000\"\n"), 0o600))
	t.Setenv("QUILL_CONFIG", profile)

	_, err := config.Load()
	require.Error(t, err)
}
