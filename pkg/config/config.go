// Package config assembles the service configuration. Defaults suit local
// development; an optional YAML profile named by QUILL_CONFIG supplies base
// values and environment variables override both.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Drivers and blob backends the store and blob factories accept.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	BlobFS  = "fs"
	BlobS3  = "s3"
	BlobGCS = "gcs"
)

// Config holds server configuration.
type Config struct {
	Port      string `yaml:"port"`
	LogFormat string `yaml:"log_format"`
	LogLevel  string `yaml:"log_level"`

	DBDriver    string `yaml:"db_driver"`
	DatabaseURL string `yaml:"database_url"`

	BlobBackend      string `yaml:"blob_backend"`
	BlobRoot         string `yaml:"blob_root"`
	S3Bucket         string `yaml:"s3_bucket"`
	S3Region         string `yaml:"s3_region"`
	S3Endpoint       string `yaml:"s3_endpoint"`
	S3Prefix         string `yaml:"s3_prefix"`
	S3ForcePathStyle bool   `yaml:"s3_force_path_style"`
	GCSBucket        string `yaml:"gcs_bucket"`
	GCSPrefix        string `yaml:"gcs_prefix"`

	APIJWTSecret     string   `yaml:"api_jwt_secret"`
	CORSOrigins      []string `yaml:"cors_origins"`
	RedisAddr        string   `yaml:"redis_addr"`
	PlansFile        string   `yaml:"plans_file"`
	NotifyWebhookURL string   `yaml:"notify_webhook_url"`

	OtelEnabled  bool   `yaml:"otel_enabled"`
	OtelEndpoint string `yaml:"otel_endpoint"`

	OtpTTLMinutes       int    `yaml:"otp_ttl_minutes"`
	InviteTTLDays       int    `yaml:"invite_ttl_days"`
	ShortCodeLength     int    `yaml:"shortcode_length"`
	BcryptCost          int    `yaml:"bcrypt_cost"`
	ChainGenesisPrefix  string `yaml:"chain_genesis_prefix"`
	ReminderWindowHours int    `yaml:"reminder_window_hours"`
}

// Defaults returns the configuration a bare `quilld` boots with: SQLite in
// the working directory, filesystem blobs under uploads/, no Redis, no
// collector.
func Defaults() *Config {
	return &Config{
		Port:                "8080",
		LogFormat:           "text",
		LogLevel:            "INFO",
		DBDriver:            DriverSQLite,
		DatabaseURL:         "file:quill.db?_pragma=busy_timeout(10000)&_txlock=immediate&_pragma=journal_mode(WAL)",
		BlobBackend:         BlobFS,
		BlobRoot:            "uploads",
		OtelEndpoint:        "localhost:4317",
		OtpTTLMinutes:       10,
		InviteTTLDays:       30,
		ShortCodeLength:     6,
		BcryptCost:          bcrypt.DefaultCost,
		ChainGenesisPrefix:  "genesis_block_",
		ReminderWindowHours: 48,
	}
}

// Load builds the effective configuration: defaults, then the YAML profile
// named by QUILL_CONFIG when set, then environment variables.
func Load() (*Config, error) {
	cfg := Defaults()
	if path := os.Getenv("QUILL_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	e := envReader{}
	e.str(&c.Port, "PORT")
	e.str(&c.LogFormat, "LOG_FORMAT")
	e.str(&c.LogLevel, "LOG_LEVEL")
	e.str(&c.DBDriver, "DB_DRIVER")
	e.str(&c.DatabaseURL, "DATABASE_URL")
	e.str(&c.BlobBackend, "BLOB_BACKEND")
	e.str(&c.BlobRoot, "BLOB_ROOT")
	e.str(&c.S3Bucket, "BLOB_S3_BUCKET")
	e.str(&c.S3Region, "BLOB_S3_REGION")
	e.str(&c.S3Endpoint, "BLOB_S3_ENDPOINT")
	e.str(&c.S3Prefix, "BLOB_S3_PREFIX")
	e.flag(&c.S3ForcePathStyle, "BLOB_S3_FORCE_PATH_STYLE")
	e.str(&c.GCSBucket, "BLOB_GCS_BUCKET")
	e.str(&c.GCSPrefix, "BLOB_GCS_PREFIX")
	e.str(&c.APIJWTSecret, "API_JWT_SECRET")
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitCSV(v)
	}
	e.str(&c.RedisAddr, "REDIS_ADDR")
	e.str(&c.PlansFile, "PLANS_FILE")
	e.str(&c.NotifyWebhookURL, "NOTIFY_WEBHOOK_URL")
	e.flag(&c.OtelEnabled, "OTEL_ENABLED")
	e.str(&c.OtelEndpoint, "OTEL_ENDPOINT")
	e.num(&c.OtpTTLMinutes, "OTP_TTL_MINUTES")
	e.num(&c.InviteTTLDays, "INVITE_TTL_DAYS")
	e.num(&c.ShortCodeLength, "SHORTCODE_LENGTH")
	e.num(&c.BcryptCost, "BCRYPT_COST")
	e.str(&c.ChainGenesisPrefix, "CHAIN_GENESIS_PREFIX")
	e.num(&c.ReminderWindowHours, "REMINDER_WINDOW_HOURS")
	return e.err
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("config: unknown DB_DRIVER %q", c.DBDriver)
	}
	switch c.BlobBackend {
	case BlobFS:
	case BlobS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("config: BLOB_S3_BUCKET is required for the s3 backend")
		}
	case BlobGCS:
		if c.GCSBucket == "" {
			return fmt.Errorf("config: BLOB_GCS_BUCKET is required for the gcs backend")
		}
	default:
		return fmt.Errorf("config: unknown BLOB_BACKEND %q", c.BlobBackend)
	}
	if c.OtpTTLMinutes < 1 {
		return fmt.Errorf("config: OTP_TTL_MINUTES must be at least 1")
	}
	if c.InviteTTLDays < 1 {
		return fmt.Errorf("config: INVITE_TTL_DAYS must be at least 1")
	}
	if c.ShortCodeLength < 4 || c.ShortCodeLength > 64 {
		return fmt.Errorf("config: SHORTCODE_LENGTH must be within 4..64")
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("config: BCRYPT_COST must be within %d..%d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.ReminderWindowHours < 1 {
		return fmt.Errorf("config: REMINDER_WINDOW_HOURS must be at least 1")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// envReader applies environment overrides and remembers the first parse
// failure.
type envReader struct {
	err error
}

func (e *envReader) str(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (e *envReader) num(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		if e.err == nil {
			e.err = fmt.Errorf("config: %s: %w", key, err)
		}
		return
	}
	*dst = n
}

func (e *envReader) flag(dst *bool, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		if e.err == nil {
			e.err = fmt.Errorf("config: %s: %w", key, err)
		}
		return
	}
	*dst = b
}
