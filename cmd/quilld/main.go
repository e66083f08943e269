package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/quill/pkg/api"
	"github.com/Mindburn-Labs/quill/pkg/audit"
	"github.com/Mindburn-Labs/quill/pkg/auth"
	"github.com/Mindburn-Labs/quill/pkg/blob"
	"github.com/Mindburn-Labs/quill/pkg/clock"
	"github.com/Mindburn-Labs/quill/pkg/config"
	"github.com/Mindburn-Labs/quill/pkg/document"
	"github.com/Mindburn-Labs/quill/pkg/jobs"
	"github.com/Mindburn-Labs/quill/pkg/model"
	"github.com/Mindburn-Labs/quill/pkg/notify"
	"github.com/Mindburn-Labs/quill/pkg/observability"
	"github.com/Mindburn-Labs/quill/pkg/otp"
	"github.com/Mindburn-Labs/quill/pkg/pdf"
	"github.com/Mindburn-Labs/quill/pkg/policy"
	"github.com/Mindburn-Labs/quill/pkg/ratelimit"
	"github.com/Mindburn-Labs/quill/pkg/sign"
	"github.com/Mindburn-Labs/quill/pkg/store"

	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

// Per-recipient cap on one-time code sends. Not configurable.
const (
	otpSendsPerMinute = 3
	otpSendBurst      = 3
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests
var startServer = runServer

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		startServer()
		return 0
	}
	switch args[1] {
	case "serve":
		startServer()
		return 0
	case "token":
		return runToken(args[2:], stdout, stderr)
	case "seed":
		return runSeed(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			startServer()
			return 0
		}
		_, _ = fmt.Fprintf(stderr, "unknown command: %s\n\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage: quilld <command> [arguments]")
	_, _ = fmt.Fprintln(w, "\nCommands:")
	_, _ = fmt.Fprintln(w, "  serve   Run the quill server (default)")
	_, _ = fmt.Fprintln(w, "  seed    Create a tenant and an admin user")
	_, _ = fmt.Fprintln(w, "  token   Mint a development bearer token")
}

//nolint:gocognit // boot sequence is linear wiring
func runServer() {
	log.Println("[quill] quilld starting")
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	slog.SetDefault(newLogger(os.Stderr, cfg.LogFormat, cfg.LogLevel))
	logger := slog.Default()

	st, err := store.Open(ctx, cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer func() { _ = st.Close() }()
	if err := st.Init(ctx); err != nil {
		log.Fatalf("Failed to init store: %v", err)
	}
	log.Printf("[quill] %s: connected, schema ready", cfg.DBDriver)

	blobs, err := blob.New(ctx, blob.Options{
		Backend: blob.Backend(cfg.BlobBackend),
		Root:    cfg.BlobRoot,
		S3: blob.S3Config{
			Bucket:         cfg.S3Bucket,
			Region:         cfg.S3Region,
			Endpoint:       cfg.S3Endpoint,
			Prefix:         cfg.S3Prefix,
			ForcePathStyle: cfg.S3ForcePathStyle,
		},
		GCSBucket: cfg.GCSBucket,
		GCSPrefix: cfg.GCSPrefix,
	})
	if err != nil {
		log.Fatalf("Failed to init blob store: %v", err)
	}
	log.Printf("[quill] blob store: %s", cfg.BlobBackend)

	plans, err := policy.NewEngine()
	if err != nil {
		log.Fatalf("Failed to init plan engine: %v", err)
	}
	if cfg.PlansFile != "" {
		if err := plans.LoadFile(cfg.PlansFile); err != nil {
			log.Fatalf("Failed to load plans file: %v", err)
		}
		log.Printf("[quill] plans: loaded %s", cfg.PlansFile)
	}

	appender := audit.NewAppender(st, clock.System, cfg.ChainGenesisPrefix)
	chainVerifier := audit.NewVerifier(st, cfg.ChainGenesisPrefix)
	otps := otp.NewService(st, clock.System, cfg.BcryptCost, time.Duration(cfg.OtpTTLMinutes)*time.Minute)

	var notifier notify.Notifier
	if cfg.NotifyWebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.NotifyWebhookURL, 0)
		log.Println("[quill] notifier: webhook")
	} else {
		notifier = notify.NewLogNotifier(logger)
		log.Println("[quill] notifier: log-only")
	}

	sendPolicy := ratelimit.SendPolicy{PerMinute: otpSendsPerMinute, Burst: otpSendBurst}
	var otpLimit ratelimit.Bucket
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		otpLimit = ratelimit.NewRedisBucket(client, sendPolicy, "quill:otp", clock.System)
		log.Println("[quill] redis: connected")
	} else {
		otpLimit = ratelimit.NewLocalBucket(sendPolicy)
	}

	docs := document.NewService(document.Deps{
		Store:     st,
		Blobs:     blobs,
		Audit:     appender,
		Verifier:  chainVerifier,
		Finalizer: pdf.NewFinalizer(logger),
		Notifier:  notifier,
		Plans:     plans,
		Clock:     clock.System,
		Logger:    logger,
		InviteTTL: time.Duration(cfg.InviteTTLDays) * 24 * time.Hour,
	})
	signing := sign.NewService(sign.Deps{
		Store:        st,
		Blobs:        blobs,
		Audit:        appender,
		Otps:         otps,
		Documents:    docs,
		Notifier:     notifier,
		OtpLimit:     otpLimit,
		Clock:        clock.System,
		Logger:       logger,
		ShortCodeLen: cfg.ShortCodeLength,
	})

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "quilld",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OtelEndpoint,
		Enabled:        cfg.OtelEnabled,
		Insecure:       true,
	})
	if err != nil {
		log.Fatalf("Failed to init observability: %v", err)
	}
	if cfg.OtelEnabled {
		log.Printf("[quill] otel: exporting to %s", cfg.OtelEndpoint)
	}

	verifier := auth.NewVerifier([]byte(cfg.APIJWTSecret))
	if verifier == nil {
		log.Println("[quill] WARNING: API_JWT_SECRET not set; private routes reject all requests")
	}

	srv := api.New(api.Deps{
		Documents:   docs,
		Signing:     signing,
		Auth:        verifier,
		IPLimit:     ratelimit.NewIPLimiter(10, 30),
		Obs:         obs,
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger,
		Version:     version,
	})

	jobsCtx, stopJobs := context.WithCancel(ctx)
	defer stopJobs()
	runner := jobs.NewRunner(jobs.Deps{
		Store:          st,
		Documents:      docs,
		Audit:          appender,
		Otps:           otps,
		Notifier:       notifier,
		Clock:          clock.System,
		Logger:         logger,
		ReminderWindow: time.Duration(cfg.ReminderWindowHours) * time.Hour,
	})
	go runner.Run(jobsCtx)

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	log.Printf("[quill] ready: http://localhost:%s", cfg.Port)
	log.Println("[quill] press ctrl+c to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("[quill] shutting down")

	stopJobs()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[quill] http shutdown: %v", err)
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Printf("[quill] otel shutdown: %v", err)
	}
}

// runToken mints a signed bearer token for local API calls. Development
// convenience only; production tokens come from the tenant's identity
// provider.
func runToken(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	secret := fs.String("secret", os.Getenv("API_JWT_SECRET"), "HMAC secret (defaults to API_JWT_SECRET)")
	userID := fs.String("user", "", "user id to embed as the subject")
	tenantID := fs.String("tenant", "", "tenant id")
	role := fs.String("role", string(model.RoleAdmin), "role: SUPER_ADMIN, ADMIN or USER")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *secret == "" || *userID == "" || *tenantID == "" {
		_, _ = fmt.Fprintln(stderr, "token: -secret, -user and -tenant are required")
		return 2
	}
	switch model.Role(*role) {
	case model.RoleSuperAdmin, model.RoleAdmin, model.RoleUser:
	default:
		_, _ = fmt.Fprintf(stderr, "token: unknown role %q\n", *role)
		return 2
	}
	tok, err := auth.Mint([]byte(*secret), *userID, *tenantID, model.Role(*role), *ttl)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "token: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, tok)
	return 0
}

// runSeed creates a tenant and its first admin user so a fresh database can
// accept uploads without hand-written SQL.
func runSeed(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	fs.SetOutput(stderr)
	name := fs.String("name", "", "tenant display name")
	plan := fs.String("plan", policy.PlanFree, "plan id for the tenant")
	email := fs.String("email", "", "admin user email")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *name == "" || *email == "" {
		_, _ = fmt.Fprintln(stderr, "seed: -name and -email are required")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "seed: %v\n", err)
		return 1
	}
	ctx := context.Background()
	st, err := store.Open(ctx, cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "seed: %v\n", err)
		return 1
	}
	defer func() { _ = st.Close() }()
	if err := st.Init(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "seed: %v\n", err)
		return 1
	}

	now := clock.System.Stamp()
	tenant := &model.Tenant{
		ID:        uuid.NewString(),
		Name:      *name,
		Plan:      strings.ToUpper(*plan),
		CreatedAt: now,
	}
	admin := &model.User{
		ID:        uuid.NewString(),
		TenantID:  tenant.ID,
		Email:     *email,
		Name:      *name + " admin",
		Role:      model.RoleAdmin,
		CreatedAt: now,
	}
	err = st.WithTx(ctx, func(tx *sql.Tx) error {
		if err := st.InsertTenant(ctx, tx, tenant); err != nil {
			return err
		}
		return st.InsertUser(ctx, tx, admin)
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "seed: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "tenant: %s\nuser:   %s\n", tenant.ID, admin.ID)
	return 0
}

func newLogger(w io.Writer, format, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
