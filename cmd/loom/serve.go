package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Mindburn-Labs/loom/pkg/api"
	"github.com/Mindburn-Labs/loom/pkg/archive"
	"github.com/Mindburn-Labs/loom/pkg/audit"
	"github.com/Mindburn-Labs/loom/pkg/config"
	"github.com/Mindburn-Labs/loom/pkg/observability"
	"github.com/Mindburn-Labs/loom/pkg/registry"
	"github.com/Mindburn-Labs/loom/pkg/signing"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// runServer runs the read-only console over a persisted trail. A launcher
// process embedding the dispatch core mirrors its trail into the configured
// sink; this server rehydrates the same store and serves it over HTTP.
//
// Exit codes:
//
//	0 = clean shutdown
//	2 = startup or runtime error
func runServer(stdout, stderr io.Writer) int {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	fmt.Fprintf(stdout, "%sLoom console starting...%s\n", ColorBold+ColorBlue, ColorReset)

	ctx := context.Background()

	profile, err := config.LoadProfile(cfg.ProfilesDir, cfg.Profile)
	if err != nil {
		slog.Warn("profile not loaded, using environment config", "profile", cfg.Profile, "error", err)
		profile = nil
	}

	provider, err := observability.New(ctx, telemetryConfig(cfg, profile))
	if err != nil {
		slog.Warn("telemetry init failed, continuing without", "error", err)
		provider = nil
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutCtx)
	}()

	trail, db, sink, err := openTrail(ctx, cfg, profile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if db != nil {
		defer func() { _ = db.Close() }()
	}
	slog.Info("trail ready", "sink", sink, "entries", trail.Size())

	secret, err := loadOrGenerateRootSecret(cfg.DataDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	keys, err := signing.DeriveKeyProvider(secret, "pack-attestation")
	if err != nil {
		fmt.Fprintf(stderr, "Error: derive attestation key: %v\n", err)
		return 2
	}
	attestor := signing.NewAttestor(keys, "loom")
	fmt.Fprintf(stdout, "Attestation key: %s%x%s\n", ColorBold+ColorGreen, keys.PublicKey(), ColorReset)

	exporter := audit.NewExporter(trail).WithAttestor(attestor)
	if store, err := archive.NewStoreFromEnv(ctx); err != nil {
		slog.Warn("archive not configured, packs stay local", "error", err)
	} else {
		exporter = exporter.WithArchive(store)
	}

	// Plugins register in the embedding process; the standalone console
	// serves an empty registry.
	reg := registry.New()

	server := api.NewServer(reg, trail, exporter).
		WithAttestor(attestor).
		WithAuthToken(cfg.ConsoleToken)
	if cfg.ConsoleToken == "" {
		slog.Warn("LOOM_CONSOLE_TOKEN not set, console endpoints are open")
	}

	var idem api.IdempotencyStorer
	if db != nil && sink == "postgres" {
		pgIdem := api.NewPostgresIdempotencyStore(db, 24*time.Hour)
		if err := pgIdem.Init(); err != nil {
			fmt.Fprintf(stderr, "Error: init idempotency store: %v\n", err)
			return 2
		}
		idem = pgIdem
	} else {
		idem = api.NewIdempotencyStore(24 * time.Hour)
	}

	limiter := api.NewGlobalRateLimiter(20, 40)
	handler := otelhttp.NewHandler(server.Handler(limiter, idem), "console")

	addr := cfg.ConsoleAddr
	if profile != nil && profile.Console.Addr != "" {
		addr = profile.Console.Addr
	}

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()

	slog.Info("console ready", "addr", addr)
	fmt.Fprintf(stdout, "Console: %shttp://localhost%s%s\n", ColorBold, addr, ColorReset)
	fmt.Fprintln(stdout, "Press ctrl+c to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(stderr, "Error: console server: %v\n", err)
			return 2
		}
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutCtx); err != nil {
			slog.Error("shutdown incomplete", "error", err)
			return 2
		}
	}
	return 0
}

func setupLogging(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

func telemetryConfig(cfg *config.Config, profile *config.Profile) *observability.Config {
	oc := observability.DefaultConfig()
	oc.ServiceVersion = strings.TrimPrefix(version, "v")
	oc.Enabled = cfg.TracingEnabled
	if cfg.OTLPEndpoint != "" {
		oc.OTLPEndpoint = cfg.OTLPEndpoint
	}
	if profile != nil {
		oc.Enabled = oc.Enabled || profile.Telemetry.Enabled
		if profile.Telemetry.OTLPEndpoint != "" {
			oc.OTLPEndpoint = profile.Telemetry.OTLPEndpoint
		}
		if profile.Telemetry.SampleRate > 0 {
			oc.SampleRate = profile.Telemetry.SampleRate
		}
	}
	return oc
}

// openTrail builds the live trail for the configured sink. Persistent sinks
// are rehydrated first so the console serves history, then attached as
// handlers so new entries keep flowing to the store.
func openTrail(ctx context.Context, cfg *config.Config, profile *config.Profile) (*audit.Trail, *sql.DB, string, error) {
	sink := cfg.AuditSink
	if profile != nil && profile.Audit.Sink != "" {
		sink = profile.Audit.Sink
	}

	switch sink {
	case "sqlite":
		path := filepath.Join(cfg.DataDir, "trail.db")
		if profile != nil && profile.Audit.Path != "" {
			path = profile.Audit.Path
		}
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, nil, sink, fmt.Errorf("create data dir: %w", err)
		}
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, nil, sink, fmt.Errorf("open sqlite: %w", err)
		}
		store, err := audit.NewSQLiteStore(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, sink, fmt.Errorf("init sqlite trail store: %w", err)
		}
		trail, err := hydrate(ctx, store.List)
		if err != nil {
			_ = db.Close()
			return nil, nil, sink, err
		}
		trail.AddHandler(store.Handler())
		return trail, db, sink, nil

	case "postgres":
		dbURL := cfg.DatabaseURL
		if profile != nil && profile.Audit.DatabaseURL != "" {
			dbURL = profile.Audit.DatabaseURL
		}
		db, err := sql.Open("postgres", dbURL)
		if err != nil {
			return nil, nil, sink, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, sink, fmt.Errorf("postgres ping: %w", err)
		}
		store := audit.NewPostgresStore(db)
		if err := store.Init(ctx); err != nil {
			_ = db.Close()
			return nil, nil, sink, fmt.Errorf("init postgres trail store: %w", err)
		}
		trail, err := hydrate(ctx, store.List)
		if err != nil {
			_ = db.Close()
			return nil, nil, sink, err
		}
		trail.AddHandler(store.Handler())
		return trail, db, sink, nil

	default:
		trail := audit.NewTrail()
		trail.AddHandler(func(e *audit.Entry) {
			slog.Info("trail", "seq", e.Sequence, "class", e.ClassName, "fields", strings.Join(e.Fields, ","))
		})
		return trail, nil, "stderr", nil
	}
}

// hydrate rebuilds the trail from everything the store holds. The handler is
// attached after, so existing rows are not written back.
func hydrate(ctx context.Context, list func(context.Context, int) ([]*audit.Entry, error)) (*audit.Trail, error) {
	entries, err := list(ctx, math.MaxInt32)
	if err != nil {
		return nil, fmt.Errorf("load trail entries: %w", err)
	}
	if len(entries) == 0 {
		return audit.NewTrail(), nil
	}
	trail, err := audit.Rehydrate(entries)
	if err != nil {
		return nil, fmt.Errorf("rehydrate trail: %w", err)
	}
	return trail, nil
}
