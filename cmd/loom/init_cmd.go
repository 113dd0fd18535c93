package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Mindburn-Labs/loom/pkg/api"
	"github.com/Mindburn-Labs/loom/pkg/audit"
	"github.com/Mindburn-Labs/loom/pkg/registry"
	"github.com/Mindburn-Labs/loom/pkg/signing"
)

const starterProfile = `name: Default
code: default
console:
  enabled: true
  addr: ":8777"
audit:
  sink: sqlite
  path: data/trail.db
archive:
  backend: fs
  dir: data/archive
cache:
  backend: memory
  capacity: 1024
telemetry:
  enabled: false
`

// runInitCmd implements `loom init`.
//
// Prepares a deployment in place: data directory, root secret, published
// attestation key, trail store schema, and a starter profile. Safe to run
// repeatedly; existing files are kept.
//
// Exit codes:
//
//	0 = initialized
//	2 = runtime error
func runInitCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("init", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		dataDir     string
		profilesDir string
		databaseURL string
		jsonOutput  bool
	)

	cmd.StringVar(&dataDir, "data", "data", "Data directory for key material and the sqlite trail")
	cmd.StringVar(&profilesDir, "profiles", "profiles", "Directory for deployment profiles")
	cmd.StringVar(&databaseURL, "database-url", "", "Also initialize postgres schemas at this URL")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()

	secret, err := loadOrGenerateRootSecret(dataDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	keys, err := signing.DeriveKeyProvider(secret, "pack-attestation")
	if err != nil {
		fmt.Fprintf(stderr, "Error: derive attestation key: %v\n", err)
		return 2
	}

	// Publish the verification key for auditors. The secret stays 0600.
	pubPath := filepath.Join(dataDir, "attest.pub")
	pubHex := hex.EncodeToString(keys.PublicKey())
	if err := os.WriteFile(pubPath, []byte(pubHex), 0644); err != nil {
		fmt.Fprintf(stderr, "Error: save attest.pub: %v\n", err)
		return 2
	}

	trailPath := filepath.Join(dataDir, "trail.db")
	db, err := sql.Open("sqlite", trailPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: open sqlite: %v\n", err)
		return 2
	}
	if _, err := audit.NewSQLiteStore(db); err != nil {
		_ = db.Close()
		fmt.Fprintf(stderr, "Error: init sqlite trail store: %v\n", err)
		return 2
	}
	_ = db.Close()

	if databaseURL != "" {
		if err := initPostgres(ctx, databaseURL); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}

	profilePath := filepath.Join(profilesDir, "profile_default.yaml")
	wroteProfile := false
	if _, err := os.Stat(profilePath); os.IsNotExist(err) {
		if err := os.MkdirAll(profilesDir, 0750); err != nil {
			fmt.Fprintf(stderr, "Error: create profiles dir: %v\n", err)
			return 2
		}
		if err := os.WriteFile(profilePath, []byte(starterProfile), 0644); err != nil {
			fmt.Fprintf(stderr, "Error: write starter profile: %v\n", err)
			return 2
		}
		wroteProfile = true
	}

	if jsonOutput {
		result := map[string]any{
			"data_dir":        dataDir,
			"attestation_key": pubHex,
			"trail_db":        trailPath,
			"profile":         profilePath,
			"profile_created": wroteProfile,
			"postgres":        databaseURL != "",
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(stdout, string(data))
		return 0
	}

	fmt.Fprintf(stdout, "%sLoom initialized%s\n", ColorBold+ColorGreen, ColorReset)
	fmt.Fprintf(stdout, "  Data dir:        %s\n", dataDir)
	fmt.Fprintf(stdout, "  Attestation key: %s\n", pubHex)
	fmt.Fprintf(stdout, "  Trail store:     %s\n", trailPath)
	if databaseURL != "" {
		fmt.Fprintln(stdout, "  Postgres:        schemas ready")
	}
	if wroteProfile {
		fmt.Fprintf(stdout, "  Profile:         %s (created)\n", profilePath)
	} else {
		fmt.Fprintf(stdout, "  Profile:         %s (kept)\n", profilePath)
	}
	return 0
}

// initPostgres creates the trail, idempotency, and catalog schemas so serve
// and publish do not need DDL rights at runtime.
func initPostgres(ctx context.Context, databaseURL string) error {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	if err := audit.NewPostgresStore(db).Init(ctx); err != nil {
		return fmt.Errorf("init postgres trail store: %w", err)
	}
	if err := api.NewPostgresIdempotencyStore(db, 24*time.Hour).Init(); err != nil {
		return fmt.Errorf("init idempotency store: %w", err)
	}
	if err := registry.NewPostgresCatalog(db).Init(ctx); err != nil {
		return fmt.Errorf("init manifest catalog: %w", err)
	}
	return nil
}
