package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Mindburn-Labs/loom/pkg/audit"
	"github.com/Mindburn-Labs/loom/pkg/signing"
)

// runExportCmd implements `loom export`.
//
// Cuts an evidence pack from a persisted trail store. The pack carries the
// matching entries, a manifest with the chain head, and an attestation when
// a root key is supplied.
//
// Exit codes:
//
//	0 = export completed
//	1 = no entries match the filter
//	2 = runtime error
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		dbPath      string
		databaseURL string
		className   string
		since       string
		until       string
		outPath     string
		keyPath     string
		jsonOutput  bool
	)

	cmd.StringVar(&dbPath, "db", "data/trail.db", "Path to the sqlite trail store")
	cmd.StringVar(&databaseURL, "database-url", "", "Read the trail from postgres instead of sqlite")
	cmd.StringVar(&className, "class", "", "Only entries for this class name")
	cmd.StringVar(&since, "since", "", "Only entries at or after this time (RFC 3339)")
	cmd.StringVar(&until, "until", "", "Only entries before this time (RFC 3339)")
	cmd.StringVar(&outPath, "out", "", "Output path for the zip (default trail-<date>.zip)")
	cmd.StringVar(&keyPath, "key", "", "Path to the root secret; attests the pack when set")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()

	trail, err := loadTrailFromStore(ctx, dbPath, databaseURL)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	exporter := audit.NewExporter(trail)
	if keyPath != "" {
		secret, err := os.ReadFile(keyPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: read root secret: %v\n", err)
			return 2
		}
		attestor, err := attestorFromHexSecret(string(secret))
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		exporter = exporter.WithAttestor(attestor)
	}

	req := audit.ExportRequest{ClassName: className}
	if since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			fmt.Fprintf(stderr, "Error: --since must be RFC 3339: %v\n", err)
			return 2
		}
		req.Since = &t
	}
	if until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			fmt.Fprintf(stderr, "Error: --until must be RFC 3339: %v\n", err)
			return 2
		}
		req.Until = &t
	}

	zipBytes, bundle, err := exporter.GeneratePack(ctx, req)
	if err != nil {
		if errors.Is(err, audit.ErrNoEntries) {
			fmt.Fprintln(stderr, "No trail entries match the filter")
			return 1
		}
		fmt.Fprintf(stderr, "Error: export failed: %v\n", err)
		return 2
	}

	if outPath == "" {
		outPath = fmt.Sprintf("trail-%s.zip", bundle.GeneratedAt.Format("20060102"))
	}
	if err := os.WriteFile(outPath, zipBytes, 0644); err != nil {
		fmt.Fprintf(stderr, "Error: write pack: %v\n", err)
		return 2
	}

	if jsonOutput {
		result := map[string]any{
			"bundle_id":   bundle.BundleID,
			"pack_path":   outPath,
			"entries":     bundle.EntryCount,
			"chain_head":  bundle.ChainHead,
			"merkle_root": bundle.MerkleRoot,
			"checksum":    bundle.Checksum,
			"attested":    bundle.Attestation != "",
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(stdout, string(data))
		return 0
	}

	fmt.Fprintf(stdout, "%sEvidence pack created:%s %s\n", ColorBold+ColorGreen, ColorReset, outPath)
	fmt.Fprintf(stdout, "  Bundle:     %s\n", bundle.BundleID)
	fmt.Fprintf(stdout, "  Entries:    %d\n", bundle.EntryCount)
	fmt.Fprintf(stdout, "  Chain head: %s\n", bundle.ChainHead)
	fmt.Fprintf(stdout, "  Merkle root: %s\n", bundle.MerkleRoot)
	fmt.Fprintf(stdout, "  Checksum:   %s\n", bundle.Checksum)
	if bundle.Attestation != "" {
		fmt.Fprintln(stdout, "  Attested:   yes")
	}
	return 0
}

// loadTrailFromStore rehydrates a verified trail from sqlite or postgres.
func loadTrailFromStore(ctx context.Context, dbPath, databaseURL string) (*audit.Trail, error) {
	if databaseURL != "" {
		db, err := sql.Open("postgres", databaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		defer func() { _ = db.Close() }()
		store := audit.NewPostgresStore(db)
		if err := store.Init(ctx); err != nil {
			return nil, fmt.Errorf("init postgres trail store: %w", err)
		}
		return hydrate(ctx, store.List)
	}

	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("trail store %s: %w", dbPath, err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	defer func() { _ = db.Close() }()
	store, err := audit.NewSQLiteStore(db)
	if err != nil {
		return nil, fmt.Errorf("init sqlite trail store: %w", err)
	}
	return hydrate(ctx, store.List)
}

func attestorFromHexSecret(hexSecret string) (*signing.Attestor, error) {
	secret, err := decodeHexSecret(hexSecret)
	if err != nil {
		return nil, err
	}
	keys, err := signing.DeriveKeyProvider(secret, "pack-attestation")
	if err != nil {
		return nil, fmt.Errorf("derive attestation key: %w", err)
	}
	return signing.NewAttestor(keys, "loom"), nil
}
