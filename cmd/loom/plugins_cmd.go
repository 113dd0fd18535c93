package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"

	"github.com/Mindburn-Labs/loom/pkg/manifest"
	"github.com/Mindburn-Labs/loom/pkg/registry"
)

func runPluginsCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, "Usage: loom plugins <validate|publish|resolve>")
		return 2
	}

	switch args[0] {
	case "validate":
		return runPluginsValidate(args[1:], stdout, stderr)
	case "publish":
		return runPluginsPublish(args[1:], stdout, stderr)
	case "resolve":
		return runPluginsResolve(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown plugins subcommand: %s\n", args[0])
		return 2
	}
}

type manifestReport struct {
	File     string `json:"file"`
	Name     string `json:"name,omitempty"`
	Version  string `json:"version,omitempty"`
	APIRange string `json:"api_range,omitempty"`
	Valid    bool   `json:"valid"`
	Error    string `json:"error,omitempty"`
}

// runPluginsValidate implements `loom plugins validate`.
//
// Checks every manifest in a directory the same way registration would:
// schema, api_range against the core version, and duplicate plugin names.
//
// Exit codes:
//
//	0 = all manifests valid
//	1 = at least one manifest invalid
//	2 = runtime error
func runPluginsValidate(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("plugins validate", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		dir        string
		jsonOutput bool
	)

	cmd.StringVar(&dir, "dir", "manifests", "Directory holding plugin manifests (*.yaml)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if len(matches) == 0 {
		_, _ = fmt.Fprintf(stderr, "Error: no manifests found in %s\n", dir)
		return 2
	}

	reports := make([]manifestReport, 0, len(matches))
	seen := make(map[string]string, len(matches))
	invalid := 0
	for _, path := range matches {
		report := manifestReport{File: filepath.Base(path)}
		m, err := manifest.Load(path)
		if err != nil {
			report.Error = err.Error()
			invalid++
			reports = append(reports, report)
			continue
		}
		report.Name = m.Name
		report.Version = m.Version
		report.APIRange = m.APIRange
		if prev, dup := seen[m.Name]; dup {
			report.Error = fmt.Sprintf("plugin name %q already declared by %s", m.Name, prev)
			invalid++
		} else {
			seen[m.Name] = report.File
			report.Valid = true
		}
		reports = append(reports, report)
	}

	if jsonOutput {
		result := map[string]any{
			"dir":       dir,
			"manifests": reports,
			"valid":     len(reports) - invalid,
			"invalid":   invalid,
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		_, _ = fmt.Fprintf(stdout, "Validating manifests in %s\n", dir)
		for _, r := range reports {
			if r.Valid {
				_, _ = fmt.Fprintf(stdout, "  ✅ %s (%s %s, api %s)\n", r.File, r.Name, r.Version, r.APIRange)
			} else {
				_, _ = fmt.Fprintf(stdout, "  ❌ %s: %s\n", r.File, r.Error)
			}
		}
		_, _ = fmt.Fprintf(stdout, "%d manifests: %d valid, %d invalid\n", len(reports), len(reports)-invalid, invalid)
	}

	if invalid > 0 {
		return 1
	}
	return 0
}

// runPluginsPublish implements `loom plugins publish`.
//
// Pushes every manifest in a directory to the shared catalog, so a fleet of
// launchers resolves one agreed plugin set instead of whatever happens to
// sit on each host.
//
// Exit codes:
//
//	0 = all manifests published
//	2 = runtime error, including any invalid manifest
func runPluginsPublish(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("plugins publish", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		dir         string
		databaseURL string
		jsonOutput  bool
	)

	cmd.StringVar(&dir, "dir", "manifests", "Directory holding plugin manifests (*.yaml)")
	cmd.StringVar(&databaseURL, "database-url", "", "Postgres connection string for the catalog")
	cmd.BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if databaseURL == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --database-url is required")
		return 2
	}

	// Publishing a broken manifest would poison every launcher that
	// resolves it, so the whole directory must load first.
	manifests, err := manifest.LoadDir(dir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if len(manifests) == 0 {
		_, _ = fmt.Fprintf(stderr, "Error: no manifests found in %s\n", dir)
		return 2
	}

	ctx := context.Background()
	cat, db, err := openCatalog(ctx, databaseURL)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = db.Close() }()

	names := make([]string, 0, len(manifests))
	for _, m := range manifests {
		if err := cat.Publish(ctx, m); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: publish %s: %v\n", m.Name, err)
			return 2
		}
		names = append(names, fmt.Sprintf("%s@%s", m.Name, m.Version))
	}

	if jsonOutput {
		result := map[string]any{"dir": dir, "published": names}
		data, _ := json.MarshalIndent(result, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		for _, name := range names {
			_, _ = fmt.Fprintf(stdout, "  ✅ published %s\n", name)
		}
		_, _ = fmt.Fprintf(stdout, "%d manifests published\n", len(names))
	}
	return 0
}

// runPluginsResolve implements `loom plugins resolve [name]`.
//
// Without a name, lists the version of every catalog plugin this core would
// load. With one, prints that plugin's resolved manifest.
//
// Exit codes:
//
//	0 = resolved
//	1 = no compatible version published
//	2 = runtime error
func runPluginsResolve(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("plugins resolve", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		databaseURL string
		jsonOutput  bool
	)

	cmd.StringVar(&databaseURL, "database-url", "", "Postgres connection string for the catalog")
	cmd.BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if databaseURL == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --database-url is required")
		return 2
	}

	ctx := context.Background()
	cat, db, err := openCatalog(ctx, databaseURL)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = db.Close() }()

	var resolved []*manifest.Manifest
	if name := cmd.Arg(0); name != "" {
		m, err := cat.Resolve(ctx, name)
		if errors.Is(err, registry.ErrManifestNotFound) {
			_, _ = fmt.Fprintf(stderr, "No compatible version of %q is published\n", name)
			return 1
		}
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		resolved = []*manifest.Manifest{m}
	} else {
		resolved, err = cat.List(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		if len(resolved) == 0 {
			_, _ = fmt.Fprintln(stderr, "No compatible plugins are published")
			return 1
		}
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(resolved, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}
	for _, m := range resolved {
		_, _ = fmt.Fprintf(stdout, "  %s%s%s %s (api %s)\n", ColorBold, m.Name, ColorReset, m.Version, m.APIRange)
		if m.Description != "" {
			_, _ = fmt.Fprintf(stdout, "    %s\n", m.Description)
		}
	}
	return 0
}

// openCatalog connects to the catalog database and ensures its schema, so
// publish works against a fresh database without a separate init step.
func openCatalog(ctx context.Context, databaseURL string) (*registry.PostgresCatalog, *sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open catalog database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("catalog database unreachable: %w", err)
	}
	cat := registry.NewPostgresCatalog(db)
	if err := cat.Init(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("init catalog schema: %w", err)
	}
	return cat, db, nil
}
