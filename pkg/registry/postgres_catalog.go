package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/loom/pkg/manifest"
)

// PostgresCatalog implements ManifestCatalog with SQL persistence, for
// fleets where every launcher must resolve the same plugin set.
type PostgresCatalog struct {
	db *sql.DB
}

func NewPostgresCatalog(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

const pgCatalogSchema = `
CREATE TABLE IF NOT EXISTS catalog_manifests (
	name TEXT NOT NULL,
	version TEXT NOT NULL,
	manifest_json JSONB NOT NULL,
	published_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (name, version)
)`

func (c *PostgresCatalog) Init(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, pgCatalogSchema)
	return err
}

func (c *PostgresCatalog) Publish(ctx context.Context, m *manifest.Manifest) error {
	if err := checkPublishable(m); err != nil {
		return err
	}
	doc, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("registry: marshal manifest: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO catalog_manifests (name, version, manifest_json, published_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name, version) DO UPDATE
		SET manifest_json = $3, published_at = $4`,
		m.Name, m.Version, doc, time.Now().UTC())
	return err
}

func (c *PostgresCatalog) Resolve(ctx context.Context, name string) (*manifest.Manifest, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT manifest_json FROM catalog_manifests WHERE name = $1", name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	candidates, err := scanManifests(rows)
	if err != nil {
		return nil, err
	}
	best, ok := pickHighestCompatible(candidates)
	if !ok {
		return nil, fmt.Errorf("resolve %q: %w", name, ErrManifestNotFound)
	}
	return best, nil
}

func (c *PostgresCatalog) List(ctx context.Context) ([]*manifest.Manifest, error) {
	// Semver order cannot be computed in SQL, so grouping happens here.
	rows, err := c.db.QueryContext(ctx,
		"SELECT manifest_json FROM catalog_manifests ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	all, err := scanManifests(rows)
	if err != nil {
		return nil, err
	}

	byName := make(map[string][]*manifest.Manifest)
	order := make([]string, 0)
	for _, m := range all {
		if _, seen := byName[m.Name]; !seen {
			order = append(order, m.Name)
		}
		byName[m.Name] = append(byName[m.Name], m)
	}

	out := make([]*manifest.Manifest, 0, len(order))
	for _, name := range order {
		if best, ok := pickHighestCompatible(byName[name]); ok {
			out = append(out, best)
		}
	}
	return out, nil
}

func (c *PostgresCatalog) Retract(ctx context.Context, name, version string) error {
	res, err := c.db.ExecContext(ctx,
		"DELETE FROM catalog_manifests WHERE name = $1 AND version = $2", name, version)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("retract %s@%s: %w", name, version, ErrManifestNotFound)
	}
	return nil
}

func scanManifests(rows *sql.Rows) ([]*manifest.Manifest, error) {
	var out []*manifest.Manifest
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var m manifest.Manifest
		if err := json.Unmarshal(doc, &m); err != nil {
			return nil, fmt.Errorf("registry: corrupt manifest row: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
