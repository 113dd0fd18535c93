package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/Mindburn-Labs/loom/pkg/manifest"
)

// ErrManifestNotFound is returned when no resolvable manifest exists for a
// plugin name.
var ErrManifestNotFound = errors.New("registry: manifest not found")

// ManifestCatalog is the persistent published-manifest store behind the live
// registry. Launchers resolve the manifests to load from it; publishing is a
// deployment step, not a dispatch-time one.
//
// Resolve and List only consider manifests whose api_range covers the core's
// APIVersion, so a catalog can hold releases for several core generations
// and every launcher still picks what it can actually run.
type ManifestCatalog interface {
	Publish(ctx context.Context, m *manifest.Manifest) error
	Resolve(ctx context.Context, name string) (*manifest.Manifest, error)
	List(ctx context.Context) ([]*manifest.Manifest, error)
	Retract(ctx context.Context, name, version string) error
}

// MemoryCatalog is the in-memory ManifestCatalog for development and tests.
type MemoryCatalog struct {
	mu       sync.RWMutex
	versions map[string]map[string]*manifest.Manifest
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		versions: make(map[string]map[string]*manifest.Manifest),
	}
}

// Publish upserts one manifest version. The version must be valid semver,
// otherwise Resolve could never order it.
func (c *MemoryCatalog) Publish(_ context.Context, m *manifest.Manifest) error {
	if err := checkPublishable(m); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	byVersion, ok := c.versions[m.Name]
	if !ok {
		byVersion = make(map[string]*manifest.Manifest)
		c.versions[m.Name] = byVersion
	}
	byVersion[m.Version] = m
	return nil
}

// Resolve returns the highest compatible version of name.
func (c *MemoryCatalog) Resolve(_ context.Context, name string) (*manifest.Manifest, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	best, ok := pickHighestCompatible(collectVersions(c.versions[name]))
	if !ok {
		return nil, fmt.Errorf("resolve %q: %w", name, ErrManifestNotFound)
	}
	return best, nil
}

// List returns the highest compatible version of every published plugin,
// ordered by name.
func (c *MemoryCatalog) List(_ context.Context) ([]*manifest.Manifest, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*manifest.Manifest, 0, len(c.versions))
	for _, byVersion := range c.versions {
		if best, ok := pickHighestCompatible(collectVersions(byVersion)); ok {
			out = append(out, best)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Retract removes one published version.
func (c *MemoryCatalog) Retract(_ context.Context, name, version string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	byVersion := c.versions[name]
	if _, exists := byVersion[version]; !exists {
		return fmt.Errorf("retract %s@%s: %w", name, version, ErrManifestNotFound)
	}
	delete(byVersion, version)
	if len(byVersion) == 0 {
		delete(c.versions, name)
	}
	return nil
}

func checkPublishable(m *manifest.Manifest) error {
	if m == nil {
		return errors.New("registry: nil manifest")
	}
	if m.Name == "" {
		return errors.New("registry: manifest has no name")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return fmt.Errorf("registry: manifest %q version %q: %w", m.Name, m.Version, err)
	}
	return nil
}

func collectVersions(byVersion map[string]*manifest.Manifest) []*manifest.Manifest {
	out := make([]*manifest.Manifest, 0, len(byVersion))
	for _, m := range byVersion {
		out = append(out, m)
	}
	return out
}

// pickHighestCompatible orders candidate versions by semver, descending, and
// returns the first one whose api_range covers the running core.
func pickHighestCompatible(candidates []*manifest.Manifest) (*manifest.Manifest, bool) {
	sortByVersionDesc(candidates)
	for _, m := range candidates {
		if manifest.CheckAPIRange(m.APIRange, manifest.APIVersion) == nil {
			return m, true
		}
	}
	return nil, false
}

func sortByVersionDesc(manifests []*manifest.Manifest) {
	sort.Slice(manifests, func(i, j int) bool {
		vi, erri := semver.NewVersion(manifests[i].Version)
		vj, errj := semver.NewVersion(manifests[j].Version)
		if erri != nil || errj != nil {
			// Publish rejects these; persisted rows predating that check
			// sort last.
			return errj != nil && erri == nil
		}
		return vi.GreaterThan(vj)
	})
}
