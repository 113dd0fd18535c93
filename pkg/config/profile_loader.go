package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/loom/pkg/filter"
	"github.com/Mindburn-Labs/loom/pkg/plugin"
)

// Profile is a deployment-specific configuration document tying together
// the audit sink, archive backend, cache backend, console binding,
// telemetry, filter rules, and launch-time special paths.
type Profile struct {
	Name         string              `yaml:"name" json:"name"`
	Code         string              `yaml:"code" json:"code"`
	Console      ConsoleConfig       `yaml:"console" json:"console"`
	Audit        AuditConfig         `yaml:"audit" json:"audit"`
	Archive      ArchiveConfig       `yaml:"archive" json:"archive"`
	Cache        CacheConfig         `yaml:"cache" json:"cache"`
	Telemetry    TelemetryConfig     `yaml:"telemetry" json:"telemetry"`
	Filters      []filter.Definition `yaml:"filters,omitempty" json:"filters,omitempty"`
	SpecialPaths []SpecialPathConfig `yaml:"special_paths,omitempty" json:"special_paths,omitempty"`
}

// ConsoleConfig binds the read-only console server.
type ConsoleConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr,omitempty" json:"addr,omitempty"`
}

// AuditConfig selects where trail entries are mirrored.
type AuditConfig struct {
	Sink        string `yaml:"sink" json:"sink"` // "stderr" | "sqlite" | "postgres"
	Path        string `yaml:"path,omitempty" json:"path,omitempty"`
	DatabaseURL string `yaml:"database_url,omitempty" json:"database_url,omitempty"`
}

// ArchiveConfig selects where exported evidence bundles land.
type ArchiveConfig struct {
	Backend  string `yaml:"backend" json:"backend"` // "fs" | "s3" | "gcs"
	Dir      string `yaml:"dir,omitempty" json:"dir,omitempty"`
	Bucket   string `yaml:"bucket,omitempty" json:"bucket,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
}

// CacheConfig selects the transformed-class cache backend.
type CacheConfig struct {
	Backend    string `yaml:"backend" json:"backend"` // "memory" | "redis"
	Capacity   int    `yaml:"capacity,omitempty" json:"capacity,omitempty"`
	Addr       string `yaml:"addr,omitempty" json:"addr,omitempty"`
	TTLMinutes int    `yaml:"ttl_minutes,omitempty" json:"ttl_minutes,omitempty"`
}

// TTL converts the configured minutes to a duration; zero means the cache
// backend's default.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// TelemetryConfig controls the OTel provider.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	OTLPEndpoint string  `yaml:"otlp_endpoint,omitempty" json:"otlp_endpoint,omitempty"`
	SampleRate   float64 `yaml:"sample_rate,omitempty" json:"sample_rate,omitempty"`
}

// SpecialPathConfig is a named group of code locations handed to plugins at
// launch.
type SpecialPathConfig struct {
	Name  string   `yaml:"name" json:"name"`
	Paths []string `yaml:"paths" json:"paths"`
}

// LoadProfile loads a profile YAML by code. It searches the profiles
// directory for profile_<code>.yaml.
func LoadProfile(profilesDir, code string) (*Profile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}

	if profile.Code == "" {
		profile.Code = code
	}

	return &profile, nil
}

// LoadAllProfiles loads all profile_*.yaml files from the profiles
// directory, keyed by code.
func LoadAllProfiles(profilesDir string) (map[string]*Profile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*Profile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile Profile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.Code == "" {
			// Extract code from filename: profile_prod.yaml -> prod
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}

		profiles[profile.Code] = &profile
	}

	return profiles, nil
}

// CompileFilters compiles the profile's filter rules. An empty list yields
// an empty, always-passing rule set.
func (p *Profile) CompileFilters() (*filter.Rules, error) {
	return filter.Compile(p.Filters)
}

// NamedPaths converts the profile's special paths into the launch hook's
// representation.
func (p *Profile) NamedPaths() []plugin.NamedPath {
	if len(p.SpecialPaths) == 0 {
		return nil
	}
	paths := make([]plugin.NamedPath, len(p.SpecialPaths))
	for i, sp := range p.SpecialPaths {
		paths[i] = plugin.NamedPath{Name: sp.Name, Paths: sp.Paths}
	}
	return paths
}
