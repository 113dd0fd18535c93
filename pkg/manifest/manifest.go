// Package manifest loads and validates weave plugin manifests, the YAML
// documents that declare a plugin's identity, API compatibility, special
// paths, and settings before the plugin is registered.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/loom/pkg/plugin"
)

// APIVersion is the plugin API version this core exposes. Manifests declare
// the semver range they support and are rejected when it does not cover
// this version.
const APIVersion = "1.0.0"

// ErrAPIIncompatible marks a manifest whose declared api_range does not
// cover the core's APIVersion.
var ErrAPIIncompatible = errors.New("manifest: api range not satisfied")

// Manifest declares a weave plugin to the core.
type Manifest struct {
	Name         string         `json:"name" yaml:"name"`
	Version      string         `json:"version" yaml:"version"`
	APIRange     string         `json:"api_range" yaml:"api_range"`
	Description  string         `json:"description,omitempty" yaml:"description,omitempty"`
	SpecialPaths []SpecialPath  `json:"special_paths,omitempty" yaml:"special_paths,omitempty"`
	Settings     map[string]any `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// SpecialPath is a named group of code locations the plugin wants handed to
// it at launch.
type SpecialPath struct {
	Name  string   `json:"name" yaml:"name"`
	Paths []string `json:"paths" yaml:"paths"`
}

// manifestSchema is the JSON Schema every manifest document must satisfy
// before it is decoded.
const manifestSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["name", "version", "api_range"],
	"properties": {
		"name": {"type": "string", "pattern": "^[a-z][a-z0-9_.-]*$"},
		"version": {"type": "string", "minLength": 1},
		"api_range": {"type": "string", "minLength": 1},
		"description": {"type": "string"},
		"special_paths": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name", "paths"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"paths": {
						"type": "array",
						"items": {"type": "string", "minLength": 1}
					}
				},
				"additionalProperties": false
			}
		},
		"settings": {"type": "object"}
	},
	"additionalProperties": false
}`

// Load reads, schema-validates, and decodes one manifest file, then checks
// its declared API range against the core's APIVersion.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load manifest %s: %w", path, err)
	}
	if err := validateDocument(data); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if err := CheckAPIRange(m.APIRange, APIVersion); err != nil {
		return nil, fmt.Errorf("manifest %s (plugin %q): %w", path, m.Name, err)
	}
	return &m, nil
}

// LoadDir loads every *.yaml manifest in dir, in lexical filename order,
// and rejects duplicate plugin names.
func LoadDir(dir string) ([]*Manifest, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}

	manifests := make([]*Manifest, 0, len(matches))
	seen := make(map[string]string, len(matches))
	for _, path := range matches {
		m, err := Load(path)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[m.Name]; dup {
			return nil, fmt.Errorf("manifest %s: plugin name %q already declared by %s", path, m.Name, prev)
		}
		seen[m.Name] = path
		manifests = append(manifests, m)
	}
	return manifests, nil
}

// CheckAPIRange reports whether the declared semver range covers version.
func CheckAPIRange(apiRange, version string) error {
	constraint, err := semver.NewConstraint(apiRange)
	if err != nil {
		return fmt.Errorf("invalid api range %q: %w", apiRange, err)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid api version %q: %w", version, err)
	}
	if !constraint.Check(v) {
		return fmt.Errorf("%w: %q does not cover core api %s", ErrAPIIncompatible, apiRange, version)
	}
	return nil
}

// NamedPaths converts the manifest's special paths into the launch hook's
// representation.
func (m *Manifest) NamedPaths() []plugin.NamedPath {
	if len(m.SpecialPaths) == 0 {
		return nil
	}
	paths := make([]plugin.NamedPath, len(m.SpecialPaths))
	for i, sp := range m.SpecialPaths {
		paths[i] = plugin.NamedPath{Name: sp.Name, Paths: sp.Paths}
	}
	return paths
}

// validateDocument checks the raw YAML document against the manifest
// schema. The document is round-tripped through encoding/json so the
// validator sees JSON-typed values.
func validateDocument(data []byte) error {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}
	jsonBytes, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(jsonBytes, &doc); err != nil {
		return err
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const schemaURL = "https://loom.schemas.local/manifest.schema.json"
	if err := c.AddResource(schemaURL, strings.NewReader(manifestSchema)); err != nil {
		return fmt.Errorf("load manifest schema: %w", err)
	}
	schema, err := c.Compile(schemaURL)
	if err != nil {
		return fmt.Errorf("compile manifest schema: %w", err)
	}
	return schema.Validate(doc)
}
