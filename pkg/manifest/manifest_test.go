package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const mixinManifest = `name: mixin
version: 0.8.7
api_range: ">=1.0.0 <2.0.0"
description: Runtime bytecode weaving
special_paths:
  - name: mixin_configs
    paths:
      - mods/client.mixins.json
      - mods/common.mixins.json
settings:
  verbose: true
  max_depth: 4
`

func writeManifest(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeManifest(t, t.TempDir(), "mixin.yaml", mixinManifest)

	m, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if m.Name != "mixin" || m.Version != "0.8.7" {
		t.Errorf("unexpected identity: %s %s", m.Name, m.Version)
	}
	if len(m.SpecialPaths) != 1 || m.SpecialPaths[0].Name != "mixin_configs" {
		t.Fatalf("special paths = %+v", m.SpecialPaths)
	}
	if got := len(m.SpecialPaths[0].Paths); got != 2 {
		t.Errorf("expected 2 paths, got %d", got)
	}
	if m.Settings["verbose"] != true {
		t.Errorf("settings not decoded: %+v", m.Settings)
	}

	named := m.NamedPaths()
	if len(named) != 1 || named[0].Name != "mixin_configs" || len(named[0].Paths) != 2 {
		t.Errorf("NamedPaths = %+v", named)
	}
}

func TestLoad_MissingRequiredField(t *testing.T) {
	path := writeManifest(t, t.TempDir(), "bad.yaml", "name: mixin\napi_range: \">=1.0.0\"\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "version") {
		t.Fatalf("expected missing version error, got %v", err)
	}
}

func TestLoad_UnknownField(t *testing.T) {
	path := writeManifest(t, t.TempDir(), "bad.yaml", mixinManifest+"mystery: true\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "mystery") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestLoad_BadPluginName(t *testing.T) {
	content := strings.Replace(mixinManifest, "name: mixin", "name: Mixin", 1)
	path := writeManifest(t, t.TempDir(), "bad.yaml", content)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "pattern") {
		t.Fatalf("expected pattern violation, got %v", err)
	}
}

func TestLoad_IncompatibleAPIRange(t *testing.T) {
	content := strings.Replace(mixinManifest, `api_range: ">=1.0.0 <2.0.0"`, `api_range: ">=2.0.0"`, 1)
	path := writeManifest(t, t.TempDir(), "mixin.yaml", content)

	_, err := Load(path)
	if !errors.Is(err, ErrAPIIncompatible) {
		t.Fatalf("expected ErrAPIIncompatible, got %v", err)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "mixin.yaml", mixinManifest)
	writeManifest(t, dir, "accesstransformer.yaml", "name: accesstransformer\nversion: 1.0.0\napi_range: \"^1.0\"\n")

	manifests, err := LoadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(manifests) != 2 {
		t.Fatalf("expected 2 manifests, got %d", len(manifests))
	}
	// Lexical filename order.
	if manifests[0].Name != "accesstransformer" || manifests[1].Name != "mixin" {
		t.Errorf("order = %s, %s", manifests[0].Name, manifests[1].Name)
	}
}

func TestLoadDir_DuplicateName(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "a.yaml", "name: mixin\nversion: 1.0.0\napi_range: \"^1.0\"\n")
	writeManifest(t, dir, "b.yaml", "name: mixin\nversion: 2.0.0\napi_range: \"^1.0\"\n")

	_, err := LoadDir(dir)
	if err == nil || !strings.Contains(err.Error(), "already declared") {
		t.Fatalf("expected duplicate name error, got %v", err)
	}
}

func TestLoadDir_Empty(t *testing.T) {
	manifests, err := LoadDir(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(manifests) != 0 {
		t.Errorf("expected no manifests, got %d", len(manifests))
	}
}

func TestCheckAPIRange(t *testing.T) {
	if err := CheckAPIRange(">=1.0.0 <2.0.0", "1.0.0"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := CheckAPIRange("^2.0", "1.0.0"); !errors.Is(err, ErrAPIIncompatible) {
		t.Errorf("expected ErrAPIIncompatible, got %v", err)
	}
	if err := CheckAPIRange("not-a-range", "1.0.0"); err == nil {
		t.Error("expected error for invalid range")
	}
	if err := CheckAPIRange("^1.0", "garbage"); err == nil {
		t.Error("expected error for invalid version")
	}
}
