package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) error = %v", name, err)
	}
	return path
}

func TestLoadRawSimpleYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "noema.yaml", "version: 1\nworkspace:\n  root: /tmp/ws\n")

	raw, err := LoadRaw(path)
	if err != nil {
		t.Fatalf("LoadRaw() error = %v", err)
	}
	if raw["version"] != 1 {
		t.Errorf("expected version 1, got %v", raw["version"])
	}
}

func TestLoadRawResolvesInclude(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "logging:\n  level: debug\n")
	path := writeFile(t, dir, "noema.yaml", "$include: base.yaml\nversion: 1\n")

	raw, err := LoadRaw(path)
	if err != nil {
		t.Fatalf("LoadRaw() error = %v", err)
	}
	logging, ok := raw["logging"].(map[string]any)
	if !ok {
		t.Fatalf("expected logging section from include, got %v", raw["logging"])
	}
	if logging["level"] != "debug" {
		t.Errorf("expected level debug from included file, got %v", logging["level"])
	}
	if raw["version"] != 1 {
		t.Errorf("expected version from the including file to survive, got %v", raw["version"])
	}
}

func TestLoadRawIncludeListMerges(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "subagent:\n  gc_after: 1h\n")
	writeFile(t, dir, "b.yaml", "subagent:\n  sweep_interval: 30s\n")
	path := writeFile(t, dir, "noema.yaml", "$include:\n  - a.yaml\n  - b.yaml\nversion: 1\n")

	raw, err := LoadRaw(path)
	if err != nil {
		t.Fatalf("LoadRaw() error = %v", err)
	}
	subagent, ok := raw["subagent"].(map[string]any)
	if !ok {
		t.Fatalf("expected merged subagent section, got %v", raw["subagent"])
	}
	if subagent["gc_after"] != "1h" || subagent["sweep_interval"] != "30s" {
		t.Errorf("expected both included files' subagent fields merged, got %v", subagent)
	}
}

func TestLoadRawDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "$include: b.yaml\n")
	path := writeFile(t, dir, "b.yaml", "$include: a.yaml\n")

	if _, err := LoadRaw(path); err == nil {
		t.Fatal("expected include cycle error")
	}
}

func TestLoadRawExpandsEnv(t *testing.T) {
	t.Setenv("NOEMA_TEST_ROOT", "/srv/noema")
	dir := t.TempDir()
	path := writeFile(t, dir, "noema.yaml", "workspace:\n  root: \"$NOEMA_TEST_ROOT\"\nversion: 1\n")

	raw, err := LoadRaw(path)
	if err != nil {
		t.Fatalf("LoadRaw() error = %v", err)
	}
	workspace, ok := raw["workspace"].(map[string]any)
	if !ok || workspace["root"] != "/srv/noema" {
		t.Errorf("expected expanded env var, got %v", raw["workspace"])
	}
}

func TestLoadRawRequiresPath(t *testing.T) {
	if _, err := LoadRaw("   "); err == nil {
		t.Fatal("expected error for blank path")
	}
}

func TestLoadRawJSON5(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "noema.json5", "{version: 1, logging: {level: 'debug'}}")

	raw, err := LoadRaw(path)
	if err != nil {
		t.Fatalf("LoadRaw() error = %v", err)
	}
	if raw["version"] != float64(1) && raw["version"] != 1 {
		t.Errorf("expected version 1, got %v (%T)", raw["version"], raw["version"])
	}
}

func TestLoadRawRejectsMultiDocumentYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "noema.yaml", "version: 1\n---\nversion: 2\n")

	if _, err := LoadRaw(path); err == nil {
		t.Fatal("expected error for multi-document YAML")
	}
}
