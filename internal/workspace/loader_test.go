package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/noema-systems/noema/internal/config"
)

func TestLoaderConfigForDirNilConfigUsesDefaults(t *testing.T) {
	lc := LoaderConfigForDir(nil, "L0")
	if lc.SoulFile != "SOUL.md" {
		t.Errorf("SoulFile = %q, want %q", lc.SoulFile, "SOUL.md")
	}
	if lc.Root != filepath.Join(".", "L0") {
		t.Errorf("Root = %q, want %q", lc.Root, filepath.Join(".", "L0"))
	}
}

func TestLoaderConfigForDirAppliesOverrides(t *testing.T) {
	cfg := &config.Config{
		Workspace: config.WorkspaceConfig{
			Root:     "/custom/path",
			SoulFile: "custom_soul.md",
		},
	}
	lc := LoaderConfigForDir(cfg, "core-a")
	if lc.Root != filepath.Join("/custom/path", "core-a") {
		t.Errorf("Root = %q, want nested core-a dir", lc.Root)
	}
	if lc.SoulFile != "custom_soul.md" {
		t.Errorf("SoulFile = %q, want %q", lc.SoulFile, "custom_soul.md")
	}
	if lc.ToolsFile != "TOOLS.md" {
		t.Errorf("ToolsFile = %q, want unchanged default %q", lc.ToolsFile, "TOOLS.md")
	}
}

func TestLoadWorkspace(t *testing.T) {
	tmpDir := t.TempDir()

	soulContent := "# SOUL.md\n\nBe helpful and concise."
	agentsContent := "# AGENTS.md\n\nDo not exfiltrate secrets."

	if err := os.WriteFile(filepath.Join(tmpDir, "SOUL.md"), []byte(soulContent), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "AGENTS.md"), []byte(agentsContent), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	ctx, err := LoadWorkspace(LoaderConfig{Root: tmpDir})
	if err != nil {
		t.Fatalf("LoadWorkspace() error = %v", err)
	}
	if ctx.SoulContent != soulContent {
		t.Errorf("SoulContent = %q, want %q", ctx.SoulContent, soulContent)
	}
	if ctx.AgentsContent != agentsContent {
		t.Errorf("AgentsContent = %q, want %q", ctx.AgentsContent, agentsContent)
	}
	if ctx.ToolsContent != "" {
		t.Errorf("expected empty ToolsContent for missing file, got %q", ctx.ToolsContent)
	}
}

func TestLoadWorkspaceMissingFiles(t *testing.T) {
	tmpDir := t.TempDir()

	ctx, err := LoadWorkspace(LoaderConfig{Root: tmpDir})
	if err != nil {
		t.Fatalf("LoadWorkspace() error = %v", err)
	}
	if ctx.SoulContent != "" || ctx.AgentsContent != "" || ctx.ToolsContent != "" || ctx.MemoryContent != "" {
		t.Errorf("expected all-empty context for a bare directory, got %+v", ctx)
	}
}

func TestWorkspaceContextSystemPromptContext(t *testing.T) {
	t.Run("joins agents and soul", func(t *testing.T) {
		ctx := &WorkspaceContext{
			AgentsContent: "Stay in your lane.",
			SoulContent:   "Be concise.",
		}
		prompt := ctx.SystemPromptContext()
		if !strings.Contains(prompt, "Stay in your lane.") {
			t.Error("expected agents content present")
		}
		if !strings.Contains(prompt, "Be concise.") {
			t.Error("expected soul content present")
		}
	})

	t.Run("empty context", func(t *testing.T) {
		ctx := &WorkspaceContext{}
		if prompt := ctx.SystemPromptContext(); prompt != "" {
			t.Errorf("expected empty prompt, got %q", prompt)
		}
	})
}

func TestLoadSoul(t *testing.T) {
	tmpDir := t.TempDir()
	content := "# SOUL.md\nBe awesome."
	if err := os.WriteFile(filepath.Join(tmpDir, "SOUL.md"), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	soul, err := LoadSoul(tmpDir, "")
	if err != nil {
		t.Fatalf("LoadSoul() error = %v", err)
	}
	if soul != content {
		t.Errorf("soul = %q, want %q", soul, content)
	}
}

func TestLoadSoulMissingIsEmpty(t *testing.T) {
	tmpDir := t.TempDir()
	soul, err := LoadSoul(tmpDir, "")
	if err != nil {
		t.Fatalf("LoadSoul() error = %v", err)
	}
	if soul != "" {
		t.Errorf("expected empty soul text, got %q", soul)
	}
}

func TestLoadMemory(t *testing.T) {
	tmpDir := t.TempDir()
	content := "# Memory\n\nRemember this."
	if err := os.WriteFile(filepath.Join(tmpDir, "MEMORY.md"), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	mem, err := LoadMemory(tmpDir, "")
	if err != nil {
		t.Fatalf("LoadMemory() error = %v", err)
	}
	if mem != content {
		t.Errorf("memory = %q, want %q", mem, content)
	}
}

func TestAppendMemoryCreatesAndAppends(t *testing.T) {
	tmpDir := t.TempDir()

	if err := AppendMemory(tmpDir, "", "first fact"); err != nil {
		t.Fatalf("AppendMemory() error = %v", err)
	}
	if err := AppendMemory(tmpDir, "", "second fact"); err != nil {
		t.Fatalf("AppendMemory() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(tmpDir, "MEMORY.md"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 || lines[0] != "first fact" || lines[1] != "second fact" {
		t.Errorf("expected two appended lines in order, got %q", lines)
	}
}
