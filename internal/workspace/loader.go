package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/noema-systems/noema/internal/config"
)

// WorkspaceContext holds one layer directory's loaded bootstrap content.
type WorkspaceContext struct {
	AgentsContent string
	SoulContent   string
	ToolsContent  string
	MemoryContent string
}

// LoaderConfig configures the loader for one layer directory.
type LoaderConfig struct {
	Root       string
	AgentsFile string
	SoulFile   string
	ToolsFile  string
	MemoryFile string
}

// LoaderConfigForDir builds a LoaderConfig for the layer or core directory
// named dirName, nested under cfg.Workspace.Root.
func LoaderConfigForDir(cfg *config.Config, dirName string) LoaderConfig {
	lc := LoaderConfig{
		AgentsFile: "AGENTS.md",
		SoulFile:   "SOUL.md",
		ToolsFile:  "TOOLS.md",
		MemoryFile: "MEMORY.md",
	}
	root := "."
	if cfg != nil {
		if cfg.Workspace.Root != "" {
			root = cfg.Workspace.Root
		}
		if cfg.Workspace.AgentsFile != "" {
			lc.AgentsFile = cfg.Workspace.AgentsFile
		}
		if cfg.Workspace.SoulFile != "" {
			lc.SoulFile = cfg.Workspace.SoulFile
		}
		if cfg.Workspace.ToolsFile != "" {
			lc.ToolsFile = cfg.Workspace.ToolsFile
		}
		if cfg.Workspace.MemoryFile != "" {
			lc.MemoryFile = cfg.Workspace.MemoryFile
		}
	}
	lc.Root = filepath.Join(root, dirName)
	return lc
}

// LoadWorkspace reads all of one layer directory's bootstrap files,
// treating a missing file as empty content rather than an error.
func LoadWorkspace(cfg LoaderConfig) (*WorkspaceContext, error) {
	root := cfg.Root
	if root == "" {
		root = "."
	}

	agentsFile := orDefault(cfg.AgentsFile, "AGENTS.md")
	soulFile := orDefault(cfg.SoulFile, "SOUL.md")
	toolsFile := orDefault(cfg.ToolsFile, "TOOLS.md")
	memoryFile := orDefault(cfg.MemoryFile, "MEMORY.md")

	ctx := &WorkspaceContext{}
	loadOptional := func(name string) (string, error) {
		return readOptionalFile(filepath.Join(root, name))
	}

	var err error
	if ctx.AgentsContent, err = loadOptional(agentsFile); err != nil {
		return nil, err
	}
	if ctx.SoulContent, err = loadOptional(soulFile); err != nil {
		return nil, err
	}
	if ctx.ToolsContent, err = loadOptional(toolsFile); err != nil {
		return nil, err
	}
	if ctx.MemoryContent, err = loadOptional(memoryFile); err != nil {
		return nil, err
	}

	return ctx, nil
}

// LoadSoul loads just the SOUL.md content for one layer directory. This is
// the "soul text" internal/ego.AssembleWakeContext appends to a wake
// context.
func LoadSoul(dir, filename string) (string, error) {
	if filename == "" {
		filename = "SOUL.md"
	}
	return readOptionalFile(filepath.Join(dir, filename))
}

// LoadMemory loads the MEMORY.md content for one layer directory.
func LoadMemory(dir, filename string) (string, error) {
	if filename == "" {
		filename = "MEMORY.md"
	}
	return readOptionalFile(filepath.Join(dir, filename))
}

// AppendMemory appends line as given (no timestamp is added) to MEMORY.md,
// creating it if absent. Used by distillation to leave a durable trace beyond the
// per-sleep ego summary.
func AppendMemory(dir, filename, line string) error {
	if filename == "" {
		filename = "MEMORY.md"
	}
	path := filepath.Join(dir, filename)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("append memory: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(strings.TrimRight(line, "\n") + "\n"); err != nil {
		return fmt.Errorf("append memory: %w", err)
	}
	return nil
}

// SystemPromptContext joins the directory's AGENTS.md and SOUL.md content
// into the preamble a layer's system prompt is built from.
func (w *WorkspaceContext) SystemPromptContext() string {
	var parts []string
	if w.AgentsContent != "" {
		parts = append(parts, w.AgentsContent)
	}
	if w.SoulContent != "" {
		parts = append(parts, w.SoulContent)
	}
	return strings.Join(parts, "\n\n")
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func readOptionalFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}
