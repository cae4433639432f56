// Package workspace seeds and loads the human-editable bootstrap files that
// live in each layer's directory: AGENTS.md, SOUL.md, TOOLS.md, and
// MEMORY.md. Every layer (L0-L3) and dual-core half (core-a, core-b) gets
// its own copy, since each runs its own session against its own transcript
// store.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/noema-systems/noema/internal/config"
)

// BootstrapFile represents a file to seed in a layer's directory.
type BootstrapFile struct {
	Name    string
	Content string
}

// BootstrapResult captures the files created or skipped for one directory.
type BootstrapResult struct {
	Created []string
	Skipped []string
}

// LayerDirName returns the directory name for inner layer n (L0..L3).
func LayerDirName(layer int) string {
	return fmt.Sprintf("L%d", layer)
}

// CoreDirNames are the two dual-core workspace directories.
var CoreDirNames = []string{"core-a", "core-b"}

// DefaultBootstrapFiles returns the default bootstrap file set for a layer
// directory with no layer-specific customization.
func DefaultBootstrapFiles() []BootstrapFile {
	return []BootstrapFile{
		{
			Name: "AGENTS.md",
			Content: "# AGENTS.md - Layer Instructions\n\n" +
				"This directory is one layer's working directory: its own\n" +
				"session transcripts, its own tool surface, its own memory.\n\n" +
				"## Safety\n" +
				"- Do not exfiltrate secrets or private data.\n" +
				"- Avoid destructive actions unless explicitly requested.\n\n" +
				"## Workflow\n" +
				"- Be concise; put longer output in files.\n" +
				"- Ask clarifying questions when requirements are unclear.\n",
		},
		{
			Name: "SOUL.md",
			Content: "# SOUL.md - Persona & Boundaries\n\n" +
				"- Tone: concise, direct.\n" +
				"- Never fabricate what a lower layer has not actually said.\n",
		},
		{
			Name: "TOOLS.md",
			Content: "# TOOLS.md - Tool Notes (editable)\n\n" +
				"Add notes about local tools, conventions, or shortcuts here.\n",
		},
		{
			Name: "MEMORY.md",
			Content: "# MEMORY.md - Long-Term Memory\n\n" +
				"Capture durable facts, preferences, and decisions here.\n",
		},
	}
}

// BootstrapFilesForLayer returns the bootstrap set for one inner layer,
// with SOUL.md's content replaced by the layer's configured system prompt
// when one is set.
func BootstrapFilesForLayer(cfg *config.Config, layer config.LayerConfig) []BootstrapFile {
	files := BootstrapFilesForConfig(cfg)
	if strings.TrimSpace(layer.SystemPrompt) == "" {
		return files
	}
	soulName := "SOUL.md"
	if cfg != nil && cfg.Workspace.SoulFile != "" {
		soulName = cfg.Workspace.SoulFile
	}
	for i := range files {
		if files[i].Name == soulName {
			files[i].Content = layer.SystemPrompt + "\n"
		}
	}
	return files
}

// BootstrapFilesForConfig applies the configured bootstrap file names to
// the default content set.
func BootstrapFilesForConfig(cfg *config.Config) []BootstrapFile {
	defaults := DefaultBootstrapFiles()
	if cfg == nil {
		return defaults
	}
	nameOverrides := map[string]string{}
	ws := cfg.Workspace
	if ws.AgentsFile != "" {
		nameOverrides["AGENTS.md"] = ws.AgentsFile
	}
	if ws.SoulFile != "" {
		nameOverrides["SOUL.md"] = ws.SoulFile
	}
	if ws.ToolsFile != "" {
		nameOverrides["TOOLS.md"] = ws.ToolsFile
	}
	if ws.MemoryFile != "" {
		nameOverrides["MEMORY.md"] = ws.MemoryFile
	}
	files := make([]BootstrapFile, 0, len(defaults))
	for _, entry := range defaults {
		name := entry.Name
		if override, ok := nameOverrides[entry.Name]; ok {
			name = override
		}
		files = append(files, BootstrapFile{Name: name, Content: entry.Content})
	}
	return files
}

// EnsureWorkspaceFiles creates missing files in dir, skipping existing ones
// unless overwrite is set.
func EnsureWorkspaceFiles(dir string, files []BootstrapFile, overwrite bool) (BootstrapResult, error) {
	result := BootstrapResult{}
	base := strings.TrimSpace(dir)
	if base == "" {
		base = "."
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return result, fmt.Errorf("create workspace dir: %w", err)
	}

	for _, file := range files {
		name := strings.TrimSpace(file.Name)
		if name == "" {
			continue
		}
		path := filepath.Join(base, name)
		if !overwrite {
			if _, err := os.Stat(path); err == nil {
				result.Skipped = append(result.Skipped, path)
				continue
			} else if !os.IsNotExist(err) {
				return result, fmt.Errorf("stat %s: %w", path, err)
			}
		}
		if err := os.WriteFile(path, []byte(file.Content), 0o644); err != nil {
			return result, fmt.Errorf("write %s: %w", path, err)
		}
		result.Created = append(result.Created, path)
	}

	return result, nil
}

// EnsureLayeredWorkspace seeds bootstrap files for every inner layer
// (L0..L3, using cfg.Layers.Inner's system prompts where set) and both
// dual-core directories, under cfg.Workspace.Root. It returns one
// BootstrapResult per directory name.
func EnsureLayeredWorkspace(cfg *config.Config, overwrite bool) (map[string]BootstrapResult, error) {
	if cfg == nil {
		return nil, fmt.Errorf("workspace: nil config")
	}
	root := cfg.Workspace.Root
	if root == "" {
		root = "."
	}

	byLayer := map[int]config.LayerConfig{}
	for _, l := range cfg.Layers.Inner {
		byLayer[l.Layer] = l
	}

	results := map[string]BootstrapResult{}
	for layer := 0; layer <= 3; layer++ {
		dirName := LayerDirName(layer)
		files := BootstrapFilesForLayer(cfg, byLayer[layer])
		result, err := EnsureWorkspaceFiles(filepath.Join(root, dirName), files, overwrite)
		if err != nil {
			return results, fmt.Errorf("bootstrap %s: %w", dirName, err)
		}
		results[dirName] = result
	}

	for _, dirName := range CoreDirNames {
		files := BootstrapFilesForConfig(cfg)
		result, err := EnsureWorkspaceFiles(filepath.Join(root, dirName), files, overwrite)
		if err != nil {
			return results, fmt.Errorf("bootstrap %s: %w", dirName, err)
		}
		results[dirName] = result
	}

	return results, nil
}
