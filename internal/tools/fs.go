// Package tools provides the default set of toolcontract.Handler
// implementations a layer's workspace tool surface is seeded with: reading,
// writing, and shelling out, all scoped to that layer's own directory.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/noema-systems/noema/internal/toolcontract"
)

// Resolver resolves a workspace-relative path to an absolute one, rejecting
// anything that would escape the workspace root.
type Resolver struct {
	Root string
}

// Resolve returns an absolute, cleaned path within the workspace root.
func (r Resolver) Resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}
	root := strings.TrimSpace(r.Root)
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}

	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(rootAbs, clean)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}

	rel, err := filepath.Rel(rootAbs, targetAbs)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes workspace")
	}
	return targetAbs, nil
}

// DefaultMaxReadBytes bounds a ReadTool call with no explicit max_bytes.
const DefaultMaxReadBytes = 200_000

// ReadTool reads a file from within a workspace root.
type ReadTool struct {
	resolver Resolver
	maxBytes int
}

// NewReadTool builds a ReadTool scoped to root.
func NewReadTool(root string, maxBytes int) *ReadTool {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxReadBytes
	}
	return &ReadTool{resolver: Resolver{Root: root}, maxBytes: maxBytes}
}

// Definition implements toolcontract.Handler.
func (t *ReadTool) Definition() toolcontract.ToolDef {
	return toolcontract.ToolDef{
		Name:        "read_file",
		Description: "Read a file from the workspace, optionally from a byte offset.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "Path relative to the workspace root."},
				"offset": {"type": "integer", "minimum": 0},
				"max_bytes": {"type": "integer", "minimum": 0}
			},
			"required": ["path"]
		}`),
	}
}

// Execute implements toolcontract.Handler.
func (t *ReadTool) Execute(_ context.Context, args json.RawMessage) (toolcontract.Result, error) {
	var in struct {
		Path     string `json:"path"`
		Offset   int64  `json:"offset"`
		MaxBytes int    `json:"max_bytes"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return toolcontract.ErrorResult(fmt.Errorf("read_file: decode args: %w", err)), nil
	}
	path, err := t.resolver.Resolve(in.Path)
	if err != nil {
		return toolcontract.ErrorResult(err), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return toolcontract.ErrorResult(err), nil
	}
	defer f.Close()

	limit := t.maxBytes
	if in.MaxBytes > 0 && in.MaxBytes < limit {
		limit = in.MaxBytes
	}
	if in.Offset > 0 {
		if _, err := f.Seek(in.Offset, 0); err != nil {
			return toolcontract.ErrorResult(err), nil
		}
	}

	buf := make([]byte, limit)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return toolcontract.ErrorResult(err), nil
	}
	return toolcontract.Result{Content: string(buf[:n])}, nil
}

// WriteTool writes a file within a workspace root, creating parent
// directories as needed.
type WriteTool struct {
	resolver Resolver
}

// NewWriteTool builds a WriteTool scoped to root.
func NewWriteTool(root string) *WriteTool {
	return &WriteTool{resolver: Resolver{Root: root}}
}

// Definition implements toolcontract.Handler.
func (t *WriteTool) Definition() toolcontract.ToolDef {
	return toolcontract.ToolDef{
		Name:        "write_file",
		Description: "Write (overwriting) a file in the workspace, creating parent directories as needed.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "Path relative to the workspace root."},
				"content": {"type": "string"}
			},
			"required": ["path", "content"]
		}`),
	}
}

// Execute implements toolcontract.Handler.
func (t *WriteTool) Execute(_ context.Context, args json.RawMessage) (toolcontract.Result, error) {
	var in struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return toolcontract.ErrorResult(fmt.Errorf("write_file: decode args: %w", err)), nil
	}
	path, err := t.resolver.Resolve(in.Path)
	if err != nil {
		return toolcontract.ErrorResult(err), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return toolcontract.ErrorResult(err), nil
	}
	if err := os.WriteFile(path, []byte(in.Content), 0o644); err != nil {
		return toolcontract.ErrorResult(err), nil
	}
	return toolcontract.Result{Content: fmt.Sprintf("wrote %d bytes to %s", len(in.Content), in.Path)}, nil
}

// ListDirTool lists the immediate entries of a workspace-relative directory.
type ListDirTool struct {
	resolver Resolver
}

// NewListDirTool builds a ListDirTool scoped to root.
func NewListDirTool(root string) *ListDirTool {
	return &ListDirTool{resolver: Resolver{Root: root}}
}

// Definition implements toolcontract.Handler.
func (t *ListDirTool) Definition() toolcontract.ToolDef {
	return toolcontract.ToolDef{
		Name:        "list_dir",
		Description: "List the immediate entries of a workspace directory.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"path": {"type": "string"}},
			"required": ["path"]
		}`),
	}
}

// Execute implements toolcontract.Handler.
func (t *ListDirTool) Execute(_ context.Context, args json.RawMessage) (toolcontract.Result, error) {
	var in struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return toolcontract.ErrorResult(fmt.Errorf("list_dir: decode args: %w", err)), nil
	}
	path, err := t.resolver.Resolve(in.Path)
	if err != nil {
		return toolcontract.ErrorResult(err), nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return toolcontract.ErrorResult(err), nil
	}
	var b strings.Builder
	for _, e := range entries {
		if e.IsDir() {
			fmt.Fprintf(&b, "%s/\n", e.Name())
		} else {
			fmt.Fprintf(&b, "%s\n", e.Name())
		}
	}
	return toolcontract.Result{Content: b.String()}, nil
}

// RegisterDefaults registers the read_file, write_file, list_dir and shell
// handlers, each scoped to root, onto reg.
func RegisterDefaults(reg *toolcontract.Registry, root string) error {
	handlers := []toolcontract.Handler{
		NewReadTool(root, DefaultMaxReadBytes),
		NewWriteTool(root),
		NewListDirTool(root),
		NewShellTool(root),
	}
	for _, h := range handlers {
		if err := reg.Register(h); err != nil {
			return err
		}
	}
	return nil
}
