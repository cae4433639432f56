package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/noema-systems/noema/internal/toolcontract"
)

// DefaultShellTimeout bounds a ShellTool call with no explicit timeout.
const DefaultShellTimeout = 30 * time.Second

// ShellTool runs a shell command with its working directory scoped to a
// workspace root, synchronously. Output is truncated to
// toolcontract.MaxResultChars like any other tool result.
type ShellTool struct {
	resolver Resolver
}

// NewShellTool builds a ShellTool scoped to root.
func NewShellTool(root string) *ShellTool {
	return &ShellTool{resolver: Resolver{Root: root}}
}

// Definition implements toolcontract.Handler.
func (t *ShellTool) Definition() toolcontract.ToolDef {
	return toolcontract.ToolDef{
		Name:        "shell",
		Description: "Run a shell command with its cwd scoped to the workspace root.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"command": {"type": "string"},
				"cwd": {"type": "string", "description": "Workspace-relative working directory."},
				"timeout_seconds": {"type": "integer", "minimum": 0}
			},
			"required": ["command"]
		}`),
	}
}

// Execute implements toolcontract.Handler. The command runs under a context
// derived from ctx with the call's own timeout added, so a slow command is
// stopped by whichever ends first.
func (t *ShellTool) Execute(ctx context.Context, args json.RawMessage) (toolcontract.Result, error) {
	return t.ExecuteCancellable(ctx, args, nil)
}

// ExecuteCancellable implements toolcontract.CancellableHandler.
func (t *ShellTool) ExecuteCancellable(ctx context.Context, args json.RawMessage, cancel <-chan struct{}) (toolcontract.Result, error) {
	var in struct {
		Command        string `json:"command"`
		Cwd            string `json:"cwd"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return toolcontract.ErrorResult(fmt.Errorf("shell: decode args: %w", err)), nil
	}
	command := strings.TrimSpace(in.Command)
	if command == "" {
		return toolcontract.ErrorResult(fmt.Errorf("shell: command is required")), nil
	}

	cwd := t.resolver.Root
	if in.Cwd != "" {
		resolved, err := t.resolver.Resolve(in.Cwd)
		if err != nil {
			return toolcontract.ErrorResult(err), nil
		}
		cwd = resolved
	}

	timeout := DefaultShellTimeout
	if in.TimeoutSeconds > 0 {
		timeout = time.Duration(in.TimeoutSeconds) * time.Second
	}
	runCtx, stop := context.WithTimeout(ctx, timeout)
	defer stop()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = cwd
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	done := make(chan error, 1)
	go func() { done <- cmd.Run() }()

	select {
	case err := <-done:
		content := toolcontract.TruncateResult(out.String())
		if err != nil {
			return toolcontract.Result{Content: fmt.Sprintf("%s\nerror: %v", content, err), IsError: true}, nil
		}
		return toolcontract.Result{Content: content}, nil
	case <-cancel:
		_ = cmd.Process.Kill()
		return toolcontract.Result{Content: "cancelled", IsError: true}, nil
	case <-runCtx.Done():
		return toolcontract.Result{Content: fmt.Sprintf("timed out after %s", timeout), IsError: true}, nil
	}
}
