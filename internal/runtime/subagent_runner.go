package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/noema-systems/noema/internal/loop"
	"github.com/noema-systems/noema/internal/session"
	"github.com/noema-systems/noema/internal/subagent"
	"github.com/noema-systems/noema/internal/tokens"
	"github.com/noema-systems/noema/internal/toolcontract"
	"github.com/noema-systems/noema/internal/tools"
	"github.com/noema-systems/noema/internal/transcript"
)

// SubagentRunner backs a conductor's Spawner, Messenger, and
// ContextResetter with real sessions: each spawned worker gets its own
// directory, transcript, and tool registry under root, named after its
// registry entry.
type SubagentRunner struct {
	llm      loop.LLMClient
	model    string
	root     string
	registry *subagent.Registry

	mu          sync.Mutex
	sessions    map[string]*session.Session
	toolsByName map[string]toolcontract.Tool
	transcripts map[string]string
}

func (r *SubagentRunner) workerDir(worker string) string {
	return filepath.Join(r.root, worker)
}

// Spawn implements conductor.Spawner: it creates the worker's directory,
// transcript, and tool registry. The registry entry itself is created by
// the conductor before Spawn is called.
func (r *SubagentRunner) Spawn(_ context.Context, worker, purpose, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions == nil {
		r.sessions = map[string]*session.Session{}
		r.toolsByName = map[string]toolcontract.Tool{}
		r.transcripts = map[string]string{}
	}

	dir := r.workerDir(worker)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("subagent: create workspace for %s: %w", worker, err)
	}
	path, err := transcript.Create(dir, worker, "")
	if err != nil {
		return fmt.Errorf("subagent: create transcript for %s: %w", worker, err)
	}

	reg := toolcontract.NewRegistry()
	if err := tools.RegisterDefaults(reg, dir); err != nil {
		return fmt.Errorf("subagent: register tools for %s: %w", worker, err)
	}

	r.sessions[worker] = session.New(session.Config{
		Model:        r.model,
		SystemPrompt: fmt.Sprintf("You are a subagent spawned for: %s", purpose),
	})
	r.toolsByName[worker] = reg
	r.transcripts[worker] = path
	return nil
}

// Deliver implements conductor.Messenger: the message is run to completion
// as a single synchronous turn against the worker's own session, and the
// registry entry is marked complete or failed with the result.
func (r *SubagentRunner) Deliver(ctx context.Context, worker, message string) error {
	r.mu.Lock()
	sess, ok := r.sessions[worker]
	toolReg := r.toolsByName[worker]
	path := r.transcripts[worker]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("subagent: unknown worker %q", worker)
	}

	sess.AddUserMessage(message)
	if path != "" {
		_ = transcript.AppendUserMessage(path, message)
	}

	output, err := runOnce(ctx, r.llm, sess, toolReg, 0)
	if err != nil {
		_ = r.registry.MarkFailed(worker, err)
		return err
	}
	if path != "" && output != "" {
		_ = transcript.AppendAssistantText(path, output)
	}
	return r.registry.MarkComplete(worker, output, tokens.EstimateString(output))
}

// ResetContext implements conductor.ContextResetter: the worker's in-memory
// session is cleared, leaving its registry entry and transcript history
// untouched.
func (r *SubagentRunner) ResetContext(_ context.Context, worker string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[worker]
	if !ok {
		return fmt.Errorf("subagent: unknown worker %q", worker)
	}
	sess.Reset()
	return nil
}
