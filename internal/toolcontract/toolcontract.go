// Package toolcontract defines the dispatch contract the consciousness loop
// uses to call out to tools, independent of what any given tool actually
// does. It ships no concrete tool bodies beyond two fixtures used by its own
// tests and by other packages' tests.
package toolcontract

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/noema-systems/noema/internal/infra"
)

// MaxResultChars is the point past which a tool result is truncated before
// it is stored in a session.
const MaxResultChars = 50000

// Result is the uniform return shape for any tool call, whether it
// succeeded or failed.
type Result struct {
	Content string
	IsError bool
}

// ErrorResult builds a Result carrying an error marker.
func ErrorResult(err error) Result {
	return Result{Content: err.Error(), IsError: true}
}

// ToolDef describes a tool's calling contract: its name, a human-readable
// description, and a JSON Schema for its input shape.
type ToolDef struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Handler is implemented by a concrete tool. ExecuteCancellable is optional;
// a tool that only implements Handler gets a best-effort cancellation
// wrapper supplied by the Registry.
type Handler interface {
	Definition() ToolDef
	Execute(ctx context.Context, args json.RawMessage) (Result, error)
}

// CancellableHandler is implemented by tools that can react to an explicit
// cancellation signal distinct from ctx.Done, dropping resource handles and
// returning promptly.
type CancellableHandler interface {
	Handler
	ExecuteCancellable(ctx context.Context, args json.RawMessage, cancel <-chan struct{}) (Result, error)
}

// Tool is the contract the consciousness loop consumes. It does not care
// how any individual tool is implemented.
type Tool interface {
	Execute(ctx context.Context, name string, args json.RawMessage) (Result, error)
	ExecuteCancellable(ctx context.Context, name string, args json.RawMessage, cancel <-chan struct{}) (Result, error)
	Definitions() []ToolDef
	List() []string
}

// Registry is the reference implementation of Tool: a name-keyed set of
// Handlers, in registration order.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	order    []string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler under its own declared name. The input schema is
// compiled at registration time as a structural sanity check; a malformed
// schema is rejected here rather than surfacing at first dispatch.
func (r *Registry) Register(h Handler) error {
	def := h.Definition()
	if def.Name == "" {
		return fmt.Errorf("toolcontract: tool definition missing name")
	}
	if len(def.InputSchema) > 0 {
		if _, err := jsonschema.CompileString(def.Name+".schema.json", string(def.InputSchema)); err != nil {
			return fmt.Errorf("toolcontract: compile schema for %q: %w", def.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[def.Name]; exists {
		return fmt.Errorf("toolcontract: tool %q already registered", def.Name)
	}
	r.handlers[def.Name] = h
	r.order = append(r.order, def.Name)
	return nil
}

func (r *Registry) lookup(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("toolcontract: unknown tool %q", name)
	}
	return h, nil
}

// Execute dispatches to the named tool and truncates its result.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (Result, error) {
	h, err := r.lookup(name)
	if err != nil {
		return Result{}, err
	}
	res, err := h.Execute(ctx, args)
	if err != nil {
		return Result{}, err
	}
	res.Content = TruncateResult(res.Content)
	return res, nil
}

// ExecuteCancellable dispatches to the named tool with an explicit
// cancellation channel. Tools that implement CancellableHandler handle it
// themselves; others get a goroutine-and-select wrapper around Execute that
// abandons the call (but cannot reclaim its goroutine) on cancel.
func (r *Registry) ExecuteCancellable(ctx context.Context, name string, args json.RawMessage, cancel <-chan struct{}) (Result, error) {
	h, err := r.lookup(name)
	if err != nil {
		return Result{}, err
	}

	if ch, ok := h.(CancellableHandler); ok {
		res, err := ch.ExecuteCancellable(ctx, args, cancel)
		if err != nil {
			return Result{}, err
		}
		res.Content = TruncateResult(res.Content)
		return res, nil
	}

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := h.Execute(ctx, args)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return Result{}, o.err
		}
		o.res.Content = TruncateResult(o.res.Content)
		return o.res, nil
	case <-cancel:
		return Result{Content: "cancelled", IsError: true}, nil
	case <-ctx.Done():
		return Result{Content: ctx.Err().Error(), IsError: true}, ctx.Err()
	}
}

// Definitions returns every registered tool's definition, in registration
// order.
func (r *Registry) Definitions() []ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDef, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.handlers[name].Definition())
	}
	return defs
}

// List returns every registered tool's name, in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// TruncateResult trims a tool result to MaxResultChars characters (runes),
// leaving a marker naming how many were dropped. Truncation never splits a
// UTF-8 character.
func TruncateResult(content string) string {
	n := infra.RuneCount(content)
	if n <= MaxResultChars {
		return content
	}
	dropped := n - MaxResultChars
	kept := infra.TruncateRunes(content, MaxResultChars)
	return fmt.Sprintf("%s\n... [%d characters omitted] ...", kept, dropped)
}
