package toolcontract

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// EchoTool is a reference Handler that echoes its "text" argument back as
// the result content. It never blocks; it returns an error only when its
// arguments do not decode as JSON.
type EchoTool struct{}

type echoArgs struct {
	Text string `json:"text"`
}

func (EchoTool) Definition() ToolDef {
	return ToolDef{
		Name:        "echo",
		Description: "returns its text argument unchanged",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"text": {"type": "string"}},
			"required": ["text"]
		}`),
	}
}

func (EchoTool) Execute(_ context.Context, args json.RawMessage) (Result, error) {
	var a echoArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return Result{}, fmt.Errorf("echo: decode args: %w", err)
	}
	return Result{Content: a.Text}, nil
}

// FlakyTool is a reference CancellableHandler that sleeps for a configured
// duration before returning, deliberately exercising cancellation and
// timeout paths in tests.
type FlakyTool struct {
	// Delay is how long Execute sleeps before returning.
	Delay time.Duration
	// FailAfter, if true, returns an error instead of a result.
	FailAfter bool
}

func (FlakyTool) Definition() ToolDef {
	return ToolDef{
		Name:        "flaky",
		Description: "sleeps before returning, for exercising cancellation",
		InputSchema: json.RawMessage(`{"type": "object"}`),
	}
}

func (f FlakyTool) Execute(ctx context.Context, _ json.RawMessage) (Result, error) {
	select {
	case <-time.After(f.Delay):
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	if f.FailAfter {
		return Result{}, fmt.Errorf("flaky: simulated failure")
	}
	return Result{Content: "done"}, nil
}

func (f FlakyTool) ExecuteCancellable(ctx context.Context, args json.RawMessage, cancel <-chan struct{}) (Result, error) {
	done := make(chan struct {
		res Result
		err error
	}, 1)
	go func() {
		res, err := f.Execute(ctx, args)
		done <- struct {
			res Result
			err error
		}{res, err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-cancel:
		return Result{Content: "cancelled", IsError: true}, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
