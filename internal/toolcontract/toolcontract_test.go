package toolcontract

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestRegistryExecuteEcho(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(EchoTool{}); err != nil {
		t.Fatal(err)
	}

	res, err := r.Execute(context.Background(), "echo", json.RawMessage(`{"text":"hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "hi" || res.IsError {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRegistryRejectsMalformedSchema(t *testing.T) {
	r := NewRegistry()
	bad := badSchemaTool{}
	if err := r.Register(bad); err == nil {
		t.Fatal("expected registration to fail on malformed schema")
	}
}

type badSchemaTool struct{ EchoTool }

func (badSchemaTool) Definition() ToolDef {
	return ToolDef{Name: "bad", InputSchema: json.RawMessage(`{"type": 123}`)}
}

func TestRegistryRejectsDuplicateName(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(EchoTool{}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(EchoTool{}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestExecuteCancellableHonorsCancelSignal(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(FlakyTool{Delay: time.Second}); err != nil {
		t.Fatal(err)
	}

	cancel := make(chan struct{})
	go func() {
		time.Sleep(10 * time.Millisecond)
		close(cancel)
	}()

	res, err := r.ExecuteCancellable(context.Background(), "flaky", nil, cancel)
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || res.Content != "cancelled" {
		t.Fatalf("expected cancelled result, got %+v", res)
	}
}

func TestExecuteCancellableReturnsResultWhenFasterThanCancel(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(FlakyTool{Delay: time.Millisecond}); err != nil {
		t.Fatal(err)
	}

	cancel := make(chan struct{})
	res, err := r.ExecuteCancellable(context.Background(), "flaky", nil, cancel)
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "done" {
		t.Fatalf("expected done, got %+v", res)
	}
}

func TestDefinitionsAndListPreserveOrder(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(EchoTool{})
	_ = r.Register(FlakyTool{})

	names := r.List()
	if len(names) != 2 || names[0] != "echo" || names[1] != "flaky" {
		t.Fatalf("unexpected order: %v", names)
	}
	defs := r.Definitions()
	if len(defs) != 2 || defs[0].Name != "echo" {
		t.Fatalf("unexpected definitions: %+v", defs)
	}
}

func TestTruncateResultMarksDroppedChars(t *testing.T) {
	long := strings.Repeat("a", MaxResultChars+100)
	out := TruncateResult(long)
	if !strings.Contains(out, "characters omitted") {
		t.Fatal("expected omitted marker")
	}
	if len(out) >= len(long) {
		t.Fatal("expected output shorter than input")
	}
}

func TestTruncateResultLeavesShortContentAlone(t *testing.T) {
	short := "hello"
	if got := TruncateResult(short); got != short {
		t.Fatalf("expected untouched, got %q", got)
	}
}
