package runtime

import (
	"context"
	"testing"

	"github.com/noema-systems/noema/internal/dualcore"
	"github.com/noema-systems/noema/internal/loop"
	"github.com/noema-systems/noema/internal/session"
	"github.com/noema-systems/noema/internal/tokens"
	"github.com/noema-systems/noema/internal/toolcontract"
)

// fakeLLM replays a scripted sequence of responses, one per Stream call,
// mirroring the loop package's own test fake.
type fakeLLM struct {
	responses [][]loop.StreamChunk
	calls     int
}

func (f *fakeLLM) Stream(_ context.Context, _ loop.Request) (<-chan loop.StreamChunk, error) {
	idx := f.calls
	f.calls++
	ch := make(chan loop.StreamChunk, len(f.responses[idx])+1)
	for _, c := range f.responses[idx] {
		ch <- c
	}
	ch <- loop.StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

func TestRunOnceNoToolCallsReturnsText(t *testing.T) {
	llm := &fakeLLM{responses: [][]loop.StreamChunk{
		{{Text: "hello there"}},
	}}
	sess := session.New(session.Config{Model: "test-model"})
	sess.AddUserMessage("hi")

	out, err := runOnce(context.Background(), llm, sess, toolcontract.NewRegistry(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if out != "hello there" {
		t.Fatalf("got %q, want %q", out, "hello there")
	}
	if llm.calls != 1 {
		t.Fatalf("expected 1 llm call, got %d", llm.calls)
	}
}

func TestRunOnceExecutesToolCallThenReturnsFollowup(t *testing.T) {
	reg := toolcontract.NewRegistry()
	if err := reg.Register(toolcontract.EchoTool{}); err != nil {
		t.Fatal(err)
	}

	llm := &fakeLLM{responses: [][]loop.StreamChunk{
		{
			{ToolCallStart: &loop.ToolCallRequest{ID: "t1", Name: "echo"}},
			{ToolCallDelta: &loop.ToolCallDeltaChunk{ToolUseID: "t1", Delta: `{"text":"pong"}`}},
		},
		{{Text: "done"}},
	}}

	sess := session.New(session.Config{Model: "test-model"})
	sess.AddUserMessage("ping")

	out, err := runOnce(context.Background(), llm, sess, reg, 5)
	if err != nil {
		t.Fatal(err)
	}
	if out != "done" {
		t.Fatalf("got %q, want %q", out, "done")
	}
	if llm.calls != 2 {
		t.Fatalf("expected 2 llm calls, got %d", llm.calls)
	}
}

func TestLayerAgentRunTurnUnknownLayerErrors(t *testing.T) {
	agent := &LayerAgent{
		LLM:            &fakeLLM{},
		Sessions:       map[int]*session.Session{},
		TranscriptPath: map[int]string{},
	}
	if _, err := agent.RunTurn(context.Background(), 1, "delta"); err == nil {
		t.Fatal("expected error for unconfigured layer")
	}
}

func TestLayerAgentRunTurnAppendsToSession(t *testing.T) {
	llm := &fakeLLM{responses: [][]loop.StreamChunk{{{Text: "observed"}}}}
	sess := session.New(session.Config{Model: "test-model"})
	agent := &LayerAgent{
		LLM:      llm,
		Sessions: map[int]*session.Session{1: sess},
		Tools:    map[int]toolcontract.Tool{},
	}

	out, err := agent.RunTurn(context.Background(), 1, "L0 said something")
	if err != nil {
		t.Fatal(err)
	}
	if out != "observed" {
		t.Fatalf("got %q, want %q", out, "observed")
	}
	if len(sess.Messages()) == 0 {
		t.Fatal("expected messages to be recorded on the layer's session")
	}
}

func TestGatewayInjectorPushesInjectionEvent(t *testing.T) {
	sess := session.New(session.Config{Model: "test-model"})
	reg := toolcontract.NewRegistry()
	gw := loop.New(loop.Config{Session: sess, Tools: reg, LLM: &fakeLLM{}})
	injector := &GatewayInjector{Gateway: gw}

	if err := injector.Inject(context.Background(), 2, "correlated output"); err != nil {
		t.Fatal(err)
	}
}

func TestDualCoreSamplerUnknownCoreErrors(t *testing.T) {
	sampler := &DualCoreSampler{
		LLM:      &fakeLLM{},
		Sessions: map[dualcore.CoreID]*session.Session{},
	}
	if _, err := sampler.Sample(context.Background(), dualcore.CoreA, "tail"); err == nil {
		t.Fatal("expected error for unconfigured core")
	}
}

func TestDualCoreSamplerSamplesAgainstCoreSession(t *testing.T) {
	llm := &fakeLLM{responses: [][]loop.StreamChunk{{{Text: "core output"}}}}
	sess := session.New(session.Config{Model: "test-model"})
	sampler := &DualCoreSampler{
		LLM:      llm,
		Sessions: map[dualcore.CoreID]*session.Session{dualcore.CoreA: sess},
		Tools:    map[dualcore.CoreID]toolcontract.Tool{},
	}

	out, err := sampler.Sample(context.Background(), dualcore.CoreA, "L3 tail")
	if err != nil {
		t.Fatal(err)
	}
	if out != "core output" {
		t.Fatalf("got %q, want %q", out, "core output")
	}
}

func TestTextSummarizerJoinsChunks(t *testing.T) {
	llm := &fakeLLM{responses: [][]loop.StreamChunk{{{Text: "summary"}}}}
	summarizer := &TextSummarizer{LLM: llm, Model: "test-model"}

	out, err := summarizer.Summarize(context.Background(), []tokens.Chunk{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "second"},
	}, "summarize the above")
	if err != nil {
		t.Fatal(err)
	}
	if out != "summary" {
		t.Fatalf("got %q, want %q", out, "summary")
	}
}

func TestNewSessionIDIsNonEmptyAndUnique(t *testing.T) {
	a := newSessionID()
	b := newSessionID()
	if a == "" || b == "" {
		t.Fatal("expected non-empty session ids")
	}
	if a == b {
		t.Fatal("expected distinct session ids")
	}
}
