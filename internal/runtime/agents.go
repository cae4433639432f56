// Package runtime wires the session store, layer stack, dual-core pair,
// subagent registry, and conductor into one running process against a
// shared LLM client. Nothing here is exported to the loop/layerstack/
// dualcore packages themselves, which stay provider-agnostic; runtime is
// the concrete seam where a real model meets the stack's contracts.
package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noema-systems/noema/internal/dualcore"
	"github.com/noema-systems/noema/internal/loop"
	"github.com/noema-systems/noema/internal/session"
	"github.com/noema-systems/noema/internal/tokens"
	"github.com/noema-systems/noema/internal/toolcontract"
	"github.com/noema-systems/noema/internal/transcript"
)

// runOnce drives a single non-streaming-to-the-user completion to
// completion against llm, executing any tool calls the model makes and
// feeding their results back until the model stops calling tools or
// maxIterations is reached. It mirrors the loop package's own streamOnce
// shape, minus the broadcast/steering plumbing a headless layer has no use
// for.
func runOnce(ctx context.Context, llm loop.LLMClient, sess *session.Session, tools toolcontract.Tool, maxIterations int) (string, error) {
	if maxIterations <= 0 {
		maxIterations = loop.DefaultMaxToolIterations
	}

	var final string
	for i := 0; i < maxIterations; i++ {
		text, calls, err := streamToText(ctx, llm, sess)
		if err != nil {
			return "", err
		}
		final = text

		if len(calls) == 0 {
			sess.AddAssistantText(text)
			return final, nil
		}

		blocks := make([]session.Block, 0, len(calls))
		for _, c := range calls {
			blocks = append(blocks, session.Block{Kind: session.BlockToolUse, ToolUseID: c.ID, ToolName: c.Name, ToolInput: c.Input})
		}
		if err := sess.AddAssistantWithTools(text, blocks); err != nil {
			return "", err
		}

		for _, c := range calls {
			res, err := tools.Execute(ctx, c.Name, c.Input)
			if err != nil {
				res = toolcontract.ErrorResult(err)
			}
			if err := sess.AddToolResult(c.ID, res.Content, res.IsError); err != nil {
				return "", err
			}
		}
	}
	return final, nil
}

func streamToText(ctx context.Context, llm loop.LLMClient, sess *session.Session) (string, []loop.ToolCallRequest, error) {
	req := loop.Request{
		Messages: sess.Messages(),
		System:   sess.SystemPrompt(),
		Model:    sess.Model(),
	}
	chunks, err := llm.Stream(ctx, req)
	if err != nil {
		return "", nil, err
	}

	var text strings.Builder
	var calls []loop.ToolCallRequest
	index := make(map[string]int)

	for chunk := range chunks {
		switch {
		case chunk.Err != nil:
			return "", nil, chunk.Err
		case chunk.ToolCallStart != nil:
			index[chunk.ToolCallStart.ID] = len(calls)
			calls = append(calls, *chunk.ToolCallStart)
		case chunk.ToolCallDelta != nil:
			if idx, ok := index[chunk.ToolCallDelta.ToolUseID]; ok {
				calls[idx].Input = append(calls[idx].Input, []byte(chunk.ToolCallDelta.Delta)...)
			}
		case chunk.Text != "":
			text.WriteString(chunk.Text)
		}
		if chunk.Done {
			break
		}
	}
	return text.String(), calls, nil
}

// LayerAgent implements layerstack.TurnRunner for one inner layer (L1-L3):
// each observed delta from the layer below is appended to the layer's own
// session as a human-priority turn, run to completion, and the result
// appended to the layer's own transcript. Each layer keeps its own session
// and tool registry, since each runs against its own workspace directory.
type LayerAgent struct {
	LLM            loop.LLMClient
	Tools          map[int]toolcontract.Tool
	Sessions       map[int]*session.Session
	TranscriptPath map[int]string
	MaxIterations  int
}

// RunTurn implements layerstack.TurnRunner.
func (a *LayerAgent) RunTurn(ctx context.Context, layer int, delta string) (string, error) {
	sess, ok := a.Sessions[layer]
	if !ok {
		return "", fmt.Errorf("runtime: no session configured for layer %d", layer)
	}
	layerTools, ok := a.Tools[layer]
	if !ok {
		layerTools = toolcontract.NewRegistry()
	}
	path := a.TranscriptPath[layer]

	sess.AddUserMessage(delta)
	if path != "" {
		_ = transcript.AppendTurnStart(path, time.Now(), transcript.TurnAnnotations{Model: sess.Model()})
		_ = transcript.AppendUserMessage(path, delta)
	}

	output, err := runOnce(ctx, a.LLM, sess, layerTools, a.MaxIterations)
	if err != nil {
		return "", err
	}
	if path != "" && output != "" {
		_ = transcript.AppendAssistantText(path, output)
	}
	return output, nil
}

// GatewayInjector implements layerstack.Injector by pushing a peer layer's
// correlated output onto the gateway loop's event queue as an injection,
// folded into the gateway's next LLM request rather than the in-flight one.
type GatewayInjector struct {
	Gateway *loop.Loop
}

// Inject implements layerstack.Injector.
func (g *GatewayInjector) Inject(_ context.Context, layer int, text string) error {
	g.Gateway.Push(loop.NewInjection(fmt.Sprintf("[L%d] %s", layer, text)))
	return nil
}

// DualCoreSampler implements dualcore.Sampler: each sample is one bounded
// completion against the core's own session, seeded with the tail of L3's
// latest delta, with the result appended to the core's own transcript.
type DualCoreSampler struct {
	LLM            loop.LLMClient
	Tools          map[dualcore.CoreID]toolcontract.Tool
	Sessions       map[dualcore.CoreID]*session.Session
	TranscriptPath map[dualcore.CoreID]string
	MaxIterations  int
}

// Sample implements dualcore.Sampler.
func (d *DualCoreSampler) Sample(ctx context.Context, core dualcore.CoreID, tail string) (string, error) {
	sess, ok := d.Sessions[core]
	if !ok {
		return "", fmt.Errorf("runtime: no session configured for core %s", core)
	}
	coreTools, ok := d.Tools[core]
	if !ok {
		coreTools = toolcontract.NewRegistry()
	}
	path := d.TranscriptPath[core]

	sess.AddUserMessage(tail)
	if path != "" {
		_ = transcript.AppendTurnStart(path, time.Now(), transcript.TurnAnnotations{Model: sess.Model()})
		_ = transcript.AppendUserMessage(path, tail)
	}

	output, err := runOnce(ctx, d.LLM, sess, coreTools, d.MaxIterations)
	if err != nil {
		return "", err
	}
	if path != "" && output != "" {
		_ = transcript.AppendAssistantText(path, output)
	}
	return output, nil
}

// TextSummarizer implements tokens.Summarizer against a single LLM call:
// the chunk contents are joined into one user turn and instructions become
// the system prompt, on a throwaway session that never touches a
// transcript.
type TextSummarizer struct {
	LLM   loop.LLMClient
	Model string
}

// Summarize implements tokens.Summarizer.
func (t *TextSummarizer) Summarize(ctx context.Context, chunks []tokens.Chunk, instructions string) (string, error) {
	var body strings.Builder
	for i, c := range chunks {
		if i > 0 {
			body.WriteString("\n\n")
		}
		body.WriteString(c.Content)
	}

	sess := session.New(session.Config{Model: t.Model, SystemPrompt: instructions})
	sess.AddUserMessage(body.String())
	return runOnce(ctx, t.LLM, sess, toolcontract.NewRegistry(), 1)
}

// newSessionID returns a fresh identifier for a session that has no
// natural external one (an inner layer or core's own session, as opposed
// to a gateway session resumed from a CLI flag).
func newSessionID() string {
	return uuid.NewString()
}
