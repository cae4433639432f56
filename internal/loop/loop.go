// Package loop implements the consciousness loop: a single long-running
// consumer of a priority event queue that owns all mutation of session,
// tool, and LLM state for one agent. Producers push events from the front
// end, tool tasks, the LLM streaming task, and peer layers; exactly one
// goroutine (Run) ever touches the owned state.
package loop

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/noema-systems/noema/internal/session"
	"github.com/noema-systems/noema/internal/toolcontract"
	"github.com/noema-systems/noema/pkg/broadcast"
)

// DefaultMaxToolIterations caps tool-call iterations within a single turn.
const DefaultMaxToolIterations = 25

// activeTool tracks one in-flight tool task so Park can cancel it exactly
// once.
type activeTool struct {
	cancel   context.CancelFunc
	cancelCh chan struct{}
	name     string
	once     sync.Once
}

func (a *activeTool) park() {
	a.once.Do(func() {
		close(a.cancelCh)
		a.cancel()
	})
}

// Loop is the consciousness loop scheduler for one session.
type Loop struct {
	sess  *session.Session
	tools toolcontract.Tool
	llm   LLMClient
	queue *Queue
	out   *broadcast.Broadcaster[OutputEvent]

	maxToolIterations int

	activeMu  sync.Mutex
	active    map[string]*activeTool
	turnCalls int

	llmMu            sync.Mutex
	llmCancel        context.CancelFunc
	currentRequestID string

	pendingInjections []string
}

// Config configures a Loop.
type Config struct {
	Session           *session.Session
	Tools             toolcontract.Tool
	LLM               LLMClient
	MaxToolIterations int
	BroadcastCapacity int
}

// New builds a Loop ready to Run.
func New(cfg Config) *Loop {
	maxIter := cfg.MaxToolIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxToolIterations
	}
	bufCap := cfg.BroadcastCapacity
	if bufCap <= 0 {
		bufCap = 64
	}
	return &Loop{
		sess:              cfg.Session,
		tools:             cfg.Tools,
		llm:               cfg.LLM,
		queue:             NewQueue(),
		out:               broadcast.New[OutputEvent](bufCap),
		maxToolIterations: maxIter,
		active:            make(map[string]*activeTool),
	}
}

// Push enqueues an event from any producer.
func (l *Loop) Push(ev Event) {
	l.queue.Push(ev)
}

// Subscribe registers a new output-event subscriber.
func (l *Loop) Subscribe() (int, <-chan OutputEvent) {
	return l.out.Subscribe()
}

// Unsubscribe releases an output-event subscriber.
func (l *Loop) Unsubscribe(id int) {
	l.out.Unsubscribe(id)
}

func (l *Loop) emit(ev OutputEvent) {
	l.out.Publish(ev)
}

// Run consumes events until ctx is cancelled or a Shutdown event is
// processed. It returns nil on a clean shutdown.
func (l *Loop) Run(ctx context.Context) error {
	for {
		ev, err := l.queue.Next(ctx)
		if err != nil {
			l.shutdown()
			return nil
		}

		switch ev.Kind {
		case EventHumanMessage, EventCascadeDelta:
			l.handleHumanMessage(ctx, ev.Text)
		case EventInjection:
			l.pendingInjections = append(l.pendingInjections, ev.Injection)
		case EventToolResult:
			l.handleToolResult(ctx, ev.ToolResult)
		case EventLLMComplete:
			l.handleLLMComplete(ctx, ev.LLMComplete)
		case EventShutdown:
			l.shutdown()
			return nil
		}
	}
}

// handleHumanMessage implements the human preemption protocol: park
// running tools, cancel any in-flight LLM stream, reset per-turn counters,
// append the message, and either sleep or start a fresh LLM call.
func (l *Loop) handleHumanMessage(ctx context.Context, text string) {
	l.parkAllTools()
	l.cancelLLM()
	l.resetTurnCounter()

	shouldSleep := l.sess.AddUserMessage(text)
	if shouldSleep {
		l.emit(OutputEvent{Kind: OutSleep, TokenCount: l.sess.TokenCount()})
		l.emit(OutputEvent{Kind: OutDone})
		return
	}

	l.startLLMCall(ctx)
}

func (l *Loop) parkAllTools() {
	l.activeMu.Lock()
	tools := l.active
	l.active = make(map[string]*activeTool)
	l.activeMu.Unlock()

	for id, t := range tools {
		t.park()
		l.emit(OutputEvent{Kind: OutToolParked, ToolUseID: id, ToolName: t.name})
	}
}

func (l *Loop) cancelLLM() {
	l.llmMu.Lock()
	defer l.llmMu.Unlock()
	if l.llmCancel != nil {
		l.llmCancel()
		l.llmCancel = nil
	}
	l.currentRequestID = ""
}

func (l *Loop) resetTurnCounter() {
	l.activeMu.Lock()
	l.turnCalls = 0
	l.activeMu.Unlock()
}

// handleToolResult appends a finished tool's output to the session and,
// once every active tool has finished and no LLM call is in flight, starts
// the next one.
func (l *Loop) handleToolResult(ctx context.Context, ev *ToolResultEvent) {
	if ev == nil {
		return
	}

	l.activeMu.Lock()
	_, wasActive := l.active[ev.ToolUseID]
	delete(l.active, ev.ToolUseID)
	remaining := len(l.active)
	l.activeMu.Unlock()
	if !wasActive {
		// Parked or already resolved; its output is stale.
		return
	}

	_ = l.sess.AddToolResult(ev.ToolUseID, ev.Result.Content, ev.Result.IsError)
	l.emit(OutputEvent{Kind: OutToolResult, ToolUseID: ev.ToolUseID, Text: ev.Result.Content, Err: errIf(ev.Result.IsError, ev.Result.Content)})

	l.llmMu.Lock()
	llmInFlight := l.currentRequestID != ""
	l.llmMu.Unlock()

	if remaining == 0 && !llmInFlight {
		l.startLLMCall(ctx)
	}
}

func errIf(isErr bool, msg string) error {
	if !isErr {
		return nil
	}
	return fmt.Errorf("%s", msg)
}

// handleLLMComplete applies the stale-request-id guard, then either ends
// the turn or dispatches the requested tool calls.
func (l *Loop) handleLLMComplete(ctx context.Context, ev *LLMCompleteEvent) {
	if ev == nil {
		return
	}

	l.llmMu.Lock()
	if ev.RequestID != l.currentRequestID {
		l.llmMu.Unlock()
		return // stale response
	}
	l.currentRequestID = ""
	l.llmMu.Unlock()

	if ev.Err != nil {
		l.emit(OutputEvent{Kind: OutError, Err: ev.Err})
		l.emit(OutputEvent{Kind: OutDone})
		return
	}

	blocks := make([]session.Block, 0, len(ev.ToolCalls))
	for _, tc := range ev.ToolCalls {
		blocks = append(blocks, session.Block{
			Kind:      session.BlockToolUse,
			ToolUseID: tc.ID,
			ToolName:  tc.Name,
			ToolInput: tc.Input,
		})
	}
	if len(ev.ToolCalls) > 0 {
		_ = l.sess.AddAssistantWithTools(ev.Text, blocks)
	} else {
		l.sess.AddAssistantText(ev.Text)
		l.emit(OutputEvent{Kind: OutDone})
		return
	}

	l.activeMu.Lock()
	l.turnCalls += len(ev.ToolCalls)
	overrun := l.turnCalls > l.maxToolIterations
	l.activeMu.Unlock()
	if overrun {
		l.emit(OutputEvent{Kind: OutError, Err: fmt.Errorf("max tool iterations exceeded")})
		l.emit(OutputEvent{Kind: OutDone})
		return
	}

	for _, tc := range ev.ToolCalls {
		l.dispatchTool(ctx, tc)
	}
}

// dispatchTool spawns one task per tool call. Each task owns a cancel
// token in the active-tool table keyed by tool-use id, and reports its
// result back onto the queue so it is applied on the loop's own goroutine.
func (l *Loop) dispatchTool(ctx context.Context, call ToolCallRequest) {
	taskCtx, cancel := context.WithCancel(ctx)
	at := &activeTool{cancel: cancel, cancelCh: make(chan struct{}), name: call.Name}

	l.activeMu.Lock()
	l.active[call.ID] = at
	l.activeMu.Unlock()

	l.emit(OutputEvent{Kind: OutToolCall, ToolUseID: call.ID, ToolName: call.Name})
	l.emit(OutputEvent{Kind: OutToolExecuting, ToolUseID: call.ID, ToolName: call.Name})

	go func() {
		res, err := l.tools.ExecuteCancellable(taskCtx, call.Name, call.Input, at.cancelCh)
		if err != nil {
			res = toolcontract.ErrorResult(err)
		}
		l.queue.Push(NewToolResult(call.ID, res))
	}()
}

// startLLMCall builds a request from current session state plus any
// buffered injections, then spawns the streaming side task.
func (l *Loop) startLLMCall(ctx context.Context) {
	req := Request{
		Messages: l.buildRequestMessages(),
		Tools:    l.tools.Definitions(),
		System:   l.sess.SystemPrompt(),
		Model:    l.sess.Model(),
	}
	l.pendingInjections = nil

	requestID := uuid.NewString()
	callCtx, cancel := context.WithCancel(ctx)

	l.llmMu.Lock()
	l.llmCancel = cancel
	l.currentRequestID = requestID
	l.llmMu.Unlock()

	chunks, err := l.llm.Stream(callCtx, req)
	if err != nil {
		cancel()
		l.queue.Push(NewLLMComplete(LLMCompleteEvent{RequestID: requestID, Err: err}))
		return
	}

	go l.pumpStream(requestID, chunks)
}

// buildRequestMessages folds pending injections onto the end of the
// session's message history without persisting them; an injection affects
// only the next call, never a call already in flight.
func (l *Loop) buildRequestMessages() []session.Message {
	msgs := l.sess.Messages()
	if len(l.pendingInjections) == 0 {
		return msgs
	}
	out := make([]session.Message, len(msgs), len(msgs)+len(l.pendingInjections))
	copy(out, msgs)
	for _, inj := range l.pendingInjections {
		out = append(out, session.Message{Role: session.RoleUser, PlainText: inj})
	}
	return out
}

// pumpStream forwards chunks as output events, accumulating text and tool
// calls, and posts the terminal LLMComplete event back onto the queue.
func (l *Loop) pumpStream(requestID string, chunks <-chan StreamChunk) {
	var text string
	var toolCalls []ToolCallRequest
	toolIndex := make(map[string]int)
	var stopReason string
	var streamErr error

	for chunk := range chunks {
		switch {
		case chunk.Err != nil:
			streamErr = chunk.Err
		case chunk.Thinking != "":
			l.emit(OutputEvent{Kind: OutThinking, Text: chunk.Thinking})
		case chunk.ToolCallStart != nil:
			toolIndex[chunk.ToolCallStart.ID] = len(toolCalls)
			toolCalls = append(toolCalls, *chunk.ToolCallStart)
			l.emit(OutputEvent{Kind: OutToolCall, ToolUseID: chunk.ToolCallStart.ID, ToolName: chunk.ToolCallStart.Name})
		case chunk.ToolCallDelta != nil:
			if idx, ok := toolIndex[chunk.ToolCallDelta.ToolUseID]; ok {
				toolCalls[idx].Input = append(toolCalls[idx].Input, []byte(chunk.ToolCallDelta.Delta)...)
			}
			l.emit(OutputEvent{Kind: OutToolCallDelta, ToolUseID: chunk.ToolCallDelta.ToolUseID, Text: chunk.ToolCallDelta.Delta})
		case chunk.ToolCallEnd != "":
			// argument accumulation already complete via deltas
		case chunk.Text != "":
			text += chunk.Text
			l.emit(OutputEvent{Kind: OutDelta, Text: chunk.Text})
		}
		if chunk.StopReason != "" {
			stopReason = chunk.StopReason
		}
		if chunk.Done {
			break
		}
	}

	l.queue.Push(NewLLMComplete(LLMCompleteEvent{
		RequestID:  requestID,
		Text:       text,
		ToolCalls:  toolCalls,
		StopReason: stopReason,
		Err:        streamErr,
	}))
}

func (l *Loop) shutdown() {
	l.parkAllTools()
	l.cancelLLM()
}
