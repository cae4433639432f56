package loop

import "github.com/noema-systems/noema/internal/toolcontract"

// Priority orders events on the queue. Higher values are served first.
type Priority int

const (
	PriorityNormal Priority = 0
	PriorityHuman  Priority = 10
	PrioritySystem Priority = 20
)

// EventKind discriminates the queue's event union.
type EventKind string

const (
	EventHumanMessage EventKind = "human_message"
	EventCascadeDelta EventKind = "cascade_delta"
	EventInjection    EventKind = "injection"
	EventToolResult   EventKind = "tool_result"
	EventLLMComplete  EventKind = "llm_complete"
	EventShutdown     EventKind = "shutdown"
)

// Event is the single type pushed onto the consciousness loop's queue. Only
// the fields relevant to Kind are populated.
type Event struct {
	Kind     EventKind
	Priority Priority

	// EventHumanMessage, EventCascadeDelta: external input text.
	Text string

	// EventInjection: text to fold into the next LLM request's context.
	Injection string

	// EventToolResult
	ToolResult *ToolResultEvent

	// EventLLMComplete
	LLMComplete *LLMCompleteEvent
}

// ToolResultEvent carries one tool's completed (or failed) execution back
// onto the queue.
type ToolResultEvent struct {
	ToolUseID string
	Result    toolcontract.Result
}

// LLMCompleteEvent is posted by the streaming side task when a call ends
// naturally. RequestID lets the loop discard stale completions from a call
// it has already cancelled.
type LLMCompleteEvent struct {
	RequestID  string
	Text       string
	ToolCalls  []ToolCallRequest
	StopReason string
	Err        error
}

// ToolCallRequest is one tool invocation the model asked for.
type ToolCallRequest struct {
	ID    string
	Name  string
	Input []byte
}

// NewHumanMessage builds a Human-priority event for externally supplied
// input.
func NewHumanMessage(text string) Event {
	return Event{Kind: EventHumanMessage, Priority: PriorityHuman, Text: text}
}

// NewCascadeDelta builds a Human-priority event for a peer layer's observed
// delta; the loop treats it identically to a human message.
func NewCascadeDelta(text string) Event {
	return Event{Kind: EventCascadeDelta, Priority: PriorityHuman, Text: text}
}

// NewInjection builds a Normal-priority event carrying text to be folded
// into the next LLM request, not the current in-flight one.
func NewInjection(text string) Event {
	return Event{Kind: EventInjection, Priority: PriorityNormal, Injection: text}
}

// NewToolResult builds a Normal-priority event for a finished tool call.
func NewToolResult(toolUseID string, res toolcontract.Result) Event {
	return Event{Kind: EventToolResult, Priority: PriorityNormal, ToolResult: &ToolResultEvent{ToolUseID: toolUseID, Result: res}}
}

// NewLLMComplete builds a Normal-priority event for a finished (or failed)
// streaming call.
func NewLLMComplete(ev LLMCompleteEvent) Event {
	return Event{Kind: EventLLMComplete, Priority: PriorityNormal, LLMComplete: &ev}
}

// NewShutdown builds a System-priority event that stops the loop.
func NewShutdown() Event {
	return Event{Kind: EventShutdown, Priority: PrioritySystem}
}

// OutputKind discriminates the broadcast output event union.
type OutputKind string

const (
	OutDelta         OutputKind = "delta"
	OutThinking      OutputKind = "thinking"
	OutToolCall      OutputKind = "tool_call"
	OutToolCallDelta OutputKind = "tool_call_delta"
	OutToolExecuting OutputKind = "tool_executing"
	OutToolResult    OutputKind = "tool_result"
	OutToolParked    OutputKind = "tool_parked"
	OutDone          OutputKind = "done"
	OutError         OutputKind = "error"
	OutSleep         OutputKind = "sleep"
	OutCtxUpdate     OutputKind = "ctx_update"
)

// OutputEvent is broadcast to front-end subscribers. Its kinds are their
// own vocabulary (stream deltas, tool lifecycle, done/error/sleep), not a
// copy of the queue's EventKind set.
type OutputEvent struct {
	Kind       OutputKind
	Text       string
	ToolUseID  string
	ToolName   string
	Err        error
	TokenCount int
}
