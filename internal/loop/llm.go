package loop

import (
	"context"

	"github.com/noema-systems/noema/internal/session"
	"github.com/noema-systems/noema/internal/toolcontract"
)

// Request is what the loop sends to start one streaming call.
type Request struct {
	Messages []session.Message
	Tools    []toolcontract.ToolDef
	System   string
	Model    string
}

// StreamChunk is one delta of a streaming completion. Exactly one of the
// payload fields is meaningful per chunk; Done marks the final chunk, after
// which the channel is closed.
type StreamChunk struct {
	Text          string
	Thinking      string
	ToolCallStart *ToolCallRequest
	ToolCallDelta *ToolCallDeltaChunk
	ToolCallEnd   string // tool-use id whose arguments are now complete
	Done          bool
	StopReason    string
	Err           error
}

// ToolCallDeltaChunk is a partial-argument delta for a tool call still
// being streamed.
type ToolCallDeltaChunk struct {
	ToolUseID string
	Delta     string
}

// LLMClient is the contract the loop consumes to start a streaming call.
// It ships no concrete provider; callers wire in whatever speaks to their
// model API.
type LLMClient interface {
	Stream(ctx context.Context, req Request) (<-chan StreamChunk, error)
}
