package loop

import (
	"context"
	"fmt"
	"sync"

	"github.com/noema-systems/noema/internal/session"
	"github.com/noema-systems/noema/internal/toolcontract"
)

// SteeringMessage interrupts a SteeringLoop mid-turn. It is delivered
// between tool executions rather than waiting for the turn to end.
type SteeringMessage struct {
	Content string
	// SkipRemainingTools, when true, abandons the rest of the current
	// tool batch once this message is delivered.
	SkipRemainingTools bool
}

// FollowUpMessage is queued for processing after the current turn would
// otherwise have stopped naturally.
type FollowUpMessage struct {
	Content string
}

// SteeringMode controls how many queued steering messages are delivered at
// the next interruption point.
type SteeringMode string

const (
	SteeringModeOneAtATime SteeringMode = "one-at-a-time"
	SteeringModeAll        SteeringMode = "all"
)

// FollowUpMode controls how many queued follow-up messages are delivered
// at the next natural stop.
type FollowUpMode string

const (
	FollowUpModeOneAtATime FollowUpMode = "one-at-a-time"
	FollowUpModeAll        FollowUpMode = "all"
)

// SteeringQueue holds steering and follow-up messages for a SteeringLoop.
// Safe for concurrent use: producers call Steer/FollowUp from any
// goroutine, the loop drains them between its own steps.
type SteeringQueue struct {
	mu sync.Mutex

	steering []*SteeringMessage
	followUp []*FollowUpMessage

	steeringMode SteeringMode
	followUpMode FollowUpMode
}

// NewSteeringQueue returns a queue with one-at-a-time delivery for both
// steering and follow-up messages.
func NewSteeringQueue() *SteeringQueue {
	return &SteeringQueue{steeringMode: SteeringModeOneAtATime, followUpMode: FollowUpModeOneAtATime}
}

func (q *SteeringQueue) SetSteeringMode(mode SteeringMode) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.steeringMode = mode
}

func (q *SteeringQueue) SetFollowUpMode(mode FollowUpMode) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.followUpMode = mode
}

// Steer queues a message to interrupt the loop between tool executions.
func (q *SteeringQueue) Steer(msg *SteeringMessage) {
	if msg == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.steering = append(q.steering, msg)
}

// FollowUp queues a message to process once the current turn would
// otherwise stop.
func (q *SteeringQueue) FollowUp(msg *FollowUpMessage) {
	if msg == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.followUp = append(q.followUp, msg)
}

func (q *SteeringQueue) drainSteering() []*SteeringMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.steering) == 0 {
		return nil
	}
	if q.steeringMode == SteeringModeAll {
		msgs := q.steering
		q.steering = nil
		return msgs
	}
	msg := q.steering[0]
	q.steering = q.steering[1:]
	return []*SteeringMessage{msg}
}

func (q *SteeringQueue) drainFollowUp() []*FollowUpMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.followUp) == 0 {
		return nil
	}
	if q.followUpMode == FollowUpModeAll {
		msgs := q.followUp
		q.followUp = nil
		return msgs
	}
	msg := q.followUp[0]
	q.followUp = q.followUp[1:]
	return []*FollowUpMessage{msg}
}

// SteeringLoop is the alternative inner+outer turn runtime: a synchronous
// stream-then-execute-tools loop, interrupted by a steering queue between
// tool executions and continued by a follow-up queue after a natural
// stop. It speaks the same OutputEvent vocabulary as Loop.
type SteeringLoop struct {
	sess  *session.Session
	tools toolcontract.Tool
	llm   LLMClient
	queue *SteeringQueue

	emit func(OutputEvent)

	maxToolIterations int
}

// NewSteeringLoop builds a SteeringLoop sharing the emit callback so both
// runtimes can feed the same broadcaster.
func NewSteeringLoop(sess *session.Session, tools toolcontract.Tool, llm LLMClient, queue *SteeringQueue, emit func(OutputEvent)) *SteeringLoop {
	if queue == nil {
		queue = NewSteeringQueue()
	}
	return &SteeringLoop{sess: sess, tools: tools, llm: llm, queue: queue, emit: emit, maxToolIterations: DefaultMaxToolIterations}
}

// RunTurn drives one human turn to completion: stream, execute tools
// (checking for steering between each), and repeat until the model stops
// without requesting tools, at which point queued follow-ups are drained
// and the turn continues, or the turn ends.
func (l *SteeringLoop) RunTurn(ctx context.Context, humanText string) {
	shouldSleep := l.sess.AddUserMessage(humanText)
	if shouldSleep {
		l.emit(OutputEvent{Kind: OutSleep, TokenCount: l.sess.TokenCount()})
		l.emit(OutputEvent{Kind: OutDone})
		return
	}

	iterations := 0
	for {
		text, toolCalls, err := l.streamOnce(ctx)
		if err != nil {
			l.emit(OutputEvent{Kind: OutError, Err: err})
			l.emit(OutputEvent{Kind: OutDone})
			return
		}

		if len(toolCalls) == 0 {
			l.sess.AddAssistantText(text)
			if followUps := l.queue.drainFollowUp(); len(followUps) > 0 {
				for _, f := range followUps {
					l.sess.AddUserMessage(f.Content)
				}
				continue
			}
			l.emit(OutputEvent{Kind: OutDone})
			return
		}

		iterations += len(toolCalls)
		if iterations > l.maxToolIterations {
			l.emit(OutputEvent{Kind: OutError, Err: fmt.Errorf("max tool iterations exceeded")})
			l.emit(OutputEvent{Kind: OutDone})
			return
		}

		blocks := make([]session.Block, 0, len(toolCalls))
		for _, tc := range toolCalls {
			blocks = append(blocks, session.Block{Kind: session.BlockToolUse, ToolUseID: tc.ID, ToolName: tc.Name, ToolInput: tc.Input})
		}
		_ = l.sess.AddAssistantWithTools(text, blocks)

		skipRemaining := l.executeToolsWithSteering(ctx, toolCalls)
		if skipRemaining {
			continue
		}
	}
}

// executeToolsWithSteering runs each tool call in turn, checking the
// steering queue after every one; a steering message with
// SkipRemainingTools abandons the rest of the batch.
func (l *SteeringLoop) executeToolsWithSteering(ctx context.Context, calls []ToolCallRequest) (skipRemaining bool) {
	for _, tc := range calls {
		l.emit(OutputEvent{Kind: OutToolExecuting, ToolUseID: tc.ID, ToolName: tc.Name})
		res, err := l.tools.Execute(ctx, tc.Name, tc.Input)
		if err != nil {
			res = toolcontract.ErrorResult(err)
		}
		_ = l.sess.AddToolResult(tc.ID, res.Content, res.IsError)
		l.emit(OutputEvent{Kind: OutToolResult, ToolUseID: tc.ID, Text: res.Content})

		if steerMsgs := l.queue.drainSteering(); len(steerMsgs) > 0 {
			for _, s := range steerMsgs {
				l.sess.AddUserMessage(s.Content)
				if s.SkipRemainingTools {
					skipRemaining = true
				}
			}
			if skipRemaining {
				return true
			}
		}
	}
	return false
}

// streamOnce runs a single non-cancellable streaming call to completion
// and returns the accumulated text and tool calls.
func (l *SteeringLoop) streamOnce(ctx context.Context) (string, []ToolCallRequest, error) {
	req := Request{
		Messages: l.sess.Messages(),
		Tools:    l.tools.Definitions(),
		System:   l.sess.SystemPrompt(),
		Model:    l.sess.Model(),
	}
	chunks, err := l.llm.Stream(ctx, req)
	if err != nil {
		return "", nil, err
	}

	var text string
	var toolCalls []ToolCallRequest
	toolIndex := make(map[string]int)

	for chunk := range chunks {
		switch {
		case chunk.Err != nil:
			return "", nil, chunk.Err
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
		case chunk.Text != "":
			text += chunk.Text
			l.emit(OutputEvent{Kind: OutDelta, Text: chunk.Text})
		}
		if chunk.Done {
			break
		}
	}

	return text, toolCalls, nil
}
