// Package session holds the in-memory conversation state for one agent
// turn loop: the message list, token budget, and sleep-threshold check that
// gate when a layer must distill and reset.
package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/noema-systems/noema/internal/tokens"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// BlockKind discriminates the Block sum type.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockToolUse    BlockKind = "tool_use"
	BlockToolResult BlockKind = "tool_result"
)

// Block is one entry of a structured Message body. Exactly the fields for
// its Kind are meaningful; the rest are zero.
type Block struct {
	Kind BlockKind

	// BlockText
	Text string

	// BlockToolUse
	ToolUseID string
	ToolName  string
	ToolInput json.RawMessage

	// BlockToolResult
	ToolResultForID string
	ToolResultText  string
	ToolResultError bool
}

func (b Block) clone() Block {
	clone := b
	if b.ToolInput != nil {
		clone.ToolInput = append(json.RawMessage{}, b.ToolInput...)
	}
	return clone
}

// Message is either plain text or a sequence of structured Blocks, never
// both. Use Text() to read back a flat string for either representation.
type Message struct {
	Role      Role
	PlainText string
	Blocks    []Block
	CreatedAt time.Time
}

// IsStructured reports whether the message carries Blocks rather than plain text.
func (m Message) IsStructured() bool {
	return m.Blocks != nil
}

// Text flattens a message to a single string, concatenating block text for
// structured messages.
func (m Message) Text() string {
	if !m.IsStructured() {
		return m.PlainText
	}
	var out string
	for _, b := range m.Blocks {
		if b.Kind == BlockText {
			out += b.Text
		}
	}
	return out
}

func (m Message) clone() Message {
	clone := m
	if m.Blocks != nil {
		clone.Blocks = make([]Block, len(m.Blocks))
		for i, b := range m.Blocks {
			clone.Blocks[i] = b.clone()
		}
	}
	return clone
}

// Config controls sleep-threshold behavior.
type Config struct {
	Model             string
	SystemPrompt      string
	SleepThresholdPct float64 // fraction of the context window, e.g. 0.85
}

// DefaultSleepThresholdPct is used when Config.SleepThresholdPct is unset.
const DefaultSleepThresholdPct = 0.85

// Session is the mutable message list and token budget for one agent turn
// loop. All mutators are safe for concurrent use; reads clone their result
// so callers can never observe or corrupt internal slices.
type Session struct {
	mu sync.RWMutex

	model             string
	systemPrompt      string
	sleepThresholdPct float64

	messages []Message
	budget   tokens.Budget
	aborted  bool
}

// New creates a Session for the given config.
func New(cfg Config) *Session {
	pct := cfg.SleepThresholdPct
	if pct <= 0 || pct > 1 {
		pct = DefaultSleepThresholdPct
	}
	return &Session{
		model:             cfg.Model,
		systemPrompt:      cfg.SystemPrompt,
		sleepThresholdPct: pct,
		budget:            tokens.NewBudget(cfg.Model),
	}
}

func (s *Session) appendLocked(msg Message) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.messages = append(s.messages, msg)
	s.budget.Used += tokens.EstimateString(msg.Text())
}

// AddUserMessage appends a plain-text user turn and reports whether the
// session has crossed its sleep threshold and should be distilled before
// continuing.
func (s *Session) AddUserMessage(text string) (shouldSleep bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.appendLocked(Message{Role: RoleUser, PlainText: text})
	return s.budget.UsedPercent() >= s.sleepThresholdPct || s.budget.BelowFloor()
}

// AddAssistantText appends a plain-text assistant turn (no tool calls).
func (s *Session) AddAssistantText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(Message{Role: RoleAssistant, PlainText: text})
}

// AddAssistantWithTools appends a structured assistant turn consisting of an
// optional lead text block followed by one or more tool_use blocks. Every
// ToolUseID in toolUses must be unique within the call.
func (s *Session) AddAssistantWithTools(text string, toolUses []Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(toolUses))
	var blocks []Block
	if text != "" {
		blocks = append(blocks, Block{Kind: BlockText, Text: text})
	}
	for _, tu := range toolUses {
		if tu.Kind != BlockToolUse {
			return fmt.Errorf("session: block is not tool_use")
		}
		if tu.ToolUseID == "" {
			return fmt.Errorf("session: tool_use block missing id")
		}
		if seen[tu.ToolUseID] {
			return fmt.Errorf("session: duplicate tool_use id %q", tu.ToolUseID)
		}
		seen[tu.ToolUseID] = true
		blocks = append(blocks, tu.clone())
	}
	s.appendLocked(Message{Role: RoleAssistant, Blocks: blocks})
	return nil
}

// AddToolResult appends a tool-result block for toolUseID. If the last
// message is already a user message carrying one or more tool_result
// blocks, the new block is appended to it so every result for one turn
// lands in a single user message; otherwise a new user message is created.
// The message healer enforces that every tool_use eventually gets a
// matching result before the transcript is replayed; this method only
// guards against appending a result for a tool_use id that was never
// requested or already has one, which would violate the no-duplicate-result
// invariant.
func (s *Session) AddToolResult(toolUseID, content string, isError bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasUnresolvedToolUseLocked(toolUseID) {
		return fmt.Errorf("session: no pending tool_use %q to resolve", toolUseID)
	}
	block := Block{
		Kind:            BlockToolResult,
		ToolResultForID: toolUseID,
		ToolResultText:  content,
		ToolResultError: isError,
	}

	if n := len(s.messages); n > 0 {
		last := &s.messages[n-1]
		if last.Role == RoleUser && containsToolResult(last.Blocks) {
			last.Blocks = append(last.Blocks, block)
			s.budget.Used += tokens.EstimateString(content)
			return nil
		}
	}

	s.appendLocked(Message{
		Role:   RoleUser,
		Blocks: []Block{block},
	})
	return nil
}

func containsToolResult(blocks []Block) bool {
	for _, b := range blocks {
		if b.Kind == BlockToolResult {
			return true
		}
	}
	return false
}

func (s *Session) hasUnresolvedToolUseLocked(toolUseID string) bool {
	requested := false
	resolved := false
	for _, m := range s.messages {
		for _, b := range m.Blocks {
			switch b.Kind {
			case BlockToolUse:
				if b.ToolUseID == toolUseID {
					requested = true
				}
			case BlockToolResult:
				if b.ToolResultForID == toolUseID {
					resolved = true
				}
			}
		}
	}
	return requested && !resolved
}

// Messages returns a deep copy of the message list.
func (s *Session) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.clone()
	}
	return out
}

// MessageCount returns the number of messages in the session.
func (s *Session) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// TokenCount returns the estimated token usage of the session so far.
func (s *Session) TokenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.budget.Used
}

// Budget returns a copy of the current token budget.
func (s *Session) Budget() tokens.Budget {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.budget
}

// Model returns the model identifier this session was configured with.
func (s *Session) Model() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

// SystemPrompt returns the system prompt this session was configured with.
func (s *Session) SystemPrompt() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.systemPrompt
}

// Abort marks the session as aborted; the loop checks this after every
// tool execution so an in-flight run stops promptly.
func (s *Session) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = true
}

// Aborted reports whether Abort has been called.
func (s *Session) Aborted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aborted
}

// Reset clears the message list and token budget after a sleep/compaction
// cycle, keeping model and system prompt.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.budget = tokens.NewBudget(s.model)
	s.aborted = false
}
