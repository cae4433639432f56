// Package wire is the stateless, symmetric codec between the transcript's
// in-memory message model and the JSON shape an LLM API expects on the
// wire: one JSON object per message, carrying either a plain "content"
// string or a "blocks" array of typed blocks. Encode and Decode round-trip
// byte-for-byte modulo whitespace.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/noema-systems/noema/internal/session"
)

// Event is the wire representation of one session.Message.
type Event struct {
	Role    string  `json:"role"`
	Content string  `json:"content,omitempty"`
	Blocks  []Block `json:"blocks,omitempty"`
}

// Block is the wire representation of one session.Block.
type Block struct {
	Type string `json:"type"`

	// type == "text"
	Text string `json:"text,omitempty"`

	// type == "tool_use"
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// type == "tool_result"
	ToolUseID string `json:"tool_use_id,omitempty"`
	Output    string `json:"output,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// Encode converts a session.Message into its wire Event.
func Encode(msg session.Message) Event {
	ev := Event{Role: string(msg.Role)}
	if !msg.IsStructured() {
		ev.Content = msg.PlainText
		return ev
	}
	ev.Blocks = make([]Block, len(msg.Blocks))
	for i, b := range msg.Blocks {
		ev.Blocks[i] = encodeBlock(b)
	}
	return ev
}

func encodeBlock(b session.Block) Block {
	switch b.Kind {
	case session.BlockText:
		return Block{Type: "text", Text: b.Text}
	case session.BlockToolUse:
		return Block{Type: "tool_use", ID: b.ToolUseID, Name: b.ToolName, Input: b.ToolInput}
	case session.BlockToolResult:
		return Block{Type: "tool_result", ToolUseID: b.ToolResultForID, Output: b.ToolResultText, IsError: b.ToolResultError}
	default:
		return Block{Type: "text"}
	}
}

// Decode converts a wire Event back into a session.Message.
func Decode(ev Event) (session.Message, error) {
	msg := session.Message{Role: session.Role(ev.Role)}
	if len(ev.Blocks) == 0 {
		msg.PlainText = ev.Content
		return msg, nil
	}
	msg.Blocks = make([]session.Block, len(ev.Blocks))
	for i, b := range ev.Blocks {
		block, err := decodeBlock(b)
		if err != nil {
			return session.Message{}, fmt.Errorf("wire: block %d: %w", i, err)
		}
		msg.Blocks[i] = block
	}
	return msg, nil
}

func decodeBlock(b Block) (session.Block, error) {
	switch b.Type {
	case "text":
		return session.Block{Kind: session.BlockText, Text: b.Text}, nil
	case "tool_use":
		if b.ID == "" {
			return session.Block{}, fmt.Errorf("tool_use block missing id")
		}
		return session.Block{Kind: session.BlockToolUse, ToolUseID: b.ID, ToolName: b.Name, ToolInput: b.Input}, nil
	case "tool_result":
		if b.ToolUseID == "" {
			return session.Block{}, fmt.Errorf("tool_result block missing tool_use_id")
		}
		return session.Block{Kind: session.BlockToolResult, ToolResultForID: b.ToolUseID, ToolResultText: b.Output, ToolResultError: b.IsError}, nil
	default:
		return session.Block{}, fmt.Errorf("unknown block type %q", b.Type)
	}
}

// Marshal encodes a slice of messages into newline-delimited JSON events.
func Marshal(messages []session.Message) ([]byte, error) {
	var out []byte
	for _, msg := range messages {
		line, err := json.Marshal(Encode(msg))
		if err != nil {
			return nil, fmt.Errorf("wire: marshal event: %w", err)
		}
		out = append(out, line...)
		out = append(out, '\n')
	}
	return out, nil
}

// Unmarshal decodes newline-delimited JSON events back into messages.
func Unmarshal(data []byte) ([]session.Message, error) {
	var messages []session.Message
	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("wire: decode event: %w", err)
		}
		msg, err := Decode(ev)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
