// Package llmclient adapts a concrete model provider's SDK to the
// consciousness loop's LLMClient contract. Anthropic is the only provider
// wired in today; the interface leaves room for others without touching
// the loop itself.
package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/noema-systems/noema/internal/loop"
	"github.com/noema-systems/noema/internal/session"
	"github.com/noema-systems/noema/internal/toolcontract"
)

// DefaultModel is used when a Request carries no model override.
const DefaultModel = "claude-sonnet-4-20250514"

// DefaultMaxTokens bounds a single completion when the caller has no
// stronger opinion.
const DefaultMaxTokens = 4096

// AnthropicClient implements loop.LLMClient against the Anthropic Messages
// streaming API.
type AnthropicClient struct {
	client       anthropic.Client
	defaultModel string
	maxTokens    int
}

// AnthropicConfig configures an AnthropicClient.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int
}

// NewAnthropicClient builds a client ready to stream. APIKey is required.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("llmclient: anthropic API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicClient{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		maxTokens:    cfg.MaxTokens,
	}, nil
}

// Stream implements loop.LLMClient.
func (c *AnthropicClient) Stream(ctx context.Context, req loop.Request) (<-chan loop.StreamChunk, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("llmclient: convert messages: %w", err)
	}
	tools, err := convertTools(req.Tools)
	if err != nil {
		return nil, fmt.Errorf("llmclient: convert tools: %w", err)
	}

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(c.maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(tools) > 0 {
		params.Tools = tools
	}

	stream := c.client.Messages.NewStreaming(ctx, params)

	out := make(chan loop.StreamChunk)
	go pumpAnthropicStream(stream, out)
	return out, nil
}

// streamEvents is the subset of ssestream.Stream this package depends on,
// narrowed so pumpAnthropicStream can be exercised against a fake in tests.
type streamEvents interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
}

func pumpAnthropicStream(stream streamEvents, out chan<- loop.StreamChunk) {
	defer close(out)

	var toolID, toolName string
	var toolInput strings.Builder
	inTool := false

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				use := block.AsToolUse()
				toolID, toolName = use.ID, use.Name
				toolInput.Reset()
				inTool = true
				out <- loop.StreamChunk{ToolCallStart: &loop.ToolCallRequest{ID: toolID, Name: toolName}}
			}
		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					out <- loop.StreamChunk{Text: delta.Text}
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					out <- loop.StreamChunk{Thinking: delta.Thinking}
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					toolInput.WriteString(delta.PartialJSON)
					out <- loop.StreamChunk{ToolCallDelta: &loop.ToolCallDeltaChunk{ToolUseID: toolID, Delta: delta.PartialJSON}}
				}
			}
		case "content_block_stop":
			if inTool {
				out <- loop.StreamChunk{ToolCallEnd: toolID}
				inTool = false
			}
		case "message_delta":
			if reason := string(event.AsMessageDelta().Delta.StopReason); reason != "" {
				out <- loop.StreamChunk{StopReason: reason}
			}
		case "message_stop":
			out <- loop.StreamChunk{Done: true}
			return
		}
	}
	if err := stream.Err(); err != nil {
		out <- loop.StreamChunk{Err: err, Done: true}
	}
}

func convertMessages(messages []session.Message) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == session.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if !msg.IsStructured() {
			if msg.PlainText != "" {
				content = append(content, anthropic.NewTextBlock(msg.PlainText))
			}
		} else {
			for _, b := range msg.Blocks {
				switch b.Kind {
				case session.BlockText:
					if b.Text != "" {
						content = append(content, anthropic.NewTextBlock(b.Text))
					}
				case session.BlockToolUse:
					var input map[string]any
					if len(b.ToolInput) > 0 {
						if err := json.Unmarshal(b.ToolInput, &input); err != nil {
							return nil, fmt.Errorf("tool_use %s: %w", b.ToolUseID, err)
						}
					}
					content = append(content, anthropic.NewToolUseBlock(b.ToolUseID, input, b.ToolName))
				case session.BlockToolResult:
					content = append(content, anthropic.NewToolResultBlock(b.ToolResultForID, b.ToolResultText, b.ToolResultError))
				}
			}
		}

		if msg.Role == session.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertTools(defs []toolcontract.ToolDef) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(def.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("tool %s: invalid schema: %w", def.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("tool %s: missing tool definition", def.Name)
		}
		param.OfTool.Description = anthropic.String(def.Description)
		result = append(result, param)
	}
	return result, nil
}
