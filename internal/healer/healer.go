// Package healer enforces the tool_use/tool_result pairing invariant on a
// message history before it is replayed to an LLM. Unlike a transcript
// scrubber that silently drops orphaned tool calls, Heal synthesizes a
// placeholder result for any tool_use that never got one, so the shape of
// the conversation an LLM sees always matches what it asked for.
package healer

import "github.com/noema-systems/noema/internal/session"

// CancelledResultText is the content of a synthesized tool_result for a
// tool_use that was interrupted (by preemption, crash, or truncation)
// before it produced a real result.
const CancelledResultText = "[cancelled]"

// Heal returns a new, pure function of messages: every tool_use block is
// paired with exactly one tool_result, orphans get a synthesized cancelled
// result, and duplicate or unmatched tool_results are dropped. Heal is
// idempotent: healing an already-healed history returns it unchanged.
func Heal(messages []session.Message) []session.Message {
	if len(messages) == 0 {
		return messages
	}

	var (
		healed  = make([]session.Message, 0, len(messages))
		pending []string        // tool_use ids awaiting a result, in request order
		inFlag  = map[string]bool{}
	)

	flushPending := func() {
		if len(pending) == 0 {
			return
		}
		synth := make([]session.Block, 0, len(pending))
		for _, id := range pending {
			synth = append(synth, session.Block{
				Kind:            session.BlockToolResult,
				ToolResultForID: id,
				ToolResultText:  CancelledResultText,
				ToolResultError: true,
			})
		}
		// If the immediately preceding healed message is a user message
		// that already carries tool_results, the synthesized results for
		// the remaining orphaned ids join it so the whole turn still
		// lands in one user message; a new message is only for the case
		// where no such user message precedes this point.
		if n := len(healed); n > 0 && healed[n-1].Role == session.RoleUser && hasToolResult(healed[n-1]) {
			healed[n-1].Blocks = append(healed[n-1].Blocks, synth...)
		} else {
			healed = append(healed, session.Message{Role: session.RoleUser, Blocks: synth})
		}
		pending = nil
		inFlag = map[string]bool{}
	}

	for _, msg := range messages {
		switch {
		case msg.Role == session.RoleAssistant && hasToolUse(msg):
			flushPending()
			for _, b := range msg.Blocks {
				if b.Kind == session.BlockToolUse && b.ToolUseID != "" {
					pending = append(pending, b.ToolUseID)
					inFlag[b.ToolUseID] = true
				}
			}
			healed = append(healed, msg)

		case hasToolResult(msg):
			fixed := fixToolResults(msg, inFlag, &pending)
			if len(fixed) == 0 {
				continue
			}
			clone := msg
			clone.Blocks = fixed
			healed = append(healed, clone)

		default:
			// A non-tool message (plain assistant text, a fresh user turn)
			// ends the window in which a tool_result could still arrive.
			flushPending()
			healed = append(healed, msg)
		}
	}
	flushPending()

	return healed
}

func hasToolUse(msg session.Message) bool {
	for _, b := range msg.Blocks {
		if b.Kind == session.BlockToolUse {
			return true
		}
	}
	return false
}

func hasToolResult(msg session.Message) bool {
	for _, b := range msg.Blocks {
		if b.Kind == session.BlockToolResult {
			return true
		}
	}
	return false
}

// fixToolResults keeps only results that resolve a still-pending tool_use,
// removing the id from pending as it's matched.
func fixToolResults(msg session.Message, inFlag map[string]bool, pending *[]string) []session.Block {
	var fixed []session.Block
	for _, b := range msg.Blocks {
		if b.Kind != session.BlockToolResult {
			fixed = append(fixed, b)
			continue
		}
		if !inFlag[b.ToolResultForID] {
			continue // duplicate or unsolicited result: drop
		}
		delete(inFlag, b.ToolResultForID)
		*pending = removeID(*pending, b.ToolResultForID)
		fixed = append(fixed, b)
	}
	return fixed
}

func removeID(ids []string, target string) []string {
	for i, id := range ids {
		if id == target {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
