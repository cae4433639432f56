// Package tokens estimates token counts and manages token budgets shared by
// the session store, the dual-core phase machine, and ego distillation.
package tokens

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// CharsPerToken is the character-to-token ratio used for estimation.
	// There is no tokenizer dependency in this tree; every component that
	// needs a token count goes through EstimateString so the heuristic stays
	// consistent across the session store, dual-core budget check, and ego
	// distillation chunking.
	CharsPerToken = 4

	// DefaultContextWindow is used when a model's window size is unknown.
	DefaultContextWindow = 128000

	// MinContextWindow is the floor below which a session must sleep.
	MinContextWindow = 16000
)

// ModelContextWindows maps known model identifiers to their context window,
// in tokens. Unlisted models fall back to DefaultContextWindow via longest
// prefix match.
var ModelContextWindows = map[string]int{
	"claude-3-opus":     200000,
	"claude-3-sonnet":   200000,
	"claude-3-haiku":    200000,
	"claude-3-5-sonnet": 200000,
	"claude-3-5-haiku":  200000,
	"claude-opus-4":     200000,
	"gpt-4":             8192,
	"gpt-4-32k":         32768,
	"gpt-4-turbo":       128000,
	"gpt-4o":            128000,
	"gpt-4o-mini":       128000,
	"gpt-3.5-turbo":     16385,
	"o1":                200000,
	"o1-mini":           128000,
	"gemini-1.5-pro":    2097152,
	"gemini-1.5-flash":  1048576,
	"gemini-2.0-flash":  1048576,
}

// WindowForModel resolves a model identifier to a context window size using
// an exact match, then the longest matching prefix, then the default.
func WindowForModel(model string) int {
	if tokens, ok := ModelContextWindows[model]; ok {
		return tokens
	}
	best, bestLen := 0, 0
	for prefix, tokens := range ModelContextWindows {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best, bestLen = tokens, len(prefix)
		}
	}
	if bestLen > 0 {
		return best
	}
	return DefaultContextWindow
}

// EstimateString estimates the token count of raw text by ceiling-dividing
// its rune count by CharsPerToken.
func EstimateString(text string) int {
	if text == "" {
		return 0
	}
	chars := utf8.RuneCountInString(text)
	return (chars + CharsPerToken - 1) / CharsPerToken
}

// Chunk is a generic unit of estimable content: a transcript message, a
// layer delta, or an ego candidate paragraph.
type Chunk struct {
	Role    string
	Content string
}

// EstimateChunks sums EstimateString across a slice of chunks.
func EstimateChunks(chunks []Chunk) int {
	total := 0
	for _, c := range chunks {
		total += EstimateString(c.Content)
	}
	return total
}

// Budget tracks used tokens against a total window.
type Budget struct {
	Total int
	Used  int
}

// NewBudget returns a Budget sized to the given model, or DefaultContextWindow
// if model is empty.
func NewBudget(model string) Budget {
	if model == "" {
		return Budget{Total: DefaultContextWindow}
	}
	return Budget{Total: WindowForModel(model)}
}

// Remaining returns the unused token count, floored at zero.
func (b Budget) Remaining() int {
	if r := b.Total - b.Used; r > 0 {
		return r
	}
	return 0
}

// UsedPercent returns the fraction of the window consumed, in [0,1].
func (b Budget) UsedPercent() float64 {
	if b.Total <= 0 {
		return 0
	}
	return float64(b.Used) / float64(b.Total)
}

// BelowFloor reports whether the remaining budget has dropped under
// MinContextWindow, the point at which a session must sleep rather than
// continue accreting turns.
func (b Budget) BelowFloor() bool {
	return b.Remaining() < MinContextWindow
}

// Summarizer produces a natural-language summary of a set of chunks. Ego
// distillation and dual-core seed absorption both depend on this interface
// rather than a concrete LLM client, so they can be tested with a fake.
type Summarizer interface {
	Summarize(ctx context.Context, chunks []Chunk, instructions string) (string, error)
}

// ChunkByBudget splits chunks into groups that each stay under maxTokens,
// never splitting a single chunk across groups. A chunk larger than
// maxTokens gets its own group.
func ChunkByBudget(chunks []Chunk, maxTokens int) [][]Chunk {
	if len(chunks) == 0 {
		return nil
	}
	if maxTokens <= 0 {
		return [][]Chunk{chunks}
	}

	var groups [][]Chunk
	var current []Chunk
	currentTokens := 0

	flush := func() {
		if len(current) > 0 {
			groups = append(groups, current)
			current = nil
			currentTokens = 0
		}
	}

	for _, c := range chunks {
		t := EstimateString(c.Content)
		if t > maxTokens {
			flush()
			groups = append(groups, []Chunk{c})
			continue
		}
		if currentTokens+t > maxTokens {
			flush()
		}
		current = append(current, c)
		currentTokens += t
	}
	flush()
	return groups
}

// SummarizeInChunks summarizes chunks that exceed maxChunkTokens by first
// summarizing sub-groups, then merging the resulting summaries into one.
func SummarizeInChunks(ctx context.Context, chunks []Chunk, s Summarizer, maxChunkTokens int, instructions string) (string, error) {
	if len(chunks) == 0 {
		return "", nil
	}
	if s == nil {
		return "", fmt.Errorf("tokens: summarizer is nil")
	}

	groups := ChunkByBudget(chunks, maxChunkTokens)
	if len(groups) <= 1 {
		return s.Summarize(ctx, chunks, instructions)
	}

	partials := make([]string, 0, len(groups))
	for i, g := range groups {
		summary, err := s.Summarize(ctx, g, instructions)
		if err != nil {
			return "", fmt.Errorf("summarizing group %d: %w", i, err)
		}
		partials = append(partials, summary)
	}

	merged := make([]Chunk, 0, len(partials))
	for i, p := range partials {
		merged = append(merged, Chunk{Role: "system", Content: fmt.Sprintf("part %d:\n%s", i+1, p)})
	}
	mergeInstructions := "Merge these partial summaries into one coherent summary, preserving chronology."
	if instructions != "" {
		mergeInstructions = instructions + "\n\n" + mergeInstructions
	}
	return s.Summarize(ctx, merged, mergeInstructions)
}

// KeepRecentWithinBudget keeps the most recent chunks that fit under
// maxTokens, dropping the oldest first. It reports how many chunks and
// tokens were dropped.
func KeepRecentWithinBudget(chunks []Chunk, maxTokens int) (kept []Chunk, droppedChunks, droppedTokens int) {
	if len(chunks) == 0 || maxTokens <= 0 {
		return chunks, 0, 0
	}
	total := EstimateChunks(chunks)
	if total <= maxTokens {
		return chunks, 0, 0
	}

	keptTokens := 0
	var result []Chunk
	for i := len(chunks) - 1; i >= 0; i-- {
		t := EstimateString(chunks[i].Content)
		if keptTokens+t > maxTokens {
			break
		}
		result = append([]Chunk{chunks[i]}, result...)
		keptTokens += t
	}
	return result, len(chunks) - len(result), total - keptTokens
}
