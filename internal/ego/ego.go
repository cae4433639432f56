// Package ego implements identity distillation: the single bounded LLM
// call a watcher layer makes about its sleeping subject, and the wake
// context assembled from that distillate the next time the subject wakes.
package ego

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/noema-systems/noema/internal/tokens"
)

// DefaultFilename is where a distilled identity is written, inside the
// sleeping layer's own directory.
const DefaultFilename = "ego.md"

// Distiller runs one summarization call per sleep event.
type Distiller struct {
	Summarizer tokens.Summarizer
}

// Distill summarizes, in first person, what watcherLayer observed of
// sleeperLayer from watcherTail — a budgeted tail of the watcher's own
// transcript, never the sleeper's — using a prompt specific to the pair.
func (d *Distiller) Distill(ctx context.Context, sleeperLayer, watcherLayer int, watcherTail string) (string, error) {
	if d.Summarizer == nil {
		return "", fmt.Errorf("ego: no summarizer configured")
	}
	chunks := []tokens.Chunk{{Role: "watcher", Content: watcherTail}}
	return d.Summarizer.Summarize(ctx, chunks, PairPrompt(sleeperLayer, watcherLayer))
}

// PairPrompt returns the per-pair instruction for a distillation call: the
// watcher speaks for the sleeper, in first person, based only on what it
// has observed.
func PairPrompt(sleeperLayer, watcherLayer int) string {
	return fmt.Sprintf(
		"You are L%d, about to sleep. L%d has been watching your output. "+
			"Speaking as L%d in the first person, summarize who you are and "+
			"what you have been doing, based only on what L%d has observed.",
		sleeperLayer, watcherLayer, sleeperLayer, watcherLayer,
	)
}

// WriteEgo writes summary to layerDir/ego.md, the byte-0 content of the
// sleeper's context on its next wake.
func WriteEgo(layerDir, summary string) error {
	return os.WriteFile(filepath.Join(layerDir, DefaultFilename), []byte(summary), 0o644)
}

// ReadEgo reads layerDir/ego.md, returning an empty string (no error) if
// the file does not exist yet — the layer has never slept.
func ReadEgo(layerDir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(layerDir, DefaultFilename))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// AssembleWakeContext builds a sleeper's wake context: the ego summary,
// then a labeled recent-context tail, then the soul text supplied as tool
// context rather than identity.
func AssembleWakeContext(egoSummary, recentTail, soulText string) string {
	var b strings.Builder
	if egoSummary != "" {
		b.WriteString(egoSummary)
		b.WriteString("\n\n")
	}
	b.WriteString("--- Recent context ---\n\n")
	b.WriteString(recentTail)
	b.WriteString("\n\n---\n")
	b.WriteString(soulText)
	return b.String()
}

// LastNParagraphs returns the last n blank-line-delimited paragraphs of
// text, joined back together in original order.
func LastNParagraphs(text string, n int) string {
	if n <= 0 {
		return ""
	}

	var paras []string
	for _, p := range strings.Split(text, "\n\n") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			paras = append(paras, trimmed)
		}
	}
	if len(paras) == 0 {
		return ""
	}
	if len(paras) > n {
		paras = paras[len(paras)-n:]
	}
	return strings.Join(paras, "\n\n")
}
