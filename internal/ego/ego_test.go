package ego

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/noema-systems/noema/internal/tokens"
)

type fakeSummarizer struct {
	lastChunks       []tokens.Chunk
	lastInstructions string
	out              string
	err              error
}

func (f *fakeSummarizer) Summarize(ctx context.Context, chunks []tokens.Chunk, instructions string) (string, error) {
	f.lastChunks = chunks
	f.lastInstructions = instructions
	return f.out, f.err
}

func TestDistillCallsSummarizerWithPairPrompt(t *testing.T) {
	fs := &fakeSummarizer{out: "I am the gateway layer, I handled three requests."}
	d := &Distiller{Summarizer: fs}

	summary, err := d.Distill(context.Background(), 0, 1, "L0 asked about invoices three times")
	if err != nil {
		t.Fatal(err)
	}
	if summary != fs.out {
		t.Fatalf("expected summarizer output passed through, got %q", summary)
	}
	if !strings.Contains(fs.lastInstructions, "L0") || !strings.Contains(fs.lastInstructions, "L1") {
		t.Fatalf("expected pair prompt to name both layers, got %q", fs.lastInstructions)
	}
	if len(fs.lastChunks) != 1 || fs.lastChunks[0].Content != "L0 asked about invoices three times" {
		t.Fatalf("expected watcher tail passed as the only chunk, got %+v", fs.lastChunks)
	}
}

func TestDistillRequiresSummarizer(t *testing.T) {
	d := &Distiller{}
	if _, err := d.Distill(context.Background(), 0, 1, "tail"); err == nil {
		t.Fatal("expected an error with no summarizer configured")
	}
}

func TestWriteAndReadEgoRoundTrips(t *testing.T) {
	dir := t.TempDir()
	if err := WriteEgo(dir, "I am L2, patient and thorough."); err != nil {
		t.Fatal(err)
	}

	got, err := ReadEgo(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got != "I am L2, patient and thorough." {
		t.Fatalf("unexpected round-tripped ego text: %q", got)
	}
}

func TestReadEgoReturnsEmptyWhenMissing(t *testing.T) {
	dir := t.TempDir()
	got, err := ReadEgo(filepath.Join(dir, "never-written"))
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Fatalf("expected empty string for missing ego file, got %q", got)
	}
}

func TestAssembleWakeContextOrdersSections(t *testing.T) {
	got := AssembleWakeContext("I am L1.", "recent tail text", "soul: be concise")

	egoIdx := strings.Index(got, "I am L1.")
	ctxIdx := strings.Index(got, "--- Recent context ---")
	tailIdx := strings.Index(got, "recent tail text")
	soulIdx := strings.Index(got, "soul: be concise")

	if egoIdx < 0 || ctxIdx < 0 || tailIdx < 0 || soulIdx < 0 {
		t.Fatalf("expected all sections present, got %q", got)
	}
	if !(egoIdx < ctxIdx && ctxIdx < tailIdx && tailIdx < soulIdx) {
		t.Fatalf("expected sections in ego, recent-context, tail, soul order, got %q", got)
	}
}

func TestAssembleWakeContextOmitsEgoSectionWhenEmpty(t *testing.T) {
	got := AssembleWakeContext("", "tail", "soul")
	if strings.HasPrefix(got, "\n\n") {
		t.Fatalf("expected no leading blank section when ego summary is empty, got %q", got)
	}
	if !strings.HasPrefix(got, "--- Recent context ---") {
		t.Fatalf("expected recent-context header first, got %q", got)
	}
}

func TestLastNParagraphsKeepsTailInOrder(t *testing.T) {
	text := "first\n\nsecond\n\nthird\n\nfourth"
	got := LastNParagraphs(text, 2)
	if got != "third\n\nfourth" {
		t.Fatalf("expected last two paragraphs in order, got %q", got)
	}
}

func TestLastNParagraphsHandlesFewerThanN(t *testing.T) {
	text := "only one paragraph"
	if got := LastNParagraphs(text, 5); got != "only one paragraph" {
		t.Fatalf("expected the single paragraph unchanged, got %q", got)
	}
}
