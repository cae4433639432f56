package transcript

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCreateAndAppendRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path, err := Create(dir, "sess-1", "/work")
	if err != nil {
		t.Fatal(err)
	}

	if err := AppendTurnStart(path, time.Now(), TurnAnnotations{Model: "claude-3-5-sonnet"}); err != nil {
		t.Fatal(err)
	}
	if err := AppendUserMessage(path, "hello there"); err != nil {
		t.Fatal(err)
	}
	if err := AppendAssistantText(path, "hi, how can I help?"); err != nil {
		t.Fatal(err)
	}
	if err := AppendToolCall(path, "search", "query=foo"); err != nil {
		t.Fatal(err)
	}
	if err := AppendToolResult(path, "result line"); err != nil {
		t.Fatal(err)
	}

	meta, messages, err := ParseForResume(path)
	if err != nil {
		t.Fatal(err)
	}
	if meta.SessionID != "sess-1" {
		t.Fatalf("expected session id sess-1, got %q", meta.SessionID)
	}
	if meta.Cwd != "/work" {
		t.Fatalf("expected cwd /work, got %q", meta.Cwd)
	}
	if len(messages) == 0 {
		t.Fatal("expected parsed messages")
	}

	foundUser := false
	for _, m := range messages {
		if strings.Contains(m.Text(), "hello there") {
			foundUser = true
		}
	}
	if !foundUser {
		t.Fatal("expected to find the <up> user message in parsed output")
	}
}

func TestCreateFailsOnExistingSession(t *testing.T) {
	dir := t.TempDir()
	if _, err := Create(dir, "dup", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := Create(dir, "dup", ""); err == nil {
		t.Fatal("expected error creating a duplicate session id")
	}
}

func TestTruncateToolOutputKeepsHeadAndTail(t *testing.T) {
	lines := make([]string, 100)
	for i := range lines {
		lines[i] = strings.Repeat("x", 4) + string(rune('a'+i%26))
	}
	out := truncateToolOutput(strings.Join(lines, "\n"))
	if !strings.Contains(out, "lines omitted") {
		t.Fatal("expected omitted marker for long output")
	}
	if !strings.HasPrefix(out, lines[0]) {
		t.Fatal("expected output to start with first line")
	}
	if !strings.HasSuffix(out, lines[len(lines)-1]) {
		t.Fatal("expected output to end with last line")
	}
}

func TestTruncateToolOutputLeavesShortOutputAlone(t *testing.T) {
	short := "line1\nline2\nline3"
	if got := truncateToolOutput(short); got != short {
		t.Fatalf("expected short output untouched, got %q", got)
	}
}

func TestFindLatestPicksMostRecentlyModified(t *testing.T) {
	dir := t.TempDir()
	if _, err := Create(dir, "old", ""); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := Create(dir, "new", ""); err != nil {
		t.Fatal(err)
	}

	latest, err := FindLatest(dir)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(latest) != "new.ctx" {
		t.Fatalf("expected new.ctx to be latest, got %s", latest)
	}
}

func TestDiscoverPreloadFilesOrdering(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"TOOLS.md", "AGENTS.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("# "+name), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	found := DiscoverPreloadFiles(dir)
	if len(found) != 2 {
		t.Fatalf("expected 2 preload files found, got %d", len(found))
	}
	if filepath.Base(found[0]) != "AGENTS.md" || filepath.Base(found[1]) != "TOOLS.md" {
		t.Fatalf("expected whitelist order AGENTS.md before TOOLS.md, got %v", found)
	}
}
