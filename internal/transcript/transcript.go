// Package transcript reads and writes the plain-text .ctx file that is the
// durable source of truth for a session. The format is append-only: every
// operation opens the file O_APPEND and writes one atomic chunk, so a reader
// can tail the file at any time and see a consistent prefix of turns.
//
// Layout:
//
//	--- session: <id> ---
//	started: <RFC3339>
//	cwd: <path>             (optional)
//
//	--- <RFC3339> ---
//	[model: <name>] [thinking-level: <level>] [compaction]   (optional annotations)
//
//	<up>
//	...external input...
//	</up>
//
//	assistant text goes here, unmarked
//
//	[tool:<name>] <one-line summary>
//	<tool output, truncated to 30 lines>
package transcript

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/noema-systems/noema/internal/session"
)

const (
	sessionHeaderPrefix = "--- session: "
	turnSeparatorPrefix = "--- "
	turnSeparatorSuffix = " ---"
	upOpenTag           = "<up>"
	upCloseTag          = "</up>"
	toolLinePrefix      = "[tool:"

	// maxToolOutputLines is the number of lines kept at the head and tail of
	// a tool result before it is elided.
	maxToolOutputLines = 15
	omittedMarkerFmt   = "... [%d lines omitted] ..."
)

// PreloadFiles is the ordered whitelist of workspace files folded into a
// fresh session's system prompt context, highest priority first.
var PreloadFiles = []string{"IDENTITY.md", "SOUL.md", "AGENTS.md", "MEMORY.md", "TOOLS.md"}

// Meta describes the session header of a .ctx file.
type Meta struct {
	SessionID string
	StartedAt time.Time
	Cwd       string
}

// Path returns the canonical .ctx file path for a session id under root.
func Path(root, sessionID string) string {
	return filepath.Join(root, sessionID+".ctx")
}

// Create writes a new .ctx file with its session header. It fails if the
// file already exists, since a session id must map to exactly one transcript.
func Create(root, sessionID, cwd string) (string, error) {
	path := Path(root, sessionID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("transcript: create %s: %w", path, err)
	}
	defer f.Close()

	var b strings.Builder
	fmt.Fprintf(&b, "%s%s ---\n", sessionHeaderPrefix, sessionID)
	fmt.Fprintf(&b, "started: %s\n", time.Now().UTC().Format(time.RFC3339))
	if cwd != "" {
		fmt.Fprintf(&b, "cwd: %s\n", cwd)
	}
	b.WriteString("\n")
	if _, err := f.WriteString(b.String()); err != nil {
		return "", fmt.Errorf("transcript: write header: %w", err)
	}
	return path, nil
}

func appendChunk(path, chunk string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("transcript: open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(chunk); err != nil {
		return fmt.Errorf("transcript: append: %w", err)
	}
	return nil
}

// TurnAnnotations are the optional bracketed tags on a turn separator line.
type TurnAnnotations struct {
	Model         string
	ThinkingLevel string
	IsCompaction  bool
}

func turnHeader(at time.Time, ann TurnAnnotations) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s%s%s\n", turnSeparatorPrefix, at.UTC().Format(time.RFC3339), turnSeparatorSuffix)
	var tags []string
	if ann.Model != "" {
		tags = append(tags, fmt.Sprintf("[model: %s]", ann.Model))
	}
	if ann.ThinkingLevel != "" {
		tags = append(tags, fmt.Sprintf("[thinking-level: %s]", ann.ThinkingLevel))
	}
	if ann.IsCompaction {
		tags = append(tags, "[compaction]")
	}
	if len(tags) > 0 {
		b.WriteString(strings.Join(tags, " "))
		b.WriteString("\n")
	}
	return b.String()
}

// AppendTurnStart writes a new turn separator with its annotations. Callers
// append the turn's content (user input, assistant text, tool lines) after
// this call within the same turn.
func AppendTurnStart(path string, at time.Time, ann TurnAnnotations) error {
	return appendChunk(path, "\n"+turnHeader(at, ann))
}

// AppendUserMessage appends an externally supplied input, wrapped in <up>
// tags so a reader can distinguish human/system input from model output.
func AppendUserMessage(path, text string) error {
	var b strings.Builder
	b.WriteString(upOpenTag)
	b.WriteString("\n")
	b.WriteString(text)
	if !strings.HasSuffix(text, "\n") {
		b.WriteString("\n")
	}
	b.WriteString(upCloseTag)
	b.WriteString("\n\n")
	return appendChunk(path, b.String())
}

// AppendAssistantText appends unmarked assistant text.
func AppendAssistantText(path, text string) error {
	if text == "" {
		return nil
	}
	chunk := text
	if !strings.HasSuffix(chunk, "\n") {
		chunk += "\n"
	}
	return appendChunk(path, chunk+"\n")
}

// AppendToolCall appends a [tool:<name>] announcement line with a one-line
// summary of the call.
func AppendToolCall(path, name, summary string) error {
	line := fmt.Sprintf("%s%s] %s\n", toolLinePrefix, name, summary)
	return appendChunk(path, line)
}

// AppendToolResult appends a tool's output, truncated to the first and last
// maxToolOutputLines lines with an omitted-count marker in between.
func AppendToolResult(path, output string) error {
	body := truncateToolOutput(output)
	if !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	return appendChunk(path, body+"\n")
}

func truncateToolOutput(output string) string {
	lines := strings.Split(output, "\n")
	if len(lines) <= maxToolOutputLines*2 {
		return output
	}
	omitted := len(lines) - maxToolOutputLines*2
	head := lines[:maxToolOutputLines]
	tail := lines[len(lines)-maxToolOutputLines:]
	var b strings.Builder
	b.WriteString(strings.Join(head, "\n"))
	b.WriteString("\n")
	fmt.Fprintf(&b, omittedMarkerFmt, omitted)
	b.WriteString("\n")
	b.WriteString(strings.Join(tail, "\n"))
	return b.String()
}

// ParseForResume reads a .ctx file and reconstructs the session header and
// message list. Each tool announcement line becomes a synthetic tool_use
// block with empty input; no tool_result block is built for it, and the tool
// output that follows is read back as assistant text. The result can be
// healed and replayed like any other message history.
func ParseForResume(path string) (Meta, []session.Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, nil, fmt.Errorf("transcript: open %s: %w", path, err)
	}
	header, body, _ := strings.Cut(string(data), "\n\n")

	meta, err := parseHeader(strings.NewReader(header))
	if err != nil {
		return Meta{}, nil, err
	}

	messages, err := parseBody(strings.NewReader(body))
	if err != nil {
		return Meta{}, nil, err
	}
	return meta, messages, nil
}

func parseHeader(r io.Reader) (Meta, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	var meta Meta
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, sessionHeaderPrefix):
			id := strings.TrimPrefix(line, sessionHeaderPrefix)
			id = strings.TrimSuffix(strings.TrimSpace(id), "---")
			meta.SessionID = strings.TrimSpace(id)
		case strings.HasPrefix(line, "started:"):
			ts := strings.TrimSpace(strings.TrimPrefix(line, "started:"))
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				meta.StartedAt = t
			}
		case strings.HasPrefix(line, "cwd:"):
			meta.Cwd = strings.TrimSpace(strings.TrimPrefix(line, "cwd:"))
		case strings.TrimSpace(line) == "":
			return meta, nil
		}
	}
	return meta, scanner.Err()
}

func parseBody(r io.Reader) ([]session.Message, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)

	var messages []session.Message
	var pendingText []string
	var inUp bool
	var upLines []string

	flushText := func(role session.Role) {
		text := strings.Join(pendingText, "\n")
		text = strings.TrimSpace(text)
		pendingText = nil
		if text == "" {
			return
		}
		messages = append(messages, session.Message{Role: role, PlainText: text})
	}

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, turnSeparatorPrefix) && strings.HasSuffix(line, turnSeparatorSuffix):
			flushText(session.RoleAssistant)
			continue

		case strings.TrimSpace(line) == upOpenTag:
			flushText(session.RoleAssistant)
			inUp = true
			upLines = nil
			continue

		case strings.TrimSpace(line) == upCloseTag:
			inUp = false
			messages = append(messages, session.Message{Role: session.RoleUser, PlainText: strings.Join(upLines, "\n")})
			continue

		case inUp:
			upLines = append(upLines, line)
			continue

		case strings.HasPrefix(line, toolLinePrefix):
			flushText(session.RoleAssistant)
			name, summary := parseToolLine(line)
			id := fmt.Sprintf("resumed-%d", len(messages))
			messages = append(messages, session.Message{
				Role: session.RoleAssistant,
				Blocks: []session.Block{{
					Kind:      session.BlockToolUse,
					ToolUseID: id,
					ToolName:  name,
					ToolInput: []byte(`{}`),
				}},
			})
			_ = summary
			continue

		default:
			pendingText = append(pendingText, line)
		}
	}
	flushText(session.RoleAssistant)
	return messages, scanner.Err()
}

func parseToolLine(line string) (name, summary string) {
	rest := strings.TrimPrefix(line, toolLinePrefix)
	end := strings.Index(rest, "]")
	if end == -1 {
		return rest, ""
	}
	name = rest[:end]
	summary = strings.TrimSpace(rest[end+1:])
	return name, summary
}

// FindLatest returns the most recently started session transcript under
// root, or an error if none exist.
func FindLatest(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("transcript: read dir %s: %w", root, err)
	}
	type candidate struct {
		path    string
		modTime time.Time
	}
	var candidates []candidate
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".ctx") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{path: filepath.Join(root, e.Name()), modTime: info.ModTime()})
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("transcript: no sessions found under %s", root)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].modTime.After(candidates[j].modTime) })
	return candidates[0].path, nil
}

// FindByID returns the transcript path for a specific session id, if present.
func FindByID(root, sessionID string) (string, error) {
	path := Path(root, sessionID)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("transcript: session %q not found: %w", sessionID, err)
	}
	return path, nil
}

// DiscoverPreloadFiles returns the absolute paths of whichever PreloadFiles
// exist under root and are non-empty, in PreloadFiles order.
func DiscoverPreloadFiles(root string) []string {
	var found []string
	for _, name := range PreloadFiles {
		path := filepath.Join(root, name)
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			found = append(found, path)
		}
	}
	return found
}
