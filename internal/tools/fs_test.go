package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/noema-systems/noema/internal/toolcontract"
)

func TestResolverRejectsEscape(t *testing.T) {
	r := Resolver{Root: t.TempDir()}
	if _, err := r.Resolve("../outside"); err == nil {
		t.Fatal("expected escape to be rejected")
	}
}

func TestResolverJoinsRelativePath(t *testing.T) {
	root := t.TempDir()
	r := Resolver{Root: root}
	got, err := r.Resolve("notes/todo.md")
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(root, "notes", "todo.md")
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestWriteThenReadFile(t *testing.T) {
	root := t.TempDir()
	write := NewWriteTool(root)
	args, _ := json.Marshal(map[string]string{"path": "a/b.txt", "content": "hello"})
	res, err := write.Execute(context.Background(), args)
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("expected success: %s", res.Content)
	}

	read := NewReadTool(root, 0)
	args, _ = json.Marshal(map[string]string{"path": "a/b.txt"})
	res, err = read.Execute(context.Background(), args)
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "hello" {
		t.Fatalf("got %q, want %q", res.Content, "hello")
	}
}

func TestReadToolRespectsMaxBytes(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "big.txt"), []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}
	read := NewReadTool(root, 4)
	args, _ := json.Marshal(map[string]string{"path": "big.txt"})
	res, err := read.Execute(context.Background(), args)
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "0123" {
		t.Fatalf("got %q, want %q", res.Content, "0123")
	}
}

func TestReadToolRejectsEscapingPath(t *testing.T) {
	root := t.TempDir()
	read := NewReadTool(root, 0)
	args, _ := json.Marshal(map[string]string{"path": "../../etc/passwd"})
	res, err := read.Execute(context.Background(), args)
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Fatal("expected escaping path to be rejected")
	}
}

func TestListDirTool(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "file.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	list := NewListDirTool(root)
	args, _ := json.Marshal(map[string]string{"path": "."})
	res, err := list.Execute(context.Background(), args)
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("expected success: %s", res.Content)
	}
	if !containsLine(res.Content, "sub/") || !containsLine(res.Content, "file.txt") {
		t.Fatalf("unexpected listing: %q", res.Content)
	}
}

func containsLine(haystack, line string) bool {
	for _, l := range splitLines(haystack) {
		if l == line {
			return true
		}
	}
	return false
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i, r := range s {
		if r == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return out
}

func TestRegisterDefaultsRegistersAllFour(t *testing.T) {
	reg := toolcontract.NewRegistry()
	if err := RegisterDefaults(reg, t.TempDir()); err != nil {
		t.Fatal(err)
	}
	names := reg.List()
	want := map[string]bool{"read_file": false, "write_file": false, "list_dir": false, "shell": false}
	for _, n := range names {
		if _, ok := want[n]; ok {
			want[n] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("expected %s to be registered, got %v", name, names)
		}
	}
}
