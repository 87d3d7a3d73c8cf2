package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteThenReadFile(t *testing.T) {
	ws := t.TempDir()
	ctx := context.Background()

	write := NewWriteFileTool(ws, true)
	result := write.Execute(ctx, map[string]any{"path": "notes/hello.txt", "content": "hi there"})
	if result.IsError {
		t.Fatalf("write failed: %s", result.ForLLM)
	}
	if !result.Silent {
		t.Error("write result should be silent")
	}

	read := NewReadFileTool(ws, true)
	result = read.Execute(ctx, map[string]any{"path": "notes/hello.txt"})
	if result.IsError {
		t.Fatalf("read failed: %s", result.ForLLM)
	}
	if result.ForLLM != "hi there" {
		t.Errorf("content = %q, want hi there", result.ForLLM)
	}
}

func TestReadFile_OutsideWorkspaceDenied(t *testing.T) {
	ws := t.TempDir()
	read := NewReadFileTool(ws, true)

	result := read.Execute(context.Background(), map[string]any{"path": "../../etc/passwd"})
	if !result.IsError {
		t.Error("path escaping the workspace should be denied")
	}
	if !strings.Contains(result.ForLLM, "access denied") {
		t.Errorf("unexpected error message: %q", result.ForLLM)
	}
}

func TestEditFile(t *testing.T) {
	ws := t.TempDir()
	path := filepath.Join(ws, "config.txt")
	if err := os.WriteFile(path, []byte("value = old\nother = keep\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	edit := NewEditFileTool(ws, true)
	result := edit.Execute(context.Background(), map[string]any{
		"path":     "config.txt",
		"old_text": "value = old",
		"new_text": "value = new",
	})
	if result.IsError {
		t.Fatalf("edit failed: %s", result.ForLLM)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "value = new\nother = keep\n" {
		t.Errorf("content = %q", content)
	}
}

func TestEditFile_AmbiguousMatch(t *testing.T) {
	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "dup.txt"), []byte("x\nx\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	edit := NewEditFileTool(ws, true)
	result := edit.Execute(context.Background(), map[string]any{
		"path":     "dup.txt",
		"old_text": "x",
		"new_text": "y",
	})
	if !result.IsError {
		t.Error("ambiguous old_text should be rejected")
	}
}

func TestListDir(t *testing.T) {
	ws := t.TempDir()
	if err := os.MkdirAll(filepath.Join(ws, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ws, "a.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	list := NewListDirTool(ws, true)
	result := list.Execute(context.Background(), map[string]any{"path": "."})
	if result.IsError {
		t.Fatalf("list failed: %s", result.ForLLM)
	}
	if !strings.Contains(result.ForLLM, "a.txt") || !strings.Contains(result.ForLLM, "sub/") {
		t.Errorf("listing = %q", result.ForLLM)
	}
}
