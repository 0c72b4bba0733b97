package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MagClaw/MagClaw/internal/approval"
)

func TestReadWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	write := NewWriteFileTool(func() string { return dir })
	read := NewReadFileTool()
	ctx := context.Background()

	path := filepath.Join(dir, "sub", "note.txt")
	out, err := write.Execute(ctx, map[string]any{"path": path, "content": "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.HasPrefix(out, "Error") {
		t.Fatalf("write failed: %s", out)
	}

	got, err := read.Execute(ctx, map[string]any{"path": path})
	if err != nil {
		t.Fatal(err)
	}
	if got != "hello" {
		t.Errorf("content = %q", got)
	}
}

func TestWriteFileOutsideWorkspace(t *testing.T) {
	dir := t.TempDir()
	write := NewWriteFileTool(func() string { return dir })

	outside := filepath.Join(os.TempDir(), "magclaw-escape.txt")
	out, err := write.Execute(context.Background(), map[string]any{"path": outside, "content": "x"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "outside workspace") {
		t.Errorf("expected workspace rejection, got %q", out)
	}

	traversal := filepath.Join(dir, "..", "escape.txt")
	out, err = write.Execute(context.Background(), map[string]any{"path": traversal, "content": "x"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "outside workspace") {
		t.Errorf("expected traversal rejection, got %q", out)
	}
}

func TestReadFileMissing(t *testing.T) {
	read := NewReadFileTool()
	out, err := read.Execute(context.Background(), map[string]any{"path": filepath.Join(t.TempDir(), "absent")})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "file not found") {
		t.Errorf("out = %q", out)
	}
}

func TestListDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "b.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "a"), 0o755); err != nil {
		t.Fatal(err)
	}

	list := NewListDirTool()
	out, err := list.Execute(context.Background(), map[string]any{"path": dir})
	if err != nil {
		t.Fatal(err)
	}
	if out != "a/\nb.txt" {
		t.Errorf("listing = %q", out)
	}
}

func TestExecDenyList(t *testing.T) {
	tool := NewExecTool(0, "")
	for _, cmd := range []string{"rm -rf /tmp/x", "sudo shutdown now", "mkfs.ext4 /dev/sda1"} {
		out, err := tool.Execute(context.Background(), map[string]any{"command": cmd})
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(out, "blocked by deny list") {
			t.Errorf("command %q not blocked: %q", cmd, out)
		}
	}
}

func TestExecRunsCommand(t *testing.T) {
	tool := NewExecTool(0, t.TempDir())
	out, err := tool.Execute(context.Background(), map[string]any{"command": "echo hi"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "hi" {
		t.Errorf("out = %q", out)
	}
}

func TestToolBaselines(t *testing.T) {
	cases := []struct {
		tool     Tool
		baseline approval.Baseline
		guess    approval.Guess
	}{
		{NewReadFileTool(), approval.BaselineNever, approval.GuessNever},
		{NewListDirTool(), approval.BaselineNever, approval.GuessNever},
		{NewWriteFileTool(nil), approval.BaselineMaybe, approval.GuessNever},
		{NewExecTool(0, ""), approval.BaselineAlways, approval.GuessAlways},
	}
	for _, tc := range cases {
		baseline, guess := ToolBaseline(tc.tool)
		if baseline != tc.baseline || guess != tc.guess {
			t.Errorf("%s: baseline/guess = %s/%s, want %s/%s",
				tc.tool.Name(), baseline, guess, tc.baseline, tc.guess)
		}
	}
}

func TestRegistryPreservesOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(NewExecTool(0, ""))
	r.Register(NewReadFileTool())

	all := r.All()
	if len(all) != 2 || all[0].Name() != "exec" || all[1].Name() != "read_file" {
		names := make([]string, len(all))
		for i, tool := range all {
			names[i] = tool.Name()
		}
		t.Errorf("order = %v", names)
	}
	if _, ok := r.Get("exec"); !ok {
		t.Error("exec not found")
	}
}
