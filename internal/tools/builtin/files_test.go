package builtin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"atlas/internal/agent/ports"
	"atlas/internal/logging"
)

// fakeRunner confines paths to a temp workspace without a container.
type fakeRunner struct {
	dir     string
	results []*ports.ExecResult
	calls   []string
}

func (f *fakeRunner) Execute(ctx context.Context, command string, timeout time.Duration) (*ports.ExecResult, error) {
	f.calls = append(f.calls, command)
	if len(f.results) == 0 {
		return &ports.ExecResult{ExitCode: 0}, nil
	}
	res := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return res, nil
}

func (f *fakeRunner) ResolvePath(p string) (string, error) {
	resolved := filepath.Clean(filepath.Join(f.dir, p))
	if resolved != f.dir && !strings.HasPrefix(resolved, f.dir+string(filepath.Separator)) {
		return "", errors.New("path escapes the workspace")
	}
	return resolved, nil
}

func (f *fakeRunner) WorkspaceDir() string { return f.dir }

type fakeFiles struct {
	registered map[string]bool // path -> protected
}

func newFakeFiles() *fakeFiles { return &fakeFiles{registered: make(map[string]bool)} }

func (f *fakeFiles) RegisterFile(path string, autoProtect bool) { f.registered[path] = autoProtect }
func (f *fakeFiles) ForgetFile(path string)                     { delete(f.registered, path) }
func (f *fakeFiles) IsProtected(path string) bool               { return f.registered[path] }

func testEnv(t *testing.T) (Env, *fakeRunner, *fakeFiles) {
	t.Helper()
	runner := &fakeRunner{dir: t.TempDir()}
	files := newFakeFiles()
	return Env{Runner: runner, Files: files, Logger: logging.Nop()}, runner, files
}

func TestWriteFile(t *testing.T) {
	env, runner, files := testEnv(t)
	tool := NewWriteFileTool(env)

	res, err := tool.Execute(context.Background(), ports.ToolCall{
		ID:        "w1",
		Arguments: map[string]any{"file_path": "out/hello.py", "content": "print('hi')\n"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(res.Content, "Successfully wrote 12 bytes to ") {
		t.Fatalf("unexpected result: %q", res.Content)
	}
	if res.FileCreated == nil || res.FileCreated.Path != filepath.Join("out", "hello.py") {
		t.Fatalf("unexpected file_created: %+v", res.FileCreated)
	}

	data, err := os.ReadFile(filepath.Join(runner.dir, "out", "hello.py"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "print('hi')\n" {
		t.Fatalf("unexpected file content: %q", data)
	}

	if !files.IsProtected(filepath.Join("out", "hello.py")) {
		t.Fatal("written files must be auto-protected")
	}
}

func TestWriteFileRejectsEscape(t *testing.T) {
	env, _, _ := testEnv(t)
	tool := NewWriteFileTool(env)

	res, err := tool.Execute(context.Background(), ports.ToolCall{
		ID:        "w1",
		Arguments: map[string]any{"file_path": "../../etc/passwd", "content": "x"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError() {
		t.Fatalf("traversal should be rejected, got %q", res.Content)
	}
}

func TestReadFile(t *testing.T) {
	env, runner, _ := testEnv(t)
	if err := os.WriteFile(filepath.Join(runner.dir, "notes.txt"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	tool := NewReadFileTool(env)
	res, err := tool.Execute(context.Background(), ports.ToolCall{
		ID:        "r1",
		Arguments: map[string]any{"file_path": "notes.txt"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "hello" {
		t.Fatalf("unexpected content: %q", res.Content)
	}
}

func TestReadFileMissing(t *testing.T) {
	env, _, _ := testEnv(t)
	tool := NewReadFileTool(env)
	res, err := tool.Execute(context.Background(), ports.ToolCall{
		ID:        "r1",
		Arguments: map[string]any{"file_path": "absent.txt"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Content, "file not found") {
		t.Fatalf("unexpected result: %q", res.Content)
	}
}

func TestDeleteProtectedFileNeedsForce(t *testing.T) {
	env, runner, files := testEnv(t)
	if err := os.WriteFile(filepath.Join(runner.dir, "report.pdf"), []byte("pdf"), 0644); err != nil {
		t.Fatal(err)
	}
	files.RegisterFile("report.pdf", true)

	tool := NewDeleteFileTool(env)

	res, err := tool.Execute(context.Background(), ports.ToolCall{
		ID:        "d1",
		Arguments: map[string]any{"file_path": "report.pdf"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError() || !strings.Contains(res.Content, "protected") {
		t.Fatalf("expected a protection error, got %q", res.Content)
	}
	if _, err := os.Stat(filepath.Join(runner.dir, "report.pdf")); err != nil {
		t.Fatal("protected file must survive the attempt")
	}

	res, err = tool.Execute(context.Background(), ports.ToolCall{
		ID:        "d2",
		Arguments: map[string]any{"file_path": "report.pdf", "force": true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError() {
		t.Fatalf("force delete failed: %q", res.Content)
	}
	if _, err := os.Stat(filepath.Join(runner.dir, "report.pdf")); !os.IsNotExist(err) {
		t.Fatal("file should be gone after a forced delete")
	}
	if files.IsProtected("report.pdf") {
		t.Fatal("deleted files must leave the protected set")
	}
}

func TestListDirectory(t *testing.T) {
	env, runner, _ := testEnv(t)
	if err := os.MkdirAll(filepath.Join(runner.dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(runner.dir, "a.txt"), []byte("aaa"), 0644); err != nil {
		t.Fatal(err)
	}

	tool := NewListDirectoryTool(env)
	res, err := tool.Execute(context.Background(), ports.ToolCall{ID: "l1", Arguments: map[string]any{}})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Content, "a.txt (3 bytes)") || !strings.Contains(res.Content, "sub/") {
		t.Fatalf("unexpected listing: %q", res.Content)
	}

	res, err = tool.Execute(context.Background(), ports.ToolCall{
		ID:        "l2",
		Arguments: map[string]any{"directory_path": "sub"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "(empty directory)" {
		t.Fatalf("unexpected listing: %q", res.Content)
	}
}

func TestFileToolsAcceptPathShorthand(t *testing.T) {
	env, runner, _ := testEnv(t)

	res, err := NewWriteFileTool(env).Execute(context.Background(), ports.ToolCall{
		ID:        "w1",
		Arguments: map[string]any{"path": "legacy.txt", "content": "hi"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError() {
		t.Fatalf("write should accept the shorthand name: %q", res.Content)
	}
	if _, err := os.Stat(filepath.Join(runner.dir, "legacy.txt")); err != nil {
		t.Fatal(err)
	}

	res, err = NewReadFileTool(env).Execute(context.Background(), ports.ToolCall{
		ID:        "r1",
		Arguments: map[string]any{"path": "legacy.txt"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "hi" {
		t.Fatalf("read should accept the shorthand name: %q", res.Content)
	}
}

func TestExecuteCommandFormatsResult(t *testing.T) {
	env, runner, _ := testEnv(t)
	runner.results = []*ports.ExecResult{{Stdout: "hi\n", ExitCode: 0}}

	tool := NewExecuteCommandTool(env)
	res, err := tool.Execute(context.Background(), ports.ToolCall{
		ID:        "e1",
		Arguments: map[string]any{"command": "echo hi"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Content, "hi") || !strings.Contains(res.Content, "exit code: 0") {
		t.Fatalf("unexpected result: %q", res.Content)
	}
	if res.IsError() {
		t.Fatalf("zero exit must not be an error: %q", res.Content)
	}
}

func TestExecuteCommandNonZeroExit(t *testing.T) {
	env, runner, _ := testEnv(t)
	runner.results = []*ports.ExecResult{{Stderr: "boom", ExitCode: 2}}

	tool := NewExecuteCommandTool(env)
	res, err := tool.Execute(context.Background(), ports.ToolCall{
		ID:        "e1",
		Arguments: map[string]any{"command": "false"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError() {
		t.Fatalf("non-zero exit should surface as an error observation: %q", res.Content)
	}
	if !strings.Contains(res.Content, "exit code: 2") || !strings.Contains(res.Content, "boom") {
		t.Fatalf("result should carry stderr and the exit code: %q", res.Content)
	}
}
