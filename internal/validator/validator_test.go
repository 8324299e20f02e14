package validator

import (
	"strings"
	"testing"
)

func TestValidateWriteFilePython(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    Status
	}{
		{"valid", "def main():\n    print('hi')\n", StatusValid},
		{"missing colon", "def main\n    print('hi')\n", StatusInvalid},
		{"unbalanced brackets", "x = [1, 2\nprint(x)\n", StatusInvalid},
		{"class header", "class Report:\n    pass\n", StatusValid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := ValidateAction("write_file", "Successfully wrote 20 bytes to main.py", map[string]any{
				"file_path": "main.py",
				"content":   tc.content,
			})
			if r.Status != tc.want {
				t.Fatalf("got %s (%s), want %s", r.Status, r.Message, tc.want)
			}
		})
	}
}

func TestValidateWriteFileJSON(t *testing.T) {
	r := ValidateAction("write_file", "Successfully wrote 10 bytes to data.json", map[string]any{
		"file_path": "data.json",
		"content":   `{"a": 1,}`,
	})
	if r.Status != StatusInvalid {
		t.Fatalf("trailing comma should be invalid, got %s", r.Status)
	}
	if !strings.Contains(r.Message, "line") {
		t.Fatalf("message should locate the error: %q", r.Message)
	}

	r = ValidateAction("write_file", "Successfully wrote 10 bytes to data.json", map[string]any{
		"file_path": "data.json",
		"content":   `{"a": 1}`,
	})
	if r.Status != StatusValid {
		t.Fatalf("well-formed JSON should be valid, got %s (%s)", r.Status, r.Message)
	}
}

func TestValidateWriteFileEmptyText(t *testing.T) {
	r := ValidateAction("write_file", "Successfully wrote 0 bytes to notes.txt", map[string]any{
		"path":    "notes.txt",
		"content": "   \n",
	})
	if r.Status != StatusWarning {
		t.Fatalf("empty text should warn, got %s", r.Status)
	}
}

func TestValidateWriteFileErrorResult(t *testing.T) {
	r := ValidateAction("write_file", "Error: path escapes the workspace", map[string]any{
		"file_path": "x.txt",
		"content":   "hi",
	})
	if r.Status != StatusInvalid {
		t.Fatalf("error observations should be invalid, got %s", r.Status)
	}
}

func TestValidateExecuteCommand(t *testing.T) {
	cases := []struct {
		name   string
		result string
		want   Status
	}{
		{"clean exit", "hello\nexit code: 0", StatusValid},
		{"missing binary", "bash: convert: command not found\nexit code: 127", StatusInvalid},
		{"python traceback", "Traceback (most recent call last):\n  File ...\nModuleNotFoundError", StatusInvalid},
		{"non-zero exit", "something happened\nexit code: 1", StatusInvalid},
		{"no signal either way", "some output", StatusWarning},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := ValidateAction("execute_command", tc.result, nil)
			if r.Status != tc.want {
				t.Fatalf("got %s (%s), want %s", r.Status, r.Message, tc.want)
			}
		})
	}
}

func TestValidateReadFile(t *testing.T) {
	if r := ValidateAction("read_file", "file contents here", nil); r.Status != StatusValid {
		t.Fatalf("got %s", r.Status)
	}
	if r := ValidateAction("read_file", "Error: file not found: x.txt", nil); r.Status != StatusInvalid {
		t.Fatalf("got %s", r.Status)
	}
	if r := ValidateAction("read_file", "  ", nil); r.Status != StatusWarning {
		t.Fatalf("empty reads should warn, got %s", r.Status)
	}
}

func TestUnknownActionSkips(t *testing.T) {
	r := ValidateAction("calculator", "345", nil)
	if r.Status != StatusSkipped {
		t.Fatalf("unknown actions must be skipped, got %s", r.Status)
	}
}

func TestTaskVerdict(t *testing.T) {
	v := &TaskValidator{}
	v.Observe("execute_command", "done\nexit code: 0", nil)
	v.Observe("execute_command", "ok\nexit code: 0", nil)
	v.Observe("execute_command", "boom: command not found", nil)
	if got := v.Verdict(); got != StatusWarning {
		t.Fatalf("minority failures should yield warning, got %s", got)
	}

	v = &TaskValidator{}
	v.Observe("execute_command", "boom: command not found", nil)
	v.Observe("execute_command", "Traceback (most recent call last):", nil)
	v.Observe("execute_command", "done\nexit code: 0", nil)
	if got := v.Verdict(); got != StatusInvalid {
		t.Fatalf("majority failures should yield invalid, got %s", got)
	}

	v = &TaskValidator{}
	if got := v.Verdict(); got != StatusValid {
		t.Fatalf("no observations should yield valid, got %s", got)
	}
}
