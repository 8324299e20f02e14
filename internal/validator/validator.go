// Package validator performs post-action structural checks on tool results
// and aggregates them into a task-level verdict.
package validator

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Status is the outcome of a single validation.
type Status string

const (
	StatusValid   Status = "valid"
	StatusInvalid Status = "invalid"
	StatusWarning Status = "warning"
	StatusSkipped Status = "skipped"
)

// Result carries the verdict for one action.
type Result struct {
	Status      Status         `json:"status"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	Suggestions []string       `json:"suggestions,omitempty"`
}

var (
	errorMarkerPattern = regexp.MustCompile(`(?i)^error|error:|failed to|exception`)
	commandFailures    = []string{
		"command not found",
		"No such file or directory",
		"Permission denied",
		"Traceback (most recent call last)",
	}
	commandSuccesses = []string{
		"exit code: 0",
		"successfully",
		"done",
		"completed",
	}
	pythonSyntaxPattern = regexp.MustCompile(`(?m)^\s*(?:def|class)\s+[^\s(:]+$`)
)

// ValidateAction checks a tool result against per-tool heuristics.
// Unrecognized actions return skipped.
func ValidateAction(action, result string, params map[string]any) Result {
	switch action {
	case "write_file":
		return validateWriteFile(result, params)
	case "execute_command":
		return validateExecuteCommand(result)
	case "read_file":
		return validateReadFile(result)
	case "create_pdf":
		return validateSurface(result, "PDF generation")
	case "web_search":
		return validateSurface(result, "web search")
	default:
		return Result{Status: StatusSkipped, Message: fmt.Sprintf("no validation for action %q", action)}
	}
}

func validateWriteFile(result string, params map[string]any) Result {
	if errorMarkerPattern.MatchString(strings.TrimSpace(result)) {
		return Result{Status: StatusInvalid, Message: "write_file reported an error", Details: map[string]any{"result": result}}
	}

	path, _ := params["file_path"].(string)
	if path == "" {
		// some models emit the shorthand argument name
		path, _ = params["path"].(string)
	}
	content, _ := params["content"].(string)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".py":
		if line, msg, ok := checkPythonSurface(content); !ok {
			return Result{
				Status:  StatusInvalid,
				Message: fmt.Sprintf("python syntax problem at line %d: %s", line, msg),
				Details: map[string]any{"line": line},
				Suggestions: []string{
					"Rewrite the file with balanced blocks and complete statements",
				},
			}
		}
	case ".json":
		var v any
		if err := json.Unmarshal([]byte(content), &v); err != nil {
			line, col := offsetToLineCol(content, jsonErrorOffset(err))
			return Result{
				Status:  StatusInvalid,
				Message: fmt.Sprintf("invalid JSON at line %d, column %d: %v", line, col, err),
				Details: map[string]any{"line": line, "column": col},
			}
		}
	case ".txt", ".md":
		if strings.TrimSpace(content) == "" {
			return Result{Status: StatusWarning, Message: "file content is empty"}
		}
	}

	return Result{Status: StatusValid, Message: "file written"}
}

// checkPythonSurface is a structural smoke test, not a parser: it flags
// headers with no trailing colon and unbalanced brackets, the two failure
// shapes the model actually produces.
func checkPythonSurface(content string) (line int, msg string, ok bool) {
	depth := 0
	for i, l := range strings.Split(content, "\n") {
		for _, r := range l {
			switch r {
			case '(', '[', '{':
				depth++
			case ')', ']', '}':
				depth--
			}
		}
		trimmed := strings.TrimSpace(l)
		if pythonSyntaxPattern.MatchString(l) && !strings.HasSuffix(trimmed, ":") {
			return i + 1, "block header missing ':'", false
		}
	}
	if depth != 0 {
		return len(strings.Split(content, "\n")), "unbalanced brackets", false
	}
	return 0, "", true
}

func validateExecuteCommand(result string) Result {
	for _, marker := range commandFailures {
		if strings.Contains(result, marker) {
			return Result{
				Status:  StatusInvalid,
				Message: fmt.Sprintf("command output contains failure marker %q", marker),
				Details: map[string]any{"marker": marker},
			}
		}
	}
	lower := strings.ToLower(result)
	for _, marker := range commandSuccesses {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return Result{Status: StatusValid, Message: "command succeeded"}
		}
	}
	if strings.Contains(result, "exit code:") && !strings.Contains(result, "exit code: 0") {
		return Result{Status: StatusInvalid, Message: "command exited non-zero"}
	}
	return Result{Status: StatusWarning, Message: "command outcome unclear"}
}

func validateReadFile(result string) Result {
	if errorMarkerPattern.MatchString(strings.TrimSpace(result)) {
		return Result{Status: StatusInvalid, Message: "read_file reported an error"}
	}
	if strings.TrimSpace(result) == "" {
		return Result{Status: StatusWarning, Message: "file is empty"}
	}
	return Result{Status: StatusValid, Message: "file read"}
}

func validateSurface(result, what string) Result {
	if errorMarkerPattern.MatchString(strings.TrimSpace(result)) {
		return Result{Status: StatusInvalid, Message: what + " reported an error"}
	}
	return Result{Status: StatusValid, Message: what + " succeeded"}
}

func jsonErrorOffset(err error) int64 {
	if se, ok := err.(*json.SyntaxError); ok {
		return se.Offset
	}
	if te, ok := err.(*json.UnmarshalTypeError); ok {
		return te.Offset
	}
	return 0
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}
	line, col := 1, 1
	for i, r := range content {
		if int64(i) >= offset {
			break
		}
		if r == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}

// TaskValidator aggregates per-action validations over one task run.
type TaskValidator struct {
	results []Result
}

// Observe validates one action and remembers the verdict.
func (t *TaskValidator) Observe(action, result string, params map[string]any) Result {
	r := ValidateAction(action, result, params)
	t.results = append(t.results, r)
	return r
}

// Verdict decides the task-level status: invalid when failures outnumber
// successes, warning when any failures occurred, valid otherwise.
func (t *TaskValidator) Verdict() Status {
	var failed, succeeded int
	for _, r := range t.results {
		switch r.Status {
		case StatusInvalid:
			failed++
		case StatusValid:
			succeeded++
		}
	}
	switch {
	case failed > succeeded:
		return StatusInvalid
	case failed > 0:
		return StatusWarning
	default:
		return StatusValid
	}
}
