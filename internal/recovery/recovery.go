// Package recovery classifies failing observations into known error classes
// and proposes corrective actions with a per-error retry budget. The budget
// is keyed on a normalized pattern hash so retries of the "same" error bind
// against one counter even when paths or line numbers differ.
package recovery

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"atlas/internal/agent/ports"
	"atlas/internal/metrics"
)

// ErrorClass identifies a recognized failure pattern.
type ErrorClass string

const (
	ClassModuleNotFound  ErrorClass = "module_not_found"
	ClassPipInstall      ErrorClass = "pip_install"
	ClassFileNotFound    ErrorClass = "file_not_found"
	ClassPermissionDenied ErrorClass = "permission_denied"
	ClassCommandNotFound ErrorClass = "command_not_found"
	ClassSyntaxError     ErrorClass = "syntax_error"
	ClassTimeout         ErrorClass = "timeout"
	ClassNetworkError    ErrorClass = "network_error"
	ClassUnknown         ErrorClass = "unknown"
)

// ActionType tells the engine how to apply a candidate.
type ActionType string

const (
	ActionExecuteCommand   ActionType = "execute_command"
	ActionNotifyUser       ActionType = "notify_user"
	ActionRetryWithDelay   ActionType = "retry_with_delay"
	ActionRetryWithTimeout ActionType = "retry_with_timeout"
)

// Action is one ranked recovery candidate.
type Action struct {
	Description string
	Type        ActionType
	Params      map[string]any
	Priority    int
}

// Analysis is the advice returned for a failing observation.
type Analysis struct {
	Class  ErrorClass
	Hash   string
	Action *Action
}

// Python import names whose pip package differs. Stable contract consumed
// by the engine's self-healing path.
var pipPackageAliases = map[string]string{
	"cv2":     "opencv-python",
	"PIL":     "Pillow",
	"sklearn": "scikit-learn",
	"yaml":    "PyYAML",
	"bs4":     "beautifulsoup4",
}

// Shell commands provided by a system package rather than pip.
var systemPackageAliases = map[string]string{
	"convert":  "imagemagick",
	"ffmpeg":   "ffmpeg",
	"pdftotext": "poppler-utils",
}

var (
	moduleNotFoundPattern  = regexp.MustCompile(`(?i)(?:ModuleNotFoundError|ImportError).*?['"]([A-Za-z0-9_\.]+)['"]`)
	pipFailurePattern      = regexp.MustCompile(`(?i)pip.*(?:failed|error)|No matching distribution found for ([A-Za-z0-9_\-\.]+)`)
	fileNotFoundPattern    = regexp.MustCompile(`(?i)(?:FileNotFoundError|No such file or directory)[:\s]*.*?['"]?([^\s'"]+)?`)
	permissionPattern      = regexp.MustCompile(`(?i)Permission denied|PermissionError`)
	commandNotFoundPattern = regexp.MustCompile(`(?i)(?:bash: )?([A-Za-z0-9_\-\.]+): command not found|sh: \d+: ([A-Za-z0-9_\-\.]+): not found`)
	syntaxErrorPattern     = regexp.MustCompile(`(?i)SyntaxError|IndentationError`)
	timeoutPattern         = regexp.MustCompile(`(?i)timed? ?out|deadline exceeded`)
	networkPattern         = regexp.MustCompile(`(?i)connection (?:refused|reset|error)|Temporary failure in name resolution|Network is unreachable|Could not resolve host`)
)

// Normalization token substitutions, applied in order. Without these every
// retry would change the hash and the budget would never bind.
var normalizers = []struct {
	re    *regexp.Regexp
	token string
}{
	{regexp.MustCompile(`[A-Fa-f0-9]{8}-[A-Fa-f0-9]{4}-[A-Fa-f0-9]{4}-[A-Fa-f0-9]{4}-[A-Fa-f0-9]{12}`), "<uuid>"},
	{regexp.MustCompile(`0x[0-9A-Fa-f]+`), "<addr>"},
	{regexp.MustCompile(`(?:/[\w.\-]+)+/?`), "<path>"},
	{regexp.MustCompile(`"[^"]*"`), "<str>"},
	{regexp.MustCompile(`'[^']*'`), "<str>"},
	{regexp.MustCompile(`\d+`), "<n>"},
}

// Engine analyzes error strings and tracks per-pattern retry budgets.
type Engine struct {
	maxRetries int
	logger     ports.Logger
	journal    *Journal

	mu       sync.Mutex
	attempts map[string]int
}

// NewEngine builds a recovery engine. journal may be nil.
func NewEngine(maxRetries int, logger ports.Logger, journal *Journal) *Engine {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Engine{
		maxRetries: maxRetries,
		logger:     logger,
		journal:    journal,
		attempts:   make(map[string]int),
	}
}

// Normalize replaces paths, numbers, addresses, UUIDs and quoted strings
// with placeholder tokens so similar errors share a pattern.
func Normalize(errText string) string {
	out := errText
	for _, n := range normalizers {
		out = n.re.ReplaceAllString(out, n.token)
	}
	return strings.TrimSpace(out)
}

// Hash returns the pattern-level identity of an error string.
func Hash(errText string) string {
	sum := sha256.Sum256([]byte(Normalize(errText)))
	return hex.EncodeToString(sum[:8])
}

// Classify maps an error string to its class.
func Classify(errText string) ErrorClass {
	switch {
	case moduleNotFoundPattern.MatchString(errText):
		return ClassModuleNotFound
	case pipFailurePattern.MatchString(errText):
		return ClassPipInstall
	case commandNotFoundPattern.MatchString(errText):
		return ClassCommandNotFound
	case permissionPattern.MatchString(errText):
		return ClassPermissionDenied
	case syntaxErrorPattern.MatchString(errText):
		return ClassSyntaxError
	case fileNotFoundPattern.MatchString(errText) && strings.Contains(strings.ToLower(errText), "no such file"):
		return ClassFileNotFound
	case fileNotFoundPattern.MatchString(errText) && strings.Contains(errText, "FileNotFoundError"):
		return ClassFileNotFound
	case timeoutPattern.MatchString(errText):
		return ClassTimeout
	case networkPattern.MatchString(errText):
		return ClassNetworkError
	default:
		return ClassUnknown
	}
}

// Analyze returns at most one recovery candidate for the error, or nil once
// the per-pattern budget is exhausted or the class is unknown. Every call
// that yields advice consumes one attempt from the budget.
func (e *Engine) Analyze(errText string) *Analysis {
	class := Classify(errText)
	if class == ClassUnknown {
		return nil
	}

	candidates := e.candidatesFor(class, errText)
	if len(candidates) == 0 {
		return nil
	}

	hash := Hash(errText)

	e.mu.Lock()
	used := e.attempts[hash]
	if used >= e.maxRetries {
		e.mu.Unlock()
		e.logger.Warn("Recovery budget exhausted for %s (hash=%s, attempts=%d)", class, hash, used)
		e.record(errText, class, "", false)
		return nil
	}
	e.attempts[hash] = used + 1
	e.mu.Unlock()

	idx := used
	if idx >= len(candidates) {
		idx = len(candidates) - 1
	}
	action := candidates[idx]

	metrics.Recoveries.WithLabelValues(string(class)).Inc()
	e.logger.Info("Recovery candidate for %s (attempt %d/%d): %s", class, used+1, e.maxRetries, action.Description)
	e.record(errText, class, action.Description, true)

	return &Analysis{Class: class, Hash: hash, Action: &action}
}

// Attempts reports how many times the budget for errText has been consumed.
func (e *Engine) Attempts(errText string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempts[Hash(errText)]
}

func (e *Engine) record(errText string, class ErrorClass, solution string, advised bool) {
	if e.journal == nil {
		return
	}
	e.journal.Record(Entry{
		Hash:              Hash(errText),
		NormalizedPattern: Normalize(errText),
		Sample:            truncate(errText, 400),
		Class:             string(class),
		Solution:          solution,
		Success:           advised,
	})
}

func (e *Engine) candidatesFor(class ErrorClass, errText string) []Action {
	switch class {
	case ClassModuleNotFound:
		module := firstGroup(moduleNotFoundPattern, errText)
		if module == "" {
			return nil
		}
		// Only the top-level package is installable.
		module = strings.SplitN(module, ".", 2)[0]
		pkg := module
		if alias, ok := pipPackageAliases[module]; ok {
			pkg = alias
		}
		return []Action{
			{
				Description: fmt.Sprintf("Install missing Python package %s", pkg),
				Type:        ActionExecuteCommand,
				Params:      map[string]any{"command": "pip install " + pkg},
				Priority:    1,
			},
			{
				Description: fmt.Sprintf("Install %s for the current user", pkg),
				Type:        ActionExecuteCommand,
				Params:      map[string]any{"command": "pip install --user " + pkg},
				Priority:    2,
			},
		}

	case ClassPipInstall:
		return []Action{
			{
				Description: "Upgrade pip before retrying the install",
				Type:        ActionExecuteCommand,
				Params:      map[string]any{"command": "pip install --upgrade pip"},
				Priority:    1,
			},
			{
				Description: "Package installation keeps failing; manual intervention needed",
				Type:        ActionNotifyUser,
				Params:      map[string]any{"message": "pip install failed repeatedly"},
				Priority:    2,
			},
		}

	case ClassCommandNotFound:
		cmd := firstGroup(commandNotFoundPattern, errText)
		if cmd == "" {
			return nil
		}
		pkg := cmd
		if alias, ok := systemPackageAliases[cmd]; ok {
			pkg = alias
		}
		return []Action{
			{
				Description: fmt.Sprintf("Install system package %s providing %s", pkg, cmd),
				Type:        ActionExecuteCommand,
				Params:      map[string]any{"command": "apt-get update -qq && apt-get install -y " + pkg},
				Priority:    1,
			},
			{
				Description: fmt.Sprintf("Command %s is unavailable in the sandbox", cmd),
				Type:        ActionNotifyUser,
				Params:      map[string]any{"message": "missing command: " + cmd},
				Priority:    2,
			},
		}

	case ClassFileNotFound:
		path := firstGroup(fileNotFoundPattern, errText)
		if path == "" {
			return []Action{{
				Description: "Referenced file does not exist",
				Type:        ActionNotifyUser,
				Params:      map[string]any{"message": "file not found"},
				Priority:    1,
			}}
		}
		return []Action{
			{
				Description: fmt.Sprintf("Create missing parent directory for %s", path),
				Type:        ActionExecuteCommand,
				Params:      map[string]any{"command": fmt.Sprintf("mkdir -p \"$(dirname '%s')\"", path)},
				Priority:    1,
			},
			{
				Description: fmt.Sprintf("File %s does not exist; it must be created first", path),
				Type:        ActionNotifyUser,
				Params:      map[string]any{"message": "file not found: " + path},
				Priority:    2,
			},
		}

	case ClassPermissionDenied:
		// Advisory only: silently chmod-ing files is worse than telling
		// the model what happened.
		return []Action{{
			Description: "Operation hit a permission boundary; choose a path inside the workspace",
			Type:        ActionNotifyUser,
			Params:      map[string]any{"message": "permission denied"},
			Priority:    1,
		}}

	case ClassSyntaxError:
		return []Action{{
			Description: "Generated code has a syntax error; rewrite the file before re-running",
			Type:        ActionNotifyUser,
			Params:      map[string]any{"message": "syntax error in generated code"},
			Priority:    1,
		}}

	case ClassTimeout:
		return []Action{
			{
				Description: "Retry with a longer timeout",
				Type:        ActionRetryWithTimeout,
				Params:      map[string]any{"multiplier": 2},
				Priority:    1,
			},
		}

	case ClassNetworkError:
		return []Action{
			{
				Description: "Transient network failure; retry after a short delay",
				Type:        ActionRetryWithDelay,
				Params:      map[string]any{"delay_seconds": 5},
				Priority:    1,
			},
			{
				Description: "Network remains unreachable from the sandbox",
				Type:        ActionNotifyUser,
				Params:      map[string]any{"message": "network unreachable"},
				Priority:    2,
			},
		}
	}
	return nil
}

func firstGroup(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	for _, g := range m[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
