// Package builtin ships the runtime's standard tool set. Tools never fail
// across the executor boundary: every problem is encoded in the observation
// string, prefixed with "Error", so the model can react to it.
package builtin

import (
	"fmt"
	"time"

	"atlas/internal/agent/ports"
)

// Env carries the session-scoped collaborators tools execute against.
type Env struct {
	Runner ports.CommandRunner
	Files  ports.FileRegistry
	Logger ports.Logger
	// CommandTimeout bounds a single sandbox command (default 300s).
	CommandTimeout time.Duration
}

func (e Env) commandTimeout() time.Duration {
	if e.CommandTimeout > 0 {
		return e.CommandTimeout
	}
	return 300 * time.Second
}

func errResult(call ports.ToolCall, format string, args ...any) *ports.ToolResult {
	return &ports.ToolResult{
		CallID:  call.ID,
		Content: "Error: " + fmt.Sprintf(format, args...),
	}
}

func stringArg(call ports.ToolCall, key string) (string, bool) {
	v, ok := call.Arguments[key].(string)
	return v, ok && v != ""
}

// pathArg resolves a path-like argument under the tool's documented name,
// falling back to the shorthand "path" some models emit instead.
func pathArg(call ports.ToolCall, primary string) (string, bool) {
	if v, ok := stringArg(call, primary); ok {
		return v, true
	}
	return stringArg(call, "path")
}

func boolArg(call ports.ToolCall, key string) bool {
	switch v := call.Arguments[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1" || v == "yes"
	default:
		return false
	}
}

func intArg(call ports.ToolCall, key string, fallback int) int {
	switch v := call.Arguments[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}
