package builtin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"atlas/internal/agent/ports"
)

// ExecuteCommandTool runs a shell command inside the session sandbox.
type ExecuteCommandTool struct {
	env Env
}

func NewExecuteCommandTool(env Env) *ExecuteCommandTool {
	return &ExecuteCommandTool{env: env}
}

func (t *ExecuteCommandTool) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: "execute_command", Category: "sandbox", RequiresSandbox: true, Dangerous: true}
}

func (t *ExecuteCommandTool) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "execute_command",
		Description: "Run a shell command in the isolated workspace container. Returns stdout, stderr and the exit code.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"command": {Type: "string", Description: "Shell command to run, e.g. 'python3 script.py'"},
			},
			Required: []string{"command"},
		},
	}
}

func (t *ExecuteCommandTool) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	command, ok := stringArg(call, "command")
	if !ok {
		return errResult(call, "execute_command requires a 'command' parameter"), nil
	}

	timeout := t.env.commandTimeout()
	if secs := intArg(call, "timeout", 0); secs > 0 && time.Duration(secs)*time.Second < timeout {
		timeout = time.Duration(secs) * time.Second
	}

	t.env.Logger.Debug("execute_command: %s (timeout=%s)", command, timeout)
	res, err := t.env.Runner.Execute(ctx, command, timeout)
	if err != nil {
		if errors.Is(err, ports.ErrSandboxUnavailable) {
			return errResult(call, "sandbox unavailable: %v", err), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return errResult(call, "command failed to start: %v", err), nil
	}

	return &ports.ToolResult{CallID: call.ID, Content: formatExecResult(command, res, timeout)}, nil
}

func formatExecResult(command string, res *ports.ExecResult, timeout time.Duration) string {
	var b strings.Builder
	if res.ExitCode == 124 {
		fmt.Fprintf(&b, "Error: command timed out after %s\n", timeout)
	} else if res.ExitCode != 0 {
		fmt.Fprintf(&b, "Error: command exited with code %d\n", res.ExitCode)
	}
	if out := strings.TrimRight(res.Stdout, "\n"); out != "" {
		b.WriteString(out)
		b.WriteString("\n")
	}
	if errOut := strings.TrimRight(res.Stderr, "\n"); errOut != "" {
		b.WriteString("stderr: ")
		b.WriteString(errOut)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "exit code: %d", res.ExitCode)
	return b.String()
}
