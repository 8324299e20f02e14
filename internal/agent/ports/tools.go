package ports

import (
	"context"
	"errors"
	"strings"
)

// ErrToolNotFound is returned by registries when a name has no binding.
var ErrToolNotFound = errors.New("tool not found")

// ToolExecutor executes a single tool call.
//
// Contract: tools never fail across this boundary. Argument problems and
// runtime failures are encoded in the result content as a string starting
// with "Error", which is what the model observes on the next turn. A non-nil
// Go error is reserved for context cancellation.
type ToolExecutor interface {
	// Execute runs the tool with given arguments.
	Execute(ctx context.Context, call ToolCall) (*ToolResult, error)

	// Definition returns the tool's schema for the LLM prompt.
	Definition() ToolDefinition

	// Metadata returns tool metadata.
	Metadata() ToolMetadata
}

// ToolRegistry manages available tools.
type ToolRegistry interface {
	// Register adds a tool; re-registering a name overwrites the previous
	// binding (last registration wins, which lets tests swap providers).
	Register(tool ToolExecutor)

	// Get retrieves a tool by name, or ErrToolNotFound.
	Get(name string) (ToolExecutor, error)

	// List returns all tool definitions in registration order.
	List() []ToolDefinition
}

// ToolCall represents a request to execute a tool.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	SessionID string         `json:"session_id,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
}

// ToolResult is the execution result. Content is the observation surfaced to
// the model.
type ToolResult struct {
	CallID      string       `json:"call_id"`
	Content     string       `json:"content"`
	FileCreated *FileCreated `json:"file_created,omitempty"`
}

// IsError reports whether the observation encodes a failure.
func (r *ToolResult) IsError() bool {
	return r != nil && strings.HasPrefix(strings.TrimSpace(r.Content), "Error")
}

// ToolDefinition describes a tool for the LLM.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  ParameterSchema `json:"parameters"`
}

// ToolMetadata contains tool information.
type ToolMetadata struct {
	Name            string `json:"name"`
	Category        string `json:"category"`
	RequiresSandbox bool   `json:"requires_sandbox"`
	Dangerous       bool   `json:"dangerous"`
}

// ParameterSchema defines tool parameters (JSON Schema format).
type ParameterSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property defines a single parameter.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Enum        []any  `json:"enum,omitempty"`
}
