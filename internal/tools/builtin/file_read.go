package builtin

import (
	"context"
	"fmt"
	"os"

	"atlas/internal/agent/ports"
)

// maxReadBytes keeps a single observation from flooding the model context.
const maxReadBytes = 256 * 1024

// ReadFileTool reads a workspace file.
type ReadFileTool struct {
	env Env
}

func NewReadFileTool(env Env) *ReadFileTool { return &ReadFileTool{env: env} }

func (t *ReadFileTool) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: "read_file", Category: "filesystem"}
}

func (t *ReadFileTool) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "read_file",
		Description: "Read the content of a file in the workspace.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"file_path": {Type: "string", Description: "File path relative to the workspace"},
			},
			Required: []string{"file_path"},
		},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	path, ok := pathArg(call, "file_path")
	if !ok {
		return errResult(call, "read_file requires a 'file_path' parameter"), nil
	}

	hostPath, err := t.env.Runner.ResolvePath(path)
	if err != nil {
		return errResult(call, "invalid path %q: %v", path, err), nil
	}

	info, err := os.Stat(hostPath)
	if err != nil {
		if os.IsNotExist(err) {
			return errResult(call, "file not found: %s", path), nil
		}
		return errResult(call, "stat %q: %v", path, err), nil
	}
	if info.IsDir() {
		return errResult(call, "%s is a directory, use list_directory instead", path), nil
	}

	data, err := os.ReadFile(hostPath)
	if err != nil {
		return errResult(call, "read %q: %v", path, err), nil
	}

	content := string(data)
	if len(content) > maxReadBytes {
		content = content[:maxReadBytes] + fmt.Sprintf("\n... (truncated, %d bytes total)", len(data))
	}
	return &ports.ToolResult{CallID: call.ID, Content: content}, nil
}
