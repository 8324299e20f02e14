package builtin

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	"atlas/internal/agent/ports"
)

// WriteFileTool creates or overwrites a file inside the workspace. Written
// files are registered with the session and auto-protected against deletion.
type WriteFileTool struct {
	env Env
}

func NewWriteFileTool(env Env) *WriteFileTool { return &WriteFileTool{env: env} }

func (t *WriteFileTool) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: "write_file", Category: "filesystem"}
}

func (t *WriteFileTool) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "write_file",
		Description: "Write content to a file in the workspace, creating parent directories as needed. Overwrites existing files.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"file_path": {Type: "string", Description: "File path relative to the workspace"},
				"content":   {Type: "string", Description: "Full file content"},
			},
			Required: []string{"file_path", "content"},
		},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	path, ok := pathArg(call, "file_path")
	if !ok {
		return errResult(call, "write_file requires a 'file_path' parameter"), nil
	}
	content, ok := call.Arguments["content"].(string)
	if !ok {
		return errResult(call, "write_file requires a 'content' parameter"), nil
	}

	hostPath, err := t.env.Runner.ResolvePath(path)
	if err != nil {
		return errResult(call, "invalid path %q: %v", path, err), nil
	}

	if err := os.MkdirAll(filepath.Dir(hostPath), 0755); err != nil {
		return errResult(call, "create directories for %q: %v", path, err), nil
	}
	if err := os.WriteFile(hostPath, []byte(content), 0644); err != nil {
		return errResult(call, "write %q: %v", path, err), nil
	}

	rel := workspaceRelative(t.env.Runner.WorkspaceDir(), hostPath)
	t.env.Files.RegisterFile(rel, true)
	t.env.Logger.Info("write_file: %s (%d bytes)", rel, len(content))

	return &ports.ToolResult{
		CallID:      call.ID,
		Content:     formatWriteResult(rel, len(content)),
		FileCreated: &ports.FileCreated{Path: rel, Content: previewContent(content)},
	}, nil
}

func formatWriteResult(path string, n int) string {
	return "Successfully wrote " + strconv.Itoa(n) + " bytes to " + path
}

func workspaceRelative(workspace, hostPath string) string {
	rel, err := filepath.Rel(workspace, hostPath)
	if err != nil {
		return hostPath
	}
	return rel
}

// previewContent caps what travels over the event stream for large files.
func previewContent(content string) string {
	const max = 64 * 1024
	if len(content) <= max {
		return content
	}
	return content[:max]
}
