package builtin

import (
	"context"
	"os"

	"atlas/internal/agent/ports"
)

// DeleteFileTool removes a workspace file. Files the agent produced during
// the task are protected; deleting them needs an explicit force flag, which
// keeps a confused model from destroying its own deliverables.
type DeleteFileTool struct {
	env Env
}

func NewDeleteFileTool(env Env) *DeleteFileTool { return &DeleteFileTool{env: env} }

func (t *DeleteFileTool) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: "delete_file", Category: "filesystem", Dangerous: true}
}

func (t *DeleteFileTool) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "delete_file",
		Description: "Delete a file from the workspace. Protected output files require force=true.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"file_path": {Type: "string", Description: "File path relative to the workspace"},
				"force":     {Type: "boolean", Description: "Set true to delete a protected output file"},
			},
			Required: []string{"file_path"},
		},
	}
}

func (t *DeleteFileTool) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	path, ok := pathArg(call, "file_path")
	if !ok {
		return errResult(call, "delete_file requires a 'file_path' parameter"), nil
	}

	hostPath, err := t.env.Runner.ResolvePath(path)
	if err != nil {
		return errResult(call, "invalid path %q: %v", path, err), nil
	}

	rel := workspaceRelative(t.env.Runner.WorkspaceDir(), hostPath)
	if t.env.Files.IsProtected(rel) && !boolArg(call, "force") {
		return errResult(call, "%s is a protected output file. Pass force=true if you really want to delete it.", rel), nil
	}

	if err := os.Remove(hostPath); err != nil {
		if os.IsNotExist(err) {
			return errResult(call, "file not found: %s", path), nil
		}
		return errResult(call, "delete %q: %v", path, err), nil
	}

	t.env.Files.ForgetFile(rel)
	t.env.Logger.Info("delete_file: %s", rel)
	return &ports.ToolResult{CallID: call.ID, Content: "Deleted " + rel}, nil
}
