package builtin

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"atlas/internal/agent/ports"
)

// ListDirectoryTool enumerates workspace directory entries.
type ListDirectoryTool struct {
	env Env
}

func NewListDirectoryTool(env Env) *ListDirectoryTool { return &ListDirectoryTool{env: env} }

func (t *ListDirectoryTool) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: "list_directory", Category: "filesystem"}
}

func (t *ListDirectoryTool) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "list_directory",
		Description: "List files and directories in a workspace directory. Defaults to the workspace root.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"directory_path": {Type: "string", Description: "Directory path relative to the workspace (optional)"},
			},
		},
	}
}

func (t *ListDirectoryTool) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	path, _ := pathArg(call, "directory_path")
	if path == "" {
		path = "."
	}

	hostPath, err := t.env.Runner.ResolvePath(path)
	if err != nil {
		return errResult(call, "invalid path %q: %v", path, err), nil
	}

	entries, err := os.ReadDir(hostPath)
	if err != nil {
		if os.IsNotExist(err) {
			return errResult(call, "directory not found: %s", path), nil
		}
		return errResult(call, "list %q: %v", path, err), nil
	}

	if len(entries) == 0 {
		return &ports.ToolResult{CallID: call.ID, Content: "(empty directory)"}, nil
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var b strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			fmt.Fprintf(&b, "%s/\n", entry.Name())
			continue
		}
		size := int64(0)
		if info, err := entry.Info(); err == nil {
			size = info.Size()
		}
		fmt.Fprintf(&b, "%s (%d bytes)\n", entry.Name(), size)
	}
	return &ports.ToolResult{CallID: call.ID, Content: strings.TrimRight(b.String(), "\n")}, nil
}
