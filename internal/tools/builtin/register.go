package builtin

import (
	"os"

	"atlas/internal/agent/ports"
)

// RegisterAll wires the standard tool set into a registry for one session.
func RegisterAll(registry ports.ToolRegistry, env Env) {
	registry.Register(NewCalculatorTool())
	registry.Register(NewExecuteCommandTool(env))
	registry.Register(NewWriteFileTool(env))
	registry.Register(NewReadFileTool(env))
	registry.Register(NewDeleteFileTool(env))
	registry.Register(NewListDirectoryTool(env))
	registry.Register(NewWebSearchTool(os.Getenv("TAVILY_API_KEY"), env.Logger))
	registry.Register(NewWebFetchTool(env.Logger))
	registry.Register(NewCreatePDFTool(env))
}
