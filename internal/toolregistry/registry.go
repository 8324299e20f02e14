// Package toolregistry maps tool names to executors. Registration order is
// preserved so the system prompt enumerates tools deterministically, and
// duplicate names overwrite (last registration wins) so tests can swap
// providers for individual tools.
package toolregistry

import (
	"fmt"
	"sync"

	"atlas/internal/agent/ports"
)

// Registry implements ports.ToolRegistry.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]ports.ToolExecutor
	order []string
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{tools: make(map[string]ports.ToolExecutor)}
}

// Register inserts name → tool. Re-registering a name keeps its original
// position in the enumeration order.
func (r *Registry) Register(tool ports.ToolExecutor) {
	name := tool.Definition().Name
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = tool
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (ports.ToolExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrToolNotFound, name)
	}
	return tool, nil
}

// List returns all tool definitions in registration order.
func (r *Registry) List() []ports.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ports.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}
