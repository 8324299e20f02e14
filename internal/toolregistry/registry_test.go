package toolregistry

import (
	"context"
	"errors"
	"testing"

	"atlas/internal/agent/ports"
)

type stubTool struct {
	name string
	desc string
}

func (s *stubTool) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	return &ports.ToolResult{CallID: call.ID, Content: s.name}, nil
}

func (s *stubTool) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{Name: s.name, Description: s.desc}
}

func (s *stubTool) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: s.name}
}

func TestRegisterAndGet(t *testing.T) {
	r := New()
	r.Register(&stubTool{name: "calculator"})

	tool, err := r.Get("calculator")
	if err != nil {
		t.Fatal(err)
	}
	if tool.Definition().Name != "calculator" {
		t.Fatalf("unexpected tool: %s", tool.Definition().Name)
	}
}

func TestGetUnknownTool(t *testing.T) {
	r := New()
	_, err := r.Get("nonexistent")
	if !errors.Is(err, ports.ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
}

func TestListPreservesRegistrationOrder(t *testing.T) {
	r := New()
	names := []string{"calculator", "write_file", "execute_command"}
	for _, n := range names {
		r.Register(&stubTool{name: n})
	}

	defs := r.List()
	if len(defs) != len(names) {
		t.Fatalf("expected %d tools, got %d", len(names), len(defs))
	}
	for i, d := range defs {
		if d.Name != names[i] {
			t.Fatalf("position %d: got %s, want %s", i, d.Name, names[i])
		}
	}
}

func TestReRegisterOverwritesInPlace(t *testing.T) {
	r := New()
	r.Register(&stubTool{name: "web_search", desc: "original"})
	r.Register(&stubTool{name: "write_file"})
	r.Register(&stubTool{name: "web_search", desc: "replacement"})

	defs := r.List()
	if len(defs) != 2 {
		t.Fatalf("overwrite must not grow the registry: %d", len(defs))
	}
	if defs[0].Name != "web_search" || defs[0].Description != "replacement" {
		t.Fatalf("overwrite should keep position and swap the binding: %+v", defs[0])
	}

	tool, err := r.Get("web_search")
	if err != nil {
		t.Fatal(err)
	}
	if tool.Definition().Description != "replacement" {
		t.Fatal("Get returned the stale binding")
	}
}
