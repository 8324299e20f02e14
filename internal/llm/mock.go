package llm

import (
	"context"
	"fmt"
	"sync"

	"atlas/internal/agent/ports"
)

// MockClient replays a scripted queue of responses. Tests drive the engine
// deterministically by enqueueing Thought/Action turns.
type MockClient struct {
	mu        sync.Mutex
	responses []string
	calls     int
	// Requests records every request for assertions.
	Requests []ports.CompletionRequest
	// Err, when set, is returned instead of a response.
	Err error
	// Delay is applied before answering, to exercise timeouts and
	// cancellation. The context is honoured while waiting.
	Delay func(ctx context.Context) error
}

// NewMockClient builds a scripted client.
func NewMockClient(responses ...string) *MockClient {
	return &MockClient{responses: responses}
}

// Enqueue appends further scripted responses.
func (m *MockClient) Enqueue(responses ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, responses...)
}

// Calls reports how many completions were requested.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockClient) Model() string { return "mock" }

func (m *MockClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	if m.Delay != nil {
		if err := m.Delay(ctx); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return nil, m.Err
	}
	if m.calls >= len(m.responses) {
		return nil, fmt.Errorf("mock LLM exhausted after %d responses", len(m.responses))
	}
	content := m.responses[m.calls]
	m.calls++
	return &ports.CompletionResponse{Content: content}, nil
}
