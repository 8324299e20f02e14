package domain

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"atlas/internal/agent/ports"
	"atlas/internal/llm"
	"atlas/internal/logging"
	"atlas/internal/recovery"
	"atlas/internal/toolregistry"
	"atlas/internal/tools/builtin"
)

// scriptedTool replays canned results and records its calls.
type scriptedTool struct {
	name    string
	results []string
	block   bool

	mu     sync.Mutex
	calls  int
	params []map[string]any
}

func (s *scriptedTool) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = append(s.params, call.Arguments)
	idx := s.calls
	s.calls++
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	return &ports.ToolResult{CallID: call.ID, Content: s.results[idx]}, nil
}

func (s *scriptedTool) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{Name: s.name, Description: "test tool"}
}

func (s *scriptedTool) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: s.name}
}

func (s *scriptedTool) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// eventSink records events in emission order.
type eventSink struct {
	mu     sync.Mutex
	events []ports.AgentEvent
}

func (s *eventSink) OnEvent(event ports.AgentEvent) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

func (s *eventSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.EventType()
	}
	return out
}

func (s *eventSink) has(eventType string) bool {
	for _, t := range s.types() {
		if t == eventType {
			return true
		}
	}
	return false
}

func newTestEngine(client ports.LLMClient, tools ...ports.ToolExecutor) *Engine {
	registry := toolregistry.New()
	for _, tool := range tools {
		registry.Register(tool)
	}
	return NewEngine(client, registry, nil, logging.Nop(), Config{})
}

func TestSolveTaskCalculator(t *testing.T) {
	client := llm.NewMockClient(
		"Thought: I need to multiply.\nAction: calculator({\"expression\": \"15 * 23\"})",
		"Thought: I have the result.\nAction: Final Answer: The result is 345.",
	)
	engine := newTestEngine(client, builtin.NewCalculatorTool())
	sink := &eventSink{}

	result, err := engine.SolveTask(context.Background(), TaskRequest{
		SessionID: "abcd1234",
		Task:      "What is 15 * 23?",
		Listener:  sink,
		Cancel:    NewCancelFlag(),
	})
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(result.FinalAnswer, "345") {
		t.Fatalf("unexpected final answer: %q", result.FinalAnswer)
	}
	if result.StopReason != StopCompleted {
		t.Fatalf("unexpected stop reason: %s", result.StopReason)
	}
	if result.Iterations != 2 {
		t.Fatalf("expected 2 iterations, got %d", result.Iterations)
	}

	// events: thinking, thought, running, working, completed, thinking, thought, final_answer
	types := sink.types()
	want := []string{EventStatus, EventThought, EventActivity, EventStatus, EventActivity, EventStatus, EventThought, EventFinalAnswer}
	if len(types) != len(want) {
		t.Fatalf("unexpected event sequence: %v", types)
	}
	for i, w := range want {
		if types[i] != w {
			t.Fatalf("event %d: want %s, got %s (all: %v)", i, w, types[i], types)
		}
	}

	completed := sink.events[4].(*ActivityEvent)
	if completed.Status != ActivityCompleted || !strings.Contains(completed.Result, "345") {
		t.Fatalf("unexpected completed activity: %+v", completed)
	}
}

func TestSolveTaskLoopDetection(t *testing.T) {
	same := "Thought: looking again.\nAction: echo({\"x\": 1})"
	client := llm.NewMockClient(same, same, same, same)
	echo := &scriptedTool{name: "echo", results: []string{"nothing new"}}
	engine := newTestEngine(client, echo)

	result, err := engine.SolveTask(context.Background(), TaskRequest{
		SessionID: "abcd1234",
		Task:      "loop forever",
		Listener:  &eventSink{},
		Cancel:    NewCancelFlag(),
	})
	if err != nil {
		t.Fatal(err)
	}

	if result.StopReason != StopLoopDetected {
		t.Fatalf("unexpected stop reason: %s", result.StopReason)
	}
	if result.FinalAnswer != "Task stopped due to repeated actions. Last action: echo" {
		t.Fatalf("unexpected final answer: %q", result.FinalAnswer)
	}
	// first two emissions dispatch, the third is skipped with a warning
	if got := echo.callCount(); got != 2 {
		t.Fatalf("expected 2 dispatches before the stop, got %d", got)
	}

	warned := false
	for _, obs := range result.Observations {
		if strings.Contains(obs, "LOOP DETECTED") {
			warned = true
		}
	}
	if !warned {
		t.Fatal("expected a LOOP DETECTED observation before termination")
	}
}

func TestSolveTaskUnknownTool(t *testing.T) {
	client := llm.NewMockClient(
		"Thought: try something odd.\nAction: teleport({})",
		"Thought: ok.\nAction: Final Answer: giving up on teleportation",
	)
	engine := newTestEngine(client, builtin.NewCalculatorTool())

	result, err := engine.SolveTask(context.Background(), TaskRequest{
		SessionID: "abcd1234",
		Task:      "do something",
		Cancel:    NewCancelFlag(),
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Observations) == 0 || !strings.Contains(result.Observations[0], "Unknown tool") {
		t.Fatalf("expected an unknown-tool observation, got %v", result.Observations)
	}
	if result.StopReason != StopCompleted {
		t.Fatalf("unexpected stop reason: %s", result.StopReason)
	}
}

func TestSolveTaskMaxIterations(t *testing.T) {
	client := llm.NewMockClient("rambling without format", "more rambling", "still rambling")
	engine := newTestEngine(client, builtin.NewCalculatorTool())

	result, err := engine.SolveTask(context.Background(), TaskRequest{
		SessionID:     "abcd1234",
		Task:          "never finish",
		MaxIterations: 3,
		Cancel:        NewCancelFlag(),
	})
	if err != nil {
		t.Fatal(err)
	}

	if result.FinalAnswer != "Maximum iterations reached. Unable to complete the task." {
		t.Fatalf("unexpected final answer: %q", result.FinalAnswer)
	}
	if result.StopReason != StopMaxIterations {
		t.Fatalf("unexpected stop reason: %s", result.StopReason)
	}
	if result.Iterations != 3 {
		t.Fatalf("expected 3 iterations, got %d", result.Iterations)
	}
}

func TestSolveTaskInterruptDuringLLMCall(t *testing.T) {
	cancel := NewCancelFlag()
	client := llm.NewMockClient("never delivered")
	client.Delay = func(ctx context.Context) error {
		cancel.Cancel()
		<-ctx.Done()
		return ctx.Err()
	}
	engine := newTestEngine(client, builtin.NewCalculatorTool())
	sink := &eventSink{}

	result, err := engine.SolveTask(context.Background(), TaskRequest{
		SessionID: "abcd1234",
		Task:      "long task",
		Listener:  sink,
		Cancel:    cancel,
	})
	if err != nil {
		t.Fatal(err)
	}

	if !result.Interrupted {
		t.Fatal("expected an interrupted result")
	}
	if result.FinalAnswer != "Task interrupted by user." {
		t.Fatalf("unexpected final answer: %q", result.FinalAnswer)
	}
	if !sink.has(EventInterrupted) {
		t.Fatalf("expected an interrupted event, got %v", sink.types())
	}
	if sink.has(EventFinalAnswer) {
		t.Fatal("interrupted tasks must not emit final_answer")
	}
}

func TestSolveTaskLLMTimeout(t *testing.T) {
	client := llm.NewMockClient("never delivered")
	client.Delay = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	registry := toolregistry.New()
	registry.Register(builtin.NewCalculatorTool())
	engine := NewEngine(client, registry, nil, logging.Nop(), Config{LLMTimeout: 20 * time.Millisecond})

	result, err := engine.SolveTask(context.Background(), TaskRequest{
		SessionID: "abcd1234",
		Task:      "slow model",
		Cancel:    NewCancelFlag(),
	})
	if err != nil {
		t.Fatal(err)
	}

	if result.StopReason != StopLLMError {
		t.Fatalf("unexpected stop reason: %s", result.StopReason)
	}
	if !strings.Contains(result.FinalAnswer, "timed out") {
		t.Fatalf("unexpected final answer: %q", result.FinalAnswer)
	}
}

func TestSolveTaskToolTimeoutContinues(t *testing.T) {
	client := llm.NewMockClient(
		"Thought: run it.\nAction: echo({})",
		"Thought: it hung.\nAction: Final Answer: the tool hung",
	)
	echo := &scriptedTool{name: "echo", block: true}
	registry := toolregistry.New()
	registry.Register(echo)
	engine := NewEngine(client, registry, nil, logging.Nop(), Config{ToolTimeout: 20 * time.Millisecond})

	result, err := engine.SolveTask(context.Background(), TaskRequest{
		SessionID: "abcd1234",
		Task:      "hang",
		Cancel:    NewCancelFlag(),
	})
	if err != nil {
		t.Fatal(err)
	}

	if result.StopReason != StopCompleted {
		t.Fatalf("engine should survive a tool timeout, got %s", result.StopReason)
	}
	found := false
	for _, obs := range result.Observations {
		if strings.Contains(obs, "Tool echo timed out after") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a timeout observation, got %v", result.Observations)
	}
}

func TestSolveTaskSelfHealing(t *testing.T) {
	client := llm.NewMockClient(
		"Thought: run the scraper.\nAction: scrape({})",
		"Thought: done.\nAction: Final Answer: scraped",
	)
	scrape := &scriptedTool{name: "scrape", results: []string{
		"Error: ModuleNotFoundError: No module named 'bs4'",
		"scraped 10 pages",
	}}
	shell := &scriptedTool{name: "execute_command", results: []string{"installed\nexit code: 0"}}

	registry := toolregistry.New()
	registry.Register(scrape)
	registry.Register(shell)
	engine := NewEngine(client, registry, recovery.NewEngine(3, logging.Nop(), nil), logging.Nop(), Config{})
	sink := &eventSink{}

	result, err := engine.SolveTask(context.Background(), TaskRequest{
		SessionID: "abcd1234",
		Task:      "scrape the site",
		Listener:  sink,
		Cancel:    NewCancelFlag(),
	})
	if err != nil {
		t.Fatal(err)
	}

	if result.StopReason != StopCompleted {
		t.Fatalf("unexpected stop reason: %s", result.StopReason)
	}
	if shell.callCount() != 1 {
		t.Fatalf("expected one recovery command, got %d", shell.callCount())
	}
	cmd, _ := shell.params[0]["command"].(string)
	if cmd != "pip install beautifulsoup4" {
		t.Fatalf("unexpected recovery command: %q", cmd)
	}
	if scrape.callCount() != 2 {
		t.Fatalf("expected the original tool to be retried once, got %d calls", scrape.callCount())
	}
	if !sink.has(EventRecovery) {
		t.Fatalf("expected a recovery event, got %v", sink.types())
	}

	// the retry's observation is what the model sees
	retried := false
	for _, obs := range result.Observations {
		if strings.Contains(obs, "scraped 10 pages") {
			retried = true
		}
	}
	if !retried {
		t.Fatalf("expected the retry observation, got %v", result.Observations)
	}
}

func TestSuggestionsInjectedBeforeNextTurn(t *testing.T) {
	client := llm.NewMockClient(
		"Thought: working.\nAction: calculator({\"expression\": \"1+1\"})",
		"Thought: done.\nAction: Final Answer: 2",
	)
	engine := newTestEngine(client, builtin.NewCalculatorTool())

	delivered := false
	suggestions := func() []string {
		if delivered {
			return nil
		}
		delivered = true
		return []string{"use metric units"}
	}

	_, err := engine.SolveTask(context.Background(), TaskRequest{
		SessionID:   "abcd1234",
		Task:        "add",
		Suggestions: suggestions,
		Cancel:      NewCancelFlag(),
	})
	if err != nil {
		t.Fatal(err)
	}

	found := false
	for _, req := range client.Requests {
		for _, m := range req.Messages {
			if m.Role == "user" && strings.Contains(m.Content, "use metric units") {
				found = true
			}
		}
	}
	if !found {
		t.Fatal("suggestion never reached the model")
	}
}
