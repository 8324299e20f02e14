// Package domain contains the runtime's core: the ReAct engine that drives
// an LLM through think / act / observe iterations, plus the event model the
// transport streams to clients.
package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"atlas/internal/agent/ports"
	"atlas/internal/metrics"
	"atlas/internal/parser"
	"atlas/internal/recovery"
	"atlas/internal/validator"
	id "atlas/internal/utils/id"
)

// Terminal answers the engine synthesizes itself.
const (
	msgMaxIterations = "Maximum iterations reached. Unable to complete the task."
	msgInterrupted   = "Task interrupted by user."
	msgLoopStopped   = "Task stopped due to repeated actions. Last action: "
	msgLLMTimeout    = "LLM request timed out. Unable to complete the task."
)

// Stop reasons recorded on TaskResult.
const (
	StopCompleted     = "completed"
	StopMaxIterations = "max_iterations"
	StopLoopDetected  = "loop_detected"
	StopInterrupted   = "interrupted"
	StopLLMError      = "llm_error"
)

// Config tunes one engine instance.
type Config struct {
	MaxIterations  int
	LLMTimeout     time.Duration
	ToolTimeout    time.Duration
	LoopWarnCount  int
	LoopAbortCount int
	Temperature    float64
	MaxTokens      int
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:  100,
		LLMTimeout:     120 * time.Second,
		ToolTimeout:    300 * time.Second,
		LoopWarnCount:  2,
		LoopAbortCount: 3,
		Temperature:    0.3,
		MaxTokens:      4096,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = d.LLMTimeout
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = d.ToolTimeout
	}
	if c.LoopWarnCount <= 0 {
		c.LoopWarnCount = d.LoopWarnCount
	}
	if c.LoopAbortCount <= 0 {
		c.LoopAbortCount = d.LoopAbortCount
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	return c
}

// TaskRequest describes one task execution.
type TaskRequest struct {
	SessionID string
	Task      string

	// MaxIterations overrides the engine default when > 0 (plan steps and
	// direct mode run with tighter budgets).
	MaxIterations int

	// History is the compact recent slice of the prior conversation.
	History []ports.Message

	// Suggestions, when set, is drained before each model call; returned
	// strings are injected as user-role messages so mid-flight guidance
	// lands on the very next turn.
	Suggestions func() []string

	Listener ports.EventListener
	Cancel   *CancelFlag
}

// TaskResult is the terminal state of one task run.
type TaskResult struct {
	FinalAnswer  string
	Steps        []ports.ReactStep
	Observations []string
	Iterations   int
	Interrupted  bool
	StopReason   string
	Validation   validator.Status
}

// Engine is the ReAct executor. One instance is shared across sessions; all
// per-task state lives in the run.
type Engine struct {
	llm      ports.LLMClient
	registry ports.ToolRegistry
	parser   ports.ResponseParser
	recovery *recovery.Engine
	logger   ports.Logger
	cfg      Config
}

// NewEngine builds a ReAct engine. recoveryEngine may be nil to disable
// self-healing.
func NewEngine(llm ports.LLMClient, registry ports.ToolRegistry, recoveryEngine *recovery.Engine, logger ports.Logger, cfg Config) *Engine {
	return &Engine{
		llm:      llm,
		registry: registry,
		parser:   parser.New(),
		recovery: recoveryEngine,
		logger:   logger,
		cfg:      cfg.withDefaults(),
	}
}

// run is the per-task mutable state.
type run struct {
	req      TaskRequest
	taskID   string
	messages []ports.Message
	steps    []ports.ReactStep
	obs      []string
	loop     *loopDetector
	valid    *validator.TaskValidator
	result   TaskResult
}

func (e *Engine) emit(r *run, event ports.AgentEvent) {
	if r.req.Listener != nil {
		r.req.Listener.OnEvent(event)
	}
}

// SolveTask runs the ReAct loop until a final answer, a safety stop, or
// cancellation. The returned error is non-nil only for setup failures;
// model and tool failures are folded into the result.
func (e *Engine) SolveTask(ctx context.Context, req TaskRequest) (*TaskResult, error) {
	if strings.TrimSpace(req.Task) == "" {
		return nil, errors.New("empty task")
	}

	maxIterations := e.cfg.MaxIterations
	if req.MaxIterations > 0 {
		maxIterations = req.MaxIterations
	}

	r := &run{
		req:    req,
		taskID: id.NewTaskID(),
		loop:   newLoopDetector(),
		valid:  &validator.TaskValidator{},
	}
	r.messages = e.assemblePrompt(req)

	e.logger.Info("Task %s started (session=%s, max_iterations=%d): %s",
		r.taskID, req.SessionID, maxIterations, truncateLog(req.Task, 120))

	for iteration := 0; iteration < maxIterations; iteration++ {
		r.result.Iterations = iteration + 1
		metrics.Iterations.Inc()

		if e.checkCancelled(r) {
			return e.finish(r), nil
		}

		e.emit(r, NewStatusEvent(req.SessionID, StatusThinking))

		if req.Suggestions != nil {
			for _, s := range req.Suggestions() {
				r.messages = append(r.messages, ports.Message{Role: "user", Content: "User suggestion: " + s})
			}
		}

		response, stop := e.think(ctx, r)
		if stop {
			return e.finish(r), nil
		}

		parsed := e.parser.Parse(response)
		if parsed.Thought != "" {
			r.steps = append(r.steps, ports.ThoughtStep(parsed.Thought))
			e.emit(r, NewThoughtEvent(req.SessionID, parsed.Thought))
		}
		r.messages = append(r.messages, ports.Message{Role: "assistant", Content: response})

		if parsed.IsFinal() {
			e.conclude(r, *parsed.FinalAnswer, StopCompleted)
			return e.finish(r), nil
		}

		if !parsed.HasAction() {
			e.observe(r, "No Action line found. Respond with exactly one 'Action: tool_name({...})' line or 'Action: Final Answer: <text>'.")
			continue
		}

		action := parsed.Action
		if action.Name == "" {
			e.observe(r, fmt.Sprintf("Could not parse action %q. Use the format tool_name({\"param\": \"value\"}).", truncateLog(action.Raw, 200)))
			continue
		}

		tool, err := e.registry.Get(action.Name)
		if err != nil {
			e.observe(r, fmt.Sprintf("Unknown tool %q. Available tools: %s.", action.Name, e.toolNames()))
			continue
		}

		// Loop detection happens before dispatch so a stuck model burns no
		// tool budget.
		entry := action.Name + ":" + parser.CanonicalParams(action.Params)
		seen := r.loop.Count(entry)
		r.loop.Record(entry)
		if seen >= e.cfg.LoopAbortCount {
			e.logger.Warn("Task %s stopped by loop detector on %s", r.taskID, action.Name)
			e.conclude(r, msgLoopStopped+action.Name, StopLoopDetected)
			return e.finish(r), nil
		}
		if seen >= e.cfg.LoopWarnCount {
			e.observe(r, fmt.Sprintf("LOOP DETECTED: you have already executed %s with these exact parameters. Change your approach or provide a Final Answer.", action.Name))
			continue
		}

		r.steps = append(r.steps, ports.ActionStep(action.Name, action.Params))

		if e.checkCancelled(r) {
			return e.finish(r), nil
		}

		observation, stop := e.dispatch(ctx, r, tool, action.Name, action.Params, e.cfg.ToolTimeout)
		if stop {
			return e.finish(r), nil
		}

		if verdict := r.valid.Observe(action.Name, observation, action.Params); verdict.Status == validator.StatusInvalid {
			e.logger.Debug("Validator flagged %s: %s", action.Name, verdict.Message)
		}

		if isErrorObservation(observation) {
			healed, stop := e.heal(ctx, r, tool, action.Name, action.Params, observation)
			if stop {
				return e.finish(r), nil
			}
			if healed != "" {
				observation = healed
			}
		}

		e.observe(r, observation)
	}

	e.logger.Warn("Task %s hit the iteration limit (%d)", r.taskID, maxIterations)
	e.conclude(r, msgMaxIterations, StopMaxIterations)
	return e.finish(r), nil
}

// think calls the model under the per-call timeout. stop=true means the run
// is already concluded.
func (e *Engine) think(ctx context.Context, r *run) (string, bool) {
	opCtx, release := r.req.Cancel.scope(ctx)
	defer release()
	llmCtx, cancel := context.WithTimeout(opCtx, e.cfg.LLMTimeout)
	defer cancel()

	resp, err := e.llm.Complete(llmCtx, ports.CompletionRequest{
		Messages:    r.messages,
		Temperature: e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
	})

	if e.checkCancelled(r) {
		return "", true
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			e.logger.Error("Task %s: LLM call timed out after %s", r.taskID, e.cfg.LLMTimeout)
			e.conclude(r, msgLLMTimeout, StopLLMError)
			return "", true
		}
		e.logger.Error("Task %s: LLM call failed: %v", r.taskID, err)
		e.conclude(r, "LLM request failed: "+err.Error(), StopLLMError)
		return "", true
	}
	return resp.Content, false
}

// dispatch executes one tool call with activity events around it. stop=true
// means the run was cancelled mid-dispatch.
func (e *Engine) dispatch(ctx context.Context, r *run, tool ports.ToolExecutor, name string, params map[string]any, timeout time.Duration) (string, bool) {
	e.emit(r, NewActivityRunning(r.req.SessionID, name, params))
	e.emit(r, NewStatusEvent(r.req.SessionID, StatusWorking))

	opCtx, release := r.req.Cancel.scope(ctx)
	defer release()
	toolCtx, cancel := context.WithTimeout(opCtx, timeout)
	defer cancel()

	result, err := tool.Execute(toolCtx, ports.ToolCall{
		ID:        id.NewCallID(),
		Name:      name,
		Arguments: params,
		SessionID: r.req.SessionID,
		TaskID:    r.taskID,
	})

	if e.checkCancelled(r) {
		return "", true
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			observation := fmt.Sprintf("Tool %s timed out after %s", name, formatTimeout(timeout))
			metrics.ToolDispatches.WithLabelValues(name, "timeout").Inc()
			e.emit(r, NewActivityFailed(r.req.SessionID, name, observation))
			return observation, false
		}
		observation := fmt.Sprintf("Error: tool %s failed: %v", name, err)
		metrics.ToolDispatches.WithLabelValues(name, "error").Inc()
		e.emit(r, NewActivityFailed(r.req.SessionID, name, observation))
		return observation, false
	}

	if result.IsError() {
		metrics.ToolDispatches.WithLabelValues(name, "error").Inc()
		e.emit(r, NewActivityFailed(r.req.SessionID, name, result.Content))
	} else {
		metrics.ToolDispatches.WithLabelValues(name, "ok").Inc()
		e.emit(r, NewActivityCompleted(r.req.SessionID, name, result.Content, result.FileCreated))
	}
	return result.Content, false
}

// heal runs the self-healing path for a failing observation: consult the
// recovery engine, apply its candidate, then retry the original tool once.
// It returns the retry's observation when a retry happened.
func (e *Engine) heal(ctx context.Context, r *run, tool ports.ToolExecutor, name string, params map[string]any, observation string) (string, bool) {
	if e.recovery == nil {
		return "", false
	}
	analysis := e.recovery.Analyze(observation)
	if analysis == nil || analysis.Action == nil {
		return "", false
	}

	act := analysis.Action
	r.steps = append(r.steps, ports.RecoveryStep(act.Description))
	e.emit(r, NewRecoveryEvent(r.req.SessionID, act.Description, string(analysis.Class)))
	e.logger.Info("Task %s recovery (%s): %s", r.taskID, analysis.Class, act.Description)

	retryTimeout := e.cfg.ToolTimeout

	switch act.Type {
	case recovery.ActionExecuteCommand:
		command, _ := act.Params["command"].(string)
		if command == "" {
			return "", false
		}
		execTool, err := e.registry.Get("execute_command")
		if err != nil {
			e.observe(r, "Recovery needs the execute_command tool, which is not registered.")
			return "", false
		}
		fixObs, stop := e.dispatch(ctx, r, execTool, "execute_command", map[string]any{"command": command}, e.cfg.ToolTimeout)
		if stop {
			return "", true
		}
		e.observe(r, fixObs)

	case recovery.ActionRetryWithDelay:
		delay := 5 * time.Second
		if secs, ok := act.Params["delay_seconds"].(int); ok && secs > 0 {
			delay = time.Duration(secs) * time.Second
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", false
		}

	case recovery.ActionRetryWithTimeout:
		multiplier := 2
		if m, ok := act.Params["multiplier"].(int); ok && m > 1 {
			multiplier = m
		}
		retryTimeout = e.cfg.ToolTimeout * time.Duration(multiplier)

	case recovery.ActionNotifyUser:
		// Advisory only: surface the description and let the model decide.
		e.observe(r, "Recovery note: "+act.Description)
		return "", false
	}

	if e.checkCancelled(r) {
		return "", true
	}

	retryObs, stop := e.dispatch(ctx, r, tool, name, params, retryTimeout)
	if stop {
		return "", true
	}
	return retryObs, false
}

// observe appends an observation to the trace, the event-visible state and
// the working message list.
func (e *Engine) observe(r *run, observation string) {
	r.steps = append(r.steps, ports.ObservationStep(observation))
	r.obs = append(r.obs, observation)
	r.messages = append(r.messages, ports.Message{Role: "user", Content: "Observation: " + observation})
}

// conclude records the terminal answer and emits final_answer.
func (e *Engine) conclude(r *run, answer, reason string) {
	r.result.FinalAnswer = answer
	r.result.StopReason = reason
	r.steps = append(r.steps, ports.FinalAnswerStep(answer))
	e.emit(r, NewFinalAnswerEvent(r.req.SessionID, answer))
}

// checkCancelled is the engine's cooperative cancellation point.
func (e *Engine) checkCancelled(r *run) bool {
	if !r.req.Cancel.IsCancelled() {
		return false
	}
	if r.result.StopReason == "" {
		r.result.FinalAnswer = msgInterrupted
		r.result.StopReason = StopInterrupted
		r.result.Interrupted = true
		r.steps = append(r.steps, ports.ErrorStep(msgInterrupted))
		e.emit(r, NewInterruptedEvent(r.req.SessionID))
		e.logger.Info("Task %s interrupted", r.taskID)
	}
	return true
}

func (e *Engine) finish(r *run) *TaskResult {
	r.result.Steps = r.steps
	r.result.Observations = r.obs
	r.result.Validation = r.valid.Verdict()
	metrics.TasksCompleted.WithLabelValues(r.result.StopReason).Inc()
	e.logger.Info("Task %s finished (%s) after %d iterations", r.taskID, r.result.StopReason, r.result.Iterations)
	return &r.result
}

// assemblePrompt builds the initial message list: the tool-enumerating
// system prompt, the optional recent-conversation block, then the task.
func (e *Engine) assemblePrompt(req TaskRequest) []ports.Message {
	messages := []ports.Message{{Role: "system", Content: e.systemPrompt()}}

	if len(req.History) > 0 {
		var b strings.Builder
		b.WriteString("Previous conversation context:\n")
		for _, m := range req.History {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
		messages = append(messages, ports.Message{Role: "system", Content: b.String()})
	}

	messages = append(messages, ports.Message{Role: "user", Content: req.Task})
	return messages
}

func (e *Engine) systemPrompt() string {
	var b strings.Builder
	b.WriteString(`You are an autonomous agent that solves tasks step by step using tools.

Respond in EXACTLY this format:

Thought: <your reasoning about what to do next>
Action: tool_name({"param": "value"})

When the task is done, respond with:

Thought: <why the task is complete>
Action: Final Answer: <your complete answer to the user>

Rules:
- Exactly one Action per response.
- Action arguments must be a single JSON object.
- Use the observation from each action to decide your next step.

Available tools:
`)
	for _, def := range e.registry.List() {
		fmt.Fprintf(&b, "- %s: %s\n", def.Name, def.Description)
		if schema, err := json.Marshal(def.Parameters); err == nil {
			fmt.Fprintf(&b, "  Params: %s\n", schema)
		}
	}
	return b.String()
}

func (e *Engine) toolNames() string {
	defs := e.registry.List()
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	return strings.Join(names, ", ")
}

func isErrorObservation(observation string) bool {
	trimmed := strings.TrimSpace(observation)
	return strings.HasPrefix(trimmed, "Error") ||
		strings.Contains(observation, "Traceback (most recent call last)") ||
		strings.Contains(observation, "ModuleNotFoundError") ||
		strings.Contains(observation, "command not found")
}

func formatTimeout(d time.Duration) string {
	if d%time.Minute == 0 {
		minutes := int(d / time.Minute)
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
	return d.String()
}

func truncateLog(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
