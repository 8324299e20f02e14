// Package orchestrator routes tasks between direct ReAct execution and the
// plan-gated pipeline, and compiles per-step results into one final answer.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"atlas/internal/agent/domain"
	"atlas/internal/agent/ports"
	"atlas/internal/planner"
	"atlas/internal/validator"
)

// Mode names the execution strategy chosen for a task.
type Mode string

const (
	ModeDirect      Mode = "direct"
	ModePlanned     Mode = "planned"
	ModeInteractive Mode = "interactive"
)

// Config tunes the orchestrator.
type Config struct {
	// DirectIterations caps the engine in direct mode (default 20).
	DirectIterations int
	// PausePollInterval is the sleep between pause-flag checks.
	PausePollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.DirectIterations <= 0 {
		c.DirectIterations = 20
	}
	if c.PausePollInterval <= 0 {
		c.PausePollInterval = 500 * time.Millisecond
	}
	return c
}

// StepResult records one plan step's outcome.
type StepResult struct {
	StepID           int              `json:"step_id"`
	Success          bool             `json:"success"`
	Skipped          bool             `json:"skipped"`
	Observation      string           `json:"observation"`
	IterationsUsed   int              `json:"iterations_used"`
	ValidationStatus validator.Status `json:"validation_status"`
}

// Result is the task-level outcome across modes.
type Result struct {
	Mode        Mode
	FinalAnswer string
	Interrupted bool
	Steps       []ports.ReactStep
	StepResults []StepResult
	Plan        *planner.Plan
}

// Request describes one orchestrated task.
type Request struct {
	SessionID string
	Task      string
	History   []ports.Message
	Listener  ports.EventListener
	Controls  *Controls

	// Gate, when non-nil, enables the interactive approval handshake for
	// complex tasks. Nil runs planned mode without the gate.
	Gate *ApprovalGate

	// ForcePlan runs the planned path regardless of detected complexity
	// (request_plan transport messages).
	ForcePlan bool
}

// Orchestrator owns mode selection and plan-step sequencing.
type Orchestrator struct {
	engine  *domain.Engine
	planner *planner.Planner
	logger  ports.Logger
	cfg     Config
}

// New builds an orchestrator.
func New(engine *domain.Engine, p *planner.Planner, logger ports.Logger, cfg Config) *Orchestrator {
	return &Orchestrator{engine: engine, planner: p, logger: logger, cfg: cfg.withDefaults()}
}

func (o *Orchestrator) emit(req Request, event ports.AgentEvent) {
	if req.Listener != nil {
		req.Listener.OnEvent(event)
	}
}

// Run executes one task end to end. Simple and moderate tasks go straight
// to the engine; complex tasks are planned, optionally approval-gated, and
// executed step by step.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	complexity := planner.DetectComplexity(req.Task)
	if !req.ForcePlan && complexity != planner.Complex {
		return o.runDirect(ctx, req)
	}
	return o.runPlanned(ctx, req)
}

func (o *Orchestrator) runDirect(ctx context.Context, req Request) (*Result, error) {
	o.logger.Info("Session %s: direct mode for task", req.SessionID)
	taskResult, err := o.engine.SolveTask(ctx, domain.TaskRequest{
		SessionID:     req.SessionID,
		Task:          req.Task,
		MaxIterations: o.cfg.DirectIterations,
		History:       req.History,
		Suggestions:   req.Controls.DrainSuggestions,
		Listener:      req.Listener,
		Cancel:        req.Controls.Cancel,
	})
	if err != nil {
		return nil, err
	}
	return &Result{
		Mode:        ModeDirect,
		FinalAnswer: taskResult.FinalAnswer,
		Interrupted: taskResult.Interrupted,
		Steps:       taskResult.Steps,
	}, nil
}

func (o *Orchestrator) runPlanned(ctx context.Context, req Request) (*Result, error) {
	o.emit(req, domain.NewStatusEvent(req.SessionID, domain.StatusPlanning))
	plan := o.planner.CreatePlan(ctx, req.Task)
	editorial := planner.FromPlan(plan)

	mode := ModePlanned
	if req.Gate != nil {
		mode = ModeInteractive
		o.emit(req, domain.NewPlanProposalEvent(req.SessionID, editorial.ToMap()))
		o.logger.Info("Session %s: plan proposed (%d steps), awaiting approval", req.SessionID, len(plan.Steps))

		edited := false
		approved := false
		editorial, approved = req.Gate.Wait(ctx, req.Controls.Cancel, editorial, func(updated *planner.EditorialPlan) {
			edited = true
			o.emit(req, domain.NewPlanUpdatedEvent(req.SessionID, updated.ToMap()))
		})
		if !approved {
			o.emit(req, domain.NewInterruptedEvent(req.SessionID))
			return &Result{Mode: mode, FinalAnswer: "Task interrupted by user.", Interrupted: true, Plan: plan}, nil
		}
		if edited {
			plan = editorial.ToPlan(plan)
			o.logger.Info("Session %s: plan revised by user, now %d steps", req.SessionID, len(plan.Steps))
		}
	}

	o.emit(req, domain.NewPlanStartedEvent(req.SessionID, editorial.ToMap()))

	results := make([]StepResult, 0, len(plan.Steps))
	byID := make(map[int]StepResult, len(plan.Steps))

	for i := range plan.Steps {
		step := &plan.Steps[i]

		if !req.Controls.waitWhilePaused(ctx, o.cfg.PausePollInterval) {
			o.emit(req, domain.NewInterruptedEvent(req.SessionID))
			return &Result{Mode: mode, FinalAnswer: "Task interrupted by user.", Interrupted: true, Plan: plan, StepResults: results}, nil
		}

		if dep, ok := failedDependency(step, byID); ok {
			o.logger.Info("Session %s: skipping step %d (dependency %d failed)", req.SessionID, step.ID, dep)
			sr := StepResult{
				StepID:           step.ID,
				Skipped:          true,
				Observation:      fmt.Sprintf("Skipped: dependency step %d did not succeed", dep),
				ValidationStatus: validator.StatusSkipped,
			}
			results = append(results, sr)
			byID[step.ID] = sr
			continue
		}

		iterCap := 2 * step.EstimatedIterations
		if iterCap < 2 {
			iterCap = 2
		}

		taskResult, err := o.engine.SolveTask(ctx, domain.TaskRequest{
			SessionID:     req.SessionID,
			Task:          o.stepPrompt(plan, step, results),
			MaxIterations: iterCap,
			History:       req.History,
			Suggestions:   req.Controls.DrainSuggestions,
			Listener:      stepEvents(req.Listener),
			Cancel:        req.Controls.Cancel,
		})
		if err != nil {
			return nil, err
		}
		if taskResult.Interrupted {
			return &Result{Mode: mode, FinalAnswer: taskResult.FinalAnswer, Interrupted: true, Plan: plan, StepResults: results}, nil
		}

		sr := StepResult{
			StepID:           step.ID,
			Success:          taskResult.StopReason == domain.StopCompleted && taskResult.Validation != validator.StatusInvalid,
			Observation:      taskResult.FinalAnswer,
			IterationsUsed:   taskResult.Iterations,
			ValidationStatus: taskResult.Validation,
		}
		results = append(results, sr)
		byID[step.ID] = sr
	}

	final := compileFinalAnswer(req.Task, plan, results)
	o.emit(req, domain.NewFinalAnswerEvent(req.SessionID, final))
	return &Result{Mode: mode, FinalAnswer: final, Plan: plan, StepResults: results}, nil
}

// stepListener forwards a step run's events but withholds its final_answer.
// A step's closing answer is an internal observation; the task surfaces one
// final answer, compiled after the last step.
type stepListener struct {
	inner ports.EventListener
}

func (l stepListener) OnEvent(event ports.AgentEvent) {
	if event.EventType() == domain.EventFinalAnswer {
		return
	}
	l.inner.OnEvent(event)
}

func stepEvents(inner ports.EventListener) ports.EventListener {
	if inner == nil {
		return nil
	}
	return stepListener{inner: inner}
}

func failedDependency(step *planner.PlanStep, byID map[int]StepResult) (int, bool) {
	for _, dep := range step.Dependencies {
		r, ok := byID[dep]
		if !ok || !r.Success {
			return dep, true
		}
	}
	return 0, false
}

// stepPrompt frames one plan step for the engine.
func (o *Orchestrator) stepPrompt(plan *planner.Plan, step *planner.PlanStep, results []StepResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "OVERALL TASK: %s\n\n", plan.Task)
	fmt.Fprintf(&b, "CURRENT STEP %d/%d: %s\n", step.ID, len(plan.Steps), step.Description)
	if step.Tool != "" {
		fmt.Fprintf(&b, "SUGGESTED TOOL: %s\n", step.Tool)
	}
	if step.ExpectedOutput != "" {
		fmt.Fprintf(&b, "EXPECTED OUTPUT: %s\n", step.ExpectedOutput)
	}

	start := len(results) - 3
	if start < 0 {
		start = 0
	}
	if len(results) > 0 {
		b.WriteString("\nPREVIOUS STEP RESULTS:\n")
		for _, r := range results[start:] {
			status := "ok"
			switch {
			case r.Skipped:
				status = "skipped"
			case !r.Success:
				status = "failed"
			}
			fmt.Fprintf(&b, "- step %d (%s): %s\n", r.StepID, status, truncate(r.Observation, 200))
		}
	}

	b.WriteString("\nComplete only the current step, then give a Final Answer describing what was accomplished.")
	return b.String()
}

// compileFinalAnswer summarizes a planned run. The Output line comes from
// the first successful step whose observation points at a produced artifact.
func compileFinalAnswer(task string, plan *planner.Plan, results []StepResult) string {
	var completed, failed []string
	output := ""
	for _, r := range results {
		desc := ""
		for _, s := range plan.Steps {
			if s.ID == r.StepID {
				desc = s.Description
				break
			}
		}
		switch {
		case r.Success:
			completed = append(completed, fmt.Sprintf("%d. %s", r.StepID, desc))
			if output == "" && mentionsArtifact(r.Observation) {
				output = truncate(r.Observation, 400)
			}
		case r.Skipped:
			failed = append(failed, fmt.Sprintf("%d. %s (skipped)", r.StepID, desc))
		default:
			failed = append(failed, fmt.Sprintf("%d. %s: %s", r.StepID, desc, truncate(r.Observation, 120)))
		}
	}

	var b strings.Builder
	b.WriteString(task)
	if len(completed) > 0 {
		b.WriteString("\n\nCompleted steps:\n")
		b.WriteString(strings.Join(completed, "\n"))
	}
	if len(failed) > 0 {
		b.WriteString("\n\nFailed steps:\n")
		b.WriteString(strings.Join(failed, "\n"))
	}
	if output != "" {
		b.WriteString("\n\nOutput: ")
		b.WriteString(output)
	}
	return b.String()
}

func mentionsArtifact(observation string) bool {
	return strings.Contains(observation, "Successfully wrote") ||
		strings.Contains(observation, "Successfully created") ||
		strings.Contains(observation, "http://") ||
		strings.Contains(observation, "https://")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
