package planner

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"atlas/internal/agent/ports"
)

const planPrompt = `You are a task planner. Decompose the user's task into an ordered JSON plan.

Respond with ONLY a JSON object of this shape:
{
  "summary": "one-line plan summary",
  "steps": [
    {
      "id": 1,
      "description": "what this step accomplishes",
      "step_type": "research|file_create|file_modify|execute|validate|combine",
      "tool": "suggested tool name or empty",
      "dependencies": [],
      "expected_output": "what success looks like",
      "estimated_iterations": 3,
      "risk_level": "low|medium|high"
    }
  ],
  "resources_needed": [],
  "potential_risks": [],
  "success_criteria": []
}

Rules: 2 to 6 steps, dependencies may only reference earlier step ids.`

// Planner synthesizes executable plans.
type Planner struct {
	llm    ports.LLMClient
	logger ports.Logger
	// Timeout bounds the planning LLM call.
	Timeout time.Duration
}

// New builds a planner around an LLM client.
func New(llm ports.LLMClient, logger ports.Logger) *Planner {
	return &Planner{llm: llm, logger: logger, Timeout: 120 * time.Second}
}

// CreatePlan synthesizes a plan for the task. Simple tasks get a trivial
// single-step plan without an LLM round trip; for the rest, LLM output is
// parsed and template plans cover parse failures.
func (p *Planner) CreatePlan(ctx context.Context, task string) *Plan {
	complexity := DetectComplexity(task)
	if complexity == Simple {
		plan := &Plan{
			Task:       task,
			Complexity: complexity,
			Summary:    "Execute the task directly",
			Steps: []PlanStep{{
				ID:                  1,
				Description:         task,
				StepType:            StepExecute,
				EstimatedIterations: 5,
				RiskLevel:           RiskLow,
			}},
		}
		plan.normalize()
		return plan
	}

	if plan := p.synthesize(ctx, task, complexity); plan != nil {
		return plan
	}

	p.logger.Warn("Plan synthesis failed for task, using template plan")
	return p.templatePlan(task, complexity)
}

func (p *Planner) synthesize(ctx context.Context, task string, complexity Complexity) *Plan {
	llmCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	resp, err := p.llm.Complete(llmCtx, ports.CompletionRequest{
		Messages: []ports.Message{
			{Role: "system", Content: planPrompt},
			{Role: "user", Content: task},
		},
		Temperature: 0.2,
		MaxTokens:   2048,
	})
	if err != nil {
		p.logger.Warn("Planning LLM call failed: %v", err)
		return nil
	}

	raw := firstBraceGroup(resp.Content)
	if raw == "" {
		return nil
	}

	var parsed struct {
		Summary         string     `json:"summary"`
		Steps           []PlanStep `json:"steps"`
		ResourcesNeeded []string   `json:"resources_needed"`
		PotentialRisks  []string   `json:"potential_risks"`
		SuccessCriteria []string   `json:"success_criteria"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(raw)
		if rerr != nil {
			return nil
		}
		if err := json.Unmarshal([]byte(repaired), &parsed); err != nil {
			return nil
		}
	}
	if len(parsed.Steps) == 0 {
		return nil
	}

	plan := &Plan{
		Task:            task,
		Complexity:      complexity,
		Summary:         parsed.Summary,
		Steps:           parsed.Steps,
		ResourcesNeeded: parsed.ResourcesNeeded,
		PotentialRisks:  parsed.PotentialRisks,
		SuccessCriteria: parsed.SuccessCriteria,
	}
	plan.normalize()
	return plan
}

// firstBraceGroup extracts the first balanced {...} group from text.
func firstBraceGroup(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// templatePlan is the deterministic fallback, keyed on task shape.
func (p *Planner) templatePlan(task string, complexity Complexity) *Plan {
	lower := strings.ToLower(task)
	var plan *Plan
	switch {
	case strings.Contains(lower, "pdf") || strings.Contains(lower, "report") || strings.Contains(lower, "document"):
		plan = documentPipeline(task)
	case strings.Contains(lower, "script") || strings.Contains(lower, "code") ||
		strings.Contains(lower, "program") || strings.Contains(lower, "application"):
		plan = codePipeline(task)
	default:
		plan = genericPipeline(task)
	}
	plan.Complexity = complexity
	plan.normalize()
	return plan
}

func documentPipeline(task string) *Plan {
	return &Plan{
		Task:    task,
		Summary: "Research the topic, draft the content, render the document, verify the output",
		Steps: []PlanStep{
			{ID: 1, Description: "Gather the information the document needs", StepType: StepResearch, Tool: "web_search", EstimatedIterations: 4, RiskLevel: RiskMedium},
			{ID: 2, Description: "Draft the document content", StepType: StepFileCreate, Tool: "write_file", Dependencies: []int{1}, ExpectedOutput: "Draft file in the workspace", EstimatedIterations: 4, RiskLevel: RiskLow},
			{ID: 3, Description: "Render the final document", StepType: StepExecute, Tool: "create_pdf", Dependencies: []int{2}, ExpectedOutput: "Generated document file", EstimatedIterations: 3, RiskLevel: RiskMedium, Fallback: "Deliver the draft as markdown"},
			{ID: 4, Description: "Verify the document exists and is non-empty", StepType: StepValidate, Tool: "list_directory", Dependencies: []int{3}, EstimatedIterations: 2, RiskLevel: RiskLow},
		},
		SuccessCriteria: []string{"Document file exists in the workspace"},
	}
}

func codePipeline(task string) *Plan {
	return &Plan{
		Task:    task,
		Summary: "Write the code, run it, fix failures, confirm the result",
		Steps: []PlanStep{
			{ID: 1, Description: "Write the program", StepType: StepFileCreate, Tool: "write_file", ExpectedOutput: "Source file in the workspace", EstimatedIterations: 4, RiskLevel: RiskLow},
			{ID: 2, Description: "Run the program", StepType: StepExecute, Tool: "execute_command", Dependencies: []int{1}, ExpectedOutput: "exit code: 0", EstimatedIterations: 5, RiskLevel: RiskHigh, Fallback: "Install missing dependencies and retry"},
			{ID: 3, Description: "Validate the program output", StepType: StepValidate, Dependencies: []int{2}, EstimatedIterations: 2, RiskLevel: RiskLow},
		},
		SuccessCriteria: []string{"Program runs with exit code 0"},
	}
}

func genericPipeline(task string) *Plan {
	return &Plan{
		Task:    task,
		Summary: "Research, execute, validate",
		Steps: []PlanStep{
			{ID: 1, Description: "Research what the task requires", StepType: StepResearch, EstimatedIterations: 3, RiskLevel: RiskLow},
			{ID: 2, Description: "Carry out the task", StepType: StepExecute, Dependencies: []int{1}, EstimatedIterations: 5, RiskLevel: RiskMedium},
			{ID: 3, Description: "Validate the outcome", StepType: StepValidate, Dependencies: []int{2}, EstimatedIterations: 2, RiskLevel: RiskLow},
		},
	}
}
