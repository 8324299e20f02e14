// Package planner decomposes a user task into an executable step plan, with
// an LLM-synthesized plan when possible and template fallbacks when not. It
// also carries the editorial plan layer used for the approval workflow.
package planner

// Complexity buckets a task by the effort the orchestrator should budget.
type Complexity string

const (
	Simple   Complexity = "simple"
	Moderate Complexity = "moderate"
	Complex  Complexity = "complex"
)

// StepType categorizes one plan step.
type StepType string

const (
	StepResearch   StepType = "research"
	StepFileCreate StepType = "file_create"
	StepFileModify StepType = "file_modify"
	StepExecute    StepType = "execute"
	StepValidate   StepType = "validate"
	StepCombine    StepType = "combine"
)

// RiskLevel grades how likely a step is to need recovery.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// PlanStep is one unit of the executable plan. Dependencies reference prior
// step ids only (the graph is a DAG by construction).
type PlanStep struct {
	ID                  int       `json:"id"`
	Description         string    `json:"description"`
	StepType            StepType  `json:"step_type"`
	Tool                string    `json:"tool,omitempty"`
	Dependencies        []int     `json:"dependencies,omitempty"`
	ExpectedOutput      string    `json:"expected_output,omitempty"`
	EstimatedIterations int       `json:"estimated_iterations"`
	RiskLevel           RiskLevel `json:"risk_level"`
	Fallback            string    `json:"fallback,omitempty"`
}

// Plan is the executable decomposition of a task.
type Plan struct {
	Task                string     `json:"task"`
	Complexity          Complexity `json:"complexity"`
	Summary             string     `json:"summary"`
	Steps               []PlanStep `json:"steps"`
	EstimatedIterations int        `json:"estimated_iterations"`
	ResourcesNeeded     []string   `json:"resources_needed,omitempty"`
	PotentialRisks      []string   `json:"potential_risks,omitempty"`
	SuccessCriteria     []string   `json:"success_criteria,omitempty"`
}

// normalize repairs out-of-range ids, forward dependencies and zero
// iteration estimates so downstream code can trust the plan's invariants.
func (p *Plan) normalize() {
	total := 0
	for i := range p.Steps {
		step := &p.Steps[i]
		step.ID = i + 1
		if step.EstimatedIterations <= 0 {
			step.EstimatedIterations = 3
		}
		if step.RiskLevel == "" {
			step.RiskLevel = RiskLow
		}
		deps := step.Dependencies[:0]
		for _, dep := range step.Dependencies {
			if dep >= 1 && dep < step.ID {
				deps = append(deps, dep)
			}
		}
		step.Dependencies = deps
		total += step.EstimatedIterations
	}
	if p.EstimatedIterations <= 0 {
		p.EstimatedIterations = total
	}
}
