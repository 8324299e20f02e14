package planner

// The editorial layer is the human-facing plan shown in the approval
// workflow: phases of named tasks with done-when criteria, with phase and
// project status derived from task status.

// TaskStatus is the lifecycle of one editorial task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskSkipped    TaskStatus = "skipped"
	TaskFailed     TaskStatus = "failed"
)

// EditorialTask is one checkable unit inside a phase.
type EditorialTask struct {
	Name     string     `json:"name"`
	DoneWhen string     `json:"done_when"`
	Status   TaskStatus `json:"status"`
}

// Phase groups ordered tasks.
type Phase struct {
	Name  string          `json:"name"`
	Order int             `json:"order"`
	Tasks []EditorialTask `json:"tasks"`
}

// Status derives the phase status from its tasks.
func (p *Phase) Status() TaskStatus {
	return deriveStatus(func(yield func(TaskStatus)) {
		for _, t := range p.Tasks {
			yield(t.Status)
		}
	})
}

// EditorialPlan is the approval-facing project plan.
type EditorialPlan struct {
	Title        string   `json:"title"`
	Objective    string   `json:"objective,omitempty"`
	Deadline     string   `json:"deadline,omitempty"`
	Constraints  []string `json:"constraints,omitempty"`
	Phases       []Phase  `json:"phases"`
	Deliverables []string `json:"deliverables,omitempty"`
}

// Status derives the project status from its phases.
func (p *EditorialPlan) Status() TaskStatus {
	return deriveStatus(func(yield func(TaskStatus)) {
		for i := range p.Phases {
			yield(p.Phases[i].Status())
		}
	})
}

func deriveStatus(each func(func(TaskStatus))) TaskStatus {
	var total, completed, skipped, failed, inProgress int
	each(func(s TaskStatus) {
		total++
		switch s {
		case TaskCompleted:
			completed++
		case TaskSkipped:
			skipped++
		case TaskFailed:
			failed++
		case TaskInProgress:
			inProgress++
		}
	})
	switch {
	case total == 0:
		return TaskPending
	case failed > 0:
		return TaskFailed
	case completed+skipped == total:
		return TaskCompleted
	case inProgress > 0 || completed > 0 || skipped > 0:
		return TaskInProgress
	default:
		return TaskPending
	}
}

// FromPlan projects an executable plan into its editorial form. Consecutive
// steps of the same kind fold into one phase, so a typical plan shows as
// research / build / validate rather than one flat list.
func FromPlan(plan *Plan) *EditorialPlan {
	ep := &EditorialPlan{Title: plan.Summary, Objective: plan.Task}

	var current *Phase
	lastKind := ""
	for _, step := range plan.Steps {
		kind := phaseName(step.StepType)
		if current == nil || kind != lastKind {
			ep.Phases = append(ep.Phases, Phase{Name: kind, Order: len(ep.Phases) + 1})
			current = &ep.Phases[len(ep.Phases)-1]
			lastKind = kind
		}
		current.Tasks = append(current.Tasks, EditorialTask{
			Name:     step.Description,
			DoneWhen: step.ExpectedOutput,
			Status:   TaskPending,
		})
	}
	return ep
}

// ToPlan maps an edited editorial plan back onto an executable plan. Tasks
// that still match a prior step by name keep that step's tool, type, risk
// and iteration estimate; tasks the user added get defaults from their
// phase. Steps run in editorial order, each gated on the one before it.
func (p *EditorialPlan) ToPlan(prior *Plan) *Plan {
	byName := make(map[string]PlanStep)
	out := &Plan{Task: p.Objective, Complexity: Complex, Summary: p.Title}
	if prior != nil {
		for _, s := range prior.Steps {
			byName[s.Description] = s
		}
		out.Task = prior.Task
		out.Complexity = prior.Complexity
		out.ResourcesNeeded = prior.ResourcesNeeded
		out.PotentialRisks = prior.PotentialRisks
		out.SuccessCriteria = prior.SuccessCriteria
	}

	for _, phase := range p.Phases {
		for _, t := range phase.Tasks {
			step, ok := byName[t.Name]
			if !ok {
				step = PlanStep{StepType: stepTypeForPhase(phase.Name)}
			}
			step.Description = t.Name
			if t.DoneWhen != "" {
				step.ExpectedOutput = t.DoneWhen
			}
			step.Dependencies = nil
			if n := len(out.Steps); n > 0 {
				step.Dependencies = []int{n}
			}
			out.Steps = append(out.Steps, step)
		}
	}

	out.EstimatedIterations = 0
	out.normalize()
	return out
}

// stepTypeForPhase inverts phaseName for tasks added during plan editing.
func stepTypeForPhase(name string) StepType {
	switch name {
	case "Research":
		return StepResearch
	case "Build":
		return StepFileCreate
	case "Execute":
		return StepExecute
	case "Validate":
		return StepValidate
	case "Assemble":
		return StepCombine
	default:
		return StepExecute
	}
}

func phaseName(t StepType) string {
	switch t {
	case StepResearch:
		return "Research"
	case StepFileCreate, StepFileModify:
		return "Build"
	case StepExecute:
		return "Execute"
	case StepValidate:
		return "Validate"
	case StepCombine:
		return "Assemble"
	default:
		return "Work"
	}
}

// ToMap serializes the plan for the wire. The mapping round-trips through
// FromMap for title, phases, deliverables and the derived status.
func (p *EditorialPlan) ToMap() map[string]any {
	phases := make([]any, 0, len(p.Phases))
	for _, phase := range p.Phases {
		tasks := make([]any, 0, len(phase.Tasks))
		for _, t := range phase.Tasks {
			tasks = append(tasks, map[string]any{
				"name":      t.Name,
				"done_when": t.DoneWhen,
				"status":    string(t.Status),
			})
		}
		phases = append(phases, map[string]any{
			"name":   phase.Name,
			"order":  phase.Order,
			"status": string(phase.Status()),
			"tasks":  tasks,
		})
	}
	out := map[string]any{
		"title":  p.Title,
		"phases": phases,
		"status": string(p.Status()),
	}
	if p.Objective != "" {
		out["objective"] = p.Objective
	}
	if p.Deadline != "" {
		out["deadline"] = p.Deadline
	}
	if len(p.Constraints) > 0 {
		out["constraints"] = toAnySlice(p.Constraints)
	}
	if len(p.Deliverables) > 0 {
		out["deliverables"] = toAnySlice(p.Deliverables)
	}
	return out
}

// FromMap reconstructs an editorial plan from its wire form. Unknown or
// malformed fields degrade to zero values rather than failing.
func FromMap(data map[string]any) *EditorialPlan {
	p := &EditorialPlan{
		Title:     stringField(data, "title"),
		Objective: stringField(data, "objective"),
		Deadline:  stringField(data, "deadline"),
	}
	p.Constraints = stringSlice(data["constraints"])
	p.Deliverables = stringSlice(data["deliverables"])

	rawPhases, _ := data["phases"].([]any)
	for i, rp := range rawPhases {
		pm, ok := rp.(map[string]any)
		if !ok {
			continue
		}
		phase := Phase{Name: stringField(pm, "name"), Order: intField(pm, "order", i+1)}
		rawTasks, _ := pm["tasks"].([]any)
		for _, rt := range rawTasks {
			tm, ok := rt.(map[string]any)
			if !ok {
				continue
			}
			status := TaskStatus(stringField(tm, "status"))
			if status == "" {
				status = TaskPending
			}
			phase.Tasks = append(phase.Tasks, EditorialTask{
				Name:     stringField(tm, "name"),
				DoneWhen: stringField(tm, "done_when"),
				Status:   status,
			})
		}
		p.Phases = append(p.Phases, phase)
	}
	return p
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]any, key string, fallback int) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

func stringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
