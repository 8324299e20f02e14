package ports

// StepType tags a single record in a ReAct trace.
type StepType string

const (
	StepThought     StepType = "thought"
	StepAction      StepType = "action"
	StepObservation StepType = "observation"
	StepRecovery    StepType = "recovery"
	StepError       StepType = "error"
	StepFinalAnswer StepType = "final_answer"
)

// FileCreated describes a workspace file produced by a tool call.
type FileCreated struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
}

// ReactStep is one tagged record in the engine's trace. Exactly the fields
// relevant to its Type are populated.
type ReactStep struct {
	Type        StepType       `json:"type"`
	Content     string         `json:"content,omitempty"`
	ToolName    string         `json:"tool_name,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
	FileCreated *FileCreated   `json:"file_created,omitempty"`
}

// ThoughtStep builds a thought record.
func ThoughtStep(content string) ReactStep {
	return ReactStep{Type: StepThought, Content: content}
}

// ActionStep builds an action record.
func ActionStep(tool string, params map[string]any) ReactStep {
	return ReactStep{Type: StepAction, ToolName: tool, Params: params}
}

// ObservationStep builds an observation record.
func ObservationStep(content string) ReactStep {
	return ReactStep{Type: StepObservation, Content: content}
}

// RecoveryStep builds a recovery record.
func RecoveryStep(description string) ReactStep {
	return ReactStep{Type: StepRecovery, Content: description}
}

// ErrorStep builds an error record.
func ErrorStep(content string) ReactStep {
	return ReactStep{Type: StepError, Content: content}
}

// FinalAnswerStep builds a terminal answer record.
func FinalAnswerStep(content string) ReactStep {
	return ReactStep{Type: StepFinalAnswer, Content: content}
}
