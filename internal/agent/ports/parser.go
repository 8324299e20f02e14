package ports

// ParsedAction is a tool dispatch request extracted from a model response.
type ParsedAction struct {
	Name   string
	Params map[string]any
	// Raw preserves the original action line for diagnostics.
	Raw string
}

// ParsedResponse is the structured view of one LLM turn. At most one of
// Action / FinalAnswer is set; when a response carries both, FinalAnswer
// wins and Action is nil.
type ParsedResponse struct {
	Thought     string
	Action      *ParsedAction
	FinalAnswer *string
}

// HasAction reports whether the response requests a tool dispatch.
func (r *ParsedResponse) HasAction() bool { return r != nil && r.Action != nil }

// IsFinal reports whether the response terminates the task.
func (r *ParsedResponse) IsFinal() bool { return r != nil && r.FinalAnswer != nil }

// ResponseParser extracts the Thought / Action structure from raw model text.
type ResponseParser interface {
	Parse(content string) *ParsedResponse
}
