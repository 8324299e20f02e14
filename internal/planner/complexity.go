package planner

import "strings"

// complexityMarkers are the task keywords that indicate multi-step work.
var complexityMarkers = []string{"pdf", "report", "multiple", "analysis", "application"}

// DetectComplexity buckets a task with a keyword and length heuristic: two
// or more markers (or a long request) mean complex, one marker (or a medium
// request) means moderate.
func DetectComplexity(task string) Complexity {
	lower := strings.ToLower(task)
	markers := 0
	for _, marker := range complexityMarkers {
		if strings.Contains(lower, marker) {
			markers++
		}
	}
	words := len(strings.Fields(task))

	switch {
	case markers >= 2 || words > 30:
		return Complex
	case markers == 1 || words > 15:
		return Moderate
	default:
		return Simple
	}
}
