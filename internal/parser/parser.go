// Package parser extracts the Thought / Action structure the system prompt
// prescribes from raw model output. Parsing is tolerant: tools validate
// their own arguments, so malformed JSON degrades to an empty parameter
// map instead of failing the iteration.
package parser

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"atlas/internal/agent/ports"
)

var (
	thoughtPattern = regexp.MustCompile(`(?is)thought:\s*(.*?)(?:action:|$)`)
	actionPattern  = regexp.MustCompile(`(?i)action:\s*(.+)`)
	// tool_name({...}) or tool_name(). The argument body is matched
	// greedily so nested braces survive; jsonrepair cleans up the rest.
	dispatchPattern = regexp.MustCompile(`(?s)^\s*([a-zA-Z][a-zA-Z0-9_]*)\s*\((.*)\)\s*$`)
	finalPattern    = regexp.MustCompile(`(?is)^\s*final\s+answer:\s*(.*)$`)
)

type parser struct{}

// New returns the canonical ReAct response parser.
func New() ports.ResponseParser {
	return &parser{}
}

func (p *parser) Parse(content string) *ports.ParsedResponse {
	resp := &ports.ParsedResponse{}

	if m := thoughtPattern.FindStringSubmatch(content); m != nil {
		resp.Thought = strings.TrimSpace(m[1])
	}

	actions := actionPattern.FindAllStringSubmatch(content, -1)
	if len(actions) == 0 {
		return resp
	}

	// A Final Answer wins over a tool call regardless of which action line
	// it appears on; otherwise only the first action line counts.
	for _, m := range actions {
		line := strings.TrimSpace(m[1])
		if fm := finalPattern.FindStringSubmatch(line); fm != nil {
			answer := strings.TrimSpace(fm[1])
			resp.FinalAnswer = &answer
			resp.Action = nil
			return resp
		}
	}

	first := strings.TrimSpace(actions[0][1])
	if dm := dispatchPattern.FindStringSubmatch(first); dm != nil {
		resp.Action = &ports.ParsedAction{
			Name:   dm[1],
			Params: parseArguments(dm[2]),
			Raw:    first,
		}
		return resp
	}

	// An action line that is neither a dispatch nor a final answer is kept
	// raw so the engine can tell the model to fix its format.
	resp.Action = &ports.ParsedAction{Name: "", Params: map[string]any{}, Raw: first}
	return resp
}

// parseArguments decodes the JSON object between the parentheses. Empty
// input and unrepairable JSON both yield an empty map.
func parseArguments(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}
	}

	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err == nil {
		return params
	}

	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return map[string]any{}
	}
	if err := json.Unmarshal([]byte(repaired), &params); err != nil || params == nil {
		return map[string]any{}
	}
	return params
}

// CanonicalParams renders params as deterministic JSON so identical actions
// compare equal in the loop detector.
func CanonicalParams(params map[string]any) string {
	if len(params) == 0 {
		return "{}"
	}
	// encoding/json sorts map keys, which is exactly the canonical form
	// the loop detector needs.
	data, err := json.Marshal(params)
	if err != nil {
		return "{}"
	}
	return string(data)
}
