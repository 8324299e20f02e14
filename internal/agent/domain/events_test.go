package domain

import (
	"encoding/json"
	"testing"
)

func TestEventWireShape(t *testing.T) {
	cases := []struct {
		event    any
		wantType string
	}{
		{NewConnectedEvent("abc12345"), "connected"},
		{NewSessionReadyEvent("abc12345", "/tmp/ws", true), "session_ready"},
		{NewStatusEvent("abc12345", StatusThinking), "status"},
		{NewThoughtEvent("abc12345", "considering options"), "thought"},
		{NewActivityRunning("abc12345", "calculator", map[string]any{"expression": "1+1"}), "activity"},
		{NewRecoveryEvent("abc12345", "pip install bs4", "missing_python_module"), "recovery"},
		{NewFinalAnswerEvent("abc12345", "42"), "final_answer"},
		{NewPausedEvent("abc12345"), "project_paused"},
		{NewResumedEvent("abc12345"), "project_resumed"},
		{NewInterruptedEvent("abc12345"), "interrupted"},
		{NewCompleteEvent("abc12345", "add numbers"), "complete"},
		{NewErrorEvent("abc12345", "boom"), "error"},
	}
	for _, tc := range cases {
		data, err := json.Marshal(tc.event)
		if err != nil {
			t.Fatal(err)
		}
		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatal(err)
		}
		if decoded["type"] != tc.wantType {
			t.Errorf("event %T: type = %v, want %s", tc.event, decoded["type"], tc.wantType)
		}
		if decoded["session_id"] != "abc12345" {
			t.Errorf("event %T: session_id missing", tc.event)
		}
		if _, ok := decoded["timestamp"]; !ok {
			t.Errorf("event %T: timestamp missing", tc.event)
		}
	}
}

func TestInterruptedEventMessage(t *testing.T) {
	e := NewInterruptedEvent("abc12345")
	if e.Message != "Task interrupted by user." {
		t.Fatalf("unexpected message: %q", e.Message)
	}
}

func TestConnectedEventWorkspaceStartsEmpty(t *testing.T) {
	data, err := json.Marshal(NewConnectedEvent("abc12345"))
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	ws, present := decoded["workspace"]
	if !present || ws != "" {
		t.Fatalf("workspace must be present and empty before the bind: %v", decoded)
	}
}
