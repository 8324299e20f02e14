package domain

import (
	"time"

	"atlas/internal/agent/ports"
)

// Event type tags. These are the wire-level "type" values the transport
// forwards verbatim to clients.
const (
	EventConnected    = "connected"
	EventInitializing = "initializing"
	EventSessionReady = "session_ready"
	EventStatus       = "status"
	EventPlanProposal = "plan_proposal"
	EventPlanStarted  = "plan_started"
	EventPlanUpdated  = "plan_updated"
	EventActivity     = "activity"
	EventThought      = "thought"
	EventRecovery     = "recovery"
	EventFinalAnswer  = "final_answer"
	EventPaused       = "project_paused"
	EventResumed      = "project_resumed"
	EventInterrupting = "interrupting"
	EventInterrupted  = "interrupted"
	EventComplete     = "complete"
	EventError        = "error"
)

// Status values carried by StatusEvent.
const (
	StatusThinking = "thinking"
	StatusWorking  = "working"
	StatusPlanning = "planning"
)

// Activity status values.
const (
	ActivityRunning   = "running"
	ActivityCompleted = "completed"
	ActivityFailed    = "failed"
)

// BaseEvent carries the fields every event shares.
type BaseEvent struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Time      time.Time `json:"timestamp"`
}

func (e BaseEvent) EventType() string    { return e.Type }
func (e BaseEvent) GetSessionID() string { return e.SessionID }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

func newBase(eventType, sessionID string) BaseEvent {
	return BaseEvent{Type: eventType, SessionID: sessionID, Time: time.Now()}
}

// ConnectedEvent acknowledges a fresh transport connection. Workspace stays
// empty until the lazy session bind happens.
type ConnectedEvent struct {
	BaseEvent
	Workspace string `json:"workspace"`
}

func NewConnectedEvent(sessionID string) *ConnectedEvent {
	return &ConnectedEvent{BaseEvent: newBase(EventConnected, sessionID)}
}

// InitializingEvent signals that a session is being provisioned.
type InitializingEvent struct {
	BaseEvent
	Message string `json:"message,omitempty"`
}

func NewInitializingEvent(message string) *InitializingEvent {
	return &InitializingEvent{BaseEvent: newBase(EventInitializing, ""), Message: message}
}

// SessionReadyEvent announces the bound session id and its workspace.
type SessionReadyEvent struct {
	BaseEvent
	Workspace string `json:"workspace"`
	Resumed   bool   `json:"resumed"`
}

func NewSessionReadyEvent(sessionID, workspace string, resumed bool) *SessionReadyEvent {
	return &SessionReadyEvent{BaseEvent: newBase(EventSessionReady, sessionID), Workspace: workspace, Resumed: resumed}
}

// StatusEvent reports the engine's coarse state.
type StatusEvent struct {
	BaseEvent
	Status string `json:"status"`
}

func NewStatusEvent(sessionID, status string) *StatusEvent {
	return &StatusEvent{BaseEvent: newBase(EventStatus, sessionID), Status: status}
}

// ThoughtEvent carries one parsed reasoning block.
type ThoughtEvent struct {
	BaseEvent
	Content string `json:"content"`
}

func NewThoughtEvent(sessionID, content string) *ThoughtEvent {
	return &ThoughtEvent{BaseEvent: newBase(EventThought, sessionID), Content: content}
}

// ActivityEvent tracks one tool dispatch through running → completed/failed.
type ActivityEvent struct {
	BaseEvent
	Tool        string             `json:"tool"`
	Status      string             `json:"status"`
	Params      map[string]any     `json:"params,omitempty"`
	Result      string             `json:"result,omitempty"`
	Error       string             `json:"error,omitempty"`
	FileCreated *ports.FileCreated `json:"file_created,omitempty"`
}

func NewActivityRunning(sessionID, tool string, params map[string]any) *ActivityEvent {
	return &ActivityEvent{BaseEvent: newBase(EventActivity, sessionID), Tool: tool, Status: ActivityRunning, Params: params}
}

func NewActivityCompleted(sessionID, tool, result string, fileCreated *ports.FileCreated) *ActivityEvent {
	return &ActivityEvent{BaseEvent: newBase(EventActivity, sessionID), Tool: tool, Status: ActivityCompleted, Result: result, FileCreated: fileCreated}
}

func NewActivityFailed(sessionID, tool, errMsg string) *ActivityEvent {
	return &ActivityEvent{BaseEvent: newBase(EventActivity, sessionID), Tool: tool, Status: ActivityFailed, Error: errMsg}
}

// RecoveryEvent reports a self-healing attempt for a failing action.
type RecoveryEvent struct {
	BaseEvent
	Description string `json:"description"`
	ErrorClass  string `json:"error_class"`
}

func NewRecoveryEvent(sessionID, description, errorClass string) *RecoveryEvent {
	return &RecoveryEvent{BaseEvent: newBase(EventRecovery, sessionID), Description: description, ErrorClass: errorClass}
}

// FinalAnswerEvent carries the terminal answer for a task.
type FinalAnswerEvent struct {
	BaseEvent
	Content string `json:"content"`
}

func NewFinalAnswerEvent(sessionID, content string) *FinalAnswerEvent {
	return &FinalAnswerEvent{BaseEvent: newBase(EventFinalAnswer, sessionID), Content: content}
}

// PlanProposalEvent delivers a synthesized plan awaiting approval.
type PlanProposalEvent struct {
	BaseEvent
	Plan map[string]any `json:"plan"`
}

func NewPlanProposalEvent(sessionID string, plan map[string]any) *PlanProposalEvent {
	return &PlanProposalEvent{BaseEvent: newBase(EventPlanProposal, sessionID), Plan: plan}
}

// PlanStartedEvent signals that an approved plan began executing.
type PlanStartedEvent struct {
	BaseEvent
	Plan map[string]any `json:"plan,omitempty"`
}

func NewPlanStartedEvent(sessionID string, plan map[string]any) *PlanStartedEvent {
	return &PlanStartedEvent{BaseEvent: newBase(EventPlanStarted, sessionID), Plan: plan}
}

// PlanUpdatedEvent signals that a pending plan was replaced.
type PlanUpdatedEvent struct {
	BaseEvent
	Plan map[string]any `json:"plan"`
}

func NewPlanUpdatedEvent(sessionID string, plan map[string]any) *PlanUpdatedEvent {
	return &PlanUpdatedEvent{BaseEvent: newBase(EventPlanUpdated, sessionID), Plan: plan}
}

// PausedEvent and ResumedEvent bracket a pause_execution window.
type PausedEvent struct {
	BaseEvent
}

func NewPausedEvent(sessionID string) *PausedEvent {
	return &PausedEvent{BaseEvent: newBase(EventPaused, sessionID)}
}

type ResumedEvent struct {
	BaseEvent
}

func NewResumedEvent(sessionID string) *ResumedEvent {
	return &ResumedEvent{BaseEvent: newBase(EventResumed, sessionID)}
}

// InterruptingEvent acknowledges an interrupt request.
type InterruptingEvent struct {
	BaseEvent
}

func NewInterruptingEvent(sessionID string) *InterruptingEvent {
	return &InterruptingEvent{BaseEvent: newBase(EventInterrupting, sessionID)}
}

// InterruptedEvent confirms that the task unwound after cancellation.
type InterruptedEvent struct {
	BaseEvent
	Message string `json:"message,omitempty"`
}

func NewInterruptedEvent(sessionID string) *InterruptedEvent {
	return &InterruptedEvent{BaseEvent: newBase(EventInterrupted, sessionID), Message: "Task interrupted by user."}
}

// CompleteEvent closes a task after its final answer.
type CompleteEvent struct {
	BaseEvent
	Task string `json:"task"`
}

func NewCompleteEvent(sessionID, task string) *CompleteEvent {
	return &CompleteEvent{BaseEvent: newBase(EventComplete, sessionID), Task: task}
}

// ErrorEvent reports a task-level failure.
type ErrorEvent struct {
	BaseEvent
	Message string `json:"message"`
}

func NewErrorEvent(sessionID, message string) *ErrorEvent {
	return &ErrorEvent{BaseEvent: newBase(EventError, sessionID), Message: message}
}
