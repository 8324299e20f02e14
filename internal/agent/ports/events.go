package ports

import "time"

// AgentEvent is anything the engine or orchestrator emits toward a client.
type AgentEvent interface {
	EventType() string
	GetSessionID() string
	Timestamp() time.Time
}

// EventListener receives engine events in emission order. Implementations
// must not block for long: the engine emits inline from its task goroutine.
type EventListener interface {
	OnEvent(event AgentEvent)
}

// EventListenerFunc adapts a function to the EventListener interface.
type EventListenerFunc func(event AgentEvent)

func (f EventListenerFunc) OnEvent(event AgentEvent) { f(event) }

// Logger is the printf-style logging contract the domain depends on. It is
// satisfied by internal/logging without importing it here.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}
