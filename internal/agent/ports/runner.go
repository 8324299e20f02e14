package ports

import (
	"context"
	"errors"
	"time"
)

// ErrSandboxUnavailable signals that the container runtime is not reachable.
var ErrSandboxUnavailable = errors.New("sandbox unavailable")

// ExecResult carries the outcome of a sandboxed shell command.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// CommandRunner is the execution-context surface tools depend on: an
// isolated command environment over a mounted workspace directory.
type CommandRunner interface {
	// Execute runs command through a shell inside the sandbox with the
	// workspace as CWD. On timeout the container is signalled and the exit
	// code is non-zero.
	Execute(ctx context.Context, command string, timeout time.Duration) (*ExecResult, error)

	// ResolvePath normalizes p to an absolute host path inside the
	// workspace directory; paths escaping the workspace are rejected.
	ResolvePath(p string) (string, error)

	// WorkspaceDir returns the host workspace directory.
	WorkspaceDir() string
}

// FileRegistry is the conversation-context surface tools use to track and
// guard workspace files.
type FileRegistry interface {
	// RegisterFile records a created file; autoProtect also marks it
	// protected so deletion requires an explicit force flag.
	RegisterFile(path string, autoProtect bool)

	// ForgetFile drops path from the created and protected sets.
	ForgetFile(path string)

	// IsProtected reports whether path is in the protected set.
	IsProtected(path string) bool
}
