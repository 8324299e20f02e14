package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"atlas/internal/agent/ports"
)

// Options configures an execution context.
type Options struct {
	SessionID    string
	WorkspaceDir string // host path, bind-mounted into the container
	Image        string
	MountPath    string // in-container path of the workspace
	AutoCleanup  bool   // remove the workspace on Cleanup
	Logger       ports.Logger
}

// ExecutionContext is the per-session isolated command runner. It owns one
// long-running container with the workspace mounted read/write.
type ExecutionContext struct {
	sessionID    string
	workspaceDir string
	image        string
	mountPath    string
	autoCleanup  bool
	docker       DockerClient
	logger       ports.Logger

	mu      sync.Mutex
	started bool
}

// NewExecutionContext builds an execution context; Start launches the
// container lazily so accepting a connection stays fast.
func NewExecutionContext(docker DockerClient, opts Options) (*ExecutionContext, error) {
	abs, err := filepath.Abs(opts.WorkspaceDir)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace dir: %w", err)
	}
	return &ExecutionContext{
		sessionID:    opts.SessionID,
		workspaceDir: abs,
		image:        opts.Image,
		mountPath:    opts.MountPath,
		autoCleanup:  opts.AutoCleanup,
		docker:       docker,
		logger:       opts.Logger,
	}, nil
}

func (e *ExecutionContext) containerName() string {
	return "atlas-session-" + e.sessionID
}

// WorkspaceDir returns the host workspace directory.
func (e *ExecutionContext) WorkspaceDir() string { return e.workspaceDir }

// Started reports whether the sandbox container is running.
func (e *ExecutionContext) Started() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// Start is idempotent: it ensures the workspace exists, the image is
// available (pulling when absent), removes any stale container with this
// session's name, and launches a long-running container with the workspace
// bind-mounted at the mount path.
func (e *ExecutionContext) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}

	if err := os.MkdirAll(e.workspaceDir, 0755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	if err := e.docker.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrSandboxUnavailable, err)
	}

	if ok, err := e.docker.ImageExists(ctx, e.image); err == nil && !ok {
		e.logger.Info("Pulling sandbox image %s", e.image)
		if err := e.docker.ImagePull(ctx, e.image); err != nil {
			return fmt.Errorf("pull image %s: %w", e.image, err)
		}
	}

	name := e.containerName()
	if exists, err := e.docker.ContainerExists(ctx, name); err == nil && exists {
		e.logger.Info("Removing stale sandbox container %s", name)
		if err := e.docker.ContainerRemove(ctx, name, true); err != nil {
			return fmt.Errorf("remove stale container: %w", err)
		}
	}

	err := e.docker.ContainerRun(ctx, RunOpts{
		Name:    name,
		Image:   e.image,
		Volumes: map[string]string{e.workspaceDir: e.mountPath},
		WorkDir: e.mountPath,
		TTY:     true,
		Command: []string{"tail", "-f", "/dev/null"},
	})
	if err != nil {
		return fmt.Errorf("start sandbox container: %w", err)
	}

	e.logger.Info("Sandbox container %s started (workspace %s -> %s)", name, e.workspaceDir, e.mountPath)
	e.started = true
	return nil
}

// Execute runs command via `bash -c` inside the sandbox with the workspace
// as CWD. The command is not interpreted here; pipes and redirection are
// the caller's business.
func (e *ExecutionContext) Execute(ctx context.Context, command string, timeout time.Duration) (*ports.ExecResult, error) {
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()
	if !started {
		if err := e.Start(ctx); err != nil {
			return nil, err
		}
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	stdout, stderr, code, err := e.docker.Exec(ctx, e.containerName(), []string{"bash", "-c", command}, e.mountPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrSandboxUnavailable, err)
	}
	return &ports.ExecResult{Stdout: stdout, Stderr: stderr, ExitCode: code}, nil
}

// ResolvePath normalizes p to an absolute host path inside the workspace.
// Absolute paths are accepted only when they already point inside either
// the workspace or the in-container mount; anything escaping is rejected.
func (e *ExecutionContext) ResolvePath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty path")
	}

	candidate := p
	if filepath.IsAbs(candidate) {
		// Translate in-container paths back to the host workspace.
		if rel, err := filepath.Rel(e.mountPath, candidate); err == nil && !strings.HasPrefix(rel, "..") {
			candidate = rel
		} else if rel, err := filepath.Rel(e.workspaceDir, candidate); err == nil && !strings.HasPrefix(rel, "..") {
			candidate = rel
		} else {
			return "", fmt.Errorf("path %q is outside the session workspace", p)
		}
	}

	resolved := filepath.Clean(filepath.Join(e.workspaceDir, candidate))
	rel, err := filepath.Rel(e.workspaceDir, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the session workspace", p)
	}
	return resolved, nil
}

// Stop stops and removes the container. Safe from any state.
func (e *ExecutionContext) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return nil
	}

	name := e.containerName()
	if err := e.docker.ContainerStop(ctx, name, 5*time.Second); err != nil {
		e.logger.Warn("Failed to stop sandbox container %s: %v", name, err)
	}
	if err := e.docker.ContainerRemove(ctx, name, true); err != nil {
		e.logger.Warn("Failed to remove sandbox container %s: %v", name, err)
	}
	e.started = false
	return nil
}

// Cleanup stops the container and, when auto-cleanup is configured, removes
// the workspace directory.
func (e *ExecutionContext) Cleanup(ctx context.Context) error {
	if err := e.Stop(ctx); err != nil {
		return err
	}
	if e.autoCleanup {
		if err := os.RemoveAll(e.workspaceDir); err != nil {
			return fmt.Errorf("remove workspace: %w", err)
		}
		e.logger.Info("Removed workspace %s", e.workspaceDir)
	}
	return nil
}
