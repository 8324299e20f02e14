// Package sandbox provides the per-session isolated command environment: a
// docker-backed container with the session workspace bind-mounted, and a
// path-confined execution context over it.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// DockerClient is a type-safe interface over container operations.
type DockerClient interface {
	Ping(ctx context.Context) error
	ImagePull(ctx context.Context, image string) error
	ImageExists(ctx context.Context, image string) (bool, error)
	ContainerExists(ctx context.Context, name string) (bool, error)
	ContainerRun(ctx context.Context, opts RunOpts) error
	ContainerStop(ctx context.Context, name string, timeout time.Duration) error
	ContainerRemove(ctx context.Context, name string, force bool) error
	Exec(ctx context.Context, container string, cmd []string, workdir string) (stdout, stderr string, exitCode int, err error)
}

// RunOpts defines options for launching a long-running container.
type RunOpts struct {
	Name    string
	Image   string
	Volumes map[string]string // host:container
	WorkDir string
	TTY     bool
	// Command keeps the container alive; defaults handled by the caller.
	Command []string
}

// CLIClient implements DockerClient by shelling out to the docker CLI.
type CLIClient struct {
	dockerBin string
}

// NewCLIClient creates a new CLI-based docker client.
func NewCLIClient() *CLIClient {
	bin := "docker"
	if p, err := exec.LookPath("docker"); err == nil {
		bin = p
	}
	return &CLIClient{dockerBin: bin}
}

func (c *CLIClient) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, c.dockerBin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("docker %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(stderr.String()), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Ping verifies the docker daemon is reachable.
func (c *CLIClient) Ping(ctx context.Context) error {
	if _, err := c.run(ctx, "info", "--format", "{{.ServerVersion}}"); err != nil {
		return fmt.Errorf("docker daemon unreachable: %w", err)
	}
	return nil
}

func (c *CLIClient) ImagePull(ctx context.Context, image string) error {
	_, err := c.run(ctx, "pull", image)
	return err
}

func (c *CLIClient) ImageExists(ctx context.Context, image string) (bool, error) {
	out, err := c.run(ctx, "images", "--format", "{{.Repository}}:{{.Tag}}")
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == image {
			return true, nil
		}
	}
	return false, nil
}

func (c *CLIClient) ContainerExists(ctx context.Context, name string) (bool, error) {
	out, err := c.run(ctx, "ps", "-a", "--format", "{{.Names}}")
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == name {
			return true, nil
		}
	}
	return false, nil
}

func (c *CLIClient) ContainerRun(ctx context.Context, opts RunOpts) error {
	args := []string{"run", "-d", "--name", opts.Name}
	if opts.TTY {
		args = append(args, "-t")
	}
	if opts.WorkDir != "" {
		args = append(args, "-w", opts.WorkDir)
	}
	for hostPath, containerPath := range opts.Volumes {
		args = append(args, "-v", hostPath+":"+containerPath)
	}
	args = append(args, opts.Image)
	args = append(args, opts.Command...)

	_, err := c.run(ctx, args...)
	return err
}

func (c *CLIClient) ContainerStop(ctx context.Context, name string, timeout time.Duration) error {
	args := []string{"stop"}
	if timeout > 0 {
		args = append(args, "-t", strconv.Itoa(int(timeout.Seconds())))
	}
	args = append(args, name)
	_, err := c.run(ctx, args...)
	return err
}

func (c *CLIClient) ContainerRemove(ctx context.Context, name string, force bool) error {
	args := []string{"rm"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, name)
	_, err := c.run(ctx, args...)
	return err
}

// Exec runs cmd inside the container and returns stdout, stderr and the
// command's exit code. A non-zero exit code is not a Go error.
func (c *CLIClient) Exec(ctx context.Context, container string, cmd []string, workdir string) (string, string, int, error) {
	args := []string{"exec"}
	if workdir != "" {
		args = append(args, "-w", workdir)
	}
	args = append(args, container)
	args = append(args, cmd...)

	execCmd := exec.CommandContext(ctx, c.dockerBin, args...)
	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	err := execCmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
			err = nil
		} else if ctx.Err() != nil {
			// docker exec was killed by the context deadline; the
			// in-container process receives the signal with it.
			exitCode = 124
			err = nil
		} else {
			return "", "", -1, fmt.Errorf("docker exec in %s: %s: %w", container, strings.TrimSpace(stderr.String()), err)
		}
	}
	return stdout.String(), stderr.String(), exitCode, nil
}
