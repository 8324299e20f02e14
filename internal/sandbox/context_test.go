package sandbox

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"atlas/internal/logging"
)

// fakeDocker scripts the docker surface without a daemon.
type fakeDocker struct {
	runs     []RunOpts
	execs    [][]string
	removed  []string
	stopped  []string
	existing map[string]bool

	stdout   string
	exitCode int
}

func (f *fakeDocker) Ping(ctx context.Context) error                      { return nil }
func (f *fakeDocker) ImagePull(ctx context.Context, image string) error   { return nil }
func (f *fakeDocker) ImageExists(ctx context.Context, image string) (bool, error) { return true, nil }

func (f *fakeDocker) ContainerExists(ctx context.Context, name string) (bool, error) {
	return f.existing[name], nil
}

func (f *fakeDocker) ContainerRun(ctx context.Context, opts RunOpts) error {
	f.runs = append(f.runs, opts)
	return nil
}

func (f *fakeDocker) ContainerStop(ctx context.Context, name string, timeout time.Duration) error {
	f.stopped = append(f.stopped, name)
	return nil
}

func (f *fakeDocker) ContainerRemove(ctx context.Context, name string, force bool) error {
	f.removed = append(f.removed, name)
	return nil
}

func (f *fakeDocker) Exec(ctx context.Context, container string, cmd []string, workdir string) (string, string, int, error) {
	f.execs = append(f.execs, cmd)
	return f.stdout, "", f.exitCode, nil
}

func newTestContext(t *testing.T, docker DockerClient) *ExecutionContext {
	t.Helper()
	ec, err := NewExecutionContext(docker, Options{
		SessionID:    "abc12345",
		WorkspaceDir: t.TempDir(),
		Image:        "python:3.11-slim",
		MountPath:    "/workspace",
		Logger:       logging.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return ec
}

func TestStartIsIdempotent(t *testing.T) {
	docker := &fakeDocker{}
	ec := newTestContext(t, docker)

	if err := ec.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := ec.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(docker.runs) != 1 {
		t.Fatalf("expected a single container run, got %d", len(docker.runs))
	}

	run := docker.runs[0]
	if run.Name != "atlas-session-abc12345" {
		t.Fatalf("unexpected container name: %s", run.Name)
	}
	if run.Volumes[ec.WorkspaceDir()] != "/workspace" {
		t.Fatalf("workspace not mounted: %+v", run.Volumes)
	}
}

func TestStartRemovesStaleContainer(t *testing.T) {
	docker := &fakeDocker{existing: map[string]bool{"atlas-session-abc12345": true}}
	ec := newTestContext(t, docker)

	if err := ec.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(docker.removed) != 1 || docker.removed[0] != "atlas-session-abc12345" {
		t.Fatalf("stale container not removed: %v", docker.removed)
	}
}

func TestExecuteStartsLazily(t *testing.T) {
	docker := &fakeDocker{stdout: "hi\n"}
	ec := newTestContext(t, docker)

	res, err := ec.Execute(context.Background(), "echo hi", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !ec.Started() {
		t.Fatal("execute should start the container")
	}
	if res.Stdout != "hi\n" || res.ExitCode != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(docker.execs) != 1 || docker.execs[0][0] != "bash" || docker.execs[0][1] != "-c" {
		t.Fatalf("command should run via bash -c: %v", docker.execs)
	}
}

func TestResolvePath(t *testing.T) {
	ec := newTestContext(t, &fakeDocker{})
	ws := ec.WorkspaceDir()

	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"report.pdf", filepath.Join(ws, "report.pdf"), true},
		{"sub/dir/file.txt", filepath.Join(ws, "sub", "dir", "file.txt"), true},
		{".", ws, true},
		{"/workspace/out.txt", filepath.Join(ws, "out.txt"), true},
		{filepath.Join(ws, "inner.txt"), filepath.Join(ws, "inner.txt"), true},
		{"../escape.txt", "", false},
		{"a/../../escape.txt", "", false},
		{"/etc/passwd", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ec.ResolvePath(tc.in)
		if tc.ok {
			if err != nil {
				t.Errorf("ResolvePath(%q) failed: %v", tc.in, err)
			} else if got != tc.want {
				t.Errorf("ResolvePath(%q) = %q, want %q", tc.in, got, tc.want)
			}
			continue
		}
		if err == nil {
			t.Errorf("ResolvePath(%q) should be rejected, got %q", tc.in, got)
		}
	}
}

func TestStopRemovesContainer(t *testing.T) {
	docker := &fakeDocker{}
	ec := newTestContext(t, docker)
	if err := ec.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := ec.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if ec.Started() {
		t.Fatal("stop should clear the started flag")
	}
	if len(docker.stopped) != 1 || len(docker.removed) != 1 {
		t.Fatalf("container not stopped and removed: %v %v", docker.stopped, docker.removed)
	}
}
