package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atlas/internal/config"
	"atlas/internal/llm"
	"atlas/internal/logging"
	"atlas/internal/sandbox"
	"atlas/internal/session"
)

type stubDocker struct{}

func (stubDocker) Ping(ctx context.Context) error                              { return nil }
func (stubDocker) ImagePull(ctx context.Context, image string) error           { return nil }
func (stubDocker) ImageExists(ctx context.Context, image string) (bool, error) { return true, nil }
func (stubDocker) ContainerExists(ctx context.Context, name string) (bool, error) {
	return false, nil
}
func (stubDocker) ContainerRun(ctx context.Context, opts sandbox.RunOpts) error { return nil }
func (stubDocker) ContainerStop(ctx context.Context, name string, timeout time.Duration) error {
	return nil
}
func (stubDocker) ContainerRemove(ctx context.Context, name string, force bool) error { return nil }
func (stubDocker) Exec(ctx context.Context, container string, cmd []string, workdir string) (string, string, int, error) {
	return "", "", 0, nil
}

func testServer(t *testing.T) (*Server, *session.Manager) {
	t.Helper()
	cfg := config.Default()
	cfg.Sessions.Root = t.TempDir()
	cfg.Server.Debug = false

	sessions, err := session.NewManager(cfg, stubDocker{}, logging.Nop())
	require.NoError(t, err)

	return New(cfg, sessions, llm.NewMockClient(), logging.Nop()), sessions
}

func doGET(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := testServer(t)
	w := doGET(t, srv, "/api/health")

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "mock", body["model"])
}

func TestToolsEndpointListsSchemas(t *testing.T) {
	srv, _ := testServer(t)
	w := doGET(t, srv, "/api/tools")

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Tools []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	names := make(map[string]bool, len(body.Tools))
	for _, tool := range body.Tools {
		names[tool.Name] = true
		assert.NotEmpty(t, tool.Description, "tool %s has no description", tool.Name)
	}
	for _, want := range []string{"calculator", "execute_command", "write_file", "read_file", "list_directory", "web_search", "create_pdf"} {
		assert.True(t, names[want], "missing tool %s", want)
	}
}

func TestListSessionsEmpty(t *testing.T) {
	srv, _ := testServer(t)
	w := doGET(t, srv, "/api/sessions")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"sessions":[]}`, w.Body.String())
}

func TestSessionLifecycleOverREST(t *testing.T) {
	srv, sessions := testServer(t)

	sess, err := sessions.CreateNew(context.Background())
	require.NoError(t, err)
	sessions.Release(sess.ID)

	w := doGET(t, srv, "/api/sessions")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), sess.ID)

	w = doGET(t, srv, "/api/sessions/"+sess.ID)
	require.Equal(t, http.StatusOK, w.Code)
	var detail map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Equal(t, sess.ID, detail["session_id"])

	req := httptest.NewRequest(http.MethodDelete, "/api/sessions/"+sess.ID, nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	w = doGET(t, srv, "/api/sessions/"+sess.ID)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetSessionUnknown(t *testing.T) {
	srv, _ := testServer(t)
	w := doGET(t, srv, "/api/sessions/deadbeef")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetSessionRejectsMalformedID(t *testing.T) {
	srv, _ := testServer(t)
	w := doGET(t, srv, "/api/sessions/not-a-session-id")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetFileServesWorkspaceContent(t *testing.T) {
	srv, sessions := testServer(t)

	sess, err := sessions.CreateNew(context.Background())
	require.NoError(t, err)
	workspace := sess.Conversation.WorkspaceDir()
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "out.txt"), []byte("result"), 0644))

	w := doGET(t, srv, "/api/sessions/"+sess.ID+"/files/out.txt")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "result", w.Body.String())
}

func TestSaveSessionEndpoint(t *testing.T) {
	srv, sessions := testServer(t)

	sess, err := sessions.CreateNew(context.Background())
	require.NoError(t, err)
	sess.Conversation.AddUserMessage("hello")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+sess.ID+"/save", nil)
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"saved":true`)

	_, err = os.Stat(filepath.Join(sess.Conversation.Dir(), "context.json"))
	assert.NoError(t, err, "save must persist the context snapshot")

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/sessions/deadbeef/save", nil)
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListOutputsEndpoint(t *testing.T) {
	srv, sessions := testServer(t)

	sess, err := sessions.CreateNew(context.Background())
	require.NoError(t, err)
	_, err = sess.Conversation.SaveOutput("summarize the data", "three rows stand out")
	require.NoError(t, err)

	w := doGET(t, srv, "/api/sessions/"+sess.ID+"/outputs")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Outputs []map[string]any `json:"outputs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Outputs, 1)
	assert.Equal(t, "summarize the data", body.Outputs[0]["task"])
}

func TestWorkspaceListing(t *testing.T) {
	srv, sessions := testServer(t)

	sess, err := sessions.CreateNew(context.Background())
	require.NoError(t, err)
	workspace := sess.Conversation.WorkspaceDir()
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "report.md"), []byte("# hi"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(workspace, "data"), 0755))

	w := doGET(t, srv, "/api/sessions/"+sess.ID+"/files/")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Files []struct {
			Name string `json:"name"`
			Dir  bool   `json:"dir"`
		} `json:"files"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	found := map[string]bool{}
	for _, f := range body.Files {
		found[f.Name] = f.Dir
	}
	dir, ok := found["data"]
	assert.True(t, ok && dir, "directory entry missing: %v", found)
	dir, ok = found["report.md"]
	assert.True(t, ok && !dir, "file entry missing: %v", found)
}

func TestDownloadSetsAttachmentHeader(t *testing.T) {
	srv, sessions := testServer(t)

	sess, err := sessions.CreateNew(context.Background())
	require.NoError(t, err)
	workspace := sess.Conversation.WorkspaceDir()
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "report.pdf"), []byte("%PDF"), 0644))

	w := doGET(t, srv, "/api/sessions/"+sess.ID+"/files/report.pdf?download=1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, w.Header().Get("Content-Disposition"), "report.pdf")

	w = doGET(t, srv, "/api/sessions/"+sess.ID+"/files/absent.pdf")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetFileRejectsTraversal(t *testing.T) {
	srv, sessions := testServer(t)

	sess, err := sessions.CreateNew(context.Background())
	require.NoError(t, err)

	// The session directory holds context.json one level above the
	// workspace; traversal must not reach it.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+sess.ID+"/files/out.txt", nil)
	req.URL.Path = "/api/sessions/" + sess.ID + "/files/../context.json"
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
