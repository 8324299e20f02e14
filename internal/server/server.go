// Package server exposes the runtime over HTTP: a WebSocket streaming
// endpoint for task execution plus a small REST surface for sessions,
// files, tools and health.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"atlas/internal/agent/ports"
	"atlas/internal/config"
	"atlas/internal/recovery"
	"atlas/internal/session"
	"atlas/internal/tools/builtin"
	"atlas/internal/toolregistry"
)

// Server wires the HTTP surface to the session manager and the agent stack.
type Server struct {
	cfg      *config.Config
	sessions *session.Manager
	llm      ports.LLMClient
	logger   ports.Logger
	journal  *recovery.Journal

	httpServer *http.Server
}

// New builds a server.
func New(cfg *config.Config, sessions *session.Manager, llm ports.LLMClient, logger ports.Logger) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		llm:      llm,
		logger:   logger,
		journal:  recovery.NewJournal(filepath.Join(cfg.Sessions.Root, "error_journal.jsonl"), logger),
	}
}

// Router assembles the gin engine with every route mounted.
func (s *Server) Router() *gin.Engine {
	if !s.cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	if s.cfg.Server.EnableCORS {
		corsCfg := cors.DefaultConfig()
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
		r.Use(cors.New(corsCfg))
	}

	r.GET("/api/health", s.handleHealth)
	r.GET("/api/tools", s.handleTools)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/api/sessions", s.handleListSessions)
	r.GET("/api/sessions/:id", s.handleGetSession)
	r.DELETE("/api/sessions/:id", s.handleDeleteSession)
	r.POST("/api/sessions/:id/save", s.handleSaveSession)
	r.GET("/api/sessions/:id/outputs", s.handleListOutputs)
	r.GET("/api/sessions/:id/files/*path", s.handleGetFile)

	r.GET("/ws", s.handleWebSocket)
	r.GET("/ws/:session_id", s.handleWebSocket)

	return r
}

// Start serves until ctx is cancelled, then drains with a grace period.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.Router()}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Listening on %s", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"model":  s.llm.Model(),
	})
}

// handleTools reports the tool schema. The listing registry runs with an
// empty environment; definitions do not touch it.
func (s *Server) handleTools(c *gin.Context) {
	registry := toolregistry.New()
	builtin.RegisterAll(registry, builtin.Env{Runner: nilRunner{}, Files: nilFiles{}, Logger: s.logger})
	c.JSON(http.StatusOK, gin.H{"tools": registry.List()})
}

// handleListSessions lists stored sessions with the compact state snapshot
// (message/file/output counts) when one is readable.
func (s *Server) handleListSessions(c *gin.Context) {
	ids, err := s.sessions.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		entry := map[string]any{"session_id": id}
		if state, err := s.sessions.State(id); err == nil {
			for k, v := range state {
				entry[k] = v
			}
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (s *Server) handleGetSession(c *gin.Context) {
	conv, err := s.sessions.Load(c.Param("id"))
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id":      conv.SessionID(),
		"metadata":        conv.Metadata(),
		"message_count":   len(conv.Messages()),
		"created_files":   conv.CreatedFiles(),
		"protected_files": conv.ProtectedFiles(),
		"outputs":         conv.Outputs(),
	})
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	if err := s.sessions.Delete(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// handleSaveSession persists the session snapshot on demand.
func (s *Server) handleSaveSession(c *gin.Context) {
	conv, err := s.sessions.Load(c.Param("id"))
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := conv.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": true, "session_id": conv.SessionID()})
}

func (s *Server) handleListOutputs(c *gin.Context) {
	conv, err := s.sessions.Load(c.Param("id"))
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"outputs": conv.Outputs()})
}

// handleGetFile serves a workspace path; anything resolving outside the
// session workspace is a 403. Directories come back as a JSON listing, files
// stream inline, or as an attachment with ?download=1.
func (s *Server) handleGetFile(c *gin.Context) {
	conv, err := s.sessions.Load(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	rel := strings.TrimPrefix(c.Param("path"), "/")
	workspace := conv.WorkspaceDir()
	target := filepath.Join(workspace, filepath.FromSlash(rel))
	target = filepath.Clean(target)
	if target != workspace && !strings.HasPrefix(target, workspace+string(filepath.Separator)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "path escapes the workspace"})
		return
	}

	info, err := os.Stat(target)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	if info.IsDir() {
		entries, err := os.ReadDir(target)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		files := make([]map[string]any, 0, len(entries))
		for _, e := range entries {
			item := map[string]any{"name": e.Name(), "dir": e.IsDir()}
			if fi, err := e.Info(); err == nil && !e.IsDir() {
				item["size"] = fi.Size()
			}
			files = append(files, item)
		}
		c.JSON(http.StatusOK, gin.H{"path": rel, "files": files})
		return
	}

	if c.Query("download") != "" {
		c.FileAttachment(target, filepath.Base(target))
		return
	}
	c.File(target)
}

// nilRunner / nilFiles back the schema-only tool registry.
type nilRunner struct{}

func (nilRunner) Execute(context.Context, string, time.Duration) (*ports.ExecResult, error) {
	return nil, ports.ErrSandboxUnavailable
}
func (nilRunner) ResolvePath(string) (string, error) { return "", errors.New("no workspace") }
func (nilRunner) WorkspaceDir() string               { return "" }

type nilFiles struct{}

func (nilFiles) RegisterFile(string, bool) {}
func (nilFiles) ForgetFile(string)         {}
func (nilFiles) IsProtected(string) bool   { return false }
