package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"atlas/internal/agent/ports"
	"atlas/internal/config"
	"atlas/internal/sandbox"
	id "atlas/internal/utils/id"
)

var sessionIDPattern = regexp.MustCompile(`^[a-f0-9]{8}$`)

// Session binds one conversation context to one execution context.
type Session struct {
	ID           string
	Conversation *ConversationContext
	Exec         *sandbox.ExecutionContext

	closeOnce sync.Once
}

// Close stops the sandbox and snapshots the conversation. Idempotent.
func (s *Session) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		if err := s.Conversation.Save(); err != nil {
			// persistence errors never propagate out of close
			_ = err
		}
		_ = s.Exec.Stop(ctx)
	})
}

// Manager creates, resumes and enumerates sessions under a root directory.
type Manager struct {
	root   string
	cfg    *config.Config
	docker sandbox.DockerClient
	logger ports.Logger

	mu   sync.Mutex
	live map[string]*Session
}

// NewManager builds a session manager rooted at cfg.Sessions.Root.
func NewManager(cfg *config.Config, docker sandbox.DockerClient, logger ports.Logger) (*Manager, error) {
	if err := os.MkdirAll(cfg.Sessions.Root, 0755); err != nil {
		return nil, fmt.Errorf("create sessions root: %w", err)
	}
	return &Manager{
		root:   cfg.Sessions.Root,
		cfg:    cfg,
		docker: docker,
		logger: logger,
		live:   make(map[string]*Session),
	}, nil
}

// CreateNew provisions a fresh session with an empty workspace. The sandbox
// container is not started here; it launches on the first command.
func (m *Manager) CreateNew(ctx context.Context) (*Session, error) {
	sessionID := id.NewSessionID()
	return m.build(ctx, sessionID, false)
}

// Resume reopens an existing session from its on-disk snapshot.
func (m *Manager) Resume(ctx context.Context, sessionID string) (*Session, error) {
	if !sessionIDPattern.MatchString(sessionID) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	m.mu.Lock()
	if s, ok := m.live[sessionID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	return m.build(ctx, sessionID, true)
}

func (m *Manager) build(ctx context.Context, sessionID string, resume bool) (*Session, error) {
	dir := filepath.Join(m.root, sessionID)

	var (
		conv *ConversationContext
		err  error
	)
	if resume {
		conv, err = LoadConversationContext(sessionID, dir, m.cfg.Agent.ContextAutosave, m.logger)
	} else {
		conv, err = NewConversationContext(sessionID, dir, m.cfg.Agent.ContextAutosave, m.logger)
	}
	if err != nil {
		return nil, err
	}

	exec, err := sandbox.NewExecutionContext(m.docker, sandbox.Options{
		SessionID:    sessionID,
		WorkspaceDir: conv.WorkspaceDir(),
		Image:        m.cfg.Sandbox.Image,
		MountPath:    m.cfg.Sandbox.MountPath,
		AutoCleanup:  m.cfg.Sandbox.AutoCleanup,
		Logger:       m.logger,
	})
	if err != nil {
		return nil, err
	}

	s := &Session{ID: sessionID, Conversation: conv, Exec: exec}
	if !resume {
		if err := conv.Save(); err != nil {
			m.logger.Warn("Initial snapshot failed for session %s: %v", sessionID, err)
		}
	}

	m.mu.Lock()
	m.live[sessionID] = s
	m.mu.Unlock()

	m.logger.Info("Session %s ready (resume=%v, workspace=%s)", sessionID, resume, conv.WorkspaceDir())
	return s, nil
}

// Release drops a session from the live map after it is closed.
func (m *Manager) Release(sessionID string) {
	m.mu.Lock()
	delete(m.live, sessionID)
	m.mu.Unlock()
}

// List returns all session ids with an on-disk snapshot.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() && sessionIDPattern.MatchString(entry.Name()) {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

// State reads the compact state.json snapshot of a stored session.
func (m *Manager) State(sessionID string) (map[string]any, error) {
	if !sessionIDPattern.MatchString(sessionID) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	data, err := os.ReadFile(filepath.Join(m.root, sessionID, "state.json"))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	var state map[string]any
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode state for %s: %w", sessionID, err)
	}
	return state, nil
}

// Load opens the conversation context of a stored session without binding
// an execution context (read-only REST access).
func (m *Manager) Load(sessionID string) (*ConversationContext, error) {
	if !sessionIDPattern.MatchString(sessionID) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	m.mu.Lock()
	if s, ok := m.live[sessionID]; ok {
		m.mu.Unlock()
		return s.Conversation, nil
	}
	m.mu.Unlock()

	return LoadConversationContext(sessionID, filepath.Join(m.root, sessionID), false, m.logger)
}

// Delete closes any live instance and removes the session directory.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	if !sessionIDPattern.MatchString(sessionID) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	m.mu.Lock()
	s := m.live[sessionID]
	delete(m.live, sessionID)
	m.mu.Unlock()

	if s != nil {
		s.Close(ctx)
	}

	dir := filepath.Join(m.root, sessionID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return os.RemoveAll(dir)
}
