// Package session binds a persistent conversation context to an isolated
// execution context under an 8-character session id, and owns the on-disk
// layout:
//
//	<session_id>/
//	  context.json    full snapshot (messages, files, outputs, metadata)
//	  state.json      compact snapshot (counts + updated_at)
//	  metadata.json   {session_id, created_at, updated_at}
//	  history.jsonl   append-only per-message log
//	  .protected      newline-separated protected paths
//	  files/          session workspace, bind-mounted into the sandbox
//	  outputs/        saved outputs as <ISO8601>.json
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"atlas/internal/agent/ports"
)

// ErrSessionNotFound is returned when loading a session id with no snapshot.
var ErrSessionNotFound = errors.New("session not found")

// OutputRecord is one saved task result.
type OutputRecord struct {
	Task      string    `json:"task"`
	Result    string    `json:"result"`
	Timestamp time.Time `json:"timestamp"`
	FilePath  string    `json:"file_path,omitempty"`
}

// Metadata carries session bookkeeping. UpdatedAt is monotonically
// non-decreasing across mutations.
type Metadata struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationContext is the append-only message log plus derived file sets
// for one session. All mutations are serialized by the session's task loop;
// the mutex guards the occasional cross-goroutine read (REST handlers).
type ConversationContext struct {
	mu sync.Mutex

	sessionID      string
	dir            string
	messages       []ports.Message
	createdFiles   map[string]struct{}
	protectedFiles map[string]struct{}
	outputs        []OutputRecord
	meta           Metadata

	autosave bool
	logger   ports.Logger
}

// contextSnapshot is the context.json wire form.
type contextSnapshot struct {
	SessionID      string          `json:"session_id"`
	Messages       []ports.Message `json:"messages"`
	CreatedFiles   []string        `json:"created_files"`
	ProtectedFiles []string        `json:"protected_files"`
	Outputs        []OutputRecord  `json:"outputs"`
	Metadata       Metadata        `json:"metadata"`
}

// NewConversationContext creates a fresh context rooted at dir.
func NewConversationContext(sessionID, dir string, autosave bool, logger ports.Logger) (*ConversationContext, error) {
	for _, sub := range []string{"", "files", "outputs"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("create session dir: %w", err)
		}
	}
	now := time.Now()
	c := &ConversationContext{
		sessionID:      sessionID,
		dir:            dir,
		createdFiles:   make(map[string]struct{}),
		protectedFiles: make(map[string]struct{}),
		meta:           Metadata{SessionID: sessionID, CreatedAt: now, UpdatedAt: now},
		autosave:       autosave,
		logger:         logger,
	}
	return c, nil
}

// LoadConversationContext reconstructs a context from context.json.
func LoadConversationContext(sessionID, dir string, autosave bool, logger ports.Logger) (*ConversationContext, error) {
	data, err := os.ReadFile(filepath.Join(dir, "context.json"))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	var snap contextSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}

	c := &ConversationContext{
		sessionID:      sessionID,
		dir:            dir,
		messages:       snap.Messages,
		createdFiles:   make(map[string]struct{}, len(snap.CreatedFiles)),
		protectedFiles: make(map[string]struct{}, len(snap.ProtectedFiles)),
		outputs:        snap.Outputs,
		meta:           snap.Metadata,
		autosave:       autosave,
		logger:         logger,
	}
	for _, f := range snap.CreatedFiles {
		c.createdFiles[f] = struct{}{}
	}
	for _, f := range snap.ProtectedFiles {
		c.protectedFiles[f] = struct{}{}
	}
	return c, nil
}

// SessionID returns the owning session id.
func (c *ConversationContext) SessionID() string { return c.sessionID }

// Dir returns the session directory.
func (c *ConversationContext) Dir() string { return c.dir }

// WorkspaceDir returns the workspace subdirectory mounted into the sandbox.
func (c *ConversationContext) WorkspaceDir() string { return filepath.Join(c.dir, "files") }

func (c *ConversationContext) touch() {
	if now := time.Now(); now.After(c.meta.UpdatedAt) {
		c.meta.UpdatedAt = now
	}
}

// AddUserMessage appends a user message.
func (c *ConversationContext) AddUserMessage(content string) {
	c.addMessage(ports.Message{Role: "user", Content: content, Timestamp: time.Now()})
}

// AddAssistantMessage appends an assistant message with its ReAct trace.
func (c *ConversationContext) AddAssistantMessage(content string, steps []ports.ReactStep) {
	c.addMessage(ports.Message{Role: "assistant", Content: content, Timestamp: time.Now(), ReactSteps: steps})
}

func (c *ConversationContext) addMessage(msg ports.Message) {
	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.touch()
	c.mu.Unlock()

	// The history log is durable before any snapshot write returns.
	c.appendHistory(msg)
	if c.autosave {
		if err := c.Save(); err != nil {
			c.logger.Warn("Autosave failed for session %s: %v", c.sessionID, err)
		}
	}
}

// Messages returns a copy of the message log.
func (c *ConversationContext) Messages() []ports.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ports.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// RecentSlice returns the last n messages with content truncated to limit
// runes, used as the "previous conversation context" prompt block.
func (c *ConversationContext) RecentSlice(n, limit int) []ports.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := len(c.messages) - n
	if start < 0 {
		start = 0
	}
	out := make([]ports.Message, 0, len(c.messages)-start)
	for _, m := range c.messages[start:] {
		content := m.Content
		if runes := []rune(content); len(runes) > limit {
			content = string(runes[:limit]) + "..."
		}
		out = append(out, ports.Message{Role: m.Role, Content: content, Timestamp: m.Timestamp})
	}
	return out
}

// RegisterFile records a created file; autoProtect also marks it protected.
func (c *ConversationContext) RegisterFile(path string, autoProtect bool) {
	c.mu.Lock()
	c.createdFiles[path] = struct{}{}
	if autoProtect {
		c.protectedFiles[path] = struct{}{}
	}
	c.touch()
	c.mu.Unlock()

	c.persistProtected()
	if c.autosave {
		if err := c.Save(); err != nil {
			c.logger.Warn("Autosave failed for session %s: %v", c.sessionID, err)
		}
	}
}

// ForgetFile drops path from both sets (after a forced deletion).
func (c *ConversationContext) ForgetFile(path string) {
	c.mu.Lock()
	delete(c.createdFiles, path)
	delete(c.protectedFiles, path)
	c.touch()
	c.mu.Unlock()
	c.persistProtected()
}

// IsProtected reports whether path is in the protected set.
func (c *ConversationContext) IsProtected(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.protectedFiles[path]
	return ok
}

// CreatedFiles returns the created set, sorted.
func (c *ConversationContext) CreatedFiles() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedKeys(c.createdFiles)
}

// ProtectedFiles returns the protected set, sorted.
func (c *ConversationContext) ProtectedFiles() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedKeys(c.protectedFiles)
}

// SaveOutput writes a task result to the outputs directory and appends it
// to the output list.
func (c *ConversationContext) SaveOutput(task, result string) (*OutputRecord, error) {
	now := time.Now()
	record := OutputRecord{Task: task, Result: result, Timestamp: now}
	record.FilePath = filepath.Join(c.dir, "outputs", now.UTC().Format("20060102T150405.000Z")+".json")

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(record.FilePath, data, 0644); err != nil {
		return nil, fmt.Errorf("write output: %w", err)
	}

	c.mu.Lock()
	c.outputs = append(c.outputs, record)
	c.touch()
	c.mu.Unlock()

	if c.autosave {
		if err := c.Save(); err != nil {
			c.logger.Warn("Autosave failed for session %s: %v", c.sessionID, err)
		}
	}
	return &record, nil
}

// Outputs returns a copy of the saved-output list.
func (c *ConversationContext) Outputs() []OutputRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]OutputRecord, len(c.outputs))
	copy(out, c.outputs)
	return out
}

// Metadata returns a copy of the session metadata.
func (c *ConversationContext) Metadata() Metadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meta
}

// Save snapshots context.json, state.json and metadata.json. Failures do
// not terminate tasks; in-memory state stays authoritative.
func (c *ConversationContext) Save() error {
	c.mu.Lock()
	snap := contextSnapshot{
		SessionID:      c.sessionID,
		Messages:       append([]ports.Message(nil), c.messages...),
		CreatedFiles:   sortedKeys(c.createdFiles),
		ProtectedFiles: sortedKeys(c.protectedFiles),
		Outputs:        append([]OutputRecord(nil), c.outputs...),
		Metadata:       c.meta,
	}
	c.mu.Unlock()

	if err := writeJSON(filepath.Join(c.dir, "context.json"), snap); err != nil {
		return fmt.Errorf("snapshot context: %w", err)
	}

	state := map[string]any{
		"session_id":    snap.SessionID,
		"message_count": len(snap.Messages),
		"file_count":    len(snap.CreatedFiles),
		"output_count":  len(snap.Outputs),
		"updated_at":    snap.Metadata.UpdatedAt,
	}
	if err := writeJSON(filepath.Join(c.dir, "state.json"), state); err != nil {
		return fmt.Errorf("snapshot state: %w", err)
	}

	if err := writeJSON(filepath.Join(c.dir, "metadata.json"), snap.Metadata); err != nil {
		return fmt.Errorf("snapshot metadata: %w", err)
	}
	return nil
}

func (c *ConversationContext) appendHistory(msg ports.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Warn("Failed to encode history entry: %v", err)
		return
	}
	f, err := os.OpenFile(filepath.Join(c.dir, "history.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		c.logger.Warn("Failed to open history log: %v", err)
		return
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(append(data, '\n')); err != nil {
		c.logger.Warn("Failed to append history entry: %v", err)
	}
}

func (c *ConversationContext) persistProtected() {
	c.mu.Lock()
	lines := sortedKeys(c.protectedFiles)
	c.mu.Unlock()
	content := strings.Join(lines, "\n")
	if content != "" {
		content += "\n"
	}
	if err := os.WriteFile(filepath.Join(c.dir, ".protected"), []byte(content), 0644); err != nil {
		c.logger.Warn("Failed to persist protected set: %v", err)
	}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
