package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"atlas/internal/agent/domain"
	"atlas/internal/agent/ports"
	"atlas/internal/metrics"
	"atlas/internal/orchestrator"
	"atlas/internal/planner"
	"atlas/internal/recovery"
	"atlas/internal/session"
	"atlas/internal/tools/builtin"
	"atlas/internal/toolregistry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// clientFrame is the inbound wire format.
type clientFrame struct {
	Type      string         `json:"type"`
	Content   string         `json:"content,omitempty"`
	Plan      map[string]any `json:"plan,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
}

// wsConn is the per-connection actor. The read loop is the single writer of
// connection state; the task goroutine only touches its own controls and
// the serialized event writer.
type wsConn struct {
	server *Server
	conn   *websocket.Conn
	logger ports.Logger

	// desiredSessionID is set for /ws/{session_id} resumes.
	desiredSessionID string

	sess *session.Session
	orch *orchestrator.Orchestrator

	writeMu sync.Mutex

	isProcessing atomic.Bool
	controls     *orchestrator.Controls
	gate         *orchestrator.ApprovalGate

	taskDone chan struct{}
}

// handleWebSocket upgrades the connection and runs the actor until the
// socket dies. Session binding is lazy: nothing is provisioned until the
// first chat or request_plan frame.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed: %v", err)
		return
	}

	wc := &wsConn{
		server:           s,
		conn:             conn,
		logger:           s.logger,
		desiredSessionID: c.Param("session_id"),
	}
	wc.run(c.Request.Context())
}

func (w *wsConn) run(ctx context.Context) {
	defer w.teardown(ctx)

	w.send(domain.NewConnectedEvent(w.desiredSessionID))

	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.logger.Warn("WebSocket read failed: %v", err)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			w.send(domain.NewErrorEvent(w.sessionID(), "invalid message: not a JSON frame"))
			continue
		}

		switch frame.Type {
		case "chat":
			w.handleTask(ctx, frame.Content, false)
		case "request_plan":
			w.handleTask(ctx, frame.Content, true)
		case "interrupt":
			w.handleInterrupt()
		case "suggestion":
			w.handleSuggestion(frame.Content)
		case "approve_plan":
			if w.gate != nil {
				w.gate.Approve()
			}
		case "update_plan":
			w.handleUpdatePlan(frame.Plan)
		case "pause_execution":
			if w.controls != nil {
				w.controls.Pause()
				w.send(domain.NewPausedEvent(w.sessionID()))
			}
		case "resume_execution":
			if w.controls != nil {
				w.controls.Resume()
				w.send(domain.NewResumedEvent(w.sessionID()))
			}
		default:
			w.send(domain.NewErrorEvent(w.sessionID(), "unknown message type: "+frame.Type))
		}
	}
}

func (w *wsConn) sessionID() string {
	if w.sess != nil {
		return w.sess.ID
	}
	return w.desiredSessionID
}

// send serializes one event onto the socket.
func (w *wsConn) send(event ports.AgentEvent) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.WriteJSON(event); err != nil {
		w.logger.Debug("WebSocket write failed (%s): %v", event.EventType(), err)
	}
}

// bind provisions or resumes the session and builds the session-scoped
// agent stack. Idempotent.
func (w *wsConn) bind(ctx context.Context) error {
	if w.sess != nil {
		return nil
	}
	s := w.server

	w.send(domain.NewInitializingEvent("Preparing session"))

	var (
		sess    *session.Session
		resumed bool
		err     error
	)
	if w.desiredSessionID != "" {
		sess, err = s.sessions.Resume(ctx, w.desiredSessionID)
		resumed = err == nil
	} else {
		sess, err = s.sessions.CreateNew(ctx)
	}
	if err != nil {
		return err
	}
	w.sess = sess
	metrics.ActiveSessions.Inc()

	registry := toolregistry.New()
	builtin.RegisterAll(registry, builtin.Env{
		Runner:         sess.Exec,
		Files:          sess.Conversation,
		Logger:         s.logger,
		CommandTimeout: s.cfg.Agent.ToolCallTimeout,
	})

	recoveryEngine := recovery.NewEngine(s.cfg.Agent.RecoveryMaxRetries, s.logger, s.journal)
	engine := domain.NewEngine(s.llm, registry, recoveryEngine, s.logger, domain.Config{
		MaxIterations:  s.cfg.Agent.MaxIterations,
		LLMTimeout:     s.cfg.Agent.LLMCallTimeout,
		ToolTimeout:    s.cfg.Agent.ToolCallTimeout,
		LoopWarnCount:  s.cfg.Agent.LoopDetectionWarn,
		LoopAbortCount: s.cfg.Agent.LoopDetectionAbort,
		Temperature:    s.cfg.LLM.Temperature,
		MaxTokens:      s.cfg.LLM.MaxTokens,
	})
	w.orch = orchestrator.New(engine, planner.New(s.llm, s.logger), s.logger, orchestrator.Config{
		DirectIterations: s.cfg.Agent.DirectModeIterations,
	})

	w.send(domain.NewSessionReadyEvent(sess.ID, sess.Conversation.WorkspaceDir(), resumed))
	return nil
}

// handleTask starts one task run. A session runs at most one task at a
// time; overlapping chats are rejected with an error event.
func (w *wsConn) handleTask(ctx context.Context, content string, forcePlan bool) {
	if content == "" {
		w.send(domain.NewErrorEvent(w.sessionID(), "empty task"))
		return
	}
	if !w.isProcessing.CompareAndSwap(false, true) {
		w.send(domain.NewErrorEvent(w.sessionID(), "a task is already running; interrupt it first"))
		return
	}

	if err := w.bind(ctx); err != nil {
		w.isProcessing.Store(false)
		w.logger.Error("Session bind failed: %v", err)
		w.send(domain.NewErrorEvent(w.sessionID(), "session unavailable: "+err.Error()))
		return
	}

	w.controls = orchestrator.NewControls()
	w.gate = orchestrator.NewApprovalGate()
	w.taskDone = make(chan struct{})

	req := orchestrator.Request{
		SessionID: w.sess.ID,
		Task:      content,
		History: w.sess.Conversation.RecentSlice(
			w.server.cfg.Agent.ConversationSliceSize,
			w.server.cfg.Agent.ConversationSliceChars,
		),
		Listener:  ports.EventListenerFunc(w.send),
		Controls:  w.controls,
		Gate:      w.gate,
		ForcePlan: forcePlan,
	}

	go func() {
		defer close(w.taskDone)
		defer w.isProcessing.Store(false)

		w.sess.Conversation.AddUserMessage(content)

		result, err := w.orch.Run(context.WithoutCancel(ctx), req)
		if err != nil {
			w.logger.Error("Task failed for session %s: %v", w.sess.ID, err)
			w.send(domain.NewErrorEvent(w.sess.ID, err.Error()))
			return
		}

		w.sess.Conversation.AddAssistantMessage(result.FinalAnswer, result.Steps)
		if !result.Interrupted {
			if _, err := w.sess.Conversation.SaveOutput(content, result.FinalAnswer); err != nil {
				w.logger.Warn("Failed to save output for session %s: %v", w.sess.ID, err)
			}
		}
		w.send(domain.NewCompleteEvent(w.sess.ID, content))
	}()
}

func (w *wsConn) handleInterrupt() {
	if w.controls == nil || !w.isProcessing.Load() {
		w.send(domain.NewErrorEvent(w.sessionID(), "no task is running"))
		return
	}
	w.send(domain.NewInterruptingEvent(w.sessionID()))
	w.controls.Cancel.Cancel()
}

func (w *wsConn) handleSuggestion(content string) {
	if content == "" {
		return
	}
	if w.controls == nil || !w.isProcessing.Load() {
		w.send(domain.NewErrorEvent(w.sessionID(), "no task is running to receive the suggestion"))
		return
	}
	w.controls.Suggest(content)
	w.send(domain.NewStatusEvent(w.sessionID(), domain.StatusWorking))
}

func (w *wsConn) handleUpdatePlan(plan map[string]any) {
	if w.gate == nil || plan == nil {
		w.send(domain.NewErrorEvent(w.sessionID(), "no plan awaiting approval"))
		return
	}
	w.gate.Update(planner.FromMap(plan))
}

// teardown is the connection's finally path: cancel any running task, wait
// for it to unwind, close the session, close the socket.
func (w *wsConn) teardown(ctx context.Context) {
	if w.controls != nil && w.isProcessing.Load() {
		w.controls.Cancel.Cancel()
		if w.taskDone != nil {
			<-w.taskDone
		}
	}
	if w.sess != nil {
		w.sess.Close(context.WithoutCancel(ctx))
		w.server.sessions.Release(w.sess.ID)
		metrics.ActiveSessions.Dec()
		w.logger.Info("Session %s closed", w.sess.ID)
	}
	_ = w.conn.Close()
}
