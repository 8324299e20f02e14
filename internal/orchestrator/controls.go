package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"atlas/internal/agent/domain"
	"atlas/internal/planner"
)

// Controls is the per-task shared state the transport mutates while the
// orchestrator runs: cancellation, pausing, and injected suggestions.
type Controls struct {
	Cancel *domain.CancelFlag

	paused atomic.Bool

	mu          sync.Mutex
	suggestions []string
}

// NewControls builds controls with a fresh cancel flag.
func NewControls() *Controls {
	return &Controls{Cancel: domain.NewCancelFlag()}
}

// Pause stops step progression at the next boundary.
func (c *Controls) Pause() { c.paused.Store(true) }

// Resume clears the pause flag.
func (c *Controls) Resume() { c.paused.Store(false) }

// IsPaused reports the pause flag.
func (c *Controls) IsPaused() bool { return c.paused.Load() }

// Suggest queues a user suggestion for injection into the next model turn.
func (c *Controls) Suggest(content string) {
	c.mu.Lock()
	c.suggestions = append(c.suggestions, content)
	c.mu.Unlock()
}

// DrainSuggestions returns and clears the queued suggestions.
func (c *Controls) DrainSuggestions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.suggestions
	c.suggestions = nil
	return out
}

// waitWhilePaused polls the pause flag at step boundaries. Returns false
// when the wait ended due to cancellation.
func (c *Controls) waitWhilePaused(ctx context.Context, interval time.Duration) bool {
	for c.IsPaused() {
		if c.Cancel.IsCancelled() || ctx.Err() != nil {
			return false
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return false
		}
	}
	return !c.Cancel.IsCancelled() && ctx.Err() == nil
}

// ApprovalGate serializes the interactive plan-approval handshake. The
// transport feeds decisions; the orchestrator blocks on Wait.
type ApprovalGate struct {
	decisions chan gateDecision
}

type gateDecision struct {
	approved bool
	updated  *planner.EditorialPlan
}

// NewApprovalGate builds a gate for one proposal.
func NewApprovalGate() *ApprovalGate {
	return &ApprovalGate{decisions: make(chan gateDecision, 4)}
}

// Approve releases the waiting orchestrator.
func (g *ApprovalGate) Approve() {
	select {
	case g.decisions <- gateDecision{approved: true}:
	default:
	}
}

// Update replaces the pending plan; the orchestrator keeps waiting.
func (g *ApprovalGate) Update(plan *planner.EditorialPlan) {
	select {
	case g.decisions <- gateDecision{updated: plan}:
	default:
	}
}

// Wait blocks until approval, returning the latest plan revision. onUpdate
// fires for each replacement so the transport can emit plan_updated.
func (g *ApprovalGate) Wait(ctx context.Context, cancel *domain.CancelFlag, current *planner.EditorialPlan, onUpdate func(*planner.EditorialPlan)) (*planner.EditorialPlan, bool) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case d := <-g.decisions:
			if d.approved {
				return current, true
			}
			if d.updated != nil {
				current = d.updated
				if onUpdate != nil {
					onUpdate(current)
				}
			}
		case <-ticker.C:
			if cancel.IsCancelled() {
				return current, false
			}
		case <-ctx.Done():
			return current, false
		}
	}
}
