package domain

import (
	"context"
	"sync"
	"sync/atomic"
)

// CancelFlag is the cooperative cancellation handle for one running task.
// Cancel flips the flag and aborts whichever LLM or tool call is currently
// awaited; the engine also checks the flag at its safe points.
type CancelFlag struct {
	cancelled atomic.Bool

	mu      sync.Mutex
	current context.CancelFunc
}

// NewCancelFlag returns an unset flag.
func NewCancelFlag() *CancelFlag { return &CancelFlag{} }

// Cancel marks the task cancelled and aborts the in-flight operation.
func (f *CancelFlag) Cancel() {
	f.cancelled.Store(true)
	f.mu.Lock()
	if f.current != nil {
		f.current()
	}
	f.mu.Unlock()
}

// IsCancelled reports whether Cancel was called.
func (f *CancelFlag) IsCancelled() bool {
	return f != nil && f.cancelled.Load()
}

// scope derives an operation context that Cancel can abort. The returned
// release must be called when the operation finishes.
func (f *CancelFlag) scope(ctx context.Context) (context.Context, context.CancelFunc) {
	if f == nil {
		return ctx, func() {}
	}
	opCtx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.current = cancel
	alreadyCancelled := f.cancelled.Load()
	f.mu.Unlock()
	if alreadyCancelled {
		cancel()
	}
	release := func() {
		f.mu.Lock()
		if f.current != nil {
			f.current()
			f.current = nil
		}
		f.mu.Unlock()
	}
	return opCtx, release
}
