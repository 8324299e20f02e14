package id

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"
)

// Session identifiers are short opaque tokens surfaced in URLs and on disk
// directory names, so they stay at 8 hex characters.
const sessionIDLength = 8

var requestCounter atomic.Uint64

func randomHex(n int) string {
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		// math/rand quality is acceptable for display identifiers; but
		// crypto/rand on supported platforms does not fail in practice.
		panic(fmt.Sprintf("id: rand.Read failed: %v", err))
	}
	return hex.EncodeToString(buf)[:n]
}

// NewSessionID generates a new opaque 8-character session identifier.
func NewSessionID() string {
	return randomHex(sessionIDLength)
}

// NewTaskID generates a new task identifier with a stable prefix for display.
func NewTaskID() string {
	return "task-" + randomHex(16)
}

// NewCallID generates a tool call identifier.
func NewCallID() string {
	return "call-" + randomHex(12)
}

// NewRequestID generates a short identifier used to correlate LLM requests
// in logs. A process-local counter keeps ids unique even under clock skew.
func NewRequestID() string {
	return fmt.Sprintf("req-%s-%d", randomHex(6), requestCounter.Add(1))
}
