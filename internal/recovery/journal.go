package recovery

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"atlas/internal/agent/ports"
)

// Entry is one journaled error pattern. Entries are offline telemetry: the
// engine writes them and never reads them back.
type Entry struct {
	Hash              string    `json:"hash"`
	NormalizedPattern string    `json:"normalized_pattern"`
	Sample            string    `json:"sample"`
	Class             string    `json:"class"`
	Solution          string    `json:"solution,omitempty"`
	Success           bool      `json:"success"`
	Occurrences       int       `json:"occurrences"`
	LastSeen          time.Time `json:"last_seen"`
}

// Journal appends error records to an on-disk JSONL file with last-writer-
// wins semantics; a single process owns the file.
type Journal struct {
	path   string
	logger ports.Logger

	mu   sync.Mutex
	seen map[string]int
}

// NewJournal opens (creating directories as needed) the journal at path.
func NewJournal(path string, logger ports.Logger) *Journal {
	_ = os.MkdirAll(filepath.Dir(path), 0755)
	return &Journal{path: path, logger: logger, seen: make(map[string]int)}
}

// Record appends an entry. Persistence failures are logged and swallowed:
// telemetry must never terminate a task.
func (j *Journal) Record(entry Entry) {
	j.mu.Lock()
	j.seen[entry.Hash]++
	entry.Occurrences = j.seen[entry.Hash]
	j.mu.Unlock()

	entry.LastSeen = time.Now()

	data, err := json.Marshal(entry)
	if err != nil {
		j.logger.Warn("Failed to encode recovery journal entry: %v", err)
		return
	}

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		j.logger.Warn("Failed to open recovery journal: %v", err)
		return
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(data, '\n')); err != nil {
		j.logger.Warn("Failed to append recovery journal entry: %v", err)
	}
}
