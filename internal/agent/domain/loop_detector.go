package domain

// loopWindow bounds how far back identical actions are compared.
const loopWindow = 10

// loopDetector keeps a FIFO window of "tool:canonical_params" entries so the
// engine can spot a model stuck re-issuing the same action.
type loopDetector struct {
	entries []string
}

func newLoopDetector() *loopDetector {
	return &loopDetector{entries: make([]string, 0, loopWindow)}
}

// Count reports how many times entry already occurs in the window.
func (d *loopDetector) Count(entry string) int {
	n := 0
	for _, e := range d.entries {
		if e == entry {
			n++
		}
	}
	return n
}

// Record appends entry, evicting the oldest once the window is full.
func (d *loopDetector) Record(entry string) {
	if len(d.entries) >= loopWindow {
		d.entries = d.entries[1:]
	}
	d.entries = append(d.entries, entry)
}
