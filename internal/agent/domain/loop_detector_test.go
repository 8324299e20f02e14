package domain

import "testing"

func TestLoopDetectorCounts(t *testing.T) {
	d := newLoopDetector()
	entry := `list_directory:{"path":"."}`

	if got := d.Count(entry); got != 0 {
		t.Fatalf("fresh detector should count 0, got %d", got)
	}
	d.Record(entry)
	d.Record(entry)
	if got := d.Count(entry); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
	if got := d.Count(`other:{}`); got != 0 {
		t.Fatalf("different entry should count 0, got %d", got)
	}
}

func TestLoopDetectorWindowEvicts(t *testing.T) {
	d := newLoopDetector()
	old := "old:{}"
	d.Record(old)
	for i := 0; i < loopWindow; i++ {
		d.Record("filler:{}")
	}
	if got := d.Count(old); got != 0 {
		t.Fatalf("entry should have aged out of the window, got %d", got)
	}
	if len(d.entries) != loopWindow {
		t.Fatalf("window exceeded its bound: %d", len(d.entries))
	}
}
