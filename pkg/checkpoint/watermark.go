package checkpoint

import "sync"

// CursorTracker advances a per-source low-watermark cursor under
// out-of-order item completion. Items carry a source-emission sequence;
// the watermark only moves past a contiguous run of completed sequences,
// so a persisted cursor never skips an item that is still in flight.
type CursorTracker struct {
	mu      sync.Mutex
	next    uint64 // lowest sequence not yet part of the contiguous prefix
	pending map[uint64]string
	cursor  string
	set     bool
}

// NewCursorTracker creates a tracker expecting sequences starting at 1.
func NewCursorTracker() *CursorTracker {
	return &CursorTracker{
		next:    1,
		pending: make(map[uint64]string),
	}
}

// Complete marks the item with the given sequence as fully processed and
// returns the advanced watermark cursor when the contiguous prefix grew.
// The second return is false when the watermark did not move.
func (t *CursorTracker) Complete(seq uint64, cursor string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pending[seq] = cursor

	advanced := false
	for {
		cur, ok := t.pending[t.next]
		if !ok {
			break
		}
		delete(t.pending, t.next)
		t.cursor = cur
		t.set = true
		t.next++
		advanced = true
	}

	if !advanced {
		return "", false
	}
	return t.cursor, true
}

// Cursor returns the current watermark cursor, if any.
func (t *CursorTracker) Cursor() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cursor, t.set
}
