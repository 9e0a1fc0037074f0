package creativity

import (
	"sync"

	"github.com/xkilldash9x/ideagraph/api/schemas"
)

// History is the ordered list of snapshots of one session. The last entry is current.
type History struct {
	mu      sync.RWMutex
	entries []schemas.MetricsSnapshot
}

// NewHistory starts a history from previously persisted entries.
func NewHistory(entries []schemas.MetricsSnapshot) *History {
	return &History{entries: append([]schemas.MetricsSnapshot(nil), entries...)}
}

// Append records a generation event.
func (h *History) Append(s schemas.MetricsSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, s)
}

// ReplaceLast records an edit event. Edits refine the latest entry; an
// empty history gets its first entry instead.
func (h *History) ReplaceLast(s schemas.MetricsSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == 0 {
		h.entries = append(h.entries, s)
		return
	}
	h.entries[len(h.entries)-1] = s
}

// Current returns the latest snapshot.
func (h *History) Current() (schemas.MetricsSnapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.entries) == 0 {
		return schemas.MetricsSnapshot{}, false
	}
	return h.entries[len(h.entries)-1], true
}

// Entries returns a copy of every snapshot, oldest first.
func (h *History) Entries() []schemas.MetricsSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]schemas.MetricsSnapshot(nil), h.entries...)
}

// Len returns the number of snapshots.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}
