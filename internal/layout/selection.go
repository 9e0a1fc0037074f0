// internal/layout/selection.go
package layout

import (
	"sync"

	"github.com/xkilldash9x/ideagraph/api/schemas"
)

// Selection is an ordered set of node ids. Order is the order in which ids
// were first added.
type Selection struct {
	mu    sync.RWMutex
	ids   []schemas.NodeID
	index map[schemas.NodeID]struct{}
}

// NewSelection creates a selection holding ids, duplicates removed.
func NewSelection(ids ...schemas.NodeID) *Selection {
	s := &Selection{index: make(map[schemas.NodeID]struct{}, len(ids))}
	for _, id := range ids {
		s.addLocked(id)
	}
	return s
}

// Toggle adds id when absent and removes it when present. It reports
// whether id is selected afterwards.
func (s *Selection) Toggle(id schemas.NodeID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[id]; ok {
		s.removeLocked(id)
		return false
	}
	s.addLocked(id)
	return true
}

// Add selects id. Re-adding keeps the original position.
func (s *Selection) Add(id schemas.NodeID) {
	s.mu.Lock()
	s.addLocked(id)
	s.mu.Unlock()
}

// Remove deselects id.
func (s *Selection) Remove(id schemas.NodeID) {
	s.mu.Lock()
	s.removeLocked(id)
	s.mu.Unlock()
}

// Contains reports whether id is selected.
func (s *Selection) Contains(id schemas.NodeID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[id]
	return ok
}

// IDs returns the selected ids in selection order.
func (s *Selection) IDs() []schemas.NodeID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]schemas.NodeID(nil), s.ids...)
}

// Len returns the number of selected ids.
func (s *Selection) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// Clear empties the selection.
func (s *Selection) Clear() {
	s.mu.Lock()
	s.ids = nil
	s.index = make(map[schemas.NodeID]struct{})
	s.mu.Unlock()
}

// Prune drops every id for which exists returns false, e.g. after a delete.
func (s *Selection) Prune(exists func(schemas.NodeID) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.ids[:0]
	for _, id := range s.ids {
		if exists(id) {
			kept = append(kept, id)
			continue
		}
		delete(s.index, id)
	}
	s.ids = kept
}

func (s *Selection) addLocked(id schemas.NodeID) {
	if _, ok := s.index[id]; ok {
		return
	}
	s.index[id] = struct{}{}
	s.ids = append(s.ids, id)
}

func (s *Selection) removeLocked(id schemas.NodeID) {
	if _, ok := s.index[id]; !ok {
		return
	}
	delete(s.index, id)
	for i, v := range s.ids {
		if v == id {
			s.ids = append(s.ids[:i], s.ids[i+1:]...)
			break
		}
	}
}
