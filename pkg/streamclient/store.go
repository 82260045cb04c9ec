package streamclient

import (
	"sort"
	"sync"
)

// Store indexes sessions by key: the provisional id until RequestStart
// arrives, the execution id afterwards. Completed sessions stay readable.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

func (st *Store) add(id string, s *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[id] = s
}

// rekey moves the entry under oldID to newID in one step.
func (st *Store) rekey(oldID, newID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[oldID]
	if !ok {
		return
	}
	delete(st.sessions, oldID)
	st.sessions[newID] = s
}

// Get returns a snapshot of the session stored under id.
func (st *Store) Get(id string) (Snapshot, bool) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return s.Snapshot(), true
}

// IDs returns the keys of every stored session, sorted.
func (st *Store) IDs() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	ids := make([]string, 0, len(st.sessions))
	for id := range st.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Remove forgets the session stored under id.
func (st *Store) Remove(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}
