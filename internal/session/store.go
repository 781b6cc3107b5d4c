package session

import (
	"errors"
	"sync"
)

// ErrNotFound is returned when a session ID is not registered.
var ErrNotFound = errors.New("session: not found")

// ErrAlreadyExists is returned when registering a duplicate session ID.
var ErrAlreadyExists = errors.New("session: already exists")

// Store is the arena of live sessions keyed by ID. Its lock covers only
// insert/remove/lookup; per-session mutation stays with the owning
// orchestrator loop, so no process-wide lock is held during phase work.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore creates an empty session arena.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Register inserts a new session.
func (s *Store) Register(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return ErrAlreadyExists
	}
	s.sessions[sess.ID] = sess
	return nil
}

// Get returns the live session for mutation by its owner. Callers outside
// the owning orchestrator loop must use Snapshot instead.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Remove deletes a session from the arena.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// IDs returns the registered session IDs.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
