package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store with a process-local map. Sessions are lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[int64]Session
	now      func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[int64]Session), now: time.Now}
}

// WithNowFunc allows tests to override the time source.
func (s *MemoryStore) WithNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Get returns the live session for the participant.
func (s *MemoryStore) Get(_ context.Context, participantID int64) (Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[participantID]
	now := s.now()
	s.mu.RUnlock()
	if !ok {
		return Session{}, ErrNotFound
	}
	if sess.Expired(now) {
		s.mu.Lock()
		if current, ok := s.sessions[participantID]; ok && current.Expired(now) {
			delete(s.sessions, participantID)
		}
		s.mu.Unlock()
		return Session{}, ErrNotFound
	}
	return sess, nil
}

// Set stores or replaces the participant's session.
func (s *MemoryStore) Set(_ context.Context, sess Session) error {
	s.mu.Lock()
	s.sessions[sess.ParticipantID] = sess
	s.mu.Unlock()
	return nil
}

// Delete removes the participant's session. Deleting an absent session is not an error.
func (s *MemoryStore) Delete(_ context.Context, participantID int64) error {
	s.mu.Lock()
	delete(s.sessions, participantID)
	s.mu.Unlock()
	return nil
}

// Sweep drops every expired session and returns how many were removed.
func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of stored sessions, expired ones included. Useful for tests.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
