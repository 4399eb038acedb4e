package memory

import (
	"sync"

	"attempt-service/internal/app"
)

// SessionRegistry is an in-memory implementation of app.SessionRegistry.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*app.AttemptSession
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*app.AttemptSession),
	}
}

func (s *SessionRegistry) Put(sess *app.AttemptSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.Token()] = sess
}

func (s *SessionRegistry) Get(token string) (*app.AttemptSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[token]
	return sess, ok
}

func (s *SessionRegistry) Delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
}
