package redis

import (
	"context"
	"sync"
	"time"

	"attempt-service/internal/app"
	"github.com/redis/go-redis/v9"
)

// SessionRegistry is a Redis-aware implementation of app.SessionRegistry.
// Notes:
//   - Sessions themselves stay in a local map: the countdown goroutine and
//     answer buffer are in-process state.
//   - Redis marks session liveness until the attempt deadline, so operators
//     can observe in-flight attempts across instances.
type SessionRegistry struct {
	client *redis.Client
	mu     sync.RWMutex
	local  map[string]*app.AttemptSession
}

func NewSessionRegistry(client *redis.Client) *SessionRegistry {
	return &SessionRegistry{
		client: client,
		local:  make(map[string]*app.AttemptSession),
	}
}

func (s *SessionRegistry) Put(sess *app.AttemptSession) {
	s.mu.Lock()
	s.local[sess.Token()] = sess
	s.mu.Unlock()

	ttl := time.Until(sess.Deadline())
	if ttl < time.Second {
		ttl = time.Second
	}
	// best-effort liveness marker
	_ = s.client.Set(context.Background(), s.key(sess.Token()), sess.QuizID(), ttl).Err()
}

func (s *SessionRegistry) Get(token string) (*app.AttemptSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.local[token]
	return sess, ok
}

func (s *SessionRegistry) Delete(token string) {
	s.mu.Lock()
	delete(s.local, token)
	s.mu.Unlock()
	_ = s.client.Del(context.Background(), s.key(token)).Err()
}

func (s *SessionRegistry) key(token string) string {
	return "attempt:session:" + token
}
