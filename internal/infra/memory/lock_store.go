package memory

import (
	"context"
	"sync"
	"time"

	"attempt-service/internal/domain"
)

// LockStore is the in-process implementation of app.LockStore. Every
// transition happens under one mutex, so acquire/finalize are atomic with
// respect to concurrent callers on the same (identity, quiz) key.
//
// State does not survive a process restart: a crash mid-window silently
// resets eligibility. That is an accepted degradation of this store; the
// Redis store is the durable option.
type LockStore struct {
	clock func() time.Time

	mu      sync.Mutex
	locks   map[string]*domain.AttemptLock // (identity, quiz) key -> lock
	byToken map[string]string              // session token -> lock key
}

func NewLockStore() *LockStore {
	return NewLockStoreWithClock(time.Now)
}

// NewLockStoreWithClock is test-only for deterministic window expiry.
func NewLockStoreWithClock(clock func() time.Time) *LockStore {
	return &LockStore{
		clock:   clock,
		locks:   make(map[string]*domain.AttemptLock),
		byToken: make(map[string]string),
	}
}

func (s *LockStore) Acquire(_ context.Context, identity domain.Identity, quizID, token string, window time.Duration) error {
	key := identity.Key(quizID)
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if lock, ok := s.locks[key]; ok {
		switch lock.State {
		case domain.LockHeld:
			return domain.ErrAlreadyAttempted
		case domain.LockSettled:
			if lock.WindowExpiresAt.After(now) {
				return domain.ErrAlreadyAttempted
			}
			// Window elapsed; the settled record no longer blocks.
			delete(s.byToken, lock.HeldBy)
		}
	}

	s.locks[key] = &domain.AttemptLock{
		Identity:        identity,
		QuizID:          quizID,
		State:           domain.LockHeld,
		HeldBy:          token,
		AcquiredAt:      now,
		WindowExpiresAt: now.Add(window),
	}
	s.byToken[token] = key
	return nil
}

func (s *LockStore) Finalize(_ context.Context, token string) (domain.AttemptLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock := s.lockForTokenLocked(token)
	if lock == nil || lock.State != domain.LockHeld {
		return domain.AttemptLock{}, domain.ErrAlreadySettled
	}
	lock.State = domain.LockSettled
	return *lock, nil
}

func (s *LockStore) Release(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.byToken[token]
	if !ok {
		return nil
	}
	lock := s.locks[key]
	if lock != nil && lock.HeldBy == token {
		delete(s.locks, key)
	}
	delete(s.byToken, token)
	return nil
}

func (s *LockStore) Peek(_ context.Context, identity domain.Identity, quizID string) (bool, error) {
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[identity.Key(quizID)]
	if !ok {
		return false, nil
	}
	switch lock.State {
	case domain.LockHeld:
		return true, nil
	case domain.LockSettled:
		return lock.WindowExpiresAt.After(now), nil
	}
	return false, nil
}

func (s *LockStore) lockForTokenLocked(token string) *domain.AttemptLock {
	key, ok := s.byToken[token]
	if !ok {
		return nil
	}
	lock := s.locks[key]
	if lock == nil || lock.HeldBy != token {
		return nil
	}
	return lock
}
