package app

import (
	"sync"
	"time"

	"attempt-service/internal/domain"
)

// Event kinds published to session subscribers.
const (
	EventTick   = "tick"
	EventResult = "result"
	EventError  = "error"
)

// Event is a countdown or terminal notification for one attempt session.
type Event struct {
	Kind         string
	RemainingSec int
	Record       *domain.AnswerRecord
	Message      string
}

// AttemptSession is the ephemeral, per-client state of one timed attempt.
// It owns the in-progress answer buffer and the countdown lifecycle; the
// durable at-most-one guarantee lives in the lock store, not here.
type AttemptSession struct {
	token    string
	identity domain.Identity
	quizID   string
	snapshot []domain.Question
	deadline time.Time
	now      func() time.Time

	mu          sync.Mutex
	status      domain.SessionStatus
	responses   []any
	subscribers map[chan Event]struct{}
	done        chan struct{}
}

// NewSession is exported for infrastructure layers and tests that need to
// seed sessions outside the StartAttempt path.
func NewSession(token string, identity domain.Identity, quizID string, snapshot []domain.Question, deadline time.Time) *AttemptSession {
	return newAttemptSession(token, identity, quizID, snapshot, deadline, time.Now)
}

func newAttemptSession(token string, identity domain.Identity, quizID string, snapshot []domain.Question, deadline time.Time, now func() time.Time) *AttemptSession {
	return &AttemptSession{
		token:       token,
		identity:    identity,
		quizID:      quizID,
		snapshot:    snapshot,
		deadline:    deadline,
		now:         now,
		status:      domain.SessionInProgress,
		responses:   make([]any, len(snapshot)),
		subscribers: make(map[chan Event]struct{}),
		done:        make(chan struct{}),
	}
}

// Token returns the opaque session token.
func (s *AttemptSession) Token() string { return s.token }

// QuizID returns the quiz this session is bound to.
func (s *AttemptSession) QuizID() string { return s.quizID }

// Identity returns the verified identity that started the attempt.
func (s *AttemptSession) Identity() domain.Identity { return s.identity }

// Deadline returns the wall-clock instant the attempt expires.
func (s *AttemptSession) Deadline() time.Time { return s.deadline }

// Status returns the current lifecycle state.
func (s *AttemptSession) Status() domain.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *AttemptSession) remaining() time.Duration {
	// Recomputed from the deadline, never decremented from a counter, so
	// the countdown stays correct across suspend/resume.
	return s.deadline.Sub(s.now())
}

func (s *AttemptSession) setAnswer(index int, value any) error {
	if err := validateResponseValue(value); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != domain.SessionInProgress {
		return domain.ErrSessionClosed
	}
	if index < 0 || index >= len(s.responses) {
		return domain.ErrInvalidAnswer
	}
	s.responses[index] = value
	return nil
}

func (s *AttemptSession) bufferedResponses() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]any, len(s.responses))
	copy(out, s.responses)
	return out
}

// markTerminal moves the session out of InProgress exactly once. The first
// caller wins and the countdown is cancelled; later callers get false and
// must not touch the submission path again.
func (s *AttemptSession) markTerminal(status domain.SessionStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != domain.SessionInProgress {
		return false
	}
	s.status = status
	close(s.done)
	return true
}

// reopen reverts a terminal transition whose settlement could not run,
// so a retried submit can walk the pipeline again. The countdown is not
// restarted; the deadline check still bounds how late a retry may arrive.
func (s *AttemptSession) reopen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == domain.SessionInProgress {
		return
	}
	s.status = domain.SessionInProgress
	s.done = make(chan struct{})
}

func (s *AttemptSession) doneChan() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *AttemptSession) subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 8)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *AttemptSession) publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			// Drop the oldest pending event rather than block the countdown
			// on a slow subscriber.
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
	}
}

// validateResponseValue rejects payload shapes that can never be an answer.
// Unparseable but well-shaped values (e.g. "forty-two") are left for the
// grader to mark incorrect.
func validateResponseValue(value any) error {
	switch value.(type) {
	case nil, int, int64, float64, string:
		return nil
	}
	return domain.ErrInvalidAnswer
}

func validateResponses(responses []any, total int) error {
	if len(responses) > total {
		return domain.ErrInvalidAnswer
	}
	for _, v := range responses {
		if err := validateResponseValue(v); err != nil {
			return err
		}
	}
	return nil
}
