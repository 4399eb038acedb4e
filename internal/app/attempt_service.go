package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"attempt-service/internal/domain"
	"attempt-service/internal/grading"
	"github.com/google/uuid"
)

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.QuizDefinition, error)
}

// LockStore owns the at-most-one-submission-per-window invariant. Acquire
// and Finalize must each be a single atomic transition on the (identity,
// quiz) key; a check-then-insert pair is not an acceptable implementation.
type LockStore interface {
	// Acquire transitions the lock to Held for the given token. It fails
	// with ErrAlreadyAttempted while another session holds the lock or a
	// settled lock is still inside its eligibility window.
	Acquire(ctx context.Context, identity domain.Identity, quizID, token string, window time.Duration) error
	// Finalize transitions Held to Settled. Only the holder of the matching
	// token succeeds; every other caller gets ErrAlreadySettled.
	Finalize(ctx context.Context, token string) (domain.AttemptLock, error)
	// Release frees a lock associated with the token so the same identity
	// can retry without waiting out a full window.
	Release(ctx context.Context, token string) error
	// Peek reports whether an attempt is currently blocked, without acquiring.
	Peek(ctx context.Context, identity domain.Identity, quizID string) (bool, error)
}

// AnswerStore persists graded results. Append is strictly append-only;
// uniqueness is already guaranteed by the lock's exclusive Finalize.
type AnswerStore interface {
	Append(ctx context.Context, rec domain.AnswerRecord) error
	ListByQuiz(ctx context.Context, quizID string) ([]domain.AnswerRecord, error)
}

// SessionRegistry tracks live attempt sessions by token.
type SessionRegistry interface {
	Put(sess *AttemptSession)
	Get(token string) (*AttemptSession, bool)
	Delete(token string)
}

// Config carries the two time constants of the attempt lifecycle plus
// operational knobs. ExamDuration bounds a single attempt;
// EligibilityWindow spaces re-attempts after a settled one. They are
// distinct and must not be conflated.
type Config struct {
	ExamDuration      time.Duration
	EligibilityWindow time.Duration
	SubmitGrace       time.Duration
	TickInterval      time.Duration
}

func (c Config) withDefaults() Config {
	if c.ExamDuration <= 0 {
		c.ExamDuration = time.Minute
	}
	if c.EligibilityWindow <= 0 {
		c.EligibilityWindow = 24 * time.Hour
	}
	if c.SubmitGrace <= 0 {
		c.SubmitGrace = 30 * time.Second
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	return c
}

// AttemptService coordinates the timed quiz-attempt lifecycle: eligibility,
// the per-session countdown, grading, and exactly-once result persistence.
type AttemptService struct {
	quizzes  QuizRepository
	locks    LockStore
	answers  AnswerStore
	sessions SessionRegistry
	cfg      Config
	now      func() time.Time
}

func NewAttemptService(quizzes QuizRepository, locks LockStore, answers AnswerStore, sessions SessionRegistry, cfg Config) *AttemptService {
	return NewAttemptServiceWithClock(quizzes, locks, answers, sessions, cfg, time.Now)
}

// NewAttemptServiceWithClock is test-only for deterministic timestamps.
func NewAttemptServiceWithClock(quizzes QuizRepository, locks LockStore, answers AnswerStore, sessions SessionRegistry, cfg Config, now func() time.Time) *AttemptService {
	return &AttemptService{
		quizzes:  quizzes,
		locks:    locks,
		answers:  answers,
		sessions: sessions,
		cfg:      cfg.withDefaults(),
		now:      now,
	}
}

// QuestionView is the student-facing shape of a question: answer keys are
// stripped before anything leaves the service.
type QuestionView struct {
	Kind    domain.QuestionKind `json:"kind"`
	Text    string              `json:"text"`
	Options []string            `json:"options,omitempty"`
}

// StartResult is returned from a successful StartAttempt.
type StartResult struct {
	Token     string         `json:"sessionToken"`
	QuizID    string         `json:"quizId"`
	Title     string         `json:"title"`
	Questions []QuestionView `json:"questions"`
	Deadline  time.Time      `json:"deadline"`
}

// Eligibility is the result of a read-only attempt probe.
type Eligibility struct {
	Attempted bool `json:"attempted"`
}

// CheckEligibility reports whether the identity is currently blocked from
// attempting the quiz. It never acquires the lock.
func (s *AttemptService) CheckEligibility(ctx context.Context, identity domain.Identity, quizID string) (Eligibility, error) {
	attempted, err := s.locks.Peek(ctx, identity, quizID)
	if err != nil {
		return Eligibility{}, err
	}
	return Eligibility{Attempted: attempted}, nil
}

// StartAttempt acquires the eligibility lock, binds an immutable snapshot of
// the quiz to a fresh session, and starts the countdown.
func (s *AttemptService) StartAttempt(ctx context.Context, identity domain.Identity, quizID string) (StartResult, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return StartResult{}, err
	}
	if len(quiz.Questions) == 0 {
		return StartResult{}, domain.ErrEmptyQuiz
	}

	token := uuid.NewString()
	if err := s.locks.Acquire(ctx, identity, quizID, token, s.cfg.EligibilityWindow); err != nil {
		return StartResult{}, err
	}

	deadline := s.now().Add(s.cfg.ExamDuration)
	sess := newAttemptSession(token, identity, quizID, quiz.CloneQuestions(), deadline, s.now)
	s.sessions.Put(sess)
	go s.runCountdown(sess)

	return StartResult{
		Token:     token,
		QuizID:    quiz.ID,
		Title:     quiz.Title,
		Questions: sanitizeQuestions(sess.snapshot),
		Deadline:  deadline,
	}, nil
}

// SetAnswer buffers one response on a live session. Legal only while the
// session is InProgress.
func (s *AttemptService) SetAnswer(ctx context.Context, token string, index int, value any) error {
	sess, ok := s.sessions.Get(token)
	if !ok {
		return domain.ErrSessionNotFound
	}
	return sess.setAnswer(index, value)
}

// Submit is the manual submission path. When responses is nil the session's
// buffered answers are graded, which is also what the expiry path does.
//
// The losing side of a manual/auto race observes ErrDuplicateSubmission and
// nothing else: the lock's exclusive Finalize is the sole serialization
// point, so a second AnswerRecord can never be written.
func (s *AttemptService) Submit(ctx context.Context, token string, responses []any) (domain.AnswerRecord, error) {
	sess, ok := s.sessions.Get(token)
	if !ok {
		return domain.AnswerRecord{}, domain.ErrSessionNotFound
	}

	// Malformed payloads are rejected before any state changes so a retry
	// with a corrected payload can still finalize.
	if responses != nil {
		if err := validateResponses(responses, len(sess.snapshot)); err != nil {
			return domain.AnswerRecord{}, err
		}
	}

	// Client clocks are untrusted: re-validate elapsed time server-side.
	if s.now().After(sess.deadline.Add(s.cfg.SubmitGrace)) {
		return domain.AnswerRecord{}, domain.ErrDeadlineExceeded
	}

	if !sess.markTerminal(domain.SessionSubmitted) {
		return domain.AnswerRecord{}, domain.ErrDuplicateSubmission
	}

	if responses == nil {
		responses = sess.bufferedResponses()
	}
	rec, err := s.settle(ctx, sess, responses)
	if err != nil {
		return domain.AnswerRecord{}, err
	}
	sess.publish(Event{Kind: EventResult, Record: &rec})
	return rec, nil
}

// Abandon releases the lock of a session that will never be submitted
// (e.g. the client lost connectivity), so the identity may retry without
// waiting out the eligibility window.
func (s *AttemptService) Abandon(ctx context.Context, token string) error {
	sess, ok := s.sessions.Get(token)
	if !ok {
		return domain.ErrSessionNotFound
	}
	if !sess.markTerminal(domain.SessionExpired) {
		return domain.ErrSessionClosed
	}
	s.sessions.Delete(token)
	return s.locks.Release(ctx, token)
}

// ListSubmissions returns every persisted result for a quiz (admin view).
func (s *AttemptService) ListSubmissions(ctx context.Context, quizID string) ([]domain.AnswerRecord, error) {
	if _, err := s.quizzes.GetQuiz(ctx, quizID); err != nil {
		return nil, err
	}
	return s.answers.ListByQuiz(ctx, quizID)
}

// Subscribe returns a channel of countdown and result events for a session.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *AttemptService) Subscribe(token string) (<-chan Event, func(), error) {
	sess, ok := s.sessions.Get(token)
	if !ok {
		return nil, nil, domain.ErrSessionNotFound
	}
	ch, cancel := sess.subscribe()
	return ch, cancel, nil
}

// settle is the single pipeline behind both submission paths: finalize the
// lock, grade the bound snapshot, append the record.
func (s *AttemptService) settle(ctx context.Context, sess *AttemptSession, responses []any) (domain.AnswerRecord, error) {
	if _, err := s.locks.Finalize(ctx, sess.token); err != nil {
		if errors.Is(err, domain.ErrAlreadySettled) {
			return domain.AnswerRecord{}, domain.ErrDuplicateSubmission
		}
		// Transport fault: the lock is still held by this token, so put
		// the session back in play and let the client retry. Finalize is
		// idempotent at the lock layer, a second walk cannot double-settle.
		sess.reopen()
		return domain.AnswerRecord{}, fmt.Errorf("finalize attempt lock: %w", err)
	}

	res := grading.Grade(sess.snapshot, responses)
	rec := domain.AnswerRecord{
		ID:             uuid.NewString(),
		QuizID:         sess.quizID,
		UserID:         sess.identity.UserID,
		Email:          sess.identity.Email,
		SubmittedAt:    s.now(),
		Responses:      responses,
		Score:          res.Score,
		TotalQuestions: res.Total,
		Percentage:     grading.Percentage(res.Score, res.Total),
	}

	if err := s.answers.Append(ctx, rec); err != nil {
		// Roll the lock back to Free rather than leave the student settled
		// but scoreless. The session goes with it; the retry path here is
		// a fresh attempt, not a resubmit of a released token.
		if relErr := s.locks.Release(ctx, sess.token); relErr != nil {
			log.Printf("release after failed persist: %v", relErr)
		}
		s.sessions.Delete(sess.token)
		return domain.AnswerRecord{}, fmt.Errorf("append answer record: %w", err)
	}
	return rec, nil
}

func (s *AttemptService) runCountdown(sess *AttemptSession) {
	done := sess.doneChan()
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			remaining := sess.remaining()
			if remaining > 0 {
				sess.publish(Event{Kind: EventTick, RemainingSec: int((remaining + time.Second - 1) / time.Second)})
				continue
			}
			s.expire(sess)
			return
		}
	}
}

// expire is the automatic submission path: grade whatever is buffered.
func (s *AttemptService) expire(sess *AttemptSession) {
	if !sess.markTerminal(domain.SessionExpired) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rec, err := s.settle(ctx, sess, sess.bufferedResponses())
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateSubmission) {
			// The manual submit won the race; stay silent.
			return
		}
		log.Printf("auto-submit failed for quiz %s: %v", sess.quizID, err)
		sess.publish(Event{Kind: EventError, Message: "auto-submit failed"})
		return
	}
	sess.publish(Event{Kind: EventResult, Record: &rec})
}

func sanitizeQuestions(questions []domain.Question) []QuestionView {
	out := make([]QuestionView, len(questions))
	for i, q := range questions {
		out[i] = QuestionView{Kind: q.Kind, Text: q.Text, Options: q.Options}
	}
	return out
}
