package domain

import "errors"

var (
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrEmptyQuiz rejects attempts on quizzes with no questions.
	ErrEmptyQuiz = errors.New("quiz has no questions")
	// ErrAlreadyAttempted is returned when a settled attempt is still inside
	// its eligibility window, or another session currently holds the lock.
	ErrAlreadyAttempted = errors.New("quiz already attempted in this window")
	// ErrAlreadySettled is returned by the race-losing finalize call.
	ErrAlreadySettled = errors.New("attempt lock already settled")
	// ErrDuplicateSubmission is the caller-facing form of a lost finalize race.
	ErrDuplicateSubmission = errors.New("duplicate submission")
	// ErrSessionNotFound is returned when no live session matches the token.
	ErrSessionNotFound = errors.New("attempt session not found")
	// ErrSessionClosed rejects answer mutations after a terminal transition.
	ErrSessionClosed = errors.New("attempt session is closed")
	// ErrInvalidAnswer rejects malformed answer payloads before grading.
	ErrInvalidAnswer = errors.New("invalid answer format")
	// ErrDeadlineExceeded rejects submissions arriving implausibly late.
	ErrDeadlineExceeded = errors.New("attempt deadline exceeded")
)
