package domain

import "time"

// Identity is the verified caller attached by the auth collaborator.
// The core never authenticates anything itself.
type Identity struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// Key returns the composite key scoping attempt locks to one (user, quiz) pair.
func (i Identity) Key(quizID string) string {
	return i.UserID + "|" + quizID
}

// QuestionKind discriminates the supported question payloads.
type QuestionKind string

const (
	// KindMCQ is a multiple-choice question answered by an option index.
	KindMCQ QuestionKind = "mcq"
	// KindNAT is a numeric-answer question compared by value.
	KindNAT QuestionKind = "nat"
)

// Question is one entry of a quiz, addressed by its position in the sequence.
type Question struct {
	Kind QuestionKind `json:"kind"`
	Text string       `json:"text"`

	// MCQ payload: ordered options and the 0-based correct index.
	Options      []string `json:"options,omitempty"`
	CorrectIndex int      `json:"correctIndex"`

	// NAT payload: the expected numeric answer.
	Expected float64 `json:"expected,omitempty"`
}

// QuizDefinition is the authored quiz content. Admin edits bump Version;
// sessions grade against the snapshot they bound at acquisition, never
// against a later version.
type QuizDefinition struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Version     int        `json:"version"`
	Questions   []Question `json:"questions"`
}

// CloneQuestions deep-copies the question sequence for use as an attempt
// snapshot, so later edits to the definition cannot leak into it.
func (q QuizDefinition) CloneQuestions() []Question {
	out := make([]Question, len(q.Questions))
	copy(out, q.Questions)
	for i := range out {
		if len(out[i].Options) > 0 {
			opts := make([]string, len(out[i].Options))
			copy(opts, out[i].Options)
			out[i].Options = opts
		}
	}
	return out
}

// LockState is the eligibility state of one (identity, quiz) pair.
type LockState string

const (
	LockFree    LockState = "free"
	LockHeld    LockState = "held"
	LockSettled LockState = "settled"
)

// AttemptLock backs the at-most-one-submission invariant. For a given
// (identity, quiz) at most one lock is Held at any instant, and a Settled
// lock blocks acquisition until WindowExpiresAt has passed.
type AttemptLock struct {
	Identity        Identity
	QuizID          string
	State           LockState
	HeldBy          string
	AcquiredAt      time.Time
	WindowExpiresAt time.Time
}

// SessionStatus is the lifecycle state of one attempt session.
type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress"
	SessionSubmitted  SessionStatus = "submitted"
	SessionExpired    SessionStatus = "expired"
)

// AnswerRecord is the durable, append-only result of one graded attempt.
// It is created exactly once per successful lock finalization and never
// mutated afterwards.
type AnswerRecord struct {
	ID             string    `json:"id"`
	QuizID         string    `json:"quizId"`
	UserID         string    `json:"userId"`
	Email          string    `json:"email"`
	SubmittedAt    time.Time `json:"submittedAt"`
	Responses      []any     `json:"responses"`
	Score          int       `json:"score"`
	TotalQuestions int       `json:"totalQuestions"`
	Percentage     float64   `json:"percentage"`
}
