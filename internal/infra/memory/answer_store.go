package memory

import (
	"context"
	"sync"

	"attempt-service/internal/domain"
)

// AnswerStore keeps graded results in memory, append-only.
type AnswerStore struct {
	mu      sync.RWMutex
	records []domain.AnswerRecord
}

func NewAnswerStore() *AnswerStore {
	return &AnswerStore{}
}

func (s *AnswerStore) Append(_ context.Context, rec domain.AnswerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *AnswerStore) ListByQuiz(_ context.Context, quizID string) ([]domain.AnswerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AnswerRecord, 0)
	for _, rec := range s.records {
		if rec.QuizID == quizID {
			out = append(out, rec)
		}
	}
	return out, nil
}
