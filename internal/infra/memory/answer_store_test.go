package memory

import (
	"context"
	"testing"
	"time"

	"attempt-service/internal/domain"
)

func TestAnswerStoreAppendAndList(t *testing.T) {
	ctx := context.Background()
	store := NewAnswerStore()

	recs := []domain.AnswerRecord{
		{ID: "r1", QuizID: "quiz-1", UserID: "u1", Score: 3, TotalQuestions: 5, Percentage: 60, SubmittedAt: time.Now()},
		{ID: "r2", QuizID: "quiz-2", UserID: "u1", Score: 1, TotalQuestions: 2, Percentage: 50, SubmittedAt: time.Now()},
		{ID: "r3", QuizID: "quiz-1", UserID: "u2", Score: 5, TotalQuestions: 5, Percentage: 100, SubmittedAt: time.Now()},
	}
	for _, rec := range recs {
		if err := store.Append(ctx, rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := store.ListByQuiz(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != "r1" || got[1].ID != "r3" {
		t.Fatalf("unexpected listing: %+v", got)
	}

	empty, err := store.ListByQuiz(ctx, "quiz-9")
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty listing, got %v %v", empty, err)
	}
}
