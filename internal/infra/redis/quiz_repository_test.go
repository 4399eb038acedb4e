package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"attempt-service/internal/domain"
	"attempt-service/internal/infra/memory"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestQuizRepositoryCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	loader := &countingLoader{
		QuizLoader: memory.NewStaticQuizLoader(map[string]domain.QuizDefinition{
			"quiz-1": sampleQuiz(),
		}),
	}
	repo := NewQuizRepository(client, loader, time.Minute)

	quiz, err := repo.GetQuiz(context.Background(), "quiz-1")
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls)
	}
	if len(quiz.Questions) != 2 || quiz.Questions[0].CorrectIndex != 1 {
		t.Fatalf("definition lost content through the cache: %+v", quiz)
	}

	// Second call should hit cache, loader not incremented.
	cached, err := repo.GetQuiz(context.Background(), "quiz-1")
	if err != nil {
		t.Fatalf("get quiz cached: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}
	if cached.Questions[1].Expected != 42 {
		t.Fatalf("cached definition lost answer key: %+v", cached)
	}
}

func TestQuizRepositoryInvalidate(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	loader := &countingLoader{
		QuizLoader: memory.NewStaticQuizLoader(map[string]domain.QuizDefinition{
			"quiz-1": sampleQuiz(),
		}),
	}
	repo := NewQuizRepository(client, loader, time.Minute)

	if _, err := repo.GetQuiz(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	repo.Invalidate(context.Background(), "quiz-1")
	if mr.Exists("quiz:quiz-1:def") {
		t.Fatalf("expected cache key to be removed")
	}
	if _, err := repo.GetQuiz(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get quiz after invalidate: %v", err)
	}
	if loader.calls != 2 {
		t.Fatalf("expected reload after invalidate, calls=%d", loader.calls)
	}
}

type countingLoader struct {
	memory.QuizLoader
	calls int
}

func (l *countingLoader) LoadQuiz(ctx context.Context, quizID string) (domain.QuizDefinition, error) {
	l.calls++
	return l.QuizLoader.LoadQuiz(ctx, quizID)
}

func sampleQuiz() domain.QuizDefinition {
	return domain.QuizDefinition{
		ID:      "quiz-1",
		Title:   "Arithmetic",
		Version: 1,
		Questions: []domain.Question{
			{
				Kind:         domain.KindMCQ,
				Text:         "What is 2 + 2?",
				Options:      []string{"3", "4", "5"},
				CorrectIndex: 1,
			},
			{
				Kind:     domain.KindNAT,
				Text:     "What is 6 * 7?",
				Expected: 42,
			},
		},
	}
}

func TestQuizRepositoryConcurrentFills(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	second := sampleQuiz()
	second.ID = "quiz-2"
	loader := memory.NewStaticQuizLoader(map[string]domain.QuizDefinition{
		"quiz-1": sampleQuiz(),
		"quiz-2": second,
	})
	repo := NewQuizRepository(client, loader, time.Minute)

	// Cold-cache fills for different keys run in parallel through
	// singleflight; the jitter path must tolerate that.
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "quiz-1"
			if i%2 == 1 {
				id = "quiz-2"
			}
			quiz, err := repo.GetQuiz(context.Background(), id)
			if err != nil {
				t.Errorf("get %s: %v", id, err)
				return
			}
			if quiz.ID != id {
				t.Errorf("got %s for %s", quiz.ID, id)
			}
		}(i)
	}
	wg.Wait()
}
