package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"attempt-service/internal/domain"
)

var alice = domain.Identity{UserID: "u1", Email: "alice@example.com"}

func TestAcquireIsExclusive(t *testing.T) {
	ctx := context.Background()
	store := NewLockStore()

	if err := store.Acquire(ctx, alice, "quiz-1", "tok-1", time.Hour); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := store.Acquire(ctx, alice, "quiz-1", "tok-2", time.Hour); !errors.Is(err, domain.ErrAlreadyAttempted) {
		t.Fatalf("expected ErrAlreadyAttempted, got %v", err)
	}

	// A different quiz or identity is unaffected.
	if err := store.Acquire(ctx, alice, "quiz-2", "tok-3", time.Hour); err != nil {
		t.Fatalf("acquire other quiz: %v", err)
	}
	bob := domain.Identity{UserID: "u2", Email: "bob@example.com"}
	if err := store.Acquire(ctx, bob, "quiz-1", "tok-4", time.Hour); err != nil {
		t.Fatalf("acquire other identity: %v", err)
	}
}

func TestConcurrentAcquireExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	store := NewLockStore()

	const n = 32
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.Acquire(ctx, alice, "quiz-1", fmt.Sprintf("tok-%d", i), time.Hour)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, domain.ErrAlreadyAttempted) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestFinalizeIsExclusive(t *testing.T) {
	ctx := context.Background()
	store := NewLockStore()

	if err := store.Acquire(ctx, alice, "quiz-1", "tok-1", time.Hour); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	lock, err := store.Finalize(ctx, "tok-1")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if lock.State != domain.LockSettled {
		t.Fatalf("expected settled lock, got %s", lock.State)
	}

	if _, err := store.Finalize(ctx, "tok-1"); !errors.Is(err, domain.ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled on second finalize, got %v", err)
	}
	if _, err := store.Finalize(ctx, "tok-unknown"); !errors.Is(err, domain.ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled for unknown token, got %v", err)
	}
}

func TestConcurrentFinalizeExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	store := NewLockStore()

	if err := store.Acquire(ctx, alice, "quiz-1", "tok-1", time.Hour); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.Finalize(ctx, "tok-1")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, domain.ErrAlreadySettled) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning finalize, got %d", wins)
	}
}

func TestSettledBlocksUntilWindowExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := NewLockStoreWithClock(func() time.Time { return now })

	if err := store.Acquire(ctx, alice, "quiz-1", "tok-1", time.Hour); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := store.Finalize(ctx, "tok-1"); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if err := store.Acquire(ctx, alice, "quiz-1", "tok-2", time.Hour); !errors.Is(err, domain.ErrAlreadyAttempted) {
		t.Fatalf("expected settled lock to block, got %v", err)
	}
	attempted, err := store.Peek(ctx, alice, "quiz-1")
	if err != nil || !attempted {
		t.Fatalf("expected attempted=true inside window, got %v %v", attempted, err)
	}

	now = now.Add(time.Hour + time.Second)

	attempted, err = store.Peek(ctx, alice, "quiz-1")
	if err != nil || attempted {
		t.Fatalf("expected attempted=false after window, got %v %v", attempted, err)
	}
	if err := store.Acquire(ctx, alice, "quiz-1", "tok-2", time.Hour); err != nil {
		t.Fatalf("expected reacquire after window, got %v", err)
	}
}

func TestReleaseFreesHeldLock(t *testing.T) {
	ctx := context.Background()
	store := NewLockStore()

	if err := store.Acquire(ctx, alice, "quiz-1", "tok-1", time.Hour); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := store.Release(ctx, "tok-1"); err != nil {
		t.Fatalf("release: %v", err)
	}

	// The same identity may retry immediately after abandoning.
	if err := store.Acquire(ctx, alice, "quiz-1", "tok-2", time.Hour); err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}

	// Releasing a stale token must not free the new holder's lock.
	if err := store.Release(ctx, "tok-1"); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if err := store.Acquire(ctx, alice, "quiz-1", "tok-3", time.Hour); !errors.Is(err, domain.ErrAlreadyAttempted) {
		t.Fatalf("expected lock still held, got %v", err)
	}
}
