package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRunLimiter_AcquireRelease(t *testing.T) {
	limiter := NewRunLimiter(2, time.Second)
	ctx := context.Background()

	if got := limiter.Available(); got != 2 {
		t.Errorf("initial Available = %d, want 2", got)
	}

	for i := 0; i < 2; i++ {
		if err := limiter.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
	}
	if got := limiter.ActiveCount(); got != 2 {
		t.Errorf("ActiveCount = %d, want 2", got)
	}
	full, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if err := limiter.Acquire(full); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire with no free slot = %v, want context.DeadlineExceeded", err)
	}

	limiter.Release()
	if got := limiter.Available(); got != 1 {
		t.Errorf("after Release, Available = %d, want 1", got)
	}
	limiter.Release()
	if got := limiter.ActiveCount(); got != 0 {
		t.Errorf("after second Release, ActiveCount = %d, want 0", got)
	}
}

func TestRunLimiter_Timeout(t *testing.T) {
	limiter := NewRunLimiter(1, 20*time.Millisecond)
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire on empty limiter failed: %v", err)
	}
	defer limiter.Release()

	err := limiter.Acquire(context.Background())
	if !errors.Is(err, ErrTooManyRuns) {
		t.Errorf("Acquire error = %v, want ErrTooManyRuns", err)
	}
}

func TestRunLimiter_ContextCancelled(t *testing.T) {
	limiter := NewRunLimiter(1, time.Minute)
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire on empty limiter failed: %v", err)
	}
	defer limiter.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := limiter.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire error = %v, want context.Canceled", err)
	}
}

func TestRunLimiter_WaitForDrain(t *testing.T) {
	limiter := NewRunLimiter(3, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		if err := limiter.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(30 * time.Millisecond)
			limiter.Release()
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := limiter.WaitForDrain(ctx); err != nil {
		t.Fatalf("WaitForDrain: %v", err)
	}
	wg.Wait()

	if got := limiter.Status(); got.Active != 0 || got.MaxConcurrent != 3 {
		t.Errorf("Status = %+v, want Active 0, MaxConcurrent 3", got)
	}
}
