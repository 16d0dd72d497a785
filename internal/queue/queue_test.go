package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryQueueDeliversToRegisteredHandler(t *testing.T) {
	q := NewMemoryQueue(2, 3)

	var mu sync.Mutex
	received := ""
	done := make(chan struct{})

	q.RegisterHandler("inbox.process", func(ctx context.Context, job Job) error {
		mu.Lock()
		received = string(job.Payload)
		mu.Unlock()
		close(done)
		return nil
	})

	ctx := context.Background()
	q.Start(ctx)
	defer q.Shutdown(context.Background())

	if err := q.Enqueue(ctx, "inbox.process", []byte("inbox-1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handler")
	}

	mu.Lock()
	defer mu.Unlock()
	if received != "inbox-1" {
		t.Fatalf("expected payload inbox-1, got %s", received)
	}
}

func TestMemoryQueueDeadLettersAfterMaxAttempts(t *testing.T) {
	q := NewMemoryQueue(1, 2)

	var mu sync.Mutex
	attempts := 0
	doneAttempt2 := make(chan struct{})

	q.RegisterHandler("always.fails", func(ctx context.Context, job Job) error {
		mu.Lock()
		attempts = job.Attempt
		mu.Unlock()
		if job.Attempt == 2 {
			close(doneAttempt2)
		}
		return errors.New("boom")
	})

	ctx := context.Background()
	q.Start(ctx)
	defer q.Shutdown(context.Background())

	if err := q.Enqueue(ctx, "always.fails", []byte("x")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case <-doneAttempt2:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for second attempt")
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 2 {
		t.Fatalf("expected exactly 2 attempts (maxAttempts), got %d", attempts)
	}
}
