// Package queue is the shared job-queue abstraction (spec §5, §6 "Queue
// backend"): one-shot jobs dispatched by job type, at-least-once delivery
// with configurable max attempts. It has no repeatable (cron) jobs;
// internal/scheduler drives those with its own cron clock.
//
// The in-memory backend here is grounded on
// webhooks.Dispatcher's worker-pool shape (bounded goroutines draining a
// buffered channel, retry after attempt² seconds of backoff); the production
// backend (cloudtasks.go) is grounded on webhooks.CloudDispatcher's
// fallback-on-enqueue-failure design.
package queue

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Job is one unit of work pulled off a queue.
type Job struct {
	ID      string
	Type    string
	Payload []byte
	Attempt int
}

// Handler processes one job. Returning an error causes a bounded retry;
// once MaxAttempts is exhausted the job is dead-lettered (logged, dropped).
type Handler func(ctx context.Context, job Job) error

// Queue is the contract every producer/consumer in this repo depends on.
type Queue interface {
	// Enqueue schedules a one-shot job of the given type.
	Enqueue(ctx context.Context, jobType string, payload []byte) error
	// RegisterHandler binds a handler to a job type. Must be called before
	// Start.
	RegisterHandler(jobType string, handler Handler)
	// Start begins consuming jobs. Non-blocking.
	Start(ctx context.Context)
	// Shutdown drains in-flight jobs up to the given deadline, then
	// returns.
	Shutdown(ctx context.Context) error
}

// MemoryQueue is the in-memory, bounded-worker-pool backend used for local
// development and tests — structurally identical to
// webhooks.Dispatcher.worker(id)/queue chan pattern, generalized to
// dispatch by job type instead of delivering to a single fixed subscriber.
type MemoryQueue struct {
	mu          sync.RWMutex
	handlers    map[string]Handler
	jobs        chan *Job
	logger      *log.Logger
	wg          sync.WaitGroup
	workers     int
	maxAttempts int
	idSeq       uint64
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue creates an in-memory queue with a bounded worker pool.
func NewMemoryQueue(workers, maxAttempts int) *MemoryQueue {
	if workers <= 0 {
		workers = 4
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &MemoryQueue{
		handlers:    make(map[string]Handler),
		jobs:        make(chan *Job, 1000),
		logger:      log.New(log.Writer(), "[QUEUE] ", log.LstdFlags),
		workers:     workers,
		maxAttempts: maxAttempts,
	}
}

func (q *MemoryQueue) RegisterHandler(jobType string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = handler
}

func (q *MemoryQueue) Enqueue(ctx context.Context, jobType string, payload []byte) error {
	q.mu.Lock()
	q.idSeq++
	id := fmt.Sprintf("job-%d", q.idSeq)
	q.mu.Unlock()

	job := &Job{ID: id, Type: jobType, Payload: payload, Attempt: 1}
	select {
	case q.jobs <- job:
		return nil
	default:
		return fmt.Errorf("queue: job channel full, dropping %s job %s", jobType, id)
	}
}

func (q *MemoryQueue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

func (q *MemoryQueue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	for job := range q.jobs {
		q.process(ctx, job)
	}
}

func (q *MemoryQueue) process(ctx context.Context, job *Job) {
	q.mu.RLock()
	handler, ok := q.handlers[job.Type]
	q.mu.RUnlock()
	if !ok {
		q.logger.Printf("⚠️ no handler registered for job type %s, dropping %s", job.Type, job.ID)
		return
	}

	if err := handler(ctx, *job); err != nil {
		if job.Attempt >= q.maxAttempts {
			q.logger.Printf("❌ job %s (%s) dead-lettered after %d attempts: %v", job.ID, job.Type, job.Attempt, err)
			return
		}
		q.logger.Printf("⚠️ job %s (%s) attempt %d failed: %v, retrying", job.ID, job.Type, job.Attempt, err)
		job.Attempt++
		time.Sleep(time.Duration(job.Attempt*job.Attempt) * time.Second)
		select {
		case q.jobs <- job:
		default:
			q.logger.Printf("❌ queue full, could not requeue job %s", job.ID)
		}
	}
}

func (q *MemoryQueue) Shutdown(ctx context.Context) error {
	close(q.jobs)
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
