package queue

import (
	"context"
	"fmt"
	"log"
	"time"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	taskspb "cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
)

// CloudTasksQueue uses Google Cloud Tasks for durable, at-least-once job
// delivery in production. Jobs are delivered as HTTP push requests to
// pushURL, carrying the job type (X-Job-Type header) and payload. This type
// has no push handler of its own: handlers registered on it are bound to
// the fallback MemoryQueue, so only jobs that fell back are dispatched in
// this process. Falls back to an in-memory queue if enqueue fails, grounded
// on webhooks.CloudDispatcher's identical fallback design.
type CloudTasksQueue struct {
	client    *cloudtasks.Client
	queuePath string
	pushURL   string
	logger    *log.Logger
	fallback  *MemoryQueue
}

var _ Queue = (*CloudTasksQueue)(nil)

// NewCloudTasksQueue creates a Cloud Tasks-backed queue. pushURL is the
// publicly reachable endpoint Cloud Tasks will POST jobs to; fallback, if
// non-nil, absorbs jobs when
// enqueue to Cloud Tasks fails.
func NewCloudTasksQueue(projectID, locationID, queueID, pushURL string, fallback *MemoryQueue) (*CloudTasksQueue, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := cloudtasks.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue: cloudtasks.NewClient: %w", err)
	}

	queuePath := fmt.Sprintf("projects/%s/locations/%s/queues/%s", projectID, locationID, queueID)

	q := &CloudTasksQueue{
		client:    client,
		queuePath: queuePath,
		pushURL:   pushURL,
		logger:    log.New(log.Writer(), "[CLOUD-TASKS] ", log.LstdFlags),
		fallback:  fallback,
	}
	q.logger.Printf("✅ connected to Cloud Tasks queue: %s", queuePath)
	return q, nil
}

func (q *CloudTasksQueue) RegisterHandler(jobType string, handler Handler) {
	if q.fallback != nil {
		q.fallback.RegisterHandler(jobType, handler)
	}
}

func (q *CloudTasksQueue) Enqueue(ctx context.Context, jobType string, payload []byte) error {
	req := &taskspb.CreateTaskRequest{
		Parent: q.queuePath,
		Task: &taskspb.Task{
			MessageType: &taskspb.Task_HttpRequest{
				HttpRequest: &taskspb.HttpRequest{
					HttpMethod: taskspb.HttpMethod_POST,
					Url:        q.pushURL,
					Headers:    map[string]string{"Content-Type": "application/json", "X-Job-Type": jobType},
					Body:       payload,
				},
			},
		},
	}

	taskCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	task, err := q.client.CreateTask(taskCtx, req)
	if err != nil {
		q.logger.Printf("❌ Cloud Task enqueue failed for %s: %v", jobType, err)
		if q.fallback != nil {
			q.logger.Printf("↩️ falling back to in-memory delivery for %s", jobType)
			return q.fallback.Enqueue(ctx, jobType, payload)
		}
		return fmt.Errorf("queue: enqueue %s: %w", jobType, err)
	}

	q.logger.Printf("📤 enqueued Cloud Task %s (type=%s)", task.GetName(), jobType)
	return nil
}

// Start begins the fallback worker pool, if configured; Cloud Tasks itself
// delivers via HTTP push to pushURL, not a pull loop.
func (q *CloudTasksQueue) Start(ctx context.Context) {
	if q.fallback != nil {
		q.fallback.Start(ctx)
	}
}

func (q *CloudTasksQueue) Shutdown(ctx context.Context) error {
	if q.fallback != nil {
		if err := q.fallback.Shutdown(ctx); err != nil {
			return err
		}
	}
	if err := q.client.Close(); err != nil {
		q.logger.Printf("⚠️ Cloud Tasks client close error: %v", err)
	}
	return nil
}
