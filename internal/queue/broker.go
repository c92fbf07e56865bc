package queue

import (
	"context"
	"errors"
	"time"

	"github.com/ytget/ytjobs/internal/model"
)

var (
	// ErrNoTask is returned by Claim when nothing is ready
	ErrNoTask = errors.New("no task available")
	// ErrTaskNotFound is returned for unknown task ids
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskGone is returned when a worker writes to a task it no longer owns
	ErrTaskGone = errors.New("task is no longer running")
)

// Task is one queued execution of a job. Deleted marks a task whose job was
// deleted while it could be running; PurgeFiles tells the worker to remove
// the workspace when it stops.
type Task struct {
	ID          string
	JobID       string
	State       TaskState
	Attempts    int
	Error       string
	Progress    *model.Job
	ClaimedBy   string
	Deleted     bool
	PurgeFiles  bool
	AvailableAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Broker is the shared task queue and result backend.
// Writes made by a worker are conditional on the task still running, so a
// revoked or deleted task can never be resurrected by a late write.
type Broker interface {
	// Enqueue creates the task or resets an existing one to PENDING, keeping its id.
	Enqueue(ctx context.Context, taskID, jobID string) error
	// Claim atomically hands the oldest ready task to workerID.
	Claim(ctx context.Context, workerID string) (*Task, error)
	Get(ctx context.Context, taskID string) (*Task, error)

	SaveProgress(ctx context.Context, taskID string, snap *model.Job) error
	Heartbeat(ctx context.Context, taskID string) error
	Finish(ctx context.Context, taskID string, state TaskState, errMsg string, snap *model.Job) error
	Retry(ctx context.Context, taskID string, delay time.Duration, errMsg string) error

	// Revoke stops a task that is not final and returns its previous state.
	Revoke(ctx context.Context, taskID string) (TaskState, error)
	// MarkDeleted records that the job was deleted, whatever the task state.
	MarkDeleted(ctx context.Context, taskID string, purgeFiles bool) error
	Delete(ctx context.Context, taskID string) error

	// RequeueStale hands running tasks without a heartbeat back to the queue.
	RequeueStale(ctx context.Context, olderThan time.Duration) (int, error)
	// PurgeFinished drops final tasks older than the result retention.
	PurgeFinished(ctx context.Context, olderThan time.Duration) (int, error)
	Close()
}
