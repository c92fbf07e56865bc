package queue

import "github.com/ytget/ytjobs/internal/model"

// TaskState is the broker-side lifecycle state of a task
type TaskState string

const (
	StatePending  TaskState = "PENDING"
	StateStarted  TaskState = "STARTED"
	StateProgress TaskState = "PROGRESS"
	StateSuccess  TaskState = "SUCCESS"
	StateFailure  TaskState = "FAILURE"
	StateRetry    TaskState = "RETRY"
	StateRevoked  TaskState = "REVOKED"
	StatePaused   TaskState = "PAUSED"
)

// IsRunning reports whether a worker currently owns the task
func (s TaskState) IsRunning() bool {
	return s == StateStarted || s == StateProgress
}

// IsReady reports whether the task waits to be claimed
func (s TaskState) IsReady() bool {
	return s == StatePending || s == StateRetry
}

// IsFinal reports whether the task will never run again without a resume
func (s TaskState) IsFinal() bool {
	return s == StateSuccess || s == StateFailure || s == StateRevoked
}

// StatusFor maps a task state to the job status.
// While progressing, the worker-reported status distinguishes merging.
func StatusFor(state TaskState, snap *model.Job) model.JobStatus {
	switch state {
	case StatePending:
		return model.StatusQueued
	case StateProgress:
		if snap != nil && snap.Status.IsActive() {
			return snap.Status
		}
		return model.StatusDownloading
	case StateStarted, StateRetry:
		return model.StatusDownloading
	case StateSuccess:
		return model.StatusDone
	case StateFailure:
		return model.StatusError
	case StateRevoked:
		return model.StatusCanceled
	case StatePaused:
		return model.StatusPaused
	default:
		return model.StatusQueued
	}
}
