package model

// JobStatus represents the lifecycle status of a transfer job
type JobStatus string

const (
	// StatusQueued means the job is accepted but no execution unit has picked it up yet
	StatusQueued JobStatus = "queued"

	// StatusDownloading means the transfer is in progress
	StatusDownloading JobStatus = "downloading"

	// StatusMerging means the streams are transferred and the container is being finalized
	StatusMerging JobStatus = "merging"

	// StatusPaused means the job observed a pause signal and can be resumed
	StatusPaused JobStatus = "paused"

	// StatusDone means the artifact is complete on disk
	StatusDone JobStatus = "done"

	// StatusError means the job failed
	StatusError JobStatus = "error"

	// StatusCanceled means the job was canceled by the user
	StatusCanceled JobStatus = "canceled"
)

// transitions lists every legal edge of the job state machine.
// merging -> downloading happens when the engine moves to the next stream of a
// multi-stream selector such as "137+140".
var transitions = map[JobStatus][]JobStatus{
	StatusQueued:      {StatusDownloading, StatusCanceled, StatusError},
	StatusDownloading: {StatusMerging, StatusPaused, StatusCanceled, StatusDone, StatusError},
	StatusMerging:     {StatusDownloading, StatusPaused, StatusCanceled, StatusDone, StatusError},
	StatusPaused:      {StatusQueued, StatusCanceled, StatusError},
	StatusCanceled:    {StatusQueued},
}

// String returns the string representation of JobStatus
func (s JobStatus) String() string {
	return string(s)
}

// Valid reports whether s is one of the known statuses
func (s JobStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusDownloading, StatusMerging, StatusPaused,
		StatusDone, StatusError, StatusCanceled:
		return true
	}
	return false
}

// IsActive returns true while an execution unit is transferring or finalizing
func (s JobStatus) IsActive() bool {
	return s == StatusDownloading || s == StatusMerging
}

// IsTerminal returns true for done, error and canceled
func (s JobStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusError || s == StatusCanceled
}

// HasProgress returns true when the progress field carries meaning
func (s JobStatus) HasProgress() bool {
	return s == StatusDownloading || s == StatusMerging || s == StatusDone
}

// CanTransition reports whether moving from s to next is a legal edge
func (s JobStatus) CanTransition(next JobStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
