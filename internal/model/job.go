package model

import (
	"strings"
	"time"
)

// Job represents a single tracked transfer attempt.
// The JSON form is the projection returned to API callers; the workspace path
// and timestamps stay internal.
type Job struct {
	ID              string    `json:"id"`
	URL             string    `json:"url"`
	Title           string    `json:"title,omitempty"`
	FormatString    string    `json:"format_string"`
	Ext             string    `json:"ext,omitempty"`
	Status          JobStatus `json:"status"`
	Progress        float64   `json:"progress"` // 0.0 to 1.0
	DownloadedBytes int64     `json:"downloaded_bytes"`
	TotalBytes      *int64    `json:"total_bytes,omitempty"`
	SpeedBPS        *float64  `json:"speed_bps,omitempty"`
	ETASeconds      *int64    `json:"eta_seconds,omitempty"`
	Filename        string    `json:"filename,omitempty"`
	Error           string    `json:"error,omitempty"`

	Workspace  string    `json:"-"`
	CreatedAt  time.Time `json:"-"`
	UpdatedAt  time.Time `json:"-"`
	StartedAt  time.Time `json:"-"`
	FinishedAt time.Time `json:"-"`
}

// NewJob creates a queued job with zero progress
func NewJob(id, url, format, title, ext, workspace string) *Job {
	now := time.Now()
	return &Job{
		ID:           id,
		URL:          url,
		Title:        title,
		FormatString: format,
		Ext:          ext,
		Status:       StatusQueued,
		Workspace:    workspace,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Clone returns a deep copy safe to hand out of a registry
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.TotalBytes != nil {
		v := *j.TotalBytes
		c.TotalBytes = &v
	}
	if j.SpeedBPS != nil {
		v := *j.SpeedBPS
		c.SpeedBPS = &v
	}
	if j.ETASeconds != nil {
		v := *j.ETASeconds
		c.ETASeconds = &v
	}
	return &c
}

// SetStatus moves the job to next and stamps the timestamps.
// It returns false and leaves the job untouched when the edge is illegal.
func (j *Job) SetStatus(next JobStatus) bool {
	if j.Status == next {
		return true
	}
	if !j.Status.CanTransition(next) {
		return false
	}
	now := time.Now()
	if next == StatusDownloading && j.StartedAt.IsZero() {
		j.StartedAt = now
	}
	if next.IsTerminal() {
		j.FinishedAt = now
	}
	j.Status = next
	j.UpdatedAt = now
	return true
}

// ResetTelemetry clears the transient rate metrics when a job stops running
func (j *Job) ResetTelemetry() {
	j.SpeedBPS = nil
	j.ETASeconds = nil
}

// Fail moves the job to the error state with the given detail
func (j *Job) Fail(detail string) {
	j.Status = StatusError
	j.Error = detail
	j.ResetTelemetry()
	j.FinishedAt = time.Now()
	j.UpdatedAt = j.FinishedAt
}

// GetDisplayTitle returns title, filename, or URL in order of preference
func (j *Job) GetDisplayTitle() string {
	if j.Title != "" && !strings.HasPrefix(j.Title, "http") {
		return j.Title
	}

	if j.Filename != "" {
		parts := strings.FieldsFunc(j.Filename, func(r rune) bool {
			return r == '/' || r == '\\'
		})
		if len(parts) > 0 {
			filename := parts[len(parts)-1]
			if idx := strings.LastIndex(filename, "."); idx > 0 {
				filename = filename[:idx]
			}
			return filename
		}
	}

	return j.URL
}
