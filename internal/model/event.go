package model

// EventType names a notification emitted by the post-processing finalizer
type EventType string

const (
	EventStarted  EventType = "started"
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one message on the shared notification channel
type Event struct {
	Type      EventType `json:"type"`
	CatalogID string    `json:"catalog_id"`
	JobID     string    `json:"job_id,omitempty"`
	Percent   *int      `json:"percent,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// NewProgressEvent builds a progress event with the given percentage
func NewProgressEvent(catalogID, jobID string, percent int) Event {
	return Event{Type: EventProgress, CatalogID: catalogID, JobID: jobID, Percent: &percent}
}
