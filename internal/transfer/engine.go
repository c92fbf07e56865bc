package transfer

import (
	"context"
	"errors"
	"fmt"
)

// Phase tags a progress report
type Phase string

const (
	PhaseDownloading Phase = "downloading"
	PhaseFinished    Phase = "finished"
)

// Update is one progress report from the engine
type Update struct {
	Phase           Phase
	DownloadedBytes int64
	TotalBytes      *int64
	SpeedBPS        *float64
	ETASeconds      *int64
	FilenameHint    string
	Title           string
}

// ProgressFunc receives updates at engine checkpoints.
// Returning an error aborts the transfer with that error.
type ProgressFunc func(Update) error

// Request describes one transfer
type Request struct {
	URL            string
	Format         string
	Workspace      string
	OutputTemplate string
	MergeFormat    string
	CookiesFile    string
}

// Artifact is what the engine believes it produced.
// Filename may be stale after a container merge renamed the output.
type Artifact struct {
	Filename string
	Title    string
}

// Engine performs a blocking transfer into the request workspace
type Engine interface {
	Transfer(ctx context.Context, req Request, onProgress ProgressFunc) (*Artifact, error)
}

// Error wraps a failure reported by the engine
type Error struct {
	URL       string
	Err       error
	transient bool
}

// NewError wraps err for url
func NewError(url string, err error, transient bool) *Error {
	return &Error{URL: url, Err: err, transient: transient}
}

func (e *Error) Error() string {
	return fmt.Sprintf("transfer %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether retrying the same request may succeed
func (e *Error) Transient() bool { return e.transient }

// IsTransient reports whether err is a retryable engine failure
func IsTransient(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Transient()
}
