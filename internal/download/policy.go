package download

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ytget/ytjobs/internal/model"
	"github.com/ytget/ytjobs/internal/platform"
)

// ErrorPolicy decides what happens to a workspace when a job fails
type ErrorPolicy string

const (
	// RetainOnError keeps the workspace for postmortem inspection
	RetainOnError ErrorPolicy = "retain"
	// RemoveOnError deletes the workspace to bound shared disk usage
	RemoveOnError ErrorPolicy = "remove"
)

// DefaultErrorPolicy returns the per-backend default
func DefaultErrorPolicy(backend string) ErrorPolicy {
	if backend == BackendDistributed {
		return RemoveOnError
	}
	return RetainOnError
}

// ParseErrorPolicy parses a policy name; empty selects the backend default
func ParseErrorPolicy(s, backend string) (ErrorPolicy, error) {
	switch ErrorPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return DefaultErrorPolicy(backend), nil
	case RetainOnError:
		return RetainOnError, nil
	case RemoveOnError:
		return RemoveOnError, nil
	default:
		return "", fmt.Errorf("unknown workspace error policy %q", s)
	}
}

// RemovesWorkspace reports whether the outcome requires deleting the workspace.
// Cancellation always does.
func (p ErrorPolicy) RemovesWorkspace(o model.Outcome) bool {
	switch o.Kind {
	case model.OutcomeCanceled:
		return true
	case model.OutcomeFailed:
		return p == RemoveOnError
	default:
		return false
	}
}

// Settle moves a job to the status its outcome dictates.
// Pause and cancel never leave an error detail behind.
func Settle(job *model.Job, o model.Outcome) {
	job.ResetTelemetry()
	switch o.Kind {
	case model.OutcomeSucceeded:
		job.Status = model.StatusDone
		job.Progress = 1
		job.Error = ""
	case model.OutcomePaused:
		job.Status = model.StatusPaused
	case model.OutcomeCanceled:
		job.Status = model.StatusCanceled
		job.Error = ""
	default:
		detail := "unknown failure"
		if o.Err != nil {
			detail = o.Err.Error()
		}
		job.Fail(detail)
		return
	}
	job.UpdatedAt = timeNow()
	if job.Status.IsTerminal() {
		job.FinishedAt = job.UpdatedAt
	}
}

// CleanupWorkspace removes a workspace best-effort
func CleanupWorkspace(log zerolog.Logger, dir string) {
	if err := platform.RemoveWorkspace(dir); err != nil {
		log.Debug().Err(err).Str("workspace", dir).Msg("cleanup: workspace removal incomplete")
	}
}
