package download

import (
	"context"

	"github.com/ytget/ytjobs/internal/model"
)

// Backend names
const (
	BackendEmbedded    = "embedded"
	BackendDistributed = "distributed"
)

// Backend runs jobs and holds their records and control signals.
// Every method except Submit fails with model.ErrNotFound for unknown ids.
type Backend interface {
	Name() string

	// Submit registers a queued job and begins executing it asynchronously.
	Submit(ctx context.Context, job *model.Job) error
	Get(ctx context.Context, id string) (*model.Job, error)
	List(ctx context.Context) ([]*model.Job, error)

	// Pause signals a downloading job; other statuses are left untouched.
	Pause(ctx context.Context, id string) (*model.Job, error)
	// Resume re-queues a resting job reusing its id and workspace.
	Resume(ctx context.Context, id string) (*model.Job, error)
	// Cancel signals a non-terminal job and requests a hard stop where supported.
	Cancel(ctx context.Context, id string) (*model.Job, error)
	// Delete forgets the job and terminates its execution; it returns the last record.
	// With deleteFiles the workspace is removed, by the execution unit itself
	// when one may still be writing to it.
	Delete(ctx context.Context, id string, deleteFiles bool) (*model.Job, error)

	Close() error
}
