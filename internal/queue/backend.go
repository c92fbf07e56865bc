package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/ytget/ytjobs/internal/control"
	"github.com/ytget/ytjobs/internal/download"
	"github.com/ytget/ytjobs/internal/model"
	"github.com/ytget/ytjobs/internal/platform"
)

// Backend is the distributed download.Backend. Job metadata and control
// flags live in the control store; executions are broker tasks run by
// Worker processes.
type Backend struct {
	store  control.Store
	broker Broker
	log    zerolog.Logger
}

var _ download.Backend = (*Backend)(nil)

// NewBackend creates the distributed backend
func NewBackend(store control.Store, broker Broker, log zerolog.Logger) *Backend {
	return &Backend{
		store:  store,
		broker: broker,
		log:    log.With().Str("component", "distributed").Logger(),
	}
}

// Name implements download.Backend
func (b *Backend) Name() string { return download.BackendDistributed }

// Submit implements download.Backend.
// The task reuses the job id so a resumed job keeps its task.
func (b *Backend) Submit(ctx context.Context, job *model.Job) error {
	meta := control.Meta{
		ID:           job.ID,
		URL:          job.URL,
		FormatString: job.FormatString,
		Title:        job.Title,
		Ext:          job.Ext,
		Workspace:    job.Workspace,
		TaskID:       job.ID,
		CreatedAt:    job.CreatedAt,
	}
	if err := b.store.Create(ctx, meta); err != nil {
		return fmt.Errorf("store job %s: %w", job.ID, err)
	}
	if err := b.broker.Enqueue(ctx, meta.TaskID, job.ID); err != nil {
		_ = b.store.Delete(ctx, job.ID)
		return err
	}
	b.log.Info().Str("job_id", job.ID).Msg("distributed: task enqueued")
	return nil
}

// Get implements download.Backend
func (b *Backend) Get(ctx context.Context, id string) (*model.Job, error) {
	_, job, err := b.load(ctx, id)
	return job, err
}

// List implements download.Backend
func (b *Backend) List(ctx context.Context) ([]*model.Job, error) {
	ids, err := b.store.List(ctx)
	if err != nil {
		return nil, err
	}
	jobs := make([]*model.Job, 0, len(ids))
	for _, id := range ids {
		job, err := b.Get(ctx, id)
		if errors.Is(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID > jobs[j].ID })
	return jobs, nil
}

// Pause implements download.Backend
func (b *Backend) Pause(ctx context.Context, id string) (*model.Job, error) {
	_, job, err := b.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != model.StatusDownloading {
		return job, nil
	}
	if err := b.store.SetFlag(ctx, id, control.FlagPause); err != nil {
		return nil, mapStoreErr(err)
	}
	return job, nil
}

// Resume implements download.Backend.
// A canceled job can be resumed while its task record lingers.
func (b *Backend) Resume(ctx context.Context, id string) (*model.Job, error) {
	meta, job, err := b.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != model.StatusPaused && job.Status != model.StatusCanceled {
		return job, nil
	}
	if meta.TaskID == "" {
		return job, nil
	}

	if err := b.store.ClearFlags(ctx, id); err != nil {
		return nil, mapStoreErr(err)
	}
	ws := meta.Workspace
	if meta.PausedDir != "" {
		ws = meta.PausedDir
	}
	if err := platform.EnsureWorkspace(ws); err != nil {
		return nil, err
	}
	meta.Workspace = ws
	meta.PausedDir = ""
	if err := b.store.UpdateMeta(ctx, meta); err != nil {
		return nil, mapStoreErr(err)
	}
	if err := b.store.Renew(ctx, id); err != nil {
		return nil, mapStoreErr(err)
	}
	if err := b.broker.Enqueue(ctx, meta.TaskID, id); err != nil {
		return nil, err
	}
	b.log.Info().Str("job_id", id).Msg("distributed: task re-enqueued")
	return b.Get(ctx, id)
}

// Cancel implements download.Backend.
// The cancel flag reaches a running worker through its watch; a task that is
// not running is revoked here and its workspace removed at once.
func (b *Backend) Cancel(ctx context.Context, id string) (*model.Job, error) {
	meta, job, err := b.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return job, nil
	}
	if err := b.store.SetFlag(ctx, id, control.FlagCancel); err != nil {
		return nil, mapStoreErr(err)
	}

	prev, err := b.broker.Revoke(ctx, meta.TaskID)
	if err != nil && !errors.Is(err, ErrTaskNotFound) {
		return nil, err
	}
	if !prev.IsRunning() {
		download.CleanupWorkspace(b.log, job.Workspace)
	}
	b.log.Info().Str("job_id", id).Str("task_state", string(prev)).Msg("distributed: task revoked")
	return b.Get(ctx, id)
}

// Delete implements download.Backend.
// Revoking the task makes every later write of a running worker fail, which
// stops it at its next checkpoint. The task of a running worker is kept so
// the worker can see the deletion and remove the workspace when asked to.
func (b *Backend) Delete(ctx context.Context, id string, deleteFiles bool) (*model.Job, error) {
	meta, job, err := b.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := b.broker.MarkDeleted(ctx, meta.TaskID, deleteFiles); err != nil && !errors.Is(err, ErrTaskNotFound) {
		return nil, err
	}
	prev, err := b.broker.Revoke(ctx, meta.TaskID)
	if err != nil && !errors.Is(err, ErrTaskNotFound) {
		return nil, err
	}
	if !prev.IsRunning() {
		if err := b.broker.Delete(ctx, meta.TaskID); err != nil {
			return nil, err
		}
		if deleteFiles {
			download.CleanupWorkspace(b.log, job.Workspace)
			if meta.PausedDir != "" && meta.PausedDir != job.Workspace {
				download.CleanupWorkspace(b.log, meta.PausedDir)
			}
		}
	}
	if err := b.store.Delete(ctx, id); err != nil {
		return nil, mapStoreErr(err)
	}
	return job, nil
}

// Close implements download.Backend
func (b *Backend) Close() error {
	b.broker.Close()
	return b.store.Close()
}

// load merges metadata, task state and the last progress snapshot
func (b *Backend) load(ctx context.Context, id string) (control.Meta, *model.Job, error) {
	meta, err := b.store.Meta(ctx, id)
	if err != nil {
		return control.Meta{}, nil, mapStoreErr(err)
	}
	job := jobFromMeta(meta)

	task, err := b.broker.Get(ctx, meta.TaskID)
	switch {
	case errors.Is(err, ErrTaskNotFound):
		return meta, job, nil
	case err != nil:
		return control.Meta{}, nil, err
	}
	mergeTask(job, task)
	return meta, job, nil
}

func jobFromMeta(meta control.Meta) *model.Job {
	job := model.NewJob(meta.ID, meta.URL, meta.FormatString, meta.Title, meta.Ext, meta.Workspace)
	if meta.PausedDir != "" {
		job.Workspace = meta.PausedDir
	}
	if !meta.CreatedAt.IsZero() {
		job.CreatedAt = meta.CreatedAt
	}
	return job
}

func mergeTask(job *model.Job, task *Task) {
	if snap := task.Progress; snap != nil {
		job.Progress = snap.Progress
		job.DownloadedBytes = snap.DownloadedBytes
		job.TotalBytes = snap.TotalBytes
		job.SpeedBPS = snap.SpeedBPS
		job.ETASeconds = snap.ETASeconds
		job.Filename = snap.Filename
		if job.Title == "" {
			job.Title = snap.Title
		}
		if job.Ext == "" {
			job.Ext = snap.Ext
		}
	}
	job.Status = StatusFor(task.State, task.Progress)
	if !task.State.IsRunning() {
		job.ResetTelemetry()
	}
	if job.Status == model.StatusError {
		job.Error = task.Error
	}
	job.UpdatedAt = task.UpdatedAt
}

func mapStoreErr(err error) error {
	if errors.Is(err, control.ErrNotFound) {
		return model.ErrNotFound
	}
	return err
}
