package queue

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ytget/ytjobs/internal/control"
	"github.com/ytget/ytjobs/internal/download"
	"github.com/ytget/ytjobs/internal/model"
)

func newTestBackend(t *testing.T) (*download.Service, *control.MemoryStore, *MemoryBroker) {
	t.Helper()
	store := control.NewMemoryStore(control.DefaultTTL)
	broker := NewMemoryBroker()
	backend := NewBackend(store, broker, zerolog.Nop())
	return download.NewService(backend, t.TempDir(), "18", zerolog.Nop()), store, broker
}

func TestBackend_SubmitStoresMetaAndTask(t *testing.T) {
	ctx := context.Background()
	svc, store, broker := newTestBackend(t)

	job, err := svc.StartJob(ctx, download.StartRequest{URL: "https://example.com/v", Title: "Clip"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, job.Status)

	meta, err := store.Meta(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, meta.TaskID)
	assert.Equal(t, "18", meta.FormatString)
	assert.Equal(t, job.Workspace, meta.Workspace)

	task, err := broker.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePending, task.State)

	got, err := svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, got.Status)
	assert.Equal(t, "Clip", got.Title)
}

func TestBackend_UnknownJob(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestBackend(t)

	_, err := svc.GetJob(ctx, "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = svc.PauseJob(ctx, "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = svc.ResumeJob(ctx, "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = svc.CancelJob(ctx, "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, svc.DeleteJob(ctx, "nope", false), model.ErrNotFound)
}

func TestBackend_ExpiredLeaseIsNotFound(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestBackend(t)
	job, err := svc.StartJob(ctx, download.StartRequest{URL: "https://example.com/v"})
	require.NoError(t, err)

	store.SetClock(func() time.Time { return time.Now().Add(control.DefaultTTL + time.Minute) })

	_, err = svc.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	jobs, err := svc.ListJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestBackend_PauseQueuedIsNoop(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestBackend(t)
	job, err := svc.StartJob(ctx, download.StartRequest{URL: "https://example.com/v"})
	require.NoError(t, err)

	got, err := svc.PauseJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, got.Status)

	pause, _, err := store.Flags(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, pause)
}

func TestBackend_CancelQueuedAndResume(t *testing.T) {
	ctx := context.Background()
	svc, store, broker := newTestBackend(t)
	job, err := svc.StartJob(ctx, download.StartRequest{URL: "https://example.com/v"})
	require.NoError(t, err)

	got, err := svc.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCanceled, got.Status)
	assert.NoDirExists(t, job.Workspace)

	_, cancel, err := store.Flags(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, cancel)

	// canceling again is a no-op
	got, err = svc.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCanceled, got.Status)

	got, err = svc.ResumeJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, got.Status)
	assert.DirExists(t, job.Workspace)

	_, cancel, err = store.Flags(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, cancel)

	task, err := broker.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePending, task.State)
}

func TestBackend_ResumeIgnoresActiveAndDone(t *testing.T) {
	ctx := context.Background()
	svc, _, broker := newTestBackend(t)
	job, err := svc.StartJob(ctx, download.StartRequest{URL: "https://example.com/v"})
	require.NoError(t, err)

	got, err := svc.ResumeJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, got.Status)

	_, err = broker.Claim(ctx, "w1")
	require.NoError(t, err)
	require.NoError(t, broker.Finish(ctx, job.ID, StateSuccess, "", &model.Job{ID: job.ID, Progress: 1}))

	got, err = svc.ResumeJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDone, got.Status)
}

func TestBackend_GetMergesProgressSnapshot(t *testing.T) {
	ctx := context.Background()
	svc, _, broker := newTestBackend(t)
	job, err := svc.StartJob(ctx, download.StartRequest{URL: "https://example.com/v"})
	require.NoError(t, err)

	_, err = broker.Claim(ctx, "w1")
	require.NoError(t, err)
	total := int64(1000)
	speed := 512.0
	require.NoError(t, broker.SaveProgress(ctx, job.ID, &model.Job{
		ID:              job.ID,
		Status:          model.StatusMerging,
		Progress:        0.95,
		DownloadedBytes: 1000,
		TotalBytes:      &total,
		SpeedBPS:        &speed,
		Title:           "From engine",
	}))

	got, err := svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusMerging, got.Status)
	assert.InDelta(t, 0.95, got.Progress, 1e-9)
	assert.Equal(t, int64(1000), got.DownloadedBytes)
	require.NotNil(t, got.SpeedBPS)
	assert.Equal(t, "From engine", got.Title)

	require.NoError(t, broker.Finish(ctx, job.ID, StateFailure, "boom", nil))
	got, err = svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, got.Status)
	assert.Equal(t, "boom", got.Error)
	assert.Nil(t, got.SpeedBPS)
}

func TestBackend_DeleteForgetsJob(t *testing.T) {
	ctx := context.Background()
	svc, _, broker := newTestBackend(t)
	job, err := svc.StartJob(ctx, download.StartRequest{URL: "https://example.com/v"})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteJob(ctx, job.ID, false))

	_, err = svc.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = broker.Get(ctx, job.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.DirExists(t, job.Workspace)
}

func TestBackend_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestBackend(t)
	first, err := svc.StartJob(ctx, download.StartRequest{URL: "https://example.com/a"})
	require.NoError(t, err)
	second, err := svc.StartJob(ctx, download.StartRequest{URL: "https://example.com/b"})
	require.NoError(t, err)

	jobs, err := svc.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, second.ID, jobs[0].ID)
	assert.Equal(t, first.ID, jobs[1].ID)
}
