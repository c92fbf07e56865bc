package queue

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ytget/ytjobs/internal/control"
	"github.com/ytget/ytjobs/internal/download"
	"github.com/ytget/ytjobs/internal/model"
	"github.com/ytget/ytjobs/internal/platform"
	"github.com/ytget/ytjobs/internal/transfer/transfertest"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

type harness struct {
	svc    *download.Service
	store  *control.MemoryStore
	broker *MemoryBroker
	engine *transfertest.Engine
	worker *Worker
	done   chan *model.Job
}

func newHarness(t *testing.T, engine *transfertest.Engine, cfg WorkerConfig) *harness {
	t.Helper()
	svc, store, broker := newTestBackend(t)
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 1
	}
	cfg.ID = "test-worker"
	exec := download.NewExecutor(engine, download.ExecutorConfig{}, zerolog.Nop())
	h := &harness{
		svc:    svc,
		store:  store,
		broker: broker,
		engine: engine,
		worker: NewWorker(cfg, broker, store, exec, zerolog.Nop()),
		done:   make(chan *model.Job, 8),
	}
	h.worker.OnDone(func(j *model.Job) { h.done <- j })
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = h.worker.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
}

func (h *harness) startJob(t *testing.T) *model.Job {
	t.Helper()
	job, err := h.svc.StartJob(context.Background(), download.StartRequest{URL: "https://example.com/v"})
	require.NoError(t, err)
	return job
}

func (h *harness) waitStatus(t *testing.T, id string, want model.JobStatus) *model.Job {
	t.Helper()
	var last *model.Job
	require.Eventually(t, func() bool {
		job, err := h.svc.GetJob(context.Background(), id)
		if err != nil {
			return false
		}
		last = job
		return job.Status == want
	}, waitFor, tick, "job %s never reached %s", id, want)
	return last
}

func (h *harness) waitBytes(t *testing.T, id string, want int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		job, err := h.svc.GetJob(context.Background(), id)
		return err == nil && job.DownloadedBytes == want
	}, waitFor, tick)
}

func step(t *testing.T, gate chan struct{}) {
	t.Helper()
	select {
	case gate <- struct{}{}:
	case <-time.After(waitFor):
		t.Fatal("engine did not ask for the next chunk")
	}
}

func TestWorker_RunsJobToDone(t *testing.T) {
	h := newHarness(t, transfertest.New(5, 100), WorkerConfig{})
	h.start(t)

	job := h.startJob(t)
	got := h.waitStatus(t, job.ID, model.StatusDone)

	assert.InDelta(t, 1.0, got.Progress, 1e-9)
	assert.Equal(t, int64(500), got.DownloadedBytes)
	require.NotNil(t, got.TotalBytes)
	assert.Equal(t, int64(500), *got.TotalBytes)
	assert.FileExists(t, got.Filename)
	assert.Nil(t, got.SpeedBPS)

	select {
	case final := <-h.done:
		assert.Equal(t, job.ID, final.ID)
		assert.Equal(t, model.StatusDone, final.Status)
	case <-time.After(waitFor):
		t.Fatal("done hook not called")
	}
}

func TestWorker_PauseAndResumeContinuesPartialFile(t *testing.T) {
	engine := transfertest.New(4, 100)
	engine.Gate = make(chan struct{})
	h := newHarness(t, engine, WorkerConfig{})
	h.start(t)
	ctx := context.Background()

	job := h.startJob(t)
	step(t, engine.Gate)
	h.waitBytes(t, job.ID, 100)

	_, err := h.svc.PauseJob(ctx, job.ID)
	require.NoError(t, err)
	step(t, engine.Gate)

	paused := h.waitStatus(t, job.ID, model.StatusPaused)
	assert.Equal(t, int64(100), paused.DownloadedBytes)
	assert.Empty(t, paused.Error)
	assert.DirExists(t, job.Workspace)

	meta, err := h.store.Meta(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.Workspace, meta.PausedDir)

	_, err = h.svc.ResumeJob(ctx, job.ID)
	require.NoError(t, err)
	close(engine.Gate)

	done := h.waitStatus(t, job.ID, model.StatusDone)
	assert.Equal(t, int64(400), done.DownloadedBytes)

	offsets := engine.StartOffsets()
	require.Len(t, offsets, 2)
	assert.Equal(t, int64(0), offsets[0])
	assert.Equal(t, int64(200), offsets[1])
}

func TestWorker_CancelStopsRunningTask(t *testing.T) {
	engine := transfertest.New(4, 100)
	engine.Gate = make(chan struct{})
	h := newHarness(t, engine, WorkerConfig{})
	h.start(t)

	job := h.startJob(t)
	step(t, engine.Gate)
	h.waitBytes(t, job.ID, 100)

	got, err := h.svc.CancelJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCanceled, got.Status)

	// no further chunk is requested: the watch stops the transfer
	require.Eventually(t, func() bool {
		return !platform.WorkspaceExists(job.Workspace)
	}, waitFor, tick)
	assert.Equal(t, 1, engine.Calls())
}

func TestWorker_DeleteStopsRunningTask(t *testing.T) {
	engine := transfertest.New(3, 100)
	engine.Gate = make(chan struct{})
	h := newHarness(t, engine, WorkerConfig{})
	h.start(t)
	ctx := context.Background()

	job := h.startJob(t)
	step(t, engine.Gate)
	h.waitBytes(t, job.ID, 100)

	require.NoError(t, h.svc.DeleteJob(ctx, job.ID, false))
	step(t, engine.Gate)

	// the single slot is free again once the deleted task stopped
	next := h.startJob(t)
	close(engine.Gate)
	h.waitStatus(t, next.ID, model.StatusDone)

	_, err := h.svc.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.DirExists(t, job.Workspace)
}

func TestWorker_DeleteWithFilesRemovesWorkspace(t *testing.T) {
	engine := transfertest.New(3, 100)
	engine.Gate = make(chan struct{})
	h := newHarness(t, engine, WorkerConfig{})
	h.start(t)
	ctx := context.Background()

	job := h.startJob(t)
	step(t, engine.Gate)
	h.waitBytes(t, job.ID, 100)

	require.NoError(t, h.svc.DeleteJob(ctx, job.ID, true))
	task, err := h.broker.Get(ctx, job.ID)
	require.NoError(t, err, "a running task outlives the delete until the worker stops")
	assert.True(t, task.Deleted)
	assert.True(t, task.PurgeFiles)

	step(t, engine.Gate)
	require.Eventually(t, func() bool {
		_, err := os.Stat(job.Workspace)
		return os.IsNotExist(err)
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		_, err := h.broker.Get(ctx, job.ID)
		return errors.Is(err, ErrTaskNotFound)
	}, waitFor, tick)
}

func TestWorker_TransientFailureRetriesThenFails(t *testing.T) {
	engine := transfertest.New(4, 100)
	engine.FailAfter = 1
	h := newHarness(t, engine, WorkerConfig{MaxRetries: 1, RetryBackoff: time.Millisecond})
	h.start(t)

	job := h.startJob(t)
	got := h.waitStatus(t, job.ID, model.StatusError)

	assert.Contains(t, got.Error, "scripted failure")
	assert.Equal(t, 2, engine.Calls())
	require.Eventually(t, func() bool {
		return !platform.WorkspaceExists(job.Workspace)
	}, waitFor, tick, "distributed default removes failed workspaces")
}

func TestWorker_RetainPolicyKeepsFailedWorkspace(t *testing.T) {
	engine := transfertest.New(4, 100)
	engine.FailAfter = 1
	h := newHarness(t, engine, WorkerConfig{ErrorPolicy: download.RetainOnError})
	h.start(t)

	job := h.startJob(t)
	h.waitStatus(t, job.ID, model.StatusError)
	assert.DirExists(t, job.Workspace)
}

func TestWorker_SoftTimeLimit(t *testing.T) {
	engine := transfertest.New(100, 10)
	engine.Delay = 20 * time.Millisecond
	h := newHarness(t, engine, WorkerConfig{SoftTimeLimit: 60 * time.Millisecond})
	h.start(t)

	job := h.startJob(t)
	got := h.waitStatus(t, job.ID, model.StatusError)
	assert.Equal(t, errSoftTimeLimit.Error(), got.Error)
}

func TestWorker_HardTimeLimit(t *testing.T) {
	engine := transfertest.New(4, 100)
	engine.Gate = make(chan struct{})
	h := newHarness(t, engine, WorkerConfig{HardTimeLimit: 50 * time.Millisecond})
	h.start(t)

	job := h.startJob(t)
	got := h.waitStatus(t, job.ID, model.StatusError)
	assert.Equal(t, errHardTimeLimit.Error(), got.Error)
}

func TestWorker_BusyWorkspaceIsRetried(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, transfertest.New(1, 10), WorkerConfig{})
	job := h.startJob(t)

	lock, err := platform.LockWorkspace(job.Workspace)
	require.NoError(t, err)
	defer lock.Unlock()

	task, err := h.broker.Claim(ctx, "test-worker")
	require.NoError(t, err)
	h.worker.Process(ctx, task)

	task, err = h.broker.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateRetry, task.State)
	assert.Contains(t, task.Error, "locked")
	assert.Zero(t, h.engine.Calls())
}

func TestWorker_MissingMetadataFailsTask(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, transfertest.New(1, 10), WorkerConfig{})
	require.NoError(t, h.broker.Enqueue(ctx, "orphan", "orphan"))

	task, err := h.broker.Claim(ctx, "test-worker")
	require.NoError(t, err)
	h.worker.Process(ctx, task)

	task, err = h.broker.Get(ctx, "orphan")
	require.NoError(t, err)
	assert.Equal(t, StateFailure, task.State)
	assert.Equal(t, "job not found", task.Error)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, backoff(time.Second, 0))
	assert.Equal(t, time.Second, backoff(time.Second, 1))
	assert.Equal(t, 4*time.Second, backoff(time.Second, 3))
	assert.LessOrEqual(t, backoff(time.Minute, 20), 2*time.Hour)
}
