package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ytget/ytjobs/internal/model"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClockedBroker() (*MemoryBroker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewMemoryBroker()
	b.SetClock(clock.Now)
	return b, clock
}

func TestMemoryBroker_ClaimOrder(t *testing.T) {
	ctx := context.Background()
	b, clock := newClockedBroker()

	_, err := b.Claim(ctx, "w1")
	require.ErrorIs(t, err, ErrNoTask)

	require.NoError(t, b.Enqueue(ctx, "t1", "j1"))
	clock.Advance(time.Second)
	require.NoError(t, b.Enqueue(ctx, "t2", "j2"))

	task, err := b.Claim(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "t1", task.ID)
	assert.Equal(t, "j1", task.JobID)
	assert.Equal(t, StateStarted, task.State)
	assert.Equal(t, 1, task.Attempts)
	assert.Equal(t, "w1", task.ClaimedBy)

	task, err = b.Claim(ctx, "w2")
	require.NoError(t, err)
	assert.Equal(t, "t2", task.ID)

	_, err = b.Claim(ctx, "w3")
	assert.ErrorIs(t, err, ErrNoTask)
}

func TestMemoryBroker_WritesRequireRunningTask(t *testing.T) {
	ctx := context.Background()
	b, _ := newClockedBroker()
	require.NoError(t, b.Enqueue(ctx, "t1", "j1"))

	snap := &model.Job{ID: "j1", Status: model.StatusDownloading, DownloadedBytes: 10}
	assert.ErrorIs(t, b.SaveProgress(ctx, "t1", snap), ErrTaskGone)
	assert.ErrorIs(t, b.Heartbeat(ctx, "missing"), ErrTaskGone)

	_, err := b.Claim(ctx, "w1")
	require.NoError(t, err)
	require.NoError(t, b.SaveProgress(ctx, "t1", snap))

	snap.DownloadedBytes = 99
	task, err := b.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StateProgress, task.State)
	assert.Equal(t, int64(10), task.Progress.DownloadedBytes, "stored snapshot must be a copy")

	prev, err := b.Revoke(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StateProgress, prev)

	assert.ErrorIs(t, b.SaveProgress(ctx, "t1", snap), ErrTaskGone)
	assert.ErrorIs(t, b.Finish(ctx, "t1", StateSuccess, "", snap), ErrTaskGone)

	task, err = b.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StateRevoked, task.State)
}

func TestMemoryBroker_RevokeFinalIsNoop(t *testing.T) {
	ctx := context.Background()
	b, _ := newClockedBroker()

	_, err := b.Revoke(ctx, "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	require.NoError(t, b.Enqueue(ctx, "t1", "j1"))
	_, err = b.Claim(ctx, "w1")
	require.NoError(t, err)
	require.NoError(t, b.Finish(ctx, "t1", StateSuccess, "", nil))

	prev, err := b.Revoke(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, prev)

	task, err := b.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, task.State)
}

func TestMemoryBroker_MarkDeleted(t *testing.T) {
	ctx := context.Background()
	b, _ := newClockedBroker()

	assert.ErrorIs(t, b.MarkDeleted(ctx, "missing", true), ErrTaskNotFound)

	require.NoError(t, b.Enqueue(ctx, "t1", "j1"))
	require.NoError(t, b.MarkDeleted(ctx, "t1", true))
	task, err := b.Get(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, task.Deleted)
	assert.True(t, task.PurgeFiles)

	require.NoError(t, b.Enqueue(ctx, "t1", "j1"))
	task, err = b.Get(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, task.Deleted, "enqueue starts a fresh execution")
	assert.False(t, task.PurgeFiles)
}

func TestMemoryBroker_RetryDelay(t *testing.T) {
	ctx := context.Background()
	b, clock := newClockedBroker()
	require.NoError(t, b.Enqueue(ctx, "t1", "j1"))
	_, err := b.Claim(ctx, "w1")
	require.NoError(t, err)

	require.NoError(t, b.Retry(ctx, "t1", time.Minute, "network hiccup"))
	task, err := b.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StateRetry, task.State)
	assert.Equal(t, "network hiccup", task.Error)

	_, err = b.Claim(ctx, "w1")
	assert.ErrorIs(t, err, ErrNoTask)

	clock.Advance(time.Minute)
	task, err = b.Claim(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, 2, task.Attempts)
}

func TestMemoryBroker_EnqueueResetsExistingTask(t *testing.T) {
	ctx := context.Background()
	b, _ := newClockedBroker()
	require.NoError(t, b.Enqueue(ctx, "t1", "j1"))
	_, err := b.Claim(ctx, "w1")
	require.NoError(t, err)
	snap := &model.Job{ID: "j1", DownloadedBytes: 200}
	require.NoError(t, b.Finish(ctx, "t1", StatePaused, "", snap))

	require.NoError(t, b.Enqueue(ctx, "t1", "j1"))
	task, err := b.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StatePending, task.State)
	assert.Zero(t, task.Attempts)
	require.NotNil(t, task.Progress)
	assert.Equal(t, int64(200), task.Progress.DownloadedBytes)
}

func TestMemoryBroker_RequeueStaleAndPurge(t *testing.T) {
	ctx := context.Background()
	b, clock := newClockedBroker()
	for _, id := range []string{"stale", "done", "paused"} {
		require.NoError(t, b.Enqueue(ctx, id, id))
		_, err := b.Claim(ctx, "w1")
		require.NoError(t, err)
	}
	require.NoError(t, b.Finish(ctx, "done", StateSuccess, "", nil))
	require.NoError(t, b.Finish(ctx, "paused", StatePaused, "", nil))

	clock.Advance(10 * time.Minute)
	n, err := b.RequeueStale(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	task, err := b.Get(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, StateRetry, task.State)
	assert.Empty(t, task.ClaimedBy)

	n, err = b.PurgeFinished(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.Advance(2 * time.Hour)
	n, err = b.PurgeFinished(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = b.Get(ctx, "done")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, err = b.Get(ctx, "paused")
	assert.NoError(t, err, "paused tasks wait for a resume")
}
