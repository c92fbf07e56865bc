package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ytget/ytjobs/internal/model"
	"github.com/ytget/ytjobs/internal/transfer"
)

func i64(v int64) *int64 { return &v }

func downloading(done int64, total *int64) transfer.Update {
	return transfer.Update{Phase: transfer.PhaseDownloading, DownloadedBytes: done, TotalBytes: total}
}

func TestApply_ReplacesCounters(t *testing.T) {
	job := model.NewJob("j", "u", "best", "", "", "/ws")

	Apply(job, downloading(100, i64(1000)))
	Apply(job, downloading(300, i64(1000)))

	assert.Equal(t, model.StatusDownloading, job.Status)
	assert.Equal(t, int64(300), job.DownloadedBytes)
	assert.Equal(t, int64(1000), *job.TotalBytes)
	assert.InDelta(t, 0.3, job.Progress, 1e-9)
}

func TestApply_UnknownTotalLeavesProgress(t *testing.T) {
	job := model.NewJob("j", "u", "best", "", "", "/ws")

	Apply(job, downloading(100, nil))
	assert.Equal(t, int64(100), job.DownloadedBytes)
	assert.Nil(t, job.TotalBytes)
	assert.Zero(t, job.Progress)

	Apply(job, downloading(500, i64(1000)))
	Apply(job, downloading(600, nil))
	assert.Equal(t, int64(1000), *job.TotalBytes, "total kept when engine omits it")
	assert.InDelta(t, 0.6, job.Progress, 1e-9)
}

func TestApply_ClampsAndNeverDecreasesWithinPhase(t *testing.T) {
	job := model.NewJob("j", "u", "best", "", "", "/ws")

	Apply(job, downloading(800, i64(1000)))
	Apply(job, downloading(700, i64(1000)))
	assert.InDelta(t, 0.8, job.Progress, 1e-9, "progress must not go backwards")
	assert.Equal(t, int64(700), job.DownloadedBytes, "counters are still replaced")

	Apply(job, downloading(1500, i64(1000)))
	assert.Equal(t, 1.0, job.Progress)
}

func TestApply_FinishedPinsNearComplete(t *testing.T) {
	job := model.NewJob("j", "u", "137+140", "", "", "/ws")

	Apply(job, downloading(400, i64(1000)))
	Apply(job, transfer.Update{Phase: transfer.PhaseFinished, DownloadedBytes: 1000, FilenameHint: "/ws/a.f137.mp4"})

	assert.Equal(t, model.StatusMerging, job.Status)
	assert.Equal(t, FinishedProgress, job.Progress)
	assert.Equal(t, int64(400), job.DownloadedBytes, "finished phase leaves byte counters alone")
	assert.Equal(t, "/ws/a.f137.mp4", job.Filename)
}

func TestApply_NextStreamStartsNewPhase(t *testing.T) {
	job := model.NewJob("j", "u", "137+140", "", "", "/ws")

	Apply(job, downloading(1000, i64(1000)))
	Apply(job, transfer.Update{Phase: transfer.PhaseFinished})
	Apply(job, downloading(50, i64(200)))

	assert.Equal(t, model.StatusDownloading, job.Status)
	assert.Equal(t, int64(50), job.DownloadedBytes)
	assert.Equal(t, int64(200), *job.TotalBytes)
	assert.InDelta(t, 0.25, job.Progress, 1e-9)
}

func TestApply_ReplacesRateMetricsAndTitle(t *testing.T) {
	job := model.NewJob("j", "u", "best", "", "", "/ws")
	speed := 2048.0

	Apply(job, transfer.Update{Phase: transfer.PhaseDownloading, DownloadedBytes: 1, SpeedBPS: &speed, ETASeconds: i64(9), Title: "Clip"})
	assert.Equal(t, 2048.0, *job.SpeedBPS)
	assert.Equal(t, int64(9), *job.ETASeconds)
	assert.Equal(t, "Clip", job.Title)

	Apply(job, downloading(2, nil))
	assert.Nil(t, job.SpeedBPS)
	assert.Nil(t, job.ETASeconds)
}
