package progress

import (
	"time"

	"github.com/ytget/ytjobs/internal/model"
	"github.com/ytget/ytjobs/internal/transfer"
)

// FinishedProgress is reported once the streams are on disk and only
// container finalization remains.
const FinishedProgress = 0.95

// Apply folds one engine update into job.
// Byte counters are replaced, never accumulated, because merged streams
// restart the engine counters. Progress never decreases within one
// downloading phase for an unchanged total.
func Apply(job *model.Job, u transfer.Update) {
	defer func() { job.UpdatedAt = time.Now() }()

	if u.Title != "" && job.Title == "" {
		job.Title = u.Title
	}

	if u.Phase == transfer.PhaseFinished {
		job.SetStatus(model.StatusMerging)
		job.Progress = FinishedProgress
		if u.FilenameHint != "" {
			job.Filename = u.FilenameHint
		}
		return
	}

	newPhase := job.Status != model.StatusDownloading
	job.SetStatus(model.StatusDownloading)

	newTotal := false
	if u.TotalBytes != nil && *u.TotalBytes > 0 {
		if job.TotalBytes == nil || *job.TotalBytes != *u.TotalBytes {
			newTotal = true
		}
		total := *u.TotalBytes
		job.TotalBytes = &total
	}

	job.DownloadedBytes = u.DownloadedBytes
	job.SpeedBPS = u.SpeedBPS
	job.ETASeconds = u.ETASeconds
	if u.FilenameHint != "" {
		job.Filename = u.FilenameHint
	}

	if job.TotalBytes == nil || *job.TotalBytes <= 0 {
		return
	}
	p := clamp(float64(u.DownloadedBytes)/float64(*job.TotalBytes), 0, 1)
	if newPhase || newTotal || p >= job.Progress {
		job.Progress = p
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
