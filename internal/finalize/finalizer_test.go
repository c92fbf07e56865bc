package finalize

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ytget/ytjobs/internal/model"
)

type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) Publish(_ context.Context, ev model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) snapshot() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Event(nil), r.events...)
}

func newTestFinalizer(t *testing.T) (*Finalizer, *recorder, string) {
	t.Helper()
	th := NewThumbnailer()
	th.FFmpeg = "ytjobs-no-such-ffmpeg"
	th.FFprobe = "ytjobs-no-such-ffprobe"

	rec := &recorder{}
	lib := filepath.Join(t.TempDir(), "library")
	f := New(lib, rec, th, zerolog.Nop())
	f.newID = func() string { return "cat-1" }
	return f, rec, lib
}

func doneJob(t *testing.T) *model.Job {
	t.Helper()
	ws := t.TempDir()
	path := filepath.Join(ws, "clip.mp4")
	require.NoError(t, os.WriteFile(path, make([]byte, 300), 0o644))
	job := model.NewJob("job-1", "https://example.com/v", "18", "Clip", "mp4", ws)
	job.Status = model.StatusDone
	job.Filename = path
	return job
}

func percents(evs []model.Event) []int {
	var out []int
	for _, ev := range evs {
		if ev.Type == model.EventProgress && ev.Percent != nil {
			out = append(out, *ev.Percent)
		}
	}
	return out
}

func TestFinalize_ImportsAndPublishes(t *testing.T) {
	f, rec, lib := newTestFinalizer(t)
	job := doneJob(t)

	entry, err := f.Finalize(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(lib, "cat-1.mp4"), entry.File)
	assert.Equal(t, int64(300), entry.Size)
	assert.Empty(t, entry.Thumbnail)
	assert.Equal(t, "Clip", entry.Title)
	assert.FileExists(t, entry.File)
	assert.FileExists(t, job.Filename, "the job artifact stays downloadable")

	data, err := os.ReadFile(filepath.Join(lib, "cat-1.json"))
	require.NoError(t, err)
	var manifest Entry
	require.NoError(t, json.Unmarshal(data, &manifest))
	assert.Equal(t, "job-1", manifest.JobID)
	assert.Equal(t, "https://example.com/v", manifest.SourceURL)

	evs := rec.snapshot()
	require.NotEmpty(t, evs)
	assert.Equal(t, model.EventStarted, evs[0].Type)
	assert.Equal(t, model.EventComplete, evs[len(evs)-1].Type)
	assert.Equal(t, []int{10, 40, 70, 90}, percents(evs))
	for _, ev := range evs {
		assert.Equal(t, "cat-1", ev.CatalogID)
		assert.Equal(t, "job-1", ev.JobID)
	}
}

func TestFinalize_MissingArtifactPublishesError(t *testing.T) {
	f, rec, _ := newTestFinalizer(t)
	job := doneJob(t)
	require.NoError(t, os.Remove(job.Filename))

	_, err := f.Finalize(context.Background(), job)
	require.Error(t, err)

	evs := rec.snapshot()
	require.NotEmpty(t, evs)
	last := evs[len(evs)-1]
	assert.Equal(t, model.EventError, last.Type)
	assert.NotEmpty(t, last.Error)
	assert.Equal(t, []int{10}, percents(evs))
}

func (f *Finalizer) pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

func countStarted(evs []model.Event) int {
	n := 0
	for _, ev := range evs {
		if ev.Type == model.EventStarted {
			n++
		}
	}
	return n
}

func TestObserve_FinalizesEachDoneJobOnce(t *testing.T) {
	f, rec, _ := newTestFinalizer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job := doneJob(t)
	running := job.Clone()
	running.Status = model.StatusDownloading

	f.Observe(running)
	f.Observe(job)
	f.Observe(job)
	assert.Equal(t, 1, f.pending())

	go func() { _ = f.Run(ctx) }()

	require.Eventually(t, func() bool {
		evs := rec.snapshot()
		return len(evs) > 0 && evs[len(evs)-1].Type == model.EventComplete
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, countStarted(rec.snapshot()))
}

func TestObserve_ForgetsFinalizedJobs(t *testing.T) {
	f, rec, _ := newTestFinalizer(t)
	n := 0
	f.newID = func() string {
		n++
		return "cat-" + string(rune('0'+n))
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.Run(ctx) }()

	job := doneJob(t)
	f.Observe(job)
	require.Eventually(t, func() bool {
		return countStarted(rec.snapshot()) == 1 && f.pending() == 0
	}, 2*time.Second, 5*time.Millisecond)

	// a restarted job that finishes again is imported again
	f.Observe(job)
	require.Eventually(t, func() bool {
		return countStarted(rec.snapshot()) == 2 && f.pending() == 0
	}, 2*time.Second, 5*time.Millisecond)
}
