package finalize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ytget/ytjobs/internal/events"
	"github.com/ytget/ytjobs/internal/model"
	"github.com/ytget/ytjobs/internal/platform"
)

// Coarse progress milestones reported while finalizing
const (
	PercentStarted   = 10
	PercentImported  = 40
	PercentThumbnail = 70
	PercentCataloged = 90
)

// ManifestSuffix names the catalog sidecar written next to an imported file
const ManifestSuffix = ".json"

// queueSize bounds how many finished jobs may wait for finalization
const queueSize = 64

// Entry describes one imported library item
type Entry struct {
	CatalogID  string    `json:"catalog_id"`
	JobID      string    `json:"job_id"`
	Title      string    `json:"title"`
	SourceURL  string    `json:"source_url"`
	File       string    `json:"file"`
	Thumbnail  string    `json:"thumbnail,omitempty"`
	Size       int64     `json:"size"`
	ImportedAt time.Time `json:"imported_at"`
}

// Finalizer imports finished jobs into the library
type Finalizer struct {
	libraryDir string
	pub        events.Publisher
	thumbs     *Thumbnailer
	log        zerolog.Logger
	newID      func() string

	mu    sync.Mutex
	seen  map[string]bool
	queue chan *model.Job
}

// New creates a finalizer writing to libraryDir
func New(libraryDir string, pub events.Publisher, thumbs *Thumbnailer, log zerolog.Logger) *Finalizer {
	if thumbs == nil {
		thumbs = NewThumbnailer()
	}
	return &Finalizer{
		libraryDir: libraryDir,
		pub:        pub,
		thumbs:     thumbs,
		log:        log.With().Str("component", "finalize").Logger(),
		newID:      uuid.NewString,
		seen:       make(map[string]bool),
		queue:      make(chan *model.Job, queueSize),
	}
}

// Observe queues a job for finalization unless it is already pending.
// It never blocks; it is safe to use as a backend update callback.
func (f *Finalizer) Observe(job *model.Job) {
	if job == nil || job.Status != model.StatusDone {
		return
	}
	f.mu.Lock()
	if f.seen[job.ID] {
		f.mu.Unlock()
		return
	}
	f.seen[job.ID] = true
	f.mu.Unlock()

	select {
	case f.queue <- job.Clone():
	default:
		f.forget(job.ID)
		f.log.Warn().Str("job_id", job.ID).Msg("finalize: queue full, job skipped")
	}
}

// Run finalizes queued jobs until ctx is canceled
func (f *Finalizer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-f.queue:
			if _, err := f.Finalize(ctx, job); err != nil {
				f.log.Error().Err(err).Str("job_id", job.ID).Msg("finalize: job not imported")
			}
			f.forget(job.ID)
		}
	}
}

func (f *Finalizer) forget(jobID string) {
	f.mu.Lock()
	delete(f.seen, jobID)
	f.mu.Unlock()
}

// Finalize imports one finished job and publishes its events
func (f *Finalizer) Finalize(ctx context.Context, job *model.Job) (*Entry, error) {
	catalogID := f.newID()
	log := f.log.With().Str("job_id", job.ID).Str("catalog_id", catalogID).Logger()

	f.publish(ctx, log, model.Event{Type: model.EventStarted, CatalogID: catalogID, JobID: job.ID})
	f.publish(ctx, log, model.NewProgressEvent(catalogID, job.ID, PercentStarted))

	entry, err := f.importJob(ctx, log, catalogID, job)
	if err != nil {
		f.publish(ctx, log, model.Event{Type: model.EventError, CatalogID: catalogID, JobID: job.ID, Error: err.Error()})
		return nil, err
	}

	f.publish(ctx, log, model.Event{Type: model.EventComplete, CatalogID: catalogID, JobID: job.ID})
	log.Info().Str("file", entry.File).Msg("finalize: imported")
	return entry, nil
}

func (f *Finalizer) importJob(ctx context.Context, log zerolog.Logger, catalogID string, job *model.Job) (*Entry, error) {
	if job.Filename == "" {
		return nil, errors.New("job has no artifact")
	}
	if err := platform.CreateDirectoryIfNotExists(f.libraryDir); err != nil {
		return nil, fmt.Errorf("create library dir: %w", err)
	}

	dest := filepath.Join(f.libraryDir, catalogID+filepath.Ext(job.Filename))
	size, err := importFile(job.Filename, dest)
	if err != nil {
		return nil, err
	}
	f.publish(ctx, log, model.NewProgressEvent(catalogID, job.ID, PercentImported))

	thumb, err := f.thumbs.Generate(ctx, dest)
	if err != nil {
		log.Warn().Err(err).Msg("finalize: thumbnail skipped")
	}
	f.publish(ctx, log, model.NewProgressEvent(catalogID, job.ID, PercentThumbnail))

	entry := &Entry{
		CatalogID:  catalogID,
		JobID:      job.ID,
		Title:      job.GetDisplayTitle(),
		SourceURL:  job.URL,
		File:       dest,
		Thumbnail:  thumb,
		Size:       size,
		ImportedAt: time.Now().UTC(),
	}
	if err := writeManifest(filepath.Join(f.libraryDir, catalogID+ManifestSuffix), entry); err != nil {
		_ = os.Remove(dest)
		return nil, err
	}
	f.publish(ctx, log, model.NewProgressEvent(catalogID, job.ID, PercentCataloged))
	return entry, nil
}

// publish never fails the import; notification delivery is best-effort
func (f *Finalizer) publish(ctx context.Context, log zerolog.Logger, ev model.Event) {
	if f.pub == nil {
		return
	}
	if err := f.pub.Publish(ctx, ev); err != nil {
		log.Debug().Err(err).Str("type", string(ev.Type)).Msg("finalize: publish failed")
	}
}

// importFile links src into dest, copying when a link is impossible
func importFile(src, dest string) (int64, error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, fmt.Errorf("artifact not found: %w", err)
	}
	if err := os.Link(src, dest); err == nil {
		return info.Size(), nil
	}

	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create library file: %w", err)
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dest)
		return 0, fmt.Errorf("copy artifact: %w", err)
	}
	return n, nil
}

func writeManifest(path string, entry *Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
