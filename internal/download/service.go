package download

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ytget/ytjobs/internal/model"
	"github.com/ytget/ytjobs/internal/platform"
	"github.com/ytget/ytjobs/internal/progress"
)

// DefaultFormat is used when a start request names no format selector
const DefaultFormat = "bestvideo*+bestaudio/best"

// StartRequest carries the immutable inputs of a new job
type StartRequest struct {
	URL          string `json:"url"`
	FormatString string `json:"format_string"`
	Title        string `json:"title,omitempty"`
	Ext          string `json:"ext,omitempty"`
}

// PlaylistParser expands a playlist URL into items
type PlaylistParser interface {
	ParsePlaylist(ctx context.Context, url string) (*model.Playlist, error)
}

// Service is the job registry and lifecycle API
type Service struct {
	backend       Backend
	downloadRoot  string
	defaultFormat string
	log           zerolog.Logger
}

// NewService creates a new lifecycle service over backend
func NewService(backend Backend, downloadRoot, defaultFormat string, log zerolog.Logger) *Service {
	if defaultFormat == "" {
		defaultFormat = DefaultFormat
	}
	return &Service{
		backend:       backend,
		downloadRoot:  downloadRoot,
		defaultFormat: defaultFormat,
		log:           log.With().Str("component", "jobs").Logger(),
	}
}

// Backend returns the execution backend
func (s *Service) Backend() Backend { return s.backend }

// StartJob allocates an id and a workspace, stores a queued job and begins
// executing it. The returned record is the queued snapshot.
func (s *Service) StartJob(ctx context.Context, req StartRequest) (*model.Job, error) {
	if err := validateURL(req.URL); err != nil {
		return nil, err
	}
	format := strings.TrimSpace(req.FormatString)
	if format == "" {
		format = s.defaultFormat
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate job id: %w", err)
	}
	ws, err := platform.NewWorkspace(s.downloadRoot)
	if err != nil {
		return nil, err
	}

	job := model.NewJob(id.String(), req.URL, format, req.Title, req.Ext, ws)
	snap := job.Clone()
	if err := s.backend.Submit(ctx, job); err != nil {
		CleanupWorkspace(s.log, ws)
		return nil, fmt.Errorf("submit job: %w", err)
	}

	s.log.Info().Str("job_id", snap.ID).Str("url", snap.URL).Str("format", format).Msg("job started")
	return snap, nil
}

// GetJob returns a snapshot of one job
func (s *Service) GetJob(ctx context.Context, id string) (*model.Job, error) {
	return s.backend.Get(ctx, id)
}

// ListJobs returns all known jobs, newest first
func (s *Service) ListJobs(ctx context.Context) ([]*model.Job, error) {
	jobs, err := s.backend.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].ID > jobs[j].ID })
	return jobs, nil
}

// PauseJob requests a pause; it only takes effect while downloading
func (s *Service) PauseJob(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.backend.Pause(ctx, id)
	if err == nil {
		s.log.Info().Str("job_id", id).Str("status", job.Status.String()).Msg("pause requested")
	}
	return job, err
}

// ResumeJob re-queues a paused job with the same id and workspace
func (s *Service) ResumeJob(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.backend.Resume(ctx, id)
	if err == nil {
		s.log.Info().Str("job_id", id).Str("status", job.Status.String()).Msg("resume requested")
	}
	return job, err
}

// CancelJob requests cancellation of a non-terminal job
func (s *Service) CancelJob(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.backend.Cancel(ctx, id)
	if err == nil {
		s.log.Info().Str("job_id", id).Str("status", job.Status.String()).Msg("cancel requested")
	}
	return job, err
}

// DeleteJob forgets a job. The workspace is kept unless deleteFiles is set.
func (s *Service) DeleteJob(ctx context.Context, id string, deleteFiles bool) error {
	job, err := s.backend.Delete(ctx, id, deleteFiles)
	if err != nil {
		return err
	}
	s.log.Info().Str("job_id", id).Str("status", job.Status.String()).Bool("delete_files", deleteFiles).Msg("job deleted")
	return nil
}

// ClearAll deletes every known job and returns how many were removed
func (s *Service) ClearAll(ctx context.Context, deleteFiles bool) (int, error) {
	jobs, err := s.backend.List(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, j := range jobs {
		if err := s.DeleteJob(ctx, j.ID, deleteFiles); err != nil {
			if errors.Is(err, model.ErrNotFound) {
				continue
			}
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// ArtifactPath returns the finished file of a done job
func (s *Service) ArtifactPath(ctx context.Context, id string) (string, error) {
	job, err := s.backend.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if job.Status != model.StatusDone {
		return "", fmt.Errorf("%w: status is %s", model.ErrConflict, job.Status)
	}
	if job.Filename != "" && platform.WorkspaceExists(job.Workspace) {
		if path, ferr := platform.FindFileWithFallback(job.Filename); ferr == nil {
			return path, nil
		}
	}
	art, err := progress.Locate(job.Workspace, job.Filename)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrNotFound, err)
	}
	return art.Path, nil
}

// StartPlaylist expands a playlist and starts one job per item.
// Items that fail to start carry their error; the rest are submitted.
func (s *Service) StartPlaylist(ctx context.Context, parser PlaylistParser, playlistURL, format string) (*model.Playlist, error) {
	if !platform.IsPlaylistURL(playlistURL) {
		return nil, fmt.Errorf("%w: not a playlist URL", model.ErrInvalidInput)
	}
	pl, err := parser.ParsePlaylist(ctx, playlistURL)
	if err != nil {
		return nil, err
	}
	for _, item := range pl.Items {
		job, err := s.StartJob(ctx, StartRequest{URL: item.URL, FormatString: format, Title: item.Title})
		if err != nil {
			item.Error = err.Error()
			s.log.Warn().Err(err).Str("video_id", item.VideoID).Msg("playlist item not started")
			continue
		}
		item.JobID = job.ID
	}
	s.log.Info().Str("playlist_id", pl.ID).Int("items", len(pl.Items)).Msg("playlist started")
	return pl, nil
}

// Jobs returns snapshots for the given ids, skipping unknown ones
func (s *Service) Jobs(ctx context.Context, ids []string) ([]*model.Job, error) {
	out := make([]*model.Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.backend.Get(ctx, id)
		if errors.Is(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

// Close releases the backend
func (s *Service) Close() error {
	return s.backend.Close()
}

func validateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%w: url is required", model.ErrInvalidInput)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url must be an absolute http(s) URL", model.ErrInvalidInput)
	}
	return nil
}
