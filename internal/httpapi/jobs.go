package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ytget/ytjobs/internal/download"
	"github.com/ytget/ytjobs/internal/model"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 1 << 20

// DeleteResponse is returned by DELETE /jobs/{id}
type DeleteResponse struct {
	Status      string `json:"status"`
	JobID       string `json:"job_id"`
	FileDeleted bool   `json:"file_deleted"`
}

// ClearResponse is returned by DELETE /jobs
type ClearResponse struct {
	Status       string `json:"status"`
	JobsDeleted  int    `json:"jobs_deleted"`
	FilesDeleted bool   `json:"files_deleted"`
}

// PlaylistRequest starts one job per playlist item
type PlaylistRequest struct {
	URL          string `json:"url"`
	FormatString string `json:"format_string,omitempty"`
}

// PlaylistResponse reports the items of a started playlist and their jobs
type PlaylistResponse struct {
	Playlist *model.Playlist       `json:"playlist"`
	Summary  model.PlaylistSummary `json:"summary"`
	Jobs     []*model.Job          `json:"jobs"`
}

// StartJob handles POST /jobs/start
func (h *Handlers) StartJob(w http.ResponseWriter, r *http.Request) {
	var req download.StartRequest
	if err := decodeBody(w, r, &req); err != nil {
		WriteError(w, r, h.log, err)
		return
	}
	job, err := h.jobs.StartJob(r.Context(), req)
	if err != nil {
		WriteError(w, r, h.log, err)
		return
	}
	WriteJSON(w, h.log, http.StatusOK, job)
}

// ListJobs handles GET /jobs
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.ListJobs(r.Context())
	if err != nil {
		WriteError(w, r, h.log, err)
		return
	}
	WriteJSON(w, h.log, http.StatusOK, jobs)
}

// GetJob handles GET /jobs/{id}
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, h.log, err)
		return
	}
	WriteJSON(w, h.log, http.StatusOK, job)
}

// PauseJob handles POST /jobs/{id}/pause
func (h *Handlers) PauseJob(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.jobs.PauseJob)
}

// ResumeJob handles POST /jobs/{id}/resume
func (h *Handlers) ResumeJob(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.jobs.ResumeJob)
}

// CancelJob handles POST /jobs/{id}/cancel
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.jobs.CancelJob)
}

// DeleteJob handles DELETE /jobs/{id}?delete_file=
func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	deleteFile, err := boolQuery(r, "delete_file")
	if err != nil {
		WriteError(w, r, h.log, err)
		return
	}
	if err := h.jobs.DeleteJob(r.Context(), id, deleteFile); err != nil {
		WriteError(w, r, h.log, err)
		return
	}
	WriteJSON(w, h.log, http.StatusOK, DeleteResponse{Status: "deleted", JobID: id, FileDeleted: deleteFile})
}

// ClearJobs handles DELETE /jobs?delete_files=
func (h *Handlers) ClearJobs(w http.ResponseWriter, r *http.Request) {
	deleteFiles, err := boolQuery(r, "delete_files")
	if err != nil {
		WriteError(w, r, h.log, err)
		return
	}
	n, err := h.jobs.ClearAll(r.Context(), deleteFiles)
	if err != nil {
		WriteError(w, r, h.log, err)
		return
	}
	WriteJSON(w, h.log, http.StatusOK, ClearResponse{Status: "cleared", JobsDeleted: n, FilesDeleted: deleteFiles})
}

// DownloadFile handles GET /jobs/{id}/file
func (h *Handlers) DownloadFile(w http.ResponseWriter, r *http.Request) {
	path, err := h.jobs.ArtifactPath(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, h.log, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}

// StartPlaylist handles POST /playlists/start
func (h *Handlers) StartPlaylist(w http.ResponseWriter, r *http.Request) {
	if h.playlists == nil {
		WriteError(w, r, h.log, fmt.Errorf("%w: playlists are not supported", model.ErrInvalidInput))
		return
	}
	var req PlaylistRequest
	if err := decodeBody(w, r, &req); err != nil {
		WriteError(w, r, h.log, err)
		return
	}
	format := req.FormatString
	if format == "" {
		format = h.format
	}
	pl, err := h.jobs.StartPlaylist(r.Context(), h.playlists, req.URL, format)
	if err != nil {
		WriteError(w, r, h.log, err)
		return
	}
	jobs, err := h.jobs.Jobs(r.Context(), pl.JobIDs())
	if err != nil {
		WriteError(w, r, h.log, err)
		return
	}
	WriteJSON(w, h.log, http.StatusOK, PlaylistResponse{Playlist: pl, Summary: model.Summarize(jobs), Jobs: jobs})
}

func (h *Handlers) control(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) (*model.Job, error)) {
	job, err := fn(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, h.log, err)
		return
	}
	WriteJSON(w, h.log, http.StatusOK, job)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed JSON body: %v", model.ErrInvalidInput, err)
	}
	return nil
}

func boolQuery(r *http.Request, key string) (bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", model.ErrInvalidInput, key)
	}
	return v, nil
}
