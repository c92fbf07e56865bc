package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/ytget/ytjobs/internal/download"
	"github.com/ytget/ytjobs/internal/events"
)

// Deps holds the dependencies of the HTTP handlers
type Deps struct {
	Jobs      *download.Service
	Playlists download.PlaylistParser
	Hub       *events.Hub

	// PlaylistFormat is used for playlist items when the request names none.
	PlaylistFormat string
	AllowedOrigins []string
	Log            zerolog.Logger
}

// Handlers serves the job API
type Handlers struct {
	jobs      *download.Service
	playlists download.PlaylistParser
	hub       *events.Hub
	format    string
	log       zerolog.Logger
}

// NewRouter wires routes, middleware and CORS
func NewRouter(deps Deps) http.Handler {
	h := &Handlers{
		jobs:      deps.Jobs,
		playlists: deps.Playlists,
		hub:       deps.Hub,
		format:    deps.PlaylistFormat,
		log:       deps.Log.With().Str("component", "api").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, h.requestLogger)

	r.Get("/healthz", HealthzHandler)

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", h.ListJobs)
		r.Delete("/", h.ClearJobs)
		r.Post("/start", h.StartJob)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetJob)
			r.Delete("/", h.DeleteJob)
			r.Post("/pause", h.PauseJob)
			r.Post("/resume", h.ResumeJob)
			r.Post("/cancel", h.CancelJob)
			r.Get("/file", h.DownloadFile)
		})
	})
	r.Post("/playlists/start", h.StartPlaylist)

	if h.hub != nil {
		r.Get("/events", h.StreamEvents)
	}

	if len(deps.AllowedOrigins) == 0 {
		return r
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   deps.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

// HealthzHandler reports liveness
func HealthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handlers) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
