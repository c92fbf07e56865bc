package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ytget/ytjobs/internal/config"
	"github.com/ytget/ytjobs/internal/download"
	"github.com/ytget/ytjobs/internal/events"
	"github.com/ytget/ytjobs/internal/httpapi"
	"github.com/ytget/ytjobs/internal/platform"
	"github.com/ytget/ytjobs/internal/queue"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

func newServeCommand(rt *runtime) *cobra.Command {
	var (
		addr       string
		withWorker bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the job API",
		Long: `Serve the job API and the event stream.

With the embedded backend jobs run inside this process. With the distributed
backend they are queued for "ytjobs worker" processes unless --with-worker
is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				rt.cfg.HTTPAddr = addr
			}
			return runServe(cmd.Context(), rt, withWorker)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Override HTTP_ADDR")
	cmd.Flags().BoolVar(&withWorker, "with-worker", false, "Also consume the distributed queue in this process")
	return cmd
}

func runServe(ctx context.Context, rt *runtime, withWorker bool) error {
	cfg, log := rt.cfg, rt.log
	if err := platform.CreateDirectoryIfNotExists(cfg.DownloadRoot); err != nil {
		return err
	}

	hub := events.NewHub()
	g, ctx := errgroup.WithContext(ctx)

	var (
		backend download.Backend
		pool    *pgxpool.Pool
	)
	switch cfg.Backend {
	case config.BackendDistributed:
		d, err := openDistributed(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer d.Close()
		backend = queue.NewBackend(d.store, d.broker, log)
		pool = d.broker.Pool()

		if withWorker {
			w, err := newWorker(cfg, d, 0, log)
			if err != nil {
				return err
			}
			if f := newFinalizer(cfg, events.NewPostgresPublisher(pool), log); f != nil {
				w.OnDone(f.Observe)
				g.Go(func() error { return f.Run(ctx) })
			}
			g.Go(func() error { return w.Run(ctx) })
		}
	default:
		policy, err := download.ParseErrorPolicy(cfg.WorkspaceOnError, download.BackendEmbedded)
		if err != nil {
			return err
		}
		emb := download.NewEmbedded(newExecutor(cfg, log), download.EmbeddedOptions{
			ErrorPolicy: policy,
			PauseQueued: cfg.PauseQueued,
		}, log)
		backend = emb

		// Without a database the hub is the only channel.
		var pub events.Publisher = hub
		if cfg.DatabaseURL != "" {
			pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect event database: %w", err)
			}
			defer pool.Close()
			pub = events.NewPostgresPublisher(pool)
		}
		if f := newFinalizer(cfg, pub, log); f != nil {
			emb.SetUpdateCallback(f.Observe)
			g.Go(func() error { return f.Run(ctx) })
		}
	}

	if pool != nil {
		listener := events.NewPostgresListener(pool, hub, log)
		g.Go(func() error { return listener.Run(ctx) })
	}

	svc := download.NewService(backend, cfg.DownloadRoot, cfg.DefaultFormat(), log)
	defer func() {
		if err := svc.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close job backend")
		}
	}()

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Jobs:           svc,
			Playlists:      platform.NewPlaylistParser(),
			Hub:            hub,
			PlaylistFormat: cfg.DefaultFormat(),
			AllowedOrigins: cfg.AllowedOrigins,
			Log:            log,
		}),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Str("backend", backend.Name()).Msg("API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		// event streams only end when their channel closes
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to shutdown server")
		}
		return nil
	})

	err := g.Wait()
	log.Info().Msg("server stopped")
	return err
}
