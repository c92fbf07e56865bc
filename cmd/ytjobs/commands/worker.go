package commands

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ytget/ytjobs/internal/events"
	"github.com/ytget/ytjobs/internal/platform"
)

func newWorkerCommand(rt *runtime) *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume the distributed job queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), rt, concurrency)
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Override WORKER_CONCURRENCY")
	return cmd
}

func runWorker(ctx context.Context, rt *runtime, concurrency int) error {
	cfg, log := rt.cfg, rt.log
	if err := platform.CreateDirectoryIfNotExists(cfg.DownloadRoot); err != nil {
		return err
	}

	d, err := openDistributed(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer d.Close()

	w, err := newWorker(cfg, d, concurrency, log)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if f := newFinalizer(cfg, events.NewPostgresPublisher(d.broker.Pool()), log); f != nil {
		w.OnDone(f.Observe)
		g.Go(func() error { return f.Run(ctx) })
	}
	g.Go(func() error { return w.Run(ctx) })
	return g.Wait()
}
