package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ytget/ytjobs/internal/config"
	"github.com/ytget/ytjobs/internal/control"
	"github.com/ytget/ytjobs/internal/platform"
)

func newSweepCommand(rt *runtime) *cobra.Command {
	var (
		dryRun bool
		maxAge time.Duration
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove abandoned job workspaces",
		Long: `Remove job workspaces under DOWNLOAD_ROOT that have not changed for
longer than --max-age. Workspaces locked by a running job are skipped, and with
the distributed backend so is every workspace a live job still references.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if maxAge <= 0 {
				maxAge = rt.cfg.SweepMaxAge
			}
			return runSweep(cmd.Context(), cmd.OutOrStdout(), rt, maxAge, dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Only report what would be removed")
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "Override SWEEP_MAX_AGE")
	return cmd
}

func runSweep(ctx context.Context, out io.Writer, rt *runtime, maxAge time.Duration, dryRun bool) error {
	cfg, log := rt.cfg, rt.log

	keep := map[string]bool{}
	if cfg.Backend == config.BackendDistributed {
		store, err := control.NewEtcdStore(cfg.EtcdEndpoints, cfg.EtcdDialTimeout, cfg.ControlTTL)
		if err != nil {
			return fmt.Errorf("connect control store: %w", err)
		}
		defer store.Close()
		if keep, err = liveWorkspaces(ctx, store); err != nil {
			return err
		}
	}

	res, err := platform.SweepWorkspaces(ctx, platform.SweepOptions{
		Root:   cfg.DownloadRoot,
		MaxAge: maxAge,
		DryRun: dryRun,
		Keep:   keep,
	})
	if err != nil {
		return err
	}
	for _, e := range res.Errors {
		log.Warn().Err(e).Msg("sweep: workspace not removed")
	}

	verb := "removed"
	if dryRun {
		verb = "would remove"
	}
	for _, dir := range res.Removed {
		fmt.Fprintf(out, "%s %s\n", verb, dir)
	}
	fmt.Fprintf(out, "scanned %d, %s %d, %d bytes\n", res.Scanned, verb, len(res.Removed), res.BytesFreed)
	return nil
}

// liveWorkspaces returns the workspaces referenced by jobs still in the store
func liveWorkspaces(ctx context.Context, store control.Store) (map[string]bool, error) {
	ids, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		meta, err := store.Meta(ctx, id)
		if errors.Is(err, control.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load job %s: %w", id, err)
		}
		keep[filepath.Clean(meta.Workspace)] = true
		if meta.PausedDir != "" {
			keep[filepath.Clean(meta.PausedDir)] = true
		}
	}
	return keep, nil
}
