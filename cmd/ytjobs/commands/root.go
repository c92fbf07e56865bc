// Package commands implements the ytjobs command line
package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ytget/ytjobs/internal/config"
	"github.com/ytget/ytjobs/internal/logging"
)

const cliExecutable = "ytjobs"

// runtime is shared by every subcommand once the root pre-run loaded it
type runtime struct {
	cfg *config.Config
	log zerolog.Logger
}

// NewCommand constructs the top-level ytjobs command. Configuration comes
// from the environment and .env files; flags override a few keys.
func NewCommand() *cobra.Command {
	var (
		rt       runtime
		logLevel string
		backend  string
	)

	cmd := &cobra.Command{
		Use:   cliExecutable,
		Short: "ytjobs runs and tracks resumable media download jobs",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if backend != "" {
				cfg.Backend = backend
				if err := cfg.Validate(); err != nil {
					return fmt.Errorf("invalid config: %w", err)
				}
			}
			rt.cfg = cfg
			rt.log = logging.New(cfg.AppEnv, cfg.LogLevel)
			return nil
		},
	}

	cmd.SilenceUsage = true

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override LOG_LEVEL")
	cmd.PersistentFlags().StringVar(&backend, "backend", "", "Override JOB_BACKEND (embedded or distributed)")

	cmd.AddCommand(newServeCommand(&rt))
	cmd.AddCommand(newWorkerCommand(&rt))
	cmd.AddCommand(newSweepCommand(&rt))

	return cmd
}
