package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ytget/ytjobs/internal/config"
	"github.com/ytget/ytjobs/internal/control"
	"github.com/ytget/ytjobs/internal/download"
	"github.com/ytget/ytjobs/internal/events"
	"github.com/ytget/ytjobs/internal/finalize"
	"github.com/ytget/ytjobs/internal/queue"
	"github.com/ytget/ytjobs/internal/transfer"
)

func newExecutor(cfg *config.Config, log zerolog.Logger) *download.Executor {
	return download.NewExecutor(transfer.NewYTDLP(), download.ExecutorConfig{
		OutputTemplate: cfg.OutputTemplate,
		MergeFormat:    cfg.MergeFormat,
		CookiesDir:     cfg.CookiesPath,
	}, log)
}

// distributed holds the shared stores of the distributed backend
type distributed struct {
	store  *control.EtcdStore
	broker *queue.PostgresBroker
}

func openDistributed(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*distributed, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for the distributed backend")
	}
	store, err := control.NewEtcdStore(cfg.EtcdEndpoints, cfg.EtcdDialTimeout, cfg.ControlTTL)
	if err != nil {
		return nil, fmt.Errorf("connect control store: %w", err)
	}
	broker, err := queue.NewPostgresBroker(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("connect broker: %w", err)
	}
	if err := broker.Migrate(ctx); err != nil {
		broker.Close()
		_ = store.Close()
		return nil, fmt.Errorf("migrate broker: %w", err)
	}
	log.Info().Strs("etcd", cfg.EtcdEndpoints).Msg("distributed backend ready")
	return &distributed{store: store, broker: broker}, nil
}

func (d *distributed) Close() {
	d.broker.Close()
	_ = d.store.Close()
}

func newWorker(cfg *config.Config, d *distributed, concurrency int, log zerolog.Logger) (*queue.Worker, error) {
	policy, err := download.ParseErrorPolicy(cfg.WorkspaceOnError, download.BackendDistributed)
	if err != nil {
		return nil, err
	}
	if concurrency <= 0 {
		concurrency = cfg.WorkerConcurrency
	}
	return queue.NewWorker(queue.WorkerConfig{
		Concurrency:      concurrency,
		PollInterval:     cfg.PollInterval,
		SoftTimeLimit:    cfg.SoftTimeLimit,
		HardTimeLimit:    cfg.HardTimeLimit,
		MaxTasksPerChild: cfg.MaxTasksPerChild,
		MaxRetries:       cfg.MaxRetries,
		RetryBackoff:     cfg.RetryBackoff,
		ResultExpiry:     cfg.ControlTTL,
		ErrorPolicy:      policy,
	}, d.broker, d.store, newExecutor(cfg, log), log), nil
}

// newFinalizer returns nil when post-processing is disabled
func newFinalizer(cfg *config.Config, pub events.Publisher, log zerolog.Logger) *finalize.Finalizer {
	if !cfg.FinalizeEnabled {
		return nil
	}
	return finalize.New(cfg.LibraryDir, pub, finalize.NewThumbnailer(), log)
}
