package download

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ytget/ytjobs/internal/model"
	"github.com/ytget/ytjobs/internal/platform"
	"github.com/ytget/ytjobs/internal/progress"
	"github.com/ytget/ytjobs/internal/transfer"
)

var timeNow = time.Now

// ExecutorConfig tunes how requests are handed to the engine
type ExecutorConfig struct {
	OutputTemplate string
	MergeFormat    string
	CookiesDir     string
}

// Executor performs one execution attempt of a job
type Executor struct {
	engine transfer.Engine
	cfg    ExecutorConfig
	log    zerolog.Logger
}

// NewExecutor creates an executor around engine
func NewExecutor(engine transfer.Engine, cfg ExecutorConfig, log zerolog.Logger) *Executor {
	return &Executor{engine: engine, cfg: cfg, log: log}
}

// Run transfers the job described by job into its workspace, reporting to
// target at every checkpoint, and classifies how the attempt ended.
func (x *Executor) Run(ctx context.Context, job *model.Job, target progress.Target) model.Outcome {
	log := x.log.With().Str("job_id", job.ID).Logger()
	rep := progress.NewReporter(target, log)

	if err := rep.Begin(ctx); err != nil {
		return model.OutcomeFromError(err, false)
	}

	req := transfer.Request{
		URL:            platform.NormalizeVideoURL(job.URL),
		Format:         job.FormatString,
		Workspace:      job.Workspace,
		OutputTemplate: x.cfg.OutputTemplate,
		MergeFormat:    x.cfg.MergeFormat,
		CookiesFile:    platform.CookiesFor(x.cfg.CookiesDir, job.URL),
	}
	log.Info().Str("url", req.URL).Str("format", req.Format).Msg("executor: transfer started")

	art, err := x.engine.Transfer(ctx, req, rep.ProgressFunc(ctx))
	if err != nil {
		outcome := model.OutcomeFromError(err, transfer.IsTransient(err))
		if outcome.Kind == model.OutcomeFailed {
			log.Error().Err(err).Bool("transient", outcome.Transient).Msg("executor: transfer failed")
		} else {
			log.Info().Str("outcome", outcome.Kind.String()).Msg("executor: transfer stopped")
		}
		return outcome
	}

	located, err := progress.Locate(job.Workspace, art.Filename)
	if err != nil {
		log.Error().Err(err).Msg("executor: reconcile failed")
		return model.Failed(err, false)
	}
	if err := rep.Complete(ctx, located, art.Title); err != nil {
		return model.OutcomeFromError(err, false)
	}

	log.Info().Str("filename", located.Path).Int64("bytes", located.Size).Msg("executor: transfer complete")
	return model.Succeeded()
}
