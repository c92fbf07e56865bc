package progress

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ytget/ytjobs/internal/model"
	"github.com/ytget/ytjobs/internal/transfer"
)

// Target is the job record a reporter writes to.
// Observe reads the pending control signal and, only when none is pending,
// applies fn to the record atomically with that read.
type Target interface {
	Observe(ctx context.Context, fn func(*model.Job)) (model.Signal, error)
}

// Reporter checks control signals and applies updates at every checkpoint
type Reporter struct {
	target Target
	log    zerolog.Logger
}

// NewReporter creates a reporter for one execution attempt
func NewReporter(target Target, log zerolog.Logger) *Reporter {
	return &Reporter{target: target, log: log}
}

// Begin is the pickup checkpoint that moves the job from queued to downloading
func (r *Reporter) Begin(ctx context.Context) error {
	return r.observe(ctx, func(j *model.Job) {
		j.SetStatus(model.StatusDownloading)
	})
}

// Checkpoint handles one engine update; it returns model.ErrPaused or
// model.ErrCanceled when the job must stop.
func (r *Reporter) Checkpoint(ctx context.Context, u transfer.Update) error {
	return r.observe(ctx, func(j *model.Job) {
		Apply(j, u)
	})
}

// Complete is the last checkpoint; it records the artifact located on disk
func (r *Reporter) Complete(ctx context.Context, art Artifact, title string) error {
	return r.observe(ctx, func(j *model.Job) {
		Finish(j, art, title)
	})
}

// ProgressFunc adapts the reporter to the engine callback
func (r *Reporter) ProgressFunc(ctx context.Context) transfer.ProgressFunc {
	return func(u transfer.Update) error {
		return r.Checkpoint(ctx, u)
	}
}

func (r *Reporter) observe(ctx context.Context, fn func(*model.Job)) error {
	sig, err := r.target.Observe(ctx, fn)
	if err != nil {
		// signals are best effort; keep transferring if the store is unreachable
		r.log.Warn().Err(err).Msg("checkpoint: control signals unavailable")
		return nil
	}
	if sig != model.SignalNone {
		r.log.Info().Str("signal", signalName(sig)).Msg("checkpoint: signal observed")
	}
	return sig.Err()
}

func signalName(s model.Signal) string {
	switch s {
	case model.SignalPause:
		return "pause"
	case model.SignalCancel:
		return "cancel"
	default:
		return "none"
	}
}
