package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ytget/ytjobs/internal/control"
	"github.com/ytget/ytjobs/internal/download"
	"github.com/ytget/ytjobs/internal/model"
	"github.com/ytget/ytjobs/internal/platform"
)

// Worker defaults
const (
	DefaultConcurrency      = 2
	DefaultPollInterval     = 2 * time.Second
	DefaultSoftTimeLimit    = 50 * time.Minute
	DefaultHardTimeLimit    = time.Hour
	DefaultMaxTasksPerChild = 50
	DefaultMaxRetries       = 3
	DefaultRetryBackoff     = 30 * time.Second
	DefaultHeartbeat        = 30 * time.Second
	DefaultStaleAfter       = 5 * time.Minute
	// DefaultResultExpiry bounds how long final task records are kept
	DefaultResultExpiry = 24 * time.Hour
)

var (
	errSoftTimeLimit = errors.New("soft time limit exceeded")
	errHardTimeLimit = errors.New("hard time limit exceeded")
)

// WorkerConfig tunes a worker pool
type WorkerConfig struct {
	ID               string
	Concurrency      int
	PollInterval     time.Duration
	SoftTimeLimit    time.Duration
	HardTimeLimit    time.Duration
	MaxTasksPerChild int
	MaxRetries       int
	RetryBackoff     time.Duration
	Heartbeat        time.Duration
	StaleAfter       time.Duration
	ResultExpiry     time.Duration
	ErrorPolicy      download.ErrorPolicy
}

func (c *WorkerConfig) setDefaults() {
	if c.ID == "" {
		host, _ := os.Hostname()
		c.ID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.SoftTimeLimit <= 0 {
		c.SoftTimeLimit = DefaultSoftTimeLimit
	}
	if c.HardTimeLimit <= 0 {
		c.HardTimeLimit = DefaultHardTimeLimit
	}
	if c.MaxTasksPerChild <= 0 {
		c.MaxTasksPerChild = DefaultMaxTasksPerChild
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = DefaultHeartbeat
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.ResultExpiry <= 0 {
		c.ResultExpiry = DefaultResultExpiry
	}
	if c.ErrorPolicy == "" {
		c.ErrorPolicy = download.DefaultErrorPolicy(download.BackendDistributed)
	}
}

// Worker is a pool of execution slots pulling tasks from the broker
type Worker struct {
	cfg    WorkerConfig
	broker Broker
	store  control.Store
	exec   *download.Executor
	log    zerolog.Logger

	mu     sync.Mutex
	onDone func(*model.Job)
}

// NewWorker creates a worker pool
func NewWorker(cfg WorkerConfig, broker Broker, store control.Store, exec *download.Executor, log zerolog.Logger) *Worker {
	cfg.setDefaults()
	return &Worker{
		cfg:    cfg,
		broker: broker,
		store:  store,
		exec:   exec,
		log:    log.With().Str("component", "worker").Str("worker_id", cfg.ID).Logger(),
	}
}

// OnDone sets the hook invoked with the final record of every job that
// reached done
func (w *Worker) OnDone(fn func(*model.Job)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onDone = fn
}

// Run executes tasks until ctx is canceled. Each slot is replaced by a
// fresh one after MaxTasksPerChild tasks.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Int("concurrency", w.cfg.Concurrency).Msg("worker: started")

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			for ctx.Err() == nil {
				n := w.runSlot(ctx, slot)
				if ctx.Err() == nil {
					w.log.Debug().Int("slot", slot).Int("tasks", n).Msg("worker: slot recycled")
				}
			}
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.janitor(ctx)
	}()

	wg.Wait()
	w.log.Info().Msg("worker: stopped")
	return nil
}

// runSlot processes up to MaxTasksPerChild tasks and returns how many it ran
func (w *Worker) runSlot(ctx context.Context, slot int) int {
	processed := 0
	for processed < w.cfg.MaxTasksPerChild {
		task, err := w.broker.Claim(ctx, w.cfg.ID)
		if err != nil {
			if !errors.Is(err, ErrNoTask) && ctx.Err() == nil {
				w.log.Error().Err(err).Int("slot", slot).Msg("worker: claim failed")
			}
			if !sleep(ctx, w.cfg.PollInterval) {
				return processed
			}
			continue
		}
		w.Process(ctx, task)
		processed++
	}
	return processed
}

func (w *Worker) janitor(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.StaleAfter / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if n, err := w.broker.RequeueStale(ctx, w.cfg.StaleAfter); err != nil {
			w.log.Warn().Err(err).Msg("worker: stale requeue failed")
		} else if n > 0 {
			w.log.Warn().Int("tasks", n).Msg("worker: requeued stale tasks")
		}
		if _, err := w.broker.PurgeFinished(ctx, w.cfg.ResultExpiry); err != nil {
			w.log.Warn().Err(err).Msg("worker: purge failed")
		}
	}
}

// Process runs one claimed task to its outcome
func (w *Worker) Process(ctx context.Context, task *Task) {
	log := w.log.With().Str("job_id", task.JobID).Int("attempt", task.Attempts).Logger()

	meta, err := w.store.Meta(ctx, task.JobID)
	if err != nil {
		log.Warn().Err(err).Msg("worker: job metadata missing, dropping task")
		_ = w.broker.Finish(ctx, task.ID, StateFailure, "job not found", nil)
		return
	}
	if err := w.store.Renew(ctx, meta.ID); err != nil {
		log.Warn().Err(err).Msg("worker: lease renewal failed")
	}

	job := jobFromMeta(meta)
	if err := platform.EnsureWorkspace(job.Workspace); err != nil {
		w.fail(ctx, log, task, job, model.Failed(err, false))
		return
	}
	lock, err := platform.LockWorkspace(job.Workspace)
	if err != nil {
		log.Warn().Err(err).Msg("worker: workspace busy, retrying later")
		_ = w.broker.Retry(ctx, task.ID, w.cfg.PollInterval, err.Error())
		return
	}

	target := &taskTarget{w: w, task: task, job: job}
	outcome, abandoned := w.execute(ctx, log, target)
	_ = lock.Unlock()

	// results are recorded even while the worker shuts down
	wctx := context.WithoutCancel(ctx)
	if abandoned {
		// hand the task to another worker, partial files stay in place
		_ = w.broker.Retry(wctx, task.ID, 0, "worker shutdown")
		log.Info().Msg("worker: task released on shutdown")
		return
	}
	w.settle(wctx, log, target, outcome)
}

// stop reasons of an execution
const (
	stopNone = iota
	stopCanceled
	stopGone
)

// execute runs the executor under the soft and hard time limits. A cancel
// flag observed through the store watch stops the transfer at once.
func (w *Worker) execute(ctx context.Context, log zerolog.Logger, target *taskTarget) (model.Outcome, bool) {
	runCtx, cancelRun := context.WithTimeout(ctx, w.cfg.SoftTimeLimit)
	defer cancelRun()

	var (
		reasonMu sync.Mutex
		reason   = stopNone
	)
	halt := func(r int) {
		reasonMu.Lock()
		if reason == stopNone {
			reason = r
		}
		reasonMu.Unlock()
		cancelRun()
	}

	id := target.job.ID
	if fired, err := w.store.WatchFlag(runCtx, id, control.FlagCancel); err != nil {
		log.Warn().Err(err).Msg("worker: cancel watch unavailable")
	} else {
		go func() {
			select {
			case <-fired:
				halt(stopCanceled)
			case <-runCtx.Done():
			}
		}()
	}

	done := make(chan model.Outcome, 1)
	go func() {
		done <- w.exec.Run(runCtx, target.job, target)
	}()

	hard := time.NewTimer(w.cfg.HardTimeLimit)
	defer hard.Stop()
	beat := time.NewTicker(w.cfg.Heartbeat)
	defer beat.Stop()

	for {
		select {
		case outcome := <-done:
			reasonMu.Lock()
			r := reason
			reasonMu.Unlock()
			switch {
			case r != stopNone:
				return model.Canceled(), false
			case outcome.Kind != model.OutcomeFailed:
				return outcome, false
			case ctx.Err() != nil:
				return outcome, true
			case errors.Is(runCtx.Err(), context.DeadlineExceeded):
				return model.Failed(errSoftTimeLimit, false), false
			}
			return outcome, false
		case <-hard.C:
			cancelRun()
			log.Error().Msg("worker: hard time limit exceeded, abandoning execution")
			return model.Failed(errHardTimeLimit, false), false
		case <-beat.C:
			if err := w.broker.Heartbeat(ctx, target.task.ID); errors.Is(err, ErrTaskGone) {
				halt(stopGone)
			}
			if err := w.store.Renew(ctx, id); err != nil {
				log.Debug().Err(err).Msg("worker: lease renewal failed")
			}
		}
	}
}

func (w *Worker) settle(ctx context.Context, log zerolog.Logger, target *taskTarget, outcome model.Outcome) {
	task := target.task
	snap := target.snapshot()

	switch outcome.Kind {
	case model.OutcomeSucceeded:
		download.Settle(snap, outcome)
		if err := w.broker.Finish(ctx, task.ID, StateSuccess, "", snap); err != nil {
			log.Warn().Err(err).Msg("worker: result discarded")
			return
		}
		log.Info().Str("filename", snap.Filename).Msg("worker: task succeeded")
		w.mu.Lock()
		hook := w.onDone
		w.mu.Unlock()
		if hook != nil {
			hook(snap)
		}

	case model.OutcomePaused:
		download.Settle(snap, outcome)
		if meta, err := w.store.Meta(ctx, snap.ID); err == nil {
			meta.PausedDir = snap.Workspace
			if err := w.store.UpdateMeta(ctx, meta); err != nil {
				log.Warn().Err(err).Msg("worker: paused workspace not recorded")
			}
		}
		if err := w.broker.Finish(ctx, task.ID, StatePaused, "", snap); err != nil {
			log.Warn().Err(err).Msg("worker: pause not recorded")
		}
		log.Info().Msg("worker: task paused")

	case model.OutcomeCanceled:
		if t, err := w.broker.Get(ctx, task.ID); err == nil && t.Deleted {
			if t.PurgeFiles {
				download.CleanupWorkspace(log, snap.Workspace)
			}
			_ = w.broker.Delete(ctx, task.ID)
			log.Info().Bool("files_removed", t.PurgeFiles).Msg("worker: job deleted while running")
			return
		}
		if _, err := w.store.Meta(ctx, snap.ID); errors.Is(err, control.ErrNotFound) {
			log.Info().Msg("worker: job deleted while running")
			return
		}
		download.Settle(snap, outcome)
		if err := w.broker.Finish(ctx, task.ID, StateRevoked, "", snap); err != nil && !errors.Is(err, ErrTaskGone) {
			log.Warn().Err(err).Msg("worker: revoke not recorded")
		}
		download.CleanupWorkspace(log, snap.Workspace)
		log.Info().Msg("worker: task canceled")

	default:
		if outcome.Transient && task.Attempts <= w.cfg.MaxRetries {
			delay := backoff(w.cfg.RetryBackoff, task.Attempts)
			if err := w.broker.Retry(ctx, task.ID, delay, outcome.Err.Error()); err == nil {
				log.Warn().Err(outcome.Err).Dur("delay", delay).Msg("worker: transient failure, retry scheduled")
				return
			}
		}
		w.fail(ctx, log, task, snap, outcome)
	}
}

func (w *Worker) fail(ctx context.Context, log zerolog.Logger, task *Task, job *model.Job, outcome model.Outcome) {
	download.Settle(job, outcome)
	if err := w.broker.Finish(ctx, task.ID, StateFailure, job.Error, job); err != nil {
		log.Warn().Err(err).Msg("worker: failure not recorded")
	}
	if w.cfg.ErrorPolicy.RemovesWorkspace(outcome) {
		download.CleanupWorkspace(log, job.Workspace)
	}
	log.Error().Err(outcome.Err).Msg("worker: task failed")
}

// taskTarget exposes a claimed task to the progress reporter. The local
// record is the worker's view; every change is pushed to the broker.
type taskTarget struct {
	w    *Worker
	task *Task

	mu  sync.Mutex
	job *model.Job
}

// Observe implements progress.Target
func (t *taskTarget) Observe(ctx context.Context, fn func(*model.Job)) (model.Signal, error) {
	pause, cancel, err := t.w.store.Flags(ctx, t.job.ID)
	if err != nil {
		return model.SignalNone, err
	}
	if sig := model.ResolveSignal(pause, cancel); sig != model.SignalNone {
		return sig, nil
	}

	t.mu.Lock()
	fn(t.job)
	snap := t.job.Clone()
	t.mu.Unlock()

	if err := t.w.broker.SaveProgress(ctx, t.task.ID, snap); err != nil {
		if errors.Is(err, ErrTaskGone) {
			return model.SignalCancel, nil
		}
		return model.SignalNone, err
	}
	return model.SignalNone, nil
}

func (t *taskTarget) snapshot() *model.Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.job.Clone()
}

func backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt && d < time.Hour; i++ {
		d *= 2
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
