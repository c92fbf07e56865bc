package download

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ytget/ytjobs/internal/model"
	"github.com/ytget/ytjobs/internal/platform"
)

// entry is one job of the embedded registry.
// gen identifies the live execution unit so a stale goroutine cannot write.
// purge asks the exiting unit of a deleted entry to remove the workspace.
type entry struct {
	job     *model.Job
	pause   bool
	cancel  bool
	running bool
	gen     int
	stop    context.CancelFunc
	purge   bool
}

// EmbeddedOptions tunes the embedded backend
type EmbeddedOptions struct {
	ErrorPolicy ErrorPolicy
	// PauseQueued lets pause requests on queued jobs take effect at pickup.
	PauseQueued bool
}

// Embedded runs every active job in its own goroutine. The job map and all
// control flags are guarded by one mutex.
type Embedded struct {
	mu       sync.Mutex
	jobs     map[string]*entry
	exec     *Executor
	opts     EmbeddedOptions
	log      zerolog.Logger
	onUpdate func(*model.Job)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEmbedded creates the in-process backend
func NewEmbedded(exec *Executor, opts EmbeddedOptions, log zerolog.Logger) *Embedded {
	if opts.ErrorPolicy == "" {
		opts.ErrorPolicy = DefaultErrorPolicy(BackendEmbedded)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Embedded{
		jobs:   make(map[string]*entry),
		exec:   exec,
		opts:   opts,
		log:    log.With().Str("component", "embedded").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetUpdateCallback sets the callback invoked with a snapshot after every change
func (b *Embedded) SetUpdateCallback(callback func(*model.Job)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onUpdate = callback
}

// Name implements Backend
func (b *Embedded) Name() string { return BackendEmbedded }

// Submit implements Backend
func (b *Embedded) Submit(_ context.Context, job *model.Job) error {
	b.mu.Lock()
	e := &entry{job: job.Clone()}
	b.jobs[job.ID] = e
	b.spawnLocked(job.ID, e)
	b.mu.Unlock()
	return nil
}

// Get implements Backend
func (b *Embedded) Get(_ context.Context, id string) (*model.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.jobs[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return e.job.Clone(), nil
}

// List implements Backend
func (b *Embedded) List(_ context.Context) ([]*model.Job, error) {
	b.mu.Lock()
	jobs := make([]*model.Job, 0, len(b.jobs))
	for _, e := range b.jobs {
		jobs = append(jobs, e.job.Clone())
	}
	b.mu.Unlock()

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID > jobs[j].ID })
	return jobs, nil
}

// Pause implements Backend
func (b *Embedded) Pause(_ context.Context, id string) (*model.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.jobs[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	switch {
	case e.job.Status == model.StatusDownloading:
		e.pause = true
	case e.job.Status == model.StatusQueued && b.opts.PauseQueued:
		e.pause = true
	}
	return e.job.Clone(), nil
}

// Resume implements Backend
func (b *Embedded) Resume(_ context.Context, id string) (*model.Job, error) {
	b.mu.Lock()
	e, ok := b.jobs[id]
	if !ok {
		b.mu.Unlock()
		return nil, model.ErrNotFound
	}
	if e.job.Status != model.StatusPaused || e.running {
		snap := e.job.Clone()
		b.mu.Unlock()
		return snap, nil
	}
	if err := platform.EnsureWorkspace(e.job.Workspace); err != nil {
		b.mu.Unlock()
		return nil, err
	}
	e.pause, e.cancel = false, false
	e.job.SetStatus(model.StatusQueued)
	b.spawnLocked(id, e)
	snap := e.job.Clone()
	b.mu.Unlock()

	b.notify(snap)
	return snap, nil
}

// Cancel implements Backend.
// The embedded backend cannot stop a goroutine preemptively; a running job
// stops at its next checkpoint. A job without a live execution unit is
// finalized immediately.
func (b *Embedded) Cancel(_ context.Context, id string) (*model.Job, error) {
	b.mu.Lock()
	e, ok := b.jobs[id]
	if !ok {
		b.mu.Unlock()
		return nil, model.ErrNotFound
	}
	if e.job.Status.IsTerminal() {
		snap := e.job.Clone()
		b.mu.Unlock()
		return snap, nil
	}
	e.cancel = true
	finalize := !e.running
	if finalize {
		Settle(e.job, model.Canceled())
	}
	snap := e.job.Clone()
	b.mu.Unlock()

	if finalize {
		CleanupWorkspace(b.log, snap.Workspace)
		b.notify(snap)
	}
	return snap, nil
}

// Delete implements Backend
func (b *Embedded) Delete(_ context.Context, id string, deleteFiles bool) (*model.Job, error) {
	b.mu.Lock()
	e, ok := b.jobs[id]
	if !ok {
		b.mu.Unlock()
		return nil, model.ErrNotFound
	}
	delete(b.jobs, id)
	e.purge = deleteFiles && e.running
	if e.stop != nil {
		e.stop()
	}
	removeNow := deleteFiles && !e.running
	snap := e.job.Clone()
	b.mu.Unlock()

	if removeNow {
		CleanupWorkspace(b.log, snap.Workspace)
	}
	return snap, nil
}

// Close stops all execution units and waits for them to exit
func (b *Embedded) Close() error {
	b.cancel()
	b.wg.Wait()
	return nil
}

// spawnLocked starts a fresh execution unit; b.mu must be held
func (b *Embedded) spawnLocked(id string, e *entry) {
	e.gen++
	e.running = true
	ctx, stop := context.WithCancel(b.ctx)
	e.stop = stop
	snap := e.job.Clone()
	gen := e.gen

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer stop()
		b.run(ctx, e, id, gen, snap)
	}()
}

func (b *Embedded) run(ctx context.Context, e *entry, id string, gen int, snap *model.Job) {
	outcome := b.exec.Run(ctx, snap, &entryTarget{b: b, id: id, gen: gen})

	b.mu.Lock()
	if cur, ok := b.jobs[id]; !ok || cur != e {
		purge := e.purge && e.gen == gen
		e.running = false
		b.mu.Unlock()
		if purge {
			CleanupWorkspace(b.log.With().Str("job_id", id).Logger(), snap.Workspace)
		}
		return
	}
	if e.gen != gen || b.ctx.Err() != nil {
		// superseded or shutting down
		b.mu.Unlock()
		return
	}
	Settle(e.job, outcome)
	e.running = false
	e.stop = nil
	e.pause, e.cancel = false, false
	final := e.job.Clone()
	b.mu.Unlock()

	log := b.log.With().Str("job_id", id).Str("status", final.Status.String()).Logger()
	if b.opts.ErrorPolicy.RemovesWorkspace(outcome) {
		CleanupWorkspace(log, final.Workspace)
	}
	if outcome.Kind == model.OutcomeFailed {
		log.Error().Err(outcome.Err).Msg("embedded: job failed")
	} else {
		log.Info().Msg("embedded: job settled")
	}
	b.notify(final)
}

func (b *Embedded) notify(job *model.Job) {
	b.mu.Lock()
	cb := b.onUpdate
	b.mu.Unlock()
	if cb != nil {
		cb(job)
	}
}

// entryTarget exposes one registry entry to the progress reporter
type entryTarget struct {
	b   *Embedded
	id  string
	gen int
}

// Observe implements progress.Target
func (t *entryTarget) Observe(_ context.Context, fn func(*model.Job)) (model.Signal, error) {
	t.b.mu.Lock()
	e, ok := t.b.jobs[t.id]
	if !ok || e.gen != t.gen {
		t.b.mu.Unlock()
		return model.SignalCancel, nil
	}
	sig := model.ResolveSignal(e.pause, e.cancel)
	if sig != model.SignalNone {
		t.b.mu.Unlock()
		return sig, nil
	}
	fn(e.job)
	snap := e.job.Clone()
	t.b.mu.Unlock()

	t.b.notify(snap)
	return model.SignalNone, nil
}
