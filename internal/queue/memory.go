package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ytget/ytjobs/internal/model"
)

// MemoryBroker is an in-process Broker with the same conditional-write
// semantics as the Postgres broker. It serves tests and single-host runs.
type MemoryBroker struct {
	mu    sync.Mutex
	tasks map[string]*Task
	now   func() time.Time
}

// NewMemoryBroker creates an empty broker
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{tasks: make(map[string]*Task), now: time.Now}
}

// SetClock replaces the broker clock
func (b *MemoryBroker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Enqueue implements Broker
func (b *MemoryBroker) Enqueue(_ context.Context, taskID, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	t, ok := b.tasks[taskID]
	if !ok {
		t = &Task{ID: taskID, CreatedAt: now}
		b.tasks[taskID] = t
	}
	t.JobID = jobID
	t.State = StatePending
	t.Attempts = 0
	t.Error = ""
	t.ClaimedBy = ""
	t.Deleted = false
	t.PurgeFiles = false
	t.AvailableAt = now
	t.UpdatedAt = now
	return nil
}

// Claim implements Broker
func (b *MemoryBroker) Claim(_ context.Context, workerID string) (*Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()

	ready := make([]*Task, 0, len(b.tasks))
	for _, t := range b.tasks {
		if t.State.IsReady() && !t.AvailableAt.After(now) {
			ready = append(ready, t)
		}
	}
	if len(ready) == 0 {
		return nil, ErrNoTask
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].AvailableAt.Equal(ready[j].AvailableAt) {
			return ready[i].CreatedAt.Before(ready[j].CreatedAt)
		}
		return ready[i].AvailableAt.Before(ready[j].AvailableAt)
	})

	t := ready[0]
	t.State = StateStarted
	t.Attempts++
	t.ClaimedBy = workerID
	t.UpdatedAt = now
	return cloneTask(t), nil
}

// Get implements Broker
func (b *MemoryBroker) Get(_ context.Context, taskID string) (*Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return cloneTask(t), nil
}

// SaveProgress implements Broker
func (b *MemoryBroker) SaveProgress(_ context.Context, taskID string, snap *model.Job) error {
	return b.running(taskID, func(t *Task) {
		t.State = StateProgress
		t.Progress = snap.Clone()
	})
}

// Heartbeat implements Broker
func (b *MemoryBroker) Heartbeat(_ context.Context, taskID string) error {
	return b.running(taskID, func(*Task) {})
}

// Finish implements Broker
func (b *MemoryBroker) Finish(_ context.Context, taskID string, state TaskState, errMsg string, snap *model.Job) error {
	return b.running(taskID, func(t *Task) {
		t.State = state
		t.Error = errMsg
		t.ClaimedBy = ""
		if snap != nil {
			t.Progress = snap.Clone()
		}
	})
}

// Retry implements Broker
func (b *MemoryBroker) Retry(_ context.Context, taskID string, delay time.Duration, errMsg string) error {
	return b.running(taskID, func(t *Task) {
		t.State = StateRetry
		t.Error = errMsg
		t.ClaimedBy = ""
		t.AvailableAt = b.now().Add(delay)
	})
}

// Revoke implements Broker
func (b *MemoryBroker) Revoke(_ context.Context, taskID string) (TaskState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tasks[taskID]
	if !ok {
		return "", ErrTaskNotFound
	}
	prev := t.State
	if !prev.IsFinal() {
		t.State = StateRevoked
		t.UpdatedAt = b.now()
	}
	return prev, nil
}

// MarkDeleted implements Broker
func (b *MemoryBroker) MarkDeleted(_ context.Context, taskID string, purgeFiles bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	t.Deleted = true
	t.PurgeFiles = purgeFiles
	return nil
}

// Delete implements Broker
func (b *MemoryBroker) Delete(_ context.Context, taskID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tasks, taskID)
	return nil
}

// RequeueStale implements Broker
func (b *MemoryBroker) RequeueStale(_ context.Context, olderThan time.Duration) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	n := 0
	for _, t := range b.tasks {
		if t.State.IsRunning() && now.Sub(t.UpdatedAt) > olderThan {
			t.State = StateRetry
			t.ClaimedBy = ""
			t.AvailableAt = now
			t.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

// PurgeFinished implements Broker
func (b *MemoryBroker) PurgeFinished(_ context.Context, olderThan time.Duration) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	n := 0
	for id, t := range b.tasks {
		if t.State.IsFinal() && now.Sub(t.UpdatedAt) > olderThan {
			delete(b.tasks, id)
			n++
		}
	}
	return n, nil
}

// Close implements Broker
func (b *MemoryBroker) Close() {}

func (b *MemoryBroker) running(taskID string, fn func(*Task)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tasks[taskID]
	if !ok || !t.State.IsRunning() {
		return ErrTaskGone
	}
	fn(t)
	t.UpdatedAt = b.now()
	return nil
}

func cloneTask(t *Task) *Task {
	c := *t
	if t.Progress != nil {
		c.Progress = t.Progress.Clone()
	}
	return &c
}
