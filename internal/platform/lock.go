package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockFileName is the per-workspace advisory lock held by the executing process
const LockFileName = ".job.lock"

// ErrWorkspaceBusy is returned when another process already owns the workspace
var ErrWorkspaceBusy = errors.New("workspace is locked by another process")

// WorkspaceLock is an exclusive advisory lock on a job workspace
type WorkspaceLock struct {
	fl *flock.Flock
}

// LockWorkspace takes the workspace lock without blocking
func LockWorkspace(dir string) (*WorkspaceLock, error) {
	fl := flock.New(filepath.Join(dir, LockFileName))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock workspace %s: %w", dir, err)
	}
	if !ok {
		return nil, ErrWorkspaceBusy
	}
	return &WorkspaceLock{fl: fl}, nil
}

// Unlock releases the lock; it is safe to call on a nil lock
func (l *WorkspaceLock) Unlock() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}

// isWorkspaceLocked reports whether a live process holds the workspace lock.
// A workspace without a lock file was never locked; creating one would touch its mtime.
func isWorkspaceLocked(dir string) bool {
	if _, err := os.Lstat(filepath.Join(dir, LockFileName)); err != nil {
		return false
	}
	lock, err := LockWorkspace(dir)
	if err != nil {
		return errors.Is(err, ErrWorkspaceBusy)
	}
	_ = lock.Unlock()
	return false
}
