package platform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultSweepMaxAge is the age after which an idle workspace is considered abandoned
const DefaultSweepMaxAge = 24 * time.Hour

// SweepOptions defines options for removing stale workspaces.
type SweepOptions struct {
	// Root is the download root holding job workspaces.
	Root string

	// MaxAge is the minimum age of a workspace before it is removed.
	MaxAge time.Duration

	// DryRun reports what would be removed without deleting anything.
	DryRun bool

	// Keep lists workspaces still referenced by live jobs.
	Keep map[string]bool

	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// SweepResult contains the results of a sweep.
type SweepResult struct {
	Scanned    int
	Removed    []string
	BytesFreed int64

	// Errors contains failures for individual workspaces; the sweep continues past them.
	Errors []error
}

// SweepWorkspaces removes job workspaces under opts.Root that are older than
// opts.MaxAge, skipping workspaces that are kept or locked by a running job.
func SweepWorkspaces(ctx context.Context, opts SweepOptions) (*SweepResult, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("sweep root is empty")
	}
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultSweepMaxAge
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	cutoff := now().Add(-maxAge)

	entries, err := os.ReadDir(opts.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return &SweepResult{}, nil
		}
		return nil, fmt.Errorf("read root: %w", err)
	}

	result := &SweepResult{Removed: make([]string, 0)}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !entry.IsDir() || !isWorkspaceName(entry.Name()) {
			continue
		}
		result.Scanned++

		dir := filepath.Join(opts.Root, entry.Name())
		if opts.Keep[dir] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		if !info.ModTime().Before(cutoff) || isWorkspaceLocked(dir) {
			continue
		}

		size := dirSize(dir)
		if !opts.DryRun {
			if err := RemoveWorkspace(dir); err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("remove %s: %w", dir, err))
				continue
			}
		}
		result.Removed = append(result.Removed, dir)
		result.BytesFreed += size
	}
	return result, nil
}

func isWorkspaceName(name string) bool {
	return strings.HasPrefix(name, WorkspacePrefix) || strings.HasPrefix(name, LegacyWorkspacePrefix)
}

func dirSize(dir string) int64 {
	var total int64
	_ = filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}
