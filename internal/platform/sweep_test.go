package platform

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeAged(t *testing.T, root, name string, age time.Duration) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	writeFile(t, filepath.Join(dir, "clip.mp4"), 128)
	stamp := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(dir, stamp, stamp))
	return dir
}

func TestSweepWorkspaces(t *testing.T) {
	root := t.TempDir()
	old := makeAged(t, root, WorkspacePrefix+"old", 48*time.Hour)
	legacy := makeAged(t, root, LegacyWorkspacePrefix+"abc_", 30*time.Hour)
	fresh := makeAged(t, root, WorkspacePrefix+"fresh", time.Hour)
	kept := makeAged(t, root, WorkspacePrefix+"kept", 48*time.Hour)
	other := makeAged(t, root, "library", 48*time.Hour)

	res, err := SweepWorkspaces(context.Background(), SweepOptions{
		Root:   root,
		MaxAge: 24 * time.Hour,
		Keep:   map[string]bool{kept: true},
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{old, legacy}, res.Removed)
	assert.Equal(t, 4, res.Scanned)
	assert.Equal(t, int64(256), res.BytesFreed)
	assert.Empty(t, res.Errors)

	assert.NoDirExists(t, old)
	assert.NoDirExists(t, legacy)
	assert.DirExists(t, fresh)
	assert.DirExists(t, kept)
	assert.DirExists(t, other)
}

func TestSweepWorkspaces_DryRun(t *testing.T) {
	root := t.TempDir()
	old := makeAged(t, root, WorkspacePrefix+"old", 48*time.Hour)

	res, err := SweepWorkspaces(context.Background(), SweepOptions{Root: root, DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, []string{old}, res.Removed)
	assert.DirExists(t, old)
}

func TestSweepWorkspaces_DryRunKeepsAge(t *testing.T) {
	root := t.TempDir()
	old := makeAged(t, root, WorkspacePrefix+"old", 48*time.Hour)
	before, err := os.Stat(old)
	require.NoError(t, err)

	_, err = SweepWorkspaces(context.Background(), SweepOptions{Root: root, DryRun: true})
	require.NoError(t, err)

	after, err := os.Stat(old)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
	assert.NoFileExists(t, filepath.Join(old, LockFileName))

	res, err := SweepWorkspaces(context.Background(), SweepOptions{Root: root})
	require.NoError(t, err)
	assert.Equal(t, []string{old}, res.Removed)
	assert.NoDirExists(t, old)
}

func TestSweepWorkspaces_RemovesReleased(t *testing.T) {
	root := t.TempDir()
	done := makeAged(t, root, WorkspacePrefix+"done", time.Hour)

	lock, err := LockWorkspace(done)
	require.NoError(t, err)
	require.NoError(t, lock.Unlock())
	stamp := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(done, stamp, stamp))

	res, err := SweepWorkspaces(context.Background(), SweepOptions{Root: root})
	require.NoError(t, err)
	assert.Equal(t, []string{done}, res.Removed)
}

func TestSweepWorkspaces_SkipsLocked(t *testing.T) {
	root := t.TempDir()
	busy := makeAged(t, root, WorkspacePrefix+"busy", 48*time.Hour)

	lock, err := LockWorkspace(busy)
	require.NoError(t, err)
	defer lock.Unlock()

	// locking touched the directory; age it again
	stamp := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(busy, stamp, stamp))

	res, err := SweepWorkspaces(context.Background(), SweepOptions{Root: root})
	require.NoError(t, err)
	assert.Empty(t, res.Removed)
	assert.DirExists(t, busy)
}

func TestSweepWorkspaces_MissingRoot(t *testing.T) {
	res, err := SweepWorkspaces(context.Background(), SweepOptions{Root: filepath.Join(t.TempDir(), "nope")})
	require.NoError(t, err)
	assert.Zero(t, res.Scanned)
}
