package platform

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// File permissions
const (
	DefaultDirPermissions = 0755
)

// Workspace naming
const (
	// WorkspacePrefix prefixes every job workspace directory
	WorkspacePrefix = "mdjob_"
	// LegacyWorkspacePrefix is the prefix used by older worker deployments
	LegacyWorkspacePrefix = "md_"
)

// File name similarity thresholds
const (
	MaxNameDifference = 10
)

// File extensions to skip
var (
	SkippedExtensions = []string{".part", ".ytdl", ".temp", ".lock"}
)

// MediaExtensions lists the container formats considered final artifacts
var (
	MediaExtensions = []string{".mp4", ".mkv", ".webm", ".avi", ".mov", ".m4a", ".mp3"}
)

// ErrNoMedia is returned when a workspace holds no finished media file
var ErrNoMedia = errors.New("no media file found")

// CreateDirectoryIfNotExists creates directory if it doesn't exist
func CreateDirectoryIfNotExists(dirPath string) error {
	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		return os.MkdirAll(dirPath, DefaultDirPermissions)
	}
	return nil
}

// NewWorkspace allocates a fresh private directory under root
func NewWorkspace(root string) (string, error) {
	if err := CreateDirectoryIfNotExists(root); err != nil {
		return "", fmt.Errorf("create download root: %w", err)
	}
	dir, err := os.MkdirTemp(root, WorkspacePrefix)
	if err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	return dir, nil
}

// EnsureWorkspace recreates a workspace that was removed while the job rested
func EnsureWorkspace(dir string) error {
	if dir == "" {
		return errors.New("workspace path is empty")
	}
	return CreateDirectoryIfNotExists(dir)
}

// RemoveWorkspace recursively deletes a workspace.
// Callers treat the returned error as informational only.
func RemoveWorkspace(dir string) error {
	if dir == "" {
		return nil
	}
	if _, err := os.Lstat(dir); os.IsNotExist(err) {
		return nil
	}
	var failed []error
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			failed = append(failed, err)
			return nil
		}
		if !d.IsDir() {
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				failed = append(failed, rmErr)
			}
		}
		return nil
	})
	if err := os.RemoveAll(dir); err != nil {
		failed = append(failed, err)
	}
	return errors.Join(failed...)
}

// WorkspaceExists reports whether dir is present on disk
func WorkspaceExists(dir string) bool {
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// IsMediaFile reports whether name has a final media extension
func IsMediaFile(name string) bool {
	if isSkipped(name) {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, m := range MediaExtensions {
		if ext == m {
			return true
		}
	}
	return false
}

// FindLargestMedia returns the biggest finished media file directly inside dir
func FindLargestMedia(dir string) (string, int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", 0, fmt.Errorf("read workspace %s: %w", dir, err)
	}

	var best string
	var bestSize int64 = -1
	for _, entry := range entries {
		if entry.IsDir() || !IsMediaFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.Size() > bestSize {
			best = filepath.Join(dir, entry.Name())
			bestSize = info.Size()
		}
	}
	if best == "" {
		return "", 0, ErrNoMedia
	}
	return best, bestSize, nil
}

// FindFileWithFallback tries to find a file by its original path, and if not found,
// searches for files with similar names and the same extension in the same directory
func FindFileWithFallback(filePath string) (string, error) {
	if filePath == "" {
		return "", fmt.Errorf("file path is empty")
	}
	if strings.HasPrefix(filePath, "http") {
		return "", fmt.Errorf("file path appears to be a URL: %s", filePath)
	}

	if _, err := os.Stat(filePath); err == nil {
		return filePath, nil
	}

	dir := filepath.Dir(filePath)
	originalName := filepath.Base(filePath)
	originalExt := filepath.Ext(originalName)
	baseName := strings.TrimSuffix(originalName, originalExt)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var candidates []string
	for _, entry := range entries {
		if entry.IsDir() || isSkipped(entry.Name()) {
			continue
		}
		entryName := entry.Name()
		entryExt := filepath.Ext(entryName)
		entryBase := strings.TrimSuffix(entryName, entryExt)

		if isSimilarFileName(entryBase, baseName) {
			candidates = append(candidates, filepath.Join(dir, entryName))
		}
	}

	if len(candidates) == 0 {
		return "", fmt.Errorf("file not found: %s", filePath)
	}

	// same extension first, then lexical
	sort.SliceStable(candidates, func(i, j int) bool {
		ei := filepath.Ext(candidates[i]) == originalExt
		ej := filepath.Ext(candidates[j]) == originalExt
		if ei != ej {
			return ei
		}
		return candidates[i] < candidates[j]
	})
	return candidates[0], nil
}

// isSimilarFileName checks if two file names are similar enough to be considered the same file
func isSimilarFileName(name1, name2 string) bool {
	clean1 := strings.TrimSpace(name1)
	clean2 := strings.TrimSpace(name2)

	if clean1 == clean2 {
		return true
	}

	// merged outputs drop the format suffix, e.g. "clip.f137" -> "clip"
	if strings.TrimSuffix(clean2, filepath.Ext(clean2)) == clean1 {
		return true
	}

	if strings.Contains(clean1, clean2) || strings.Contains(clean2, clean1) {
		diff := len(clean1) - len(clean2)
		if diff < 0 {
			diff = -diff
		}
		if diff <= MaxNameDifference {
			return true
		}
	}

	return false
}

func isSkipped(name string) bool {
	for _, ext := range SkippedExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
