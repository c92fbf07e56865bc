package progress

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ytget/ytjobs/internal/model"
	"github.com/ytget/ytjobs/internal/platform"
)

// ErrArtifactMissing means the engine succeeded but nothing usable is on disk
var ErrArtifactMissing = errors.New("download completed but file not found")

// Artifact is the authoritative output located on disk
type Artifact struct {
	Path string
	Size int64
}

// Locate finds the finished artifact of a job. The largest media file in the
// workspace wins; the engine's filename hint is only a fallback because a
// container merge may have renamed it.
func Locate(workspace, hint string) (Artifact, error) {
	path, size, err := platform.FindLargestMedia(workspace)
	if err == nil {
		return Artifact{Path: path, Size: size}, nil
	}
	if hint != "" {
		if found, ferr := platform.FindFileWithFallback(hint); ferr == nil {
			if info, serr := os.Stat(found); serr == nil && !info.IsDir() {
				return Artifact{Path: found, Size: info.Size()}, nil
			}
		}
	}
	return Artifact{}, fmt.Errorf("%w in %s", ErrArtifactMissing, workspace)
}

// Finish records the located artifact on the job and marks it complete
func Finish(job *model.Job, art Artifact, title string) {
	size := art.Size
	job.Filename = art.Path
	job.DownloadedBytes = size
	job.TotalBytes = &size
	job.Progress = 1
	if job.Title == "" && title != "" {
		job.Title = title
	}
	if job.Ext == "" {
		job.Ext = strings.TrimPrefix(filepath.Ext(art.Path), ".")
	}
}
