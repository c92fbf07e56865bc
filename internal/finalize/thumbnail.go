package finalize

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FFmpeg constants for thumbnail extraction
const (
	FFmpegCommand       = "ffmpeg"
	FFprobeCommand      = "ffprobe"
	FFprobeLogLevel     = "error"
	FFprobeShowEntries  = "format=duration"
	FFprobeOutputFormat = "csv=p=0"

	ThumbnailScale   = "scale=1280:-1"
	ThumbnailQuality = "2"
	ThumbnailSuffix  = "_thumb.jpg"

	// DefaultThumbnailAt is the preferred seek position in seconds
	DefaultThumbnailAt = 3.0
)

// Thumbnailer cuts a single JPEG frame out of a video
type Thumbnailer struct {
	FFmpeg       string
	FFprobe      string
	At           float64
	Timeout      time.Duration
	ProbeTimeout time.Duration
}

// NewThumbnailer returns a thumbnailer using the binaries on PATH
func NewThumbnailer() *Thumbnailer {
	return &Thumbnailer{
		FFmpeg:       FFmpegCommand,
		FFprobe:      FFprobeCommand,
		At:           DefaultThumbnailAt,
		Timeout:      60 * time.Second,
		ProbeTimeout: 30 * time.Second,
	}
}

// Generate writes the thumbnail next to video and returns its path.
// A missing ffmpeg binary is not an error: the path is empty.
func (t *Thumbnailer) Generate(ctx context.Context, video string) (string, error) {
	output := ThumbnailPath(video)

	duration, _ := t.probeDuration(ctx, video)
	at := SeekTimestamp(t.At, duration)

	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.FFmpeg, BuildThumbnailArgs(video, output, at)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", nil
		}
		_ = os.Remove(output)
		return "", fmt.Errorf("ffmpeg thumbnail: %w: %s", err, strings.TrimSpace(string(out)))
	}
	if _, err := os.Stat(output); err != nil {
		return "", fmt.Errorf("ffmpeg produced no thumbnail: %w", err)
	}
	return output, nil
}

// BuildThumbnailArgs builds the ffmpeg command arguments
func BuildThumbnailArgs(input, output string, at float64) []string {
	return []string{
		"-y", // Overwrite output file
		"-ss", strconv.FormatFloat(at, 'f', -1, 64),
		"-i", input,
		"-vframes", "1",
		"-vf", ThumbnailScale,
		"-q:v", ThumbnailQuality,
		output,
	}
}

// SeekTimestamp keeps the seek position inside the video
func SeekTimestamp(at, duration float64) float64 {
	if duration > 0 && at >= duration {
		return duration * 0.1
	}
	return at
}

// ThumbnailPath returns where the thumbnail of video is written
func ThumbnailPath(video string) string {
	return strings.TrimSuffix(video, filepath.Ext(video)) + ThumbnailSuffix
}

// probeDuration gets the duration of a video file using ffprobe
func (t *Thumbnailer) probeDuration(ctx context.Context, path string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, t.ProbeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.FFprobe, "-v", FFprobeLogLevel, "-show_entries", FFprobeShowEntries, "-of", FFprobeOutputFormat, path)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("failed to run ffprobe: %w", err)
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}
	return duration, nil
}
