// Package transfertest provides a scripted, resumable transfer engine for tests.
package transfertest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ytget/ytjobs/internal/transfer"
)

// Engine writes fake media into the workspace in fixed-size chunks, reporting
// progress after each chunk. Each "+"-separated part of the format selector is
// transferred as its own stream with restarting counters, then merged.
// Partial stream files from an earlier call are continued, not restarted.
type Engine struct {
	ChunkSize int64
	Chunks    int
	Delay     time.Duration
	Name      string

	// Gate, when set, must yield a value before each chunk is written.
	Gate chan struct{}

	// FailAfter makes the engine fail with Err once this many chunks were written in a call.
	FailAfter int
	Err       error

	// SkipOutput makes a successful transfer leave no media behind.
	SkipOutput bool

	mu     sync.Mutex
	calls  int
	starts []int64
}

// New returns an engine producing chunks*chunkSize bytes per stream
func New(chunks int, chunkSize int64) *Engine {
	return &Engine{Chunks: chunks, ChunkSize: chunkSize, Name: "clip"}
}

// Calls returns the number of Transfer invocations
func (e *Engine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// StartOffsets returns the bytes already on disk for the first stream at each call
func (e *Engine) StartOffsets() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int64(nil), e.starts...)
}

// Transfer implements transfer.Engine
func (e *Engine) Transfer(ctx context.Context, req transfer.Request, onProgress transfer.ProgressFunc) (*transfer.Artifact, error) {
	streams := strings.Split(req.Format, "+")
	if req.Format == "" {
		streams = []string{"best"}
	}
	total := int64(e.Chunks) * e.ChunkSize

	first := e.streamPath(req.Workspace, streams[0], len(streams))
	e.mu.Lock()
	e.calls++
	e.starts = append(e.starts, fileSize(first+".part")+fileSize(first))
	e.mu.Unlock()

	written := 0
	var parts []string
	for _, stream := range streams {
		path := e.streamPath(req.Workspace, stream, len(streams))
		parts = append(parts, path)
		if fileSize(path) == total {
			continue
		}

		have := fileSize(path + ".part")
		for have < total {
			if err := e.wait(ctx); err != nil {
				return nil, err
			}
			if e.FailAfter > 0 && written >= e.FailAfter {
				err := e.Err
				if err == nil {
					err = errors.New("scripted failure")
				}
				return nil, transfer.NewError(req.URL, err, true)
			}
			if err := appendBytes(path+".part", e.ChunkSize); err != nil {
				return nil, err
			}
			written++
			have += e.ChunkSize
			if err := report(onProgress, transfer.Update{
				Phase:           transfer.PhaseDownloading,
				DownloadedBytes: have,
				TotalBytes:      &total,
				FilenameHint:    path,
			}); err != nil {
				return nil, err
			}
		}
		if err := os.Rename(path+".part", path); err != nil {
			return nil, err
		}
		if err := report(onProgress, transfer.Update{
			Phase:           transfer.PhaseFinished,
			DownloadedBytes: have,
			TotalBytes:      &total,
			FilenameHint:    path,
		}); err != nil {
			return nil, err
		}
	}

	final := filepath.Join(req.Workspace, e.name()+".mp4")
	if err := merge(final, parts); err != nil {
		return nil, err
	}
	if e.SkipOutput {
		_ = os.Remove(final)
	}

	// the advertised name is the first stream, which the merge removed
	return &transfer.Artifact{Filename: parts[0], Title: "Clip"}, nil
}

func (e *Engine) name() string {
	if e.Name == "" {
		return "clip"
	}
	return e.Name
}

func (e *Engine) streamPath(ws, stream string, n int) string {
	if n == 1 {
		return filepath.Join(ws, e.name()+".mp4")
	}
	return filepath.Join(ws, fmt.Sprintf("%s.f%s.mp4", e.name(), streamNames.Replace(stream)))
}

// streamNames keeps selector syntax such as "bestaudio/best" out of file names
var streamNames = strings.NewReplacer("/", "_", "\\", "_", "*", "_", "[", "_", "]", "_", ":", "_", "?", "_")

func (e *Engine) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.Gate != nil {
		select {
		case <-e.Gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if e.Delay > 0 {
		select {
		case <-time.After(e.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func report(fn transfer.ProgressFunc, u transfer.Update) error {
	if fn == nil {
		return nil
	}
	return fn(u)
}

func merge(final string, parts []string) error {
	if len(parts) == 1 && parts[0] == final {
		return nil
	}
	var size int64
	for _, p := range parts {
		size += fileSize(p)
	}
	if err := os.WriteFile(final, make([]byte, size), 0o644); err != nil {
		return err
	}
	for _, p := range parts {
		_ = os.Remove(p)
	}
	return nil
}

func appendBytes(path string, n int64) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(make([]byte, n))
	return err
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
