package transfer

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lrstanley/go-ytdlp"
)

// Engine defaults
const (
	DefaultOutputTemplate      = "%(title)s.%(ext)s"
	DefaultMergeFormat         = "mp4"
	DefaultConcurrentFragments = 16
	DefaultRetries             = 10
	DefaultProgressInterval    = 500 * time.Millisecond
)

// permanentMarkers identify engine failures that retrying cannot fix
var permanentMarkers = []string{
	"unsupported url",
	"video unavailable",
	"private video",
	"requested format is not available",
	"not a valid url",
	"http error 404",
	"sign in to confirm your age",
}

// YTDLP runs transfers with the yt-dlp binary
type YTDLP struct {
	ConcurrentFragments int
	Retries             int
	ProgressInterval    time.Duration
}

// NewYTDLP creates an engine with default tuning
func NewYTDLP() *YTDLP {
	return &YTDLP{
		ConcurrentFragments: DefaultConcurrentFragments,
		Retries:             DefaultRetries,
		ProgressInterval:    DefaultProgressInterval,
	}
}

// Transfer downloads req.URL into req.Workspace, continuing partial files left
// by an earlier attempt.
func (y *YTDLP) Transfer(ctx context.Context, req Request, onProgress ProgressFunc) (*Artifact, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu      sync.Mutex
		stopErr error
	)

	dl := y.command(req)
	dl.ProgressFunc(y.interval(), func(update ytdlp.ProgressUpdate) {
		mu.Lock()
		stopped := stopErr != nil
		mu.Unlock()
		if stopped || onProgress == nil {
			return
		}
		if err := onProgress(convertUpdate(&update)); err != nil {
			mu.Lock()
			stopErr = err
			mu.Unlock()
			cancel()
		}
	})

	result, err := dl.Run(runCtx, req.URL)

	mu.Lock()
	signalErr := stopErr
	mu.Unlock()
	if signalErr != nil {
		return nil, signalErr
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, NewError(req.URL, err, isTransientMessage(err))
	}

	artifact := &Artifact{}
	if result != nil {
		if info, infoErr := result.GetExtractedInfo(); infoErr == nil && len(info) > 0 {
			if info[0].Filename != nil {
				artifact.Filename = *info[0].Filename
			}
			if info[0].Title != nil {
				artifact.Title = *info[0].Title
			}
		}
	}
	return artifact, nil
}

func (y *YTDLP) command(req Request) *ytdlp.Command {
	template := req.OutputTemplate
	if template == "" {
		template = DefaultOutputTemplate
	}
	merge := req.MergeFormat
	if merge == "" {
		merge = DefaultMergeFormat
	}

	dl := ytdlp.New().
		Continue().
		NoCheckCertificates().
		NoPlaylist().
		RestrictFilenames().
		MergeOutputFormat(merge).
		Output(filepath.Join(req.Workspace, template))

	if req.Format != "" {
		dl = dl.Format(req.Format)
	}
	if req.CookiesFile != "" {
		dl = dl.Cookies(req.CookiesFile)
	}
	if y.ConcurrentFragments > 0 {
		dl = dl.ConcurrentFragments(y.ConcurrentFragments)
	}
	if y.Retries > 0 {
		dl = dl.Retries(strconv.Itoa(y.Retries)).FragmentRetries(strconv.Itoa(y.Retries))
	}
	return dl
}

func (y *YTDLP) interval() time.Duration {
	if y.ProgressInterval <= 0 {
		return DefaultProgressInterval
	}
	return y.ProgressInterval
}

// convertUpdate maps a yt-dlp progress report to an engine update
func convertUpdate(update *ytdlp.ProgressUpdate) Update {
	u := Update{
		Phase:           PhaseDownloading,
		DownloadedBytes: int64(update.DownloadedBytes),
		FilenameHint:    update.Filename,
	}
	switch update.Status {
	case ytdlp.ProgressStatusFinished, ytdlp.ProgressStatusPostProcessing:
		u.Phase = PhaseFinished
	}
	if update.TotalBytes > 0 {
		total := int64(update.TotalBytes)
		u.TotalBytes = &total
	}
	if !update.Started.IsZero() {
		if elapsed := time.Since(update.Started).Seconds(); elapsed > 0 {
			speed := float64(update.DownloadedBytes) / elapsed
			u.SpeedBPS = &speed
		}
	}
	if eta := update.ETA(); eta > 0 {
		secs := int64(eta.Seconds())
		u.ETASeconds = &secs
	}
	if update.Info != nil && update.Info.Title != nil {
		u.Title = *update.Info.Title
	}
	return u
}

func isTransientMessage(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return false
		}
	}
	return true
}
