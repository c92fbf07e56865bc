package platform

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ytget/ytdlp/v2"

	"github.com/ytget/ytjobs/internal/model"
)

// Timeout constants
const (
	DefaultParseTimeout = 60 * time.Second
)

// URL parameters and separators
const (
	PlaylistParam  = "list="
	ParamSeparator = "&"
)

// Playlist title constants
const (
	DefaultPlaylistName = "Unknown Playlist"
	MinPrefixLength     = 10
	PlaylistSuffix      = " Playlist"
)

// playlistEntry is the subset of a listed playlist item the parser needs
type playlistEntry struct {
	VideoID string
	Title   string
}

// fetchFunc lists the entries of a playlist by id
type fetchFunc func(ctx context.Context, playlistID string) ([]playlistEntry, error)

// PlaylistParser expands YouTube playlists into single-video items
type PlaylistParser struct {
	timeout time.Duration
	fetch   fetchFunc
}

// NewPlaylistParser creates a parser backed by the ytdlp library
func NewPlaylistParser() *PlaylistParser {
	return &PlaylistParser{
		timeout: DefaultParseTimeout,
		fetch:   fetchWithLibrary,
	}
}

// SetTimeout sets the timeout for parsing operations
func (p *PlaylistParser) SetTimeout(timeout time.Duration) {
	p.timeout = timeout
}

// IsPlaylistURL reports whether the URL carries a playlist id
func IsPlaylistURL(url string) bool {
	return extractPlaylistID(url) != ""
}

// ParsePlaylist fetches the playlist and returns one item per video
func (p *PlaylistParser) ParsePlaylist(ctx context.Context, url string) (*model.Playlist, error) {
	if !strings.Contains(url, PlaylistParam) {
		return nil, fmt.Errorf("invalid playlist URL: %s", url)
	}

	playlistID := extractPlaylistID(url)
	if playlistID == "" {
		return nil, fmt.Errorf("could not extract playlist ID from URL: %s", url)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	entries, err := p.fetch(ctx, playlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to get playlist items: %w", err)
	}

	playlist := model.NewPlaylist(url)
	playlist.ID = playlistID
	for _, e := range entries {
		if e.VideoID == "" {
			continue
		}
		playlist.AddItem(&model.PlaylistItem{
			VideoID: e.VideoID,
			Title:   e.Title,
			URL:     fmt.Sprintf(YouTubeVideoURLTemplate, e.VideoID),
		})
	}
	playlist.Title = extractPlaylistTitle(playlist.Items)

	return playlist, nil
}

func fetchWithLibrary(ctx context.Context, playlistID string) ([]playlistEntry, error) {
	d := ytdlp.New()
	items, err := d.GetPlaylistItemsAll(ctx, playlistID, 0)
	if err != nil {
		return nil, err
	}
	out := make([]playlistEntry, 0, len(items))
	for _, it := range items {
		out = append(out, playlistEntry{VideoID: it.VideoID, Title: it.Title})
	}
	return out, nil
}

// extractPlaylistID extracts the playlist ID from various URL formats
func extractPlaylistID(url string) string {
	parts := strings.SplitN(url, PlaylistParam, 2)
	if len(parts) < 2 {
		return ""
	}
	return strings.Split(parts[1], ParamSeparator)[0]
}

// extractPlaylistTitle generates a title for the playlist based on its items
func extractPlaylistTitle(items []*model.PlaylistItem) string {
	if len(items) == 0 {
		return DefaultPlaylistName
	}
	if len(items) > 1 {
		commonPrefix := findCommonPrefix(items[0].Title, items[1].Title)
		if len(commonPrefix) > MinPrefixLength {
			return strings.TrimSpace(commonPrefix) + PlaylistSuffix
		}
	}
	return items[0].Title + PlaylistSuffix
}

// findCommonPrefix finds the common prefix between two strings
func findCommonPrefix(s1, s2 string) string {
	minLen := min(len(s1), len(s2))
	for i := 0; i < minLen; i++ {
		if s1[i] != s2[i] {
			return s1[:i]
		}
	}
	return s1[:minLen]
}
