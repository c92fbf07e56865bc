package platform

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Hosts
const (
	YouTubeHost      = "youtube.com"
	YouTubeShortHost = "youtu.be"
)

// URL templates
const (
	YouTubeVideoURLTemplate = "https://www.youtube.com/watch?v=%s"
)

// cookieFiles maps a cookie jar file to the host fragments it serves
var cookieFiles = []struct {
	file  string
	hosts []string
}{
	{"youtube.txt", []string{YouTubeHost, YouTubeShortHost}},
	{"instagram.txt", []string{"instagram.com"}},
	{"facebook.txt", []string{"facebook.com", "fb.watch"}},
	{"twitter.txt", []string{"twitter.com", "x.com"}},
}

// NormalizeVideoURL rewrites YouTube URLs that carry playlist context into a
// single-video watch URL so the transfer never enumerates a whole playlist.
// Other URLs are returned unchanged.
func NormalizeVideoURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	host := strings.ToLower(u.Host)
	if !strings.Contains(host, YouTubeHost) && !strings.Contains(host, YouTubeShortHost) {
		return raw
	}

	vid := u.Query().Get("v")
	if vid == "" && strings.HasSuffix(host, YouTubeShortHost) {
		vid = strings.Split(strings.TrimPrefix(u.Path, "/"), "/")[0]
	}
	if vid == "" {
		return raw
	}
	clean := url.URL{
		Scheme:   "https",
		Host:     "www." + YouTubeHost,
		Path:     "/watch",
		RawQuery: url.Values{"v": {vid}}.Encode(),
	}
	return clean.String()
}

// CookiesFor returns the cookie jar in dir matching the URL host, or "" when
// none applies or the file does not exist.
func CookiesFor(dir, rawURL string) string {
	if dir == "" {
		return ""
	}
	lower := strings.ToLower(rawURL)
	for _, c := range cookieFiles {
		for _, h := range c.hosts {
			if strings.Contains(lower, h) {
				path := filepath.Join(dir, c.file)
				if _, err := os.Stat(path); err != nil {
					return ""
				}
				return path
			}
		}
	}
	return ""
}
