package fetch

import (
	"net/url"
	"path"
	"strings"

	"shuttle/internal/services"
)

const canonicalWatchURL = "https://www.youtube.com/watch?v="

var youtubeHosts = map[string]struct{}{
	"youtube.com":     {},
	"www.youtube.com": {},
	"m.youtube.com":   {},
}

// Canonicalize validates raw as an absolute http(s) URL and rewrites the
// short-link and shorts shapes of YouTube URLs to the watch form. Other URLs
// are returned unchanged apart from surrounding whitespace.
func Canonicalize(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", services.WithDetail(
			services.Wrap(services.ErrInvalidRequest, "fetch", "canonicalize", "empty url", nil),
			"url is required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return "", services.WithDetail(
			services.Wrap(services.ErrInvalidRequest, "fetch", "canonicalize", "unparseable url", err),
			"url must be absolute")
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", services.WithDetail(
			services.Wrap(services.ErrInvalidRequest, "fetch", "canonicalize", "unsupported scheme", nil),
			"url scheme must be http or https")
	}

	host := strings.ToLower(parsed.Hostname())
	switch {
	case host == "youtu.be":
		if id := firstSegment(parsed.Path); id != "" {
			return canonicalWatchURL + id, nil
		}
	default:
		if _, ok := youtubeHosts[host]; ok {
			if rest, found := strings.CutPrefix(parsed.Path, "/shorts/"); found {
				if id := firstSegment(rest); id != "" {
					return canonicalWatchURL + id, nil
				}
			}
		}
	}
	return trimmed, nil
}

func firstSegment(p string) string {
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" || p == "." {
		return ""
	}
	if idx := strings.IndexByte(p, '/'); idx >= 0 {
		p = p[:idx]
	}
	return url.QueryEscape(p)
}
