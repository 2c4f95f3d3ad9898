package fetch

import "context"

// Metadata describes media before it is downloaded.
type Metadata struct {
	ID              string
	Title           string
	DurationSeconds float64
	ThumbnailURL    string
	Extractor       string
	IsLive          bool
}

// Engine retrieves metadata and media for a canonical URL. FetchMedia must
// write the complete media file to target, or return an error; partial data
// left at target after an error is the caller's to discard.
type Engine interface {
	FetchMetadata(ctx context.Context, url string) (Metadata, error)
	FetchMedia(ctx context.Context, url, quality, target string) error
}
