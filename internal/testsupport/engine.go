package testsupport

import (
	"context"
	"os"
	"sync"
	"sync/atomic"

	"shuttle/internal/fetch"
)

// FakeEngine is an in-memory fetch.Engine. By default it reports a short
// clip and writes Payload to the target.
type FakeEngine struct {
	Meta     fetch.Metadata
	MetaErr  error
	Payload  []byte
	MediaErr error

	// Gate, when non-nil, blocks FetchMedia until closed or ctx ends.
	Gate chan struct{}
	// Started receives the target path as each download begins. It should
	// be buffered; sends never block.
	Started chan string

	mu    sync.Mutex
	urls  []string
	calls atomic.Int32
}

// NewFakeEngine returns an engine that succeeds with a small payload.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{
		Meta:    fetch.Metadata{ID: "abc123", Title: "Test Clip", DurationSeconds: 42, Extractor: "youtube"},
		Payload: []byte("\x00\x00\x00\x18ftypmp42fake-media"),
	}
}

// FetchMetadata implements fetch.Engine.
func (f *FakeEngine) FetchMetadata(ctx context.Context, url string) (fetch.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return fetch.Metadata{}, err
	}
	if f.MetaErr != nil {
		return fetch.Metadata{}, f.MetaErr
	}
	return f.Meta, nil
}

// FetchMedia implements fetch.Engine.
func (f *FakeEngine) FetchMedia(ctx context.Context, url, quality, target string) error {
	f.calls.Add(1)
	f.mu.Lock()
	f.urls = append(f.urls, url)
	f.mu.Unlock()

	if f.Started != nil {
		select {
		case f.Started <- target:
		default:
		}
	}
	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.MediaErr != nil {
		return f.MediaErr
	}
	return os.WriteFile(target, f.Payload, 0o644)
}

// Calls returns how many downloads were attempted.
func (f *FakeEngine) Calls() int {
	return int(f.calls.Load())
}

// URLs returns the URLs passed to FetchMedia.
func (f *FakeEngine) URLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.urls...)
}
