package jobs

import (
	"context"

	"shuttle/internal/artifact"
)

// ArtifactStore is the subset of the artifact store the manager uses.
type ArtifactStore interface {
	Reserve(id string) (artifact.Reservation, error)
	Finalize(id string) (int64, error)
	Discard(id string) error
	Exists(id string) bool
}

// Processor post-processes a downloaded file in place.
type Processor interface {
	Process(ctx context.Context, path string) error
}

// Journal persists job snapshots so they survive restarts.
type Journal interface {
	Save(ctx context.Context, view View) error
	Delete(ctx context.Context, id string) error
}

// Notifier announces terminal job transitions.
type Notifier interface {
	JobReady(ctx context.Context, view View)
	JobFailed(ctx context.Context, view View)
}
