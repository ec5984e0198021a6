package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/buildpulse/internal/domain/model"
)

// BuildStore defines the driven port for the append-only build event log.
type BuildStore interface {
	// Append assigns the next ID and a received-at timestamp, stores the event
	// durably and returns the stored copy. Failures are *model.StorageError.
	Append(ctx context.Context, event model.BuildEvent) (model.BuildEvent, error)
	// List returns at most limit events, most recent first. An empty provider
	// means all providers.
	List(ctx context.Context, limit int, provider model.Provider) ([]model.BuildEvent, error)
	// Window returns the events whose effective time falls within [now-d, now],
	// ordered by ID.
	Window(ctx context.Context, d time.Duration) ([]model.BuildEvent, error)
	// LatestPerPipeline returns the event with the greatest ID for each pipeline.
	LatestPerPipeline(ctx context.Context) (map[string]model.BuildEvent, error)
}

// StoreChecker is implemented by build stores that can report whether their
// backing database is reachable.
type StoreChecker interface {
	Ping(ctx context.Context) error
}
