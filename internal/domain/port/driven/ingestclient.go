package driven

import (
	"context"

	"github.com/ericfisherdev/buildpulse/internal/domain/model"
)

// BuildSource fetches the current state of one provider and returns it as
// normalized ingestion payloads, newest first. Implementations live outside
// the core.
type BuildSource interface {
	Name() string
	Provider() model.Provider
	FetchBuilds(ctx context.Context) ([]model.IngestPayload, error)
}

// IngestClient posts normalized payloads to the ingestion endpoint.
type IngestClient interface {
	Ingest(ctx context.Context, provider model.Provider, payload model.IngestPayload) error
}
