package driven

import (
	"context"

	"github.com/ericfisherdev/buildpulse/internal/domain/model"
)

// EventPublisher mirrors stored build events to an external event bus.
type EventPublisher interface {
	Publish(ctx context.Context, event model.BuildEvent) error
	Close() error
}
