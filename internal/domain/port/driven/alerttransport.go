package driven

import (
	"context"

	"github.com/ericfisherdev/buildpulse/internal/domain/model"
)

// AlertTransport delivers an alert over one outbound channel (Slack, email, ...).
// Deliver is called synchronously by the alert dispatcher with a bounded
// context; retrying is the transport's own concern.
type AlertTransport interface {
	Name() string
	Deliver(ctx context.Context, alert model.Alert) error
}
