package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/ericfisherdev/buildpulse/internal/domain/port/driven"
)

// Exporter mirrors every broadcast build event to an external event bus. It
// is an ordinary live subscriber, so a stalled bus only costs the exporter its
// subscription; it resubscribes and carries on.
type Exporter struct {
	broadcaster *Broadcaster
	publisher   driven.EventPublisher
	timeout     time.Duration
	logger      *slog.Logger
}

// NewExporter creates an Exporter. timeout bounds each publish call.
func NewExporter(broadcaster *Broadcaster, publisher driven.EventPublisher, timeout time.Duration, logger *slog.Logger) *Exporter {
	if timeout <= 0 {
		timeout = defaultDeliveryTimeout
	}
	return &Exporter{
		broadcaster: broadcaster,
		publisher:   publisher,
		timeout:     timeout,
		logger:      logger,
	}
}

// Start forwards events until ctx is canceled. Start blocks.
func (e *Exporter) Start(ctx context.Context) {
	for {
		sub := e.broadcaster.Subscribe()
		if !e.drain(ctx, sub) {
			e.broadcaster.Unsubscribe(sub)
			e.logger.Info("event exporter stopped")
			return
		}
		e.logger.Warn("event exporter subscription dropped, resubscribing", "subscriber", sub.ID)
	}
}

// drain forwards events from sub. It returns false when ctx ends and true
// when the broadcaster closed the subscription.
func (e *Exporter) drain(ctx context.Context, sub *Subscription) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-sub.C:
			if !ok {
				return ctx.Err() == nil
			}
			pctx, cancel := context.WithTimeout(ctx, e.timeout)
			err := e.publisher.Publish(pctx, event)
			cancel()
			if err != nil {
				e.logger.Error("event export failed", "id", event.ID, "pipeline", event.Pipeline, "error", err)
			}
		}
	}
}
