package application

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/ericfisherdev/buildpulse/internal/domain/model"
)

// DefaultSubscriberBuffer is the per-subscriber queue length used when the
// broadcaster is created with a non-positive buffer size.
const DefaultSubscriberBuffer = 64

var errQueueFull = errors.New("subscriber queue full")

// Subscription is one live-update consumer. Events arrive on C in store
// insertion order; C is closed when the subscription ends for any reason.
type Subscription struct {
	ID string
	C  <-chan model.BuildEvent

	ch chan model.BuildEvent
}

// Broadcaster fans newly stored build events out to live subscribers. Publish
// never blocks: a subscriber whose queue is full is dropped.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[string]*Subscription
	buffer int
	logger *slog.Logger
}

// NewBroadcaster creates a Broadcaster whose subscribers buffer up to buffer events.
func NewBroadcaster(buffer int, logger *slog.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Broadcaster{
		subs:   make(map[string]*Subscription),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a new subscriber.
func (b *Broadcaster) Subscribe() *Subscription {
	ch := make(chan model.BuildEvent, b.buffer)
	sub := &Subscription{
		ID: uuid.NewString(),
		C:  ch,
		ch: ch,
	}

	b.mu.Lock()
	b.subs[sub.ID] = sub
	count := len(b.subs)
	b.mu.Unlock()

	b.logger.Info("live subscriber joined", "subscriber", sub.ID, "subscribers", count)
	return sub
}

// Unsubscribe removes sub and closes its channel. Calling it more than once,
// or after the broadcaster already dropped sub, is a no-op.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	removed := b.removeLocked(sub.ID)
	count := len(b.subs)
	b.mu.Unlock()

	if removed {
		b.logger.Info("live subscriber left", "subscriber", sub.ID, "subscribers", count)
	}
}

// Publish offers event to every registered subscriber. It returns the number
// of subscribers dropped because their queue was full.
func (b *Broadcaster) Publish(event model.BuildEvent) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	var dropped int
	for id, sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			b.removeLocked(id)
			dropped++
			b.logger.Warn("dropping slow live subscriber",
				"subscriber", id,
				"error", &model.DeliveryError{Channel: "subscriber " + id, Err: errQueueFull},
			)
		}
	}

	return dropped
}

// Count returns the number of connected subscribers.
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close drops every subscriber. Used on shutdown so streaming handlers return.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id := range b.subs {
		b.removeLocked(id)
	}
}

func (b *Broadcaster) removeLocked(id string) bool {
	sub, ok := b.subs[id]
	if !ok {
		return false
	}
	delete(b.subs, id)
	close(sub.ch)
	return true
}
