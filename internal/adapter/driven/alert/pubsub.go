package alert

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/ericfisherdev/buildpulse/internal/domain/model"
	"github.com/ericfisherdev/buildpulse/internal/domain/port/driven"
)

var _ driven.AlertTransport = (*PubSubTransport)(nil)

// PubSubTransport publishes alerts as JSON messages to a Pub/Sub topic so
// downstream consumers (paging, ticketing) can react to them.
type PubSubTransport struct {
	topic *pubsub.Topic
}

// NewPubSubTransport publishes to topicID through client.
func NewPubSubTransport(client *pubsub.Client, topicID string) *PubSubTransport {
	return &PubSubTransport{topic: client.Topic(topicID)}
}

// alertMessage is the published JSON document.
type alertMessage struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	BuildID   int64  `json:"build_id"`
	Provider  string `json:"provider"`
	Pipeline  string `json:"pipeline"`
	Repo      string `json:"repo"`
	Branch    string `json:"branch"`
	Status    string `json:"status"`
	URL       string `json:"url,omitempty"`
	CreatedAt string `json:"created_at"`
}

// Name implements driven.AlertTransport.
func (p *PubSubTransport) Name() string { return "pubsub" }

// Deliver implements driven.AlertTransport. It waits for the server ack.
func (p *PubSubTransport) Deliver(ctx context.Context, a model.Alert) error {
	data, err := json.Marshal(alertMessage{
		ID:        a.ID,
		Kind:      string(a.Kind),
		Title:     a.Title,
		Body:      a.Body,
		BuildID:   a.Event.ID,
		Provider:  string(a.Event.Provider),
		Pipeline:  a.Event.Pipeline,
		Repo:      a.Event.Repo,
		Branch:    a.Event.Branch,
		Status:    string(a.Event.Status),
		URL:       a.Event.URL,
		CreatedAt: a.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	})
	if err != nil {
		return fmt.Errorf("marshal alert message: %w", err)
	}

	_, err = p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"alert_id": a.ID,
			"kind":     string(a.Kind),
			"pipeline": a.Event.Pipeline,
			"repo":     a.Event.Repo,
		},
	}).Get(ctx)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic.ID(), err)
	}

	return nil
}

// Stop flushes pending messages and releases the topic's goroutines.
func (p *PubSubTransport) Stop() {
	p.topic.Stop()
}
