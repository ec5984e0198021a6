// Package kafka mirrors stored build events to a Kafka or Redpanda topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/ericfisherdev/buildpulse/internal/domain/model"
	"github.com/ericfisherdev/buildpulse/internal/domain/port/driven"
)

var _ driven.EventPublisher = (*Publisher)(nil)

// producer is the subset of *kgo.Client the publisher uses.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// Publisher produces one record per build event, keyed by pipeline so every
// pipeline's events stay in one partition and keep their order.
type Publisher struct {
	client producer
	topic  string

	mu     sync.RWMutex
	closed bool
}

// NewPublisher connects to brokers. The topic is created on first use when
// the cluster allows it.
func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker address is required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.AllowAutoTopicCreation(),
		kgo.ProducerBatchMaxBytes(1<<20),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	return &Publisher{client: client, topic: topic}, nil
}

// buildRecord is the record value.
type buildRecord struct {
	ID              int64    `json:"id"`
	Provider        string   `json:"provider"`
	Pipeline        string   `json:"pipeline"`
	Repo            string   `json:"repo"`
	Branch          string   `json:"branch"`
	Status          string   `json:"status"`
	StartedAt       *string  `json:"started_at"`
	CompletedAt     *string  `json:"completed_at"`
	DurationSeconds *float64 `json:"duration_seconds"`
	URL             string   `json:"url"`
	ReceivedAt      string   `json:"received_at"`
}

// Publish implements driven.EventPublisher.
func (p *Publisher) Publish(ctx context.Context, event model.BuildEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return fmt.Errorf("publisher is closed")
	}

	value, err := json.Marshal(toRecord(event))
	if err != nil {
		return fmt.Errorf("marshal build %d: %w", event.ID, err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.Pipeline),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "build_id", Value: []byte(strconv.FormatInt(event.ID, 10))},
			{Key: "provider", Value: []byte(event.Provider)},
			{Key: "status", Value: []byte(event.Status)},
		},
	}

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce build %d to %s: %w", event.ID, p.topic, err)
	}

	return nil
}

// Close closes the client. Further publishes fail.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.client.Close()
	return nil
}

func toRecord(e model.BuildEvent) buildRecord {
	return buildRecord{
		ID:              e.ID,
		Provider:        string(e.Provider),
		Pipeline:        e.Pipeline,
		Repo:            e.Repo,
		Branch:          e.Branch,
		Status:          string(e.Status),
		StartedAt:       formatOptional(e.StartedAt),
		CompletedAt:     formatOptional(e.CompletedAt),
		DurationSeconds: e.DurationSeconds,
		URL:             e.URL,
		ReceivedAt:      e.ReceivedAt.UTC().Format(time.RFC3339Nano),
	}
}

func formatOptional(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}
