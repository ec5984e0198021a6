package application

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ericfisherdev/buildpulse/internal/domain/model"
	"github.com/ericfisherdev/buildpulse/internal/domain/port/driven"
)

// IngestService runs one inbound payload through normalize, append, alert
// evaluation and broadcast as a single logical unit.
type IngestService struct {
	normalizer  *Normalizer
	store       driven.BuildStore
	alerts      *AlertDispatcher
	broadcaster *Broadcaster
	logger      *slog.Logger

	// seq keeps append, alert-state transition and publish in ID order so every
	// subscriber and the suppression state machine observe insertion order.
	seq sync.Mutex
}

// NewIngestService creates an IngestService with all required dependencies.
func NewIngestService(
	normalizer *Normalizer,
	store driven.BuildStore,
	alerts *AlertDispatcher,
	broadcaster *Broadcaster,
	logger *slog.Logger,
) *IngestService {
	return &IngestService{
		normalizer:  normalizer,
		store:       store,
		alerts:      alerts,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// Ingest normalizes raw, stores it and reacts to it. It returns the stored
// event once it is durable; alert delivery and live broadcast failures are
// logged and never returned. Errors are *model.NormalizationError,
// *model.StorageError or wrap model.ErrUnknownProvider.
//
// Caller cancellation does not abort an ingest that has passed validation.
func (s *IngestService) Ingest(ctx context.Context, provider model.Provider, raw []byte) (model.BuildEvent, error) {
	event, err := s.normalizer.Normalize(provider, raw)
	if err != nil {
		return model.BuildEvent{}, err
	}

	ctx = context.WithoutCancel(ctx)

	s.seq.Lock()
	stored, err := s.store.Append(ctx, event)
	if err != nil {
		s.seq.Unlock()
		return model.BuildEvent{}, err
	}
	alert := s.alerts.Evaluate(stored)
	dropped := s.broadcaster.Publish(stored)
	s.seq.Unlock()

	s.logger.Info("build ingested",
		"id", stored.ID,
		"provider", stored.Provider,
		"pipeline", stored.Pipeline,
		"repo", stored.Repo,
		"status", stored.Status,
		"dropped_subscribers", dropped,
	)

	if alert != nil {
		// Delivery errors are already logged and counted by the dispatcher.
		_ = s.alerts.Deliver(ctx, *alert)
	}

	return stored, nil
}
