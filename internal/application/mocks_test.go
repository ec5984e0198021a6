package application_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ericfisherdev/buildpulse/internal/domain/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mock implementations ---

// memBuildStore is an in-memory BuildStore. now defaults to time.Now.
type memBuildStore struct {
	mu        sync.Mutex
	events    []model.BuildEvent
	now       func() time.Time
	appendErr error
	windowErr error
}

func newMemBuildStore() *memBuildStore {
	return &memBuildStore{now: func() time.Time { return time.Now().UTC() }}
}

func (m *memBuildStore) Append(_ context.Context, event model.BuildEvent) (model.BuildEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return model.BuildEvent{}, &model.StorageError{Op: "append", Err: m.appendErr}
	}
	event.ID = int64(len(m.events) + 1)
	event.ReceivedAt = m.now()
	m.events = append(m.events, event)
	return event, nil
}

func (m *memBuildStore) List(_ context.Context, limit int, provider model.Provider) ([]model.BuildEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.BuildEvent
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		if provider != "" && m.events[i].Provider != provider {
			continue
		}
		out = append(out, m.events[i])
	}
	return out, nil
}

func (m *memBuildStore) Window(_ context.Context, d time.Duration) ([]model.BuildEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.windowErr != nil {
		return nil, &model.StorageError{Op: "window", Err: m.windowErr}
	}
	now := m.now()
	var out []model.BuildEvent
	for _, e := range m.events {
		t := e.EffectiveTime()
		if !t.Before(now.Add(-d)) && !t.After(now) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memBuildStore) LatestPerPipeline(_ context.Context) (map[string]model.BuildEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]model.BuildEvent)
	for _, e := range m.events {
		out[e.Pipeline] = e
	}
	return out, nil
}

func (m *memBuildStore) ids() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.events))
	for _, e := range m.events {
		ids = append(ids, e.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// recordingTransport records delivered alerts and optionally fails.
type recordingTransport struct {
	name    string
	mu      sync.Mutex
	alerts  []model.Alert
	fail    bool
	blockOn bool
}

func (r *recordingTransport) Name() string { return r.name }

func (r *recordingTransport) Deliver(ctx context.Context, alert model.Alert) error {
	if r.blockOn {
		<-ctx.Done()
		return ctx.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	if r.fail {
		return errors.New("transport down")
	}
	return nil
}

func (r *recordingTransport) delivered() []model.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Alert(nil), r.alerts...)
}

// recordingPublisher records exported events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []model.BuildEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event model.BuildEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}
