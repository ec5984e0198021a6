package application

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ericfisherdev/buildpulse/internal/domain/port/driven"
)

// CycleStats summarizes one collection pass.
type CycleStats struct {
	Sources  int
	Failed   int // Sources whose fetch failed.
	Sent     int
	Skipped  int // Runs already reported with the same status.
	Rejected int // Payloads the ingestion endpoint refused or could not take.
}

// CollectorService polls build sources and forwards new or changed runs to
// the ingestion endpoint. Each tick polls only the sources that are due: busy
// sources every tick, quiet ones less often (see ActivityTier). A failing
// source is logged and retried on the next tick; it never stops the others.
type CollectorService struct {
	sources  []driven.BuildSource
	client   driven.IngestClient
	interval time.Duration
	logger   *slog.Logger

	// reported holds, per source, the last status sent for each run still
	// present in that source's listing. Only touched by the polling goroutine.
	reported map[string]map[string]string

	mu        sync.RWMutex
	schedules map[string]*sourceSchedule
}

// NewCollectorService creates a CollectorService with all required dependencies.
func NewCollectorService(
	sources []driven.BuildSource,
	client driven.IngestClient,
	interval time.Duration,
	logger *slog.Logger,
) *CollectorService {
	return &CollectorService{
		sources:  sources,
		client:   client,
		interval: interval,
		logger:   logger,
		reported: make(map[string]map[string]string, len(sources)),

		schedules: make(map[string]*sourceSchedule, len(sources)),
	}
}

// Start runs an immediate pass over every source, then on each interval tick
// polls the sources whose schedule is due. Start blocks until the context is
// canceled.
func (s *CollectorService) Start(ctx context.Context) {
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("collector stopped")
			return
		case <-ticker.C:
			s.runDue(ctx, time.Now())
		}
	}
}

// RunOnce polls every source once, due or not.
func (s *CollectorService) RunOnce(ctx context.Context) CycleStats {
	return s.run(ctx, s.sources)
}

// runDue polls the sources whose next poll time has passed. Sources never
// polled before are always due.
func (s *CollectorService) runDue(ctx context.Context, now time.Time) CycleStats {
	s.mu.RLock()
	due := make([]driven.BuildSource, 0, len(s.sources))
	for _, src := range s.sources {
		sched, ok := s.schedules[src.Name()]
		if !ok || !now.Before(sched.nextPollAt) {
			due = append(due, src)
		}
	}
	s.mu.RUnlock()

	if len(due) == 0 {
		return CycleStats{}
	}
	return s.run(ctx, due)
}

func (s *CollectorService) run(ctx context.Context, sources []driven.BuildSource) CycleStats {
	start := time.Now()
	stats := CycleStats{Sources: len(sources)}

	for _, src := range sources {
		if ctx.Err() != nil {
			break
		}
		s.collect(ctx, src, &stats)
	}

	s.logger.Info("collection cycle complete",
		"sources", stats.Sources,
		"failed", stats.Failed,
		"sent", stats.Sent,
		"skipped", stats.Skipped,
		"rejected", stats.Rejected,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	return stats
}

func (s *CollectorService) collect(ctx context.Context, src driven.BuildSource, stats *CycleStats) {
	payloads, err := src.FetchBuilds(ctx)
	if err != nil {
		stats.Failed++
		s.logger.Error("source fetch failed", "source", src.Name(), "error", err)
		s.reschedule(src.Name(), TierHot)
		return
	}
	defer s.reschedule(src.Name(), classifySource(src.Provider(), payloads, time.Now()))

	prev := s.reported[src.Name()]
	next := make(map[string]string, len(payloads))

	// Oldest first, so the server sees transitions in the order they happened.
	for i := len(payloads) - 1; i >= 0; i-- {
		p := payloads[i]

		if p.RunKey != "" && prev[p.RunKey] == p.Status {
			next[p.RunKey] = p.Status
			stats.Skipped++
			continue
		}

		if err := s.client.Ingest(ctx, src.Provider(), p); err != nil {
			stats.Rejected++
			s.logger.Error("ingest failed",
				"source", src.Name(),
				"pipeline", p.Pipeline,
				"run", p.RunKey,
				"error", err,
			)
			continue
		}

		stats.Sent++
		if p.RunKey != "" {
			next[p.RunKey] = p.Status
		}
	}

	s.reported[src.Name()] = next
}

// reschedule records a poll of name and sets its next poll time from tier.
func (s *CollectorService) reschedule(name string, tier ActivityTier) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	sched, ok := s.schedules[name]
	if !ok {
		sched = &sourceSchedule{}
		s.schedules[name] = sched
	}
	if ok && sched.tier != tier {
		s.logger.Debug("source activity tier changed", "source", name, "from", sched.tier, "to", tier)
	}
	sched.tier = tier
	sched.lastPolled = now
	// Half a tick of slack so a source due on this tick is not pushed to the next.
	sched.nextPollAt = now.Add(tierInterval(tier, s.interval) - s.interval/2)
}
