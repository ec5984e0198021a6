package application

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ericfisherdev/buildpulse/internal/domain/model"
	"github.com/ericfisherdev/buildpulse/internal/domain/port/driven"
)

// MetricsService computes build health summaries straight from the build
// store on every call. Nothing is cached, so a summary can never drift from
// the stored events.
type MetricsService struct {
	store driven.BuildStore
}

// NewMetricsService creates a MetricsService reading from store.
func NewMetricsService(store driven.BuildStore) *MetricsService {
	return &MetricsService{store: store}
}

// Summary computes rates and average duration over the trailing window and the
// last known status of every pipeline regardless of the window.
func (s *MetricsService) Summary(ctx context.Context, window time.Duration) (model.Summary, error) {
	if window <= 0 {
		return model.Summary{}, fmt.Errorf("window must be positive, got %s", window)
	}

	events, err := s.store.Window(ctx, window)
	if err != nil {
		return model.Summary{}, fmt.Errorf("load window: %w", err)
	}

	latest, err := s.store.LatestPerPipeline(ctx)
	if err != nil {
		return model.Summary{}, fmt.Errorf("load latest per pipeline: %w", err)
	}

	summary := computeSummary(events)
	summary.Window = window
	summary.LastStatusByPipeline = make(map[string]model.BuildStatus, len(latest))
	for pipeline, event := range latest {
		summary.LastStatusByPipeline[pipeline] = event.Status
	}

	return summary, nil
}

// computeSummary aggregates the window-dependent fields. Only success and
// failure count towards the rates; every event with a known duration counts
// towards the average.
func computeSummary(events []model.BuildEvent) model.Summary {
	var succeeded, failed, timed int
	var totalDuration float64

	for _, e := range events {
		switch e.Status {
		case model.BuildStatusSuccess:
			succeeded++
		case model.BuildStatusFailure:
			failed++
		}
		if d, ok := e.Duration(); ok {
			totalDuration += d
			timed++
		}
	}

	var summary model.Summary
	summary.TotalBuilds = succeeded + failed
	if summary.TotalBuilds > 0 {
		summary.SuccessRate = round2(float64(succeeded) / float64(summary.TotalBuilds) * 100)
		summary.FailureRate = round2(float64(failed) / float64(summary.TotalBuilds) * 100)
	}
	if timed > 0 {
		summary.AvgBuildTime = round2(totalDuration / float64(timed))
	}

	return summary
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ParseWindow parses a window such as "90m", "24h", "7d" or "2w". It accepts
// every time.ParseDuration unit plus whole or fractional days and weeks, and
// rejects zero and negative windows.
func ParseWindow(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("window is empty")
	}

	var d time.Duration
	if unit, ok := windowUnits[s[len(s)-1]]; ok {
		n, err := strconv.ParseFloat(s[:len(s)-1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid window %q", s)
		}
		d = time.Duration(n * float64(unit))
	} else {
		var err error
		if d, err = time.ParseDuration(s); err != nil {
			return 0, fmt.Errorf("invalid window %q", s)
		}
	}

	if d <= 0 {
		return 0, fmt.Errorf("window %q must be positive", s)
	}
	return d, nil
}

var windowUnits = map[byte]time.Duration{
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}
