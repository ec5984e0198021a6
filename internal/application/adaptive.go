package application

import (
	"time"

	"github.com/ericfisherdev/buildpulse/internal/domain/model"
)

// ActivityTier classifies a build source by how recently it ran a build. The
// collector polls quiet sources less often than busy ones.
type ActivityTier int

const (
	// TierHot means a run is in progress or finished within the last hour.
	// Polled every tick.
	TierHot ActivityTier = iota
	// TierActive means the last run finished within the last day.
	TierActive
	// TierWarm means the last run finished within the last 7 days.
	TierWarm
	// TierStale means no run for 7+ days, or none reported at all.
	TierStale
)

// Poll intervals per tier, as multiples of the collector's base interval.
const (
	ticksHot    = 1
	ticksActive = 3
	ticksWarm   = 8
	ticksStale  = 15
)

// String returns a human-readable name for the activity tier.
func (t ActivityTier) String() string {
	switch t {
	case TierHot:
		return "hot"
	case TierActive:
		return "active"
	case TierWarm:
		return "warm"
	case TierStale:
		return "stale"
	default:
		return "unknown"
	}
}

// tierInterval returns the polling interval for tier given the base interval.
func tierInterval(tier ActivityTier, base time.Duration) time.Duration {
	switch tier {
	case TierHot:
		return ticksHot * base
	case TierActive:
		return ticksActive * base
	case TierWarm:
		return ticksWarm * base
	case TierStale:
		return ticksStale * base
	default:
		return ticksActive * base
	}
}

// classifyActivity determines the activity tier from the time elapsed since
// the last activity. A zero-value time is treated as TierStale.
func classifyActivity(lastActivity, now time.Time) ActivityTier {
	if lastActivity.IsZero() {
		return TierStale
	}

	elapsed := now.Sub(lastActivity)

	switch {
	case elapsed < 1*time.Hour:
		return TierHot
	case elapsed < 24*time.Hour:
		return TierActive
	case elapsed < 7*24*time.Hour:
		return TierWarm
	default:
		return TierStale
	}
}

// classifySource picks the tier for a source from its latest listing. A run
// that has not finished keeps the source hot so its outcome is seen quickly.
func classifySource(provider model.Provider, payloads []model.IngestPayload, now time.Time) ActivityTier {
	arm, known := providerArms[provider]
	for _, p := range payloads {
		if known && arm.mapStatus(p.Status) == model.BuildStatusInProgress {
			return TierHot
		}
	}
	return classifyActivity(freshestActivity(payloads), now)
}

// sourceSchedule tracks per-source adaptive polling state.
type sourceSchedule struct {
	tier       ActivityTier
	nextPollAt time.Time
	lastPolled time.Time
}

// freshestActivity finds the most recent completion or start time across all
// payloads. Returns the zero time if none carries a timestamp.
func freshestActivity(payloads []model.IngestPayload) time.Time {
	var newest time.Time
	for _, p := range payloads {
		for _, t := range []*time.Time{p.CompletedAt, p.StartedAt} {
			if t != nil && t.After(newest) {
				newest = *t
			}
		}
	}
	return newest
}
