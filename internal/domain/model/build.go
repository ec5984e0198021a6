package model

import "time"

// BuildEvent is the canonical record of one pipeline run's outcome.
// Events are immutable once appended to the build store.
type BuildEvent struct {
	ID              int64       // Assigned by the build store; strictly increasing.
	Provider        Provider    // Set by the ingestion endpoint that received the event.
	Pipeline        string      // Never empty.
	Repo            string      // Free text; may be empty.
	Branch          string      // "unknown" when the source omits it.
	Status          BuildStatus // Always one of the canonical values.
	StartedAt       *time.Time
	CompletedAt     *time.Time
	DurationSeconds *float64 // Non-negative when present.
	URL             string
	Logs            string    // Excerpt used only in alert bodies.
	ReceivedAt      time.Time // Assigned by the build store at insertion.
}

// EffectiveTime returns the instant used for window membership: completion
// time, else start time, else the time the store received the event.
func (e BuildEvent) EffectiveTime() time.Time {
	if e.CompletedAt != nil {
		return *e.CompletedAt
	}
	if e.StartedAt != nil {
		return *e.StartedAt
	}
	return e.ReceivedAt
}

// Duration returns the run duration in seconds. An explicit duration wins;
// otherwise it is derived from the timestamps when both are present and
// ordered. ok is false when neither source is available.
func (e BuildEvent) Duration() (seconds float64, ok bool) {
	if e.DurationSeconds != nil {
		return *e.DurationSeconds, true
	}
	if e.StartedAt != nil && e.CompletedAt != nil && !e.CompletedAt.Before(*e.StartedAt) {
		return e.CompletedAt.Sub(*e.StartedAt).Seconds(), true
	}
	return 0, false
}
