package model

import "time"

// AlertKind distinguishes failure alerts from the optional recovery notice.
type AlertKind string

const (
	AlertKindFailure  AlertKind = "failure"
	AlertKindRecovery AlertKind = "recovery"
)

// Alert is a message handed to every configured alert transport.
type Alert struct {
	ID        string
	Kind      AlertKind
	Title     string
	Body      string // Markdown.
	Event     BuildEvent
	CreatedAt time.Time
}

// SuppressionKey identifies the (pipeline, repo) pair alerts are deduplicated on.
type SuppressionKey struct {
	Pipeline string
	Repo     string
}

// SuppressionRecord remembers whether a failure alert is in effect for a key.
type SuppressionRecord struct {
	Key             SuppressionKey
	State           SuppressionState
	LastStatus      BuildStatus // Status of the event behind the last alert decision.
	LastAlertedAt   time.Time   // When the last failure alert was emitted.
	LastDecisionAt  time.Time
	SuppressedCount int // Failures swallowed since the last alert.
}
