package model

import "time"

// IngestPayload is the normalized wire shape a collector POSTs to
// /ingest/{provider}. Status carries the provider's own vocabulary; the
// normalizer maps it onto BuildStatus.
type IngestPayload struct {
	Pipeline        string     `json:"pipeline"`
	Repo            string     `json:"repo"`
	Branch          string     `json:"branch,omitempty"`
	Status          string     `json:"status"`
	StartedAt       *time.Time `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at"`
	DurationSeconds *float64   `json:"duration_seconds"`
	URL             string     `json:"url,omitempty"`
	Logs            string     `json:"logs,omitempty"`

	// RunKey identifies the provider run. Collectors use it to avoid
	// re-reporting a run whose status has not changed; it is not sent.
	RunKey string `json:"-"`
}
