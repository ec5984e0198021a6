package model

import "time"

// Summary is the health snapshot computed by the metrics engine.
type Summary struct {
	Window               time.Duration
	SuccessRate          float64 // Percentage of terminal builds that succeeded.
	FailureRate          float64 // Percentage of terminal builds that failed.
	AvgBuildTime         float64 // Mean duration in seconds of windowed builds with a duration.
	TotalBuilds          int     // Terminal builds in the window.
	LastStatusByPipeline map[string]BuildStatus
}
