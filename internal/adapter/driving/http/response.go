package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/buildpulse/internal/application"
	"github.com/ericfisherdev/buildpulse/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body. Field names the
// offending payload field for rejected ingestions.
type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// BuildResponse is the JSON representation of a stored build event. It is
// also the message format of the live channels.
type BuildResponse struct {
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
	Logs            string   `json:"logs"`
	ReceivedAt      string   `json:"received_at"`
}

// SummaryResponse is the JSON representation of a metrics summary.
type SummaryResponse struct {
	WindowSeconds        float64           `json:"window_seconds"`
	SuccessRate          float64           `json:"success_rate"`
	FailureRate          float64           `json:"failure_rate"`
	AvgBuildTime         float64           `json:"avg_build_time"`
	TotalBuilds          int               `json:"total_builds"`
	LastStatusByPipeline map[string]string `json:"last_status_by_pipeline"`
}

// SuppressionResponse is the JSON representation of an alert suppression record.
type SuppressionResponse struct {
	Pipeline        string  `json:"pipeline"`
	Repo            string  `json:"repo"`
	State           string  `json:"state"`
	LastStatus      string  `json:"last_status"`
	LastAlertedAt   *string `json:"last_alerted_at"`
	LastDecisionAt  string  `json:"last_decision_at"`
	SuppressedCount int     `json:"suppressed_count"`
}

// HealthResponse is the JSON response for the health check endpoint.
type HealthResponse struct {
	Status      string           `json:"status"`
	Time        string           `json:"time"`
	Store       string           `json:"store"`
	Subscribers int              `json:"subscribers"`
	Alerts      AlertStatsOutput `json:"alerts"`
}

// AlertStatsOutput reports alert transport counters since startup.
type AlertStatsOutput struct {
	Attempted int64 `json:"attempted"`
	Failed    int64 `json:"failed"`
}

func toBuildResponse(e model.BuildEvent) BuildResponse {
	return BuildResponse{
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
		Logs:            e.Logs,
		ReceivedAt:      e.ReceivedAt.UTC().Format(time.RFC3339Nano),
	}
}

func toSummaryResponse(s model.Summary) SummaryResponse {
	last := make(map[string]string, len(s.LastStatusByPipeline))
	for pipeline, status := range s.LastStatusByPipeline {
		last[pipeline] = string(status)
	}

	return SummaryResponse{
		WindowSeconds:        s.Window.Seconds(),
		SuccessRate:          s.SuccessRate,
		FailureRate:          s.FailureRate,
		AvgBuildTime:         s.AvgBuildTime,
		TotalBuilds:          s.TotalBuilds,
		LastStatusByPipeline: last,
	}
}

func toSuppressionResponses(records []model.SuppressionRecord) []SuppressionResponse {
	resp := make([]SuppressionResponse, 0, len(records))
	for _, rec := range records {
		var alertedAt *string
		if !rec.LastAlertedAt.IsZero() {
			s := rec.LastAlertedAt.UTC().Format(time.RFC3339)
			alertedAt = &s
		}
		resp = append(resp, SuppressionResponse{
			Pipeline:        rec.Key.Pipeline,
			Repo:            rec.Key.Repo,
			State:           string(rec.State),
			LastStatus:      string(rec.LastStatus),
			LastAlertedAt:   alertedAt,
			LastDecisionAt:  rec.LastDecisionAt.UTC().Format(time.RFC3339),
			SuppressedCount: rec.SuppressedCount,
		})
	}
	return resp
}

func toAlertStats(s application.DeliveryStats) AlertStatsOutput {
	return AlertStatsOutput{Attempted: s.Attempted, Failed: s.Failed}
}

func formatOptional(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}
