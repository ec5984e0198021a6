package application

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/ericfisherdev/buildpulse/internal/domain/model"
)

// payloadSchema describes the normalized ingestion body shared by every
// provider. Unknown properties are tolerated so collectors can send extras.
const payloadSchema = `{
	"type": "object",
	"properties": {
		"pipeline":         {"type": ["string", "null"]},
		"repo":             {"type": ["string", "null"]},
		"branch":           {"type": ["string", "null"]},
		"status":           {"type": ["string", "null"]},
		"started_at":       {"type": ["string", "null"]},
		"completed_at":     {"type": ["string", "null"]},
		"duration_seconds": {"type": ["number", "null"], "minimum": 0},
		"url":              {"type": ["string", "null"]},
		"logs":             {"type": ["string", "null"]}
	}
}`

const (
	defaultBranch   = "unknown"
	schemaRootField = "(root)"
)

// timestampLayouts are tried in order. Layouts without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// providerArm is one member of the tagged union of provider vocabularies.
type providerArm struct {
	defaultPipeline string
	mapStatus       func(status string) model.BuildStatus
}

var providerArms = map[model.Provider]providerArm{
	model.ProviderGitHub: {
		defaultPipeline: "github-workflow",
		mapStatus:       mapGitHubStatus,
	},
	model.ProviderJenkins: {
		defaultPipeline: "jenkins-job",
		mapStatus:       mapJenkinsStatus,
	},
}

// wirePayload mirrors payloadSchema. Pointers distinguish absent from empty.
type wirePayload struct {
	Pipeline        *string  `json:"pipeline"`
	Repo            *string  `json:"repo"`
	Branch          *string  `json:"branch"`
	Status          *string  `json:"status"`
	StartedAt       *string  `json:"started_at"`
	CompletedAt     *string  `json:"completed_at"`
	DurationSeconds *float64 `json:"duration_seconds"`
	URL             *string  `json:"url"`
	Logs            *string  `json:"logs"`
}

// Normalizer validates inbound payloads and coerces them into BuildEvents.
// It performs no I/O and is safe for concurrent use.
type Normalizer struct {
	schema *gojsonschema.Schema
}

// NewNormalizer compiles the payload schema. It panics if the embedded schema
// is invalid, which can only happen through a programming error.
func NewNormalizer() *Normalizer {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(payloadSchema))
	if err != nil {
		panic("normalizer: invalid payload schema: " + err.Error())
	}
	return &Normalizer{schema: schema}
}

// Normalize turns a raw JSON payload from provider into a BuildEvent without an
// ID. Malformed input yields a *model.NormalizationError.
func (n *Normalizer) Normalize(provider model.Provider, raw []byte) (model.BuildEvent, error) {
	arm, ok := providerArms[provider]
	if !ok {
		return model.BuildEvent{}, fmt.Errorf("%w: %q", model.ErrUnknownProvider, provider)
	}

	result, err := n.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return model.BuildEvent{}, &model.NormalizationError{Provider: provider, Reason: "body is not valid JSON"}
	}
	if !result.Valid() {
		first := result.Errors()[0]
		field := first.Field()
		if field == schemaRootField {
			field = ""
		}
		return model.BuildEvent{}, &model.NormalizationError{Provider: provider, Field: field, Reason: first.Description()}
	}

	var p wirePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.BuildEvent{}, &model.NormalizationError{Provider: provider, Reason: err.Error()}
	}

	event := model.BuildEvent{
		Provider: provider,
		Pipeline: orDefault(p.Pipeline, arm.defaultPipeline),
		Repo:     trimmed(p.Repo),
		Branch:   orDefault(p.Branch, defaultBranch),
		URL:      trimmed(p.URL),
	}
	if p.Logs != nil {
		event.Logs = *p.Logs
	}

	status := trimmed(p.Status)
	if status == "" {
		return model.BuildEvent{}, &model.NormalizationError{Provider: provider, Field: "status", Reason: "is required"}
	}
	event.Status = arm.mapStatus(status)

	if event.StartedAt, err = parseTimestamp(p.StartedAt); err != nil {
		return model.BuildEvent{}, &model.NormalizationError{Provider: provider, Field: "started_at", Reason: err.Error()}
	}
	if event.CompletedAt, err = parseTimestamp(p.CompletedAt); err != nil {
		return model.BuildEvent{}, &model.NormalizationError{Provider: provider, Field: "completed_at", Reason: err.Error()}
	}

	if p.DurationSeconds != nil {
		if *p.DurationSeconds < 0 {
			return model.BuildEvent{}, &model.NormalizationError{Provider: provider, Field: "duration_seconds", Reason: "must not be negative"}
		}
		d := *p.DurationSeconds
		event.DurationSeconds = &d
	}

	return event, nil
}

// mapGitHubStatus maps a workflow run conclusion or status.
func mapGitHubStatus(status string) model.BuildStatus {
	switch strings.ToLower(status) {
	case "success":
		return model.BuildStatusSuccess
	case "failure", "timed_out", "startup_failure":
		return model.BuildStatusFailure
	case "cancelled", "canceled", "skipped", "stale": //nolint:misspell // GitHub uses both spellings.
		return model.BuildStatusCancelled
	default:
		return model.BuildStatusInProgress
	}
}

// mapJenkinsStatus maps a Jenkins build result. A null result means building.
func mapJenkinsStatus(status string) model.BuildStatus {
	switch strings.ToUpper(status) {
	case "SUCCESS":
		return model.BuildStatusSuccess
	case "FAILURE", "UNSTABLE":
		return model.BuildStatusFailure
	case "ABORTED", "NOT_BUILT", "CANCELLED", "CANCELED": //nolint:misspell // accept both spellings.
		return model.BuildStatusCancelled
	default:
		return model.BuildStatusInProgress
	}
}

func parseTimestamp(v *string) (*time.Time, error) {
	s := trimmed(v)
	if s == "" {
		return nil, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized timestamp %q", s)
}

func trimmed(v *string) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(*v)
}

func orDefault(v *string, fallback string) string {
	if s := trimmed(v); s != "" {
		return s
	}
	return fallback
}
