package model

import "strings"

// Provider identifies the CI/CD system a build event was ingested from.
type Provider string

const (
	ProviderGitHub  Provider = "github"
	ProviderJenkins Provider = "jenkins"
)

// Providers lists every provider the normalizer understands, in routing order.
var Providers = []Provider{ProviderGitHub, ProviderJenkins}

// ParseProvider resolves a provider name (case-insensitive). The second return
// value is false for names outside Providers.
func ParseProvider(name string) (Provider, bool) {
	p := Provider(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Providers {
		if p == known {
			return p, true
		}
	}
	return "", false
}

// BuildStatus is the canonical outcome of a pipeline run.
type BuildStatus string

const (
	BuildStatusSuccess    BuildStatus = "success"
	BuildStatusFailure    BuildStatus = "failure"
	BuildStatusCancelled  BuildStatus = "cancelled"
	BuildStatusInProgress BuildStatus = "in_progress"
)

// IsTerminal reports whether the run concluded with a pass/fail verdict.
// Cancelled runs are deliberately not terminal.
func (s BuildStatus) IsTerminal() bool {
	return s == BuildStatusSuccess || s == BuildStatusFailure
}

// IsValid reports whether s is one of the four canonical values.
func (s BuildStatus) IsValid() bool {
	switch s {
	case BuildStatusSuccess, BuildStatusFailure, BuildStatusCancelled, BuildStatusInProgress:
		return true
	}
	return false
}

// SuppressionState is the per (pipeline, repo) alert state.
type SuppressionState string

const (
	SuppressionClear   SuppressionState = "clear"
	SuppressionAlerted SuppressionState = "alerted"
)
