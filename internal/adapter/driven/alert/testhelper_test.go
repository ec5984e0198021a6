package alert

import (
	"time"

	"github.com/ericfisherdev/buildpulse/internal/domain/model"
)

func makeAlert() model.Alert {
	return model.Alert{
		ID:    "0b7e4a1c-5e2d-4b8e-9d3a-1f6c2a7b9e10",
		Kind:  model.AlertKindFailure,
		Title: "Pipeline failure: CI (acme/api)",
		Body: "**Pipeline:** CI  \n**Repository:** acme/api  \n**Status:** failure\n\n" +
			"**Logs:**\n\n```\n<script>alert(1)</script> exit 1\n```\n",
		Event: model.BuildEvent{
			ID:       7,
			Provider: model.ProviderGitHub,
			Pipeline: "CI",
			Repo:     "acme/api",
			Branch:   "main",
			Status:   model.BuildStatusFailure,
			URL:      "https://github.com/acme/api/actions/runs/7",
		},
		CreatedAt: time.Date(2026, 4, 20, 15, 0, 0, 0, time.UTC),
	}
}
