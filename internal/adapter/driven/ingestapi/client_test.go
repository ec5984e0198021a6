package ingestapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/buildpulse/internal/domain/model"
)

func TestClient_Ingest(t *testing.T) {
	var (
		gotPath string
		gotBody map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		_, _ = w.Write([]byte(`{"id":1}`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL+"/", srv.Client())
	require.NoError(t, err)

	started := time.Date(2026, 4, 20, 10, 0, 0, 0, time.UTC)
	err = client.Ingest(context.Background(), model.ProviderGitHub, model.IngestPayload{
		Pipeline:  "CI",
		Repo:      "acme/api",
		Status:    "failure",
		StartedAt: &started,
		RunKey:    "101/1",
	})
	require.NoError(t, err)

	assert.Equal(t, "/ingest/github", gotPath)
	assert.Equal(t, "CI", gotBody["pipeline"])
	assert.Equal(t, "failure", gotBody["status"])
	assert.Equal(t, "2026-04-20T10:00:00Z", gotBody["started_at"])
	assert.Nil(t, gotBody["completed_at"])
	assert.NotContains(t, gotBody, "RunKey")
	assert.NotContains(t, gotBody, "branch")
}

func TestClient_IngestRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"status: is required","field":"status"}`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	require.NoError(t, err)

	err = client.Ingest(context.Background(), model.ProviderJenkins, model.IngestPayload{Pipeline: "job"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Contains(t, err.Error(), "field status")
}

func TestClient_IngestServerErrorWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	require.NoError(t, err)

	err = client.Ingest(context.Background(), model.ProviderJenkins, model.IngestPayload{Status: "SUCCESS"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestNewClient_InvalidURL(t *testing.T) {
	for _, raw := range []string{"", "localhost:8001", "://bad"} {
		_, err := NewClient(raw, nil)
		assert.Error(t, err, raw)
	}
}
