package jenkins

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/buildpulse/internal/domain/model"
)

const failedBuildJSON = `{
	"number": 42,
	"result": "FAILURE",
	"building": false,
	"timestamp": 1776675600000,
	"duration": 95500,
	"url": "https://jenkins.example.com/job/platform/job/deploy/42/",
	"actions": [
		{},
		{"lastBuiltRevision": {"branch": [{"name": "refs/remotes/origin/release/2.1"}]}}
	]
}`

func newTestSource(t *testing.T, cfg Config, handler http.Handler) *JobSource {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL + "/"
	return NewJobSource(cfg, srv.Client())
}

func TestJobSource_FailedBuild(t *testing.T) {
	var gotUser, gotPass string
	mux := http.NewServeMux()
	mux.HandleFunc("/job/platform/job/deploy/lastBuild/api/json", func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		_, _ = w.Write([]byte(failedBuildJSON))
	})
	mux.HandleFunc("/job/platform/job/deploy/42/consoleText", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("Started by timer\nERROR: deploy failed\n"))
	})

	src := newTestSource(t, Config{Job: "platform/deploy", User: "bot", Token: "tok", FetchLogs: true}, mux)
	assert.Equal(t, "jenkins:platform/deploy", src.Name())
	assert.Equal(t, model.ProviderJenkins, src.Provider())

	payloads, err := src.FetchBuilds(context.Background())
	require.NoError(t, err)
	require.Len(t, payloads, 1)

	p := payloads[0]
	assert.Equal(t, "bot", gotUser)
	assert.Equal(t, "tok", gotPass)
	assert.Equal(t, "platform/deploy", p.Pipeline)
	assert.Equal(t, "platform/deploy", p.Repo)
	assert.Equal(t, "release/2.1", p.Branch)
	assert.Equal(t, "FAILURE", p.Status)
	assert.Equal(t, "42", p.RunKey)
	assert.Equal(t, "https://jenkins.example.com/job/platform/job/deploy/42/", p.URL)
	require.NotNil(t, p.StartedAt)
	assert.Equal(t, time.UnixMilli(1776675600000).UTC(), *p.StartedAt)
	require.NotNil(t, p.CompletedAt)
	assert.Equal(t, 95500*time.Millisecond, p.CompletedAt.Sub(*p.StartedAt))
	require.NotNil(t, p.DurationSeconds)
	assert.InDelta(t, 95.5, *p.DurationSeconds, 0.0001)
	assert.Contains(t, p.Logs, "ERROR: deploy failed")
}

func TestJobSource_Building(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"number":7,"result":null,"building":true,"timestamp":1776675600000,"duration":0,"actions":[]}`))
	})
	src := newTestSource(t, Config{Job: "build", Repo: "acme/api"}, handler)

	payloads, err := src.FetchBuilds(context.Background())
	require.NoError(t, err)
	require.Len(t, payloads, 1)

	p := payloads[0]
	assert.Equal(t, "BUILDING", p.Status)
	assert.Equal(t, "acme/api", p.Repo)
	// No revision data: left for the server-side default.
	assert.Empty(t, p.Branch)
	assert.NotNil(t, p.StartedAt)
	assert.Nil(t, p.CompletedAt)
	assert.Nil(t, p.DurationSeconds)
	assert.True(t, strings.HasSuffix(p.URL, "/job/build/7/"))
}

func TestJobSource_NeverBuilt(t *testing.T) {
	src := newTestSource(t, Config{Job: "new-job"}, http.NotFoundHandler())

	payloads, err := src.FetchBuilds(context.Background())
	require.NoError(t, err)
	assert.Empty(t, payloads)
}

func TestJobSource_ServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	src := newTestSource(t, Config{Job: "build"}, handler)

	_, err := src.FetchBuilds(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestJobSource_ConsoleUnavailable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/job/deploy/lastBuild/api/json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"number":3,"result":"FAILURE","building":false,"timestamp":0,"duration":0}`))
	})
	src := newTestSource(t, Config{Job: "deploy", FetchLogs: true}, mux)

	payloads, err := src.FetchBuilds(context.Background())
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	assert.Contains(t, payloads[0].Logs, "console log unavailable")
	assert.Nil(t, payloads[0].StartedAt)
}

func TestBranchOf(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "remote ref", raw: "refs/remotes/origin/main", want: "main"},
		{name: "origin prefix", raw: "origin/feature/x", want: "feature/x"},
		{name: "bare", raw: "develop", want: "develop"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := lastBuild{Actions: []buildAction{
				{},
				{LastBuiltRevision: &gitRevision{Branch: []gitBranch{{Name: tt.raw}}}},
			}}

			assert.Equal(t, tt.want, branchOf(b))
		})
	}
}
