// Package jenkins implements a build source that reads a job's most recent
// build from the Jenkins JSON API.
package jenkins

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ericfisherdev/buildpulse/internal/domain/model"
	"github.com/ericfisherdev/buildpulse/internal/domain/port/driven"
)

var _ driven.BuildSource = (*JobSource)(nil)

// maxLogBytes caps how much console output is read for a failed build.
const maxLogBytes = 64 << 10

// Config locates a Jenkins job.
type Config struct {
	BaseURL string // e.g. https://jenkins.example.com
	Job     string // Folder-qualified job name, e.g. "platform/deploy".
	User    string
	Token   string
	Repo    string // Reported as the payload repo; defaults to the job name.

	// FetchLogs downloads the console output of failed builds for alert excerpts.
	FetchLogs bool
}

// JobSource reports the last build of one Jenkins job.
type JobSource struct {
	cfg    Config
	client *http.Client
}

// NewJobSource creates a JobSource. A nil client uses http.DefaultClient.
func NewJobSource(cfg Config, client *http.Client) *JobSource {
	if client == nil {
		client = http.DefaultClient
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &JobSource{cfg: cfg, client: client}
}

// Name identifies the source in logs.
func (s *JobSource) Name() string { return "jenkins:" + s.cfg.Job }

// Provider implements driven.BuildSource.
func (s *JobSource) Provider() model.Provider { return model.ProviderJenkins }

// lastBuild is the subset of /lastBuild/api/json the source reads.
type lastBuild struct {
	Number    int           `json:"number"`
	Result    *string       `json:"result"`
	Building  bool          `json:"building"`
	Timestamp int64         `json:"timestamp"` // ms since epoch
	Duration  int64         `json:"duration"`  // ms
	URL       string        `json:"url"`
	Actions   []buildAction `json:"actions"`
}

// buildAction is one entry of a build's actions array. Only the git plugin's
// BuildData action carries lastBuiltRevision.
type buildAction struct {
	LastBuiltRevision *gitRevision `json:"lastBuiltRevision"`
}

type gitRevision struct {
	Branch []gitBranch `json:"branch"`
}

type gitBranch struct {
	Name string `json:"name"`
}

// FetchBuilds implements driven.BuildSource. A job that has never run yields
// no payloads.
func (s *JobSource) FetchBuilds(ctx context.Context) ([]model.IngestPayload, error) {
	var build lastBuild
	found, err := s.getJSON(ctx, s.jobURL()+"/lastBuild/api/json", &build)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	p := s.mapBuild(build)

	if s.cfg.FetchLogs && (p.Status == "FAILURE" || p.Status == "UNSTABLE") {
		logs, err := s.consoleText(ctx, build)
		if err != nil {
			// The build itself is still worth reporting.
			p.Logs = fmt.Sprintf("console log unavailable: %v", err)
		} else {
			p.Logs = logs
		}
	}

	return []model.IngestPayload{p}, nil
}

func (s *JobSource) mapBuild(b lastBuild) model.IngestPayload {
	status := "BUILDING"
	if b.Result != nil && !b.Building {
		status = *b.Result
	}

	repo := s.cfg.Repo
	if repo == "" {
		repo = s.cfg.Job
	}

	p := model.IngestPayload{
		Pipeline: s.cfg.Job,
		Repo:     repo,
		Branch:   branchOf(b),
		Status:   status,
		URL:      b.URL,
		RunKey:   strconv.Itoa(b.Number),
	}
	if p.URL == "" {
		p.URL = fmt.Sprintf("%s/%d/", s.jobURL(), b.Number)
	}

	if b.Timestamp > 0 {
		started := time.UnixMilli(b.Timestamp).UTC()
		p.StartedAt = &started
		if !b.Building && b.Duration > 0 {
			completed := started.Add(time.Duration(b.Duration) * time.Millisecond)
			p.CompletedAt = &completed
		}
	}
	if !b.Building && b.Duration > 0 {
		d := float64(b.Duration) / 1000
		p.DurationSeconds = &d
	}

	return p
}

// branchOf returns the branch from the build's git revision data, without
// the remote prefix, or "" when the build carries none.
func branchOf(b lastBuild) string {
	for _, a := range b.Actions {
		if a.LastBuiltRevision == nil {
			continue
		}
		for _, br := range a.LastBuiltRevision.Branch {
			name := strings.TrimPrefix(br.Name, "refs/remotes/")
			name = strings.TrimPrefix(name, "origin/")
			if name != "" {
				return name
			}
		}
	}
	return ""
}

func (s *JobSource) consoleText(ctx context.Context, b lastBuild) (string, error) {
	req, err := s.newRequest(ctx, fmt.Sprintf("%s/%d/consoleText", s.jobURL(), b.Number))
	if err != nil {
		return "", err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch console text: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch console text: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxLogBytes))
	if err != nil {
		return "", fmt.Errorf("read console text: %w", err)
	}
	return string(data), nil
}

// getJSON decodes url into v. It reports found=false on 404.
func (s *JobSource) getJSON(ctx context.Context, u string, v any) (bool, error) {
	req, err := s.newRequest(ctx, u)
	if err != nil {
		return false, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("get %s: %w", u, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, nil
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, fmt.Errorf("get %s: status %d", u, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return false, fmt.Errorf("decode %s: %w", u, err)
	}
	return true, nil
}

func (s *JobSource) newRequest(ctx context.Context, u string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if s.cfg.User != "" || s.cfg.Token != "" {
		req.SetBasicAuth(s.cfg.User, s.cfg.Token)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// jobURL expands "a/b" into "/job/a/job/b".
func (s *JobSource) jobURL() string {
	var b strings.Builder
	b.WriteString(s.cfg.BaseURL)
	for _, part := range strings.Split(s.cfg.Job, "/") {
		if part == "" {
			continue
		}
		b.WriteString("/job/")
		b.WriteString(url.PathEscape(part))
	}
	return b.String()
}
