// Package github implements the GitHub Actions build source using the
// go-github library.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"

	"github.com/ericfisherdev/buildpulse/internal/domain/model"
	"github.com/ericfisherdev/buildpulse/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.BuildSource = (*RepoSource)(nil)

const defaultRunLimit = 10

// Client lists workflow runs through the GitHub REST API.
type Client struct {
	gh *gh.Client
}

// NewClient creates a new GitHub API client with the following transport stack:
//  1. httpcache (ETag-based conditional request caching, so unchanged run
//     listings do not count against the rate limit)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (GitHub REST API client, PAT auth when token is set)
func NewClient(token string) *Client {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	client := gh.NewClient(rateLimitClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}

	return &Client{gh: client}
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base URL.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL string) (*Client, error) {
	client := gh.NewClient(httpClient)

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	client.BaseURL = u

	return &Client{gh: client}, nil
}

// FetchWorkflowRuns returns the most recent workflow runs of a repository,
// newest first, as ingestion payloads.
func (c *Client) FetchWorkflowRuns(ctx context.Context, repoFullName string, limit int) ([]model.IngestPayload, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultRunLimit
	}

	opts := &gh.ListWorkflowRunsOptions{
		ListOptions: gh.ListOptions{PerPage: limit},
	}

	runs, resp, err := c.gh.Actions.ListRepositoryWorkflowRuns(ctx, owner, repo, opts)
	if err != nil {
		return nil, fmt.Errorf("listing workflow runs for %s: %w", repoFullName, err)
	}

	logRateLimit(resp, repoFullName, len(runs.WorkflowRuns))

	payloads := make([]model.IngestPayload, 0, len(runs.WorkflowRuns))
	for _, run := range runs.WorkflowRuns {
		payloads = append(payloads, mapWorkflowRun(run, repoFullName))
	}

	return payloads, nil
}

// RepoSource reports one repository's workflow runs.
type RepoSource struct {
	client *Client
	repo   string
	limit  int
}

// NewRepoSource creates a source polling repoFullName ("owner/repo").
func NewRepoSource(client *Client, repoFullName string, limit int) *RepoSource {
	return &RepoSource{client: client, repo: repoFullName, limit: limit}
}

// Name identifies the source in logs.
func (s *RepoSource) Name() string { return "github:" + s.repo }

// Provider implements driven.BuildSource.
func (s *RepoSource) Provider() model.Provider { return model.ProviderGitHub }

// FetchBuilds implements driven.BuildSource.
func (s *RepoSource) FetchBuilds(ctx context.Context) ([]model.IngestPayload, error) {
	return s.client.FetchWorkflowRuns(ctx, s.repo, s.limit)
}

// mapWorkflowRun converts a run into a payload. The conclusion wins when set;
// a completed run without one was cancelled before it produced a result.
func mapWorkflowRun(run *gh.WorkflowRun, repoFullName string) model.IngestPayload {
	status := run.GetConclusion()
	if status == "" {
		status = "in_progress"
		if run.GetStatus() == "completed" {
			status = "cancelled"
		}
	}

	p := model.IngestPayload{
		Pipeline: run.GetName(),
		Repo:     repoFullName,
		Branch:   run.GetHeadBranch(),
		Status:   status,
		URL:      run.GetHTMLURL(),
		RunKey:   strconv.FormatInt(run.GetID(), 10) + "/" + strconv.Itoa(run.GetRunAttempt()),
	}

	if run.RunStartedAt != nil {
		t := run.RunStartedAt.UTC()
		p.StartedAt = &t
	}
	if run.GetStatus() == "completed" && run.UpdatedAt != nil {
		t := run.UpdatedAt.UTC()
		p.CompletedAt = &t
	}

	return p
}

func logRateLimit(resp *gh.Response, endpoint string, count int) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"endpoint", endpoint,
		"count", count,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

func splitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}
