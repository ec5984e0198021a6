package cli

import (
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	githubadapter "github.com/ericfisherdev/buildpulse/internal/adapter/driven/github"
	"github.com/ericfisherdev/buildpulse/internal/adapter/driven/ingestapi"
	"github.com/ericfisherdev/buildpulse/internal/adapter/driven/jenkins"
	"github.com/ericfisherdev/buildpulse/internal/application"
	"github.com/ericfisherdev/buildpulse/internal/domain/port/driven"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll the configured sources and forward their builds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := newViper(cmd.Flags())
			if err != nil {
				return err
			}
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, err := newCollector(cfg, slog.Default())
			if err != nil {
				return err
			}

			if cfg.Once {
				stats := svc.RunOnce(ctx)
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "sources=%d failed=%d sent=%d skipped=%d rejected=%d\n",
					stats.Sources, stats.Failed, stats.Sent, stats.Skipped, stats.Rejected)
				if stats.Failed > 0 || stats.Rejected > 0 {
					return fmt.Errorf("collection pass incomplete: %d source(s) failed, %d payload(s) rejected",
						stats.Failed, stats.Rejected)
				}
				return nil
			}

			slog.Info("collector starting",
				"server", cfg.ServerURL,
				"interval", cfg.Interval,
				"github_repos", cfg.GitHubRepos,
				"jenkins_jobs", cfg.JenkinsJobs,
			)
			svc.Start(ctx)
			return nil
		},
	}

	registerFlags(cmd.Flags())
	return cmd
}

// newCollector wires the configured build sources to the ingestion client.
func newCollector(cfg *CollectorConfig, logger *slog.Logger) (*application.CollectorService, error) {
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	client, err := ingestapi.NewClient(cfg.ServerURL, httpClient)
	if err != nil {
		return nil, err
	}

	var sources []driven.BuildSource
	if len(cfg.GitHubRepos) > 0 {
		gh := githubadapter.NewClient(cfg.GitHubToken)
		for _, repo := range cfg.GitHubRepos {
			sources = append(sources, githubadapter.NewRepoSource(gh, repo, cfg.GitHubLimit))
		}
	}
	for _, job := range cfg.JenkinsJobs {
		sources = append(sources, jenkins.NewJobSource(jenkins.Config{
			BaseURL:   cfg.JenkinsURL,
			Job:       job,
			User:      cfg.JenkinsUser,
			Token:     cfg.JenkinsToken,
			Repo:      cfg.JenkinsRepo,
			FetchLogs: cfg.JenkinsLogs,
		}, httpClient))
	}

	return application.NewCollectorService(sources, client, cfg.Interval, logger), nil
}
