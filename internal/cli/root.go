// Package cli implements the buildpulse-collector command line.
package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var (
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

// SetVersionInfo sets the version information injected via ldflags.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

// NewRootCommand builds the collector command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "buildpulse-collector",
		Short: "Poll CI providers and forward builds to buildpulse",
		Long: `buildpulse-collector polls GitHub Actions workflow runs and Jenkins jobs
and posts every new or changed run to a buildpulse server's ingestion
endpoint.

Settings come from flags, BUILDPULSE_COLLECTOR_* environment variables or a
YAML file passed with --config, in that order of precedence.`,
		SilenceUsage: true,
	}

	root.AddCommand(newRunCommand(), newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	_, _ = fmt.Fprintf(w, "buildpulse-collector %s\ncommit: %s\nbuilt:  %s\n", appVersion, appCommit, appDate)
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}
