package cli

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "BUILDPULSE_COLLECTOR"

// Config keys. Flags share these names; environment variables are the
// upper-cased key with dashes replaced by underscores behind envPrefix, and
// YAML files use the same keys.
const (
	keyConfig        = "config"
	keyServer        = "server"
	keyInterval      = "interval"
	keyHTTPTimeout   = "http-timeout"
	keyGitHubToken   = "github-token"
	keyGitHubRepos   = "github-repos"
	keyGitHubLimit   = "github-limit"
	keyJenkinsURL    = "jenkins-url"
	keyJenkinsJobs   = "jenkins-jobs"
	keyJenkinsUser   = "jenkins-user"
	keyJenkinsToken  = "jenkins-token"
	keyJenkinsRepo   = "jenkins-repo"
	keyJenkinsLogs   = "jenkins-logs"
	keyOnce          = "once"
	defaultServerURL = "http://127.0.0.1:8001"
)

// CollectorConfig is the validated collector configuration.
type CollectorConfig struct {
	ServerURL   string
	Interval    time.Duration
	HTTPTimeout time.Duration
	Once        bool

	GitHubToken string
	GitHubRepos []string
	GitHubLimit int

	JenkinsURL   string
	JenkinsJobs  []string
	JenkinsUser  string
	JenkinsToken string
	JenkinsRepo  string
	JenkinsLogs  bool
}

func registerFlags(fs *pflag.FlagSet) {
	fs.String(keyConfig, "", "path to a YAML config file")
	fs.String(keyServer, defaultServerURL, "buildpulse server base URL")
	fs.Duration(keyInterval, time.Minute, "polling interval")
	fs.Duration(keyHTTPTimeout, 15*time.Second, "timeout for each outbound HTTP request")
	fs.Bool(keyOnce, false, "run a single collection pass and exit")

	fs.String(keyGitHubToken, "", "GitHub token (optional for public repositories)")
	fs.StringSlice(keyGitHubRepos, nil, "GitHub repositories to poll, as owner/name")
	fs.Int(keyGitHubLimit, 10, "workflow runs fetched per repository and pass")

	fs.String(keyJenkinsURL, "", "Jenkins base URL")
	fs.StringSlice(keyJenkinsJobs, nil, "Jenkins jobs to poll (folder/job for nested jobs)")
	fs.String(keyJenkinsUser, "", "Jenkins user")
	fs.String(keyJenkinsToken, "", "Jenkins API token")
	fs.String(keyJenkinsRepo, "", "repository reported for Jenkins builds (defaults to the job name)")
	fs.Bool(keyJenkinsLogs, true, "attach console output of failed Jenkins builds")
}

// newViper binds fs, the environment and the optional config file.
func newViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}

	if path := v.GetString(keyConfig); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}

	return v, nil
}

// loadConfig reads and validates the collector configuration from v.
func loadConfig(v *viper.Viper) (*CollectorConfig, error) {
	cfg := &CollectorConfig{
		ServerURL:    strings.TrimSpace(v.GetString(keyServer)),
		Interval:     v.GetDuration(keyInterval),
		HTTPTimeout:  v.GetDuration(keyHTTPTimeout),
		Once:         v.GetBool(keyOnce),
		GitHubToken:  v.GetString(keyGitHubToken),
		GitHubRepos:  listValue(v, keyGitHubRepos),
		GitHubLimit:  v.GetInt(keyGitHubLimit),
		JenkinsURL:   strings.TrimSpace(v.GetString(keyJenkinsURL)),
		JenkinsJobs:  listValue(v, keyJenkinsJobs),
		JenkinsUser:  v.GetString(keyJenkinsUser),
		JenkinsToken: v.GetString(keyJenkinsToken),
		JenkinsRepo:  v.GetString(keyJenkinsRepo),
		JenkinsLogs:  v.GetBool(keyJenkinsLogs),
	}

	var errs []error
	if u, err := url.Parse(cfg.ServerURL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("%s must be an http(s) URL, got %q", keyServer, cfg.ServerURL))
	}
	if cfg.Interval <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", keyInterval))
	}
	if cfg.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", keyHTTPTimeout))
	}
	if cfg.GitHubLimit < 1 || cfg.GitHubLimit > 100 {
		errs = append(errs, fmt.Errorf("%s must be between 1 and 100", keyGitHubLimit))
	}
	for _, repo := range cfg.GitHubRepos {
		if owner, name, ok := strings.Cut(repo, "/"); !ok || owner == "" || name == "" {
			errs = append(errs, fmt.Errorf("%s entry %q is not owner/name", keyGitHubRepos, repo))
		}
	}
	if len(cfg.JenkinsJobs) > 0 && cfg.JenkinsURL == "" {
		errs = append(errs, fmt.Errorf("%s is required when %s is set", keyJenkinsURL, keyJenkinsJobs))
	}
	if len(cfg.GitHubRepos) == 0 && len(cfg.JenkinsJobs) == 0 {
		errs = append(errs, fmt.Errorf("nothing to collect: set %s or %s", keyGitHubRepos, keyJenkinsJobs))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// listValue reads a list that may arrive as a YAML sequence, a repeated flag
// or a comma-separated environment variable.
func listValue(v *viper.Viper, key string) []string {
	var out []string
	for _, item := range v.GetStringSlice(key) {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
