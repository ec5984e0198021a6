// Package config loads server configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ericfisherdev/buildpulse/internal/application"
	"github.com/ericfisherdev/buildpulse/internal/domain/model"
)

const envPrefix = "BUILDPULSE_"

// Store backends.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config holds the server configuration loaded from environment variables.
type Config struct {
	ListenAddr     string
	Store          string
	DBPath         string
	PostgresDSN    string
	Providers      []model.Provider
	DefaultWindow  time.Duration
	CORSOrigins    []string
	ShutdownPeriod time.Duration

	SubscriberBuffer int
	DeliveryTimeout  time.Duration
	AlertLogChars    int
	AlertOnRecovery  bool

	SlackWebhook       string
	SlackWebhookSecret string

	SMTPHost       string
	SMTPPort       int
	SMTPUser       string
	SMTPPass       string
	SMTPPassSecret string
	AlertEmailFrom string
	AlertEmailTo   []string

	GCPProject       string
	PubSubAlertTopic string

	KafkaBrokers []string
	KafkaTopic   string
}

// HasEmail reports whether enough SMTP settings are present to send alerts.
func (c *Config) HasEmail() bool {
	return c.SMTPHost != "" && c.AlertEmailFrom != "" && len(c.AlertEmailTo) > 0
}

// NeedsSecretManager reports whether any transport secret must be resolved
// from Secret Manager.
func (c *Config) NeedsSecretManager() bool {
	return c.SlackWebhookSecret != "" || c.SMTPPassSecret != ""
}

// Load reads BUILDPULSE_* environment variables and returns a validated Config.
// Every variable is optional. Invalid values fail fast with an error naming
// the variable. Defaults: LISTEN_ADDR 127.0.0.1:8001, STORE sqlite, DB_PATH
// buildpulse.db, PROVIDERS github,jenkins, DEFAULT_WINDOW 7d,
// SUBSCRIBER_BUFFER 64, DELIVERY_TIMEOUT 5s, ALERT_LOG_CHARS 500,
// SMTP_PORT 587, KAFKA_TOPIC buildpulse.builds, CORS_ORIGINS *.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:     envString("LISTEN_ADDR", "127.0.0.1:8001"),
		Store:          strings.ToLower(envString("STORE", StoreSQLite)),
		DBPath:         envString("DB_PATH", "buildpulse.db"),
		PostgresDSN:    envString("POSTGRES_DSN", ""),
		CORSOrigins:    envList("CORS_ORIGINS", []string{"*"}),
		SlackWebhook:   envString("SLACK_WEBHOOK", ""),
		SMTPHost:       envString("SMTP_HOST", ""),
		SMTPUser:       envString("SMTP_USER", ""),
		SMTPPass:       envString("SMTP_PASS", ""),
		AlertEmailFrom: envString("ALERT_EMAIL_FROM", ""),
		AlertEmailTo:   envList("ALERT_EMAIL_TO", nil),

		SlackWebhookSecret: envString("SLACK_WEBHOOK_SECRET", ""),
		SMTPPassSecret:     envString("SMTP_PASS_SECRET", ""),
		GCPProject:         envString("GCP_PROJECT", ""),
		PubSubAlertTopic:   envString("PUBSUB_ALERT_TOPIC", ""),
		KafkaBrokers:       envList("KAFKA_BROKERS", nil),
		KafkaTopic:         envString("KAFKA_TOPIC", "buildpulse.builds"),
	}

	var err error
	if cfg.Providers, err = parseProviders(envList("PROVIDERS", []string{"github", "jenkins"})); err != nil {
		return nil, err
	}
	if cfg.DefaultWindow, err = envWindow("DEFAULT_WINDOW", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.ShutdownPeriod, err = envDuration("SHUTDOWN_PERIOD", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.SubscriberBuffer, err = envPositiveInt("SUBSCRIBER_BUFFER", application.DefaultSubscriberBuffer); err != nil {
		return nil, err
	}
	if cfg.DeliveryTimeout, err = envDuration("DELIVERY_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.AlertLogChars, err = envPositiveInt("ALERT_LOG_CHARS", 500); err != nil {
		return nil, err
	}
	if cfg.AlertOnRecovery, err = envBool("ALERT_ON_RECOVERY", false); err != nil {
		return nil, err
	}
	if cfg.SMTPPort, err = envPositiveInt("SMTP_PORT", 587); err != nil {
		return nil, err
	}

	switch cfg.Store {
	case StoreSQLite:
	case StorePostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("%sPOSTGRES_DSN is required when %sSTORE=postgres", envPrefix, envPrefix)
		}
	default:
		return nil, fmt.Errorf("%sSTORE must be %q or %q, got %q", envPrefix, StoreSQLite, StorePostgres, cfg.Store)
	}

	if cfg.PubSubAlertTopic != "" && cfg.GCPProject == "" {
		return nil, fmt.Errorf("%sGCP_PROJECT is required when %sPUBSUB_ALERT_TOPIC is set", envPrefix, envPrefix)
	}
	if cfg.NeedsSecretManager() && cfg.GCPProject == "" {
		return nil, fmt.Errorf("%sGCP_PROJECT is required to resolve secrets", envPrefix)
	}

	return cfg, nil
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		return strings.TrimSpace(v)
	}
	return fallback
}

// envList splits a comma-separated variable, dropping blank entries. An unset
// or blank variable yields fallback.
func envList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s%s has invalid duration %q: %w", envPrefix, key, v, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s%s must be positive, got %s", envPrefix, key, d)
	}
	return d, nil
}

func envWindow(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return fallback, nil
	}
	d, err := application.ParseWindow(v)
	if err != nil {
		return 0, fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	return d, nil
}

func envPositiveInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s%s must be a positive integer, got %q", envPrefix, key, v)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return fallback, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, fmt.Errorf("%s%s has invalid boolean %q: %w", envPrefix, key, v, err)
	}
	return b, nil
}

func parseProviders(names []string) ([]model.Provider, error) {
	providers := make([]model.Provider, 0, len(names))
	for _, name := range names {
		p, ok := model.ParseProvider(name)
		if !ok {
			return nil, fmt.Errorf("%sPROVIDERS contains unknown provider %q", envPrefix, name)
		}
		providers = append(providers, p)
	}
	return providers, nil
}
