package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/buildpulse/internal/adapter/driven/alert"
	kafkaadapter "github.com/ericfisherdev/buildpulse/internal/adapter/driven/kafka"
	postgresadapter "github.com/ericfisherdev/buildpulse/internal/adapter/driven/postgres"
	"github.com/ericfisherdev/buildpulse/internal/adapter/driven/secrets"
	sqliteadapter "github.com/ericfisherdev/buildpulse/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/buildpulse/internal/adapter/driving/http"
	"github.com/ericfisherdev/buildpulse/internal/application"
	"github.com/ericfisherdev/buildpulse/internal/config"
	"github.com/ericfisherdev/buildpulse/internal/domain/port/driven"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on invalid env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"store", cfg.Store,
		"providers", cfg.Providers,
		"default_window", cfg.DefaultWindow,
		"delivery_timeout", cfg.DeliveryTimeout,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open the build store and run migrations.
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// 4. Alert transports.
	transports, closeTransports, err := buildTransports(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeTransports()

	// 5. Core services.
	logger := slog.Default()
	broadcaster := application.NewBroadcaster(cfg.SubscriberBuffer, logger)
	alerts := application.NewAlertDispatcher(transports, application.AlertPolicy{
		DeliveryTimeout: cfg.DeliveryTimeout,
		LogExcerptChars: cfg.AlertLogChars,
		NotifyRecovery:  cfg.AlertOnRecovery,
	}, logger)
	ingestSvc := application.NewIngestService(application.NewNormalizer(), store, alerts, broadcaster, logger)
	metricsSvc := application.NewMetricsService(store)

	// 6. Optional event export.
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := kafkaadapter.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := publisher.Close(); closeErr != nil {
				slog.Error("error closing kafka publisher", "error", closeErr)
			}
		}()
		exporter := application.NewExporter(broadcaster, publisher, cfg.DeliveryTimeout, logger)
		go exporter.Start(ctx)
		slog.Info("event export enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	// 7. HTTP server.
	apiHandler := httphandler.NewHandler(ingestSvc, metricsSvc, store, alerts, broadcaster, httphandler.Options{
		Providers:      cfg.Providers,
		DefaultWindow:  cfg.DefaultWindow,
		WriteTimeout:   cfg.DeliveryTimeout,
		AllowedOrigins: cfg.CORSOrigins,
	}, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(apiHandler, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	slog.Info("buildpulse started",
		"listen_addr", cfg.ListenAddr,
		"alert_transports", len(transports),
	)

	// 8. Wait for shutdown signal or a listener failure.
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	slog.Info("shutting down")

	// 9. Live streams never finish on their own; end them before draining.
	broadcaster.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// openStore opens the configured build store, migrates it and returns it with
// its close function.
func openStore(ctx context.Context, cfg *config.Config) (driven.BuildStore, func(), error) {
	switch cfg.Store {
	case config.StorePostgres:
		pg, err := postgresadapter.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Migrate(); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
		slog.Info("postgres store ready")
		return pg, func() {
			if err := pg.Close(); err != nil {
				slog.Error("error closing database", "error", err)
			}
		}, nil

	default:
		db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		version, err := sqliteadapter.RunMigrations(db.Writer)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		slog.Info("sqlite store ready", "path", cfg.DBPath, "schema_version", version)
		return sqliteadapter.NewBuildRepo(db), func() {
			if err := db.Close(); err != nil {
				slog.Error("error closing database", "error", err)
			}
		}, nil
	}
}

// buildTransports creates every alert transport the configuration enables.
// Secrets named by *_SECRET variables are resolved from Secret Manager and
// take priority over the plain values.
func buildTransports(ctx context.Context, cfg *config.Config) ([]driven.AlertTransport, func(), error) {
	var transports []driven.AlertTransport
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	slackURL, smtpPass := cfg.SlackWebhook, cfg.SMTPPass
	if cfg.NeedsSecretManager() {
		resolver, err := secrets.NewResolver(ctx, cfg.GCPProject)
		if err != nil {
			return nil, nil, err
		}
		defer func() { _ = resolver.Close() }()

		if cfg.SlackWebhookSecret != "" {
			if slackURL, err = resolver.Resolve(ctx, cfg.SlackWebhookSecret); err != nil {
				return nil, nil, err
			}
		}
		if cfg.SMTPPassSecret != "" {
			if smtpPass, err = resolver.Resolve(ctx, cfg.SMTPPassSecret); err != nil {
				return nil, nil, err
			}
		}
	}

	if slackURL != "" {
		transports = append(transports, alert.NewSlackTransport(slackURL, &http.Client{Timeout: cfg.DeliveryTimeout}))
	}

	if cfg.HasEmail() {
		transports = append(transports, alert.NewEmailTransport(alert.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: smtpPass,
			From:     cfg.AlertEmailFrom,
			To:       cfg.AlertEmailTo,
		}))
	}

	if cfg.PubSubAlertTopic != "" {
		client, err := pubsub.NewClient(ctx, cfg.GCPProject)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("create pubsub client: %w", err)
		}
		ps := alert.NewPubSubTransport(client, cfg.PubSubAlertTopic)
		transports = append(transports, ps)
		closers = append(closers, func() {
			ps.Stop()
			if err := client.Close(); err != nil {
				slog.Error("error closing pubsub client", "error", err)
			}
		})
	}

	names := make([]string, 0, len(transports))
	for _, t := range transports {
		names = append(names, t.Name())
	}
	slog.Info("alert transports configured", "transports", names)

	return transports, closeAll, nil
}
