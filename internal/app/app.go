// Package app wires the service together: storage, SMTP relay client,
// dispatcher, scheduler, retry outbox, API and metrics servers.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phoebebright/newsletterd/internal/api"
	"github.com/phoebebright/newsletterd/internal/config"
	"github.com/phoebebright/newsletterd/internal/db"
	"github.com/phoebebright/newsletterd/internal/dispatch"
	"github.com/phoebebright/newsletterd/internal/dkim"
	"github.com/phoebebright/newsletterd/internal/mail"
	"github.com/phoebebright/newsletterd/internal/metrics"
	"github.com/phoebebright/newsletterd/internal/outbox"
	"github.com/phoebebright/newsletterd/internal/repository"
	"github.com/phoebebright/newsletterd/internal/subscription"
	"github.com/phoebebright/newsletterd/internal/template"
)

// App is the main application
type App struct {
	config *config.Config
	logger *slog.Logger

	database *db.DB
	outbox   *outbox.Storage

	dispatcher    *dispatch.Dispatcher
	scheduler     *dispatch.Scheduler
	processor     *outbox.Processor
	apiServer     *api.Server
	metricsServer *metrics.Server
	metrics       *metrics.Metrics

	version string
}

// New creates a new application
func New(cfg *config.Config, version string) (*App, error) {
	logger := setupLogger(cfg.Logging)

	database, err := db.New(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	newsletters := repository.NewNewsletterRepository(database.DB)
	subscriptions := repository.NewSubscriptionRepository(database.DB)
	messages := repository.NewMessageRepository(database.DB)
	submissions := repository.NewSubmissionRepository(database.DB)
	templates := repository.NewTemplateRepository(database.DB)
	resolver := template.NewResolver(templates)

	m := metrics.New()

	sender := mail.NewSMTPSender(
		cfg.SMTP.Addr,
		cfg.Server.Hostname,
		cfg.SMTP.Username,
		cfg.SMTP.Password,
		cfg.SMTP.StartTLS,
		cfg.SMTP.Timeout,
		logger.With("component", "smtp_client"),
	)

	if cfg.DKIM.Enabled {
		signer, err := dkim.NewSignerFromFile(cfg.DKIM.KeyFile, cfg.DKIM.Domain, cfg.DKIM.Selector)
		if err != nil {
			return nil, fmt.Errorf("failed to load DKIM key: %w", err)
		}
		sender.SetDKIMSigner(signer)
		logger.Info("DKIM signing enabled", "domain", cfg.DKIM.Domain, "selector", cfg.DKIM.Selector)
	}

	outboxStorage, err := outbox.NewStorage(cfg.Storage.OutboxPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open outbox: %w", err)
	}

	processor := outbox.NewProcessor(
		outboxStorage,
		sender,
		submissions,
		outbox.ProcessorConfig{
			RetryInterval: cfg.Delivery.RetryInterval,
			MaxRetries:    cfg.Delivery.MaxRetries,
		},
		logger.With("component", "outbox"),
	)

	dispatcher := dispatch.New(
		newsletters, messages, submissions, subscriptions,
		resolver, sender, processor, m,
		cfg.Delivery,
		cfg.Server.BaseURL,
		logger,
	)

	scheduler := dispatch.NewScheduler(dispatcher, cfg.Delivery.SchedulerInterval)

	subService := subscription.New(
		newsletters, subscriptions, resolver, sender, m,
		cfg.Server.BaseURL,
		logger,
	)

	apiServer := api.NewServer(
		newsletters, messages, submissions, subService, dispatcher,
		&cfg.API, m, version, logger,
	)

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path,
			logger.With("component", "metrics"))
	}

	return &App{
		config:        cfg,
		logger:        logger,
		database:      database,
		outbox:        outboxStorage,
		dispatcher:    dispatcher,
		scheduler:     scheduler,
		processor:     processor,
		apiServer:     apiServer,
		metricsServer: metricsServer,
		metrics:       m,
		version:       version,
	}, nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting newsletterd",
		"version", a.version,
		"hostname", a.config.Server.Hostname,
		"api_addr", a.config.API.ListenAddr,
		"smtp_relay", a.config.SMTP.Addr,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.processor.Start(ctx)
	a.scheduler.Start(ctx)

	errCh := make(chan error, 2)

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.Start(); err != nil {
				a.logger.Warn("metrics server error", "error", err)
			}
		}()
		go a.trackOutboxSize(ctx)
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop background senders first so no new deliveries start.
	a.scheduler.Stop()
	a.processor.Stop()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	if err := a.outbox.Close(); err != nil {
		a.logger.Error("outbox close error", "error", err)
	}
	if err := a.database.Close(); err != nil {
		a.logger.Error("database close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// SubmitDue sends every submission whose publish date has passed and
// returns how many were dispatched. Used by the one-shot submit
// command.
func (a *App) SubmitDue(ctx context.Context) (int, error) {
	return a.dispatcher.RunDue(ctx)
}

// Close releases storage without running the full server shutdown.
func (a *App) Close() error {
	if err := a.outbox.Close(); err != nil {
		a.logger.Error("outbox close error", "error", err)
	}
	return a.database.Close()
}

// trackOutboxSize periodically exports the retry-outbox depth.
func (a *App) trackOutboxSize(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := a.outbox.Len(); err == nil {
				a.metrics.OutboxSize.Set(float64(n))
			}
		}
	}
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
