package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cadencehq/calsync/internal/models"
	"github.com/cadencehq/calsync/internal/notify"
	"github.com/cadencehq/calsync/internal/orchestrator"
	"github.com/cadencehq/calsync/internal/store/sqlite"
	"github.com/cadencehq/calsync/pkg/calendar"
	"github.com/cadencehq/calsync/pkg/calendar/google"
	"github.com/cadencehq/calsync/pkg/calendar/outlook"
	"github.com/cadencehq/calsync/pkg/config"
	"github.com/cadencehq/calsync/pkg/retry"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "calsync",
	Short: "Calendar synchronization service",
	Long: `calsync mirrors external calendars (Google Calendar, Outlook) into a
local store, keeps them fresh with incremental syncs and webhooks, and
publishes sync lifecycle events.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
}

// app holds the wired service graph shared by the subcommands.
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	store        *sqlite.Store
	factory      *calendar.Factory
	notifier     notify.Notifier
	orchestrator *orchestrator.Orchestrator
}

// newApp loads the configuration and wires the store, providers, notifier and
// orchestrator. withNATS controls whether a NATS connection is attempted;
// one-shot commands run without it.
func newApp(withNATS bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	st, err := sqlite.NewStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	engine := calendar.NewSyncEngine(st, logger,
		calendar.WithBatchSize(cfg.Sync.BatchSize),
		calendar.WithSyncWindow(cfg.Sync.Lookback, cfg.Sync.Lookahead))

	tokenOpts := []calendar.TokenManagerOption{
		calendar.WithRefreshMargin(cfg.Tokens.RefreshMargin),
		calendar.WithFailureThreshold(cfg.Tokens.FailureThreshold),
	}

	factory := calendar.NewFactory()
	if g := cfg.Providers.Google; g != nil {
		provider := google.New(google.Config{
			ClientID:     g.ClientID,
			ClientSecret: g.ClientSecret,
			RedirectURL:  g.RedirectURL,
			Scopes:       g.Scopes,
		}, st, engine, logger, tokenOpts...)
		factory.Register(models.ProviderGoogle, func() calendar.Service { return provider })
	}
	if o := cfg.Providers.Outlook; o != nil {
		provider := outlook.New(outlook.Config{
			ClientID:     o.ClientID,
			ClientSecret: o.ClientSecret,
			RedirectURL:  o.RedirectURL,
			Scopes:       o.Scopes,
			Tenant:       o.Tenant,
		}, st, engine, logger, tokenOpts...)
		factory.Register(models.ProviderOutlook, func() calendar.Service { return provider })
	}

	var notifier notify.Notifier = notify.Noop{}
	if withNATS && cfg.NATS != nil {
		n, err := notify.NewNATSNotifier(cfg.NATS, logger)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("connecting to NATS: %w", err)
		}
		notifier = n
	}

	retryer := retry.New(cfg.Retry, calendar.IsRetryable, logger)

	orch := orchestrator.New(&orchestrator.Config{
		SyncInterval:           cfg.Sync.Interval,
		MaxConcurrentSyncs:     cfg.Sync.MaxConcurrentSyncs,
		WebhookRenewalWindow:   cfg.Sync.WebhookRenewalWindow,
		WebhookNotificationURL: cfg.Sync.WebhookNotificationURL,
		StaleLogAge:            cfg.Sync.StaleLogAge,
		CleanupOlderThanDays:   cfg.Sync.CleanupOlderThanDays,
	}, st, factory, retryer, notifier, logger)

	return &app{
		cfg:          cfg,
		logger:       logger,
		store:        st,
		factory:      factory,
		notifier:     notifier,
		orchestrator: orch,
	}, nil
}

func (a *app) close() {
	if err := a.notifier.Close(); err != nil {
		a.logger.Warn("failed to close notifier", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close store", "error", err)
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
