// Package orchestrator drives syncs across all active connections: retry
// policy, bounded concurrency, webhook renewal, event cleanup and lifecycle
// notifications.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cadencehq/calsync/internal/models"
	"github.com/cadencehq/calsync/internal/notify"
	"github.com/cadencehq/calsync/internal/store"
	"github.com/cadencehq/calsync/pkg/calendar"
	"github.com/cadencehq/calsync/pkg/retry"
)

// Config holds orchestrator tuning.
type Config struct {
	SyncInterval           time.Duration `yaml:"sync_interval"`
	MaxConcurrentSyncs     int           `yaml:"max_concurrent_syncs"`
	WebhookRenewalWindow   time.Duration `yaml:"webhook_renewal_window"`
	WebhookNotificationURL string        `yaml:"webhook_notification_url"`
	StaleLogAge            time.Duration `yaml:"stale_log_age"`
	CleanupOlderThanDays   int           `yaml:"cleanup_older_than_days"`
}

// DefaultConfig returns a default orchestrator configuration.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:         5 * time.Minute,
		MaxConcurrentSyncs:   4,
		WebhookRenewalWindow: 24 * time.Hour,
		StaleLogAge:          time.Hour,
		CleanupOlderThanDays: 90,
	}
}

// Orchestrator coordinates periodic syncs over every active connection.
type Orchestrator struct {
	config   *Config
	store    store.Store
	factory  *calendar.Factory
	retryer  *retry.Retryer
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an Orchestrator. A nil notifier disables lifecycle events.
func New(config *Config, st store.Store, factory *calendar.Factory, retryer *retry.Retryer, notifier notify.Notifier, logger *slog.Logger) *Orchestrator {
	if config == nil {
		config = DefaultConfig()
	}
	if retryer == nil {
		retryer = retry.New(nil, calendar.IsRetryable, logger)
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		config:   config,
		store:    st,
		factory:  factory,
		retryer:  retryer,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// SyncConnection runs one incremental sync for the connection, with the retry
// policy applied around the whole sync attempt. A sync already in progress is
// not an error; the overlapping trigger is simply dropped.
func (o *Orchestrator) SyncConnection(ctx context.Context, connectionID string) error {
	conn, err := o.store.GetConnection(ctx, connectionID)
	if err != nil {
		return fmt.Errorf("loading connection %s: %w", connectionID, err)
	}
	if !conn.IsActive {
		return fmt.Errorf("connection %s is deactivated", connectionID)
	}

	svc, err := o.factory.ServiceFor(conn.Provider)
	if err != nil {
		return err
	}

	err = o.retryer.Do(ctx, func() error {
		return svc.PerformIncrementalSync(ctx, connectionID)
	})

	if errors.Is(err, store.ErrSyncInProgress) {
		o.logger.Debug("sync already running, skipping", "connection_id", connectionID)
		return nil
	}

	if err != nil {
		o.publishFailure(ctx, conn, err)
		return err
	}

	o.publishSuccess(ctx, conn)
	return nil
}

// FullSyncConnection forces a full resync regardless of the stored cursor.
func (o *Orchestrator) FullSyncConnection(ctx context.Context, connectionID string) error {
	conn, err := o.store.GetConnection(ctx, connectionID)
	if err != nil {
		return fmt.Errorf("loading connection %s: %w", connectionID, err)
	}

	svc, err := o.factory.ServiceFor(conn.Provider)
	if err != nil {
		return err
	}

	err = o.retryer.Do(ctx, func() error {
		return svc.PerformFullSync(ctx, connectionID)
	})
	if err != nil {
		o.publishFailure(ctx, conn, err)
		return err
	}

	o.publishSuccess(ctx, conn)
	return nil
}

// SyncAllActiveConnections syncs every active connection with bounded
// concurrency. One connection's failure never stops the others; the result
// maps connection id to its error for the connections that failed.
func (o *Orchestrator) SyncAllActiveConnections(ctx context.Context) (map[string]error, error) {
	conns, err := o.store.ListActiveConnections(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active connections: %w", err)
	}

	o.logger.Info("syncing active connections", "count", len(conns))

	limit := o.config.MaxConcurrentSyncs
	if limit < 1 {
		limit = 1
	}
	sem := make(chan struct{}, limit)

	var (
		mu       sync.Mutex
		failures = make(map[string]error)
		wg       sync.WaitGroup
	)

	for _, conn := range conns {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := o.SyncConnection(ctx, id); err != nil {
				o.logger.Error("connection sync failed",
					"connection_id", id,
					"error", err)
				mu.Lock()
				failures[id] = err
				mu.Unlock()
			}
		}(conn.ID)
	}
	wg.Wait()

	o.logger.Info("sync round finished",
		"total", len(conns),
		"failed", len(failures))

	return failures, nil
}

// GetConflicts returns the connection's mirrored events that overlap
// [from, to) and are not cancelled. Callers pass a proposed booking window
// and get back the external events standing in its way.
func (o *Orchestrator) GetConflicts(ctx context.Context, connectionID string, from, to time.Time) ([]*models.ExternalCalendarEvent, error) {
	events, err := o.store.ListEventsInRange(ctx, connectionID, from, to)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}

	var conflicts []*models.ExternalCalendarEvent
	for _, ev := range events {
		if ev.Event.IsCancelled() {
			continue
		}
		conflicts = append(conflicts, ev)
	}
	return conflicts, nil
}

// CleanupOldEvents prunes the connection's mirrored events that ended more
// than olderThanDays ago. The connection may be deactivated; deactivation
// keeps mirrored data, so it still has to be prunable.
func (o *Orchestrator) CleanupOldEvents(ctx context.Context, connectionID string, olderThanDays int) (int, error) {
	if olderThanDays <= 0 {
		olderThanDays = o.config.CleanupOlderThanDays
	}
	cutoff := o.now().UTC().AddDate(0, 0, -olderThanDays)

	n, err := o.store.DeleteEventsEndingBefore(ctx, connectionID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning events for %s: %w", connectionID, err)
	}
	if n > 0 {
		o.logger.Info("pruned old events", "connection_id", connectionID, "deleted", n, "cutoff", cutoff)
	}
	return n, nil
}

// CleanupAllOldEvents sweeps every connection, deactivated ones included.
func (o *Orchestrator) CleanupAllOldEvents(ctx context.Context, olderThanDays int) (int, error) {
	conns, err := o.store.ListConnections(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing connections: %w", err)
	}

	total := 0
	for _, conn := range conns {
		n, err := o.CleanupOldEvents(ctx, conn.ID, olderThanDays)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// RenewExpiringWebhooks re-registers channels expiring within the renewal
// window. Registration of the replacement happens before the old channel is
// torn down so the connection never goes without push coverage.
func (o *Orchestrator) RenewExpiringWebhooks(ctx context.Context) error {
	deadline := o.now().UTC().Add(o.config.WebhookRenewalWindow)
	channels, err := o.store.ListChannelsExpiringBefore(ctx, deadline)
	if err != nil {
		return fmt.Errorf("listing expiring channels: %w", err)
	}

	var firstErr error
	for _, ch := range channels {
		conn, err := o.store.GetConnection(ctx, ch.ConnectionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Orphaned channel record; drop it.
				if err := o.store.DeleteWebhookChannel(ctx, ch.ID); err != nil {
					o.logger.Error("failed to drop orphaned channel", "channel_id", ch.ID, "error", err)
				}
				continue
			}
			return err
		}

		svc, err := o.factory.ServiceFor(conn.Provider)
		if err != nil {
			return err
		}

		info, err := svc.SetupWebhook(ctx, conn.ID, ch.NotificationURL)
		if err != nil {
			o.logger.Error("webhook renewal failed",
				"connection_id", conn.ID,
				"channel_id", ch.ID,
				"error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if err := svc.RemoveWebhook(ctx, conn.ID, ch.ID); err != nil {
			o.logger.Warn("failed to remove superseded webhook",
				"connection_id", conn.ID,
				"channel_id", ch.ID,
				"error", err)
		}

		o.logger.Info("webhook renewed",
			"connection_id", conn.ID,
			"old_channel", ch.ID,
			"new_channel", info.WebhookID,
			"expiration", info.Expiration)
	}

	return firstErr
}

// ReapStaleSyncLogs fails running logs older than the configured age so an
// interrupted process cannot block its connections forever.
func (o *Orchestrator) ReapStaleSyncLogs(ctx context.Context) (int, error) {
	cutoff := o.now().UTC().Add(-o.config.StaleLogAge)
	n, err := o.store.FailStaleSyncLogs(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reaping stale sync logs: %w", err)
	}
	if n > 0 {
		o.logger.Warn("reaped abandoned sync logs", "count", n)
	}
	return n, nil
}

// Run drives the periodic loops until the context is cancelled: a sync round
// every SyncInterval, webhook renewal hourly and cleanup daily. A sync round
// runs immediately on start.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("orchestrator started",
		"sync_interval", o.config.SyncInterval,
		"max_concurrent_syncs", o.config.MaxConcurrentSyncs)

	syncTicker := time.NewTicker(o.config.SyncInterval)
	defer syncTicker.Stop()
	renewTicker := time.NewTicker(time.Hour)
	defer renewTicker.Stop()
	cleanupTicker := time.NewTicker(24 * time.Hour)
	defer cleanupTicker.Stop()

	o.runSyncRound(ctx)

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("orchestrator stopping")
			return ctx.Err()
		case <-syncTicker.C:
			o.runSyncRound(ctx)
		case <-renewTicker.C:
			if err := o.RenewExpiringWebhooks(ctx); err != nil {
				o.logger.Error("webhook renewal round failed", "error", err)
			}
		case <-cleanupTicker.C:
			if _, err := o.CleanupAllOldEvents(ctx, 0); err != nil {
				o.logger.Error("cleanup round failed", "error", err)
			}
		}
	}
}

func (o *Orchestrator) runSyncRound(ctx context.Context) {
	if _, err := o.ReapStaleSyncLogs(ctx); err != nil {
		o.logger.Error("stale log reaping failed", "error", err)
	}
	if _, err := o.SyncAllActiveConnections(ctx); err != nil {
		o.logger.Error("sync round failed", "error", err)
	}
}

func (o *Orchestrator) publishSuccess(ctx context.Context, conn *models.CalendarConnection) {
	log, err := o.store.LatestSyncLog(ctx, conn.ID)
	ev := &notify.SyncEvent{
		ConnectionID: conn.ID,
		Provider:     conn.Provider,
	}
	if err == nil {
		ev.SyncType = log.SyncType
		ev.EventsUpserted = log.EventsUpserted
		ev.EventsDeleted = log.EventsDeleted
	}
	if err := o.notifier.PublishSyncEvent(ctx, notify.SubjectSyncCompleted, ev); err != nil {
		o.logger.Warn("failed to publish sync event", "connection_id", conn.ID, "error", err)
	}
}

func (o *Orchestrator) publishFailure(ctx context.Context, conn *models.CalendarConnection, cause error) {
	ev := &notify.SyncEvent{
		ConnectionID: conn.ID,
		Provider:     conn.Provider,
		ErrorCode:    string(calendar.CodeOf(cause)),
		ErrorMessage: cause.Error(),
	}
	if err := o.notifier.PublishSyncEvent(ctx, notify.SubjectSyncFailed, ev); err != nil {
		o.logger.Warn("failed to publish sync event", "connection_id", conn.ID, "error", err)
	}

	if calendar.RequiresReconnect(cause) {
		if err := o.notifier.PublishSyncEvent(ctx, notify.SubjectReconnectRequired, &notify.SyncEvent{
			ConnectionID: conn.ID,
			Provider:     conn.Provider,
			ErrorCode:    string(calendar.CodeOf(cause)),
		}); err != nil {
			o.logger.Warn("failed to publish reconnect event", "connection_id", conn.ID, "error", err)
		}
	}
}
