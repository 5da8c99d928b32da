package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cadencehq/calsync/internal/models"
	"github.com/cadencehq/calsync/internal/store"
)

const (
	// DefaultBatchSize bounds how many events one listing page requests.
	DefaultBatchSize = 100

	// DefaultLookback and DefaultLookahead bound the full-sync window.
	DefaultLookback  = 30 * 24 * time.Hour
	DefaultLookahead = 90 * 24 * time.Hour
)

// SyncEngine runs the full/incremental sync state machine for any provider
// client. Both providers delegate PerformFullSync and PerformIncrementalSync
// here, so the machine lives in exactly one place and never branches on
// provider identity. The open sync log acts as the per-connection mutex:
// StartSyncLog fails while another sync is running.
type SyncEngine struct {
	store     store.Store
	logger    *slog.Logger
	batchSize int64
	lookback  time.Duration
	lookahead time.Duration
	now       func() time.Time
}

// SyncEngineOption customizes a SyncEngine.
type SyncEngineOption func(*SyncEngine)

// WithBatchSize overrides the per-page event bound.
func WithBatchSize(n int64) SyncEngineOption {
	return func(e *SyncEngine) { e.batchSize = n }
}

// WithSyncWindow overrides the full-sync time window.
func WithSyncWindow(lookback, lookahead time.Duration) SyncEngineOption {
	return func(e *SyncEngine) {
		e.lookback = lookback
		e.lookahead = lookahead
	}
}

// NewSyncEngine creates a sync engine over the given store.
func NewSyncEngine(st store.Store, logger *slog.Logger, opts ...SyncEngineOption) *SyncEngine {
	if logger == nil {
		logger = slog.Default()
	}

	e := &SyncEngine{
		store:     st,
		logger:    logger,
		batchSize: DefaultBatchSize,
		lookback:  DefaultLookback,
		lookahead: DefaultLookahead,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FullSync clears any stale cursor, fetches the complete time-bounded event
// set page by page, stores the events and the fresh provider cursor, and
// stamps lastFullSyncAt.
func (e *SyncEngine) FullSync(ctx context.Context, svc Service, connectionID string) error {
	conn, err := e.store.GetConnection(ctx, connectionID)
	if err != nil {
		return fmt.Errorf("loading connection %s: %w", connectionID, err)
	}

	syncLog, err := e.store.StartSyncLog(ctx, connectionID, models.SyncTypeFull)
	if err != nil {
		return err
	}

	if conn.SyncCursor != "" {
		conn.SyncCursor = ""
		if err := e.store.SaveConnection(ctx, conn); err != nil {
			e.failLog(ctx, syncLog.ID, err)
			return fmt.Errorf("clearing stale cursor: %w", err)
		}
	}

	e.logger.Info("starting full sync",
		"connection_id", connectionID,
		"provider", conn.Provider)

	now := e.now().UTC()
	params := ListEventsParams{
		ConnectionID: connectionID,
		TimeMin:      now.Add(-e.lookback),
		TimeMax:      now.Add(e.lookahead),
		MaxResults:   e.batchSize,
	}

	var upserted, deleted int
	var cursor string
	for {
		res, err := svc.ListEvents(ctx, params)
		if err != nil {
			e.failLog(ctx, syncLog.ID, err)
			return err
		}

		u, d, err := e.applyPage(ctx, connectionID, res)
		if err != nil {
			e.failLog(ctx, syncLog.ID, err)
			return err
		}
		upserted += u
		deleted += d

		if res.NextSyncToken != "" {
			cursor = res.NextSyncToken
		}
		if res.NextPageToken == "" {
			break
		}
		params.PageToken = res.NextPageToken
	}

	if err := e.saveSyncState(ctx, connectionID, cursor, models.SyncTypeFull); err != nil {
		e.failLog(ctx, syncLog.ID, err)
		return err
	}

	if err := e.store.CompleteSyncLog(ctx, syncLog.ID, upserted, deleted); err != nil {
		return fmt.Errorf("closing sync log: %w", err)
	}

	e.logger.Info("full sync completed",
		"connection_id", connectionID,
		"events_upserted", upserted,
		"events_deleted", deleted)

	return nil
}

// IncrementalSync replays the stored cursor against the provider and applies
// the returned changes in order. An expired cursor is never surfaced: the
// cursor is cleared and a full sync runs within the same invocation. A
// connection without a cursor goes straight to a full sync.
func (e *SyncEngine) IncrementalSync(ctx context.Context, svc Service, connectionID string) error {
	conn, err := e.store.GetConnection(ctx, connectionID)
	if err != nil {
		return fmt.Errorf("loading connection %s: %w", connectionID, err)
	}

	if conn.SyncCursor == "" {
		return e.FullSync(ctx, svc, connectionID)
	}

	syncLog, err := e.store.StartSyncLog(ctx, connectionID, models.SyncTypeIncremental)
	if err != nil {
		return err
	}

	e.logger.Debug("starting incremental sync",
		"connection_id", connectionID,
		"provider", conn.Provider)

	params := ListEventsParams{
		ConnectionID: connectionID,
		SyncToken:    conn.SyncCursor,
		MaxResults:   e.batchSize,
	}

	var upserted, deleted int
	var cursor string
	for {
		res, err := svc.ListEvents(ctx, params)
		if err != nil {
			if IsCode(err, CodeSyncTokenExpired) {
				return e.fallbackToFull(ctx, svc, connectionID, syncLog.ID)
			}
			e.failLog(ctx, syncLog.ID, err)
			return err
		}

		u, d, err := e.applyPage(ctx, connectionID, res)
		if err != nil {
			e.failLog(ctx, syncLog.ID, err)
			return err
		}
		upserted += u
		deleted += d

		if res.NextSyncToken != "" {
			cursor = res.NextSyncToken
		}
		if res.NextPageToken == "" {
			break
		}
		params.PageToken = res.NextPageToken
	}

	if err := e.saveSyncState(ctx, connectionID, cursor, models.SyncTypeIncremental); err != nil {
		e.failLog(ctx, syncLog.ID, err)
		return err
	}

	if err := e.store.CompleteSyncLog(ctx, syncLog.ID, upserted, deleted); err != nil {
		return fmt.Errorf("closing sync log: %w", err)
	}

	e.logger.Debug("incremental sync completed",
		"connection_id", connectionID,
		"events_upserted", upserted,
		"events_deleted", deleted)

	return nil
}

// fallbackToFull closes the incremental log with the expiry recorded, clears
// the cursor and runs a full sync. The expiry never reaches the caller.
func (e *SyncEngine) fallbackToFull(ctx context.Context, svc Service, connectionID string, logID int64) error {
	e.logger.Info("sync cursor expired, falling back to full sync",
		"connection_id", connectionID)

	if err := e.store.FailSyncLog(ctx, logID, string(CodeSyncTokenExpired), "sync cursor expired; full sync fallback"); err != nil {
		return fmt.Errorf("closing sync log: %w", err)
	}

	conn, err := e.store.GetConnection(ctx, connectionID)
	if err != nil {
		return fmt.Errorf("loading connection %s: %w", connectionID, err)
	}
	conn.SyncCursor = ""
	if err := e.store.SaveConnection(ctx, conn); err != nil {
		return fmt.Errorf("clearing expired cursor: %w", err)
	}

	return e.FullSync(ctx, svc, connectionID)
}

// applyPage applies one listing page: upserts in the order the provider
// returned, then deletions. Upserts are keyed on (connection id, provider
// event id), so replaying a page is idempotent. Events the provider reports
// as cancelled are treated as deletions rather than resurrections.
func (e *SyncEngine) applyPage(ctx context.Context, connectionID string, res *ListEventsResult) (upserted, deleted int, err error) {
	now := e.now().UTC()

	for _, ev := range res.Events {
		if ev.IsCancelled() {
			if err := e.store.DeleteEvent(ctx, connectionID, ev.ProviderEventID); err != nil {
				return upserted, deleted, fmt.Errorf("deleting cancelled event %s: %w", ev.ProviderEventID, err)
			}
			deleted++
			continue
		}

		row := &models.ExternalCalendarEvent{
			ConnectionID: connectionID,
			Event:        *ev,
			LastSyncedAt: now,
		}
		if err := e.store.UpsertEvent(ctx, row); err != nil {
			return upserted, deleted, fmt.Errorf("upserting event %s: %w", ev.ProviderEventID, err)
		}
		upserted++
	}

	for _, id := range res.DeletedIDs {
		if err := e.store.DeleteEvent(ctx, connectionID, id); err != nil {
			return upserted, deleted, fmt.Errorf("deleting event %s: %w", id, err)
		}
		deleted++
	}

	return upserted, deleted, nil
}

// saveSyncState re-reads the connection before writing so cursor updates
// never clobber tokens refreshed mid-sync.
func (e *SyncEngine) saveSyncState(ctx context.Context, connectionID, cursor string, syncType models.SyncType) error {
	conn, err := e.store.GetConnection(ctx, connectionID)
	if err != nil {
		return fmt.Errorf("reloading connection %s: %w", connectionID, err)
	}

	if cursor != "" {
		conn.SyncCursor = cursor
	}

	now := e.now().UTC()
	switch syncType {
	case models.SyncTypeFull:
		conn.LastFullSyncAt = &now
	case models.SyncTypeIncremental:
		conn.LastIncrementalSyncAt = &now
	}

	if err := e.store.SaveConnection(ctx, conn); err != nil {
		return fmt.Errorf("persisting sync state: %w", err)
	}
	return nil
}

func (e *SyncEngine) failLog(ctx context.Context, logID int64, cause error) {
	if err := e.store.FailSyncLog(ctx, logID, string(CodeOf(cause)), cause.Error()); err != nil {
		e.logger.Error("failed to close sync log", "log_id", logID, "error", err)
	}
}
