// Package store defines the persistence contract the sync engine needs from
// the relational store. The engine never touches tables directly; it only
// uses the keyed read/upsert/delete operations declared here.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/cadencehq/calsync/internal/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrSyncInProgress is returned by StartSyncLog when the connection
	// already has an open running sync log.
	ErrSyncInProgress = errors.New("store: sync already in progress for connection")
)

// ConnectionStore persists calendar connections.
type ConnectionStore interface {
	GetConnection(ctx context.Context, id string) (*models.CalendarConnection, error)
	ListActiveConnections(ctx context.Context) ([]*models.CalendarConnection, error)

	// ListConnections returns every connection, deactivated ones included.
	// Maintenance sweeps need those too; deactivation keeps mirrored data.
	ListConnections(ctx context.Context) ([]*models.CalendarConnection, error)

	// SaveConnection inserts or updates a connection by id.
	SaveConnection(ctx context.Context, conn *models.CalendarConnection) error

	// DeleteConnection removes a connection and, by cascade, its mirrored
	// events, sync logs and webhook channels.
	DeleteConnection(ctx context.Context, id string) error
}

// EventStore persists the local mirror of remote events.
type EventStore interface {
	// UpsertEvent inserts or replaces the mirror row keyed on
	// (connection id, provider event id).
	UpsertEvent(ctx context.Context, ev *models.ExternalCalendarEvent) error

	GetEvent(ctx context.Context, connectionID, providerEventID string) (*models.ExternalCalendarEvent, error)

	// DeleteEvent removes one mirrored event. Deleting a missing event is
	// not an error; incremental pages may be replayed.
	DeleteEvent(ctx context.Context, connectionID, providerEventID string) error

	// ListEventsInRange returns mirrored events overlapping [from, to),
	// ordered by start time.
	ListEventsInRange(ctx context.Context, connectionID string, from, to time.Time) ([]*models.ExternalCalendarEvent, error)

	// DeleteEventsEndingBefore prunes events that ended before the cutoff
	// and reports how many rows were removed.
	DeleteEventsEndingBefore(ctx context.Context, connectionID string, cutoff time.Time) (int, error)
}

// SyncLogStore persists sync attempts. StartSyncLog enforces the one-open-log
// invariant that serializes syncs per connection.
type SyncLogStore interface {
	StartSyncLog(ctx context.Context, connectionID string, syncType models.SyncType) (*models.CalendarSyncLog, error)
	CompleteSyncLog(ctx context.Context, id int64, upserted, deleted int) error
	FailSyncLog(ctx context.Context, id int64, code, message string) error
	LatestSyncLog(ctx context.Context, connectionID string) (*models.CalendarSyncLog, error)

	// FailStaleSyncLogs marks running logs started before the cutoff as
	// failed. Orphaned logs otherwise block the connection forever.
	FailStaleSyncLogs(ctx context.Context, cutoff time.Time) (int, error)
}

// WebhookStore persists push-notification channel records.
type WebhookStore interface {
	SaveWebhookChannel(ctx context.Context, ch *models.WebhookChannel) error
	GetWebhookChannel(ctx context.Context, id string) (*models.WebhookChannel, error)
	DeleteWebhookChannel(ctx context.Context, id string) error
	ListChannelsExpiringBefore(ctx context.Context, t time.Time) ([]*models.WebhookChannel, error)
}

// Store is the full persistence surface of the sync engine.
type Store interface {
	ConnectionStore
	EventStore
	SyncLogStore
	WebhookStore
}
