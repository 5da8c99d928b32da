// Package notify publishes sync lifecycle events so downstream consumers
// (schedulers, alerting, user-facing feeds) can react without polling the
// database.
package notify

import (
	"context"
	"time"

	"github.com/cadencehq/calsync/internal/models"
)

// Subjects published relative to the configured prefix.
const (
	SubjectSyncCompleted       = "sync.completed"
	SubjectSyncFailed          = "sync.failed"
	SubjectReconnectRequired   = "connection.reconnect_required"
	SubjectConnectionSuspended = "connection.suspended"
)

// SyncEvent is the payload published on sync lifecycle subjects.
type SyncEvent struct {
	ConnectionID   string          `json:"connection_id"`
	Provider       models.Provider `json:"provider"`
	SyncType       models.SyncType `json:"sync_type,omitempty"`
	EventsUpserted int             `json:"events_upserted,omitempty"`
	EventsDeleted  int             `json:"events_deleted,omitempty"`
	ErrorCode      string          `json:"error_code,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// Notifier publishes sync lifecycle events. Implementations must be safe for
// concurrent use; syncs for different connections run in parallel.
type Notifier interface {
	PublishSyncEvent(ctx context.Context, subject string, ev *SyncEvent) error
	Close() error
}

// Noop is a Notifier that discards everything. Used when NATS is not
// configured.
type Noop struct{}

func (Noop) PublishSyncEvent(context.Context, string, *SyncEvent) error { return nil }
func (Noop) Close() error                                               { return nil }
