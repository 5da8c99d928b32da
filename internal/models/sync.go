package models

import (
	"time"
)

// SyncType distinguishes a full resync from a cursor-driven incremental sync.
type SyncType string

const (
	SyncTypeFull        SyncType = "full"
	SyncTypeIncremental SyncType = "incremental"
)

// SyncDirection records which way events flowed during a sync.
type SyncDirection string

const (
	DirectionInbound  SyncDirection = "inbound"
	DirectionOutbound SyncDirection = "outbound"
)

// SyncStatus is the lifecycle state of one sync attempt.
type SyncStatus string

const (
	SyncStatusRunning   SyncStatus = "running"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
)

// CalendarSyncLog is one row per sync attempt. The single open "running" row
// per connection doubles as the per-connection sync mutex: a second sync
// cannot start while one is open.
type CalendarSyncLog struct {
	ID           int64         `json:"id"`
	ConnectionID string        `json:"connection_id"`
	SyncType     SyncType      `json:"sync_type"`
	Direction    SyncDirection `json:"direction"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	Status       SyncStatus    `json:"status"`
	ErrorCode    string        `json:"error_code,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`

	EventsUpserted int `json:"events_upserted"`
	EventsDeleted  int `json:"events_deleted"`
}

// WebhookChannel is the local record of a provider push-notification channel
// (Google "channel", Outlook "subscription"). It must be renewed before
// Expiration; push channels are not self-renewing.
type WebhookChannel struct {
	ID              string    `json:"id"`
	ConnectionID    string    `json:"connection_id"`
	Resource        string    `json:"resource"`
	NotificationURL string    `json:"notification_url"`
	Expiration      time.Time `json:"expiration"`

	// ResourceID is Google's channel resource id, required to stop the
	// channel. ClientState is Outlook's correlation token echoed back in
	// notifications. Each provider uses only its own field.
	ResourceID  string `json:"resource_id,omitempty"`
	ClientState string `json:"client_state,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ExpiresWithin returns true if the channel lapses before now+window.
func (w *WebhookChannel) ExpiresWithin(window time.Duration, now time.Time) bool {
	return !w.Expiration.After(now.Add(window))
}
