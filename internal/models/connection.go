package models

import (
	"time"
)

// Provider identifies an external calendar provider.
type Provider string

const (
	ProviderGoogle  Provider = "google"
	ProviderOutlook Provider = "outlook"
)

// CalendarConnection is one OAuth-linked external calendar. It is the root
// entity: mirrored events, sync logs and webhook channels all belong to
// exactly one connection and are removed with it.
type CalendarConnection struct {
	ID         string   `json:"id"`
	UserID     string   `json:"user_id"`
	Provider   Provider `json:"provider"`
	CalendarID string   `json:"calendar_id"`
	Email      string   `json:"email,omitempty"`

	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	TokenExpiry  time.Time `json:"token_expiry"`

	// SyncCursor is the provider-issued incremental sync token (Google
	// sync token or Outlook delta link). Opaque: stored and replayed
	// verbatim; only the owning provider client interprets it.
	SyncCursor string `json:"-"`

	LastFullSyncAt        *time.Time `json:"last_full_sync_at,omitempty"`
	LastIncrementalSyncAt *time.Time `json:"last_incremental_sync_at,omitempty"`

	IsActive  bool `json:"is_active"`
	IsDefault bool `json:"is_default"`

	// ConsecutiveFailures counts failed token refreshes since the last
	// success; crossing the configured threshold deactivates the
	// connection without deleting its mirrored data.
	ConsecutiveFailures int    `json:"consecutive_failures"`
	LastError           string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TokenExpiresWithin returns true if the access token is already expired or
// will expire within the given margin.
func (c *CalendarConnection) TokenExpiresWithin(margin time.Duration, now time.Time) bool {
	if c.AccessToken == "" {
		return true
	}
	return !c.TokenExpiry.After(now.Add(margin))
}

// ExternalCalendarEvent is the local mirror of one remote event, unique on
// (connection id, provider event id).
type ExternalCalendarEvent struct {
	ID           int64     `json:"id"`
	ConnectionID string    `json:"connection_id"`
	Event        Event     `json:"event"`
	LastSyncedAt time.Time `json:"last_synced_at"`
}
