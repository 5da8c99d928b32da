// Package calendar defines the provider-agnostic calendar service contract,
// the shared error taxonomy, token lifecycle management and the full /
// incremental sync state machine. Provider packages (google, outlook)
// implement Service; everything above them is provider-neutral.
package calendar

import (
	"context"
	"time"

	"github.com/cadencehq/calsync/internal/models"
)

// Service is the uniform capability set every provider client implements.
// All operations take the connection id and resolve connection state (tokens,
// remote calendar id, sync cursor) from the store.
type Service interface {
	// Provider returns the provider this service talks to.
	Provider() models.Provider

	// ValidateConnection performs a cheap authenticated call. Expected
	// auth failures are not returned as errors: the failure is recorded
	// on the connection and false is returned.
	ValidateConnection(ctx context.Context, connectionID string) (bool, error)

	// RefreshTokens exchanges the refresh token for a new access token
	// and persists it. Repeated failures deactivate the connection.
	RefreshTokens(ctx context.Context, connectionID string) error

	// ListEvents performs a provider-native incremental query when
	// params.SyncToken is set, otherwise a time-bounded full query.
	ListEvents(ctx context.Context, params ListEventsParams) (*ListEventsResult, error)

	CreateEvent(ctx context.Context, connectionID string, event *models.Event) (*models.Event, error)
	UpdateEvent(ctx context.Context, connectionID, eventID string, event *models.Event) (*models.Event, error)
	DeleteEvent(ctx context.Context, connectionID, eventID string) error

	// GetFreeBusyInfo returns busy intervals per calendar in the window.
	GetFreeBusyInfo(ctx context.Context, params FreeBusyParams) (*FreeBusyResult, error)

	// SetupWebhook registers a push-notification channel for the
	// connection's calendar and persists the channel record. Renewal is a
	// fresh SetupWebhook call before expiry.
	SetupWebhook(ctx context.Context, connectionID, notificationURL string) (*WebhookInfo, error)

	// RemoveWebhook tears down both the remote channel and the local record.
	RemoveWebhook(ctx context.Context, connectionID, webhookID string) error

	PerformFullSync(ctx context.Context, connectionID string) error
	PerformIncrementalSync(ctx context.Context, connectionID string) error
}

// ListEventsParams selects between a time-bounded full query and a
// cursor-driven incremental query.
type ListEventsParams struct {
	ConnectionID string
	TimeMin      time.Time
	TimeMax      time.Time
	MaxResults   int64

	// SyncToken is the stored sync cursor, replayed verbatim. When set,
	// TimeMin/TimeMax are ignored.
	SyncToken string

	// PageToken continues a paged listing within the same query.
	PageToken string
}

// ListEventsResult is one page of a listing.
type ListEventsResult struct {
	Events []*models.Event

	// DeletedIDs are provider event ids the provider reports as removed.
	// Only incremental queries populate this.
	DeletedIDs []string

	// NextSyncToken is the cursor to store for the next incremental sync.
	// Providers only issue it on the final page of a query.
	NextSyncToken string

	// NextPageToken continues the current query when non-empty.
	NextPageToken string
}

// FreeBusyParams is a free/busy query over one or more calendars.
type FreeBusyParams struct {
	ConnectionID string
	TimeMin      time.Time
	TimeMax      time.Time

	// Calendars defaults to the connection's calendar when empty.
	Calendars []string
}

// BusyInterval is one blocking interval.
type BusyInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// FreeBusyResult holds busy intervals per calendar, plus per-calendar errors
// for calendars the provider could not answer for.
type FreeBusyResult struct {
	Calendars map[string][]BusyInterval `json:"calendars"`
	Errors    map[string]string         `json:"errors,omitempty"`
}

// WebhookInfo describes an established push channel.
type WebhookInfo struct {
	WebhookID  string    `json:"webhook_id"`
	Expiration time.Time `json:"expiration"`
}
