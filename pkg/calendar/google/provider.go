// Package google implements the calendar.Service contract against the Google
// Calendar v3 API.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/cadencehq/calsync/internal/models"
	"github.com/cadencehq/calsync/internal/store"
	"github.com/cadencehq/calsync/pkg/calendar"
)

// channelTTL is the Google push channel lifetime; Google caps channels at
// seven days.
const channelTTL = 7 * 24 * time.Hour

// Config holds the OAuth application credentials for Google.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// Provider is the Google Calendar variant of the calendar service.
type Provider struct {
	store   store.Store
	tokens  *calendar.TokenManager
	engine  *calendar.SyncEngine
	limiter *calendar.RateLimiter
	logger  *slog.Logger
}

// New creates a Google Calendar provider.
func New(cfg Config, st store.Store, engine *calendar.SyncEngine, logger *slog.Logger, tokenOpts ...calendar.TokenManagerOption) *Provider {
	if logger == nil {
		logger = slog.Default()
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{gcal.CalendarScope}
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       scopes,
		Endpoint:     googleoauth.Endpoint,
	}

	return &Provider{
		store:   st,
		tokens:  calendar.NewTokenManager(oauthCfg, st, logger, tokenOpts...),
		engine:  engine,
		limiter: calendar.NewRateLimiter(models.ProviderGoogle),
		logger:  logger,
	}
}

// Provider returns the provider identifier.
func (p *Provider) Provider() models.Provider {
	return models.ProviderGoogle
}

// clientFor resolves the connection, ensures a valid token and builds an API
// client bound to it.
func (p *Provider) clientFor(ctx context.Context, connectionID string) (*gcal.Service, *models.CalendarConnection, error) {
	conn, err := p.store.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading connection %s: %w", connectionID, err)
	}

	tok, err := p.tokens.Token(ctx, conn)
	if err != nil {
		return nil, nil, err
	}

	svc, err := gcal.NewService(ctx, option.WithTokenSource(oauth2.StaticTokenSource(tok)))
	if err != nil {
		return nil, nil, fmt.Errorf("building calendar client: %w", err)
	}
	return svc, conn, nil
}

// ValidateConnection performs a cheap authenticated listing. Auth failures
// are recorded on the connection and reported as false, never as an error.
func (p *Provider) ValidateConnection(ctx context.Context, connectionID string) (bool, error) {
	svc, conn, err := p.clientFor(ctx, connectionID)
	if err != nil {
		if calendar.RequiresReconnect(err) {
			return false, nil
		}
		return false, err
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return false, err
	}

	_, err = svc.Events.List(conn.CalendarID).Context(ctx).MaxResults(1).Do()
	if err != nil {
		cerr := classify(err)
		if calendar.RequiresReconnect(cerr) {
			conn.LastError = cerr.Error()
			if serr := p.store.SaveConnection(ctx, conn); serr != nil {
				p.logger.Error("failed to record validation failure",
					"connection_id", connectionID, "error", serr)
			}
			return false, nil
		}
		return false, cerr
	}

	return true, nil
}

// RefreshTokens forces a token refresh for the connection.
func (p *Provider) RefreshTokens(ctx context.Context, connectionID string) error {
	conn, err := p.store.GetConnection(ctx, connectionID)
	if err != nil {
		return fmt.Errorf("loading connection %s: %w", connectionID, err)
	}
	_, err = p.tokens.Refresh(ctx, conn)
	return err
}

// ListEvents runs a sync-token incremental query when params.SyncToken is
// set, otherwise a time-bounded full query. Cancelled items from incremental
// queries are reported as deletions.
func (p *Provider) ListEvents(ctx context.Context, params calendar.ListEventsParams) (*calendar.ListEventsResult, error) {
	svc, conn, err := p.clientFor(ctx, params.ConnectionID)
	if err != nil {
		return nil, err
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	call := svc.Events.List(conn.CalendarID).
		Context(ctx).
		SingleEvents(true)

	if params.MaxResults > 0 {
		call = call.MaxResults(params.MaxResults)
	}
	if params.PageToken != "" {
		call = call.PageToken(params.PageToken)
	}

	if params.SyncToken != "" {
		call = call.SyncToken(params.SyncToken).ShowDeleted(true)
	} else {
		if !params.TimeMin.IsZero() {
			call = call.TimeMin(params.TimeMin.Format(time.RFC3339))
		}
		if !params.TimeMax.IsZero() {
			call = call.TimeMax(params.TimeMax.Format(time.RFC3339))
		}
	}

	res, err := call.Do()
	if err != nil {
		return nil, classify(err)
	}

	result := &calendar.ListEventsResult{
		NextSyncToken: res.NextSyncToken,
		NextPageToken: res.NextPageToken,
	}

	for _, item := range res.Items {
		if item.Status == "cancelled" {
			result.DeletedIDs = append(result.DeletedIDs, item.Id)
			continue
		}
		ev, err := fromGoogle(item)
		if err != nil {
			p.logger.Warn("skipping unparsable event",
				"connection_id", params.ConnectionID,
				"event_id", item.Id,
				"error", err)
			continue
		}
		ev.CalendarID = conn.CalendarID
		result.Events = append(result.Events, ev)
	}

	return result, nil
}

// CreateEvent inserts a canonical event into the remote calendar.
func (p *Provider) CreateEvent(ctx context.Context, connectionID string, event *models.Event) (*models.Event, error) {
	svc, conn, err := p.clientFor(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	created, err := svc.Events.Insert(conn.CalendarID, toGoogle(event)).Context(ctx).Do()
	if err != nil {
		return nil, classify(err)
	}

	ev, err := fromGoogle(created)
	if err != nil {
		return nil, fmt.Errorf("normalizing created event: %w", err)
	}
	ev.CalendarID = conn.CalendarID
	return ev, nil
}

// UpdateEvent patches an existing remote event.
func (p *Provider) UpdateEvent(ctx context.Context, connectionID, eventID string, event *models.Event) (*models.Event, error) {
	svc, conn, err := p.clientFor(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	updated, err := svc.Events.Patch(conn.CalendarID, eventID, toGoogle(event)).Context(ctx).Do()
	if err != nil {
		return nil, classify(err)
	}

	ev, err := fromGoogle(updated)
	if err != nil {
		return nil, fmt.Errorf("normalizing updated event: %w", err)
	}
	ev.CalendarID = conn.CalendarID
	return ev, nil
}

// DeleteEvent removes a remote event. A missing event is treated as already
// deleted.
func (p *Provider) DeleteEvent(ctx context.Context, connectionID, eventID string) error {
	svc, conn, err := p.clientFor(ctx, connectionID)
	if err != nil {
		return err
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	if err := svc.Events.Delete(conn.CalendarID, eventID).Context(ctx).Do(); err != nil {
		cerr := classify(err)
		if calendar.IsCode(cerr, calendar.CodeNotFound) || calendar.IsCode(cerr, calendar.CodeSyncTokenExpired) {
			return nil
		}
		return cerr
	}
	return nil
}

// GetFreeBusyInfo queries busy intervals for the requested calendars.
func (p *Provider) GetFreeBusyInfo(ctx context.Context, params calendar.FreeBusyParams) (*calendar.FreeBusyResult, error) {
	svc, conn, err := p.clientFor(ctx, params.ConnectionID)
	if err != nil {
		return nil, err
	}

	calendars := params.Calendars
	if len(calendars) == 0 {
		calendars = []string{conn.CalendarID}
	}

	req := &gcal.FreeBusyRequest{
		TimeMin: params.TimeMin.Format(time.RFC3339),
		TimeMax: params.TimeMax.Format(time.RFC3339),
	}
	for _, id := range calendars {
		req.Items = append(req.Items, &gcal.FreeBusyRequestItem{Id: id})
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	res, err := svc.Freebusy.Query(req).Context(ctx).Do()
	if err != nil {
		return nil, classify(err)
	}

	result := &calendar.FreeBusyResult{
		Calendars: make(map[string][]calendar.BusyInterval),
		Errors:    make(map[string]string),
	}
	for id, cal := range res.Calendars {
		for _, e := range cal.Errors {
			result.Errors[id] = e.Reason
		}
		intervals := make([]calendar.BusyInterval, 0, len(cal.Busy))
		for _, period := range cal.Busy {
			start, serr := time.Parse(time.RFC3339, period.Start)
			end, eerr := time.Parse(time.RFC3339, period.End)
			if serr != nil || eerr != nil {
				continue
			}
			intervals = append(intervals, calendar.BusyInterval{Start: start, End: end})
		}
		result.Calendars[id] = intervals
	}

	return result, nil
}

// SetupWebhook opens a push channel on the connection's calendar and persists
// the channel record. Channels are not self-renewing; renewal is another
// SetupWebhook call before expiry.
func (p *Provider) SetupWebhook(ctx context.Context, connectionID, notificationURL string) (*calendar.WebhookInfo, error) {
	svc, conn, err := p.clientFor(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	expiration := time.Now().Add(channelTTL).UTC()
	channel := &gcal.Channel{
		Id:         uuid.NewString(),
		Type:       "web_hook",
		Address:    notificationURL,
		Expiration: expiration.UnixMilli(),
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	res, err := svc.Events.Watch(conn.CalendarID, channel).Context(ctx).Do()
	if err != nil {
		return nil, classify(err)
	}

	if res.Expiration > 0 {
		expiration = time.UnixMilli(res.Expiration).UTC()
	}

	record := &models.WebhookChannel{
		ID:              res.Id,
		ConnectionID:    connectionID,
		Resource:        conn.CalendarID,
		NotificationURL: notificationURL,
		Expiration:      expiration,
		ResourceID:      res.ResourceId,
	}
	if err := p.store.SaveWebhookChannel(ctx, record); err != nil {
		return nil, fmt.Errorf("persisting webhook channel: %w", err)
	}

	p.logger.Info("google push channel established",
		"connection_id", connectionID,
		"channel_id", res.Id,
		"expiration", expiration)

	return &calendar.WebhookInfo{WebhookID: res.Id, Expiration: expiration}, nil
}

// RemoveWebhook stops the remote channel and deletes the local record.
func (p *Provider) RemoveWebhook(ctx context.Context, connectionID, webhookID string) error {
	record, err := p.store.GetWebhookChannel(ctx, webhookID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("loading webhook channel %s: %w", webhookID, err)
	}

	svc, _, err := p.clientFor(ctx, connectionID)
	if err != nil {
		return err
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	stop := &gcal.Channel{Id: record.ID, ResourceId: record.ResourceID}
	if err := svc.Channels.Stop(stop).Context(ctx).Do(); err != nil {
		cerr := classify(err)
		if !calendar.IsCode(cerr, calendar.CodeNotFound) {
			return cerr
		}
	}

	return p.store.DeleteWebhookChannel(ctx, webhookID)
}

// PerformFullSync delegates to the shared sync state machine.
func (p *Provider) PerformFullSync(ctx context.Context, connectionID string) error {
	return p.engine.FullSync(ctx, p, connectionID)
}

// PerformIncrementalSync delegates to the shared sync state machine.
func (p *Provider) PerformIncrementalSync(ctx context.Context, connectionID string) error {
	return p.engine.IncrementalSync(ctx, p, connectionID)
}

var _ calendar.Service = (*Provider)(nil)
