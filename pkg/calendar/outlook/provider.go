// Package outlook implements the calendar.Service contract against the
// Microsoft Graph calendar REST surface, including delta queries for
// incremental sync and Graph subscriptions for push notifications.
package outlook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/cadencehq/calsync/internal/models"
	"github.com/cadencehq/calsync/internal/store"
	"github.com/cadencehq/calsync/pkg/calendar"
)

const defaultBaseURL = "https://graph.microsoft.com/v1.0"

// subscriptionTTL is the Graph maximum lifetime for calendar subscriptions,
// just under three days.
const subscriptionTTL = 4230 * time.Minute

// Config holds the OAuth application credentials for Microsoft Graph.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	Tenant       string
}

// Provider is the Outlook/Graph variant of the calendar service.
type Provider struct {
	store      store.Store
	tokens     *calendar.TokenManager
	engine     *calendar.SyncEngine
	limiter    *calendar.RateLimiter
	logger     *slog.Logger
	httpClient *http.Client

	// baseURL is overridable in tests.
	baseURL string
}

// New creates an Outlook calendar provider.
func New(cfg Config, st store.Store, engine *calendar.SyncEngine, logger *slog.Logger, tokenOpts ...calendar.TokenManagerOption) *Provider {
	if logger == nil {
		logger = slog.Default()
	}

	tenant := cfg.Tenant
	if tenant == "" {
		tenant = "common"
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"Calendars.ReadWrite", "offline_access"}
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       scopes,
		Endpoint:     microsoft.AzureADEndpoint(tenant),
	}

	return &Provider{
		store:      st,
		tokens:     calendar.NewTokenManager(oauthCfg, st, logger, tokenOpts...),
		engine:     engine,
		limiter:    calendar.NewRateLimiter(models.ProviderOutlook),
		logger:     logger,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
	}
}

// Provider returns the provider identifier.
func (p *Provider) Provider() models.Provider {
	return models.ProviderOutlook
}

// graphError is the Graph error envelope.
type graphError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// doJSON performs one authenticated Graph call and decodes the response into
// out when non-nil. Failures come back classified.
func (p *Provider) doJSON(ctx context.Context, conn *models.CalendarConnection, method, endpoint string, body, out any, extraHeaders map[string]string) error {
	tok, err := p.tokens.Token(ctx, conn)
	if err != nil {
		return err
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("Prefer", `outlook.timezone="UTC"`)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return calendar.WrapError(calendar.CodeServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
			p.limiter.RecordRateLimitHit(time.Duration(retryAfter) * time.Second)
		}

		var gerr graphError
		data, _ := io.ReadAll(resp.Body)
		if jerr := json.Unmarshal(data, &gerr); jerr != nil || gerr.Error.Message == "" {
			gerr.Error.Message = string(data)
		}
		return classifyGraph(resp.StatusCode, gerr.Error.Code, gerr.Error.Message)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (p *Provider) connection(ctx context.Context, connectionID string) (*models.CalendarConnection, error) {
	conn, err := p.store.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("loading connection %s: %w", connectionID, err)
	}
	return conn, nil
}

func (p *Provider) eventsURL(conn *models.CalendarConnection) string {
	return p.baseURL + "/me/calendars/" + url.PathEscape(conn.CalendarID) + "/events"
}

// ValidateConnection fetches the calendar metadata. Auth failures are
// recorded on the connection and reported as false, never as an error.
func (p *Provider) ValidateConnection(ctx context.Context, connectionID string) (bool, error) {
	conn, err := p.connection(ctx, connectionID)
	if err != nil {
		return false, err
	}

	endpoint := p.baseURL + "/me/calendars/" + url.PathEscape(conn.CalendarID)
	err = p.doJSON(ctx, conn, http.MethodGet, endpoint, nil, nil, nil)
	if err != nil {
		if calendar.RequiresReconnect(err) {
			conn.LastError = err.Error()
			if serr := p.store.SaveConnection(ctx, conn); serr != nil {
				p.logger.Error("failed to record validation failure",
					"connection_id", connectionID, "error", serr)
			}
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// RefreshTokens forces a token refresh for the connection.
func (p *Provider) RefreshTokens(ctx context.Context, connectionID string) error {
	conn, err := p.connection(ctx, connectionID)
	if err != nil {
		return err
	}
	_, err = p.tokens.Refresh(ctx, conn)
	return err
}

// deltaPage is one page of a calendarView delta query.
type deltaPage struct {
	Value     []graphEvent `json:"value"`
	NextLink  string       `json:"@odata.nextLink"`
	DeltaLink string       `json:"@odata.deltaLink"`
}

// ListEvents uses Graph delta queries for both query modes: a time-bounded
// calendarView delta for full listings and the stored delta link, replayed
// verbatim, for incremental ones. Outlook page and delta cursors are full
// URLs.
func (p *Provider) ListEvents(ctx context.Context, params calendar.ListEventsParams) (*calendar.ListEventsResult, error) {
	conn, err := p.connection(ctx, params.ConnectionID)
	if err != nil {
		return nil, err
	}

	var endpoint string
	switch {
	case params.PageToken != "":
		endpoint = params.PageToken
	case params.SyncToken != "":
		endpoint = params.SyncToken
	default:
		q := url.Values{}
		q.Set("startDateTime", params.TimeMin.UTC().Format(time.RFC3339))
		q.Set("endDateTime", params.TimeMax.UTC().Format(time.RFC3339))
		endpoint = p.baseURL + "/me/calendars/" + url.PathEscape(conn.CalendarID) +
			"/calendarView/delta?" + q.Encode()
	}

	headers := map[string]string{}
	if params.MaxResults > 0 {
		headers["Prefer"] = fmt.Sprintf(`outlook.timezone="UTC", odata.maxpagesize=%d`, params.MaxResults)
	}

	var page deltaPage
	if err := p.doJSON(ctx, conn, http.MethodGet, endpoint, nil, &page, headers); err != nil {
		return nil, err
	}

	result := &calendar.ListEventsResult{
		NextSyncToken: page.DeltaLink,
		NextPageToken: page.NextLink,
	}
	for i := range page.Value {
		ev := &page.Value[i]
		if ev.Removed != nil {
			result.DeletedIDs = append(result.DeletedIDs, ev.ID)
			continue
		}
		normalized := fromGraph(ev)
		normalized.CalendarID = conn.CalendarID
		result.Events = append(result.Events, normalized)
	}

	return result, nil
}

// CreateEvent inserts a canonical event into the remote calendar.
func (p *Provider) CreateEvent(ctx context.Context, connectionID string, event *models.Event) (*models.Event, error) {
	conn, err := p.connection(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	var created graphEvent
	if err := p.doJSON(ctx, conn, http.MethodPost, p.eventsURL(conn), toGraph(event), &created, nil); err != nil {
		return nil, err
	}

	ev := fromGraph(&created)
	ev.CalendarID = conn.CalendarID
	return ev, nil
}

// UpdateEvent patches an existing remote event.
func (p *Provider) UpdateEvent(ctx context.Context, connectionID, eventID string, event *models.Event) (*models.Event, error) {
	conn, err := p.connection(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	endpoint := p.eventsURL(conn) + "/" + url.PathEscape(eventID)
	var updated graphEvent
	if err := p.doJSON(ctx, conn, http.MethodPatch, endpoint, toGraph(event), &updated, nil); err != nil {
		return nil, err
	}

	ev := fromGraph(&updated)
	ev.CalendarID = conn.CalendarID
	return ev, nil
}

// DeleteEvent removes a remote event. A missing event is treated as already
// deleted.
func (p *Provider) DeleteEvent(ctx context.Context, connectionID, eventID string) error {
	conn, err := p.connection(ctx, connectionID)
	if err != nil {
		return err
	}

	endpoint := p.eventsURL(conn) + "/" + url.PathEscape(eventID)
	if err := p.doJSON(ctx, conn, http.MethodDelete, endpoint, nil, nil, nil); err != nil {
		if calendar.IsCode(err, calendar.CodeNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// schedulePage is the getSchedule response envelope.
type schedulePage struct {
	Value []struct {
		ScheduleID    string `json:"scheduleId"`
		Error         *struct {
			Message string `json:"message"`
		} `json:"error"`
		ScheduleItems []struct {
			Status string        `json:"status"`
			Start  graphDateTime `json:"start"`
			End    graphDateTime `json:"end"`
		} `json:"scheduleItems"`
	} `json:"value"`
}

// GetFreeBusyInfo queries busy intervals through getSchedule.
func (p *Provider) GetFreeBusyInfo(ctx context.Context, params calendar.FreeBusyParams) (*calendar.FreeBusyResult, error) {
	conn, err := p.connection(ctx, params.ConnectionID)
	if err != nil {
		return nil, err
	}

	schedules := params.Calendars
	if len(schedules) == 0 {
		schedules = []string{conn.Email}
	}

	body := map[string]any{
		"schedules": schedules,
		"startTime": map[string]string{
			"dateTime": params.TimeMin.UTC().Format(graphTimeFormat),
			"timeZone": "UTC",
		},
		"endTime": map[string]string{
			"dateTime": params.TimeMax.UTC().Format(graphTimeFormat),
			"timeZone": "UTC",
		},
		"availabilityViewInterval": 30,
	}

	var page schedulePage
	endpoint := p.baseURL + "/me/calendar/getSchedule"
	if err := p.doJSON(ctx, conn, http.MethodPost, endpoint, body, &page, nil); err != nil {
		return nil, err
	}

	result := &calendar.FreeBusyResult{
		Calendars: make(map[string][]calendar.BusyInterval),
		Errors:    make(map[string]string),
	}
	for _, schedule := range page.Value {
		if schedule.Error != nil {
			result.Errors[schedule.ScheduleID] = schedule.Error.Message
			continue
		}
		intervals := make([]calendar.BusyInterval, 0, len(schedule.ScheduleItems))
		for _, item := range schedule.ScheduleItems {
			switch item.Status {
			case "busy", "tentative", "oof":
				start, _ := parseGraphTime(item.Start)
				end, _ := parseGraphTime(item.End)
				intervals = append(intervals, calendar.BusyInterval{Start: start, End: end})
			}
		}
		result.Calendars[schedule.ScheduleID] = intervals
	}

	return result, nil
}

// SetupWebhook creates a Graph change-notification subscription scoped to the
// connection's calendar and persists the record. Subscriptions cap out just
// under three days; renewal is another SetupWebhook call.
func (p *Provider) SetupWebhook(ctx context.Context, connectionID, notificationURL string) (*calendar.WebhookInfo, error) {
	conn, err := p.connection(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	clientState := uuid.NewString()
	resource := "/me/calendars/" + conn.CalendarID + "/events"
	body := map[string]any{
		"changeType":         "created,updated,deleted",
		"notificationUrl":    notificationURL,
		"resource":           resource,
		"expirationDateTime": time.Now().Add(subscriptionTTL).UTC().Format(time.RFC3339),
		"clientState":        clientState,
	}

	var created struct {
		ID                 string `json:"id"`
		ExpirationDateTime string `json:"expirationDateTime"`
	}
	if err := p.doJSON(ctx, conn, http.MethodPost, p.baseURL+"/subscriptions", body, &created, nil); err != nil {
		return nil, err
	}

	expiration, err := time.Parse(time.RFC3339, created.ExpirationDateTime)
	if err != nil {
		expiration = time.Now().Add(subscriptionTTL).UTC()
	}

	record := &models.WebhookChannel{
		ID:              created.ID,
		ConnectionID:    connectionID,
		Resource:        resource,
		NotificationURL: notificationURL,
		Expiration:      expiration.UTC(),
		ClientState:     clientState,
	}
	if err := p.store.SaveWebhookChannel(ctx, record); err != nil {
		return nil, fmt.Errorf("persisting webhook subscription: %w", err)
	}

	p.logger.Info("graph subscription established",
		"connection_id", connectionID,
		"subscription_id", created.ID,
		"expiration", expiration)

	return &calendar.WebhookInfo{WebhookID: created.ID, Expiration: expiration.UTC()}, nil
}

// RemoveWebhook deletes the remote subscription and the local record.
func (p *Provider) RemoveWebhook(ctx context.Context, connectionID, webhookID string) error {
	conn, err := p.connection(ctx, connectionID)
	if err != nil {
		return err
	}

	if _, err := p.store.GetWebhookChannel(ctx, webhookID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("loading webhook subscription %s: %w", webhookID, err)
	}

	endpoint := p.baseURL + "/subscriptions/" + url.PathEscape(webhookID)
	if err := p.doJSON(ctx, conn, http.MethodDelete, endpoint, nil, nil, nil); err != nil {
		if !calendar.IsCode(err, calendar.CodeNotFound) {
			return err
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
