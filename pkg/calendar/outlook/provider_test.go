package outlook

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cadencehq/calsync/internal/models"
	"github.com/cadencehq/calsync/internal/store/memory"
	"github.com/cadencehq/calsync/pkg/calendar"
)

// newTestProvider builds a provider pointed at a fake Graph server with one
// active connection whose token never needs refreshing.
func newTestProvider(t *testing.T, handler http.Handler) (*Provider, *memory.Store, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	st := memory.New()
	conn := &models.CalendarConnection{
		ID:          "conn-1",
		UserID:      "user-1",
		Provider:    models.ProviderOutlook,
		CalendarID:  "cal-1",
		Email:       "user@example.com",
		AccessToken: "test-token",
		TokenExpiry: time.Now().Add(time.Hour),
		IsActive:    true,
	}
	if err := st.SaveConnection(context.Background(), conn); err != nil {
		t.Fatal(err)
	}

	engine := calendar.NewSyncEngine(st, nil)
	p := New(Config{ClientID: "id", ClientSecret: "secret"}, st, engine, nil)
	p.baseURL = srv.URL
	return p, st, srv
}

func TestListEventsDeltaPaging(t *testing.T) {
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/me/calendars/cal-1/calendarView/delta", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		if !strings.Contains(r.Header.Get("Prefer"), "odata.maxpagesize=2") {
			t.Errorf("Prefer = %q, want a page size preference", r.Header.Get("Prefer"))
		}
		if r.URL.Query().Get("startDateTime") == "" {
			t.Error("startDateTime missing from full query")
		}
		fmt.Fprintf(w, `{
			"value": [
				{"id": "ev-1", "subject": "First", "start": {"dateTime": "2026-03-02T10:00:00", "timeZone": "UTC"}, "end": {"dateTime": "2026-03-02T11:00:00", "timeZone": "UTC"}}
			],
			"@odata.nextLink": "%s/page2"
		}`, srvURL)
	})
	mux.HandleFunc("/page2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{
			"value": [
				{"id": "ev-2", "subject": "Second", "start": {"dateTime": "2026-03-03T10:00:00", "timeZone": "UTC"}, "end": {"dateTime": "2026-03-03T11:00:00", "timeZone": "UTC"}}
			],
			"@odata.deltaLink": "%s/delta-cursor"
		}`, srvURL)
	})

	p, _, srv := newTestProvider(t, mux)
	srvURL = srv.URL

	ctx := context.Background()
	res, err := p.ListEvents(ctx, calendar.ListEventsParams{
		ConnectionID: "conn-1",
		TimeMin:      time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		TimeMax:      time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		MaxResults:   2,
	})
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(res.Events) != 1 || res.Events[0].ProviderEventID != "ev-1" {
		t.Errorf("first page events = %+v", res.Events)
	}
	if res.NextPageToken == "" {
		t.Fatal("first page should carry a next page token")
	}
	if res.NextSyncToken != "" {
		t.Error("delta link issued before the final page")
	}

	// The page token is a full URL, replayed verbatim.
	res, err = p.ListEvents(ctx, calendar.ListEventsParams{
		ConnectionID: "conn-1",
		PageToken:    res.NextPageToken,
	})
	if err != nil {
		t.Fatalf("ListEvents() page 2 error = %v", err)
	}
	if len(res.Events) != 1 || res.Events[0].ProviderEventID != "ev-2" {
		t.Errorf("second page events = %+v", res.Events)
	}
	if res.NextSyncToken != srvURL+"/delta-cursor" {
		t.Errorf("NextSyncToken = %q", res.NextSyncToken)
	}
}

func TestListEventsReportsRemovals(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/delta-cursor", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"value": [
				{"id": "ev-gone", "@removed": {"reason": "deleted"}},
				{"id": "ev-kept", "subject": "Kept", "start": {"dateTime": "2026-03-02T10:00:00", "timeZone": "UTC"}, "end": {"dateTime": "2026-03-02T11:00:00", "timeZone": "UTC"}}
			],
			"@odata.deltaLink": "next"
		}`)
	})

	p, _, srv := newTestProvider(t, mux)

	res, err := p.ListEvents(context.Background(), calendar.ListEventsParams{
		ConnectionID: "conn-1",
		SyncToken:    srv.URL + "/delta-cursor",
	})
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(res.DeletedIDs) != 1 || res.DeletedIDs[0] != "ev-gone" {
		t.Errorf("DeletedIDs = %v", res.DeletedIDs)
	}
	if len(res.Events) != 1 || res.Events[0].ProviderEventID != "ev-kept" {
		t.Errorf("Events = %+v", res.Events)
	}
}

func TestListEventsClassifiesExpiredDelta(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/stale-cursor", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
		fmt.Fprint(w, `{"error": {"code": "SyncStateNotFound", "message": "The sync state is not valid"}}`)
	})

	p, _, srv := newTestProvider(t, mux)

	_, err := p.ListEvents(context.Background(), calendar.ListEventsParams{
		ConnectionID: "conn-1",
		SyncToken:    srv.URL + "/stale-cursor",
	})
	if !calendar.IsCode(err, calendar.CodeSyncTokenExpired) {
		t.Errorf("ListEvents() = %v, want %s", err, calendar.CodeSyncTokenExpired)
	}
}

func TestDeleteEventSwallowsNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/me/calendars/cal-1/events/ev-gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error": {"code": "ErrorItemNotFound", "message": "gone"}}`)
	})

	p, _, _ := newTestProvider(t, mux)

	if err := p.DeleteEvent(context.Background(), "conn-1", "ev-gone"); err != nil {
		t.Errorf("DeleteEvent() = %v, want nil for an already-deleted event", err)
	}
}

func TestGetFreeBusyInfo(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/me/calendar/getSchedule", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		fmt.Fprint(w, `{
			"value": [
				{
					"scheduleId": "user@example.com",
					"scheduleItems": [
						{"status": "busy", "start": {"dateTime": "2026-03-02T10:00:00", "timeZone": "UTC"}, "end": {"dateTime": "2026-03-02T11:00:00", "timeZone": "UTC"}},
						{"status": "free", "start": {"dateTime": "2026-03-02T12:00:00", "timeZone": "UTC"}, "end": {"dateTime": "2026-03-02T13:00:00", "timeZone": "UTC"}},
						{"status": "oof", "start": {"dateTime": "2026-03-02T14:00:00", "timeZone": "UTC"}, "end": {"dateTime": "2026-03-02T15:00:00", "timeZone": "UTC"}}
					]
				},
				{"scheduleId": "other@example.com", "error": {"message": "access denied"}}
			]
		}`)
	})

	p, _, _ := newTestProvider(t, mux)

	res, err := p.GetFreeBusyInfo(context.Background(), calendar.FreeBusyParams{
		ConnectionID: "conn-1",
		TimeMin:      time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		TimeMax:      time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
		Calendars:    []string{"user@example.com", "other@example.com"},
	})
	if err != nil {
		t.Fatalf("GetFreeBusyInfo() error = %v", err)
	}

	// Free slots are not busy intervals; busy and oof are.
	intervals := res.Calendars["user@example.com"]
	if len(intervals) != 2 {
		t.Errorf("busy intervals = %d, want 2", len(intervals))
	}
	if msg := res.Errors["other@example.com"]; msg != "access denied" {
		t.Errorf("per-schedule error = %q", msg)
	}
}

func TestSetupAndRemoveWebhook(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		expiry := time.Now().Add(subscriptionTTL).UTC().Format(time.RFC3339)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"id": "sub-1", "expirationDateTime": %q}`, expiry)
	})
	mux.HandleFunc("/subscriptions/sub-1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s, want DELETE", r.Method)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	p, st, _ := newTestProvider(t, mux)
	ctx := context.Background()

	info, err := p.SetupWebhook(ctx, "conn-1", "https://hooks.example.com/graph")
	if err != nil {
		t.Fatalf("SetupWebhook() error = %v", err)
	}
	if info.WebhookID != "sub-1" {
		t.Errorf("WebhookID = %q", info.WebhookID)
	}
	if time.Until(info.Expiration) > subscriptionTTL {
		t.Errorf("Expiration = %v, beyond the subscription cap", info.Expiration)
	}

	record, err := st.GetWebhookChannel(ctx, "sub-1")
	if err != nil {
		t.Fatalf("channel record not persisted: %v", err)
	}
	if record.ClientState == "" {
		t.Error("clientState not recorded")
	}

	if err := p.RemoveWebhook(ctx, "conn-1", "sub-1"); err != nil {
		t.Fatalf("RemoveWebhook() error = %v", err)
	}
	if _, err := st.GetWebhookChannel(ctx, "sub-1"); err == nil {
		t.Error("channel record not deleted")
	}
}

func TestRemoveWebhookMissingRecordIsNoop(t *testing.T) {
	p, _, _ := newTestProvider(t, http.NewServeMux())
	if err := p.RemoveWebhook(context.Background(), "conn-1", "never-existed"); err != nil {
		t.Errorf("RemoveWebhook() = %v, want nil for an unknown channel", err)
	}
}
