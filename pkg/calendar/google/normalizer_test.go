package google

import (
	"testing"
	"time"

	gcal "google.golang.org/api/calendar/v3"

	"github.com/cadencehq/calsync/internal/models"
)

func TestFromGoogleTimedEvent(t *testing.T) {
	item := &gcal.Event{
		Id:          "ev-1",
		Summary:     "Design review",
		Description: "Quarterly review",
		Location:    "Room 4",
		Status:      "confirmed",
		Start:       &gcal.EventDateTime{DateTime: "2026-03-02T10:00:00Z", TimeZone: "UTC"},
		End:         &gcal.EventDateTime{DateTime: "2026-03-02T11:00:00Z", TimeZone: "UTC"},
		Organizer:   &gcal.EventOrganizer{Email: "host@example.com", DisplayName: "Host"},
		Attendees: []*gcal.EventAttendee{
			{Email: "a@example.com", ResponseStatus: "accepted"},
			{Email: "b@example.com", ResponseStatus: "needsAction", Optional: true},
		},
	}

	ev, err := fromGoogle(item)
	if err != nil {
		t.Fatalf("fromGoogle() error = %v", err)
	}

	if ev.ProviderEventID != "ev-1" {
		t.Errorf("ProviderEventID = %q", ev.ProviderEventID)
	}
	if ev.Title != "Design review" {
		t.Errorf("Title = %q", ev.Title)
	}
	want := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	if !ev.StartTime.Equal(want) {
		t.Errorf("StartTime = %v, want %v", ev.StartTime, want)
	}
	if ev.AllDay {
		t.Error("AllDay = true for a timed event")
	}
	// No transparency field means opaque, which blocks time.
	if ev.ShowAs != models.ShowAsBusy {
		t.Errorf("ShowAs = %s, want busy", ev.ShowAs)
	}
	if ev.OrganizerEmail != "host@example.com" {
		t.Errorf("OrganizerEmail = %q", ev.OrganizerEmail)
	}
	if len(ev.Attendees) != 2 {
		t.Fatalf("attendees = %d, want 2", len(ev.Attendees))
	}
	if ev.Attendees[0].Response != models.ResponseAccepted {
		t.Errorf("attendee response = %s, want accepted", ev.Attendees[0].Response)
	}
	if !ev.Attendees[1].Optional {
		t.Error("optional attendee flag lost")
	}
	if len(ev.Raw) == 0 {
		t.Error("Raw payload not preserved")
	}
}

func TestFromGoogleAllDayEvent(t *testing.T) {
	item := &gcal.Event{
		Id:     "ev-2",
		Status: "confirmed",
		Start:  &gcal.EventDateTime{Date: "2026-03-02"},
		End:    &gcal.EventDateTime{Date: "2026-03-03"},
	}

	ev, err := fromGoogle(item)
	if err != nil {
		t.Fatalf("fromGoogle() error = %v", err)
	}
	if !ev.AllDay {
		t.Error("AllDay = false, want true")
	}
	if ev.Title != models.UntitledEvent {
		t.Errorf("Title = %q, want %q for a missing summary", ev.Title, models.UntitledEvent)
	}
	if ev.StartTime.Day() != 2 || ev.EndTime.Day() != 3 {
		t.Errorf("date range = %v..%v", ev.StartTime, ev.EndTime)
	}
}

func TestFromGoogleCancelledEventWithoutTimes(t *testing.T) {
	// Incremental listings report cancellations as bare stubs.
	item := &gcal.Event{Id: "ev-3", Status: "cancelled"}

	ev, err := fromGoogle(item)
	if err != nil {
		t.Fatalf("fromGoogle() error = %v", err)
	}
	if !ev.IsCancelled() {
		t.Error("cancelled stub not marked cancelled")
	}
}

func TestFromGoogleTransparency(t *testing.T) {
	tests := []struct {
		transparency string
		want         models.ShowAs
	}{
		{"", models.ShowAsBusy},
		{"opaque", models.ShowAsBusy},
		{"transparent", models.ShowAsFree},
	}
	for _, tt := range tests {
		got := normalizeTransparency(tt.transparency)
		if got != tt.want {
			t.Errorf("normalizeTransparency(%q) = %s, want %s", tt.transparency, got, tt.want)
		}
	}
}

func TestFromGoogleKeepsFirstRecurrenceRule(t *testing.T) {
	item := &gcal.Event{
		Id:         "ev-4",
		Status:     "confirmed",
		Start:      &gcal.EventDateTime{DateTime: "2026-03-02T10:00:00Z"},
		End:        &gcal.EventDateTime{DateTime: "2026-03-02T11:00:00Z"},
		Recurrence: []string{"RRULE:FREQ=WEEKLY;BYDAY=MO", "EXDATE:20260309"},
	}

	ev, err := fromGoogle(item)
	if err != nil {
		t.Fatalf("fromGoogle() error = %v", err)
	}
	if ev.RecurrenceRule != "RRULE:FREQ=WEEKLY;BYDAY=MO" {
		t.Errorf("RecurrenceRule = %q", ev.RecurrenceRule)
	}
}

func TestToGoogleRoundsTheWireShape(t *testing.T) {
	ev := &models.Event{
		Title:     "Sprint demo",
		StartTime: time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC),
		Timezone:  "UTC",
		Status:    models.StatusConfirmed,
		ShowAs:    models.ShowAsFree,
		Attendees: []models.Attendee{{Email: "a@example.com", Response: models.ResponseTentative}},
	}

	item := toGoogle(ev)
	if item.Summary != "Sprint demo" {
		t.Errorf("Summary = %q", item.Summary)
	}
	if item.Transparency != "transparent" {
		t.Errorf("Transparency = %q, want transparent for a free event", item.Transparency)
	}
	if item.Start.DateTime == "" || item.Start.Date != "" {
		t.Errorf("timed event start = %+v", item.Start)
	}
	if len(item.Attendees) != 1 || item.Attendees[0].ResponseStatus != "tentative" {
		t.Errorf("attendees = %+v", item.Attendees)
	}
}

func TestToGoogleAllDay(t *testing.T) {
	ev := &models.Event{
		Title:     "Offsite",
		AllDay:    true,
		StartTime: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC),
		Status:    models.StatusConfirmed,
		ShowAs:    models.ShowAsBusy,
	}

	item := toGoogle(ev)
	if item.Start.Date != "2026-03-02" || item.End.Date != "2026-03-04" {
		t.Errorf("all-day range = %q..%q", item.Start.Date, item.End.Date)
	}
	if item.Start.DateTime != "" {
		t.Error("all-day event must not carry a dateTime")
	}
}
