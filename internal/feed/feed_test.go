package feed

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cadencehq/calsync/internal/models"
	"github.com/cadencehq/calsync/internal/store/memory"
)

func writeTestEvent(t *testing.T, st *memory.Store, id string, status models.EventStatus, showAs models.ShowAs) {
	t.Helper()
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	err := st.UpsertEvent(context.Background(), &models.ExternalCalendarEvent{
		ConnectionID: "conn-1",
		Event: models.Event{
			ProviderEventID: id,
			CalendarID:      "primary",
			Title:           "Event " + id,
			Location:        "Room 1",
			StartTime:       start,
			EndTime:         start.Add(time.Hour),
			Status:          status,
			ShowAs:          showAs,
			OrganizerEmail:  "host@example.com",
			Attendees: []models.Attendee{
				{Email: "a@example.com", Name: "A", Response: models.ResponseAccepted},
			},
		},
		LastSyncedAt: start,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func render(t *testing.T, st *memory.Store) string {
	t.Helper()
	var buf bytes.Buffer
	exporter := NewExporter(st)
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	if err := exporter.WriteICS(context.Background(), &buf, "conn-1", from, to); err != nil {
		t.Fatalf("WriteICS() error = %v", err)
	}
	return buf.String()
}

func TestWriteICS(t *testing.T) {
	st := memory.New()
	writeTestEvent(t, st, "ev-1", models.StatusConfirmed, models.ShowAsBusy)

	out := render(t, st)
	if !strings.Contains(out, "BEGIN:VCALENDAR") || !strings.Contains(out, "END:VCALENDAR") {
		t.Error("output is not a VCALENDAR")
	}
	if !strings.Contains(out, "SUMMARY:Event ev-1") {
		t.Errorf("summary missing:\n%s", out)
	}
	if !strings.Contains(out, "LOCATION:Room 1") {
		t.Error("location missing")
	}
	// UIDs must be stable so subscribers see updates, not duplicates.
	if !strings.Contains(out, "UID:conn-1/ev-1") {
		t.Errorf("stable UID missing:\n%s", out)
	}
	if !strings.Contains(out, "ATTENDEE;") {
		t.Error("attendee missing")
	}
}

func TestWriteICSSkipsCancelled(t *testing.T) {
	st := memory.New()
	writeTestEvent(t, st, "ev-live", models.StatusConfirmed, models.ShowAsBusy)
	writeTestEvent(t, st, "ev-dead", models.StatusCancelled, models.ShowAsBusy)

	out := render(t, st)
	if strings.Contains(out, "ev-dead") {
		t.Error("cancelled event leaked into the feed")
	}
	if !strings.Contains(out, "ev-live") {
		t.Error("live event missing from the feed")
	}
}

func TestWriteICSMarksFreeEventsTransparent(t *testing.T) {
	st := memory.New()
	writeTestEvent(t, st, "ev-free", models.StatusConfirmed, models.ShowAsFree)

	out := render(t, st)
	if !strings.Contains(out, "TRANSP:TRANSPARENT") {
		t.Errorf("free event should be transparent:\n%s", out)
	}
}

func TestWriteICSEmptyFeed(t *testing.T) {
	st := memory.New()
	out := render(t, st)
	if !strings.Contains(out, "BEGIN:VCALENDAR") {
		t.Error("empty feed should still be a valid calendar")
	}
}
