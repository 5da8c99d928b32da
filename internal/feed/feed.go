// Package feed renders a connection's mirrored events as an iCalendar feed.
// The feed is read-only output for subscribers; it never writes back to the
// provider.
package feed

import (
	"context"
	"fmt"
	"io"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/cadencehq/calsync/internal/models"
	"github.com/cadencehq/calsync/internal/store"
)

const prodID = "-//cadencehq//calsync//EN"

// Exporter renders mirrored events to ICS.
type Exporter struct {
	store store.EventStore
}

// NewExporter creates an Exporter over the given event store.
func NewExporter(st store.EventStore) *Exporter {
	return &Exporter{store: st}
}

// WriteICS serializes the connection's non-cancelled events overlapping
// [from, to) to w.
func (e *Exporter) WriteICS(ctx context.Context, w io.Writer, connectionID string, from, to time.Time) error {
	events, err := e.store.ListEventsInRange(ctx, connectionID, from, to)
	if err != nil {
		return fmt.Errorf("listing events for feed: %w", err)
	}

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(prodID)
	cal.SetName("calsync " + connectionID)

	for _, ev := range events {
		if ev.Event.IsCancelled() {
			continue
		}
		addEvent(cal, ev)
	}

	return cal.SerializeTo(w)
}

func addEvent(cal *ics.Calendar, ev *models.ExternalCalendarEvent) {
	// UIDs must be stable across exports so subscribers see updates, not
	// duplicates.
	uid := ev.ConnectionID + "/" + ev.Event.ProviderEventID
	ie := cal.AddEvent(uid)

	ie.SetDtStampTime(ev.LastSyncedAt)
	ie.SetSummary(ev.Event.Title)
	if ev.Event.Description != "" {
		ie.SetDescription(ev.Event.Description)
	}
	if ev.Event.Location != "" {
		ie.SetLocation(ev.Event.Location)
	}
	if ev.Event.OrganizerEmail != "" {
		ie.SetOrganizer("mailto:"+ev.Event.OrganizerEmail, ics.WithCN(ev.Event.OrganizerName))
	}

	if ev.Event.AllDay {
		ie.SetAllDayStartAt(ev.Event.StartTime)
		ie.SetAllDayEndAt(ev.Event.EndTime)
	} else {
		ie.SetStartAt(ev.Event.StartTime)
		ie.SetEndAt(ev.Event.EndTime)
	}

	switch ev.Event.Status {
	case models.StatusTentative:
		ie.SetStatus(ics.ObjectStatusTentative)
	default:
		ie.SetStatus(ics.ObjectStatusConfirmed)
	}

	if ev.Event.ShowAs == models.ShowAsFree {
		ie.SetTimeTransparency(ics.TransparencyTransparent)
	}

	for _, att := range ev.Event.Attendees {
		props := []ics.PropertyParameter{ics.WithCN(att.Name)}
		switch att.Response {
		case models.ResponseAccepted:
			props = append(props, ics.ParticipationStatusAccepted)
		case models.ResponseDeclined:
			props = append(props, ics.ParticipationStatusDeclined)
		case models.ResponseTentative:
			props = append(props, ics.ParticipationStatusTentative)
		default:
			props = append(props, ics.ParticipationStatusNeedsAction)
		}
		ie.AddAttendee(att.Email, props...)
	}
}
