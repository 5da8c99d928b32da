package google

import (
	"encoding/json"
	"fmt"
	"time"

	gcal "google.golang.org/api/calendar/v3"

	"github.com/cadencehq/calsync/internal/models"
)

const allDayFormat = "2006-01-02"

// fromGoogle normalizes a Google Calendar wire event into the canonical model.
func fromGoogle(item *gcal.Event) (*models.Event, error) {
	ev := &models.Event{
		ProviderEventID: item.Id,
		Title:           item.Summary,
		Description:     item.Description,
		Location:        item.Location,
		Status:          normalizeStatus(item.Status),
		ShowAs:          normalizeTransparency(item.Transparency),
	}

	if ev.Title == "" {
		ev.Title = models.UntitledEvent
	}

	// Cancelled incremental items arrive without times; everything else
	// must parse.
	if ev.Status != models.StatusCancelled {
		start, allDay, err := parseEventTime(item.Start)
		if err != nil {
			return nil, fmt.Errorf("event %s: parsing start: %w", item.Id, err)
		}
		end, _, err := parseEventTime(item.End)
		if err != nil {
			return nil, fmt.Errorf("event %s: parsing end: %w", item.Id, err)
		}
		ev.StartTime = start
		ev.EndTime = end
		ev.AllDay = allDay
		if item.Start != nil {
			ev.Timezone = item.Start.TimeZone
		}
	}

	if item.Organizer != nil {
		ev.OrganizerEmail = item.Organizer.Email
		ev.OrganizerName = item.Organizer.DisplayName
	}

	for _, att := range item.Attendees {
		ev.Attendees = append(ev.Attendees, models.Attendee{
			Email:    att.Email,
			Name:     att.DisplayName,
			Response: normalizeResponse(att.ResponseStatus),
			Optional: att.Optional,
		})
	}

	// Only the first recurrence rule is kept; multi-rule recurrences are
	// not modeled.
	if len(item.Recurrence) > 0 {
		ev.RecurrenceRule = item.Recurrence[0]
	}

	if raw, err := json.Marshal(item); err == nil {
		ev.Raw = raw
	}

	return ev, nil
}

// toGoogle converts a canonical event into the Google wire shape.
func toGoogle(ev *models.Event) *gcal.Event {
	item := &gcal.Event{
		Summary:      ev.Title,
		Description:  ev.Description,
		Location:     ev.Location,
		Status:       string(ev.Status),
		Transparency: transparencyFor(ev.ShowAs),
	}
	if item.Summary == "" {
		item.Summary = models.UntitledEvent
	}

	if ev.AllDay {
		item.Start = &gcal.EventDateTime{Date: ev.StartTime.Format(allDayFormat)}
		item.End = &gcal.EventDateTime{Date: ev.EndTime.Format(allDayFormat)}
	} else {
		item.Start = &gcal.EventDateTime{
			DateTime: ev.StartTime.Format(time.RFC3339),
			TimeZone: ev.Timezone,
		}
		item.End = &gcal.EventDateTime{
			DateTime: ev.EndTime.Format(time.RFC3339),
			TimeZone: ev.Timezone,
		}
	}

	for _, att := range ev.Attendees {
		item.Attendees = append(item.Attendees, &gcal.EventAttendee{
			Email:          att.Email,
			DisplayName:    att.Name,
			ResponseStatus: string(att.Response),
			Optional:       att.Optional,
		})
	}

	if ev.RecurrenceRule != "" {
		item.Recurrence = []string{ev.RecurrenceRule}
	}

	return item
}

func parseEventTime(et *gcal.EventDateTime) (t time.Time, allDay bool, err error) {
	if et == nil {
		return time.Time{}, false, fmt.Errorf("event time is empty")
	}

	if et.DateTime != "" {
		t, err = time.Parse(time.RFC3339, et.DateTime)
		return t, false, err
	}

	if et.Date != "" {
		t, err = time.Parse(allDayFormat, et.Date)
		if err != nil {
			return time.Time{}, false, err
		}
		if et.TimeZone != "" {
			if loc, lerr := time.LoadLocation(et.TimeZone); lerr == nil {
				t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
			}
		}
		return t, true, nil
	}

	return time.Time{}, false, fmt.Errorf("no dateTime or date field")
}

func normalizeStatus(status string) models.EventStatus {
	switch status {
	case "tentative":
		return models.StatusTentative
	case "cancelled":
		return models.StatusCancelled
	default:
		return models.StatusConfirmed
	}
}

// normalizeTransparency maps Google transparency onto the 4-state busy/free
// enum. An absent value means opaque, which blocks time.
func normalizeTransparency(transparency string) models.ShowAs {
	if transparency == "transparent" {
		return models.ShowAsFree
	}
	return models.ShowAsBusy
}

func transparencyFor(showAs models.ShowAs) string {
	if showAs == models.ShowAsFree {
		return "transparent"
	}
	return "opaque"
}

func normalizeResponse(status string) models.ResponseStatus {
	switch status {
	case "accepted":
		return models.ResponseAccepted
	case "declined":
		return models.ResponseDeclined
	case "tentative":
		return models.ResponseTentative
	default:
		return models.ResponseNeedsAction
	}
}
