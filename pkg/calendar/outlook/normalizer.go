package outlook

import (
	"encoding/json"
	"time"

	"github.com/cadencehq/calsync/internal/models"
)

// graphTimeFormat is Graph's offset-less event time; the zone arrives in a
// sibling timeZone field.
const graphTimeFormat = "2006-01-02T15:04:05"

// graphDateTime is Graph's {dateTime, timeZone} pair.
type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type graphEmailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type graphAttendee struct {
	Type   string `json:"type"`
	Status struct {
		Response string `json:"response"`
	} `json:"status"`
	EmailAddress graphEmailAddress `json:"emailAddress"`
}

// graphEvent is the Microsoft Graph wire shape of a calendar event, reduced
// to the fields the normalizer consumes.
type graphEvent struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Body    struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	BodyPreview string        `json:"bodyPreview"`
	Start       graphDateTime `json:"start"`
	End         graphDateTime `json:"end"`
	Location    struct {
		DisplayName string `json:"displayName"`
	} `json:"location"`
	IsAllDay    bool   `json:"isAllDay"`
	IsCancelled bool   `json:"isCancelled"`
	ShowAs      string `json:"showAs"`
	Organizer   struct {
		EmailAddress graphEmailAddress `json:"emailAddress"`
	} `json:"organizer"`
	Attendees  []graphAttendee `json:"attendees"`
	Recurrence *struct {
		Pattern map[string]any `json:"pattern"`
		Range   map[string]any `json:"range"`
	} `json:"recurrence"`
	Removed *struct {
		Reason string `json:"reason"`
	} `json:"@removed"`
}

// fromGraph normalizes a Graph wire event into the canonical model.
func fromGraph(ev *graphEvent) *models.Event {
	event := &models.Event{
		ProviderEventID: ev.ID,
		Title:           ev.Subject,
		Description:     ev.BodyPreview,
		Location:        ev.Location.DisplayName,
		AllDay:          ev.IsAllDay,
		Status:          normalizeGraphStatus(ev),
		ShowAs:          normalizeShowAs(ev.ShowAs),
		OrganizerEmail:  ev.Organizer.EmailAddress.Address,
		OrganizerName:   ev.Organizer.EmailAddress.Name,
	}

	if event.Title == "" {
		event.Title = models.UntitledEvent
	}
	if ev.Body.ContentType == "text" && ev.Body.Content != "" {
		event.Description = ev.Body.Content
	}

	event.StartTime, event.Timezone = parseGraphTime(ev.Start)
	event.EndTime, _ = parseGraphTime(ev.End)

	for _, att := range ev.Attendees {
		event.Attendees = append(event.Attendees, models.Attendee{
			Email:    att.EmailAddress.Address,
			Name:     att.EmailAddress.Name,
			Response: normalizeGraphResponse(att.Status.Response),
			Optional: att.Type == "optional",
		})
	}

	// Graph models recurrence as a structured pattern rather than an
	// RRULE list; its serialized pattern stands in as the single rule.
	if ev.Recurrence != nil {
		if rule, err := json.Marshal(ev.Recurrence.Pattern); err == nil {
			event.RecurrenceRule = string(rule)
		}
	}

	if raw, err := json.Marshal(ev); err == nil {
		event.Raw = raw
	}

	return event
}

// toGraph converts a canonical event into the Graph request body.
func toGraph(ev *models.Event) map[string]any {
	tz := ev.Timezone
	if tz == "" {
		tz = "UTC"
	}

	title := ev.Title
	if title == "" {
		title = models.UntitledEvent
	}

	body := map[string]any{
		"subject": title,
		"body": map[string]string{
			"contentType": "text",
			"content":     ev.Description,
		},
		"start": map[string]string{
			"dateTime": ev.StartTime.Format(graphTimeFormat),
			"timeZone": tz,
		},
		"end": map[string]string{
			"dateTime": ev.EndTime.Format(graphTimeFormat),
			"timeZone": tz,
		},
		"isAllDay": ev.AllDay,
		"showAs":   showAsFor(ev.ShowAs),
	}

	if ev.Location != "" {
		body["location"] = map[string]string{"displayName": ev.Location}
	}

	if len(ev.Attendees) > 0 {
		attendees := make([]map[string]any, 0, len(ev.Attendees))
		for _, att := range ev.Attendees {
			attType := "required"
			if att.Optional {
				attType = "optional"
			}
			attendees = append(attendees, map[string]any{
				"type": attType,
				"emailAddress": map[string]string{
					"address": att.Email,
					"name":    att.Name,
				},
			})
		}
		body["attendees"] = attendees
	}

	return body
}

func parseGraphTime(dt graphDateTime) (time.Time, string) {
	if dt.DateTime == "" {
		return time.Time{}, dt.TimeZone
	}

	loc := time.UTC
	if dt.TimeZone != "" && dt.TimeZone != "UTC" {
		if l, err := time.LoadLocation(dt.TimeZone); err == nil {
			loc = l
		}
	}

	t, err := time.ParseInLocation(graphTimeFormat, dt.DateTime, loc)
	if err != nil {
		return time.Time{}, dt.TimeZone
	}
	return t, dt.TimeZone
}

func normalizeGraphStatus(ev *graphEvent) models.EventStatus {
	switch {
	case ev.IsCancelled:
		return models.StatusCancelled
	case ev.ShowAs == "tentative":
		return models.StatusTentative
	default:
		return models.StatusConfirmed
	}
}

// normalizeShowAs maps Graph showAs onto the 4-state busy/free enum. An
// unset value blocks time.
func normalizeShowAs(showAs string) models.ShowAs {
	switch showAs {
	case "free", "workingElsewhere":
		return models.ShowAsFree
	case "tentative":
		return models.ShowAsTentative
	case "oof":
		return models.ShowAsOutOfOffice
	default:
		return models.ShowAsBusy
	}
}

func showAsFor(showAs models.ShowAs) string {
	switch showAs {
	case models.ShowAsFree:
		return "free"
	case models.ShowAsTentative:
		return "tentative"
	case models.ShowAsOutOfOffice:
		return "oof"
	default:
		return "busy"
	}
}

func normalizeGraphResponse(response string) models.ResponseStatus {
	switch response {
	case "accepted", "organizer":
		return models.ResponseAccepted
	case "declined":
		return models.ResponseDeclined
	case "tentativelyAccepted":
		return models.ResponseTentative
	default:
		return models.ResponseNeedsAction
	}
}
