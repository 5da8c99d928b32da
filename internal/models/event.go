package models

import (
	"encoding/json"
	"time"
)

// UntitledEvent is the title assigned to events the provider returns without one.
const UntitledEvent = "Untitled"

// EventStatus is the normalized lifecycle status of a calendar event.
type EventStatus string

const (
	StatusConfirmed EventStatus = "confirmed"
	StatusTentative EventStatus = "tentative"
	StatusCancelled EventStatus = "cancelled"
)

// ShowAs is the normalized busy/free classification of an event.
// Providers express this differently (Google "transparency", Outlook "showAs");
// both collapse onto these four states.
type ShowAs string

const (
	ShowAsBusy        ShowAs = "busy"
	ShowAsFree        ShowAs = "free"
	ShowAsTentative   ShowAs = "tentative"
	ShowAsOutOfOffice ShowAs = "outOfOffice"
)

// ResponseStatus is an attendee's normalized response to an invitation.
type ResponseStatus string

const (
	ResponseAccepted    ResponseStatus = "accepted"
	ResponseDeclined    ResponseStatus = "declined"
	ResponseTentative   ResponseStatus = "tentative"
	ResponseNeedsAction ResponseStatus = "needsAction"
)

// Attendee is a normalized event attendee.
type Attendee struct {
	Email    string         `json:"email"`
	Name     string         `json:"name,omitempty"`
	Response ResponseStatus `json:"response"`
	Optional bool           `json:"optional,omitempty"`
}

// Event is the canonical, provider-agnostic representation of a calendar
// event. Provider clients normalize their wire formats into and out of this
// shape; nothing outside a provider package interprets raw provider payloads.
type Event struct {
	ProviderEventID string      `json:"provider_event_id"`
	CalendarID      string      `json:"calendar_id"`
	Title           string      `json:"title"`
	Description     string      `json:"description,omitempty"`
	Location        string      `json:"location,omitempty"`
	StartTime       time.Time   `json:"start_time"`
	EndTime         time.Time   `json:"end_time"`
	Timezone        string      `json:"timezone,omitempty"`
	AllDay          bool        `json:"all_day"`
	Status          EventStatus `json:"status"`
	ShowAs          ShowAs      `json:"show_as"`
	OrganizerEmail  string      `json:"organizer_email,omitempty"`
	OrganizerName   string      `json:"organizer_name,omitempty"`
	Attendees       []Attendee  `json:"attendees,omitempty"`

	// RecurrenceRule holds only the first recurrence rule of the event.
	// Multi-rule recurrences are not modeled; extra rules are dropped.
	RecurrenceRule string `json:"recurrence_rule,omitempty"`

	// Raw is the provider's wire payload, kept opaque for debugging and
	// lossless round trips.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// IsCancelled returns true if the event has been cancelled on the provider.
func (e *Event) IsCancelled() bool {
	return e.Status == StatusCancelled
}

// Blocks returns true if the event should be treated as blocking availability.
func (e *Event) Blocks() bool {
	return e.ShowAs != ShowAsFree && !e.IsCancelled()
}

// Overlaps returns true if the event intersects the [from, to) window.
func (e *Event) Overlaps(from, to time.Time) bool {
	return e.StartTime.Before(to) && e.EndTime.After(from)
}
