package model

import "time"

// Event is a scheduled group event as read from storage. The engine never
// mutates events; Start must be before End.
type Event struct {
	ID       string `json:"id" yaml:"id"`
	Title    string `json:"title" yaml:"title"`
	Location string `json:"location,omitempty" yaml:"location,omitempty"`

	// EntityID is the owning group (or sub-scope such as a project).
	EntityID string `json:"entity_id,omitempty" yaml:"entity_id,omitempty"`

	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// Valid reports whether the event has an id and a non-empty interval.
func (e Event) Valid() bool {
	return e.ID != "" && !e.Start.IsZero() && e.Start.Before(e.End)
}

// EventRef is the display subset of an Event carried inside a Conflict.
type EventRef struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Location string    `json:"location,omitempty"`
}

// Ref returns the display subset of e.
func (e Event) Ref() EventRef {
	return EventRef{
		ID:       e.ID,
		Title:    e.Title,
		Start:    e.Start,
		End:      e.End,
		Location: e.Location,
	}
}

// ConflictTag names one independent dimension along which two events clash.
type ConflictTag string

const (
	TagTimeOverlap  ConflictTag = "time-overlap"
	TagSameDay      ConflictTag = "same-day"
	TagSameLocation ConflictTag = "same-location"
)

// Conflict is an unordered pair of events plus the non-empty set of
// dimensions they conflict on. Tags are kept in the order time-overlap,
// same-day, same-location.
type Conflict struct {
	PairKey string        `json:"pair_key"`
	EventA  EventRef      `json:"event_a"`
	EventB  EventRef      `json:"event_b"`
	Tags    []ConflictTag `json:"tags"`
}

// Has reports whether the conflict carries tag.
func (c Conflict) Has(tag ConflictTag) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Weekday is a lower-case three letter day key ("mon" … "sun").
type Weekday string

const (
	Monday    Weekday = "mon"
	Tuesday   Weekday = "tue"
	Wednesday Weekday = "wed"
	Thursday  Weekday = "thu"
	Friday    Weekday = "fri"
	Saturday  Weekday = "sat"
	Sunday    Weekday = "sun"
)

// Weekdays lists the day keys starting on Monday.
var Weekdays = []Weekday{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

// Valid reports whether d is one of the seven known day keys.
func (d Weekday) Valid() bool {
	for _, w := range Weekdays {
		if w == d {
			return true
		}
	}
	return false
}

// WeekdayOf returns the day key of t's calendar date in t's own zone.
func WeekdayOf(t time.Time) Weekday {
	switch t.Weekday() {
	case time.Monday:
		return Monday
	case time.Tuesday:
		return Tuesday
	case time.Wednesday:
		return Wednesday
	case time.Thursday:
		return Thursday
	case time.Friday:
		return Friday
	case time.Saturday:
		return Saturday
	default:
		return Sunday
	}
}

// Slot is one weekly-recurring availability window. Times are "HH:MM".
type Slot struct {
	Day       Weekday `json:"day" yaml:"day" validate:"required,oneof=mon tue wed thu fri sat sun"`
	StartTime string  `json:"start_time" yaml:"start_time" validate:"required,hhmm"`
	EndTime   string  `json:"end_time" yaml:"end_time" validate:"required,hhmm"`
}

// OverlapWindow is a maximal range on one weekday during which the same
// set of members is available.
type OverlapWindow struct {
	Day       Weekday  `json:"day"`
	StartTime string   `json:"start_time"`
	EndTime   string   `json:"end_time"`
	MemberIDs []string `json:"member_ids"`
}

// HistoryPair holds, for one past event, the members who answered "yes"
// and the members who were marked present or late.
type HistoryPair struct {
	EventID  string    `json:"event_id"`
	Date     time.Time `json:"date"`
	Going    []string  `json:"going"`
	Attended []string  `json:"attended"`
}

// Intent is a member's answer to an attendance poll.
type Intent string

const (
	IntentYes     Intent = "yes"
	IntentMaybe   Intent = "maybe"
	IntentNo      Intent = "no"
	IntentPending Intent = "pending"
)

// Response is one member's answer for a future event.
type Response struct {
	MemberID string `json:"member_id" validate:"required"`
	Intent   Intent `json:"intent" validate:"required,oneof=yes maybe no pending"`
}

// PersonalEntry is a member's own commitment (work, school, travel) that
// may keep them from a group event. A recurring entry repeats every week
// on RecurringDay, or on the weekday of Date when RecurringDay is empty.
type PersonalEntry struct {
	ID         string `json:"id"`
	MemberID   string `json:"member_id" validate:"required"`
	MemberName string `json:"member_name,omitempty"`
	Title      string `json:"title,omitempty"`
	Kind       string `json:"kind,omitempty" validate:"omitempty,oneof=work school appointment travel family other"`

	Date      string `json:"date" validate:"required"`
	StartTime string `json:"start_time" validate:"required,hhmm"`
	EndTime   string `json:"end_time" validate:"required,hhmm"`

	Recurring    bool    `json:"recurring"`
	RecurringDay Weekday `json:"recurring_day,omitempty" validate:"omitempty,oneof=mon tue wed thu fri sat sun"`
}

// MemberConflict is one personal entry clashing with a group time range.
type MemberConflict struct {
	MemberID       string        `json:"member_id"`
	MemberName     string        `json:"member_name,omitempty"`
	Entry          PersonalEntry `json:"entry"`
	Date           string        `json:"date"`
	OverlapMinutes int           `json:"overlap_minutes"`
}

// Occurrence is a single concrete instance of a recurring series, after the
// series' time of day has been applied to an occurrence date.
type Occurrence struct {
	SeriesID string `json:"series_id"`

	// InstanceKey uniquely identifies one occurrence within its series,
	// derived from the occurrence date.
	InstanceKey string `json:"instance_key"`

	Title    string `json:"title"`
	Location string `json:"location,omitempty"`

	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
