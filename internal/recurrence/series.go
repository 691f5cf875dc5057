package recurrence

import (
	"errors"
	"strings"
	"time"

	"groupsched/internal/model"
)

var (
	// ErrInvalidClock is returned when a series' start time is not "HH:MM".
	ErrInvalidClock = errors.New("recurrence: start time must be HH:MM")

	// ErrInvalidDuration is returned for a non-positive occurrence length.
	ErrInvalidDuration = errors.New("recurrence: duration must be positive")

	// ErrInvalidEnd is returned for an unknown end type or a by_count series
	// without a positive count.
	ErrInvalidEnd = errors.New("recurrence: invalid end condition")

	// ErrInvalidWeekday is returned when DaysOfWeek holds an unknown day key.
	ErrInvalidWeekday = errors.New("recurrence: unknown weekday")
)

// EndType says how a series stops.
type EndType string

const (
	EndNever   EndType = "never"
	EndByDate  EndType = "by_date"
	EndByCount EndType = "by_count"
)

// ParseEndType maps a case-insensitive name to an EndType. Empty means
// EndByDate.
func ParseEndType(s string) (EndType, bool) {
	switch e := EndType(strings.ToLower(strings.TrimSpace(s))); e {
	case "":
		return EndByDate, true
	case EndNever, EndByDate, EndByCount:
		return e, true
	default:
		return "", false
	}
}

// Series is a recurring group activity: a date rule plus the time of day
// and length each occurrence takes.
type Series struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Location string `json:"location,omitempty"`

	StartDate string  `json:"start_date"`
	Pattern   Pattern `json:"pattern"`

	// DaysOfWeek spreads weekly and biweekly series over several days.
	// Empty means the start date's weekday.
	DaysOfWeek []model.Weekday `json:"days_of_week,omitempty"`

	// EndType defaults to EndByDate, which uses EndDate inclusively.
	EndType  EndType `json:"end_type,omitempty"`
	EndDate  string  `json:"end_date,omitempty"`
	EndCount int     `json:"end_count,omitempty"`

	// StartTime is the local time of day ("HH:MM") each occurrence begins.
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`

	// ClampToLastDay defaults to true when nil.
	ClampToLastDay *bool `json:"clamp_to_last_day,omitempty"`
}

// Occurrences expands s into timed occurrences in loc (time.Local if nil).
// The bool reports truncation by the occurrence cap. An open-ended series
// always stops at the cap.
func (s Series) Occurrences(loc *time.Location, opts ...Option) ([]model.Occurrence, bool, error) {
	clock, err := s.check()
	if err != nil {
		return nil, false, err
	}
	dates, truncated := s.dates(time.Time{}, opts)
	return s.build(dates, clock, loc), truncated, nil
}

// Upcoming returns at most n occurrences whose date is on or after the
// date of from in loc. n is bounded by the occurrence cap; a by_count
// series still counts the dates before from.
func (s Series) Upcoming(from time.Time, n int, loc *time.Location, opts ...Option) ([]model.Occurrence, error) {
	clock, err := s.check()
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}
	n = min(n, buildOptions(s.options(opts)).maxOccurrences)
	if n <= 0 {
		return []model.Occurrence{}, nil
	}
	dates, _ := s.dates(dateOnly(from.In(loc)), append(opts, WithMaxOccurrences(n)))
	return s.build(dates, clock, loc), nil
}

// Dates returns the series' occurrence dates (midnight UTC) without
// applying a time of day. Unparseable dates or an invalid end condition
// yield an empty slice.
func (s Series) Dates(opts ...Option) ([]time.Time, bool) {
	if s.checkRule() != nil {
		return []time.Time{}, false
	}
	return s.dates(time.Time{}, opts)
}

func (s Series) check() (time.Time, error) {
	clock, err := time.Parse("15:04", s.StartTime)
	if err != nil {
		return time.Time{}, ErrInvalidClock
	}
	if s.DurationMinutes <= 0 {
		return time.Time{}, ErrInvalidDuration
	}
	return clock, s.checkRule()
}

func (s Series) checkRule() error {
	end, ok := ParseEndType(string(s.EndType))
	if !ok || (end == EndByCount && s.EndCount <= 0) {
		return ErrInvalidEnd
	}
	for _, d := range s.DaysOfWeek {
		if !d.Valid() {
			return ErrInvalidWeekday
		}
	}
	return nil
}

func (s Series) options(opts []Option) []Option {
	out := make([]Option, 0, len(opts)+1)
	if s.ClampToLastDay != nil {
		out = append(out, WithClampToLastDay(*s.ClampToLastDay))
	}
	return append(out, opts...)
}

func (s Series) dates(from time.Time, opts []Option) ([]time.Time, bool) {
	o := buildOptions(s.options(opts))

	start, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s.StartDate), time.UTC)
	if err != nil {
		return []time.Time{}, false
	}

	var end time.Time
	endType, _ := ParseEndType(string(s.EndType))
	switch endType {
	case EndByDate:
		end, err = time.ParseInLocation(DateLayout, strings.TrimSpace(s.EndDate), time.UTC)
		if err != nil || start.After(end) {
			return []time.Time{}, false
		}
	case EndByCount:
		o.count = s.EndCount
	}
	if len(s.DaysOfWeek) > 0 {
		o.weekdays = s.DaysOfWeek
	}

	r, ok := newRule(start, end, s.Pattern, o)
	if !ok {
		return []time.Time{}, false
	}
	return collect(r, end, from, o.maxOccurrences)
}

func (s Series) build(dates []time.Time, clock time.Time, loc *time.Location) []model.Occurrence {
	if loc == nil {
		loc = time.Local
	}
	dur := time.Duration(s.DurationMinutes) * time.Minute
	out := make([]model.Occurrence, 0, len(dates))
	for _, d := range dates {
		begin := time.Date(d.Year(), d.Month(), d.Day(), clock.Hour(), clock.Minute(), 0, 0, loc)
		out = append(out, model.Occurrence{
			SeriesID:    s.ID,
			InstanceKey: d.Format(DateLayout),
			Title:       s.Title,
			Location:    s.Location,
			Start:       begin,
			End:         begin.Add(dur),
		})
	}
	return out
}

// Events converts occurrences into events so they can be checked against a
// group's existing schedule before being stored.
func Events(occ []model.Occurrence, entityID string) []model.Event {
	out := make([]model.Event, 0, len(occ))
	for _, o := range occ {
		out = append(out, model.Event{
			ID:       o.SeriesID + "@" + o.InstanceKey,
			Title:    o.Title,
			Location: o.Location,
			EntityID: entityID,
			Start:    o.Start,
			End:      o.End,
		})
	}
	return out
}
