// Package ics moves events in and out of iCalendar form: external group
// feeds are parsed into events for conflict checks, and expanded series
// are exported for calendar apps.
package ics

import (
	"bytes"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/pkg/errors"

	appLog "groupsched/internal/log"
	"groupsched/internal/model"
)

// ParsedEvent is the subset of a VEVENT the scheduler cares about.
type ParsedEvent struct {
	Source Source

	UID      string
	Summary  string
	Location string

	Start  time.Time
	End    time.Time
	AllDay bool

	// Recurring is set when the VEVENT carries an RRULE. Only its first
	// instance (DTSTART) is imported.
	Recurring bool

	// RecurrenceID marks an override of one instance of a recurring event.
	RecurrenceID *time.Time
}

// ParseICS parses one ICS payload. VEVENTs that can't be read are logged
// and skipped; only an unreadable calendar is an error.
func ParseICS(src Source, body []byte) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return nil, errors.Wrap(err, "parse calendar")
	}

	events := make([]ParsedEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(src, comp)
		if perr != nil {
			appLog.Error("ics vevent skipped", perr, "id", src.ID, "url", redactURL(src.URL))
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "id", src.ID, "event_count", len(events))
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent) (ParsedEvent, error) {
	out := ParsedEvent{Source: src}

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return out, errors.Wrapf(err, "uid %s: DTSTART", out.UID)
	}
	out.Start = start

	if dt := ve.GetProperty(ical.ComponentPropertyDtStart); dt != nil {
		if vs, ok := dt.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			out.AllDay = true
		}
		if !strings.Contains(dt.Value, "T") {
			out.AllDay = true
		}
	}

	// DTEND is optional; all-day events default to one day, timed events
	// without an end are dropped later as empty intervals.
	if end, err := ve.GetEndAt(); err == nil {
		out.End = end
	}
	if out.End.IsZero() && out.AllDay {
		out.End = out.Start.AddDate(0, 0, 1)
	}

	out.Recurring = ve.GetProperty(ical.ComponentPropertyRrule) != nil

	if rid := ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")); rid != nil {
		if t, err := parseICSTime(rid.Value); err == nil {
			out.RecurrenceID = &t
		}
	}

	return out, nil
}

// ToEvents converts parsed VEVENTs into events owned by entityID. Event ids
// are the UID, suffixed with the instance time for overrides. Empty or
// inverted intervals are skipped.
func ToEvents(parsed []ParsedEvent, entityID string) []model.Event {
	out := make([]model.Event, 0, len(parsed))
	for _, p := range parsed {
		id := p.UID
		if p.RecurrenceID != nil {
			id += "@" + p.RecurrenceID.UTC().Format("20060102T150405Z")
		}
		ev := model.Event{
			ID:       id,
			Title:    p.Summary,
			Location: p.Location,
			EntityID: entityID,
			Start:    p.Start,
			End:      p.End,
		}
		if !ev.Valid() {
			appLog.Debug("ics event skipped: empty interval", "uid", p.UID)
			continue
		}
		out = append(out, ev)
	}
	return out
}

// CountRecurring counts the parsed events that carry an RRULE.
func CountRecurring(parsed []ParsedEvent) int {
	n := 0
	for _, p := range parsed {
		if p.Recurring {
			n++
		}
	}
	return n
}

// parseICSTime parses a bare DATE or DATE-TIME value.
func parseICSTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, time.Local)
	}
	return time.ParseInLocation("20060102", v, time.Local)
}
