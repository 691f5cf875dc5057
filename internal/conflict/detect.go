// Package conflict finds pairs of events that clash in time, day or place.
// Results are advisory; nothing here resolves or blocks a conflict.
package conflict

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"groupsched/internal/model"
)

const dayLayout = "2006-01-02"

// FindConflicts compares every pair of events and returns one record per
// pair with at least one conflict tag. Records follow input pair order;
// within a record the event with the smaller id is EventA, so the result
// does not depend on how the caller ordered the input.
func FindConflicts(events []model.Event) []model.Conflict {
	out := make([]model.Conflict, 0)
	if len(events) < 2 {
		return out
	}

	// Normalized locations, computed once per event.
	locs := make([]string, len(events))
	for i, ev := range events {
		locs[i] = normalizeLocation(ev.Location)
	}

	for i := 0; i < len(events); i++ {
		for j := i + 1; j < len(events); j++ {
			tags := pairTags(events[i], events[j], locs[i], locs[j])
			if len(tags) == 0 {
				continue
			}
			out = append(out, newConflict(events[i], events[j], tags))
		}
	}
	return out
}

// Compare returns the conflict tags between a and b.
func Compare(a, b model.Event) []model.ConflictTag {
	return pairTags(a, b, normalizeLocation(a.Location), normalizeLocation(b.Location))
}

// Against reports the conflicts between candidate and each of events. An
// event sharing the candidate's id is the candidate itself and is skipped.
func Against(candidate model.Event, events []model.Event) []model.Conflict {
	out := make([]model.Conflict, 0)
	loc := normalizeLocation(candidate.Location)
	for _, ev := range events {
		if candidate.ID != "" && ev.ID == candidate.ID {
			continue
		}
		if tags := pairTags(candidate, ev, loc, normalizeLocation(ev.Location)); len(tags) > 0 {
			out = append(out, newConflict(candidate, ev, tags))
		}
	}
	return out
}

func pairTags(a, b model.Event, locA, locB string) []model.ConflictTag {
	var tags []model.ConflictTag
	if Overlaps(a, b) {
		tags = append(tags, model.TagTimeOverlap)
	} else if sameDay(a, b) {
		tags = append(tags, model.TagSameDay)
	}
	if locA != "" && locA == locB {
		tags = append(tags, model.TagSameLocation)
	}
	return tags
}

// Overlaps is the half-open interval test: events that merely touch do
// not overlap.
func Overlaps(a, b model.Event) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// sameDay compares the date portion of each start as recorded, without
// converting either side to a common zone.
func sameDay(a, b model.Event) bool {
	return a.Start.Format(dayLayout) == b.Start.Format(dayLayout)
}

// A Caser holds state, so each call gets its own.
func normalizeLocation(s string) string {
	return cases.Lower(language.Und).String(strings.TrimSpace(s))
}

func newConflict(a, b model.Event, tags []model.ConflictTag) model.Conflict {
	if b.ID < a.ID {
		a, b = b, a
	}
	return model.Conflict{
		PairKey: a.ID + "-" + b.ID,
		EventA:  a.Ref(),
		EventB:  b.Ref(),
		Tags:    tags,
	}
}

// Summarize counts records per tag.
func Summarize(conflicts []model.Conflict) map[model.ConflictTag]int {
	out := map[model.ConflictTag]int{}
	for _, c := range conflicts {
		for _, t := range c.Tags {
			out[t]++
		}
	}
	return out
}
