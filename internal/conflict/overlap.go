package conflict

import (
	"sort"
	"time"

	"github.com/rdleal/intervalst/interval"

	"groupsched/internal/model"
)

type span struct {
	start, end int64
}

// Overlapping returns the events that overlap candidate in time, in input order.
// It is meant for checking a not-yet-stored event against a schedule.
// Events with an empty or inverted interval are ignored, as is an event
// sharing the candidate's id (the candidate being edited).
func Overlapping(candidate model.Event, events []model.Event) []model.Event {
	out := make([]model.Event, 0)
	if !candidate.Start.Before(candidate.End) || len(events) == 0 {
		return out
	}

	// The tree keeps one value per interval, so events sharing an exact
	// interval are grouped first.
	groups := make(map[span][]int)
	order := make([]span, 0, len(events))
	for i, ev := range events {
		if !ev.Start.Before(ev.End) || (candidate.ID != "" && ev.ID == candidate.ID) {
			continue
		}
		k := span{ev.Start.UnixNano(), ev.End.UnixNano()}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}

	st := interval.NewSearchTree[[]int](func(x, y time.Time) int { return x.Compare(y) })
	for _, k := range order {
		idx := groups[k]
		ev := events[idx[0]]
		if err := st.Insert(ev.Start, ev.End, idx); err != nil {
			continue
		}
	}

	hits, ok := st.AllIntersections(candidate.Start, candidate.End)
	if !ok {
		return out
	}

	matched := make([]int, 0)
	for _, idx := range hits {
		for _, i := range idx {
			// Touching intervals do not count.
			if Overlaps(candidate, events[i]) {
				matched = append(matched, i)
			}
		}
	}
	sort.Ints(matched)
	for _, i := range matched {
		out = append(out, events[i])
	}
	return out
}
