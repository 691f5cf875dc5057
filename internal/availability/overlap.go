package availability

import (
	"sort"
	"strings"

	"groupsched/internal/model"
)

// Overlaps sweeps every member's slots on day and returns the maximal
// windows during which at least minMembers members are available. Adjacent
// ranges with the same member set are merged. Malformed slots are skipped.
func Overlaps(members map[string][]model.Slot, day model.Weekday, minMembers int) []model.OverlapWindow {
	if minMembers < 1 {
		minMembers = 1
	}

	type span struct {
		member     string
		start, end int
	}
	spans := make([]span, 0)
	points := make(map[int]struct{})
	for member, slots := range members {
		for _, s := range slots {
			if s.Day != day {
				continue
			}
			start, end, err := bounds(s)
			if err != nil {
				continue
			}
			spans = append(spans, span{member: member, start: start, end: end})
			points[start] = struct{}{}
			points[end] = struct{}{}
		}
	}

	edges := make([]int, 0, len(points))
	for p := range points {
		edges = append(edges, p)
	}
	sort.Ints(edges)

	out := make([]model.OverlapWindow, 0)
	var (
		cur    *model.OverlapWindow
		curKey string
		curEnd int
	)
	flush := func() {
		if cur != nil {
			out = append(out, *cur)
			cur = nil
		}
	}

	for i := 0; i+1 < len(edges); i++ {
		from, to := edges[i], edges[i+1]

		seen := make(map[string]struct{})
		for _, sp := range spans {
			if sp.start <= from && to <= sp.end {
				seen[sp.member] = struct{}{}
			}
		}
		if len(seen) < minMembers {
			flush()
			continue
		}

		ids := make([]string, 0, len(seen))
		for id := range seen {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		key := strings.Join(ids, "\x00")

		if cur != nil && key == curKey && curEnd == from {
			curEnd = to
			cur.EndTime = clock(to)
			continue
		}
		flush()
		cur = &model.OverlapWindow{
			Day:       day,
			StartTime: clock(from),
			EndTime:   clock(to),
			MemberIDs: ids,
		}
		curKey = key
		curEnd = to
	}
	flush()
	return out
}
