package forecast

import (
	"sort"

	"groupsched/internal/model"
)

// Trend is the direction of an attendance rate over time.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

const (
	// trendDelta is the change between the older and newer half of a
	// history that counts as a trend.
	trendDelta = 0.1

	// minTrendSessions is the fewest sessions a trend is read from.
	minTrendSessions = 4
)

// DayPattern is the attendance rate on one weekday.
type DayPattern struct {
	Day           model.Weekday `json:"day"`
	AvgRate       float64       `json:"avg_rate"`
	TotalSessions int           `json:"total_sessions"`
}

// MemberForecast summarizes one member's record of turning up after
// answering "yes". A session is an event the member said yes to.
type MemberForecast struct {
	MemberID          string       `json:"member_id"`
	Sessions          int          `json:"sessions"`
	OverallRate       float64      `json:"overall_rate"`
	Trend             Trend        `json:"trend"`
	Patterns          []DayPattern `json:"patterns"`
	PredictedNextRate float64      `json:"predicted_next_rate"`
}

// Breakdown is the per-member and per-weekday view of a group's history.
// Group figures use the pooled show-rate; BestDay and WorstDay are empty
// without history.
type Breakdown struct {
	Members  []MemberForecast `json:"members"`
	Patterns []DayPattern     `json:"patterns"`
	BestDay  model.Weekday    `json:"best_day,omitempty"`
	WorstDay model.Weekday    `json:"worst_day,omitempty"`
	Trend    Trend            `json:"trend"`
}

type tally struct {
	sessions, shows int
}

func (t tally) rate() float64 {
	if t.sessions == 0 {
		return 0
	}
	return float64(t.shows) / float64(t.sessions)
}

// MemberForecasts builds a Breakdown from history. Pairs may come in any
// order; they are read oldest first. Members only ever seen in an
// attended set have no sessions and are left out.
func MemberForecasts(history []model.HistoryPair) Breakdown {
	pairs := append([]model.HistoryPair(nil), history...)
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].Date.Before(pairs[j].Date) })

	type memberLog struct {
		outcomes []bool
		days     map[model.Weekday]*tally
	}
	logs := make(map[string]*memberLog)

	for _, p := range pairs {
		day := model.WeekdayOf(p.Date)
		attended := make(map[string]bool, len(p.Attended))
		for _, m := range p.Attended {
			attended[m] = true
		}
		for _, m := range uniq(p.Going) {
			l, ok := logs[m]
			if !ok {
				l = &memberLog{days: make(map[model.Weekday]*tally)}
				logs[m] = l
			}
			l.outcomes = append(l.outcomes, attended[m])
			t, ok := l.days[day]
			if !ok {
				t = &tally{}
				l.days[day] = t
			}
			t.sessions++
			if attended[m] {
				t.shows++
			}
		}
	}

	ids := make([]string, 0, len(logs))
	for id := range logs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := Breakdown{Members: make([]MemberForecast, 0, len(ids)), Trend: TrendStable}
	for _, id := range ids {
		l := logs[id]
		older, newer := halves(l.outcomes)
		trend := trendOf(showShare(older), showShare(newer), len(l.outcomes))
		predicted := showShare(l.outcomes)
		if trend != TrendStable {
			predicted = showShare(newer)
		}
		out.Members = append(out.Members, MemberForecast{
			MemberID:          id,
			Sessions:          len(l.outcomes),
			OverallRate:       showShare(l.outcomes),
			Trend:             trend,
			Patterns:          dayPatterns(l.days),
			PredictedNextRate: predicted,
		})
	}

	groupDays := make(map[model.Weekday]*tally)
	for _, p := range pairs {
		day := model.WeekdayOf(p.Date)
		t, ok := groupDays[day]
		if !ok {
			t = &tally{}
			groupDays[day] = t
		}
		t.sessions += len(p.Going)
		t.shows += len(p.Attended)
	}
	out.Patterns = dayPatterns(groupDays)
	out.BestDay, out.WorstDay = extremes(out.Patterns)

	older, newer := halves(pairs)
	if len(pairs) >= minTrendSessions {
		out.Trend = trendOf(ComputeShowRateOr(older, 0), ComputeShowRateOr(newer, 0), len(pairs))
	}
	return out
}

// dayPatterns lists days with at least one session, Monday first.
func dayPatterns(days map[model.Weekday]*tally) []DayPattern {
	out := make([]DayPattern, 0, len(days))
	for _, d := range model.Weekdays {
		t, ok := days[d]
		if !ok || t.sessions == 0 {
			continue
		}
		out = append(out, DayPattern{Day: d, AvgRate: t.rate(), TotalSessions: t.sessions})
	}
	return out
}

// extremes picks the highest and lowest rated days; ties go to the
// earlier day in the week.
func extremes(patterns []DayPattern) (best, worst model.Weekday) {
	if len(patterns) == 0 {
		return "", ""
	}
	b, w := patterns[0], patterns[0]
	for _, p := range patterns[1:] {
		if p.AvgRate > b.AvgRate {
			b = p
		}
		if p.AvgRate < w.AvgRate {
			w = p
		}
	}
	return b.Day, w.Day
}

func trendOf(older, newer float64, n int) Trend {
	if n < minTrendSessions {
		return TrendStable
	}
	switch d := newer - older; {
	case d >= trendDelta:
		return TrendImproving
	case d <= -trendDelta:
		return TrendDeclining
	default:
		return TrendStable
	}
}

// halves splits s into an older and a newer half; the middle element of
// an odd length goes to the newer half.
func halves[T any](s []T) (older, newer []T) {
	mid := len(s) / 2
	return s[:mid], s[mid:]
}

func showShare(outcomes []bool) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	n := 0
	for _, ok := range outcomes {
		if ok {
			n++
		}
	}
	return float64(n) / float64(len(outcomes))
}

func uniq(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
