package recurrence

import (
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"groupsched/internal/model"
)

// DateLayout is the calendar-date wire format used for inputs and outputs.
const DateLayout = "2006-01-02"

// DefaultMaxOccurrences bounds a single series so that pathological ranges
// (e.g. ten years of weekly practice) stay cheap to generate.
const DefaultMaxOccurrences = 52

// Pattern is a repetition pattern for a series.
type Pattern string

const (
	Weekly   Pattern = "weekly"
	Biweekly Pattern = "biweekly"
	Monthly  Pattern = "monthly"
)

// ParsePattern maps a case-insensitive name to a Pattern.
func ParsePattern(s string) (Pattern, bool) {
	switch p := Pattern(strings.ToLower(strings.TrimSpace(s))); p {
	case Weekly, Biweekly, Monthly:
		return p, true
	default:
		return "", false
	}
}

type options struct {
	clampToLastDay bool
	maxOccurrences int

	weekdays []model.Weekday
	count    int
}

// Option tunes expansion.
type Option func(*options)

// WithClampToLastDay controls monthly series whose day does not exist in a
// month (e.g. the 31st in April): true substitutes the month's last day,
// false skips the month.
func WithClampToLastDay(clamp bool) Option {
	return func(o *options) { o.clampToLastDay = clamp }
}

// WithMaxOccurrences overrides DefaultMaxOccurrences. Values <= 0 keep the
// default.
func WithMaxOccurrences(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxOccurrences = n
		}
	}
}

// WithWeekdays makes weekly and biweekly series fall on each of days
// instead of only the start date's weekday. Monthly series ignore it.
func WithWeekdays(days ...model.Weekday) Option {
	return func(o *options) { o.weekdays = days }
}

// WithCount ends a series after n dates counted from its start, whether or
// not they are emitted. Values <= 0 mean no count limit.
func WithCount(n int) Option {
	return func(o *options) { o.count = n }
}

func buildOptions(opts []Option) options {
	o := options{
		clampToLastDay: true,
		maxOccurrences: DefaultMaxOccurrences,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Expand returns the occurrence dates (YYYY-MM-DD, ascending) of a series
// running from startDate to endDate inclusive. Unparseable dates, an
// unknown pattern or an inverted range yield an empty slice.
func Expand(startDate, endDate string, pattern Pattern, opts ...Option) []string {
	start, err := time.ParseInLocation(DateLayout, strings.TrimSpace(startDate), time.UTC)
	if err != nil {
		return []string{}
	}
	end, err := time.ParseInLocation(DateLayout, strings.TrimSpace(endDate), time.UTC)
	if err != nil {
		return []string{}
	}

	dates, _ := ExpandDates(start, end, pattern, opts...)
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		out = append(out, d.Format(DateLayout))
	}
	return out
}

// ExpandDates is the time.Time form of Expand. Only the calendar date of
// start and end is used; results are midnight UTC. The second return value
// reports whether the series was cut short by the occurrence cap.
func ExpandDates(start, end time.Time, pattern Pattern, opts ...Option) ([]time.Time, bool) {
	o := buildOptions(opts)

	start = dateOnly(start)
	end = dateOnly(end)
	if start.After(end) {
		return []time.Time{}, false
	}

	r, ok := newRule(start, end, pattern, o)
	if !ok {
		return []time.Time{}, false
	}
	return collect(r, end, time.Time{}, o.maxOccurrences)
}

func newRule(start, end time.Time, pattern Pattern, o options) (*rrule.RRule, bool) {
	ropt, ok := ruleFor(start, end, pattern, o)
	if !ok {
		return nil, false
	}
	r, err := rrule.NewRRule(ropt)
	if err != nil {
		return nil, false
	}
	return r, true
}

// collect walks r in order, dropping dates before from and stopping past
// end (zero for open-ended rules). The bool reports that another date
// existed once limit dates were taken.
func collect(r *rrule.RRule, end, from time.Time, limit int) ([]time.Time, bool) {
	out := make([]time.Time, 0, min(limit, 64))
	next := r.Iterator()
	for {
		d, ok := next()
		if !ok {
			return out, false
		}
		if !end.IsZero() && d.After(end) {
			return out, false
		}
		if d.Before(from) {
			continue
		}
		if len(out) == limit {
			return out, true
		}
		out = append(out, d)
	}
}

// ruleFor translates a pattern into an rrule option set anchored at start.
// A zero end leaves the rule open.
func ruleFor(start, end time.Time, pattern Pattern, o options) (rrule.ROption, bool) {
	ropt := rrule.ROption{Dtstart: start}
	if !end.IsZero() {
		ropt.Until = end
	}
	if o.count > 0 {
		ropt.Count = o.count
	}

	switch pattern {
	case Weekly, Biweekly:
		ropt.Freq = rrule.WEEKLY
		ropt.Interval = 1
		if pattern == Biweekly {
			ropt.Interval = 2
		}
		if len(o.weekdays) > 0 {
			days, ok := ruleWeekdays(o.weekdays)
			if !ok {
				return rrule.ROption{}, false
			}
			ropt.Byweekday = days
		}
	case Monthly:
		ropt.Freq = rrule.MONTHLY
		ropt.Interval = 1
		day := start.Day()
		ropt.Bymonthday = []int{day}
		if o.clampToLastDay && day > 28 {
			// Candidates 28..day, keep the last one that exists in the month.
			days := make([]int, 0, day-27)
			for d := 28; d <= day; d++ {
				days = append(days, d)
			}
			ropt.Bymonthday = days
			ropt.Bysetpos = []int{-1}
		}
	default:
		return rrule.ROption{}, false
	}
	return ropt, true
}

var ruleDays = map[model.Weekday]rrule.Weekday{
	model.Monday:    rrule.MO,
	model.Tuesday:   rrule.TU,
	model.Wednesday: rrule.WE,
	model.Thursday:  rrule.TH,
	model.Friday:    rrule.FR,
	model.Saturday:  rrule.SA,
	model.Sunday:    rrule.SU,
}

func ruleWeekdays(days []model.Weekday) ([]rrule.Weekday, bool) {
	out := make([]rrule.Weekday, 0, len(days))
	seen := make(map[model.Weekday]bool, len(days))
	for _, d := range days {
		wd, ok := ruleDays[d]
		if !ok {
			return nil, false
		}
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, wd)
	}
	return out, true
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
