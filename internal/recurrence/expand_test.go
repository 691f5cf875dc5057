package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupsched/internal/model"
)

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse(DateLayout, s)
	require.NoError(t, err)
	return d
}

func TestExpandStrides(t *testing.T) {
	cases := []struct {
		name    string
		pattern Pattern
		stride  time.Duration
	}{
		{"weekly", Weekly, 7 * 24 * time.Hour},
		{"biweekly", Biweekly, 14 * 24 * time.Hour},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Expand("2026-01-05", "2026-06-30", tc.pattern)
			require.NotEmpty(t, got)
			assert.Equal(t, "2026-01-05", got[0])
			for i := 1; i < len(got); i++ {
				prev := mustDate(t, got[i-1])
				cur := mustDate(t, got[i])
				assert.Equal(t, tc.stride, cur.Sub(prev), "gap between %s and %s", got[i-1], got[i])
			}
			last := mustDate(t, got[len(got)-1])
			assert.False(t, last.After(mustDate(t, "2026-06-30")))
		})
	}
}

func TestExpandWeeklyInclusiveEnd(t *testing.T) {
	got := Expand("2026-01-05", "2026-02-02", Weekly)
	assert.Equal(t, []string{"2026-01-05", "2026-01-12", "2026-01-19", "2026-01-26", "2026-02-02"}, got)
}

func TestExpandSingleDayRange(t *testing.T) {
	assert.Equal(t, []string{"2026-03-10"}, Expand("2026-03-10", "2026-03-10", Biweekly))
}

func TestExpandMonthlyClamp(t *testing.T) {
	got := Expand("2026-01-31", "2026-06-30", Monthly)
	assert.Equal(t, []string{
		"2026-01-31", "2026-02-28", "2026-03-31", "2026-04-30", "2026-05-31", "2026-06-30",
	}, got)
}

func TestExpandMonthlyClampLeapYear(t *testing.T) {
	got := Expand("2028-01-31", "2028-03-31", Monthly, WithClampToLastDay(true))
	assert.Equal(t, []string{"2028-01-31", "2028-02-29", "2028-03-31"}, got)
}

func TestExpandMonthlyClampDay30(t *testing.T) {
	got := Expand("2026-01-30", "2026-03-31", Monthly)
	assert.Equal(t, []string{"2026-01-30", "2026-02-28", "2026-03-30"}, got)
}

func TestExpandMonthlySkip(t *testing.T) {
	got := Expand("2026-01-31", "2026-06-30", Monthly, WithClampToLastDay(false))
	assert.Equal(t, []string{"2026-01-31", "2026-03-31", "2026-05-31"}, got)
}

func TestExpandMonthlyOrdinaryDay(t *testing.T) {
	got := Expand("2026-11-15", "2027-02-15", Monthly)
	assert.Equal(t, []string{"2026-11-15", "2026-12-15", "2027-01-15", "2027-02-15"}, got)
}

func TestExpandCap(t *testing.T) {
	for _, p := range []Pattern{Weekly, Biweekly, Monthly} {
		got := Expand("2026-01-01", "2046-01-01", p)
		assert.LessOrEqual(t, len(got), DefaultMaxOccurrences, "pattern %s", p)
	}
	assert.Len(t, Expand("2026-01-01", "2046-01-01", Weekly), DefaultMaxOccurrences)
}

func TestExpandDatesTruncationFlag(t *testing.T) {
	start := mustDate(t, "2026-01-05")

	// 52 weekly dates end exactly on 2026-12-28.
	dates, truncated := ExpandDates(start, mustDate(t, "2026-12-28"), Weekly)
	assert.Len(t, dates, 52)
	assert.False(t, truncated)

	dates, truncated = ExpandDates(start, mustDate(t, "2027-01-04"), Weekly)
	assert.Len(t, dates, 52)
	assert.True(t, truncated)

	dates, truncated = ExpandDates(start, mustDate(t, "2027-01-04"), Weekly, WithMaxOccurrences(3))
	assert.Len(t, dates, 3)
	assert.True(t, truncated)
}

func TestExpandInvalidInput(t *testing.T) {
	cases := []struct {
		name       string
		start, end string
		pattern    Pattern
	}{
		{"bad start", "2026-13-01", "2026-12-31", Weekly},
		{"bad end", "2026-01-01", "tomorrow", Weekly},
		{"inverted", "2026-05-01", "2026-04-01", Monthly},
		{"unknown pattern", "2026-01-01", "2026-12-31", Pattern("daily")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Expand(tc.start, tc.end, tc.pattern)
			assert.NotNil(t, got)
			assert.Empty(t, got)
		})
	}
}

func TestExpandDeterministic(t *testing.T) {
	a := Expand("2026-01-31", "2026-12-31", Monthly)
	b := Expand("2026-01-31", "2026-12-31", Monthly)
	assert.Equal(t, a, b)
}

func TestParsePattern(t *testing.T) {
	p, ok := ParsePattern(" BiWeekly ")
	assert.True(t, ok)
	assert.Equal(t, Biweekly, p)

	_, ok = ParsePattern("yearly")
	assert.False(t, ok)
}

func TestExpandWithWeekdaysAndCount(t *testing.T) {
	start := mustDate(t, "2026-03-02")
	end := mustDate(t, "2026-03-31")

	dates, truncated := ExpandDates(start, end, Weekly,
		WithWeekdays(model.Monday, model.Wednesday, model.Monday), WithCount(4))
	assert.False(t, truncated)
	got := make([]string, 0, len(dates))
	for _, d := range dates {
		got = append(got, d.Format(DateLayout))
	}
	assert.Equal(t, []string{"2026-03-02", "2026-03-04", "2026-03-09", "2026-03-11"}, got)

	dates, _ = ExpandDates(start, end, Weekly, WithWeekdays("noday"))
	assert.Empty(t, dates)

	// Monthly series keep their day of month.
	dates, _ = ExpandDates(start, mustDate(t, "2026-05-31"), Monthly, WithWeekdays(model.Friday))
	assert.Len(t, dates, 3)
}
