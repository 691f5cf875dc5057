package conflict

import (
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"groupsched/internal/model"
)

// Default group practice window used by ConflictsForDate.
const (
	DefaultPracticeStart = "19:00"
	DefaultPracticeEnd   = "22:00"
)

// ErrInvalidRange is returned when a date or time range can't be read or
// is empty.
var ErrInvalidRange = errors.New("conflict: invalid date or time range")

// CheckMembers returns the personal entries that overlap start..end
// ("HH:MM") on date ("YYYY-MM-DD"), most overlap minutes first and then
// by member. A one-off entry applies on its own date; a recurring entry on
// every matching weekday. Entries with unreadable times are skipped.
func CheckMembers(date, start, end string, entries []model.PersonalEntry) ([]model.MemberConflict, error) {
	day, err := time.Parse(dayLayout, strings.TrimSpace(date))
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidRange, "date %q", date)
	}
	from, to, ok := clockRange(start, end)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidRange, "%s-%s", start, end)
	}

	key := day.Format(dayLayout)
	weekday := model.WeekdayOf(day)

	out := make([]model.MemberConflict, 0)
	for _, e := range entries {
		if !appliesOn(e, key, weekday) {
			continue
		}
		es, ee, ok := clockRange(e.StartTime, e.EndTime)
		if !ok {
			continue
		}
		overlap := min(to, ee) - max(from, es)
		if overlap <= 0 {
			continue
		}
		out = append(out, model.MemberConflict{
			MemberID:       e.MemberID,
			MemberName:     e.MemberName,
			Entry:          e,
			Date:           key,
			OverlapMinutes: overlap,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OverlapMinutes != out[j].OverlapMinutes {
			return out[i].OverlapMinutes > out[j].OverlapMinutes
		}
		return out[i].MemberID < out[j].MemberID
	})
	return out, nil
}

// ConflictsForDate is CheckMembers over the default practice window.
func ConflictsForDate(date string, entries []model.PersonalEntry) ([]model.MemberConflict, error) {
	return CheckMembers(date, DefaultPracticeStart, DefaultPracticeEnd, entries)
}

func appliesOn(e model.PersonalEntry, date string, weekday model.Weekday) bool {
	if !e.Recurring {
		return strings.TrimSpace(e.Date) == date
	}
	day := e.RecurringDay
	if day == "" {
		d, err := time.Parse(dayLayout, strings.TrimSpace(e.Date))
		if err != nil {
			return false
		}
		day = model.WeekdayOf(d)
	}
	return day == weekday
}

// clockRange converts "HH:MM" bounds to minutes after midnight.
func clockRange(start, end string) (int, int, bool) {
	s, err := time.Parse("15:04", strings.TrimSpace(start))
	if err != nil {
		return 0, 0, false
	}
	e, err := time.Parse("15:04", strings.TrimSpace(end))
	if err != nil {
		return 0, 0, false
	}
	from, to := s.Hour()*60+s.Minute(), e.Hour()*60+e.Minute()
	if from >= to {
		return 0, 0, false
	}
	return from, to, true
}
