// Package availability validates members' weekly availability slots.
//
// The register never owns state: callers pass the member's current slots
// and get back a decision plus a new slice, leaving persistence to them.
// Input slices are never modified.
package availability

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"groupsched/internal/model"
	"groupsched/internal/validate"
)

// DefaultMaxSlots is three slots per day for a full week.
const DefaultMaxSlots = 21

// Result is the outcome of AddSlot.
type Result string

const (
	ResultOK          Result = "ok"
	ResultMaxExceeded Result = "max_exceeded"
	ResultOverlap     Result = "overlap"
)

// ErrInvalidSlot wraps every malformed-slot error. A malformed slot is a
// caller bug, not a user-facing decision.
var ErrInvalidSlot = errors.New("availability: invalid slot")

// Register applies the per-member slot rules.
type Register struct {
	MaxSlots int
}

// New returns a Register with the given cap; maxSlots <= 0 uses
// DefaultMaxSlots.
func New(maxSlots int) Register {
	if maxSlots <= 0 {
		maxSlots = DefaultMaxSlots
	}
	return Register{MaxSlots: maxSlots}
}

func (r Register) limit() int {
	if r.MaxSlots <= 0 {
		return DefaultMaxSlots
	}
	return r.MaxSlots
}

// AddSlot decides whether slot may join existing. On ResultOK the returned
// slice is a new snapshot with slot appended; otherwise it is existing.
func (r Register) AddSlot(existing []model.Slot, slot model.Slot) (Result, []model.Slot, error) {
	newStart, newEnd, err := bounds(slot)
	if err != nil {
		return "", existing, err
	}

	if len(existing) >= r.limit() {
		return ResultMaxExceeded, existing, nil
	}

	for _, s := range existing {
		if s.Day != slot.Day {
			continue
		}
		start, end, err := bounds(s)
		if err != nil {
			return "", existing, fmt.Errorf("existing %w", err)
		}
		if newStart < end && start < newEnd {
			return ResultOverlap, existing, nil
		}
	}

	out := make([]model.Slot, len(existing), len(existing)+1)
	copy(out, existing)
	out = append(out, slot)
	return ResultOK, out, nil
}

// RemoveSlot returns existing without any slot matching the full
// (day, start, end) triple.
func RemoveSlot(existing []model.Slot, slot model.Slot) []model.Slot {
	out := make([]model.Slot, 0, len(existing))
	for _, s := range existing {
		if s == slot {
			continue
		}
		out = append(out, s)
	}
	return out
}

// SlotsByDay returns the slots for day ordered by start time.
func SlotsByDay(existing []model.Slot, day model.Weekday) []model.Slot {
	out := make([]model.Slot, 0)
	for _, s := range existing {
		if s.Day == day {
			out = append(out, s)
		}
	}
	// HH:MM strings sort chronologically.
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out
}

// bounds validates s and returns its start and end as minutes after
// midnight.
func bounds(s model.Slot) (int, int, error) {
	if err := validate.Struct(s); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrInvalidSlot, err)
	}
	start, _ := minutes(s.StartTime)
	end, _ := minutes(s.EndTime)
	if start >= end {
		return 0, 0, fmt.Errorf("%w: start %s is not before end %s", ErrInvalidSlot, s.StartTime, s.EndTime)
	}
	return start, end, nil
}

func minutes(clock string) (int, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func clock(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}
