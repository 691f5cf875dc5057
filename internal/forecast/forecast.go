// Package forecast estimates turnout for a future event from the ratio of
// attendance to positive responses on past events.
package forecast

import (
	"math"
	"time"

	"groupsched/internal/model"
)

const (
	// DefaultShowRate is used when there is nothing to learn from.
	DefaultShowRate = 0.85

	// DefaultHistoryMonths is how far back history is considered.
	DefaultHistoryMonths = 3
)

// ComputeShowRate returns total attended over total positive responses,
// pooled across every pair. With no history, or no positive responses at
// all, it returns DefaultShowRate. The ratio is not clamped to [0,1].
func ComputeShowRate(history []model.HistoryPair) float64 {
	return ComputeShowRateOr(history, DefaultShowRate)
}

// ComputeShowRateOr is ComputeShowRate with a caller-chosen fallback.
func ComputeShowRateOr(history []model.HistoryPair, fallback float64) float64 {
	going, attended := totals(history)
	if going == 0 {
		return fallback
	}
	return float64(attended) / float64(going)
}

// PredictAttendance rounds positive*showRate to the nearest integer. A
// non-positive response count always predicts zero.
func PredictAttendance(positive int, showRate float64) int {
	if positive <= 0 {
		return 0
	}
	n := math.Round(float64(positive) * showRate)
	if math.IsNaN(n) || n < 0 {
		return 0
	}
	return int(n)
}

// Window keeps the pairs whose event date falls within the last months
// months before now (inclusive of the boundary, exclusive of the future).
// months <= 0 uses DefaultHistoryMonths.
func Window(history []model.HistoryPair, now time.Time, months int) []model.HistoryPair {
	if months <= 0 {
		months = DefaultHistoryMonths
	}
	since := now.AddDate(0, -months, 0)
	out := make([]model.HistoryPair, 0, len(history))
	for _, h := range history {
		if h.Date.Before(since) || h.Date.After(now) {
			continue
		}
		out = append(out, h)
	}
	return out
}

// CountPositive counts "yes" answers. Maybe, no and pending are ignored.
func CountPositive(responses []model.Response) int {
	n := 0
	for _, r := range responses {
		if r.Intent == model.IntentYes {
			n++
		}
	}
	return n
}

// Result bundles a forecast for one upcoming event.
type Result struct {
	ShowRate     float64 `json:"show_rate"`
	Positive     int     `json:"positive"`
	Expected     int     `json:"expected"`
	SampleEvents int     `json:"sample_events"`
	DefaultUsed  bool    `json:"default_used"`
}

// Options tune Forecast. Zero values fall back to package defaults.
type Options struct {
	DefaultShowRate float64
	HistoryMonths   int
}

// Forecast windows history relative to now, derives the show-rate and
// applies it to positive.
func Forecast(history []model.HistoryPair, positive int, now time.Time, opts Options) Result {
	fallback := opts.DefaultShowRate
	if fallback <= 0 {
		fallback = DefaultShowRate
	}

	recent := Window(history, now, opts.HistoryMonths)
	going, _ := totals(recent)
	rate := ComputeShowRateOr(recent, fallback)

	return Result{
		ShowRate:     rate,
		Positive:     positive,
		Expected:     PredictAttendance(positive, rate),
		SampleEvents: len(recent),
		DefaultUsed:  going == 0,
	}
}

func totals(history []model.HistoryPair) (going, attended int) {
	for _, h := range history {
		going += len(h.Going)
		attended += len(h.Attended)
	}
	return going, attended
}
