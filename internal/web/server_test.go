package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupsched/internal/availability"
	"groupsched/internal/config"
	"groupsched/internal/ics"
	"groupsched/internal/model"
	"groupsched/internal/store"
)

var fixedNow = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func openRepo(t *testing.T) *store.SQLiteRepository {
	t.Helper()
	repo, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "web.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newTestServer(t *testing.T, mutate func(*config.Config), opts ...Option) (*Server, http.Handler) {
	t.Helper()
	return newServerWith(t, openRepo(t), mutate, opts...)
}

func newServerWith(t *testing.T, repo store.Repository, mutate func(*config.Config), opts ...Option) (*Server, http.Handler) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	if mutate != nil {
		mutate(cfg)
	}
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	s := NewServer(cfg, repo, opts...)
	return s, s.Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestBasicAuth(t *testing.T) {
	_, h := newTestServer(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	})

	rec := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/conflicts", map[string]any{"events": []any{}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/conflicts", strings.NewReader(`{"events":[]}`))
	req.SetBasicAuth("admin", "secret")
	ok := httptest.NewRecorder()
	h.ServeHTTP(ok, req)
	assert.Equal(t, http.StatusOK, ok.Code)
}

func TestExpandEndpoint(t *testing.T) {
	_, h := newTestServer(t, nil)

	rec := do(t, h, http.MethodPost, "/api/recurrence/expand", map[string]any{
		"start_date": "2026-01-31",
		"end_date":   "2026-04-30",
		"pattern":    "monthly",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[expandResponse](t, rec)
	assert.Equal(t, []string{"2026-01-31", "2026-02-28", "2026-03-31", "2026-04-30"}, got.Dates)
	assert.False(t, got.Truncated)

	rec = do(t, h, http.MethodPost, "/api/recurrence/expand", map[string]any{
		"start_date": "2026-02-01",
		"end_date":   "2026-01-01",
		"pattern":    "weekly",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[expandResponse](t, rec).Dates)

	existing := []model.Event{{
		ID:    "gig",
		Start: time.Date(2026, 1, 12, 20, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 12, 22, 0, 0, 0, time.UTC),
	}}
	rec = do(t, h, http.MethodPost, "/api/recurrence/expand", map[string]any{
		"start_date":       "2026-01-05",
		"end_date":         "2026-01-19",
		"pattern":          "weekly",
		"series_id":        "practice",
		"start_time":       "19:00",
		"duration_minutes": 120,
		"existing":         existing,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	series := decode[expandResponse](t, rec)
	assert.Len(t, series.Occurrences, 3)
	require.Len(t, series.Conflicts, 1)
	assert.Equal(t, "gig-practice@2026-01-12", series.Conflicts[0].PairKey)

	rec = do(t, h, http.MethodPost, "/api/recurrence/expand", map[string]any{
		"start_date": "2026-01-05",
		"end_date":   "2026-01-19",
		"pattern":    "weekly",
		"start_time": "7pm",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportICSEndpoint(t *testing.T) {
	_, h := newTestServer(t, nil)

	rec := do(t, h, http.MethodGet, "/api/recurrence/ics?id=practice&title=Practice&start_date=2026-01-05&end_date=2026-01-19&pattern=biweekly&start_time=19:00&duration=90", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/calendar")
	assert.Equal(t, 2, strings.Count(rec.Body.String(), "BEGIN:VEVENT"))

	rec = do(t, h, http.MethodGet, "/api/recurrence/ics?pattern=daily", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConflictsEndpoint(t *testing.T) {
	_, h := newTestServer(t, nil)
	day := func(hh int) time.Time { return time.Date(2026, 3, 10, hh, 0, 0, 0, time.UTC) }

	rec := do(t, h, http.MethodPost, "/api/conflicts", conflictsRequest{Events: []model.Event{
		{ID: "A", Title: "Rehearsal", Location: "Studio 1", Start: day(10), End: day(12)},
		{ID: "B", Title: "Class", Location: "studio 1 ", Start: day(11), End: day(13)},
	}})
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[conflictsResponse](t, rec)
	require.Len(t, got.Conflicts, 1)
	assert.Equal(t, "A-B", got.Conflicts[0].PairKey)
	assert.Equal(t, []model.ConflictTag{model.TagTimeOverlap, model.TagSameLocation}, got.Conflicts[0].Tags)
	assert.Equal(t, 1, got.Summary[model.TagTimeOverlap])

	rec = do(t, h, http.MethodPost, "/api/conflicts/candidate", candidateRequest{
		Candidate: model.Event{ID: "new", Start: day(12), End: day(14)},
		Events: []model.Event{
			{ID: "A", Start: day(10), End: day(12)},
			{ID: "B", Start: day(11), End: day(13)},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	cand := decode[candidateResponse](t, rec)
	require.Len(t, cand.Overlapping, 1)
	assert.Equal(t, "B", cand.Overlapping[0].ID)
}

func TestSlotEndpoints(t *testing.T) {
	_, h := newTestServer(t, nil)
	base := "/api/groups/g1/members/ana/slots"

	rec := do(t, h, http.MethodPost, base, model.Slot{Day: model.Monday, StartTime: "18:00", EndTime: "20:00"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, availability.ResultOK, decode[slotDecision](t, rec).Result)

	rec = do(t, h, http.MethodPost, base, model.Slot{Day: model.Monday, StartTime: "19:00", EndTime: "21:00"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "overlap", string(decode[slotDecision](t, rec).Result))

	rec = do(t, h, http.MethodPost, base, model.Slot{Day: model.Tuesday, StartTime: "19:00", EndTime: "21:00"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, base, model.Slot{Day: "funday", StartTime: "19:00", EndTime: "21:00"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodPost, base, model.Slot{Day: model.Friday, StartTime: "21:00", EndTime: "19:00"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, base+"?day=tue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[slotsResponse](t, rec).Slots, 1)

	rec = do(t, h, http.MethodDelete, base+"?day=mon&start=18:00&end=21:00", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[slotsResponse](t, rec).Slots, 2)

	rec = do(t, h, http.MethodDelete, base+"?day=mon&start=18:00&end=20:00", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[slotsResponse](t, rec).Slots, 1)

	rec = do(t, h, http.MethodGet, base, nil)
	assert.Equal(t, []model.Slot{{Day: model.Tuesday, StartTime: "19:00", EndTime: "21:00"}}, decode[slotsResponse](t, rec).Slots)
}

func TestSlotCapEndpoint(t *testing.T) {
	_, h := newTestServer(t, func(c *config.Config) { c.Availability.MaxSlotsPerMember = 1 })
	base := "/api/groups/g1/members/ben/slots"

	rec := do(t, h, http.MethodPost, base, model.Slot{Day: model.Monday, StartTime: "08:00", EndTime: "09:00"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodPost, base, model.Slot{Day: model.Sunday, StartTime: "08:00", EndTime: "09:00"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "max_exceeded", string(decode[slotDecision](t, rec).Result))
}

func TestOverlapsEndpoint(t *testing.T) {
	_, h := newTestServer(t, nil)
	do(t, h, http.MethodPost, "/api/groups/g1/members/ana/slots", model.Slot{Day: model.Monday, StartTime: "18:00", EndTime: "22:00"})
	do(t, h, http.MethodPost, "/api/groups/g1/members/ben/slots", model.Slot{Day: model.Monday, StartTime: "19:00", EndTime: "21:00"})

	rec := do(t, h, http.MethodGet, "/api/groups/g1/overlaps?day=mon&min=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[overlapsResponse](t, rec)
	assert.Equal(t, []model.OverlapWindow{
		{Day: model.Monday, StartTime: "19:00", EndTime: "21:00", MemberIDs: []string{"ana", "ben"}},
	}, got.Windows)

	rec = do(t, h, http.MethodGet, "/api/groups/g1/overlaps?day=xyz", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestForecastEndpoint(t *testing.T) {
	s, h := newTestServer(t, nil)

	rec := do(t, h, http.MethodGet, "/api/groups/g1/forecast?going=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[forecastResponse](t, rec)
	assert.Equal(t, 0.85, got.ShowRate)
	assert.Equal(t, 9, got.Expected)
	assert.True(t, got.DefaultUsed)

	rec = do(t, h, http.MethodPost, "/api/groups/g1/history", historyRequest{
		EventID:  "e1",
		Date:     fixedNow.AddDate(0, 0, -14),
		Going:    []string{"a", "b", "c", "d"},
		Attended: []string{"a", "b", "c"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/groups/g1/forecast?going=8", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got = decode[forecastResponse](t, rec)
	assert.Equal(t, 0.75, got.ShowRate)
	assert.Equal(t, 6, got.Expected)
	assert.Equal(t, 1, got.SampleEvents)
	assert.False(t, got.DefaultUsed)
	require.Len(t, got.Breakdown.Members, 4)
	assert.Equal(t, 0.0, got.Breakdown.Members[3].OverallRate)
	assert.Equal(t, model.WeekdayOf(fixedNow.AddDate(0, 0, -14)), got.Breakdown.BestDay)

	rec = do(t, h, http.MethodGet, "/api/groups/g1/forecast?going=-3", nil)
	assert.Zero(t, decode[forecastResponse](t, rec).Expected)

	rec = do(t, h, http.MethodGet, "/api/groups/g1/forecast?going=lots", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/groups/g1/history", map[string]any{"going": []string{"a"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Cron refresh fills the memo for every known group.
	s.invalidateRate("g1")
	s.refreshRates(context.Background())
	s.ratesMu.RLock()
	e, ok := s.rates["g1"]
	s.ratesMu.RUnlock()
	require.True(t, ok)
	assert.Equal(t, 0.75, e.rate)
}

func TestExpandRejectsEmptyDuration(t *testing.T) {
	_, h := newTestServer(t, nil)

	for _, minutes := range []int{0, -90} {
		rec := do(t, h, http.MethodPost, "/api/recurrence/expand", map[string]any{
			"start_date":       "2026-03-02",
			"end_date":         "2026-03-30",
			"pattern":          "weekly",
			"series_id":        "x",
			"start_time":       "10:00",
			"duration_minutes": minutes,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "duration %d", minutes)
	}

	for _, d := range []string{"0", "-90"} {
		rec := do(t, h, http.MethodGet, "/api/recurrence/ics?start_date=2026-03-02&end_date=2026-03-30&pattern=weekly&start_time=10:00&duration="+d, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "duration %s", d)
		assert.NotContains(t, rec.Body.String(), "BEGIN:VEVENT")
	}
}

func TestExpandEndTypesAndWeekdays(t *testing.T) {
	_, h := newTestServer(t, nil)

	rec := do(t, h, http.MethodPost, "/api/recurrence/expand", map[string]any{
		"start_date": "2026-01-31",
		"pattern":    "monthly",
		"end_type":   "by_count",
		"end_count":  3,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"2026-01-31", "2026-02-28", "2026-03-31"}, decode[expandResponse](t, rec).Dates)

	rec = do(t, h, http.MethodPost, "/api/recurrence/expand", map[string]any{
		"start_date":   "2026-03-02",
		"end_date":     "2026-03-12",
		"pattern":      "weekly",
		"days_of_week": []string{"mon", "thu"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"2026-03-02", "2026-03-05", "2026-03-09", "2026-03-12"}, decode[expandResponse](t, rec).Dates)

	rec = do(t, h, http.MethodPost, "/api/recurrence/expand", map[string]any{
		"start_date": "2026-03-02",
		"pattern":    "weekly",
		"end_type":   "never",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	never := decode[expandResponse](t, rec)
	assert.Len(t, never.Dates, 52)
	assert.True(t, never.Truncated)

	rec = do(t, h, http.MethodPost, "/api/recurrence/expand", map[string]any{
		"start_date":   "2026-03-02",
		"pattern":      "weekly",
		"days_of_week": []string{"someday"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/recurrence/ics?start_date=2026-03-02&pattern=weekly&days=mon,thu&end_type=by_count&end_count=3&start_time=19:00&duration=60", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, strings.Count(rec.Body.String(), "BEGIN:VEVENT"))
}

func TestUpcomingEndpoint(t *testing.T) {
	_, h := newTestServer(t, nil)

	// fixedNow is Friday 2026-10-16.
	rec := do(t, h, http.MethodPost, "/api/recurrence/upcoming", map[string]any{
		"series_id":        "practice",
		"start_date":       "2026-10-05",
		"pattern":          "weekly",
		"days_of_week":     []string{"mon", "thu"},
		"end_type":         "never",
		"start_time":       "19:00",
		"duration_minutes": 90,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[upcomingResponse](t, rec)
	keys := make([]string, 0, len(got.Occurrences))
	for _, o := range got.Occurrences {
		keys = append(keys, o.InstanceKey)
	}
	assert.Equal(t, []string{"2026-10-19", "2026-10-22", "2026-10-26", "2026-10-29"}, keys)
	assert.Equal(t, time.Date(2026, 10, 19, 20, 30, 0, 0, time.UTC), got.Occurrences[0].End)

	rec = do(t, h, http.MethodPost, "/api/recurrence/upcoming", map[string]any{
		"start_date":       "2026-10-05",
		"pattern":          "weekly",
		"end_type":         "by_count",
		"end_count":        3,
		"from":             "2026-10-13",
		"count":            2,
		"start_time":       "19:00",
		"duration_minutes": 90,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[upcomingResponse](t, rec).Occurrences, 1)

	rec = do(t, h, http.MethodPost, "/api/recurrence/upcoming", map[string]any{
		"start_date": "2026-10-05", "pattern": "daily", "start_time": "19:00", "duration_minutes": 90,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConflictsRejectInvalidEvents(t *testing.T) {
	_, h := newTestServer(t, nil)
	day := func(hh int) time.Time { return time.Date(2026, 3, 10, hh, 0, 0, 0, time.UTC) }

	tests := []struct {
		name   string
		events []model.Event
	}{
		{"missing id", []model.Event{{Start: day(10), End: day(12)}, {ID: "B", Start: day(11), End: day(13)}}},
		{"empty interval", []model.Event{{ID: "A", Start: day(10), End: day(10)}}},
		{"inverted interval", []model.Event{{ID: "A", Start: day(12), End: day(10)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/conflicts", conflictsRequest{Events: tt.events})
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			rec = do(t, h, http.MethodPost, "/api/conflicts/candidate", candidateRequest{
				Candidate: model.Event{ID: "new", Start: day(9), End: day(14)},
				Events:    tt.events,
			})
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	rec := do(t, h, http.MethodPost, "/api/conflicts/candidate", candidateRequest{
		Candidate: model.Event{ID: "new", Start: day(14), End: day(12)},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCandidateReportsConflicts(t *testing.T) {
	_, h := newTestServer(t, nil)
	day := func(hh int) time.Time { return time.Date(2026, 3, 10, hh, 0, 0, 0, time.UTC) }

	rec := do(t, h, http.MethodPost, "/api/conflicts/candidate", candidateRequest{
		Candidate: model.Event{ID: "new", Location: "Hall", Start: day(18), End: day(20)},
		Events: []model.Event{
			{ID: "A", Start: day(19), End: day(21)},
			{ID: "B", Location: "hall", Start: day(9), End: day(10)},
			{ID: "C", Start: time.Date(2026, 3, 11, 18, 0, 0, 0, time.UTC), End: time.Date(2026, 3, 11, 20, 0, 0, 0, time.UTC)},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[candidateResponse](t, rec)
	require.Len(t, got.Overlapping, 1)
	assert.Equal(t, "A", got.Overlapping[0].ID)
	require.Len(t, got.Conflicts, 2)
	assert.Equal(t, "A-new", got.Conflicts[0].PairKey)
	assert.Equal(t, []model.ConflictTag{model.TagSameDay, model.TagSameLocation}, got.Conflicts[1].Tags)
}

func TestMemberConflictsEndpoint(t *testing.T) {
	_, h := newTestServer(t, nil)
	entries := []model.PersonalEntry{
		{MemberID: "hong", Date: "2026-03-02", StartTime: "19:00", EndTime: "22:00", Recurring: true, RecurringDay: model.Monday},
		{MemberID: "kim", Date: "2026-03-09", StartTime: "20:00", EndTime: "21:00"},
		{MemberID: "lee", Date: "2026-03-09", StartTime: "08:00", EndTime: "09:00"},
	}

	rec := do(t, h, http.MethodPost, "/api/conflicts/members", membersRequest{Date: "2026-03-09", Entries: entries})
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[membersResponse](t, rec).Conflicts
	require.Len(t, got, 2)
	assert.Equal(t, "hong", got[0].MemberID)
	assert.Equal(t, 180, got[0].OverlapMinutes)
	assert.Equal(t, "kim", got[1].MemberID)

	rec = do(t, h, http.MethodPost, "/api/conflicts/members", membersRequest{
		Date: "2026-03-09", StartTime: "08:30", EndTime: "10:00", Entries: entries,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	got = decode[membersResponse](t, rec).Conflicts
	require.Len(t, got, 1)
	assert.Equal(t, "lee", got[0].MemberID)

	rec = do(t, h, http.MethodPost, "/api/conflicts/members", membersRequest{Date: "monday", Entries: entries})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/conflicts/members", membersRequest{
		Date:    "2026-03-09",
		Entries: []model.PersonalEntry{{MemberID: "hong", Date: "2026-03-09", StartTime: "7pm", EndTime: "22:00"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

const groupFeed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:class-1\r\n" +
	"DTSTAMP:20260301T000000Z\r\n" +
	"DTSTART:20260302T180000Z\r\n" +
	"DTEND:20260302T200000Z\r\n" +
	"RRULE:FREQ=WEEKLY\r\n" +
	"SUMMARY:Jazz class\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestConflictsMergeGroupFeeds(t *testing.T) {
	feedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		w.Write([]byte(groupFeed))
	}))
	defer feedSrv.Close()

	_, h := newTestServer(t, func(c *config.Config) {
		c.ICS = []config.ICSConfig{
			{ID: "jazz", URL: feedSrv.URL + "/jazz.ics", GroupID: "g1"},
			{ID: "gone", URL: feedSrv.URL + "/gone.ics", GroupID: "g2"},
		}
	}, WithFetcher(ics.NewFetcher(t.TempDir())))

	rehearsal := model.Event{
		ID:    "rehearsal",
		Start: time.Date(2026, 3, 2, 19, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC),
	}
	rec := do(t, h, http.MethodPost, "/api/conflicts", conflictsRequest{Events: []model.Event{rehearsal}, GroupID: "g1"})
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[conflictsResponse](t, rec)
	require.Len(t, got.Conflicts, 1)
	assert.Equal(t, "class-1-rehearsal", got.Conflicts[0].PairKey)
	assert.Equal(t, 1, got.FeedRecurring)
	assert.Zero(t, got.FeedErrors)

	// Without a group the feed is not consulted.
	rec = do(t, h, http.MethodPost, "/api/conflicts", conflictsRequest{Events: []model.Event{rehearsal}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[conflictsResponse](t, rec).Conflicts)
}

func TestForecastFromResponses(t *testing.T) {
	_, h := newTestServer(t, nil)

	rec := do(t, h, http.MethodPost, "/api/groups/g1/forecast", responsesRequest{Responses: []model.Response{
		{MemberID: "a", Intent: model.IntentYes},
		{MemberID: "b", Intent: model.IntentYes},
		{MemberID: "c", Intent: model.IntentMaybe},
		{MemberID: "d", Intent: model.IntentNo},
		{MemberID: "e", Intent: model.IntentYes},
		{MemberID: "f", Intent: model.IntentPending},
	}})
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[forecastResponse](t, rec)
	assert.Equal(t, 3, got.Positive)
	assert.Equal(t, 3, got.Expected)

	rec = do(t, h, http.MethodPost, "/api/groups/g1/forecast", responsesRequest{Responses: []model.Response{
		{MemberID: "a", Intent: "sure"},
	}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// stallingRepo pauses the first history read after it has taken its
// snapshot, until resume is closed.
type stallingRepo struct {
	store.Repository
	once    sync.Once
	stalled chan struct{}
	resume  chan struct{}
}

func (r *stallingRepo) HistorySince(ctx context.Context, groupID string, since time.Time) ([]model.HistoryPair, error) {
	history, err := r.Repository.HistorySince(ctx, groupID, since)
	r.once.Do(func() {
		close(r.stalled)
		<-r.resume
	})
	return history, err
}

func TestForecastDropsRateComputedBeforeNewHistory(t *testing.T) {
	repo := &stallingRepo{Repository: openRepo(t), stalled: make(chan struct{}), resume: make(chan struct{})}
	_, h := newServerWith(t, repo, nil)

	done := make(chan int, 1)
	go func() {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/groups/g1/forecast?going=4", nil))
		done <- rec.Code
	}()
	<-repo.stalled

	rec := do(t, h, http.MethodPost, "/api/groups/g1/history", historyRequest{
		EventID:  "e1",
		Date:     fixedNow.AddDate(0, 0, -7),
		Going:    []string{"a", "b", "c", "d"},
		Attended: []string{"a", "b"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	close(repo.resume)
	require.Equal(t, http.StatusOK, <-done)

	rec = do(t, h, http.MethodGet, "/api/groups/g1/forecast?going=4", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[forecastResponse](t, rec)
	assert.Equal(t, 0.5, got.ShowRate)
	assert.False(t, got.DefaultUsed)
	assert.Equal(t, 1, got.SampleEvents)
}

func TestRefreshSkipsInvalidatedGroups(t *testing.T) {
	s, _ := newTestServer(t, nil)

	gen := s.rateGeneration("g1")
	s.invalidateRate("g1")
	assert.False(t, s.storeRate("g1", gen, rateEntry{rate: 0.1}))
	assert.True(t, s.storeRate("g1", s.rateGeneration("g1"), rateEntry{rate: 0.2}))

	e, err := s.showRate(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, 0.2, e.rate)
}

func TestRefreshCronWiring(t *testing.T) {
	s, _ := newTestServer(t, func(c *config.Config) { c.Forecast.RefreshCron = "*/15 * * * *" })
	require.NoError(t, s.startCron(context.Background()))
	require.NotNil(t, s.cron)
	assert.Len(t, s.cron.Entries(), 1)
	s.stopCron()

	bad, _ := newTestServer(t, func(c *config.Config) { c.Forecast.RefreshCron = "whenever" })
	assert.Error(t, bad.startCron(context.Background()))
	assert.Nil(t, bad.cron)
}
