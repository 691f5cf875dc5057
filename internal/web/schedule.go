package web

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"groupsched/internal/conflict"
	"groupsched/internal/ics"
	appLog "groupsched/internal/log"
	"groupsched/internal/model"
	"groupsched/internal/recurrence"
)

const defaultUpcoming = 4

type expandRequest struct {
	StartDate      string          `json:"start_date"`
	EndDate        string          `json:"end_date"`
	Pattern        string          `json:"pattern"`
	ClampToLastDay *bool           `json:"clamp_to_last_day,omitempty"`
	DaysOfWeek     []model.Weekday `json:"days_of_week,omitempty" validate:"omitempty,dive,oneof=mon tue wed thu fri sat sun"`
	EndType        string          `json:"end_type,omitempty" validate:"omitempty,oneof=never by_date by_count"`
	EndCount       int             `json:"end_count,omitempty" validate:"gte=0"`

	// With a start time the dates are also turned into timed occurrences.
	SeriesID        string `json:"series_id,omitempty"`
	Title           string `json:"title,omitempty"`
	Location        string `json:"location,omitempty"`
	StartTime       string `json:"start_time,omitempty" validate:"omitempty,hhmm"`
	DurationMinutes int    `json:"duration_minutes,omitempty" validate:"required_with=StartTime,gte=0"`

	// Existing events to check the new occurrences against.
	Existing []model.Event `json:"existing,omitempty"`
}

func (req expandRequest) series(pattern recurrence.Pattern) recurrence.Series {
	return recurrence.Series{
		ID:              req.SeriesID,
		Title:           req.Title,
		Location:        req.Location,
		StartDate:       req.StartDate,
		EndDate:         req.EndDate,
		Pattern:         pattern,
		DaysOfWeek:      req.DaysOfWeek,
		EndType:         recurrence.EndType(req.EndType),
		EndCount:        req.EndCount,
		StartTime:       req.StartTime,
		DurationMinutes: req.DurationMinutes,
	}
}

type expandResponse struct {
	Dates       []string           `json:"dates"`
	Truncated   bool               `json:"truncated"`
	Occurrences []model.Occurrence `json:"occurrences,omitempty"`
	Conflicts   []model.Conflict   `json:"conflicts,omitempty"`
}

func (s *Server) expandOptions(clamp *bool) []recurrence.Option {
	opts := []recurrence.Option{recurrence.WithMaxOccurrences(s.cfg.Recurrence.MaxOccurrences)}
	switch {
	case clamp != nil:
		opts = append(opts, recurrence.WithClampToLastDay(*clamp))
	case s.cfg.Recurrence.ClampToLastDay != nil:
		opts = append(opts, recurrence.WithClampToLastDay(*s.cfg.Recurrence.ClampToLastDay))
	}
	return opts
}

// handleExpand expands a series into dates, and optionally occurrences.
// Bad dates or an unknown pattern produce an empty list, not an error.
//
// POST /api/recurrence/expand
func (s *Server) handleExpand(w http.ResponseWriter, r *http.Request) {
	var req expandRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !validEvents(w, "existing", req.Existing) {
		return
	}

	pattern, _ := recurrence.ParsePattern(req.Pattern)
	series := req.series(pattern)
	opts := s.expandOptions(req.ClampToLastDay)
	resp := expandResponse{Dates: []string{}}

	if req.StartTime == "" {
		dates, truncated := series.Dates(opts...)
		for _, d := range dates {
			resp.Dates = append(resp.Dates, d.Format(recurrence.DateLayout))
		}
		resp.Truncated = truncated
		writeJSON(w, http.StatusOK, resp)
		return
	}

	occ, truncated, err := series.Occurrences(s.cfg.Location(), opts...)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, o := range occ {
		resp.Dates = append(resp.Dates, o.InstanceKey)
	}
	resp.Truncated = truncated
	resp.Occurrences = occ

	if len(req.Existing) > 0 {
		resp.Conflicts = newConflicts(recurrence.Events(occ, ""), req.Existing)
	}
	writeJSON(w, http.StatusOK, resp)
}

// newConflicts reports conflicts between fresh and existing events only;
// pairs within either list are dropped.
func newConflicts(fresh, existing []model.Event) []model.Conflict {
	out := make([]model.Conflict, 0)
	for _, e := range fresh {
		out = append(out, conflict.Against(e, existing)...)
	}
	return out
}

type upcomingRequest struct {
	expandRequest

	// From defaults to today in the configured zone.
	From  string `json:"from,omitempty"`
	Count int    `json:"count,omitempty" validate:"gte=0"`
}

type upcomingResponse struct {
	Occurrences []model.Occurrence `json:"occurrences"`
}

// handleUpcoming previews the next occurrences of a series.
//
// POST /api/recurrence/upcoming
func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	var req upcomingRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	pattern, ok := recurrence.ParsePattern(req.Pattern)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown pattern")
		return
	}

	loc := s.cfg.Location()
	from := s.now().In(loc)
	if req.From != "" {
		d, err := time.ParseInLocation(recurrence.DateLayout, strings.TrimSpace(req.From), loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
			return
		}
		from = d
	}
	count := req.Count
	if count == 0 {
		count = defaultUpcoming
	}

	occ, err := req.series(pattern).Upcoming(from, count, loc, s.expandOptions(req.ClampToLastDay)...)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, upcomingResponse{Occurrences: occ})
}

// handleExportICS renders a series as text/calendar.
//
// GET /api/recurrence/ics?start_date=&end_date=&pattern=&days=mon,thu&end_type=&end_count=&start_time=&duration=&title=&location=&id=&clamp=
func (s *Server) handleExportICS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var clamp *bool
	if v := q.Get("clamp"); v != "" {
		b := v == "1" || strings.EqualFold(v, "true")
		clamp = &b
	}

	pattern, ok := recurrence.ParsePattern(q.Get("pattern"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown pattern")
		return
	}

	id := q.Get("id")
	if id == "" {
		id = "series"
	}
	series := recurrence.Series{
		ID:              id,
		Title:           q.Get("title"),
		Location:        q.Get("location"),
		StartDate:       q.Get("start_date"),
		EndDate:         q.Get("end_date"),
		Pattern:         pattern,
		DaysOfWeek:      parseWeekdays(q.Get("days")),
		EndType:         recurrence.EndType(q.Get("end_type")),
		EndCount:        parseIntDefault(q.Get("end_count"), 0),
		StartTime:       q.Get("start_time"),
		DurationMinutes: parseIntDefault(q.Get("duration"), 60),
	}
	occ, truncated, err := series.Occurrences(s.cfg.Location(), s.expandOptions(clamp)...)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if truncated {
		appLog.Info("ics export truncated", "series", id, "count", len(occ))
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(ics.Export(occ, s.now())))
}

type conflictsRequest struct {
	Events []model.Event `json:"events"`

	// GroupID pulls that group's configured ICS feeds into the check.
	GroupID string `json:"group_id,omitempty"`
}

type conflictsResponse struct {
	Conflicts []model.Conflict          `json:"conflicts"`
	Summary   map[model.ConflictTag]int `json:"summary"`

	// FeedRecurring counts feed events with a repeat rule whose later
	// instances were not checked.
	FeedRecurring int `json:"feed_recurring,omitempty"`
	FeedErrors    int `json:"feed_errors,omitempty"`
}

// handleConflicts runs pairwise conflict detection.
//
// POST /api/conflicts
func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	var req conflictsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !validEvents(w, "events", req.Events) {
		return
	}

	resp := conflictsResponse{}
	events := req.Events
	if req.GroupID != "" {
		feed := s.feedEvents(r, req.GroupID)
		events = append(events, feed.Events...)
		resp.FeedRecurring = feed.Recurring
		resp.FeedErrors = len(feed.Errors)
	}

	resp.Conflicts = conflict.FindConflicts(events)
	resp.Summary = conflict.Summarize(resp.Conflicts)
	writeJSON(w, http.StatusOK, resp)
}

// feedEvents loads the ICS feeds configured for groupID. Feed failures are
// logged and counted.
func (s *Server) feedEvents(r *http.Request, groupID string) ics.Feed {
	if s.fetcher == nil {
		return ics.Feed{}
	}
	sources := make([]ics.Source, 0)
	for _, c := range s.cfg.ICS {
		if c.GroupID != groupID || c.URL == "" {
			continue
		}
		id := c.ID
		if id == "" {
			id = c.Name
		}
		sources = append(sources, ics.Source{ID: id, URL: c.URL, GroupID: groupID})
	}
	if len(sources) == 0 {
		return ics.Feed{}
	}
	feed := s.fetcher.Events(r.Context(), sources)
	if len(feed.Errors) > 0 {
		appLog.Info("some group feeds were skipped", "group", groupID, "failed", len(feed.Errors))
	}
	return feed
}

type candidateRequest struct {
	Candidate model.Event   `json:"candidate"`
	Events    []model.Event `json:"events"`
}

type candidateResponse struct {
	Overlapping []model.Event    `json:"overlapping"`
	Conflicts   []model.Conflict `json:"conflicts"`
}

// handleCandidate lists existing events that overlap a not-yet-stored one,
// plus every conflict the candidate would add.
//
// POST /api/conflicts/candidate
func (s *Server) handleCandidate(w http.ResponseWriter, r *http.Request) {
	var req candidateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !req.Candidate.Start.Before(req.Candidate.End) {
		writeError(w, http.StatusBadRequest, "candidate start must be before end")
		return
	}
	if !validEvents(w, "events", req.Events) {
		return
	}
	writeJSON(w, http.StatusOK, candidateResponse{
		Overlapping: conflict.Overlapping(req.Candidate, req.Events),
		Conflicts:   conflict.Against(req.Candidate, req.Events),
	})
}

type membersRequest struct {
	Date      string                `json:"date" validate:"required"`
	StartTime string                `json:"start_time,omitempty" validate:"omitempty,hhmm"`
	EndTime   string                `json:"end_time,omitempty" validate:"omitempty,hhmm"`
	Entries   []model.PersonalEntry `json:"entries" validate:"dive"`
}

type membersResponse struct {
	Conflicts []model.MemberConflict `json:"conflicts"`
}

// handleMemberConflicts lists members whose personal schedule clashes with
// a group time range, the default practice window when none is given.
//
// POST /api/conflicts/members
func (s *Server) handleMemberConflicts(w http.ResponseWriter, r *http.Request) {
	var req membersRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	start, end := req.StartTime, req.EndTime
	if start == "" && end == "" {
		start, end = conflict.DefaultPracticeStart, conflict.DefaultPracticeEnd
	}
	found, err := conflict.CheckMembers(req.Date, start, end, req.Entries)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, membersResponse{Conflicts: found})
}

// validEvents writes a 400 naming the first event without an id or with
// an empty interval.
func validEvents(w http.ResponseWriter, field string, events []model.Event) bool {
	for i, ev := range events {
		if !ev.Valid() {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("%s[%d]: id is required and start must be before end", field, i))
			return false
		}
	}
	return true
}

func parseWeekdays(s string) []model.Weekday {
	if s == "" {
		return nil
	}
	out := make([]model.Weekday, 0, 7)
	for _, part := range strings.Split(s, ",") {
		out = append(out, model.Weekday(strings.ToLower(strings.TrimSpace(part))))
	}
	return out
}
