package web

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"groupsched/internal/availability"
	"groupsched/internal/forecast"
	appLog "groupsched/internal/log"
	"groupsched/internal/model"
)

type slotsResponse struct {
	Slots []model.Slot `json:"slots"`
}

type slotDecision struct {
	Result availability.Result `json:"result"`
	Slots  []model.Slot        `json:"slots"`
}

// handleListSlots returns a member's slots, optionally for one day.
//
// GET /api/groups/{groupID}/members/{memberID}/slots?day=mon
func (s *Server) handleListSlots(w http.ResponseWriter, r *http.Request) {
	groupID, memberID := chi.URLParam(r, "groupID"), chi.URLParam(r, "memberID")

	slots, err := s.repo.ListSlots(r.Context(), groupID, memberID)
	if err != nil {
		appLog.Error("list slots failed", err, "group", groupID, "member", memberID)
		writeError(w, http.StatusInternalServerError, "failed to load slots")
		return
	}

	if day := model.Weekday(r.URL.Query().Get("day")); day != "" {
		if !day.Valid() {
			writeError(w, http.StatusBadRequest, "day must be one of mon..sun")
			return
		}
		slots = availability.SlotsByDay(slots, day)
	}
	writeJSON(w, http.StatusOK, slotsResponse{Slots: slots})
}

// handleAddSlot adds one slot. Cap and overlap rejections are 409 with
// the decision in the body.
//
// POST /api/groups/{groupID}/members/{memberID}/slots
func (s *Server) handleAddSlot(w http.ResponseWriter, r *http.Request) {
	groupID, memberID := chi.URLParam(r, "groupID"), chi.URLParam(r, "memberID")

	var slot model.Slot
	if !decodeJSON(w, r, &slot) {
		return
	}

	s.slotMu.Lock()
	defer s.slotMu.Unlock()

	existing, err := s.repo.ListSlots(r.Context(), groupID, memberID)
	if err != nil {
		appLog.Error("list slots failed", err, "group", groupID, "member", memberID)
		writeError(w, http.StatusInternalServerError, "failed to load slots")
		return
	}

	reg := availability.New(s.cfg.Availability.MaxSlotsPerMember)
	result, next, err := reg.AddSlot(existing, slot)
	if err != nil {
		if errors.Is(err, availability.ErrInvalidSlot) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to add slot")
		return
	}
	if result != availability.ResultOK {
		writeJSON(w, http.StatusConflict, slotDecision{Result: result, Slots: existing})
		return
	}

	if err := s.repo.ReplaceSlots(r.Context(), groupID, memberID, next); err != nil {
		appLog.Error("save slots failed", err, "group", groupID, "member", memberID)
		writeError(w, http.StatusInternalServerError, "failed to save slots")
		return
	}
	appLog.Info("slot added", "group", groupID, "member", memberID, "day", string(slot.Day), "count", len(next))
	writeJSON(w, http.StatusOK, slotDecision{Result: result, Slots: next})
}

// handleRemoveSlot removes the slot matching day, start and end exactly.
//
// DELETE /api/groups/{groupID}/members/{memberID}/slots?day=mon&start=18:00&end=20:00
func (s *Server) handleRemoveSlot(w http.ResponseWriter, r *http.Request) {
	groupID, memberID := chi.URLParam(r, "groupID"), chi.URLParam(r, "memberID")
	q := r.URL.Query()
	slot := model.Slot{
		Day:       model.Weekday(q.Get("day")),
		StartTime: q.Get("start"),
		EndTime:   q.Get("end"),
	}

	s.slotMu.Lock()
	defer s.slotMu.Unlock()

	existing, err := s.repo.ListSlots(r.Context(), groupID, memberID)
	if err != nil {
		appLog.Error("list slots failed", err, "group", groupID, "member", memberID)
		writeError(w, http.StatusInternalServerError, "failed to load slots")
		return
	}
	next := availability.RemoveSlot(existing, slot)
	if len(next) != len(existing) {
		if err := s.repo.ReplaceSlots(r.Context(), groupID, memberID, next); err != nil {
			appLog.Error("save slots failed", err, "group", groupID, "member", memberID)
			writeError(w, http.StatusInternalServerError, "failed to save slots")
			return
		}
	}
	writeJSON(w, http.StatusOK, slotsResponse{Slots: next})
}

type overlapsResponse struct {
	Day     model.Weekday         `json:"day"`
	Min     int                   `json:"min"`
	Windows []model.OverlapWindow `json:"windows"`
}

// handleOverlaps lists windows where at least min members are free.
//
// GET /api/groups/{groupID}/overlaps?day=mon&min=2
func (s *Server) handleOverlaps(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	q := r.URL.Query()

	day := model.Weekday(q.Get("day"))
	if !day.Valid() {
		writeError(w, http.StatusBadRequest, "day must be one of mon..sun")
		return
	}
	minMembers := parseIntDefault(q.Get("min"), 2)
	if minMembers < 1 {
		minMembers = 1
	}

	members, err := s.repo.GroupSlots(r.Context(), groupID)
	if err != nil {
		appLog.Error("group slots failed", err, "group", groupID)
		writeError(w, http.StatusInternalServerError, "failed to load slots")
		return
	}
	writeJSON(w, http.StatusOK, overlapsResponse{
		Day:     day,
		Min:     minMembers,
		Windows: availability.Overlaps(members, day, minMembers),
	})
}

type historyRequest struct {
	EventID  string    `json:"event_id" validate:"required"`
	Date     time.Time `json:"date" validate:"required"`
	Going    []string  `json:"going"`
	Attended []string  `json:"attended"`
}

// handleRecordHistory stores one past event's going and attended sets and
// drops the group's cached show-rate.
//
// POST /api/groups/{groupID}/history
func (s *Server) handleRecordHistory(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	var req historyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	pair := model.HistoryPair{
		EventID:  req.EventID,
		Date:     req.Date,
		Going:    req.Going,
		Attended: req.Attended,
	}
	if err := s.repo.RecordHistory(r.Context(), groupID, pair); err != nil {
		appLog.Error("record history failed", err, "group", groupID, "event", req.EventID)
		writeError(w, http.StatusInternalServerError, "failed to record history")
		return
	}
	s.invalidateRate(groupID)

	writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

type forecastResponse struct {
	forecast.Result
	Breakdown forecast.Breakdown `json:"breakdown"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// handleForecast predicts turnout from the number of "yes" answers.
//
// GET /api/groups/{groupID}/forecast?going=12
func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	going := 0
	if v := r.URL.Query().Get("going"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "going must be an integer")
			return
		}
		going = n
	}
	s.writeForecast(w, r, going)
}

type responsesRequest struct {
	Responses []model.Response `json:"responses" validate:"dive"`
}

// handleForecastResponses predicts turnout from members' poll answers;
// only "yes" counts.
//
// POST /api/groups/{groupID}/forecast
func (s *Server) handleForecastResponses(w http.ResponseWriter, r *http.Request) {
	var req responsesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.writeForecast(w, r, forecast.CountPositive(req.Responses))
}

func (s *Server) writeForecast(w http.ResponseWriter, r *http.Request, going int) {
	groupID := chi.URLParam(r, "groupID")

	e, err := s.showRate(r.Context(), groupID)
	if err != nil {
		appLog.Error("show-rate failed", err, "group", groupID)
		writeError(w, http.StatusInternalServerError, "failed to compute show-rate")
		return
	}

	writeJSON(w, http.StatusOK, forecastResponse{
		Result: forecast.Result{
			ShowRate:     e.rate,
			Positive:     going,
			Expected:     forecast.PredictAttendance(going, e.rate),
			SampleEvents: e.samples,
			DefaultUsed:  e.defaultUsed,
		},
		Breakdown: e.breakdown,
		UpdatedAt: e.updatedAt,
	})
}
