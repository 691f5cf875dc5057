package web

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"groupsched/internal/forecast"
	appLog "groupsched/internal/log"
)

// rateEntry is a memoized show-rate for one group.
type rateEntry struct {
	rate        float64
	samples     int
	defaultUsed bool
	breakdown   forecast.Breakdown
	updatedAt   time.Time
}

// showRate returns the group's memoized show-rate, computing it from the
// store on a miss.
func (s *Server) showRate(ctx context.Context, groupID string) (rateEntry, error) {
	s.ratesMu.RLock()
	e, ok := s.rates[groupID]
	gen := s.rateGen[groupID]
	s.ratesMu.RUnlock()
	if ok {
		return e, nil
	}

	e, err := s.computeRate(ctx, groupID)
	if err != nil {
		return rateEntry{}, err
	}
	s.storeRate(groupID, gen, e)
	return e, nil
}

// storeRate memoizes e unless the group was invalidated after gen was
// read, in which case e may predate the new history.
func (s *Server) storeRate(groupID string, gen uint64, e rateEntry) bool {
	s.ratesMu.Lock()
	defer s.ratesMu.Unlock()
	if s.rateGen[groupID] != gen {
		return false
	}
	s.rates[groupID] = e
	return true
}

func (s *Server) rateGeneration(groupID string) uint64 {
	s.ratesMu.RLock()
	defer s.ratesMu.RUnlock()
	return s.rateGen[groupID]
}

func (s *Server) computeRate(ctx context.Context, groupID string) (rateEntry, error) {
	now := s.now()
	months := s.cfg.Forecast.HistoryMonths
	if months <= 0 {
		months = forecast.DefaultHistoryMonths
	}

	history, err := s.repo.HistorySince(ctx, groupID, now.AddDate(0, -months, 0))
	if err != nil {
		return rateEntry{}, err
	}
	res := forecast.Forecast(history, 0, now, forecast.Options{
		DefaultShowRate: s.cfg.Forecast.DefaultShowRate,
		HistoryMonths:   months,
	})
	return rateEntry{
		rate:        res.ShowRate,
		samples:     res.SampleEvents,
		defaultUsed: res.DefaultUsed,
		breakdown:   forecast.MemberForecasts(forecast.Window(history, now, months)),
		updatedAt:   now,
	}, nil
}

func (s *Server) invalidateRate(groupID string) {
	s.ratesMu.Lock()
	delete(s.rates, groupID)
	s.rateGen[groupID]++
	s.ratesMu.Unlock()
}

// refreshRates recomputes the show-rate of every known group. Groups that
// fail keep their previous value; groups invalidated mid-refresh are left
// for the next request to compute.
func (s *Server) refreshRates(ctx context.Context) {
	groups, err := s.repo.Groups(ctx)
	if err != nil {
		appLog.Error("show-rate refresh: list groups failed", err)
		return
	}

	stored := 0
	for _, g := range groups {
		gen := s.rateGeneration(g)
		e, err := s.computeRate(ctx, g)
		if err != nil {
			appLog.Error("show-rate refresh failed", err, "group", g)
			continue
		}
		if s.storeRate(g, gen, e) {
			stored++
		}
	}
	appLog.Info("show-rates refreshed", "groups", stored)
}

func (s *Server) startCron(ctx context.Context) error {
	c := cron.New()
	spec := s.cfg.Forecast.RefreshCron
	if _, err := c.AddFunc(spec, func() { s.refreshRates(ctx) }); err != nil {
		return errors.Wrapf(err, "schedule show-rate refresh %q", spec)
	}
	c.Start()
	s.cron = c
	appLog.Info("show-rate refresh scheduled", "cron", spec)
	return nil
}

func (s *Server) stopCron() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}
