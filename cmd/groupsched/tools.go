package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"groupsched/internal/conflict"
	"groupsched/internal/ics"
	"groupsched/internal/model"
	"groupsched/internal/recurrence"
)

type expandFlags struct {
	start, end, pattern string
	days                []string
	endType             string
	count               int
	noClamp             bool
	max                 int

	// Preview the next N occurrences from a date instead of the whole series.
	upcoming int
	from     string

	// ICS output
	startTime string
	duration  int
	title     string
	tz        string
}

func newExpandCmd() *cobra.Command {
	var f expandFlags

	cmd := &cobra.Command{
		Use:   "expand",
		Short: "Print the dates of a recurring series",
		Example: "  groupsched expand --start 2026-01-31 --end 2026-06-30 --pattern monthly\n" +
			"  groupsched expand --start 2026-01-05 --end-type by_count --count 10 --days mon,thu\n" +
			"  groupsched expand --start 2026-01-05 --end 2026-03-30 --pattern weekly --start-time 19:00 --duration 90 > practice.ics\n" +
			"  groupsched expand --start 2026-01-05 --end-type never --start-time 19:00 --upcoming 4",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExpand(cmd.OutOrStdout(), cmd.ErrOrStderr(), f)
		},
	}
	cmd.Flags().StringVar(&f.start, "start", "", "First date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.end, "end", "", "Last date, inclusive (YYYY-MM-DD), for --end-type by_date")
	cmd.Flags().StringVarP(&f.pattern, "pattern", "p", "weekly", "weekly, biweekly or monthly")
	cmd.Flags().StringSliceVar(&f.days, "days", nil, "Weekdays for weekly and biweekly series (mon,thu)")
	cmd.Flags().StringVar(&f.endType, "end-type", "by_date", "never, by_date or by_count")
	cmd.Flags().IntVar(&f.count, "count", 0, "Number of dates for --end-type by_count")
	cmd.Flags().BoolVar(&f.noClamp, "no-clamp", false, "Skip months missing the start day instead of using the last day")
	cmd.Flags().IntVar(&f.max, "max", recurrence.DefaultMaxOccurrences, "Maximum number of dates")
	cmd.Flags().StringVar(&f.startTime, "start-time", "", "Emit an ICS calendar with occurrences starting at HH:MM")
	cmd.Flags().IntVar(&f.duration, "duration", 60, "Occurrence length in minutes (with --start-time)")
	cmd.Flags().StringVar(&f.title, "title", "Practice", "Occurrence title (with --start-time)")
	cmd.Flags().StringVar(&f.tz, "tz", "UTC", "IANA time zone for --start-time")
	cmd.Flags().IntVar(&f.upcoming, "upcoming", 0, "Only print the next N occurrences (with --start-time)")
	cmd.Flags().StringVar(&f.from, "from", "", "First date for --upcoming (YYYY-MM-DD, default today)")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

func runExpand(out, errOut io.Writer, f expandFlags) error {
	pattern, ok := recurrence.ParsePattern(f.pattern)
	if !ok {
		return errors.Errorf("unknown pattern %q", f.pattern)
	}
	endType, ok := recurrence.ParseEndType(f.endType)
	if !ok {
		return errors.Errorf("unknown end type %q", f.endType)
	}
	opts := []recurrence.Option{
		recurrence.WithClampToLastDay(!f.noClamp),
		recurrence.WithMaxOccurrences(f.max),
	}

	days := make([]model.Weekday, 0, len(f.days))
	for _, d := range f.days {
		days = append(days, model.Weekday(strings.ToLower(strings.TrimSpace(d))))
	}
	series := recurrence.Series{
		ID:              strings.ToLower(strings.ReplaceAll(f.title, " ", "-")),
		Title:           f.title,
		StartDate:       f.start,
		EndDate:         f.end,
		Pattern:         pattern,
		DaysOfWeek:      days,
		EndType:         endType,
		EndCount:        f.count,
		StartTime:       f.startTime,
		DurationMinutes: f.duration,
	}

	if f.startTime == "" {
		dates, truncated := series.Dates(opts...)
		for _, d := range dates {
			fmt.Fprintln(out, d.Format(recurrence.DateLayout))
		}
		if truncated {
			fmt.Fprintf(errOut, "warning: stopped after %d dates\n", len(dates))
		}
		return nil
	}

	loc, err := time.LoadLocation(f.tz)
	if err != nil {
		return errors.Wrapf(err, "time zone %q", f.tz)
	}

	if f.upcoming > 0 {
		from := time.Now().In(loc)
		if f.from != "" {
			if from, err = time.ParseInLocation(recurrence.DateLayout, f.from, loc); err != nil {
				return errors.Wrap(err, "--from")
			}
		}
		occ, err := series.Upcoming(from, f.upcoming, loc, opts...)
		if err != nil {
			return err
		}
		for _, o := range occ {
			fmt.Fprintf(out, "%s %s-%s\n", o.InstanceKey, o.Start.Format("15:04"), o.End.Format("15:04"))
		}
		return nil
	}

	occ, truncated, err := series.Occurrences(loc, opts...)
	if err != nil {
		return err
	}
	if truncated {
		fmt.Fprintf(errOut, "warning: stopped after %d occurrences\n", len(occ))
	}
	_, err = io.WriteString(out, ics.Export(occ, time.Now()))
	return err
}

func newConflictsCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Report conflicting pairs in a JSON or ICS event file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConflicts(cmd.OutOrStdout(), file)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "events.json (array of events) or calendar.ics")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runConflicts(out io.Writer, path string) error {
	events, err := readEvents(path)
	if err != nil {
		return err
	}

	found := conflict.FindConflicts(events)
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Events    int                       `json:"events"`
		Conflicts []model.Conflict          `json:"conflicts"`
		Summary   map[model.ConflictTag]int `json:"summary"`
	}{len(events), found, conflict.Summarize(found)})
}

func readEvents(path string) ([]model.Event, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}

	if strings.EqualFold(filepath.Ext(path), ".ics") {
		parsed, err := ics.ParseICS(ics.Source{ID: filepath.Base(path)}, body)
		if err != nil {
			return nil, err
		}
		return ics.ToEvents(parsed, ""), nil
	}

	var events []model.Event
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return events, nil
}
