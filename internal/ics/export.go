package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"groupsched/internal/model"
)

// ProductID is written to every exported calendar.
const ProductID = "-//groupsched//series export//EN"

// uidNamespace scopes the name-based UIDs of exported occurrences.
var uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("groupsched:occurrence"))

// OccurrenceUID is stable for a (series, instance) pair so re-exports update
// the same calendar entries instead of duplicating them.
func OccurrenceUID(o model.Occurrence) string {
	return uuid.NewSHA1(uidNamespace, []byte(o.SeriesID+"/"+o.InstanceKey)).String()
}

// Export renders occurrences as a VCALENDAR, one VEVENT each.
func Export(occ []model.Occurrence, stamp time.Time) string {
	cal := ical.NewCalendar()
	cal.SetProductId(ProductID)
	cal.SetMethod(ical.MethodPublish)

	for _, o := range occ {
		ev := cal.AddEvent(OccurrenceUID(o))
		ev.SetDtStampTime(stamp.UTC())
		ev.SetStartAt(o.Start)
		ev.SetEndAt(o.End)
		ev.SetSummary(o.Title)
		if o.Location != "" {
			ev.SetLocation(o.Location)
		}
	}
	return cal.Serialize()
}
