package ics

import (
	"errors"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"portalcal/internal/calendar"
	appLog "portalcal/internal/log"
	"portalcal/internal/model"
)

const defaultProductID = "-//portalcal//Class Calendar//EN"

// ExportOptions controls the generated VCALENDAR.
type ExportOptions struct {
	Name      string
	ProductID string
	// Location is the zone entry clock times belong to. If nil,
	// time.Local is used.
	Location *time.Location
	// Now stamps DTSTAMP; zero means time.Now().
	Now time.Time
}

// Export serializes entries as an iCalendar document. Entries whose class
// date cannot be normalized are skipped. Entries without a start time
// become all-day events.
func Export(entries []model.ScheduleEntry, opts ExportOptions) (string, error) {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.ProductID == "" {
		opts.ProductID = defaultProductID
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(opts.ProductID)
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}
	cal.SetXWRTimezone(opts.Location.String())

	written, skipped := 0, 0
	for _, e := range entries {
		key, ok := calendar.NormalizeIn(e.ClassDate, opts.Location)
		if !ok {
			skipped++
			continue
		}
		day, err := calendar.ParseKey(key, opts.Location)
		if err != nil {
			skipped++
			continue
		}

		ev := cal.AddEvent(EntryUID(e, key))
		ev.SetDtStampTime(opts.Now.UTC())
		ev.SetSummary(e.CourseName)
		if e.Room != "" {
			ev.SetLocation(e.Room)
		}
		if e.LecturerName != "" {
			ev.SetDescription(e.LecturerName)
		}

		start, end, timed := entrySpan(e, day)
		if timed {
			ev.SetStartAt(start)
			ev.SetEndAt(end)
		} else {
			ev.SetAllDayStartAt(day)
			ev.SetAllDayEndAt(day.AddDate(0, 0, 1))
		}
		written++
	}

	if written == 0 && len(entries) > 0 {
		return "", errors.New("ics: no exportable entries")
	}
	if skipped > 0 {
		appLog.Warn("ics export skipped entries with unparseable dates", "skipped", skipped)
	}
	return cal.Serialize(), nil
}

// EntryUID derives a stable UID for an entry from its source, day, start
// time and course, so calendar subscribers see updates rather than
// duplicates across refreshes.
func EntryUID(e model.ScheduleEntry, key string) string {
	name := e.Source + "|" + key + "|" + e.StartTime + "|" + e.CourseName + "|" + e.Room
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("portalcal:"+name)).String() + "@portalcal"
}

// entrySpan resolves the entry's start and end on day. An end at or before
// the start is read as crossing midnight; a missing end falls back to the
// duration, then to one hour.
func entrySpan(e model.ScheduleEntry, day time.Time) (time.Time, time.Time, bool) {
	startMin, ok := calendar.ClockMinutes(e.StartTime)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	start := atClock(day, startMin)

	var end time.Time
	if endMin, ok := calendar.ClockMinutes(e.EndTime); ok {
		end = atClock(day, endMin)
		if !end.After(start) {
			end = atClock(day.AddDate(0, 0, 1), endMin)
		}
	} else if e.DurationMinutes > 0 {
		end = start.Add(time.Duration(e.DurationMinutes) * time.Minute)
	} else {
		end = start.Add(time.Hour)
	}
	return start, end, true
}

// atClock is the wall-clock time minutes after midnight on day's
// civil date, in day's location.
func atClock(day time.Time, minutes int) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, minutes/60, minutes%60, 0, 0, day.Location())
}
