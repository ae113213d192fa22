package ics

import (
	"errors"
	"slices"
	"time"

	"github.com/teambition/rrule-go"

	appLog "portalcal/internal/log"
	"portalcal/internal/model"
)

const defaultMaxOccurrencesPerEvent = 2000

// ExpandConfig controls how feed events are turned into schedule entries.
type ExpandConfig struct {
	// DisplayLocation is the zone entry times are rendered in. If nil,
	// time.Local is used.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd bound the occurrences produced (inclusive).
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps RRULE expansion per UID. If zero,
	// defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// ExpandResult holds the entries produced from a feed, ordered by start.
type ExpandResult struct {
	Entries []model.ScheduleEntry
	// TruncatedEvents records UIDs that hit MaxOccurrencesPerEvent.
	TruncatedEvents []string
}

type instance struct {
	ev    ParsedEvent
	start time.Time
	end   time.Time
}

// ParseEntries parses an ICS payload and expands it inside cfg's window.
func ParseEntries(src Source, body []byte, cfg ExpandConfig) (ExpandResult, error) {
	events, err := Parse(src, body)
	if err != nil {
		return ExpandResult{}, err
	}
	return Expand(events, cfg)
}

// Expand turns parsed VEVENTs into schedule entries. Single events,
// RRULE recurrences, EXDATE removals and RECURRENCE-ID overrides are
// handled. All-day events get a civil class date with no clock times;
// timed events keep their instant and get "HH:MM" times in
// cfg.DisplayLocation.
func Expand(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("ics: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)
	uids := make([]string, 0)
	for _, ev := range events {
		if ev.IsOverride() {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
			continue
		}
		if _, seen := baseByUID[ev.UID]; !seen {
			uids = append(uids, ev.UID)
		}
		baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
	}

	all := make([]instance, 0)
	for _, uid := range uids {
		ov := overridesByUID[uid]
		truncated := false
		for _, ev := range baseByUID[uid] {
			var (
				occ    []instance
				hitCap bool
			)
			if ev.RawRRule == "" {
				occ = expandSingle(ev, ov, cfg)
			} else {
				occ, hitCap = expandRecurring(ev, ov, cfg)
			}
			truncated = truncated || hitCap
			all = append(all, occ...)
		}
		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, uid)
			appLog.Error("ics: truncated occurrences due to cap",
				errors.New("max occurrences reached"),
				"uid", uid,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
	}

	slices.SortStableFunc(all, func(a, b instance) int {
		return a.start.Compare(b.start)
	})

	result.Entries = make([]model.ScheduleEntry, 0, len(all))
	for _, in := range all {
		result.Entries = append(result.Entries, toEntry(in, cfg.DisplayLocation))
	}
	return result, nil
}

func expandSingle(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []instance {
	start, end := ev.Start, ev.End
	if o, ok := findOverride(overrides, start); ok {
		ev, start, end = o, o.Start, o.End
	}
	if !overlaps(start, end, cfg.RangeStart, cfg.RangeEnd) {
		return nil
	}
	return []instance{{ev: ev, start: start, end: end}}
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]instance, bool) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("ics: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	loc := ev.Start.Location()
	times := set.Between(cfg.RangeStart.In(loc), cfg.RangeEnd.In(loc), true)

	hitCap := false
	if len(times) > cfg.MaxOccurrencesPerEvent {
		times = times[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	dur := ev.End.Sub(ev.Start)
	out := make([]instance, 0, len(times))
	for _, t := range times {
		in := instance{ev: ev, start: t, end: t.Add(dur)}
		if ev.AllDay {
			day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
			in.start, in.end = day, day.AddDate(0, 0, 1)
		}
		if o, ok := findOverride(overrides, in.start); ok {
			in = instance{ev: o, start: o.Start, end: o.End}
		}
		out = append(out, in)
	}
	return out, hitCap
}

// findOverride returns the override whose RECURRENCE-ID equals start.
func findOverride(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func toEntry(in instance, loc *time.Location) model.ScheduleEntry {
	e := model.ScheduleEntry{
		CourseName:   in.ev.Summary,
		Room:         in.ev.Location,
		LecturerName: in.ev.Description,
		Source:       "feed:" + in.ev.Source.ID,
	}
	if in.ev.AllDay {
		// All-day values are floating dates; keep the civil day as written.
		y, m, d := in.start.Date()
		e.ClassDate = model.DateFromParts(y, int(m), d)
		return e
	}

	start := in.start.In(loc)
	e.ClassDate = model.DateTime(start)
	e.StartTime = start.Format("15:04")
	e.EndTime = in.end.In(loc).Format("15:04")
	if mins := int(in.end.Sub(in.start) / time.Minute); mins > 0 {
		e.DurationMinutes = mins
	}
	return e
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}
