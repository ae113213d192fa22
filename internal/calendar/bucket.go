package calendar

import (
	"slices"
	"strconv"
	"strings"
	"time"

	appLog "portalcal/internal/log"
	"portalcal/internal/model"
)

// EntriesForDate returns the entries whose class date falls on date's
// calendar day, in their original order. Instants are read in date's
// location. Entries with an unparseable class date are skipped.
func EntriesForDate(date time.Time, entries []model.ScheduleEntry) []model.ScheduleEntry {
	loc := date.Location()
	key := Key(date)

	out := make([]model.ScheduleEntry, 0)
	dropped := 0
	for _, e := range entries {
		k, ok := NormalizeIn(e.ClassDate, loc)
		if !ok {
			dropped++
			continue
		}
		if k == key {
			out = append(out, e)
		}
	}
	if dropped > 0 {
		appLog.Debug("calendar: skipped entries with unparseable class date", "date", key, "count", dropped)
	}
	return out
}

// Index buckets entries by canonical date key once, so a whole grid can
// be filled without rescanning the list per cell. It gives the same
// answers as EntriesForDate for dates in its location.
type Index struct {
	loc     *time.Location
	byKey   map[string][]model.ScheduleEntry
	total   int
	dropped int
}

// NewIndex normalizes every entry in loc (nil means time.Local).
func NewIndex(entries []model.ScheduleEntry, loc *time.Location) *Index {
	if loc == nil {
		loc = time.Local
	}
	ix := &Index{
		loc:   loc,
		byKey: make(map[string][]model.ScheduleEntry),
	}
	for _, e := range entries {
		k, ok := NormalizeIn(e.ClassDate, loc)
		if !ok {
			ix.dropped++
			appLog.Debug("calendar: entry has unparseable class date",
				"course", e.CourseName,
				"kind", e.ClassDate.Kind(),
			)
			continue
		}
		ix.byKey[k] = append(ix.byKey[k], e)
		ix.total++
	}
	return ix
}

// ForDate returns the bucket for t's calendar day in the index location.
func (ix *Index) ForDate(t time.Time) []model.ScheduleEntry {
	return ix.ForKey(Key(t.In(ix.loc)))
}

// ForKey returns a copy of the bucket for a canonical key.
func (ix *Index) ForKey(key string) []model.ScheduleEntry {
	b := ix.byKey[key]
	out := make([]model.ScheduleEntry, len(b))
	copy(out, b)
	return out
}

// Len is the number of indexed entries.
func (ix *Index) Len() int { return ix.total }

// Dropped is the number of entries rejected for unparseable dates.
func (ix *Index) Dropped() int { return ix.dropped }

// Location is the zone instants were normalized in.
func (ix *Index) Location() *time.Location { return ix.loc }

// SortByStartTime returns a copy of entries ordered by start time.
// Equal or unparseable start times keep their relative order; the
// unparseable ones go last.
func SortByStartTime(entries []model.ScheduleEntry) []model.ScheduleEntry {
	out := slices.Clone(entries)
	slices.SortStableFunc(out, func(a, b model.ScheduleEntry) int {
		am, aok := ClockMinutes(a.StartTime)
		bm, bok := ClockMinutes(b.StartTime)
		switch {
		case aok && bok:
			return am - bm
		case aok:
			return -1
		case bok:
			return 1
		default:
			return 0
		}
	})
	return out
}

// ClockMinutes parses "HH:MM" (or "HH:MM:SS") into minutes after midnight.
func ClockMinutes(s string) (int, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
