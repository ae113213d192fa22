package schedule

import (
	"errors"
	"slices"
	"time"

	"github.com/teambition/rrule-go"

	appLog "portalcal/internal/log"
	"portalcal/internal/model"
)

const defaultMaxOccurrencesPerSchedule = 400

// ExpandConfig controls how weekly schedules are turned into dates.
type ExpandConfig struct {
	// Location is the zone class times are wall-clock times in. If nil,
	// time.Local is used.
	Location *time.Location

	Term     Term
	Holidays []Holiday

	// MaxOccurrencesPerSchedule caps the dates produced per slot. If
	// zero, defaultMaxOccurrencesPerSchedule is used.
	MaxOccurrencesPerSchedule int
}

// Result holds materialized entries ordered by date and start time.
type Result struct {
	Entries []model.ScheduleEntry
	// Truncated lists schedule IDs that hit MaxOccurrencesPerSchedule.
	Truncated []string
	// Skipped lists schedule IDs rejected by validation.
	Skipped []string
}

type occurrence struct {
	at    time.Time
	entry model.ScheduleEntry
}

// Materialize expands each weekly slot into one entry per class day in
// the term. Holiday dates are removed. Invalid slots are logged and
// skipped rather than failing the batch.
func Materialize(schedules []ClassSchedule, cfg ExpandConfig) (Result, error) {
	var result Result

	if cfg.Term.End.Before(cfg.Term.Start) {
		return result, ErrInvalidTerm
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxOccurrencesPerSchedule <= 0 {
		cfg.MaxOccurrencesPerSchedule = defaultMaxOccurrencesPerSchedule
	}

	all := make([]occurrence, 0)
	for _, s := range schedules {
		if err := s.Validate(); err != nil {
			appLog.Error("schedule: skipping invalid class schedule", err, "id", s.ID)
			result.Skipped = append(result.Skipped, s.ID)
			continue
		}

		occ, hitCap, err := expandSchedule(s, cfg)
		if err != nil {
			appLog.Error("schedule: expansion failed", err, "id", s.ID)
			result.Skipped = append(result.Skipped, s.ID)
			continue
		}
		if hitCap {
			result.Truncated = append(result.Truncated, s.ID)
			appLog.Error("schedule: truncated occurrences due to cap",
				errors.New("max occurrences reached"),
				"id", s.ID,
				"cap", cfg.MaxOccurrencesPerSchedule,
			)
		}
		all = append(all, occ...)
	}

	slices.SortStableFunc(all, func(a, b occurrence) int {
		return a.at.Compare(b.at)
	})

	result.Entries = make([]model.ScheduleEntry, 0, len(all))
	for _, o := range all {
		result.Entries = append(result.Entries, o.entry)
	}

	appLog.Debug("schedule: materialized",
		"term", cfg.Term.Name,
		"schedules", len(schedules),
		"entries", len(result.Entries),
		"skipped", len(result.Skipped),
	)
	return result, nil
}

func expandSchedule(s ClassSchedule, cfg ExpandConfig) ([]occurrence, bool, error) {
	wd, err := ParseWeekday(s.DayOfWeek)
	if err != nil {
		return nil, false, err
	}
	startMin, endMin, dur, err := s.Span()
	if err != nil {
		return nil, false, err
	}

	loc := cfg.Location
	ty, tm, td := cfg.Term.Start.Date()
	dtstart := time.Date(ty, tm, td, startMin/60, startMin%60, 0, 0, loc)
	ey, em, ed := cfg.Term.End.Date()
	until := time.Date(ey, em, ed, 23, 59, 59, 0, loc)

	r, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Byweekday: []rrule.Weekday{rruleWeekday(wd)},
		Dtstart:   dtstart,
		Until:     until,
	})
	if err != nil {
		return nil, false, err
	}

	var set rrule.Set
	set.RRule(r)
	for _, h := range cfg.Holidays {
		for _, d := range holidayDays(h, wd, startMin, loc) {
			set.ExDate(d)
		}
	}

	times := set.Between(dtstart, until, true)
	hitCap := false
	if len(times) > cfg.MaxOccurrencesPerSchedule {
		times = times[:cfg.MaxOccurrencesPerSchedule]
		hitCap = true
	}

	out := make([]occurrence, 0, len(times))
	for _, t := range times {
		y, m, d := t.Date()
		out = append(out, occurrence{
			at: t,
			entry: model.ScheduleEntry{
				CourseName:      s.CourseName,
				ClassDate:       model.DateFromParts(y, int(m), d),
				StartTime:       formatClock(startMin),
				EndTime:         formatClock(endMin),
				DurationMinutes: dur,
				Room:            s.Room,
				LecturerName:    s.LecturerName,
				Source:          "schedule:" + s.ID,
			},
		})
	}
	return out, hitCap, nil
}

// holidayDays lists the class start instants on weekday wd that fall
// inside h, for use as EXDATEs.
func holidayDays(h Holiday, wd time.Weekday, startMin int, loc *time.Location) []time.Time {
	out := make([]time.Time, 0)
	sy, sm, sd := h.Start.Date()
	for day := time.Date(sy, sm, sd, 0, 0, 0, 0, loc); h.Contains(day); day = day.AddDate(0, 0, 1) {
		if day.Weekday() != wd {
			continue
		}
		y, m, d := day.Date()
		out = append(out, time.Date(y, m, d, startMin/60, startMin%60, 0, 0, loc))
	}
	return out
}

func rruleWeekday(d time.Weekday) rrule.Weekday {
	switch d {
	case time.Monday:
		return rrule.MO
	case time.Tuesday:
		return rrule.TU
	case time.Wednesday:
		return rrule.WE
	case time.Thursday:
		return rrule.TH
	case time.Friday:
		return rrule.FR
	case time.Saturday:
		return rrule.SA
	default:
		return rrule.SU
	}
}
