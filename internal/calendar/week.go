package calendar

import (
	"time"

	"portalcal/internal/model"
)

// TimelineDays is the number of teaching days in a week timeline
// (Monday through Saturday).
const TimelineDays = 6

// TimelineDay is one weekday row of the week timeline.
type TimelineDay struct {
	Weekday time.Weekday          `json:"weekday"`
	Date    time.Time             `json:"date"`
	IsToday bool                  `json:"is_today"`
	Entries []model.ScheduleEntry `json:"entries"`
}

// WeekRange returns midnight Monday and midnight Saturday of the week
// containing date. Sunday counts as the end of the previous week.
func WeekRange(date time.Time) (start, end time.Time) {
	d := startOfDay(date)
	diff := 1 - int(d.Weekday())
	if d.Weekday() == time.Sunday {
		diff = -6
	}
	start = d.AddDate(0, 0, diff)
	end = start.AddDate(0, 0, TimelineDays-1)
	return start, end
}

// Timeline groups entries into the Monday..Saturday week containing
// date, each day sorted by start time. Both date and today are read in
// loc; IsToday marks the day matching today.
func Timeline(date, today time.Time, entries []model.ScheduleEntry, loc *time.Location) []TimelineDay {
	if loc == nil {
		loc = time.Local
	}
	ix := NewIndex(entries, loc)
	start, _ := WeekRange(date.In(loc))
	todayKey := Key(today.In(loc))

	days := make([]TimelineDay, 0, TimelineDays)
	for i := 0; i < TimelineDays; i++ {
		d := start.AddDate(0, 0, i)
		days = append(days, TimelineDay{
			Weekday: d.Weekday(),
			Date:    d,
			IsToday: Key(d) == todayKey,
			Entries: SortByStartTime(ix.ForDate(d)),
		})
	}
	return days
}
