// Package schedule models weekly class slots and materializes them into
// dated calendar entries over a term, minus holidays.
package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"portalcal/internal/calendar"
)

var (
	ErrInvalidWeekday = errors.New("schedule: day of week must be Mon..Sun")
	ErrNoEnd          = errors.New("schedule: end time or duration is required")
	ErrInvalidTerm    = errors.New("schedule: term end is before term start")
)

// ClassSchedule is a recurring weekly class slot as managed in the
// admin class-schedule screen.
type ClassSchedule struct {
	ID                string `json:"classScheduleId" yaml:"id" validate:"required"`
	StudyPlanCourseID string `json:"studyPlanCourseId" yaml:"study_plan_course_id"`
	CourseName        string `json:"courseName" yaml:"course_name" validate:"required"`
	LecturerName      string `json:"lecturerName" yaml:"lecturer_name"`
	DayOfWeek         string `json:"dayOfWeek" yaml:"day_of_week" validate:"required,weekday"`
	StartTime         string `json:"startTime" yaml:"start_time" validate:"required,clock"`
	EndTime           string `json:"endTime" yaml:"end_time" validate:"omitempty,clock"`
	DurationMinutes   int    `json:"durationMinutes" yaml:"duration_minutes" validate:"gte=0,lte=1440"`
	Room              string `json:"room" yaml:"room"`
}

// Term bounds the dates a schedule is held on, inclusive.
type Term struct {
	Name  string
	Start time.Time
	End   time.Time
}

// Holiday is a day or inclusive range of days without classes.
type Holiday struct {
	Name  string
	Start time.Time
	End   time.Time
}

// Contains reports whether date's calendar day falls within the holiday.
func (h Holiday) Contains(date time.Time) bool {
	k := calendar.Key(date)
	return k >= calendar.Key(h.Start) && k <= calendar.Key(h.End)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("weekday", func(fl validator.FieldLevel) bool {
		_, err := ParseWeekday(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		_, ok := calendar.ClockMinutes(fl.Field().String())
		return ok
	})
	return v
}

// Validate checks required fields, the weekday, and that the slot has
// either an end time or a duration.
func (s ClassSchedule) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("schedule %q: %w", s.ID, err)
	}
	if strings.TrimSpace(s.EndTime) == "" && s.DurationMinutes == 0 {
		return fmt.Errorf("schedule %q: %w", s.ID, ErrNoEnd)
	}
	return nil
}

// Span resolves start and end as minutes after midnight plus the slot
// length. A missing end derives from the duration; a missing duration
// derives from the times, wrapping past midnight.
func (s ClassSchedule) Span() (start, end, duration int, err error) {
	start, ok := calendar.ClockMinutes(s.StartTime)
	if !ok {
		return 0, 0, 0, fmt.Errorf("schedule %q: invalid start time %q", s.ID, s.StartTime)
	}

	if e, ok := calendar.ClockMinutes(s.EndTime); ok {
		duration = s.DurationMinutes
		if duration == 0 {
			duration = e - start
			if duration <= 0 {
				duration += 24 * 60
			}
		}
		return start, e, duration, nil
	}

	if s.DurationMinutes <= 0 {
		return 0, 0, 0, fmt.Errorf("schedule %q: %w", s.ID, ErrNoEnd)
	}
	return start, (start + s.DurationMinutes) % (24 * 60), s.DurationMinutes, nil
}

// ParseWeekday accepts "Mon", "monday", "TUE", ... (at least three
// letters of the English day name).
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) < 3 {
		return 0, ErrInvalidWeekday
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.HasPrefix(strings.ToLower(d.String()), s) {
			return d, nil
		}
	}
	return 0, ErrInvalidWeekday
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
