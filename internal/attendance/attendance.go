// Package attendance interprets daily attendance logs: per-day status for
// the calendar, status/course filtering for the log table, and per-course
// hour totals for the attendance chart.
package attendance

import (
	"math"
	"slices"
	"strings"
	"time"

	"portalcal/internal/calendar"
	"portalcal/internal/model"
)

// Status is the attendance outcome of one log.
type Status int

const (
	Absent               Status = 0
	Present              Status = 1
	AbsentWithPermission Status = 2
)

// UnknownCourse labels logs without a course name in hour totals.
const UnknownCourse = "Unknown Course"

// ParseStatus maps the API's status text. Anything other than "Present"
// or "Absent" counts as absent with permission.
func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "present":
		return Present
	case "absent":
		return Absent
	default:
		return AbsentWithPermission
	}
}

func (s Status) String() string {
	switch s {
	case Present:
		return "Present"
	case Absent:
		return "Absent"
	default:
		return "Absent with permission"
	}
}

// Log is an attendance record with its status parsed and date keyed.
// Key is empty when the record's date could not be normalized.
type Log struct {
	Key        string `json:"date"`
	CheckIn    string `json:"check_in,omitempty"`
	CheckOut   string `json:"check_out,omitempty"`
	Status     Status `json:"status"`
	StatusText string `json:"status_text"`
	Note       string `json:"note,omitempty"`
	CourseName string `json:"course_name,omitempty"`
}

// FromRecords converts API records, normalizing dates in loc. Records
// with unparseable dates are kept (they still belong in the log table)
// but never match a calendar day.
func FromRecords(records []model.AttendanceRecord, loc *time.Location) []Log {
	logs := make([]Log, 0, len(records))
	for _, r := range records {
		key, _ := calendar.NormalizeIn(r.Date, loc)
		st := ParseStatus(r.Status)
		logs = append(logs, Log{
			Key:        key,
			CheckIn:    r.CheckIn,
			CheckOut:   r.CheckOut,
			Status:     st,
			StatusText: st.String(),
			Note:       r.Note,
			CourseName: r.CourseName,
		})
	}
	return logs
}

// StatusOn returns the status of the first log on date's calendar day.
func StatusOn(logs []Log, date time.Time) (Status, bool) {
	key := calendar.Key(date)
	for _, l := range logs {
		if l.Key != "" && l.Key == key {
			return l.Status, true
		}
	}
	return 0, false
}

// Filter narrows a log list. A nil Status or empty Course matches all.
type Filter struct {
	Status *Status
	Course string
}

// Apply returns the logs matching f, in order.
func (f Filter) Apply(logs []Log) []Log {
	out := make([]Log, 0, len(logs))
	for _, l := range logs {
		if f.Status != nil && l.Status != *f.Status {
			continue
		}
		if f.Course != "" && l.CourseName != f.Course {
			continue
		}
		out = append(out, l)
	}
	return out
}

// Courses lists distinct non-empty course names, sorted.
func Courses(logs []Log) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, l := range logs {
		if l.CourseName == "" {
			continue
		}
		if _, ok := seen[l.CourseName]; ok {
			continue
		}
		seen[l.CourseName] = struct{}{}
		out = append(out, l.CourseName)
	}
	slices.Sort(out)
	return out
}

// CourseHours totals attended/missed hours for one course.
type CourseHours struct {
	Course               string  `json:"course"`
	Present              float64 `json:"present"`
	Absent               float64 `json:"absent"`
	AbsentWithPermission float64 `json:"absent_with_permission"`
	Total                float64 `json:"total"`
}

// HoursByCourse sums session hours per course in first-seen order.
func HoursByCourse(logs []Log) []CourseHours {
	idx := make(map[string]int)
	out := make([]CourseHours, 0)

	for _, l := range logs {
		name := l.CourseName
		if name == "" {
			name = UnknownCourse
		}
		i, ok := idx[name]
		if !ok {
			i = len(out)
			idx[name] = i
			out = append(out, CourseHours{Course: name})
		}

		h := SessionHours(l.CheckIn, l.CheckOut)
		switch l.Status {
		case Present:
			out[i].Present += h
		case Absent:
			out[i].Absent += h
		case AbsentWithPermission:
			out[i].AbsentWithPermission += h
		}
		out[i].Total = out[i].Present + out[i].Absent + out[i].AbsentWithPermission
	}
	return out
}

// SessionHours is the time between check-in and check-out. A check-out
// earlier than the check-in is taken to be on the next day. Missing or
// unparseable times count as one hour.
func SessionHours(checkIn, checkOut string) float64 {
	in, okIn := parseClock(checkIn)
	out, okOut := parseClock(checkOut)
	if !okIn || !okOut {
		return 1
	}
	d := out.Sub(in)
	if d < 0 {
		d += 24 * time.Hour
	}
	return d.Hours()
}

// Rate is the rounded percentage of logs marked present.
func Rate(logs []Log) int {
	if len(logs) == 0 {
		return 0
	}
	present := 0
	for _, l := range logs {
		if l.Status == Present {
			present++
		}
	}
	return int(math.Round(float64(present) / float64(len(logs)) * 100))
}

func parseClock(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
