package model

// ScheduleEntry is a single dated class occurrence as rendered by the
// calendar. Entries come from the portal's class timeline, from weekly
// class schedules materialized over a term (internal/schedule), or from
// external ICS feeds (internal/ics).
type ScheduleEntry struct {
	CourseName string `json:"courseName"`

	// ClassDate is kept in whatever shape the producer supplied it. Use
	// calendar.Normalize to obtain the canonical YYYY-MM-DD key.
	ClassDate DateLike `json:"classDate"`

	// StartTime / EndTime are wall-clock "HH:MM" strings.
	StartTime       string `json:"startTime"`
	EndTime         string `json:"endTime"`
	DurationMinutes int    `json:"durationMinutes"`

	Room         string `json:"room"`
	LecturerName string `json:"lecturerName"`

	// Source identifies where the entry came from, e.g. "timeline",
	// "schedule:CS-101-MON" or "feed:holidays".
	Source string `json:"source,omitempty"`
}

// AttendanceRecord is one daily attendance log row as returned by the
// portal API. Status is kept raw ("Present", "Absent", ...); the
// attendance package interprets it.
type AttendanceRecord struct {
	Date       DateLike `json:"attendanceDate"`
	CheckIn    string   `json:"checkInTime"`
	CheckOut   string   `json:"checkOutTime"`
	Status     string   `json:"status"`
	Note       string   `json:"note"`
	CourseName string   `json:"courseName"`
}
