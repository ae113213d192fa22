package web

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"portalcal/internal/attendance"
	"portalcal/internal/calendar"
	"portalcal/internal/ics"
	appLog "portalcal/internal/log"
	"portalcal/internal/model"
	"portalcal/internal/page"
	"portalcal/internal/store"
)

// entryDTO is a JSON-friendly view of a schedule entry with its course
// color resolved.
type entryDTO struct {
	CourseName      string `json:"course_name"`
	Date            string `json:"date"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	DurationMinutes int    `json:"duration_minutes"`
	Room            string `json:"room"`
	LecturerName    string `json:"lecturer_name"`
	Source          string `json:"source,omitempty"`
	Color           string `json:"color"`
	ColorName       string `json:"color_name"`
}

type cellDTO struct {
	Date           string     `json:"date"`
	Day            int        `json:"day"`
	InCurrentMonth bool       `json:"in_current_month"`
	IsToday        bool       `json:"is_today"`
	Entries        []entryDTO `json:"entries"`
}

// monthResponse is the JSON response shape for /api/calendar.
type monthResponse struct {
	Year     int       `json:"year"`
	Month    int       `json:"month"`
	Timezone string    `json:"timezone"`
	Today    string    `json:"today"`
	Cells    []cellDTO `json:"cells"`
	// Dropped counts entries whose class date could not be normalized.
	Dropped int `json:"dropped"`
}

type dayResponse struct {
	Date       string     `json:"date"`
	Entries    []entryDTO `json:"entries"`
	Attendance string     `json:"attendance,omitempty"`
}

type weekDayDTO struct {
	Weekday string     `json:"weekday"`
	Date    string     `json:"date"`
	IsToday bool       `json:"is_today"`
	Entries []entryDTO `json:"entries"`
}

type weekResponse struct {
	Start string       `json:"start"`
	End   string       `json:"end"`
	Days  []weekDayDTO `json:"days"`
}

type attendanceResponse struct {
	Logs       []attendance.Log         `json:"logs"`
	Page       int                      `json:"page"`
	PerPage    int                      `json:"per_page"`
	TotalPages int                      `json:"total_pages"`
	Total      int                      `json:"total"`
	Courses    []string                 `json:"courses"`
	Hours      []attendance.CourseHours `json:"hours"`
	// Rate is the portal's own rate when one is stored, else LocalRate.
	Rate       int                      `json:"rate"`
	RateSource string                   `json:"rate_source"`
	LocalRate  int                      `json:"local_rate"`
}

type refreshDTO struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Entries    int       `json:"entries"`
	Attendance int       `json:"attendance"`
	Dropped    int       `json:"dropped"`
	Error      string    `json:"error,omitempty"`
}

type statusResponse struct {
	LastRefresh *refreshDTO `json:"last_refresh"`
	Entries     int         `json:"entries"`
}

func toRefreshDTO(r store.Refresh) refreshDTO {
	return refreshDTO{
		ID:         r.ID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Entries:    r.Entries,
		Attendance: r.Attendance,
		Dropped:    r.Dropped,
		Error:      r.Err,
	}
}

func (s *Server) toEntryDTO(e model.ScheduleEntry) entryDTO {
	key, _ := calendar.NormalizeIn(e.ClassDate, s.opts.Location)
	c := s.colorFor(e.CourseName)
	return entryDTO{
		CourseName:      e.CourseName,
		Date:            key,
		StartTime:       e.StartTime,
		EndTime:         e.EndTime,
		DurationMinutes: e.DurationMinutes,
		Room:            e.Room,
		LecturerName:    e.LecturerName,
		Source:          e.Source,
		Color:           c.Hex,
		ColorName:       c.Name,
	}
}

func (s *Server) toEntryDTOs(entries []model.ScheduleEntry) []entryDTO {
	out := make([]entryDTO, 0, len(entries))
	for _, e := range calendar.SortByStartTime(entries) {
		out = append(out, s.toEntryDTO(e))
	}
	return out
}

// handleMonth returns the 42-cell grid for a month.
//
// GET /api/calendar?year=2024&month=4
//   - month is 1-12; out-of-range values roll into neighbouring years
//   - both default to the current month
func (s *Server) handleMonth(w http.ResponseWriter, r *http.Request) {
	nav := s.navigator()
	if ok := applyMonthQuery(nav, r); !ok {
		writeError(w, http.StatusBadRequest, "year and month must be integers")
		return
	}

	now := nav.Now()
	cells := calendar.BuildGrid(nav.Year(), nav.Month(), now)
	entries, err := s.snap.EntriesBetween(r.Context(), cells[0].Date, cells[len(cells)-1].Date)
	if err != nil {
		appLog.Error("api calendar: load entries failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load entries")
		return
	}

	ix := calendar.NewIndex(entries, s.opts.Location)
	calendar.Populate(cells, ix)

	resp := monthResponse{
		Year:     nav.Year(),
		Month:    int(nav.Month()),
		Timezone: s.opts.Location.String(),
		Today:    calendar.Key(now),
		Cells:    make([]cellDTO, 0, len(cells)),
		Dropped:  ix.Dropped(),
	}
	for _, c := range cells {
		resp.Cells = append(resp.Cells, cellDTO{
			Date:           calendar.Key(c.Date),
			Day:            c.Date.Day(),
			InCurrentMonth: c.InCurrentMonth,
			IsToday:        c.IsToday,
			Entries:        s.toEntryDTOs(c.Entries),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// applyMonthQuery shows the year/month from the query on nav. It reports
// false if either is present but not an integer.
func applyMonthQuery(nav *calendar.Navigator, r *http.Request) bool {
	q := r.URL.Query()
	ys, ms := q.Get("year"), q.Get("month")
	if ys == "" && ms == "" {
		return true
	}
	year, month := nav.Year(), int(nav.Month())
	if ys != "" {
		n, err := strconv.Atoi(ys)
		if err != nil {
			return false
		}
		year = n
	}
	if ms != "" {
		n, err := strconv.Atoi(ms)
		if err != nil {
			return false
		}
		month = n
	}
	nav.Show(year, time.Month(month))
	return true
}

// handleDay returns one day's entries sorted by start time, plus the
// attendance status recorded for that day, if any.
func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "date")
	day, err := calendar.ParseKey(key, s.opts.Location)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	entries, err := s.entries(r.Context())
	if err != nil {
		appLog.Error("api day: load entries failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load entries")
		return
	}

	resp := dayResponse{
		Date:    key,
		Entries: s.toEntryDTOs(calendar.EntriesForDate(day, entries)),
	}

	records, err := s.snap.Attendance(r.Context())
	if err != nil {
		appLog.Error("api day: load attendance failed", err)
	} else if st, ok := attendance.StatusOn(attendance.FromRecords(records, s.opts.Location), day); ok {
		resp.Attendance = st.String()
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleWeek returns the Monday..Saturday timeline of the week containing
// ?date= (default today).
func (s *Server) handleWeek(w http.ResponseWriter, r *http.Request) {
	now := s.opts.Now().In(s.opts.Location)
	date := now
	if ds := r.URL.Query().Get("date"); ds != "" {
		d, err := calendar.ParseKey(ds, s.opts.Location)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		date = d
	}

	entries, err := s.entries(r.Context())
	if err != nil {
		appLog.Error("api week: load entries failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load entries")
		return
	}

	start, end := calendar.WeekRange(date)
	resp := weekResponse{
		Start: calendar.Key(start),
		End:   calendar.Key(end),
		Days:  make([]weekDayDTO, 0, calendar.TimelineDays),
	}
	for _, d := range calendar.Timeline(date, now, entries, s.opts.Location) {
		resp.Days = append(resp.Days, weekDayDTO{
			Weekday: d.Weekday.String(),
			Date:    calendar.Key(d.Date),
			IsToday: d.IsToday,
			Entries: s.toEntryDTOs(d.Entries),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAttendance returns the filtered, paginated attendance log.
//
// GET /api/attendance?status=1&course=Databases&page=2
//   - status: 0 absent, 1 present, 2 absent with permission
//   - page is 1-based and clamped to the available pages
func (s *Server) handleAttendance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var f attendance.Filter
	if ss := strings.TrimSpace(q.Get("status")); ss != "" {
		n, err := strconv.Atoi(ss)
		if err != nil || n < int(attendance.Absent) || n > int(attendance.AbsentWithPermission) {
			writeError(w, http.StatusBadRequest, "status must be 0, 1 or 2")
			return
		}
		st := attendance.Status(n)
		f.Status = &st
	}
	f.Course = q.Get("course")

	records, err := s.snap.Attendance(r.Context())
	if err != nil {
		appLog.Error("api attendance: load failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load attendance")
		return
	}

	all := attendance.FromRecords(records, s.opts.Location)
	filtered := f.Apply(all)
	total := page.Total(len(filtered), s.opts.PerPage)
	p := page.Clamp(parseIntDefault(q.Get("page"), 1), total)

	local := attendance.Rate(all)
	rate, source := local, "local"
	if pr, ok, err := s.snap.PortalAttendanceRate(r.Context()); err != nil {
		appLog.Error("api attendance: portal rate failed", err)
	} else if ok {
		rate, source = int(math.Round(pr)), "portal"
	}

	writeJSON(w, http.StatusOK, attendanceResponse{
		Logs:       page.Slice(filtered, p, s.opts.PerPage),
		Page:       p,
		PerPage:    s.opts.PerPage,
		TotalPages: total,
		Total:      len(filtered),
		Courses:    attendance.Courses(all),
		Hours:      attendance.HoursByCourse(filtered),
		Rate:       rate,
		RateSource: source,
		LocalRate:  local,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var resp statusResponse
	last, ok, err := s.snap.LastRefresh(r.Context())
	if err != nil {
		appLog.Error("api status: last refresh failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read refresh history")
		return
	}
	if ok {
		dto := toRefreshDTO(last)
		resp.LastRefresh = &dto
	}
	if entries, err := s.entries(r.Context()); err == nil {
		resp.Entries = len(entries)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleICS exports every stored entry as an iCalendar feed.
func (s *Server) handleICS(w http.ResponseWriter, r *http.Request) {
	entries, err := s.entries(r.Context())
	if err != nil {
		appLog.Error("ics export: load entries failed", err)
		http.Error(w, "failed to load entries", http.StatusInternalServerError)
		return
	}
	body, err := ics.Export(entries, ics.ExportOptions{
		Name:     s.opts.CalendarName,
		Location: s.opts.Location,
		Now:      s.opts.Now(),
	})
	if err != nil {
		appLog.Error("ics export failed", err, "entries", len(entries))
		http.Error(w, "failed to export calendar", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="calendar.ics"`)
	_, _ = w.Write([]byte(body))
}
