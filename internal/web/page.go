package web

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"portalcal/internal/calendar"
	appLog "portalcal/internal/log"
	"portalcal/internal/model"
)

// maxCellEntries is how many entries a grid cell lists before "+N more".
const maxCellEntries = 3

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/calendar.html"))

type entryView struct {
	Course   string
	Start    string
	End      string
	Room     string
	Lecturer string
	Color    string
	URL      string
}

type cellView struct {
	Day     int
	Key     string
	InMonth bool
	Today   bool
	Entries []entryView
	More    int
	DayURL  string
}

type popupView struct {
	Title   string
	Event   *entryView
	Entries []entryView
}

type pageData struct {
	Title      string
	MonthLabel string
	PrevURL    string
	NextURL    string
	TodayURL   string
	CloseURL   string
	Weekdays   []string
	Weeks      [][]cellView
	Popup      *popupView
	Refreshed  string
}

// handleCalendarPage renders the month grid as HTML. The view state lives
// in the query string and is replayed onto a fresh Navigator:
//
//	/calendar?year=2024&month=4&nav=next&day=2024-04-15&event=0
//
//   - nav: prev | next | today, applied after year/month
//   - day: opens the day popup
//   - event: with day, opens that entry's popup instead (one popup at a time)
//
// The page sets data-ready="true" on <body> once rendered so headless
// capture knows when to take the screenshot.
func (s *Server) handleCalendarPage(w http.ResponseWriter, r *http.Request) {
	nav := s.navigator()
	if ok := applyMonthQuery(nav, r); !ok {
		http.Error(w, "year and month must be integers", http.StatusBadRequest)
		return
	}
	q := r.URL.Query()
	switch q.Get("nav") {
	case "prev":
		nav.PrevMonth()
	case "next":
		nav.NextMonth()
	case "today":
		nav.GoToday()
	}

	entries, err := s.entries(r.Context())
	if err != nil {
		appLog.Error("calendar page: load entries failed", err)
		http.Error(w, "failed to load entries", http.StatusInternalServerError)
		return
	}

	if ds := q.Get("day"); ds != "" {
		if day, err := calendar.ParseKey(ds, s.opts.Location); err == nil {
			nav.OpenDay(day, entries)
			if es := q.Get("event"); es != "" {
				dayEntries := calendar.SortByStartTime(nav.Popup().Entries)
				if i, err := strconv.Atoi(es); err == nil && i >= 0 && i < len(dayEntries) {
					nav.OpenEvent(dayEntries[i])
				}
			}
		}
	}

	data := s.buildPage(nav, entries)
	if last, ok, err := s.snap.LastRefresh(r.Context()); err == nil && ok {
		data.Refreshed = last.FinishedAt.In(s.opts.Location).Format("2006-01-02 15:04")
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, data); err != nil {
		appLog.Error("calendar page: render failed", err)
	}
}

func (s *Server) buildPage(nav *calendar.Navigator, entries []model.ScheduleEntry) pageData {
	year, month := nav.Year(), nav.Month()
	monthURL := func(y int, m time.Month, extra url.Values) string {
		v := url.Values{}
		v.Set("year", strconv.Itoa(y))
		v.Set("month", strconv.Itoa(int(m)))
		for k, vs := range extra {
			v[k] = vs
		}
		return "/calendar?" + v.Encode()
	}
	prev, next := nav.Clone(), nav.Clone()
	prev.PrevMonth()
	next.NextMonth()

	data := pageData{
		Title:      s.opts.CalendarName,
		MonthLabel: fmt.Sprintf("%s %d", month, year),
		PrevURL:    monthURL(prev.Year(), prev.Month(), nil),
		NextURL:    monthURL(next.Year(), next.Month(), nil),
		TodayURL:   "/calendar?nav=today",
		CloseURL:   monthURL(year, month, nil),
		Weekdays:   []string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"},
	}

	entryURL := func(key string, i int) string {
		return monthURL(year, month, url.Values{"day": {key}, "event": {strconv.Itoa(i)}})
	}

	cells := nav.Grid(entries)
	week := make([]cellView, 0, 7)
	for _, c := range cells {
		key := calendar.Key(c.Date)
		sorted := calendar.SortByStartTime(c.Entries)
		cv := cellView{
			Day:     c.Date.Day(),
			Key:     key,
			InMonth: c.InCurrentMonth,
			Today:   c.IsToday,
			DayURL:  monthURL(year, month, url.Values{"day": {key}}),
		}
		for i, e := range sorted {
			if i == maxCellEntries {
				cv.More = len(sorted) - maxCellEntries
				break
			}
			cv.Entries = append(cv.Entries, s.entryView(e, entryURL(key, i)))
		}
		week = append(week, cv)
		if len(week) == 7 {
			data.Weeks = append(data.Weeks, week)
			week = make([]cellView, 0, 7)
		}
	}

	switch p := nav.Popup(); p.Kind {
	case calendar.PopupEvent:
		ev := s.entryView(p.Event, "")
		data.Popup = &popupView{Title: p.Event.CourseName, Event: &ev}
	case calendar.PopupDay:
		key := calendar.Key(p.Date)
		pv := &popupView{Title: p.Date.Format("Monday, 2 January 2006")}
		for i, e := range calendar.SortByStartTime(p.Entries) {
			pv.Entries = append(pv.Entries, s.entryView(e, entryURL(key, i)))
		}
		data.Popup = pv
	}
	return data
}

func (s *Server) entryView(e model.ScheduleEntry, link string) entryView {
	return entryView{
		Course:   e.CourseName,
		Start:    e.StartTime,
		End:      e.EndTime,
		Room:     e.Room,
		Lecturer: e.LecturerName,
		Color:    s.colorFor(e.CourseName).Hex,
		URL:      link,
	}
}
