package calendar

import (
	"time"

	"portalcal/internal/model"
)

// GridCells is the fixed size of a month grid: six full weeks, so the
// layout height never changes between months.
const GridCells = 42

// Cell is one day of a month grid.
type Cell struct {
	Date           time.Time             `json:"date"`
	InCurrentMonth bool                  `json:"in_current_month"`
	IsToday        bool                  `json:"is_today"`
	Entries        []model.ScheduleEntry `json:"entries"`
}

// BuildGrid lays out the month containing (year, month) as 42 cells
// starting on a Sunday: the tail of the previous month, every day of
// the month, then the head of the next month. Dates are midnight in
// now's location, and IsToday compares (year, month, day) against now.
// Out-of-range months roll over the way time.Date does.
//
// Entries are left empty; see Populate.
func BuildGrid(year int, month time.Month, now time.Time) []Cell {
	loc := now.Location()
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	fy, fm, _ := first.Date()
	start := first.AddDate(0, 0, -int(first.Weekday()))

	ny, nm, nd := now.Date()

	cells := make([]Cell, GridCells)
	for i := range cells {
		d := start.AddDate(0, 0, i)
		y, m, day := d.Date()
		cells[i] = Cell{
			Date:           startOfDay(d),
			InCurrentMonth: y == fy && m == fm,
			IsToday:        y == ny && m == nm && day == nd,
			Entries:        []model.ScheduleEntry{},
		}
	}
	return cells
}

// Populate fills every cell's Entries from ix.
func Populate(cells []Cell, ix *Index) {
	for i := range cells {
		cells[i].Entries = ix.ForDate(cells[i].Date)
	}
}

// DaysInMonth reports how many days the month has (28-31).
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
