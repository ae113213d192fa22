package calendar

import (
	"time"

	"portalcal/internal/model"
)

// PopupKind says which popup, if any, a Navigator has open.
type PopupKind int

const (
	PopupNone PopupKind = iota
	PopupEvent
	PopupDay
)

func (k PopupKind) String() string {
	switch k {
	case PopupEvent:
		return "event"
	case PopupDay:
		return "day"
	default:
		return "none"
	}
}

// Popup is the single popup slot of a Navigator. Event is set for
// PopupEvent; Date and Entries for PopupDay.
type Popup struct {
	Kind    PopupKind
	Event   model.ScheduleEntry
	Date    time.Time
	Entries []model.ScheduleEntry
}

// Navigator tracks which month a calendar view shows and which popup is
// open. There is one popup slot: opening an event popup replaces an open
// day popup and vice versa. Month navigation leaves the popup alone.
//
// A Navigator is not safe for concurrent use; each view owns its own.
type Navigator struct {
	year  int
	month time.Month
	popup Popup

	now func() time.Time
	loc *time.Location
}

// NavOption configures a Navigator.
type NavOption func(*Navigator)

// WithClock overrides the wall clock used for GoToday and IsToday.
func WithClock(now func() time.Time) NavOption {
	return func(n *Navigator) {
		if now != nil {
			n.now = now
		}
	}
}

// WithLocation sets the display zone. Defaults to time.Local.
func WithLocation(loc *time.Location) NavOption {
	return func(n *Navigator) {
		if loc != nil {
			n.loc = loc
		}
	}
}

// NewNavigator starts on the current month with no popup open.
func NewNavigator(opts ...NavOption) *Navigator {
	n := &Navigator{
		now: time.Now,
		loc: time.Local,
	}
	for _, opt := range opts {
		opt(n)
	}
	n.GoToday()
	return n
}

// Clone returns an independent copy; navigating it leaves n unchanged.
func (n *Navigator) Clone() *Navigator {
	c := *n
	return &c
}

func (n *Navigator) Year() int { return n.year }
func (n *Navigator) Month() time.Month { return n.month }
func (n *Navigator) Popup() Popup { return n.popup }
func (n *Navigator) Location() *time.Location { return n.loc }

// Now is the clock reading in the display zone.
func (n *Navigator) Now() time.Time {
	return n.now().In(n.loc)
}

// Show jumps to (year, month), rolling out-of-range months into the
// neighbouring years.
func (n *Navigator) Show(year int, month time.Month) {
	t := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	n.year, n.month = t.Year(), t.Month()
}

// PrevMonth moves back one month; January goes to the previous December.
func (n *Navigator) PrevMonth() {
	if n.month == time.January {
		n.year--
		n.month = time.December
		return
	}
	n.month--
}

// NextMonth moves forward one month; December goes to the next January.
func (n *Navigator) NextMonth() {
	if n.month == time.December {
		n.year++
		n.month = time.January
		return
	}
	n.month++
}

// GoToday shows the month containing the current date.
func (n *Navigator) GoToday() {
	now := n.Now()
	n.year, n.month = now.Year(), now.Month()
}

// OpenEvent shows the popup for a single entry.
func (n *Navigator) OpenEvent(e model.ScheduleEntry) {
	n.popup = Popup{Kind: PopupEvent, Event: e}
}

// OpenDay shows the popup for date, listing its entries from all.
func (n *Navigator) OpenDay(date time.Time, all []model.ScheduleEntry) {
	d := startOfDay(date.In(n.loc))
	n.popup = Popup{
		Kind:    PopupDay,
		Date:    d,
		Entries: EntriesForDate(d, all),
	}
}

// ClosePopup closes whichever popup is open.
func (n *Navigator) ClosePopup() {
	n.popup = Popup{}
}

// Grid builds the displayed month and fills it from entries.
func (n *Navigator) Grid(entries []model.ScheduleEntry) []Cell {
	cells := BuildGrid(n.year, n.month, n.Now())
	Populate(cells, NewIndex(entries, n.loc))
	return cells
}
