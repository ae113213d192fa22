package calendar_test

import (
	"testing"
	"time"

	"portalcal/internal/calendar"
	"portalcal/internal/model"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestNavigatorStartsOnCurrentMonth(t *testing.T) {
	n := calendar.NewNavigator(
		calendar.WithClock(fixedClock(time.Date(2024, 3, 31, 23, 0, 0, 0, time.UTC))),
		calendar.WithLocation(time.FixedZone("KST", 9*3600)),
	)
	// 23:00 UTC on March 31 is already April 1 in Seoul.
	if n.Year() != 2024 || n.Month() != time.April {
		t.Fatalf("start = %d-%s, want 2024-April", n.Year(), n.Month())
	}
	if n.Popup().Kind != calendar.PopupNone {
		t.Fatalf("expected no popup, got %s", n.Popup().Kind)
	}
}

func TestNavigatorMonthRollover(t *testing.T) {
	n := calendar.NewNavigator(calendar.WithClock(fixedClock(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))))

	for i := 0; i < 12; i++ {
		n.NextMonth()
	}
	if n.Year() != 2025 || n.Month() != time.January {
		t.Fatalf("after 12 x next: %d-%s, want 2025-January", n.Year(), n.Month())
	}

	n.Show(2024, time.January)
	n.PrevMonth()
	if n.Year() != 2023 || n.Month() != time.December {
		t.Fatalf("prev from Jan 2024: %d-%s, want 2023-December", n.Year(), n.Month())
	}

	for i := 0; i < 300; i++ {
		n.PrevMonth()
	}
	if n.Year() != 1998 || n.Month() != time.December {
		t.Fatalf("after 300 x prev: %d-%s, want 1998-December", n.Year(), n.Month())
	}

	n.Show(2024, 14)
	if n.Year() != 2025 || n.Month() != time.February {
		t.Fatalf("Show(2024, 14) = %d-%s, want 2025-February", n.Year(), n.Month())
	}

	n.GoToday()
	if n.Year() != 2024 || n.Month() != time.January {
		t.Fatalf("GoToday = %d-%s, want 2024-January", n.Year(), n.Month())
	}
}

func TestNavigatorSinglePopupSlot(t *testing.T) {
	n := calendar.NewNavigator(
		calendar.WithClock(fixedClock(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))),
		calendar.WithLocation(time.UTC),
	)
	entries := []model.ScheduleEntry{
		{CourseName: "Databases", ClassDate: model.DateString("2024-03-05")},
		{CourseName: "Networks", ClassDate: model.DateFromParts(2024, 3, 5)},
		{CourseName: "Elsewhere", ClassDate: model.DateString("2024-03-07")},
	}

	n.OpenEvent(entries[0])
	if p := n.Popup(); p.Kind != calendar.PopupEvent || p.Event.CourseName != "Databases" {
		t.Fatalf("unexpected popup after OpenEvent: %+v", p)
	}

	n.OpenDay(time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC), entries)
	p := n.Popup()
	if p.Kind != calendar.PopupDay {
		t.Fatalf("expected day popup to replace event popup, got %s", p.Kind)
	}
	if p.Event.CourseName != "" {
		t.Fatal("event slot should be cleared when the day popup opens")
	}
	if len(p.Entries) != 2 || calendar.Key(p.Date) != "2024-03-05" {
		t.Fatalf("day popup = %s with %d entries", calendar.Key(p.Date), len(p.Entries))
	}

	n.NextMonth()
	if n.Popup().Kind != calendar.PopupDay {
		t.Fatal("navigation must not close the popup")
	}

	n.OpenEvent(entries[1])
	if p := n.Popup(); p.Kind != calendar.PopupEvent || len(p.Entries) != 0 {
		t.Fatalf("event popup should replace day popup: %+v", p)
	}

	n.ClosePopup()
	if n.Popup().Kind != calendar.PopupNone {
		t.Fatal("ClosePopup left a popup open")
	}
}

func TestNavigatorGridFillsEntries(t *testing.T) {
	n := calendar.NewNavigator(
		calendar.WithClock(fixedClock(time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC))),
		calendar.WithLocation(time.UTC),
	)
	entries := []model.ScheduleEntry{
		{CourseName: "Databases", ClassDate: model.DateString("2024-03-05")},
		{CourseName: "Trailing", ClassDate: model.DateString("2024-04-02")},
		{CourseName: "Bad", ClassDate: model.DateString("not a date")},
	}

	cells := n.Grid(entries)
	total := 0
	for _, c := range cells {
		total += len(c.Entries)
		if c.IsToday && len(c.Entries) != 1 {
			t.Fatalf("today cell should hold one entry, got %d", len(c.Entries))
		}
	}
	if total != 2 {
		t.Fatalf("expected 2 placed entries (one in a trailing cell), got %d", total)
	}
}

func TestNavigatorClone(t *testing.T) {
	n := calendar.NewNavigator(calendar.WithClock(fixedClock(time.Date(2024, 12, 10, 0, 0, 0, 0, time.UTC))))
	n.OpenDay(time.Date(2024, 12, 10, 0, 0, 0, 0, time.UTC), nil)

	next := n.Clone()
	next.NextMonth()
	next.ClosePopup()

	if next.Year() != 2025 || next.Month() != time.January {
		t.Fatalf("clone = %d-%s, want 2025-January", next.Year(), next.Month())
	}
	if n.Year() != 2024 || n.Month() != time.December || n.Popup().Kind != calendar.PopupDay {
		t.Fatalf("original changed: %d-%s popup %s", n.Year(), n.Month(), n.Popup().Kind)
	}
}
