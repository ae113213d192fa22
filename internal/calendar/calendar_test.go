package calendar_test

import (
	"testing"
	"time"

	"portalcal/internal/calendar"
	"portalcal/internal/model"
)

func TestPaletteIndexMatchesStringHash(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{name: "empty", in: "", want: 0},
		{name: "single char", in: "a", want: 97 % 12},
		{name: "two chars", in: "ab", want: (97*31 + 98) % 12},
		{name: "hello", in: "hello", want: 99162322 % 12},
		// hashes to math.MinInt32; abs must not overflow
		{name: "min int32", in: "polygenelubricants", want: 2147483648 % 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := calendar.PaletteIndex(tt.in, 12); got != tt.want {
				t.Errorf("PaletteIndex(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestColorForIsDeterministic(t *testing.T) {
	names := []string{"Databases", "Operating Systems", "微积分", "", "Networks"}
	for _, n := range names {
		first := calendar.ColorFor(n)
		for i := 0; i < 5; i++ {
			if got := calendar.ColorFor(n); got != first {
				t.Fatalf("ColorFor(%q) changed between calls: %v vs %v", n, first, got)
			}
		}
		found := false
		for _, c := range calendar.Palette {
			if c == first {
				found = true
			}
		}
		if !found {
			t.Fatalf("ColorFor(%q) = %v not drawn from palette", n, first)
		}
	}

	if calendar.ColorFrom(nil, "x") != (calendar.Color{}) {
		t.Fatal("expected zero color for empty palette")
	}
}

func TestNormalize(t *testing.T) {
	seoul := time.FixedZone("KST", 9*3600)
	newYork := time.FixedZone("EST", -5*3600)
	instant := time.Date(2024, 3, 4, 23, 30, 0, 0, time.UTC)

	tests := []struct {
		name   string
		in     model.DateLike
		loc    *time.Location
		want   string
		wantOK bool
	}{
		{name: "canonical string", in: model.DateString("2024-03-05"), want: "2024-03-05", wantOK: true},
		{name: "parts padded", in: model.DateFromParts(2024, 3, 5), want: "2024-03-05", wantOK: true},
		{name: "parts january first", in: model.DateFromParts(2024, 1, 1), want: "2024-01-01", wantOK: true},
		{name: "instant in seoul", in: model.DateTime(instant), loc: seoul, want: "2024-03-05", wantOK: true},
		{name: "instant in new york", in: model.DateTime(instant), loc: newYork, want: "2024-03-04", wantOK: true},
		{name: "rfc3339 string", in: model.DateString("2024-03-04T23:30:00Z"), loc: seoul, want: "2024-03-05", wantOK: true},
		{name: "local datetime string", in: model.DateString("2024-03-05T09:00:00"), loc: seoul, want: "2024-03-05", wantOK: true},
		{name: "impossible string date", in: model.DateString("2024-02-30")},
		{name: "free text", in: model.DateString("next tuesday")},
		{name: "month out of range", in: model.DateFromParts(2024, 13, 1)},
		{name: "february 30 parts", in: model.DateFromParts(2023, 2, 30)},
		{name: "zero instant", in: model.DateTime(time.Time{})},
		{name: "invalid", in: model.DateLike{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := calendar.NormalizeIn(tt.in, tt.loc)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("NormalizeIn() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestBuildGridAlwaysSixWeeks(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	for year := 2023; year <= 2025; year++ {
		for m := time.January; m <= time.December; m++ {
			cells := calendar.BuildGrid(year, m, now)
			if len(cells) != calendar.GridCells {
				t.Fatalf("%d-%02d: got %d cells", year, m, len(cells))
			}
			inMonth := 0
			for _, c := range cells {
				if c.InCurrentMonth {
					inMonth++
				}
			}
			if want := calendar.DaysInMonth(year, m); inMonth != want {
				t.Fatalf("%d-%02d: %d in-month cells, want %d", year, m, inMonth, want)
			}
			if cells[0].Date.Weekday() != time.Sunday {
				t.Fatalf("%d-%02d: grid starts on %s", year, m, cells[0].Date.Weekday())
			}
		}
	}
}

func TestBuildGridApril2024(t *testing.T) {
	now := time.Date(2024, 4, 10, 8, 0, 0, 0, time.UTC)
	cells := calendar.BuildGrid(2024, time.April, now)

	leading, current, trailing := 0, 0, 0
	for i, c := range cells {
		switch {
		case c.InCurrentMonth:
			current++
		case i < 7:
			leading++
		default:
			trailing++
		}
	}
	if leading != 1 || current != 30 || trailing != 11 {
		t.Fatalf("leading/current/trailing = %d/%d/%d, want 1/30/11", leading, current, trailing)
	}
	if got := calendar.Key(cells[0].Date); got != "2024-03-31" {
		t.Fatalf("first cell = %s, want 2024-03-31", got)
	}
	if got := calendar.Key(cells[41].Date); got != "2024-05-11" {
		t.Fatalf("last cell = %s, want 2024-05-11", got)
	}

	today := 0
	for _, c := range cells {
		if c.IsToday {
			today++
			if calendar.Key(c.Date) != "2024-04-10" {
				t.Fatalf("wrong today cell %s", calendar.Key(c.Date))
			}
		}
	}
	if today != 1 {
		t.Fatalf("expected exactly one today cell, got %d", today)
	}
}

func TestEntriesForDate(t *testing.T) {
	entries := []model.ScheduleEntry{
		{CourseName: "Databases", ClassDate: model.DateString("2024-03-05")},
		{CourseName: "Broken", ClassDate: model.DateString("05/03/2024")},
		{CourseName: "Other day", ClassDate: model.DateString("2024-03-06")},
		{CourseName: "Networks", ClassDate: model.DateFromParts(2024, 3, 5)},
		{CourseName: "Null date", ClassDate: model.DateLike{}},
	}
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	got := calendar.EntriesForDate(day, entries)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d: %+v", len(got), got)
	}
	if got[0].CourseName != "Databases" || got[1].CourseName != "Networks" {
		t.Fatalf("order not preserved: %s, %s", got[0].CourseName, got[1].CourseName)
	}

	ix := calendar.NewIndex(entries, time.UTC)
	fromIndex := ix.ForDate(day)
	if len(fromIndex) != 2 || fromIndex[0].CourseName != "Databases" {
		t.Fatalf("index disagrees with EntriesForDate: %+v", fromIndex)
	}
	if ix.Dropped() != 2 || ix.Len() != 3 {
		t.Fatalf("dropped/len = %d/%d, want 2/3", ix.Dropped(), ix.Len())
	}
}

func TestEntriesForDateEmptyInput(t *testing.T) {
	got := calendar.EntriesForDate(time.Now(), nil)
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}

	now := time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)
	cells := calendar.BuildGrid(2024, time.April, now)
	calendar.Populate(cells, calendar.NewIndex(nil, time.UTC))
	for _, c := range cells {
		if len(c.Entries) != 0 {
			t.Fatalf("expected empty cells, got %d entries on %s", len(c.Entries), calendar.Key(c.Date))
		}
	}
}

func TestSortByStartTimeIsStable(t *testing.T) {
	in := []model.ScheduleEntry{
		{CourseName: "late", StartTime: "14:00"},
		{CourseName: "unknown", StartTime: ""},
		{CourseName: "early-a", StartTime: "9:00"},
		{CourseName: "early-b", StartTime: "09:00"},
		{CourseName: "mid", StartTime: "10:30:00"},
	}
	got := calendar.SortByStartTime(in)

	want := []string{"early-a", "early-b", "mid", "late", "unknown"}
	for i, w := range want {
		if got[i].CourseName != w {
			t.Fatalf("position %d = %s, want %s", i, got[i].CourseName, w)
		}
	}
	if in[0].CourseName != "late" {
		t.Fatal("input slice was reordered")
	}
}
