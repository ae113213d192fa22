package calendar

import (
	"fmt"
	"regexp"
	"time"

	"portalcal/internal/model"
)

// KeyLayout is the canonical date key layout.
const KeyLayout = "2006-01-02"

// localDateTimeLayout is how the portal serializes zone-less timestamps.
const localDateTimeLayout = "2006-01-02T15:04:05"

var keyPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Normalize reduces d to its canonical YYYY-MM-DD key, reading instants
// in time.Local. ok is false when d cannot name a calendar day.
func Normalize(d model.DateLike) (key string, ok bool) {
	return NormalizeIn(d, time.Local)
}

// NormalizeIn is Normalize with an explicit location for instants. The
// calendar date of an instant is taken in loc, never in UTC, so a class
// at 00:30 local time lands on the local day.
func NormalizeIn(d model.DateLike, loc *time.Location) (string, bool) {
	if loc == nil {
		loc = time.Local
	}

	switch d.Kind() {
	case model.DateKindString:
		s, _ := d.Str()
		return normalizeString(s, loc)
	case model.DateKindParts:
		p, _ := d.Parts()
		return normalizeParts(p)
	case model.DateKindTime:
		t, _ := d.Time()
		if t.IsZero() {
			return "", false
		}
		return Key(t.In(loc)), true
	default:
		return "", false
	}
}

func normalizeString(s string, loc *time.Location) (string, bool) {
	if keyPattern.MatchString(s) {
		if _, err := time.Parse(KeyLayout, s); err != nil {
			return "", false
		}
		return s, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return Key(t.In(loc)), true
	}
	if t, err := time.ParseInLocation(localDateTimeLayout, s, loc); err == nil {
		return Key(t), true
	}
	return "", false
}

func normalizeParts(p model.DateParts) (string, bool) {
	if p.Year < 1 || p.Year > 9999 || p.Month < 1 || p.Month > 12 || p.Day < 1 || p.Day > 31 {
		return "", false
	}
	// Reject dates time.Date would roll over, e.g. February 30.
	t := time.Date(p.Year, time.Month(p.Month), p.Day, 0, 0, 0, 0, time.UTC)
	if t.Day() != p.Day {
		return "", false
	}
	return fmt.Sprintf("%04d-%02d-%02d", p.Year, p.Month, p.Day), true
}

// Key formats t's calendar date in t's own location.
func Key(t time.Time) string {
	return t.Format(KeyLayout)
}

// ParseKey parses a canonical key into midnight of that day in loc.
func ParseKey(key string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	if !keyPattern.MatchString(key) {
		return time.Time{}, fmt.Errorf("calendar: %q is not a YYYY-MM-DD date", key)
	}
	t, err := time.ParseInLocation(KeyLayout, key, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("calendar: parse %q: %w", key, err)
	}
	return t, nil
}

// startOfDay returns midnight of t's calendar date in t's location.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
