package model

import (
	"bytes"
	"encoding/json"
	"time"
)

// DateKind tags which representation a DateLike carries.
type DateKind int

const (
	// DateInvalid marks a value that could not be decoded at all
	// (null, boolean, malformed object, ...).
	DateInvalid DateKind = iota
	DateKindString
	DateKindParts
	DateKindTime
)

func (k DateKind) String() string {
	switch k {
	case DateKindString:
		return "string"
	case DateKindParts:
		return "parts"
	case DateKindTime:
		return "time"
	default:
		return "invalid"
	}
}

// DateParts is a civil date given as separate fields. Month is 1-12.
type DateParts struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`
}

// DateLike is the union of date shapes the portal API is known to send
// for classDate / attendanceDate: a "YYYY-MM-DD" string, a
// {year,month,day} object, or a point in time. Exactly one
// representation is set, as reported by Kind.
//
// The zero value is DateInvalid.
type DateLike struct {
	kind  DateKind
	str   string
	parts DateParts
	t     time.Time
}

// DateString wraps a string date such as "2024-03-05".
func DateString(s string) DateLike {
	return DateLike{kind: DateKindString, str: s}
}

// DateFromParts wraps a civil date. month is 1-12.
func DateFromParts(year, month, day int) DateLike {
	return DateLike{kind: DateKindParts, parts: DateParts{Year: year, Month: month, Day: day}}
}

// DateTime wraps a point in time; its calendar day depends on the
// location it is viewed in.
func DateTime(t time.Time) DateLike {
	return DateLike{kind: DateKindTime, t: t}
}

func (d DateLike) Kind() DateKind { return d.kind }

// Str returns the raw string for DateKindString values.
func (d DateLike) Str() (string, bool) {
	return d.str, d.kind == DateKindString
}

// Parts returns the fields for DateKindParts values.
func (d DateLike) Parts() (DateParts, bool) {
	return d.parts, d.kind == DateKindParts
}

// Time returns the instant for DateKindTime values.
func (d DateLike) Time() (time.Time, bool) {
	return d.t, d.kind == DateKindTime
}

// UnmarshalJSON accepts every shape the API has been seen to produce:
//
//	"2024-03-05"                      string
//	{"year":2024,"month":3,"day":5}   object
//	[2024,3,5]                        array (Jackson LocalDate default)
//	1709596800000                     epoch milliseconds
//
// Anything else decodes to DateInvalid without an error so a single bad
// record never fails a whole list.
func (d *DateLike) UnmarshalJSON(data []byte) error {
	*d = DateLike{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		*d = DateString(s)
	case '{':
		var raw struct {
			Year  *int `json:"year"`
			Month *int `json:"month"`
			Day   *int `json:"day"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil
		}
		if raw.Year == nil || raw.Month == nil || raw.Day == nil {
			return nil
		}
		*d = DateFromParts(*raw.Year, *raw.Month, *raw.Day)
	case '[':
		var arr []int
		if err := json.Unmarshal(data, &arr); err != nil || len(arr) < 3 {
			return nil
		}
		*d = DateFromParts(arr[0], arr[1], arr[2])
	default:
		var ms int64
		if err := json.Unmarshal(data, &ms); err != nil {
			return nil
		}
		*d = DateTime(time.UnixMilli(ms))
	}
	return nil
}

// MarshalJSON writes strings and parts back in their original shape and
// instants as RFC 3339.
func (d DateLike) MarshalJSON() ([]byte, error) {
	switch d.kind {
	case DateKindString:
		return json.Marshal(d.str)
	case DateKindParts:
		return json.Marshal(d.parts)
	case DateKindTime:
		return json.Marshal(d.t.Format(time.RFC3339))
	default:
		return []byte("null"), nil
	}
}
