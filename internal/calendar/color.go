// Package calendar turns a flat list of schedule entries into a navigable
// month grid: it normalizes heterogeneous class dates to YYYY-MM-DD keys,
// builds fixed 42-cell month grids, buckets entries per day, tracks the
// displayed month and open popup, and assigns each course a stable color.
//
// Everything here is pure in-memory computation. Callers own fetching and
// rendering.
package calendar

import "unicode/utf16"

// Color is a palette slot used to tint a course's entries.
type Color struct {
	Name string `json:"name" yaml:"name"`
	Hex  string `json:"hex" yaml:"hex" validate:"required,hexcolor"`
}

// Palette is the default ordered course palette. Changing the order or
// length reassigns every course's color.
var Palette = []Color{
	{Name: "blue", Hex: "#3b82f6"},
	{Name: "emerald", Hex: "#10b981"},
	{Name: "amber", Hex: "#f59e0b"},
	{Name: "rose", Hex: "#f43f5e"},
	{Name: "violet", Hex: "#8b5cf6"},
	{Name: "cyan", Hex: "#06b6d4"},
	{Name: "orange", Hex: "#f97316"},
	{Name: "lime", Hex: "#84cc16"},
	{Name: "pink", Hex: "#ec4899"},
	{Name: "teal", Hex: "#14b8a6"},
	{Name: "indigo", Hex: "#6366f1"},
	{Name: "slate", Hex: "#64748b"},
}

// ColorFor returns the default palette color for a course name.
func ColorFor(courseName string) Color {
	return ColorFrom(Palette, courseName)
}

// ColorFrom picks a color for courseName from p. An empty palette yields
// the zero Color.
func ColorFrom(p []Color, courseName string) Color {
	if len(p) == 0 {
		return Color{}
	}
	return p[PaletteIndex(courseName, len(p))]
}

// PaletteIndex maps name into [0, size) using the 31-multiplier string
// hash over UTF-16 code units with 32-bit wrap-around, so browser and
// server agree on the color of a course.
func PaletteIndex(name string, size int) int {
	if size <= 0 {
		return 0
	}
	h := int64(stringHash(name))
	if h < 0 {
		h = -h
	}
	return int(h % int64(size))
}

func stringHash(s string) int32 {
	var h int32
	for _, u := range utf16.Encode([]rune(s)) {
		h = h*31 + int32(u)
	}
	return h
}
