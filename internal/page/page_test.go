package page

import (
	"math"
	"testing"
)

func TestSlice(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}

	tests := []struct {
		name    string
		page    int
		perPage int
		want    []int
	}{
		{name: "first page", page: 1, perPage: 5, want: []int{1, 2, 3, 4, 5}},
		{name: "last partial page", page: 3, perPage: 5, want: []int{11, 12}},
		{name: "past the end", page: 4, perPage: 5, want: []int{}},
		{name: "page zero", page: 0, perPage: 5, want: []int{}},
		{name: "zero page size", page: 1, perPage: 0, want: []int{}},
		{name: "page offset overflows int", page: math.MaxInt/10 + 2, perPage: 10, want: []int{}},
		{name: "max page and size", page: math.MaxInt, perPage: math.MaxInt, want: []int{}},
		{name: "size larger than items", page: 1, perPage: math.MaxInt, want: items},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Slice(items, tt.page, tt.perPage)
			if len(got) != len(tt.want) {
				t.Fatalf("Slice() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("Slice() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestSliceEmpty(t *testing.T) {
	if got := Slice([]string{}, 1, 10); len(got) != 0 {
		t.Fatalf("Slice(empty) = %v", got)
	}
}

func TestTotalAndClamp(t *testing.T) {
	if got := Total(12, 5); got != 3 {
		t.Errorf("Total(12, 5) = %d, want 3", got)
	}
	if got := Total(10, 10); got != 1 {
		t.Errorf("Total(10, 10) = %d, want 1", got)
	}
	if got := Total(0, 10); got != 0 {
		t.Errorf("Total(0, 10) = %d, want 0", got)
	}
	if got := Clamp(9, 3); got != 3 {
		t.Errorf("Clamp(9, 3) = %d, want 3", got)
	}
	if got := Clamp(-1, 3); got != 1 {
		t.Errorf("Clamp(-1, 3) = %d, want 1", got)
	}
	if got := Clamp(2, 0); got != 1 {
		t.Errorf("Clamp(2, 0) = %d, want 1", got)
	}
}
