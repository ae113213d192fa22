// Package page slices lists into fixed-size pages for table views.
package page

// Total returns the number of pages needed for n items.
func Total(n, perPage int) int {
	if n <= 0 || perPage <= 0 {
		return 0
	}
	return (n + perPage - 1) / perPage
}

// Slice returns the 1-based page of items. Pages outside [1, Total]
// yield an empty slice.
func Slice[T any](items []T, page, perPage int) []T {
	if page < 1 || perPage <= 0 || len(items) == 0 {
		return []T{}
	}
	// compare before multiplying so huge pages cannot overflow
	if page-1 > (len(items)-1)/perPage {
		return []T{}
	}
	start := (page - 1) * perPage
	end := min(start+perPage, len(items))
	return items[start:end]
}

// Clamp keeps page within [1, total]. With no pages it returns 1.
func Clamp(page, total int) int {
	if total < 1 || page < 1 {
		return 1
	}
	if page > total {
		return total
	}
	return page
}
