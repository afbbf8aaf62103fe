package format

// Page is one window into a larger list, plus whether neighbours exist.
type Page[T any] struct {
	Items   []T
	Index   int
	Count   int // total number of pages
	HasPrev bool
	HasNext bool
}

// Paginate slices items deterministically. pageIndex is clamped to the
// valid range rather than erroring; an empty list yields a single empty
// page.
func Paginate[T any](items []T, pageSize, pageIndex int) Page[T] {
	if pageSize <= 0 {
		pageSize = 1
	}
	count := (len(items) + pageSize - 1) / pageSize
	if count == 0 {
		count = 1
	}
	if pageIndex < 0 {
		pageIndex = 0
	}
	if pageIndex > count-1 {
		pageIndex = count - 1
	}

	start := pageIndex * pageSize
	end := start + pageSize
	if start > len(items) {
		start = len(items)
	}
	if end > len(items) {
		end = len(items)
	}

	return Page[T]{
		Items:   items[start:end],
		Index:   pageIndex,
		Count:   count,
		HasPrev: pageIndex > 0,
		HasNext: pageIndex < count-1,
	}
}
