package format

import (
	"testing"
)

func TestPaginate(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e", "f", "g"}

	tests := []struct {
		name      string
		pageSize  int
		pageIndex int
		wantItems []string
		wantIndex int
		wantCount int
		wantPrev  bool
		wantNext  bool
	}{
		{
			name:      "first page",
			pageSize:  3,
			pageIndex: 0,
			wantItems: []string{"a", "b", "c"},
			wantIndex: 0,
			wantCount: 3,
			wantPrev:  false,
			wantNext:  true,
		},
		{
			name:      "middle page",
			pageSize:  3,
			pageIndex: 1,
			wantItems: []string{"d", "e", "f"},
			wantIndex: 1,
			wantCount: 3,
			wantPrev:  true,
			wantNext:  true,
		},
		{
			name:      "short last page",
			pageSize:  3,
			pageIndex: 2,
			wantItems: []string{"g"},
			wantIndex: 2,
			wantCount: 3,
			wantPrev:  true,
			wantNext:  false,
		},
		{
			name:      "index past the end clamps to last page",
			pageSize:  3,
			pageIndex: 99,
			wantItems: []string{"g"},
			wantIndex: 2,
			wantCount: 3,
			wantPrev:  true,
			wantNext:  false,
		},
		{
			name:      "negative index clamps to first page",
			pageSize:  3,
			pageIndex: -5,
			wantItems: []string{"a", "b", "c"},
			wantIndex: 0,
			wantCount: 3,
			wantPrev:  false,
			wantNext:  true,
		},
		{
			name:      "page size larger than list",
			pageSize:  20,
			pageIndex: 0,
			wantItems: []string{"a", "b", "c", "d", "e", "f", "g"},
			wantIndex: 0,
			wantCount: 1,
			wantPrev:  false,
			wantNext:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := Paginate(items, tt.pageSize, tt.pageIndex)
			if len(page.Items) != len(tt.wantItems) {
				t.Fatalf("items = %v, want %v", page.Items, tt.wantItems)
			}
			for i := range page.Items {
				if page.Items[i] != tt.wantItems[i] {
					t.Fatalf("items = %v, want %v", page.Items, tt.wantItems)
				}
			}
			if page.Index != tt.wantIndex {
				t.Errorf("index = %d, want %d", page.Index, tt.wantIndex)
			}
			if page.Count != tt.wantCount {
				t.Errorf("count = %d, want %d", page.Count, tt.wantCount)
			}
			if page.HasPrev != tt.wantPrev {
				t.Errorf("hasPrev = %v, want %v", page.HasPrev, tt.wantPrev)
			}
			if page.HasNext != tt.wantNext {
				t.Errorf("hasNext = %v, want %v", page.HasNext, tt.wantNext)
			}
		})
	}
}

func TestPaginateEmptyList(t *testing.T) {
	page := Paginate([]int(nil), 5, 3)
	if len(page.Items) != 0 {
		t.Errorf("items = %v, want empty", page.Items)
	}
	if page.Index != 0 || page.Count != 1 {
		t.Errorf("index/count = %d/%d, want 0/1", page.Index, page.Count)
	}
	if page.HasPrev || page.HasNext {
		t.Error("empty list must have no neighbours")
	}
}

func TestPaginateStableAcrossCalls(t *testing.T) {
	// The same inputs must always yield the same window; callback tokens
	// carry only the page index.
	items := make([]int, 25)
	for i := range items {
		items[i] = i
	}
	first := Paginate(items, 6, 2)
	second := Paginate(items, 6, 2)
	if len(first.Items) != len(second.Items) || first.Items[0] != second.Items[0] {
		t.Error("pagination is not deterministic")
	}
}
