package ids

import (
	"sort"
	"testing"
)

func TestNewIsUniqueAndSortable(t *testing.T) {
	const n = 1000
	seen := make(map[string]bool, n)
	generated := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := New()
		if len(id) != 26 {
			t.Fatalf("unexpected id length: %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id: %s", id)
		}
		seen[id] = true
		generated = append(generated, id)
	}
	// Monotonic entropy keeps ids ordered within the same process.
	if !sort.StringsAreSorted(generated) {
		t.Fatalf("expected ids to sort by generation order")
	}
}
