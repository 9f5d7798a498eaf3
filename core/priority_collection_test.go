package core_test

import (
	"testing"

	core "github.com/go-powerpool/powerpool/core"
)

func drainIDs(t *testing.T, c core.PriorityCollection) []string {
	t.Helper()
	var ids []string
	for {
		w, ok := c.Get()
		if !ok {
			break
		}
		ids = append(ids, w.ID)
	}
	return ids
}

// TestPriorityQueueCollection_HigherPriorityFirstFIFOAmongEquals verifies
// that the queue variant returns items in descending priority order and
// FIFO among equal priorities.
func TestPriorityQueueCollection_HigherPriorityFirstFIFOAmongEquals(t *testing.T) {
	c := core.NewPriorityQueueCollection()

	submit := []struct {
		id       string
		priority int
	}{
		{"a", 0}, {"b", 1}, {"c", 2}, {"d", 0}, {"e", 1}, {"f", 2},
	}
	for _, s := range submit {
		c.Set(&core.Work{ID: s.id}, s.priority)
	}

	got := drainIDs(t, c)
	want := []string{"c", "f", "b", "e", "a", "d"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: got %v, want %v", i, got, want)
		}
	}
}

// TestPriorityStackCollection_HigherPriorityFirstLIFOAmongEquals verifies
// the stack variant's LIFO tie-break among equal priorities.
func TestPriorityStackCollection_HigherPriorityFirstLIFOAmongEquals(t *testing.T) {
	c := core.NewPriorityStackCollection()

	submit := []struct {
		id       string
		priority int
	}{
		{"a", 0}, {"b", 1}, {"c", 2}, {"d", 0}, {"e", 1}, {"f", 2},
	}
	for _, s := range submit {
		c.Set(&core.Work{ID: s.id}, s.priority)
	}

	got := drainIDs(t, c)
	want := []string{"f", "c", "e", "b", "d", "a"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: got %v, want %v", i, got, want)
		}
	}
}

// TestPriorityCollection_EmptyGetReturnsFalse verifies Get on an empty
// collection reports absence instead of a zero-value work.
func TestPriorityCollection_EmptyGetReturnsFalse(t *testing.T) {
	c := core.NewPriorityQueueCollection()
	if !c.IsEmpty() {
		t.Fatal("new collection should be empty")
	}
	if _, ok := c.Get(); ok {
		t.Fatal("Get on empty collection should return ok=false")
	}
}

// TestPriorityCollection_ClearRemovesEverything verifies Clear resets both
// the heap and the length counters.
func TestPriorityCollection_ClearRemovesEverything(t *testing.T) {
	c := core.NewPriorityQueueCollection()
	c.Set(&core.Work{ID: "a"}, 0)
	c.Set(&core.Work{ID: "b"}, 1)

	c.Clear()

	if !c.IsEmpty() || c.Len() != 0 {
		t.Fatalf("Clear left Len=%d IsEmpty=%v", c.Len(), c.IsEmpty())
	}
}
