package warp

import "testing"

func TestORSet_AddWinsOverConcurrentRemove(t *testing.T) {
	s := NewORSet()
	d1 := Dot{WriterID: "alice", Counter: 1}
	s.Add("x", d1)

	// A remove only tombstones dots it has observed; a concurrent add
	// from a writer unaware of the remove keeps the element visible.
	s.Remove("x")
	d2 := Dot{WriterID: "bob", Counter: 1}
	s.Add("x", d2)

	if !s.Contains("x") {
		t.Errorf("expected add-wins: element visible after concurrent add+remove")
	}
}

func TestORSet_VisibilityProperty(t *testing.T) {
	// Property 8: an element is visible iff its dots are not a subset of
	// tombstones.
	s := NewORSet()
	d := Dot{WriterID: "alice", Counter: 1}
	s.Add("x", d)
	if !s.Contains("x") {
		t.Fatalf("expected visible after add")
	}
	s.Remove("x")
	if s.Contains("x") {
		t.Fatalf("expected invisible once its only dot is tombstoned")
	}
}

func TestORSet_Compact(t *testing.T) {
	s := NewORSet()
	d1 := Dot{WriterID: "alice", Counter: 1}
	d2 := Dot{WriterID: "alice", Counter: 2}
	s.Add("x", d1)
	s.Add("x", d2)
	s.Remove("x")

	vv := VersionVector{"alice": 1}
	s.Compact(vv)

	if _, tomb := s.Tombstones[d1]; tomb {
		t.Errorf("expected d1 (counter 1) compacted away under vv covering counter 1")
	}
	if _, tomb := s.Tombstones[d2]; !tomb {
		t.Errorf("expected d2 (counter 2) to remain tombstoned, not covered by vv")
	}
}

func TestORSet_Elements_SortedAndVisibleOnly(t *testing.T) {
	s := NewORSet()
	s.Add("b", Dot{WriterID: "w", Counter: 1})
	s.Add("a", Dot{WriterID: "w", Counter: 2})
	s.Add("c", Dot{WriterID: "w", Counter: 3})
	s.Remove("c")

	got := s.Elements()
	want := []string{"a", "b"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
			break
		}
	}
}

func TestORSet_Clone_Independent(t *testing.T) {
	s := NewORSet()
	s.Add("x", Dot{WriterID: "w", Counter: 1})
	clone := s.Clone()
	clone.Add("y", Dot{WriterID: "w", Counter: 2})

	if s.Contains("y") {
		t.Errorf("expected mutation of clone not to affect original")
	}
}
