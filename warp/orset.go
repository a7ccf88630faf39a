package warp

import "sort"

// ORSet is an add-wins observed-remove set. An element is visible iff it
// has at least one dot that is not in tombstones. Add appends a fresh dot
// rather than replacing the element's dot set, so a concurrent add and
// remove resolve in favor of the add (the new dot was never observed by
// the remove that produced the tombstones).
type ORSet struct {
	Entries    map[string]map[Dot]struct{}
	Tombstones map[Dot]struct{}
}

// NewORSet returns an empty OR-Set ready for use.
func NewORSet() *ORSet {
	return &ORSet{
		Entries:    make(map[string]map[Dot]struct{}),
		Tombstones: make(map[Dot]struct{}),
	}
}

// Add records a fresh dot as having added element. Multiple adds of the
// same element (from concurrent writers, or the same writer retrying)
// simply accumulate dots; visibility only requires one surviving dot.
func (s *ORSet) Add(element string, dot Dot) {
	dots, ok := s.Entries[element]
	if !ok {
		dots = make(map[Dot]struct{})
		s.Entries[element] = dots
	}
	dots[dot] = struct{}{}
}

// VisibleDots returns the dots of element that are not tombstoned. The
// returned slice is freshly allocated and safe for the caller to mutate.
func (s *ORSet) VisibleDots(element string) []Dot {
	dots, ok := s.Entries[element]
	if !ok {
		return nil
	}
	out := make([]Dot, 0, len(dots))
	for d := range dots {
		if _, tomb := s.Tombstones[d]; !tomb {
			out = append(out, d)
		}
	}
	return out
}

// Contains reports whether element is currently visible.
func (s *ORSet) Contains(element string) bool {
	dots, ok := s.Entries[element]
	if !ok {
		return false
	}
	for d := range dots {
		if _, tomb := s.Tombstones[d]; !tomb {
			return true
		}
	}
	return false
}

// Remove tombstones every dot of element that is currently visible. Dots
// added concurrently by a writer unaware of this remove are untouched and
// keep the element visible, per add-wins semantics.
func (s *ORSet) Remove(element string) {
	for _, d := range s.VisibleDots(element) {
		s.Tombstones[d] = struct{}{}
	}
}

// Elements returns the currently visible elements in sorted order.
func (s *ORSet) Elements() []string {
	out := make([]string, 0, len(s.Entries))
	for e := range s.Entries {
		if s.Contains(e) {
			out = append(out, e)
		}
	}
	sort.Strings(out)
	return out
}

// Compact physically removes any tombstoned dot whose (writerId, counter)
// is dominated by vv, i.e. already reflected in an applied version vector.
// Entries left with no dots at all are dropped entirely. Compaction never
// changes visibility: a dot this conservative can only be removed once
// every writer's view already accounts for it.
func (s *ORSet) Compact(vv VersionVector) {
	for element, dots := range s.Entries {
		for d := range dots {
			if _, tomb := s.Tombstones[d]; !tomb {
				continue
			}
			if vv.Covers(d) {
				delete(dots, d)
				delete(s.Tombstones, d)
			}
		}
		if len(dots) == 0 {
			delete(s.Entries, element)
		}
	}
}

// Clone returns a deep copy of s.
func (s *ORSet) Clone() *ORSet {
	out := &ORSet{
		Entries:    make(map[string]map[Dot]struct{}, len(s.Entries)),
		Tombstones: make(map[Dot]struct{}, len(s.Tombstones)),
	}
	for e, dots := range s.Entries {
		cp := make(map[Dot]struct{}, len(dots))
		for d := range dots {
			cp[d] = struct{}{}
		}
		out.Entries[e] = cp
	}
	for d := range s.Tombstones {
		out.Tombstones[d] = struct{}{}
	}
	return out
}

// AllDots returns every dot recorded in the set, visible or tombstoned,
// used by applied-VV derivation which must account for tombstoned-but-
// still-present entries (spec: "including tombstoned entries").
func (s *ORSet) AllDots() []Dot {
	var out []Dot
	for _, dots := range s.Entries {
		for d := range dots {
			out = append(out, d)
		}
	}
	return out
}
