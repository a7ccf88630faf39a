package warp

import "sort"

// State is WARP state v5: the materialized view a graph handle caches
// between patches. It is never mutated by readers directly; only the
// reducer (via Reduce) and Compact (via GC) change it.
type State struct {
	NodeAlive        *ORSet
	EdgeAlive        *ORSet
	Prop             map[string]LWWRegister
	ObservedFrontier VersionVector
	EdgeBirthEvent   map[string]EventID
}

// NewState returns an empty v5 state.
func NewState() *State {
	return &State{
		NodeAlive:        NewORSet(),
		EdgeAlive:        NewORSet(),
		Prop:             make(map[string]LWWRegister),
		ObservedFrontier: make(VersionVector),
		EdgeBirthEvent:   make(map[string]EventID),
	}
}

// Clone returns a deep copy of s, used when the reducer must not mutate
// the caller's seed state (e.g. speculative materializeAt branches).
func (s *State) Clone() *State {
	out := &State{
		NodeAlive:        s.NodeAlive.Clone(),
		EdgeAlive:        s.EdgeAlive.Clone(),
		Prop:             make(map[string]LWWRegister, len(s.Prop)),
		ObservedFrontier: s.ObservedFrontier.Clone(),
		EdgeBirthEvent:   make(map[string]EventID, len(s.EdgeBirthEvent)),
	}
	for k, v := range s.Prop {
		out.Prop[k] = v.Clone()
	}
	for k, v := range s.EdgeBirthEvent {
		out.EdgeBirthEvent[k] = v
	}
	return out
}

// AppliedVV derives the version vector of operations applied to s,
// distinct from ObservedFrontier (a per-patch watermark) and from the
// visible projection. Every dot recorded in NodeAlive or EdgeAlive,
// including ones now tombstoned, counts: the applied VV reflects what has
// been applied, not what is visible.
func (s *State) AppliedVV() VersionVector {
	vv := make(VersionVector)
	for _, d := range s.NodeAlive.AllDots() {
		vv.Set(d.WriterID, d.Counter)
	}
	for _, d := range s.EdgeAlive.AllDots() {
		vv.Set(d.WriterID, d.Counter)
	}
	return vv
}

// Node is a live node in the visible projection.
type Node struct {
	ID string
}

// Edge is a live directed labeled edge in the visible projection.
type Edge struct {
	From, To, Label string
}

// PropEntry is one visible property in the visible projection.
type PropEntry struct {
	Key   string
	Value []byte
}

// VisibleProjection is the derived {nodes[], edges[], props[]} view
// consumed by queries. It is cacheable but never authoritative for
// resume — state.cbor is.
type VisibleProjection struct {
	Nodes []Node
	Edges []Edge
	Props []PropEntry
}

// Visible derives the projection from s: visible nodes, edges whose
// endpoints are both visible nodes (an invariant the reducer maintains
// but a caller-supplied state can't be trusted to), and every currently
// set property. Props are sorted by key so the projection — and any hash
// computed over it — is reproducible regardless of map iteration order.
func (s *State) Visible() VisibleProjection {
	nodeIDs := s.NodeAlive.Elements()
	nodeSet := make(map[string]struct{}, len(nodeIDs))
	nodes := make([]Node, len(nodeIDs))
	for i, id := range nodeIDs {
		nodes[i] = Node{ID: id}
		nodeSet[id] = struct{}{}
	}

	var edges []Edge
	for _, key := range s.EdgeAlive.Elements() {
		from, to, label, ok := SplitEdgeKey(key)
		if !ok {
			continue
		}
		_, fromLive := nodeSet[from]
		_, toLive := nodeSet[to]
		if fromLive && toLive {
			edges = append(edges, Edge{From: from, To: to, Label: label})
		}
	}

	var props []PropEntry
	for key, reg := range s.Prop {
		if reg.Value == nil {
			continue
		}
		if IsEdgePropKey(key) {
			from, to, label, _, ok := splitEdgePropKey(key)
			if !ok {
				continue
			}
			ek := EdgeKey(from, to, label)
			if !s.EdgeAlive.Contains(ek) {
				continue
			}
			if _, fromLive := nodeSet[from]; !fromLive {
				continue
			}
			if _, toLive := nodeSet[to]; !toLive {
				continue
			}
		}
		props = append(props, PropEntry{Key: key, Value: reg.Value})
	}
	sort.Slice(props, func(i, j int) bool { return props[i].Key < props[j].Key })

	return VisibleProjection{Nodes: nodes, Edges: edges, Props: props}
}
