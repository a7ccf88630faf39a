// Package warp implements a multi-writer, event-sourced graph database
// layered on top of a content-addressed object store. Writers append
// patches describing mutations; a CRDT reducer folds an ordered patch
// sequence into graph state, and a bitmap index accelerates neighbor
// lookups over the resulting adjacency.
package warp

// OID is an opaque content identifier for an object in the backing
// store: a 40 hex-character string. Equality is byte equality.
type OID string

// Empty reports whether the OID is the zero value (no object).
func (o OID) Empty() bool { return o == "" }

func (o OID) String() string { return string(o) }
