package warp

// EventID totally orders every mutating operation across every writer. Its
// lexicographic order on (Lamport, WriterID, PatchSha, OpIndex) is what
// lets the reducer be invoked with patches in any order consistent with
// causality and still reach the same state (see reducer.go).
type EventID struct {
	Lamport  uint64
	WriterID string
	PatchSha OID
	OpIndex  uint32
}

// Less implements the total order required by LWW and edge-birth
// resolution: lamport first, then writerId, then patch hash, then op
// index within the patch.
func (e EventID) Less(other EventID) bool {
	if e.Lamport != other.Lamport {
		return e.Lamport < other.Lamport
	}
	if e.WriterID != other.WriterID {
		return e.WriterID < other.WriterID
	}
	if e.PatchSha != other.PatchSha {
		return e.PatchSha < other.PatchSha
	}
	return e.OpIndex < other.OpIndex
}

// legacyWriterID and legacyPatchSha are the sentinel values synthesized by
// deserializeFullState for pre-v5 edge-birth entries that only recorded a
// bare lamport timestamp. They must never be treated as real writers when
// computing applied version vectors or checkpoints.
const (
	legacyWriterID = ""
	legacyPatchSha = OID("0000")
)

// LegacyEventID synthesizes an EventID for a bare-lamport edge-birth entry
// carried over from an older full-state encoding.
func LegacyEventID(lamport uint64) EventID {
	return EventID{Lamport: lamport, WriterID: legacyWriterID, PatchSha: legacyPatchSha}
}

// IsLegacySentinel reports whether e was synthesized by LegacyEventID
// rather than recorded by a real patch.
func (e EventID) IsLegacySentinel() bool {
	return e.WriterID == legacyWriterID && e.PatchSha == legacyPatchSha
}
