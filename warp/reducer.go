package warp

// PatchRecord pairs a patch with the content hash of the object it was
// read from. The hash feeds both the op-level EventID and edge-birth
// tie-breaking; it is never recomputed by the reducer, since the patch
// arrived from a content-addressed store and its hash is already known.
type PatchRecord struct {
	Patch Patch
	Sha   OID
}

// ReceiptStatus classifies what happened when one op was applied.
type ReceiptStatus string

const (
	ReceiptApplied    ReceiptStatus = "applied"
	ReceiptSuperseded ReceiptStatus = "superseded"
	ReceiptRedundant  ReceiptStatus = "redundant"
)

// Receipt reports the outcome of applying a single op, keyed by its
// position within the patch stream. Receipts are optional: most callers
// only want the resulting State.
type Receipt struct {
	PatchSha OID
	OpIndex  uint32
	Status   ReceiptStatus
}

// Reduce is the JoinReducer: a pure, I/O-free fold from an ordered
// sequence of (patch, patchSha) pairs plus an optional seed state to a new
// state. Determinism depends entirely on patches being presented in the
// total order (lamport asc, writerId asc, patchSha asc, opIndex asc); the
// reducer itself holds no ambient state and never reorders its input.
//
// Reduce does not mutate seed; it clones before applying any patch.
func Reduce(seed *State, patches []PatchRecord) *State {
	state, _ := reduce(seed, patches, false)
	return state
}

// ReduceWithReceipts behaves like Reduce but also returns one Receipt per
// op across every accepted patch, in the order ops were applied. Ops
// belonging to a skipped (already-observed) patch produce no receipts.
func ReduceWithReceipts(seed *State, patches []PatchRecord) (*State, []Receipt) {
	return reduce(seed, patches, true)
}

func reduce(seed *State, patches []PatchRecord, wantReceipts bool) (*State, []Receipt) {
	state := seed
	if state == nil {
		state = NewState()
	} else {
		state = state.Clone()
	}

	var receipts []Receipt
	for _, rec := range patches {
		p := rec.Patch

		// Idempotency: a patch already folded in for this writer is
		// skipped outright, ops and all.
		if state.ObservedFrontier.Covers(Dot{WriterID: p.WriterID, Counter: p.Lamport}) {
			continue
		}

		dot := Dot{WriterID: p.WriterID, Counter: p.Lamport}

		for i, op := range p.Ops {
			eventID := EventID{
				Lamport:  p.Lamport,
				WriterID: p.WriterID,
				PatchSha: rec.Sha,
				OpIndex:  uint32(i),
			}
			status := applyOp(state, op, dot, eventID)
			if wantReceipts {
				receipts = append(receipts, Receipt{PatchSha: rec.Sha, OpIndex: uint32(i), Status: status})
			}
		}

		state.ObservedFrontier.Set(p.WriterID, p.Lamport)
	}

	return state, receipts
}

// applyOp mutates state in place for a single op and reports its receipt
// status. dot is shared by every mutating op within the same patch (all
// counted against the same writer counter, the patch's lamport value);
// eventID is unique per op.
func applyOp(state *State, op Op, dot Dot, eventID EventID) ReceiptStatus {
	switch op.Kind {
	case OpNodeAdd:
		alreadyVisible := state.NodeAlive.Contains(op.Node)
		state.NodeAlive.Add(op.Node, dot)
		if alreadyVisible {
			return ReceiptRedundant
		}
		return ReceiptApplied

	case OpNodeTombstone:
		if !state.NodeAlive.Contains(op.Node) {
			return ReceiptRedundant
		}
		state.NodeAlive.Remove(op.Node)
		return ReceiptApplied

	case OpEdgeAdd:
		key := EdgeKey(op.From, op.To, op.Label)
		alreadyVisible := state.EdgeAlive.Contains(key)
		state.EdgeAlive.Add(key, dot)
		if incumbent, ok := state.EdgeBirthEvent[key]; !ok || eventID.Less(incumbent) {
			state.EdgeBirthEvent[key] = eventID
		}
		if alreadyVisible {
			return ReceiptRedundant
		}
		return ReceiptApplied

	case OpEdgeTombstone:
		key := EdgeKey(op.From, op.To, op.Label)
		if !state.EdgeAlive.Contains(key) {
			return ReceiptRedundant
		}
		state.EdgeAlive.Remove(key)
		// edgeBirthEvent is left in place: it records when the edge was
		// first ever added, which a later tombstone does not erase.
		return ReceiptApplied

	case OpPropSet, OpBlobValue:
		key := op.targetKey()
		reg := state.Prop[key]
		if reg.Write(eventID, op.Value) {
			state.Prop[key] = reg
			return ReceiptApplied
		}
		return ReceiptSuperseded

	default:
		return ReceiptRedundant
	}
}
