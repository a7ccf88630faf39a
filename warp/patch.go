package warp

import "fmt"

// PatchSchema is the only schema version this engine writes. Patch.Validate
// rejects any other schema, legacy schema 1 included, with
// ErrUnsupportedSchema; migrating schema-1 history is out of scope.
const PatchSchema = 2

// OpKind discriminates the tagged Op variants carried by a Patch. Ops
// carry only payload, never dots: the reducer assigns dots deterministically
// as it consumes the patch (see reducer.go), so the wire format never needs
// to represent a Dot or EventID.
type OpKind string

const (
	OpNodeAdd       OpKind = "NodeAdd"
	OpNodeTombstone OpKind = "NodeTombstone"
	OpEdgeAdd       OpKind = "EdgeAdd"
	OpEdgeTombstone OpKind = "EdgeTombstone"
	OpPropSet       OpKind = "PropSet"
	OpBlobValue     OpKind = "BlobValue"
)

// Op is one mutating operation inside a Patch. Exactly one of the payload
// fields is populated, selected by Kind; this is a tagged struct rather
// than an interface because ops need symmetric CBOR/JSON encode/decode
// without registering a type registry, and the field set per kind is
// small and fixed.
type Op struct {
	Kind OpKind `cbor:"kind"`

	// NodeAdd / NodeTombstone payload.
	Node string `cbor:"node,omitempty"`

	// EdgeAdd / EdgeTombstone payload.
	From  string `cbor:"from,omitempty"`
	To    string `cbor:"to,omitempty"`
	Label string `cbor:"label,omitempty"`

	// PropSet / BlobValue payload. The target is Node (node property) or
	// the edge named by From/To/Label (edge property); targetKey tells them
	// apart by whether From or To is set on this op.
	PropKey string `cbor:"propKey,omitempty"`
	Value   []byte `cbor:"value,omitempty"`
}

// Validate reports whether op carries the payload its Kind requires.
// Payload fields that the Kind does not use are not rejected. A patch
// containing an invalid op is rejected before it ever reaches the reducer.
func (op Op) Validate() error {
	switch op.Kind {
	case OpNodeAdd, OpNodeTombstone:
		if op.Node == "" {
			return fmt.Errorf("%w: %s requires node", ErrInvalidOp, op.Kind)
		}
	case OpEdgeAdd, OpEdgeTombstone:
		if op.From == "" || op.To == "" || op.Label == "" {
			return fmt.Errorf("%w: %s requires from/to/label", ErrInvalidOp, op.Kind)
		}
	case OpPropSet, OpBlobValue:
		if op.PropKey == "" {
			return fmt.Errorf("%w: %s requires propKey", ErrInvalidOp, op.Kind)
		}
		if op.From == "" && op.To == "" && op.Label != "" {
			return fmt.Errorf("%w: %s has label without from/to", ErrInvalidOp, op.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown op kind %q", ErrInvalidOp, op.Kind)
	}
	return nil
}

// targetKey returns the prop-map key this op's value is written under. Only
// meaningful for OpPropSet and OpBlobValue.
func (op Op) targetKey() string {
	if op.From != "" || op.To != "" {
		return EdgePropKey(op.From, op.To, op.Label, op.PropKey)
	}
	return NodePropKey(op.Node, op.PropKey)
}

// Patch is the unit a writer appends: an ordered batch of ops stamped with
// a writer-assigned lamport timestamp and the parent tips it was built
// against. ParentTips is carried for provenance and conflict diagnostics;
// the reducer's ordering decision uses only Lamport/WriterID/PatchSha/
// OpIndex, never ParentTips.
type Patch struct {
	Schema     int               `cbor:"schema"`
	WriterID   string            `cbor:"writerId"`
	Lamport    uint64            `cbor:"lamport"`
	ParentTips map[string]OID    `cbor:"parentTips,omitempty"`
	Ops        []Op              `cbor:"ops"`
	Reads      map[string]string `cbor:"reads,omitempty"`
	Writes     map[string]string `cbor:"writes,omitempty"`
}

// Validate checks schema and op-level validity. It does not check
// idempotency against any observed frontier; that is the reducer's job.
func (p Patch) Validate() error {
	if p.Schema != PatchSchema {
		return fmt.Errorf("%w: got schema %d", ErrUnsupportedSchema, p.Schema)
	}
	if p.WriterID == "" {
		return fmt.Errorf("%w: empty writerId", ErrInvalidPatch)
	}
	if len(p.Ops) == 0 {
		return ErrEmptyPatch
	}
	for i, op := range p.Ops {
		if err := op.Validate(); err != nil {
			return fmt.Errorf("op[%d]: %w", i, err)
		}
	}
	return nil
}
