// Package checkpoint implements the CBOR checkpoint format and the
// checkpoint service (spec §4.2): serializing/deserializing a WARP
// State, deriving the applied version vector, and committing/loading
// checkpoints through a storage port.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"github.com/git-warp/warp"
)

// FullStateVersion is the version tag carried by a serialized state blob.
const FullStateVersion = "full-v5"

type dotCBOR struct {
	WriterID string `cbor:"w"`
	Counter  uint64 `cbor:"c"`
}

func toDotCBOR(d warp.Dot) dotCBOR  { return dotCBOR{WriterID: d.WriterID, Counter: d.Counter} }
func fromDotCBOR(d dotCBOR) warp.Dot { return warp.Dot{WriterID: d.WriterID, Counter: d.Counter} }

type orsetCBOR struct {
	// Entries maps element to its sorted set of dots.
	Entries    map[string][]dotCBOR `cbor:"entries"`
	Tombstones []dotCBOR            `cbor:"tombstones"`
}

type eventIDCBOR struct {
	Lamport  uint64   `cbor:"l"`
	WriterID string   `cbor:"w"`
	PatchSha warp.OID `cbor:"p"`
	OpIndex  uint32   `cbor:"i"`
}

func toEventIDCBOR(e warp.EventID) eventIDCBOR {
	return eventIDCBOR{Lamport: e.Lamport, WriterID: e.WriterID, PatchSha: e.PatchSha, OpIndex: e.OpIndex}
}

func fromEventIDCBOR(e eventIDCBOR) warp.EventID {
	return warp.EventID{Lamport: e.Lamport, WriterID: e.WriterID, PatchSha: e.PatchSha, OpIndex: e.OpIndex}
}

type propEntryCBOR struct {
	Key     string      `cbor:"key"`
	EventID eventIDCBOR `cbor:"event"`
	Value   []byte      `cbor:"value"`
}

type edgeBirthCBOR struct {
	Key     string      `cbor:"key"`
	EventID eventIDCBOR `cbor:"event"`
}

type fullStateCBOR struct {
	Version          string            `cbor:"version"`
	NodeAlive        orsetCBOR         `cbor:"nodeAlive"`
	EdgeAlive        orsetCBOR         `cbor:"edgeAlive"`
	Props            []propEntryCBOR   `cbor:"props"`
	EdgeBirth        []edgeBirthCBOR   `cbor:"edgeBirth"`
	ObservedFrontier map[string]uint64 `cbor:"observedFrontier,omitempty"`
}

func toORSetCBOR(os *warp.ORSet) orsetCBOR {
	entries := make(map[string][]dotCBOR, len(os.Entries))
	for element, dots := range os.Entries {
		list := make([]dotCBOR, 0, len(dots))
		for d := range dots {
			list = append(list, toDotCBOR(d))
		}
		sort.Slice(list, func(i, j int) bool {
			if list[i].WriterID != list[j].WriterID {
				return list[i].WriterID < list[j].WriterID
			}
			return list[i].Counter < list[j].Counter
		})
		entries[element] = list
	}
	tombstones := make([]dotCBOR, 0, len(os.Tombstones))
	for d := range os.Tombstones {
		tombstones = append(tombstones, toDotCBOR(d))
	}
	sort.Slice(tombstones, func(i, j int) bool {
		if tombstones[i].WriterID != tombstones[j].WriterID {
			return tombstones[i].WriterID < tombstones[j].WriterID
		}
		return tombstones[i].Counter < tombstones[j].Counter
	})
	return orsetCBOR{Entries: entries, Tombstones: tombstones}
}

func fromORSetCBOR(o orsetCBOR) *warp.ORSet {
	os := warp.NewORSet()
	for element, dots := range o.Entries {
		m := make(map[warp.Dot]struct{}, len(dots))
		for _, d := range dots {
			m[fromDotCBOR(d)] = struct{}{}
		}
		os.Entries[element] = m
	}
	for _, d := range o.Tombstones {
		os.Tombstones[fromDotCBOR(d)] = struct{}{}
	}
	return os
}

// legacyEdgeBirthEntry is the shape of historical checkpoints that stored a bare
// lamport integer instead of a structured EventId for edge-birth entries.
type legacyEdgeBirthEntry struct {
	Key     string `cbor:"key"`
	Lamport uint64 `cbor:"lamport"`
}

// SerializeFullState emits the CBOR-encoded state.cbor contents: version
// tag "full-v5" plus explicitly sorted arrays (props, edge-birth) so
// re-serialization is deterministic byte-for-byte.
func SerializeFullState(s *warp.State) ([]byte, error) {
	props := make([]propEntryCBOR, 0, len(s.Prop))
	for key, reg := range s.Prop {
		props = append(props, propEntryCBOR{Key: key, EventID: toEventIDCBOR(reg.EventID), Value: reg.Value})
	}
	sort.Slice(props, func(i, j int) bool { return props[i].Key < props[j].Key })

	births := make([]edgeBirthCBOR, 0, len(s.EdgeBirthEvent))
	for key, ev := range s.EdgeBirthEvent {
		births = append(births, edgeBirthCBOR{Key: key, EventID: toEventIDCBOR(ev)})
	}
	sort.Slice(births, func(i, j int) bool { return births[i].Key < births[j].Key })

	observed := make(map[string]uint64, len(s.ObservedFrontier))
	for w, c := range s.ObservedFrontier {
		observed[w] = c
	}

	full := fullStateCBOR{
		Version:          FullStateVersion,
		NodeAlive:        toORSetCBOR(s.NodeAlive),
		EdgeAlive:        toORSetCBOR(s.EdgeAlive),
		Props:            props,
		EdgeBirth:        births,
		ObservedFrontier: observed,
	}
	return cbor.Marshal(full)
}

// DeserializeFullState parses state.cbor, tolerating missing optional
// fields and legacy bare-lamport edge-birth entries (synthesized into an
// EventId with the sentinel writerId/patchSha).
func DeserializeFullState(data []byte) (*warp.State, error) {
	var raw map[string]cbor.RawMessage
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("checkpoint: malformed state blob: %w", err)
	}

	var version string
	if v, ok := raw["version"]; ok {
		if err := cbor.Unmarshal(v, &version); err != nil {
			return nil, fmt.Errorf("checkpoint: malformed version field: %w", err)
		}
	}
	if version != "" && version != FullStateVersion {
		return nil, fmt.Errorf("checkpoint: unsupported full-state version %q: %w", version, warp.ErrUnsupportedFullStateVersion)
	}

	state := warp.NewState()

	if v, ok := raw["nodeAlive"]; ok {
		var o orsetCBOR
		if err := cbor.Unmarshal(v, &o); err != nil {
			return nil, fmt.Errorf("checkpoint: malformed nodeAlive: %w", err)
		}
		state.NodeAlive = fromORSetCBOR(o)
	}
	if v, ok := raw["edgeAlive"]; ok {
		var o orsetCBOR
		if err := cbor.Unmarshal(v, &o); err != nil {
			return nil, fmt.Errorf("checkpoint: malformed edgeAlive: %w", err)
		}
		state.EdgeAlive = fromORSetCBOR(o)
	}
	if v, ok := raw["props"]; ok {
		var props []propEntryCBOR
		if err := cbor.Unmarshal(v, &props); err != nil {
			return nil, fmt.Errorf("checkpoint: malformed props: %w", err)
		}
		for _, p := range props {
			state.Prop[p.Key] = warp.LWWRegister{EventID: fromEventIDCBOR(p.EventID), Value: p.Value}
		}
	}
	if v, ok := raw["edgeBirth"]; ok {
		if err := decodeEdgeBirth(v, state); err != nil {
			return nil, err
		}
	}
	if v, ok := raw["observedFrontier"]; ok {
		var observed map[string]uint64
		if err := cbor.Unmarshal(v, &observed); err != nil {
			return nil, fmt.Errorf("checkpoint: malformed observedFrontier: %w", err)
		}
		for w, c := range observed {
			state.ObservedFrontier[w] = c
		}
	}

	return state, nil
}

// decodeEdgeBirth reads the current structured form, falling back to the
// legacy bare-lamport form entry by entry (an entry with no "event" field).
func decodeEdgeBirth(raw cbor.RawMessage, state *warp.State) error {
	var entries []struct {
		Key     string       `cbor:"key"`
		EventID *eventIDCBOR `cbor:"event"`
		Lamport uint64       `cbor:"lamport"`
	}
	if err := cbor.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("checkpoint: malformed edgeBirth (neither structured nor legacy form): %w", err)
	}
	for _, b := range entries {
		if b.EventID != nil {
			state.EdgeBirthEvent[b.Key] = fromEventIDCBOR(*b.EventID)
		} else {
			state.EdgeBirthEvent[b.Key] = warp.LegacyEventID(b.Lamport)
		}
	}
	return nil
}

// SerializeFrontier and SerializeAppliedVV both encode a lamport-counter
// VersionVector as a plain CBOR map. SerializeFrontier is a general-purpose
// encoder for callers that need to transmit a VersionVector on its own;
// frontier.cbor itself is the writer-tip-OID frontier encoded by
// SerializeOidFrontier, not this function.
func SerializeFrontier(vv warp.VersionVector) ([]byte, error) {
	return cbor.Marshal(sortedVV(vv))
}

func DeserializeFrontier(data []byte) (warp.VersionVector, error) {
	var m map[string]uint64
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("checkpoint: malformed frontier blob: %w", err)
	}
	vv := warp.VersionVector(m)
	if vv == nil {
		vv = warp.VersionVector{}
	}
	return vv, nil
}

func SerializeAppliedVV(vv warp.VersionVector) ([]byte, error) {
	return cbor.Marshal(sortedVV(vv))
}

func DeserializeAppliedVV(data []byte) (warp.VersionVector, error) {
	return DeserializeFrontier(data)
}

func sortedVV(vv warp.VersionVector) map[string]uint64 {
	out := make(map[string]uint64, len(vv))
	for w, c := range vv {
		out[w] = c
	}
	return out
}

// FrontierEnvelope is the §6 CBOR/JSON frontier envelope:
// {version, writerCount, frontier (sorted keys)}.
type FrontierEnvelope struct {
	Version     int               `cbor:"version" json:"version"`
	WriterCount int               `cbor:"writerCount" json:"writerCount"`
	Frontier    map[string]string `cbor:"frontier" json:"frontier"`
}

func NewFrontierEnvelope(tips map[string]warp.OID) FrontierEnvelope {
	frontier := make(map[string]string, len(tips))
	for w, oid := range tips {
		frontier[w] = string(oid)
	}
	return FrontierEnvelope{Version: 1, WriterCount: len(tips), Frontier: frontier}
}

// SerializeOidFrontier encodes frontier.cbor proper: spec §3's "writerId
// → tip OID mapping" (not to be confused with the lamport-counter
// VersionVector SerializeAppliedVV encodes for appliedVV.cbor).
func SerializeOidFrontier(tips map[string]warp.OID) ([]byte, error) {
	return cbor.Marshal(NewFrontierEnvelope(tips))
}

// DeserializeOidFrontier parses a frontier.cbor blob back into a
// writerId → tip OID map.
func DeserializeOidFrontier(data []byte) (map[string]warp.OID, error) {
	var env FrontierEnvelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("checkpoint: malformed frontier blob: %w", err)
	}
	out := make(map[string]warp.OID, len(env.Frontier))
	for w, oid := range env.Frontier {
		out[w] = warp.OID(oid)
	}
	return out, nil
}

// cborMarshalVisible encodes a VisibleProjection for visible.cbor. This
// blob exists purely so ComputeStateHash can be recomputed independently
// of state.cbor; Load never deserializes it.
func cborMarshalVisible(v warp.VisibleProjection) ([]byte, error) {
	return cbor.Marshal(v)
}

// ComputeStateHash hashes the visible projection deterministically: nodes,
// edges, and props are already sorted by State.Visible; we marshal that
// projection as canonical JSON (sorted map keys are implicit since the
// projection is slices, not maps) and SHA-256 the result.
func ComputeStateHash(visible warp.VisibleProjection) (string, error) {
	data, err := json.Marshal(visible)
	if err != nil {
		return "", fmt.Errorf("checkpoint: failed to marshal visible projection: %w", err)
	}
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
