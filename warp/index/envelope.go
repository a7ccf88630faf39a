// Package index implements the bitmap adjacency index (spec §4.4–§4.7):
// an in-memory builder, a memory-bounded streaming builder, a cached
// reader, staleness detection, and graph traversal, all built on
// github.com/RoaringBitmap/roaring the way the retrieval pack's own
// adjacency-index code (internal/graph) does.
package index

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/git-warp/warp"
)

// Envelope is the on-disk shard wrapper: {"version":<n>,"checksum":"<64-hex>","data":{…}}.
type Envelope struct {
	Version  int               `json:"version"`
	Checksum string            `json:"checksum"`
	Data     map[string]string `json:"data"`
}

// SupportedEnvelopeVersions lists versions BitmapIndexReader will accept.
var SupportedEnvelopeVersions = map[int]bool{1: true, 2: true}

// canonicalStringify serializes data with keys sorted recursively.
// encoding/json already sorts map[string]V keys, so this is exactly
// Go's default Marshal — kept as a named function so call sites read as
// the deliberate choice spec §4.4 calls for, not an accident of the
// stdlib's behavior.
func canonicalStringify(data map[string]string) ([]byte, error) {
	return json.Marshal(data)
}

// nonCanonicalStringify serializes data preserving the given key order
// (first-seen insertion order) rather than sorting it, reproducing the
// legacy v1 envelope's non-canonical stringify behavior: independent
// re-serialization of the same logical data in a different insertion
// order would NOT reproduce the same checksum, which is precisely the
// v1/v2 distinction spec §4.6 requires readers to honor rather than
// "fix".
func nonCanonicalStringify(keyOrder []string, data map[string]string) ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keyOrder {
		if i > 0 {
			b.WriteByte(',')
		}
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		valJSON, err := json.Marshal(data[k])
		if err != nil {
			return nil, err
		}
		b.Write(keyJSON)
		b.WriteByte(':')
		b.Write(valJSON)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// NewEnvelope builds a v2 (canonical) envelope over data and computes its checksum.
func NewEnvelope(data map[string]string) (Envelope, error) {
	serialized, err := canonicalStringify(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("index: canonicalize envelope data: %w", err)
	}
	return Envelope{Version: 2, Checksum: checksum(serialized), Data: data}, nil
}

// NewLegacyEnvelope builds a v1 (non-canonical) envelope, preserving
// keyOrder for checksum computation. Used by the streaming builder's
// in-place flush (see writeBitmapShardsLegacy); the in-memory builder
// and the streaming builder's merged finalize output always emit v2.
func NewLegacyEnvelope(keyOrder []string, data map[string]string) (Envelope, error) {
	serialized, err := nonCanonicalStringify(keyOrder, data)
	if err != nil {
		return Envelope{}, fmt.Errorf("index: stringify legacy envelope data: %w", err)
	}
	return Envelope{Version: 1, Checksum: checksum(serialized), Data: data}, nil
}

// Verify recomputes the checksum with the version-appropriate
// canonicalizer and reports whether it matches e.Checksum. v1 envelopes
// need a key order; since the reader only has the parsed map at this
// point, it uses the keys in sorted order. A v1 shard therefore verifies
// only if its checksum was computed over sorted keys (as
// writeBitmapShardsLegacy does); one written in any other key order
// reports a mismatch.
func (e Envelope) Verify() (bool, error) {
	if !SupportedEnvelopeVersions[e.Version] {
		return false, fmt.Errorf("index: unsupported envelope version %d", e.Version)
	}
	var serialized []byte
	var err error
	switch e.Version {
	case 1:
		keys := make([]string, 0, len(e.Data))
		for k := range e.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		serialized, err = nonCanonicalStringify(keys, e.Data)
	default:
		serialized, err = canonicalStringify(e.Data)
	}
	if err != nil {
		return false, err
	}
	return checksum(serialized) == e.Checksum, nil
}

// shardPrefix returns the first two hex characters of an OID, the key
// used to group entries into shard files (meta_XX.json, shards_fwd_XX.json,
// shards_rev_XX.json).
func shardPrefix(oid warp.OID) string {
	s := string(oid)
	if len(s) < 2 {
		return "00"
	}
	return s[:2]
}

func metaShardPath(prefix string) string     { return "meta_" + prefix + ".json" }
func fwdShardPath(prefix string) string      { return "shards_fwd_" + prefix + ".json" }
func revShardPath(prefix string) string      { return "shards_rev_" + prefix + ".json" }
