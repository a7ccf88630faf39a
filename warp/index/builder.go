package index

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/RoaringBitmap/roaring"
	"github.com/fxamacker/cbor/v2"
	"github.com/git-warp/warp"
)

// BitmapIndexBuilder is the in-memory bitmap adjacency index (spec §4.4):
// dense zero-based node ids assigned in first-seen order, one forward and
// one reverse Roaring bitmap per node.
type BitmapIndexBuilder struct {
	shaToID map[warp.OID]uint32
	idToSha []warp.OID
	fwd     map[warp.OID]*roaring.Bitmap
	rev     map[warp.OID]*roaring.Bitmap
}

// NewBitmapIndexBuilder returns an empty builder.
func NewBitmapIndexBuilder() *BitmapIndexBuilder {
	return &BitmapIndexBuilder{
		shaToID: make(map[warp.OID]uint32),
		fwd:     make(map[warp.OID]*roaring.Bitmap),
		rev:     make(map[warp.OID]*roaring.Bitmap),
	}
}

// RegisterNode assigns sha a dense id if it hasn't been seen before and
// returns that id either way.
func (b *BitmapIndexBuilder) RegisterNode(sha warp.OID) uint32 {
	if id, ok := b.shaToID[sha]; ok {
		return id
	}
	id := uint32(len(b.idToSha))
	b.shaToID[sha] = id
	b.idToSha = append(b.idToSha, sha)
	return id
}

// AddEdge registers src and tgt if needed and records tgt as a forward
// neighbor of src (and src as a reverse neighbor of tgt).
func (b *BitmapIndexBuilder) AddEdge(src, tgt warp.OID) {
	srcID := b.RegisterNode(src)
	tgtID := b.RegisterNode(tgt)

	fwdBM, ok := b.fwd[src]
	if !ok {
		fwdBM = roaring.New()
		b.fwd[src] = fwdBM
	}
	fwdBM.Add(tgtID)

	revBM, ok := b.rev[tgt]
	if !ok {
		revBM = roaring.New()
		b.rev[tgt] = revBM
	}
	revBM.Add(srcID)
}

// Serialize groups entries by the first two hex characters of each OID
// and produces the full shard set: meta_XX.json (sha→id tables),
// shards_fwd_XX.json, shards_rev_XX.json, and — if frontier is
// non-nil — frontier.cbor and frontier.json. The returned map is
// path→content, ready to hand to a storage port's WriteTree after each
// value is written as a blob.
func (b *BitmapIndexBuilder) Serialize(frontier map[string]warp.OID) (map[string][]byte, error) {
	out := make(map[string][]byte)

	if err := b.writeMetaShards(out); err != nil {
		return nil, err
	}
	if err := writeBitmapShards(out, b.fwd, fwdShardPath); err != nil {
		return nil, err
	}
	if err := writeBitmapShards(out, b.rev, revShardPath); err != nil {
		return nil, err
	}

	if frontier != nil {
		if err := writeFrontierFiles(out, frontier); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func (b *BitmapIndexBuilder) writeMetaShards(out map[string][]byte) error {
	byPrefix := make(map[string]map[string]string)
	for sha, id := range b.shaToID {
		prefix := shardPrefix(sha)
		data, ok := byPrefix[prefix]
		if !ok {
			data = make(map[string]string)
			byPrefix[prefix] = data
		}
		data[string(sha)] = strconv.FormatUint(uint64(id), 10)
	}
	for prefix, data := range byPrefix {
		env, err := NewEnvelope(data)
		if err != nil {
			return fmt.Errorf("index: build meta shard %s: %w", prefix, err)
		}
		encoded, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("index: marshal meta shard %s: %w", prefix, err)
		}
		out[metaShardPath(prefix)] = encoded
	}
	return nil
}

func writeBitmapShards(out map[string][]byte, bitmaps map[warp.OID]*roaring.Bitmap, pathFor func(string) string) error {
	byPrefix := make(map[string]map[string]string)
	for sha, bm := range bitmaps {
		prefix := shardPrefix(sha)
		data, ok := byPrefix[prefix]
		if !ok {
			data = make(map[string]string)
			byPrefix[prefix] = data
		}
		encoded, err := serializeBitmap(bm)
		if err != nil {
			return err
		}
		data[string(sha)] = encoded
	}
	for prefix, data := range byPrefix {
		env, err := NewEnvelope(data)
		if err != nil {
			return fmt.Errorf("index: build bitmap shard %s: %w", prefix, err)
		}
		encoded, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("index: marshal bitmap shard %s: %w", prefix, err)
		}
		out[pathFor(prefix)] = encoded
	}
	return nil
}

// frontierEnvelope is the §6 CBOR/JSON frontier envelope shape, kept
// local to avoid a dependency from index on the checkpoint package for
// one shared struct.
type frontierEnvelope struct {
	Version     int               `cbor:"version" json:"version"`
	WriterCount int               `cbor:"writerCount" json:"writerCount"`
	Frontier    map[string]string `cbor:"frontier" json:"frontier"`
}

func writeFrontierFiles(out map[string][]byte, frontier map[string]warp.OID) error {
	fe := frontierEnvelope{Version: 1, WriterCount: len(frontier), Frontier: make(map[string]string, len(frontier))}
	for w, oid := range frontier {
		fe.Frontier[w] = string(oid)
	}

	cborBytes, err := cbor.Marshal(fe)
	if err != nil {
		return fmt.Errorf("index: marshal frontier.cbor: %w", err)
	}
	jsonBytes, err := json.Marshal(fe)
	if err != nil {
		return fmt.Errorf("index: marshal frontier.json: %w", err)
	}
	out["frontier.cbor"] = cborBytes
	out["frontier.json"] = jsonBytes
	return nil
}
