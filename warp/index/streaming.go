package index

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring"
	"github.com/git-warp/warp"
)

// bytesPerNewEntry estimates the marginal cost of one new bitmap entry
// (base overhead of a Roaring container entry), used only to decide when
// to flush — not a precise accounting of serialized size.
const bytesPerNewEntry = 4

// AbortSignal is checked at cancellation points during long-running
// streaming/merge/traversal operations (spec §5's "abort signal
// propagates through rebuild, streaming flush, chunk merge, finalize").
type AbortSignal interface {
	Aborted() bool
}

// BlobWriter is the minimal capability StreamingBitmapIndexBuilder needs
// from a storage port: writing content-addressed blobs. Kept narrower
// than store.Port so the builder doesn't need tree/ref/commit operations.
type BlobWriter interface {
	WriteBlob(ctx context.Context, data []byte) (warp.OID, error)
}

// StreamingBitmapIndexBuilder is the memory-bounded variant of
// BitmapIndexBuilder (spec §4.5): state mirrors the in-memory builder,
// plus a running byte estimate that triggers periodic flushes of bitmap
// shards to blob storage, keeping only per-path OID chains in memory.
type StreamingBitmapIndexBuilder struct {
	port BlobWriter

	shaToID map[warp.OID]uint32
	idToSha []warp.OID
	fwd     map[warp.OID]*roaring.Bitmap
	rev     map[warp.OID]*roaring.Bitmap

	flushedChunks        map[string][]warp.OID
	estimatedBitmapBytes int
	maxMemoryBytes       int
	flushCount           int
}

// NewStreamingBitmapIndexBuilder builds a streaming builder that flushes
// bitmap shards to port once the estimated in-memory bitmap size crosses
// maxMemoryBytes.
func NewStreamingBitmapIndexBuilder(port BlobWriter, maxMemoryBytes int) *StreamingBitmapIndexBuilder {
	return &StreamingBitmapIndexBuilder{
		port:           port,
		shaToID:        make(map[warp.OID]uint32),
		fwd:            make(map[warp.OID]*roaring.Bitmap),
		rev:            make(map[warp.OID]*roaring.Bitmap),
		flushedChunks:  make(map[string][]warp.OID),
		maxMemoryBytes: maxMemoryBytes,
	}
}

func (b *StreamingBitmapIndexBuilder) registerNode(sha warp.OID) uint32 {
	if id, ok := b.shaToID[sha]; ok {
		return id
	}
	id := uint32(len(b.idToSha))
	b.shaToID[sha] = id
	b.idToSha = append(b.idToSha, sha)
	return id
}

// AddEdge registers src/tgt, updates both bitmaps, and flushes bitmap
// shards to blob storage once the estimated byte counter crosses
// maxMemoryBytes.
func (b *StreamingBitmapIndexBuilder) AddEdge(ctx context.Context, src, tgt warp.OID) error {
	srcID := b.registerNode(src)
	tgtID := b.registerNode(tgt)

	if fwdBM, ok := b.fwd[src]; ok {
		if !fwdBM.Contains(tgtID) {
			fwdBM.Add(tgtID)
			b.estimatedBitmapBytes += bytesPerNewEntry
		}
	} else {
		bm := roaring.New()
		bm.Add(tgtID)
		b.fwd[src] = bm
		b.estimatedBitmapBytes += bytesPerNewEntry
	}

	if revBM, ok := b.rev[tgt]; ok {
		if !revBM.Contains(srcID) {
			revBM.Add(srcID)
			b.estimatedBitmapBytes += bytesPerNewEntry
		}
	} else {
		bm := roaring.New()
		bm.Add(srcID)
		b.rev[tgt] = bm
		b.estimatedBitmapBytes += bytesPerNewEntry
	}

	if b.estimatedBitmapBytes >= b.maxMemoryBytes {
		return b.flush(ctx)
	}
	return nil
}

// flush serializes only the bitmap shards (never meta — the sha→id
// tables stay in memory for the whole run), writes each as a blob,
// appends the OID to flushedChunks[path], clears the in-memory bitmap
// maps, and resets the byte counter.
//
// These in-place, partial shard writes use the legacy (v1, non-canonical)
// envelope rather than the v2 envelope the in-memory builder and this
// builder's own finalize() output use — see writeBitmapShardsLegacy.
func (b *StreamingBitmapIndexBuilder) flush(ctx context.Context) error {
	out := make(map[string][]byte)
	if err := writeBitmapShardsLegacy(out, b.fwd, fwdShardPath); err != nil {
		return err
	}
	if err := writeBitmapShardsLegacy(out, b.rev, revShardPath); err != nil {
		return err
	}

	for path, content := range out {
		oid, err := b.port.WriteBlob(ctx, content)
		if err != nil {
			return fmt.Errorf("index: flush shard %s: %w", path, err)
		}
		b.flushedChunks[path] = append(b.flushedChunks[path], oid)
	}

	b.fwd = make(map[warp.OID]*roaring.Bitmap)
	b.rev = make(map[warp.OID]*roaring.Bitmap)
	b.estimatedBitmapBytes = 0
	b.flushCount++
	return nil
}

// FlushCount reports how many times flush has run, for tests/metrics.
func (b *StreamingBitmapIndexBuilder) FlushCount() int { return b.flushCount }

// writeBitmapShardsLegacy mirrors writeBitmapShards but wraps each shard
// in a v1 (non-canonical) envelope instead of v2, per spec §9: the
// streaming builder's in-place checksum uses non-canonical JSON while the
// in-memory builder (and this builder's own merged finalize output) use
// canonical JSON. Keys are sorted before handing them to the non-canonical
// stringifier because Envelope.Verify's v1 branch reconstructs key order
// by sorting — JSON unmarshaling into a map loses insertion order, so
// writing with sorted keys is what lets a later Verify recompute the same
// checksum.
func writeBitmapShardsLegacy(out map[string][]byte, bitmaps map[warp.OID]*roaring.Bitmap, pathFor func(string) string) error {
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
		keys := make([]string, 0, len(data))
		for k := range data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		env, err := NewLegacyEnvelope(keys, data)
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

// Finalize writes the meta shards once, then for every bitmap-shard path
// merges its accumulated chunks by OR-ing same-sha bitmaps across
// chunks, producing one blob per path. A path with a single chunk is
// also decoded and re-encoded as a v2 envelope; no chunk is passed
// through unmodified. abort, if non-nil, is checked before each major
// stage and before each chunk during merge.
func (b *StreamingBitmapIndexBuilder) Finalize(ctx context.Context, blobReader interface {
	ReadBlob(ctx context.Context, oid warp.OID) ([]byte, error)
}, frontier map[string]warp.OID, abort AbortSignal) (map[string][]byte, error) {
	if aborted(abort) {
		return nil, warp.NewAbortedError("index: finalize aborted before flush")
	}
	if err := b.flush(ctx); err != nil {
		return nil, err
	}

	if aborted(abort) {
		return nil, warp.NewAbortedError("index: finalize aborted before meta write")
	}
	out := make(map[string][]byte)
	if err := b.writeMetaShardsStreaming(out); err != nil {
		return nil, err
	}

	if aborted(abort) {
		return nil, warp.NewAbortedError("index: finalize aborted before bitmap processing")
	}
	for path, chunks := range b.flushedChunks {
		merged, err := mergeChunks(ctx, blobReader, chunks, abort)
		if err != nil {
			return nil, err
		}
		out[path] = merged
	}

	if frontier != nil {
		if err := writeFrontierFiles(out, frontier); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func (b *StreamingBitmapIndexBuilder) writeMetaShardsStreaming(out map[string][]byte) error {
	byPrefix := make(map[string]map[string]string)
	for sha, id := range b.shaToID {
		prefix := shardPrefix(sha)
		data, ok := byPrefix[prefix]
		if !ok {
			data = make(map[string]string)
			byPrefix[prefix] = data
		}
		data[string(sha)] = fmt.Sprintf("%d", id)
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

// mergeChunks reads each chunk OID in order, validates its envelope
// version and checksum, deserializes every bitmap, OR-merges by sha
// across chunks, and re-serializes into one new envelope. A single
// chunk is still round-tripped through this path (not byte-passed
// through) so its checksum is always freshly computed against the
// current canonicalizer.
func mergeChunks(ctx context.Context, reader interface {
	ReadBlob(ctx context.Context, oid warp.OID) ([]byte, error)
}, chunks []warp.OID, abort AbortSignal) ([]byte, error) {
	merged := make(map[string]*roaring.Bitmap)

	for _, oid := range chunks {
		if aborted(abort) {
			return nil, warp.NewAbortedError("index: finalize aborted mid-merge")
		}
		raw, err := reader.ReadBlob(ctx, oid)
		if err != nil {
			return nil, warp.NewLoadError("SHARD_LOAD_FAILED", fmt.Sprintf("read chunk %s", oid), err)
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, warp.NewCorruptionError("MALFORMED_ENVELOPE", "could not parse chunk envelope", "", oid, "json unmarshal failed", err)
		}
		if !SupportedEnvelopeVersions[env.Version] {
			return nil, warp.NewValidationError("UNSUPPORTED_SHARD_VERSION", "chunk envelope version not supported", "", oid, "version", []int{1, 2}, env.Version)
		}
		ok, err := env.Verify()
		if err != nil {
			return nil, warp.NewCorruptionError("CHECKSUM_VERIFY_FAILED", "could not verify chunk checksum", "", oid, err.Error(), err)
		}
		if !ok {
			return nil, warp.NewValidationError("CHECKSUM_MISMATCH", "chunk checksum mismatch", "", oid, "checksum", env.Checksum, "recomputed")
		}

		for sha, encoded := range env.Data {
			bm, err := deserializeBitmap(encoded)
			if err != nil {
				return nil, warp.NewCorruptionError("UNDESERIALIZABLE_BITMAP", "could not deserialize bitmap", "", oid, err.Error(), err)
			}
			if existing, ok := merged[sha]; ok {
				existing.Or(bm)
			} else {
				merged[sha] = bm
			}
		}
	}

	data := make(map[string]string, len(merged))
	for sha, bm := range merged {
		encoded, err := serializeBitmap(bm)
		if err != nil {
			return nil, warp.NewCorruptionError("MERGE_SERIALIZE_FAILED", "could not serialize merged bitmap", "", "", err.Error(), err)
		}
		data[sha] = encoded
	}
	env, err := NewEnvelope(data)
	if err != nil {
		return nil, fmt.Errorf("index: build merged envelope: %w", err)
	}
	return json.Marshal(env)
}

func aborted(signal AbortSignal) bool {
	return signal != nil && signal.Aborted()
}
