package index

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/git-warp/warp"
	"github.com/git-warp/warp/emit"
)

// BlobReader is the minimal capability BitmapIndexReader needs from a
// storage port.
type BlobReader interface {
	ReadBlob(ctx context.Context, oid warp.OID) ([]byte, error)
}

// BitmapIndexReader is the lazy shard loader (spec §4.6): an LRU cache of
// parsed envelopes, strict/lenient integrity policy, and O(1) neighbor
// queries once a shard is loaded.
type BitmapIndexReader struct {
	port    BlobReader
	cache   *lru.Cache[string, Envelope]
	strict  bool
	emitter emit.Emitter

	mu          sync.Mutex
	shardOids   map[string]warp.OID
	warnedOnce  map[string]bool
	emptyShards map[string]bool
	idToSha     map[uint32]warp.OID
	idToShaDone bool
}

// NewBitmapIndexReader builds a reader over port with an LRU shard cache
// of the given capacity. strict selects the error policy (§7): strict
// mode surfaces validation/corruption errors to the caller; lenient mode
// logs once per shard and serves empty results thereafter. emitter may
// be nil.
func NewBitmapIndexReader(port BlobReader, capacity int, strict bool, emitter emit.Emitter) (*BitmapIndexReader, error) {
	cache, err := lru.New[string, Envelope](capacity)
	if err != nil {
		return nil, fmt.Errorf("index: create shard cache: %w", err)
	}
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	return &BitmapIndexReader{
		port:    port,
		cache:   cache,
		strict:  strict,
		emitter: emitter,
	}, nil
}

// Setup records the path→OID map for the index tree currently in use and
// clears the shard cache plus the lazily built id→SHA inverse map, so a
// reader can be repointed at a freshly rebuilt index.
func (r *BitmapIndexReader) Setup(shardOids map[string]warp.OID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shardOids = make(map[string]warp.OID, len(shardOids))
	for k, v := range shardOids {
		r.shardOids[k] = v
	}
	r.cache.Purge()
	r.warnedOnce = make(map[string]bool)
	r.emptyShards = make(map[string]bool)
	r.idToSha = nil
	r.idToShaDone = false
}

// loadShard runs the pipeline from spec §4.6: read blob, parse JSON
// envelope, verify version ∈ {1,2}, recompute checksum with the
// version-appropriate canonicalizer, accept. On error, strict mode
// returns it; lenient mode logs once and caches an empty envelope under
// path so subsequent queries return empty results without repeated I/O.
func (r *BitmapIndexReader) loadShard(ctx context.Context, path string) (Envelope, error) {
	if env, ok := r.cache.Get(path); ok {
		return env, nil
	}

	r.mu.Lock()
	isEmpty := r.emptyShards[path]
	oid, hasOid := r.shardOids[path]
	r.mu.Unlock()

	if isEmpty {
		return Envelope{}, nil
	}
	if !hasOid {
		return Envelope{}, nil
	}

	raw, err := r.port.ReadBlob(ctx, oid)
	if err != nil {
		// Storage I/O errors always throw, regardless of strict/lenient.
		return Envelope{}, warp.NewLoadError("SHARD_LOAD_FAILED", fmt.Sprintf("read shard %s", path), err)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return r.handleShardError(path, warp.NewCorruptionError(
			"MALFORMED_ENVELOPE", "could not parse shard envelope", path, oid, "json unmarshal failed", err))
	}
	if !SupportedEnvelopeVersions[env.Version] {
		return r.handleShardError(path, warp.NewValidationError(
			"UNSUPPORTED_SHARD_VERSION", "shard envelope version not supported", path, oid,
			"version", []int{1, 2}, env.Version))
	}
	ok, err := env.Verify()
	if err != nil {
		return r.handleShardError(path, warp.NewCorruptionError(
			"CHECKSUM_VERIFY_FAILED", "could not verify shard checksum", path, oid, err.Error(), err))
	}
	if !ok {
		return r.handleShardError(path, warp.NewValidationError(
			"CHECKSUM_MISMATCH", "shard checksum mismatch", path, oid, "checksum", env.Checksum, "recomputed"))
	}

	r.cache.Add(path, env)
	return env, nil
}

func (r *BitmapIndexReader) handleShardError(path string, typed *warp.Error) (Envelope, error) {
	if r.strict {
		return Envelope{}, typed
	}
	r.mu.Lock()
	alreadyWarned := r.warnedOnce[path]
	r.warnedOnce[path] = true
	r.emptyShards[path] = true
	r.mu.Unlock()

	if !alreadyWarned {
		r.emitter.Emit(emit.Event{Msg: "shard_load_failed", Meta: map[string]interface{}{
			"path": path, "code": typed.Code, "message": typed.Message,
		}})
	}
	return Envelope{}, nil
}

// LookupID returns the dense id assigned to sha, if present.
func (r *BitmapIndexReader) LookupID(ctx context.Context, sha warp.OID) (uint32, bool, error) {
	env, err := r.loadShard(ctx, metaShardPath(shardPrefix(sha)))
	if err != nil {
		return 0, false, err
	}
	idStr, ok := env.Data[string(sha)]
	if !ok {
		return 0, false, nil
	}
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		return 0, false, warp.NewCorruptionError("MALFORMED_ID", "meta shard id is not numeric", "", sha, err.Error(), err)
	}
	return uint32(id), true, nil
}

func (r *BitmapIndexReader) buildInverseMap(ctx context.Context) error {
	r.mu.Lock()
	if r.idToShaDone {
		r.mu.Unlock()
		return nil
	}
	paths := make([]string, 0, len(r.shardOids))
	for path := range r.shardOids {
		if strings.HasPrefix(path, "meta_") {
			paths = append(paths, path)
		}
	}
	r.mu.Unlock()

	inverse := make(map[uint32]warp.OID)
	for _, path := range paths {
		env, err := r.loadShard(ctx, path)
		if err != nil {
			return err
		}
		for sha, idStr := range env.Data {
			id, err := strconv.ParseUint(idStr, 10, 32)
			if err != nil {
				continue
			}
			inverse[uint32(id)] = warp.OID(sha)
		}
	}

	r.mu.Lock()
	r.idToSha = inverse
	r.idToShaDone = true
	r.mu.Unlock()
	return nil
}

func (r *BitmapIndexReader) translateIDs(ctx context.Context, ids []uint32) ([]warp.OID, error) {
	if err := r.buildInverseMap(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]warp.OID, 0, len(ids))
	for _, id := range ids {
		if sha, ok := r.idToSha[id]; ok {
			out = append(out, sha)
		}
	}
	return out, nil
}

// GetChildren reads shards_fwd_XX.json for sha's prefix, decodes sha's
// forward bitmap, and translates the ids back to OIDs.
func (r *BitmapIndexReader) GetChildren(ctx context.Context, sha warp.OID) ([]warp.OID, error) {
	return r.getNeighbors(ctx, sha, fwdShardPath)
}

// GetParents reads shards_rev_XX.json for sha's prefix.
func (r *BitmapIndexReader) GetParents(ctx context.Context, sha warp.OID) ([]warp.OID, error) {
	return r.getNeighbors(ctx, sha, revShardPath)
}

func (r *BitmapIndexReader) getNeighbors(ctx context.Context, sha warp.OID, pathFor func(string) string) ([]warp.OID, error) {
	env, err := r.loadShard(ctx, pathFor(shardPrefix(sha)))
	if err != nil {
		return nil, err
	}
	encoded, ok := env.Data[string(sha)]
	if !ok {
		return nil, nil
	}
	bm, err := deserializeBitmap(encoded)
	if err != nil {
		return nil, warp.NewCorruptionError("UNDESERIALIZABLE_BITMAP", "could not deserialize neighbor bitmap", "", sha, err.Error(), err)
	}
	return r.translateIDs(ctx, bm.ToArray())
}
