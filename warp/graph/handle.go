// Package graph is the materialization orchestrator (spec §4.8): the
// component a graph handle holds to combine checkpoint loading, patch
// replay, ceiling-based time travel, and adjacency caching into the
// operations callers actually invoke (materialize, materializeAt,
// createCheckpoint, runGC). Grounded in the teacher's engine/handle split
// (graph/engine.go holds exactly this kind of cached-state-plus-policy
// orchestration over pluggable collaborators), here recomposed over
// warp/checkpoint, warp/ref, warp/writer, and warp/index instead of the
// teacher's step/tool execution loop.
package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/git-warp/warp"
	"github.com/git-warp/warp/checkpoint"
	"github.com/git-warp/warp/emit"
	"github.com/git-warp/warp/index"
	"github.com/git-warp/warp/metrics"
	"github.com/git-warp/warp/ref"
	"github.com/git-warp/warp/store"
	"github.com/git-warp/warp/writer"
)

// Config configures one graph handle: its name, the writer ids it
// tracks, and the GC policy governing opportunistic compaction.
type Config struct {
	Graph    string
	Writers  []string
	GCPolicy warp.GCPolicy
}

// Handle is a single graph's materialization orchestrator: cached state,
// the checkpoint/ref/index collaborators, and GC bookkeeping. Not safe
// for concurrent use across goroutines, matching spec §5's "a single
// handle is not safe to share across threads" (serialized here with a
// mutex instead, since Go doesn't have the teacher's single-threaded
// event-loop runtime to lean on).
type Handle struct {
	port    store.Port
	cfg     Config
	metrics *metrics.Metrics
	emitter emit.Emitter

	checkpoints *checkpoint.Service
	refs        *ref.Manager
	rebuilder   *index.IndexRebuildService
	reader      *index.BitmapIndexReader

	mu             sync.Mutex
	cached         *warp.State
	cachedFrontier map[string]warp.OID
	dirty          bool
	patchesSinceGC int
	lastGCAt       time.Time
	seekCache      SeekCache
}

// NewHandle builds an orchestrator for one graph, with an in-memory seek
// cache. m/emitter may be nil. Use NewHandleWithSeekCache for a
// persistent (storage-backed) seek cache.
func NewHandle(port store.Port, cfg Config, m *metrics.Metrics, emitter emit.Emitter) (*Handle, error) {
	return NewHandleWithSeekCache(port, cfg, m, emitter, NewMemorySeekCache())
}

// NewHandleWithSeekCache builds an orchestrator with an explicit
// materializeAt seek cache, e.g. NewStorageSeekCache to persist entries
// across restarts.
func NewHandleWithSeekCache(port store.Port, cfg Config, m *metrics.Metrics, emitter emit.Emitter, seekCache SeekCache) (*Handle, error) {
	if err := cfg.GCPolicy.Validate(); err != nil {
		// A Handle may reasonably be built with GC disabled entirely;
		// only reject a policy that claims to enable GC but is internally
		// invalid (e.g. a ratio outside [0,1]).
		if cfg.GCPolicy != (warp.GCPolicy{}) {
			return nil, err
		}
	}
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	reader, err := index.NewBitmapIndexReader(port, 256, false, emitter)
	if err != nil {
		return nil, fmt.Errorf("graph: build index reader: %w", err)
	}
	return &Handle{
		port:        port,
		cfg:         cfg,
		metrics:     m,
		emitter:     emitter,
		checkpoints: checkpoint.NewService(port, cfg.Graph, m, emitter),
		refs:        ref.NewManager(port, cfg.Graph, emitter),
		rebuilder:   index.NewIndexRebuildService(port, cfg.Graph, m, emitter),
		reader:      reader,
		seekCache:   seekCache,
	}, nil
}

// writerTips reads every configured writer's current ref.
func (h *Handle) writerTips(ctx context.Context) (map[string]warp.OID, error) {
	tips := make(map[string]warp.OID, len(h.cfg.Writers))
	for _, w := range h.cfg.Writers {
		tip, ok, err := h.port.ReadRef(ctx, writer.RefName(h.cfg.Graph, w))
		if err != nil {
			return nil, fmt.Errorf("graph: read writer ref %s: %w", w, err)
		}
		if ok {
			tips[w] = tip
		}
	}
	return tips, nil
}

// Materialize implements spec §4.8's materialize(): load the latest
// checkpoint (or start from empty state), replay every patch committed
// since its frontier, cache the result, and run GC when the GCPolicy
// triggers. It never creates a checkpoint; that happens only through
// CreateCheckpoint. Returns the cached state unchanged if nothing
// changed since the last call.
func (h *Handle) Materialize(ctx context.Context) (*warp.State, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	tips, err := h.writerTips(ctx)
	if err != nil {
		return nil, err
	}

	if h.cached != nil && !h.dirty && sameTips(h.cachedFrontier, tips) {
		return h.cached, nil
	}

	cp, found, err := h.checkpoints.Load(ctx)
	var seed *warp.State
	checkpointTips := map[string]warp.OID{}
	if found {
		seed = cp.State
		checkpointTips = cp.Frontier
	}
	if err != nil {
		return nil, err
	}

	var patches []warp.PatchRecord
	for w, tip := range tips {
		chain, err := writer.Load(ctx, h.port, tip, checkpointTips[w])
		if err != nil {
			return nil, fmt.Errorf("graph: load patches for writer %s: %w", w, err)
		}
		patches = append(patches, chain...)
	}
	sortPatches(patches)

	state := warp.Reduce(seed, patches)

	h.cached = state
	h.cachedFrontier = tips
	h.dirty = false
	h.patchesSinceGC += len(patches)

	if err := h.maybeRunGCLocked(ctx, state); err != nil {
		return nil, err
	}

	return state, nil
}

// MarkDirty forces the next Materialize call to reload and replay rather
// than returning the cached state, for callers that committed a patch
// through a path this Handle didn't observe directly.
func (h *Handle) MarkDirty() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dirty = true
}

// MaterializeAt implements spec §4.8's materializeAt(ceiling): bypass
// checkpoints entirely, load every writer's full patch chain, keep only
// ops with lamport <= ceiling, and replay. Results are memoized in the
// Handle's SeekCache (in-memory by default, or a StorageSeekCache for
// persistence across restarts) keyed by a fingerprint of (ceiling,
// frontier); a corrupted or unreadable cache entry is treated as a miss
// and silently recomputed rather than surfaced as an error.
func (h *Handle) MaterializeAt(ctx context.Context, ceiling uint64) (*warp.State, error) {
	tips, err := h.writerTips(ctx)
	if err != nil {
		return nil, err
	}
	key := seekCacheKey(ceiling, tips)

	if state, ok, err := h.seekCache.Get(ctx, key); err == nil && ok {
		return state, nil
	}

	var patches []warp.PatchRecord
	for w, tip := range tips {
		if ctx.Err() != nil {
			return nil, warp.NewAbortedError("materializeAt aborted: " + ctx.Err().Error())
		}
		chain, err := writer.Load(ctx, h.port, tip, "")
		if err != nil {
			return nil, fmt.Errorf("graph: load patches for writer %s: %w", w, err)
		}
		for _, rec := range chain {
			if rec.Patch.Lamport <= ceiling {
				patches = append(patches, rec)
			}
		}
	}
	sortPatches(patches)

	state := warp.Reduce(nil, patches)

	if err := h.seekCache.Put(ctx, key, state); err != nil {
		return nil, fmt.Errorf("graph: persist seek cache entry: %w", err)
	}

	return state, nil
}

// CreateCheckpoint gathers current writer tips, materializes, and
// delegates to the checkpoint service, then syncs the checkpoint ref so
// both writer tips stay reachable.
func (h *Handle) CreateCheckpoint(ctx context.Context, compact bool) (warp.OID, error) {
	state, err := h.Materialize(ctx)
	if err != nil {
		return "", err
	}
	tips, err := h.writerTips(ctx)
	if err != nil {
		return "", err
	}
	commitOid, err := h.checkpoints.Create(ctx, state, tips, compact)
	if err != nil {
		return "", err
	}

	h.mu.Lock()
	h.patchesSinceGC = 0
	h.mu.Unlock()

	return commitOid, nil
}

// RunGC unconditionally compacts the cached state's tombstoned dots and
// records GC metrics, ignoring GCPolicy thresholds.
func (h *Handle) RunGC(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cached == nil {
		return nil
	}
	return h.runGCLocked(ctx, h.cached)
}

// MaybeRunGC evaluates GCPolicy against the cached state's stats and
// runs GC only if a trigger fires.
func (h *Handle) MaybeRunGC(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cached == nil {
		return nil
	}
	return h.maybeRunGCLocked(ctx, h.cached)
}

func (h *Handle) maybeRunGCLocked(ctx context.Context, state *warp.State) error {
	stats := state.Stats()
	stats.PatchesSinceGC = h.patchesSinceGC
	stats.LastGCAt = h.lastGCAt
	if !h.cfg.GCPolicy.ShouldRun(stats, time.Now()) {
		return nil
	}
	return h.runGCLocked(ctx, state)
}

func (h *Handle) runGCLocked(ctx context.Context, state *warp.State) error {
	before := state.Stats().TombstoneCount
	state.RunGC()
	after := state.Stats().TombstoneCount

	h.patchesSinceGC = 0
	h.lastGCAt = time.Now()

	if h.metrics != nil {
		h.metrics.IncrementGCRuns(h.cfg.Graph)
		h.metrics.AddGCDotsCollected(h.cfg.Graph, before-after)
	}
	h.emitter.Emit(emit.Event{Graph: h.cfg.Graph, Msg: "gc_ran", Meta: map[string]interface{}{
		"dotsCollected": before - after,
	}})
	return nil
}

// RebuildIndex walks the object DAG from the current writer tips and the
// checkpoint ref (if any), rebuilds the bitmap index, persists it, and
// points this Handle's reader at the fresh shard set.
func (h *Handle) RebuildIndex(ctx context.Context) (index.RebuildResult, error) {
	tips, err := h.writerTips(ctx)
	if err != nil {
		return index.RebuildResult{}, err
	}
	roots := make([]warp.OID, 0, len(tips)+1)
	for _, tip := range tips {
		roots = append(roots, tip)
	}
	if cpTip, ok, err := h.port.ReadRef(ctx, fmt.Sprintf("refs/warp/%s/checkpoints/head", h.cfg.Graph)); err == nil && ok {
		roots = append(roots, cpTip)
	}
	if covTip, ok, err := h.port.ReadRef(ctx, h.coverageRefName()); err == nil && ok {
		roots = append(roots, covTip)
	}

	result, err := h.rebuilder.RebuildAndLoad(ctx, roots, tips, h.reader, ctxAbortSignal{ctx})
	if err != nil {
		return index.RebuildResult{}, err
	}
	return result, nil
}

// CheckIndexStaleness compares the bitmap index's last-known build
// frontier against the current writer tips.
func (h *Handle) CheckIndexStaleness(ctx context.Context, indexedFrontier map[string]warp.OID) (index.StalenessReport, error) {
	tips, err := h.writerTips(ctx)
	if err != nil {
		return index.StalenessReport{}, err
	}
	report := index.CheckStaleness(indexedFrontier, tips)
	result := "fresh"
	if report.Stale {
		result = "stale"
	}
	if h.metrics != nil {
		h.metrics.IncrementStalenessChecks(h.cfg.Graph, result)
	}
	if report.Stale {
		h.emitter.Emit(emit.Event{Graph: h.cfg.Graph, Msg: "index_stale", Meta: map[string]interface{}{
			"advancedWriters": report.AdvancedWriters,
		}})
	}
	return report, nil
}

// coverageRefName returns the §6 on-disk name of the coverage ref:
// refs/<graphRoot>/<graph>/coverage.
func (h *Handle) coverageRefName() string {
	return fmt.Sprintf("refs/warp/%s/coverage", h.cfg.Graph)
}

// SyncHead advances the coverage ref to newTip via the fast-forward/anchor
// algorithm in spec §4.3. Callers invoke this whenever a writer tip
// advances (independent of checkpoint creation), so that every writer tip
// stays reachable from some ref and the backing object store's GC never
// drops patch history that hasn't made it into a checkpoint yet.
func (h *Handle) SyncHead(ctx context.Context, newTip warp.OID) (ref.SyncResult, error) {
	return h.refs.SyncHead(ctx, h.coverageRefName(), newTip)
}

// SyncCoverage calls SyncHead once per currently-tracked writer tip, so a
// single call keeps the coverage ref anchoring every writer's latest work
// reachable, rather than requiring the caller to track which writer just
// advanced.
func (h *Handle) SyncCoverage(ctx context.Context) ([]ref.SyncResult, error) {
	tips, err := h.writerTips(ctx)
	if err != nil {
		return nil, err
	}
	writers := make([]string, 0, len(tips))
	for w := range tips {
		writers = append(writers, w)
	}
	sort.Strings(writers)

	results := make([]ref.SyncResult, 0, len(writers))
	for _, w := range writers {
		result, err := h.SyncHead(ctx, tips[w])
		if err != nil {
			return nil, fmt.Errorf("graph: sync coverage for writer %s: %w", w, err)
		}
		results = append(results, result)
	}
	return results, nil
}

func sameTips(a, b map[string]warp.OID) bool {
	if len(a) != len(b) {
		return false
	}
	for w, oid := range a {
		if b[w] != oid {
			return false
		}
	}
	return true
}

func sortPatches(patches []warp.PatchRecord) {
	sort.Slice(patches, func(i, j int) bool {
		pi, pj := patches[i].Patch, patches[j].Patch
		if pi.Lamport != pj.Lamport {
			return pi.Lamport < pj.Lamport
		}
		if pi.WriterID != pj.WriterID {
			return pi.WriterID < pj.WriterID
		}
		return patches[i].Sha < patches[j].Sha
	})
}

func seekCacheKey(ceiling uint64, tips map[string]warp.OID) string {
	writers := make([]string, 0, len(tips))
	for w := range tips {
		writers = append(writers, w)
	}
	sort.Strings(writers)
	key := fmt.Sprintf("ceiling=%d", ceiling)
	for _, w := range writers {
		key += fmt.Sprintf(";%s=%s", w, tips[w])
	}
	return key
}
