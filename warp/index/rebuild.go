package index

import (
	"context"
	"sort"
	"time"

	"github.com/git-warp/warp"
	"github.com/git-warp/warp/emit"
	"github.com/git-warp/warp/metrics"
	"github.com/git-warp/warp/store"
)

// ModeMemory and ModeStreaming are the two RebuildResult.Mode values,
// matching the "memory"/"streaming" label IndexRebuildDuration is
// recorded under.
const (
	ModeMemory    = "memory"
	ModeStreaming = "streaming"
)

// RebuildResult is everything a caller needs to point a BitmapIndexReader
// at a freshly built index tree.
type RebuildResult struct {
	ShardOids map[string]warp.OID
	TreeOid   warp.OID
	Mode      string
	NodeCount int
	EdgeCount int
}

// IndexRebuildService orchestrates walk → build → persist → load (spec
// §4.8's IndexRebuildService entry): it walks the commit/patch object DAG
// reachable from a set of root OIDs (writer tips, typically), feeds the
// discovered parent→child edges into either the in-memory or streaming
// bitmap builder depending on size, persists the resulting shard tree,
// and can point a BitmapIndexReader at it directly.
type IndexRebuildService struct {
	port    store.Port
	graph   string
	metrics *metrics.Metrics
	emitter emit.Emitter

	// StreamingThresholdNodes selects streaming mode once the walked
	// object DAG has at least this many distinct nodes. Zero means
	// always use the in-memory builder.
	StreamingThresholdNodes int

	// StreamingMaxMemoryBytes is passed to the streaming builder's flush
	// threshold when streaming mode is selected.
	StreamingMaxMemoryBytes int
}

// NewIndexRebuildService builds a rebuild orchestrator for graph over
// port. m and emitter may be nil.
func NewIndexRebuildService(port store.Port, graph string, m *metrics.Metrics, emitter emit.Emitter) *IndexRebuildService {
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	return &IndexRebuildService{
		port:                    port,
		graph:                   graph,
		metrics:                 m,
		emitter:                 emitter,
		StreamingThresholdNodes: 100000,
		StreamingMaxMemoryBytes: 64 << 20,
	}
}

// walkObjectDAG performs a BFS over the commit/patch object graph
// reachable from roots by following GetNodeInfo's Parents chains,
// returning every distinct (parent, child) edge discovered — i.e. the
// same ancestry relation store.Port's IsAncestor already queries
// directly. abort is checked every 1,000 visited nodes.
func walkObjectDAG(ctx context.Context, port store.Port, roots []warp.OID, abort AbortSignal) (nodes []warp.OID, edges [][2]warp.OID, err error) {
	visited := make(map[warp.OID]bool)
	var queue []warp.OID
	for _, r := range roots {
		if r.Empty() || visited[r] {
			continue
		}
		visited[r] = true
		queue = append(queue, r)
	}

	visitCount := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		nodes = append(nodes, cur)

		visitCount++
		if visitCount%abortCheckInterval == 0 && aborted(abort) {
			return nil, nil, warp.NewAbortedError("index: rebuild walk aborted")
		}

		info, err := port.GetNodeInfo(ctx, cur)
		if err != nil {
			return nil, nil, err
		}
		for _, parent := range info.Parents {
			if parent.Empty() {
				continue
			}
			// Forward adjacency (AddEdge(src, tgt)) means src's children
			// include tgt: a parent's child is cur, so the edge is
			// (parent, cur).
			edges = append(edges, [2]warp.OID{parent, cur})
			if !visited[parent] {
				visited[parent] = true
				queue = append(queue, parent)
			}
		}
	}
	return nodes, edges, nil
}

// Rebuild walks the object DAG from roots, builds the bitmap index (in
// memory or streaming, chosen by the discovered node count), persists
// every shard as a blob plus a tree, and records duration metrics and an
// index_rebuilt event.
func (s *IndexRebuildService) Rebuild(ctx context.Context, roots []warp.OID, frontier map[string]warp.OID, abort AbortSignal) (RebuildResult, error) {
	start := time.Now()

	nodes, edges, err := walkObjectDAG(ctx, s.port, roots, abort)
	if err != nil {
		return RebuildResult{}, err
	}

	mode := ModeMemory
	if s.StreamingThresholdNodes > 0 && len(nodes) >= s.StreamingThresholdNodes {
		mode = ModeStreaming
	}

	var shards map[string][]byte
	if mode == ModeStreaming {
		shards, err = s.buildStreaming(ctx, edges, frontier, abort)
	} else {
		shards, err = s.buildInMemory(edges, frontier)
	}
	if err != nil {
		return RebuildResult{}, err
	}

	shardOids, treeOid, err := s.persist(ctx, shards)
	if err != nil {
		return RebuildResult{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordIndexRebuildDuration(s.graph, mode, time.Since(start))
	}
	s.emitter.Emit(emit.Event{Graph: s.graph, Msg: "index_rebuilt", Meta: map[string]interface{}{
		"mode": mode, "nodeCount": len(nodes), "edgeCount": len(edges), "treeOid": string(treeOid),
	}})

	return RebuildResult{
		ShardOids: shardOids,
		TreeOid:   treeOid,
		Mode:      mode,
		NodeCount: len(nodes),
		EdgeCount: len(edges),
	}, nil
}

func (s *IndexRebuildService) buildInMemory(edges [][2]warp.OID, frontier map[string]warp.OID) (map[string][]byte, error) {
	b := NewBitmapIndexBuilder()
	for _, e := range edges {
		b.AddEdge(e[0], e[1])
	}
	return b.Serialize(frontier)
}

func (s *IndexRebuildService) buildStreaming(ctx context.Context, edges [][2]warp.OID, frontier map[string]warp.OID, abort AbortSignal) (map[string][]byte, error) {
	b := NewStreamingBitmapIndexBuilder(s.port, s.StreamingMaxMemoryBytes)
	for _, e := range edges {
		if err := b.AddEdge(ctx, e[0], e[1]); err != nil {
			return nil, err
		}
	}
	return b.Finalize(ctx, s.port, frontier, abort)
}

// RebuildAndLoad rebuilds the index and points reader at the fresh shard
// set in one step.
func (s *IndexRebuildService) RebuildAndLoad(ctx context.Context, roots []warp.OID, frontier map[string]warp.OID, reader *BitmapIndexReader, abort AbortSignal) (RebuildResult, error) {
	result, err := s.Rebuild(ctx, roots, frontier, abort)
	if err != nil {
		return RebuildResult{}, err
	}
	reader.Setup(result.ShardOids)
	return result, nil
}

func (s *IndexRebuildService) persist(ctx context.Context, shards map[string][]byte) (map[string]warp.OID, warp.OID, error) {
	shardOids := make(map[string]warp.OID, len(shards))
	paths := make([]string, 0, len(shards))
	for path := range shards {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	entries := make([]store.TreeEntry, 0, len(paths))
	for _, path := range paths {
		oid, err := s.port.WriteBlob(ctx, shards[path])
		if err != nil {
			return nil, "", err
		}
		shardOids[path] = oid
		entries = append(entries, store.TreeEntry{OID: oid, Path: path})
	}

	treeOid, err := s.port.WriteTree(ctx, entries)
	if err != nil {
		return nil, "", err
	}
	return shardOids, treeOid, nil
}
