package checkpoint

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/git-warp/warp"
	"github.com/git-warp/warp/emit"
	"github.com/git-warp/warp/metrics"
	"github.com/git-warp/warp/store"
	"github.com/git-warp/warp/trailer"
)

const (
	stateBlobName     = "state.cbor"
	visibleBlobName   = "visible.cbor"
	frontierBlobName  = "frontier.cbor"
	appliedVVBlobName = "appliedVV.cbor"

	// schemaCurrent and schemaPrior are the checkpoint schemas Load will
	// accept; Create writes schemaCurrent.
	schemaCurrent = 2
	schemaPrior   = 3
)

// Checkpoint is the materialized result of loading a checkpoint commit:
// the state itself plus the writer-tip frontier it was taken at (spec
// §3's "writerId → tip OID mapping", distinct from the lamport-counter
// VersionVector inside State.ObservedFrontier).
type Checkpoint struct {
	State    *warp.State
	Frontier map[string]warp.OID
	Tip      warp.OID
}

// Service creates and loads checkpoints through a storage Port, per spec
// §4.2. It mirrors the teacher's checkpoint/store separation
// (graph/checkpoint.go computes an idempotency key and a Store[S]
// persists it) but here the "store" is a content-addressed object store
// and the checkpoint itself is a commit-like object with trailers.
type Service struct {
	port    store.Port
	emitter emit.Emitter
	metrics *metrics.Metrics
	graph   string
	ref     string
}

// NewService builds a checkpoint service for one graph. emitter/metrics
// may be nil (defaulting to a no-op emitter and disabled metrics).
func NewService(port store.Port, graph string, m *metrics.Metrics, emitter emit.Emitter) *Service {
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	return &Service{
		port:    port,
		emitter: emitter,
		metrics: m,
		graph:   graph,
		ref:     fmt.Sprintf("refs/warp/%s/checkpoints/head", graph),
	}
}

// Create implements spec §4.2's checkpoint-creation algorithm: derive
// appliedVV, optionally compact, serialize the four blobs, write the
// tree and commit, then update the checkpoint ref.
func (svc *Service) Create(ctx context.Context, state *warp.State, writerTips map[string]warp.OID, compact bool) (warp.OID, error) {
	start := time.Now()

	appliedVV := state.AppliedVV()

	working := state
	if compact {
		working = state.Clone()
		working.RunGC()
	}

	stateBytes, err := SerializeFullState(working)
	if err != nil {
		return "", fmt.Errorf("checkpoint: serialize state: %w", err)
	}
	visible := working.Visible()
	visibleBytes, err := cborMarshalVisible(visible)
	if err != nil {
		return "", fmt.Errorf("checkpoint: serialize visible projection: %w", err)
	}
	frontierBytes, err := SerializeOidFrontier(writerTips)
	if err != nil {
		return "", fmt.Errorf("checkpoint: serialize frontier: %w", err)
	}
	appliedVVBytes, err := SerializeAppliedVV(appliedVV)
	if err != nil {
		return "", fmt.Errorf("checkpoint: serialize appliedVV: %w", err)
	}

	stateOid, err := svc.port.WriteBlob(ctx, stateBytes)
	if err != nil {
		return "", fmt.Errorf("checkpoint: write state blob: %w", err)
	}
	visibleOid, err := svc.port.WriteBlob(ctx, visibleBytes)
	if err != nil {
		return "", fmt.Errorf("checkpoint: write visible blob: %w", err)
	}
	frontierOid, err := svc.port.WriteBlob(ctx, frontierBytes)
	if err != nil {
		return "", fmt.Errorf("checkpoint: write frontier blob: %w", err)
	}
	appliedVVOid, err := svc.port.WriteBlob(ctx, appliedVVBytes)
	if err != nil {
		return "", fmt.Errorf("checkpoint: write appliedVV blob: %w", err)
	}

	treeOid, err := svc.port.WriteTree(ctx, []store.TreeEntry{
		{Path: appliedVVBlobName, OID: appliedVVOid},
		{Path: frontierBlobName, OID: frontierOid},
		{Path: stateBlobName, OID: stateOid},
		{Path: visibleBlobName, OID: visibleOid},
	})
	if err != nil {
		return "", fmt.Errorf("checkpoint: write tree: %w", err)
	}

	stateHash, err := ComputeStateHash(visible)
	if err != nil {
		return "", fmt.Errorf("checkpoint: compute state hash: %w", err)
	}

	parents := sortedTips(writerTips)
	message := trailer.Format("warp checkpoint", [][2]string{
		{trailer.KeyKind, trailer.KindCheckpoint},
		{trailer.KeyGraph, svc.graph},
		{trailer.KeySchema, fmt.Sprintf("%d", schemaCurrent)},
		{trailer.KeyStateHash, stateHash},
		{trailer.KeyFrontier, string(frontierOid)},
	})

	commitOid, err := svc.port.CommitNodeWithTree(ctx, treeOid, parents, message)
	if err != nil {
		return "", fmt.Errorf("checkpoint: commit: %w", err)
	}

	if err := svc.port.UpdateRef(ctx, svc.ref, commitOid); err != nil {
		return "", fmt.Errorf("checkpoint: update ref: %w", err)
	}

	if svc.metrics != nil {
		svc.metrics.RecordCheckpointDuration(svc.graph, "create", time.Since(start))
	}
	svc.emitter.Emit(emit.Event{Graph: svc.graph, Msg: "checkpoint_created", Meta: map[string]interface{}{
		"sha": string(commitOid),
	}})

	return commitOid, nil
}

// Load reads the latest checkpoint commit via the checkpoint ref and
// deserializes state.cbor and frontier.cbor (never visible.cbor, which
// exists only to let the state hash be recomputed independently).
// Rejects any schema other than 2 or 3.
func (svc *Service) Load(ctx context.Context) (*Checkpoint, bool, error) {
	start := time.Now()

	tip, ok, err := svc.port.ReadRef(ctx, svc.ref)
	if err != nil {
		return nil, false, fmt.Errorf("checkpoint: read ref: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	info, err := svc.port.GetNodeInfo(ctx, tip)
	if err != nil {
		return nil, false, fmt.Errorf("checkpoint: read commit: %w", err)
	}
	_, trailers := trailer.Parse(info.Message)
	if schema := trailers[trailer.KeySchema]; schema != "" && schema != fmt.Sprintf("%d", schemaCurrent) && schema != fmt.Sprintf("%d", schemaPrior) {
		return nil, false, warp.NewInvariantError("UNSUPPORTED_CHECKPOINT_SCHEMA",
			fmt.Sprintf("checkpoint schema %q is not supported", schema))
	}

	entries, err := svc.port.ReadTreeOids(ctx, info.TreeOid)
	if err != nil {
		return nil, false, fmt.Errorf("checkpoint: read tree: %w", err)
	}

	stateOid, ok := entries[stateBlobName]
	if !ok {
		return nil, false, warp.NewInvariantError("MISSING_STATE_BLOB", "checkpoint tree has no state.cbor")
	}
	frontierOid, ok := entries[frontierBlobName]
	if !ok {
		return nil, false, warp.NewInvariantError("MISSING_FRONTIER_BLOB", "checkpoint tree has no frontier.cbor")
	}

	stateBytes, err := svc.port.ReadBlob(ctx, stateOid)
	if err != nil {
		return nil, false, fmt.Errorf("checkpoint: read state blob: %w", err)
	}
	state, err := DeserializeFullState(stateBytes)
	if err != nil {
		return nil, false, fmt.Errorf("checkpoint: deserialize state: %w", err)
	}

	frontierBytes, err := svc.port.ReadBlob(ctx, frontierOid)
	if err != nil {
		return nil, false, fmt.Errorf("checkpoint: read frontier blob: %w", err)
	}
	frontier, err := DeserializeOidFrontier(frontierBytes)
	if err != nil {
		return nil, false, fmt.Errorf("checkpoint: deserialize frontier: %w", err)
	}

	if appliedVVOid, ok := entries[appliedVVBlobName]; ok {
		if _, err := svc.port.ReadBlob(ctx, appliedVVOid); err != nil {
			return nil, false, fmt.Errorf("checkpoint: read appliedVV blob: %w", err)
		}
	}

	if svc.metrics != nil {
		svc.metrics.RecordCheckpointDuration(svc.graph, "load", time.Since(start))
	}
	svc.emitter.Emit(emit.Event{Graph: svc.graph, Msg: "checkpoint_loaded", Meta: map[string]interface{}{
		"sha": string(tip),
	}})

	return &Checkpoint{State: state, Frontier: frontier, Tip: tip}, true, nil
}

func sortedTips(tips map[string]warp.OID) []warp.OID {
	writers := make([]string, 0, len(tips))
	for w := range tips {
		writers = append(writers, w)
	}
	sort.Strings(writers)
	out := make([]warp.OID, 0, len(writers))
	for _, w := range writers {
		out = append(out, tips[w])
	}
	return out
}
