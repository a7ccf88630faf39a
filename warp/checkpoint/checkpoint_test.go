package checkpoint

import (
	"context"
	"reflect"
	"sort"
	"testing"

	"github.com/git-warp/warp"
	"github.com/git-warp/warp/store"
)

func buildTestState() *warp.State {
	state := warp.NewState()
	patches := []warp.PatchRecord{
		{Sha: "sha-1", Patch: warp.Patch{Schema: warp.PatchSchema, WriterID: "alice", Lamport: 1,
			Ops: []warp.Op{{Kind: warp.OpNodeAdd, Node: "a"}}}},
		{Sha: "sha-2", Patch: warp.Patch{Schema: warp.PatchSchema, WriterID: "alice", Lamport: 2,
			Ops: []warp.Op{{Kind: warp.OpNodeAdd, Node: "b"}}}},
		{Sha: "sha-3", Patch: warp.Patch{Schema: warp.PatchSchema, WriterID: "alice", Lamport: 3,
			Ops: []warp.Op{{Kind: warp.OpEdgeAdd, From: "a", To: "b", Label: "knows"}}}},
		{Sha: "sha-4", Patch: warp.Patch{Schema: warp.PatchSchema, WriterID: "alice", Lamport: 4,
			Ops: []warp.Op{{Kind: warp.OpPropSet, Node: "a", PropKey: "color", Value: []byte("red")}}}},
	}
	return warp.Reduce(state, patches)
}

func sortNodes(ns []warp.Node) {
	sort.Slice(ns, func(i, j int) bool { return ns[i].ID < ns[j].ID })
}

func TestSerializeFullState_RoundTrip(t *testing.T) {
	state := buildTestState()

	data, err := SerializeFullState(state)
	if err != nil {
		t.Fatalf("SerializeFullState: %v", err)
	}
	got, err := DeserializeFullState(data)
	if err != nil {
		t.Fatalf("DeserializeFullState: %v", err)
	}

	wantVisible := state.Visible()
	gotVisible := got.Visible()
	sortNodes(wantVisible.Nodes)
	sortNodes(gotVisible.Nodes)
	if !reflect.DeepEqual(wantVisible, gotVisible) {
		t.Errorf("visible projection mismatch:\nwant %+v\ngot  %+v", wantVisible, gotVisible)
	}
	if !reflect.DeepEqual(state.ObservedFrontier, got.ObservedFrontier) {
		t.Errorf("observedFrontier mismatch: want %v got %v", state.ObservedFrontier, got.ObservedFrontier)
	}
}

func TestDeserializeFullState_EmptyEdgeBirth(t *testing.T) {
	state := warp.NewState()
	state.EdgeAlive.Add(warp.EdgeKey("a", "b", "knows"), warp.Dot{WriterID: "alice", Counter: 1})

	data, err := SerializeFullState(state)
	if err != nil {
		t.Fatalf("SerializeFullState: %v", err)
	}

	// The state has an edge but no edge-birth entry, so edgeBirth is
	// serialized as an empty list; this asserts the decoder accepts it.
	got, err := DeserializeFullState(data)
	if err != nil {
		t.Fatalf("DeserializeFullState: %v", err)
	}
	if len(got.EdgeBirthEvent) != 0 {
		t.Errorf("expected no edge-birth entries, got %v", got.EdgeBirthEvent)
	}
}

// TestCheckpointService_S3_RoundTrip reproduces scenario S3: build state,
// checkpoint with compact=true, discard, reload; visible projection and
// state hash must match.
func TestCheckpointService_S3_RoundTrip(t *testing.T) {
	ctx := context.Background()
	port := store.NewMemory()
	svc := NewService(port, "g1", nil, nil)

	state := buildTestState()
	wantVisible := state.Visible()
	wantHash, err := ComputeStateHash(wantVisible)
	if err != nil {
		t.Fatalf("ComputeStateHash: %v", err)
	}

	tips := map[string]warp.OID{"alice": "sha-4"}
	if _, err := svc.Create(ctx, state, tips, true); err != nil {
		t.Fatalf("Create: %v", err)
	}

	loaded, ok, err := svc.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatalf("expected checkpoint to be found")
	}

	gotVisible := loaded.State.Visible()
	sortNodes(wantVisible.Nodes)
	sortNodes(gotVisible.Nodes)
	if !reflect.DeepEqual(wantVisible, gotVisible) {
		t.Errorf("visible projection mismatch after reload:\nwant %+v\ngot  %+v", wantVisible, gotVisible)
	}

	gotHash, err := ComputeStateHash(gotVisible)
	if err != nil {
		t.Fatalf("ComputeStateHash (reloaded): %v", err)
	}
	if gotHash != wantHash {
		t.Errorf("state hash mismatch: want %s got %s", wantHash, gotHash)
	}
}

func TestCheckpointService_Load_NoneExists(t *testing.T) {
	ctx := context.Background()
	svc := NewService(store.NewMemory(), "g1", nil, nil)
	_, ok, err := svc.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Errorf("expected no checkpoint to be found")
	}
}
