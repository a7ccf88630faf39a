package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/git-warp/warp"
)

type fakeBlobStore struct {
	blobs map[warp.OID][]byte
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{blobs: make(map[warp.OID][]byte)}
}

func (f *fakeBlobStore) WriteBlob(_ context.Context, data []byte) (warp.OID, error) {
	sum := sha256.Sum256(data)
	oid := warp.OID(hex.EncodeToString(sum[:])[:40])
	f.blobs[oid] = data
	return oid, nil
}

func (f *fakeBlobStore) ReadBlob(_ context.Context, oid warp.OID) ([]byte, error) {
	data, ok := f.blobs[oid]
	if !ok {
		return nil, errNotFound
	}
	return data, nil
}

var errNotFound = &notFoundErr{}

type notFoundErr struct{}

func (*notFoundErr) Error() string { return "blob not found" }

func buildAndStore(t *testing.T, store *fakeBlobStore, edges [][2]warp.OID) map[string]warp.OID {
	t.Helper()
	b := NewBitmapIndexBuilder()
	for _, e := range edges {
		b.AddEdge(e[0], e[1])
	}
	shards, err := b.Serialize(nil)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	shardOids := make(map[string]warp.OID, len(shards))
	for path, content := range shards {
		oid, err := store.WriteBlob(context.Background(), content)
		if err != nil {
			t.Fatalf("write blob %s: %v", path, err)
		}
		shardOids[path] = oid
	}
	return shardOids
}

func TestBitmapIndexReader_Property4_Symmetry(t *testing.T) {
	store := newFakeBlobStore()
	parent := warp.OID("aaaa000000000000000000000000000000000a")
	child := warp.OID("bbbb000000000000000000000000000000000b")

	shardOids := buildAndStore(t, store, [][2]warp.OID{{parent, child}})

	r, err := NewBitmapIndexReader(store, 16, true, nil)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	r.Setup(shardOids)

	ctx := context.Background()
	children, err := r.GetChildren(ctx, parent)
	if err != nil {
		t.Fatalf("get children: %v", err)
	}
	if len(children) != 1 || children[0] != child {
		t.Fatalf("children = %v, want [%s]", children, child)
	}

	parents, err := r.GetParents(ctx, child)
	if err != nil {
		t.Fatalf("get parents: %v", err)
	}
	if len(parents) != 1 || parents[0] != parent {
		t.Fatalf("parents = %v, want [%s]", parents, parent)
	}

	id, ok, err := r.LookupID(ctx, parent)
	if err != nil || !ok {
		t.Fatalf("lookup id: ok=%v err=%v", ok, err)
	}
	id2, ok, err := r.LookupID(ctx, parent)
	if err != nil || !ok || id2 != id {
		t.Fatalf("lookup id not stable: %d vs %d", id, id2)
	}
}

func TestBitmapIndexReader_Property3_ChecksumCorrectness(t *testing.T) {
	store := newFakeBlobStore()
	a := warp.OID("1111000000000000000000000000000000000a")
	b := warp.OID("2222000000000000000000000000000000000b")
	shardOids := buildAndStore(t, store, [][2]warp.OID{{a, b}})

	for path, oid := range shardOids {
		raw, err := store.ReadBlob(context.Background(), oid)
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("unmarshal %s: %v", path, err)
		}
		ok, err := env.Verify()
		if err != nil {
			t.Fatalf("verify %s: %v", path, err)
		}
		if !ok {
			t.Fatalf("shard %s failed checksum verification", path)
		}

		tampered := env
		tampered.Checksum = "0000000000000000000000000000000000000000000000000000000000000000"
		ok, err = tampered.Verify()
		if err != nil {
			t.Fatalf("verify tampered %s: %v", path, err)
		}
		if ok {
			t.Fatalf("tampered checksum unexpectedly verified for %s", path)
		}
	}
}

func TestBitmapIndexReader_MissingNeighbor(t *testing.T) {
	store := newFakeBlobStore()
	a := warp.OID("3333000000000000000000000000000000000a")
	b := warp.OID("4444000000000000000000000000000000000b")
	shardOids := buildAndStore(t, store, [][2]warp.OID{{a, b}})

	r, err := NewBitmapIndexReader(store, 16, true, nil)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	r.Setup(shardOids)

	unknown := warp.OID("ffff000000000000000000000000000000000f")
	children, err := r.GetChildren(context.Background(), unknown)
	if err != nil {
		t.Fatalf("get children of unknown: %v", err)
	}
	if len(children) != 0 {
		t.Fatalf("expected no children for unknown oid, got %v", children)
	}
}

func TestBitmapIndexReader_StrictModeRejectsCorruptShard(t *testing.T) {
	store := newFakeBlobStore()
	a := warp.OID("5555000000000000000000000000000000000a")
	b := warp.OID("6666000000000000000000000000000000000b")
	shardOids := buildAndStore(t, store, [][2]warp.OID{{a, b}})

	fwdPath := fwdShardPath(shardPrefix(a))
	corrupt, err := json.Marshal(map[string]interface{}{
		"version":  2,
		"checksum": "deadbeef",
		"data":     map[string]string{string(a): "not-a-real-bitmap"},
	})
	if err != nil {
		t.Fatalf("marshal corrupt shard: %v", err)
	}
	oid, err := store.WriteBlob(context.Background(), corrupt)
	if err != nil {
		t.Fatalf("write corrupt blob: %v", err)
	}
	shardOids[fwdPath] = oid

	strict, err := NewBitmapIndexReader(store, 16, true, nil)
	if err != nil {
		t.Fatalf("new strict reader: %v", err)
	}
	strict.Setup(shardOids)
	if _, err := strict.GetChildren(context.Background(), a); err == nil {
		t.Fatal("expected strict mode to return an error for a corrupt shard")
	}

	lenient, err := NewBitmapIndexReader(store, 16, false, nil)
	if err != nil {
		t.Fatalf("new lenient reader: %v", err)
	}
	lenient.Setup(shardOids)
	children, err := lenient.GetChildren(context.Background(), a)
	if err != nil {
		t.Fatalf("lenient mode should swallow the corrupt shard, got error: %v", err)
	}
	if len(children) != 0 {
		t.Fatalf("lenient mode should yield no children for a corrupt shard, got %v", children)
	}

	// Second call should hit the cached empty-shard marker, not reparse.
	children, err = lenient.GetChildren(context.Background(), a)
	if err != nil || len(children) != 0 {
		t.Fatalf("second lenient call: children=%v err=%v", children, err)
	}
}
