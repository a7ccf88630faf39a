package graph

import (
	"context"
	"testing"

	"github.com/git-warp/warp"
	"github.com/git-warp/warp/store"
)

func TestMemorySeekCache_PutThenGet(t *testing.T) {
	ctx := context.Background()
	c := NewMemorySeekCache()

	if _, ok, err := c.Get(ctx, "k1"); err != nil || ok {
		t.Fatalf("expected miss on empty cache, got ok=%v err=%v", ok, err)
	}

	s := warp.NewState()
	if err := c.Put(ctx, "k1", s); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok, err := c.Get(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if got != s {
		t.Fatal("expected the identical cached state pointer back")
	}
}

func TestStorageSeekCache_PutThenGet(t *testing.T) {
	ctx := context.Background()
	port := store.NewMemory()
	c := NewStorageSeekCache(port, "g1")

	if _, ok, err := c.Get(ctx, "k1"); err != nil || ok {
		t.Fatalf("expected miss on empty cache, got ok=%v err=%v", ok, err)
	}

	s := warp.NewState()
	s.NodeAlive.Add("a", warp.Dot{WriterID: "alice", Counter: 1})

	if err := c.Put(ctx, "k1", s); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok, err := c.Get(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if len(got.Visible().Nodes) != 1 {
		t.Fatalf("expected the round-tripped state to still show 1 node, got %+v", got.Visible().Nodes)
	}
}

func TestStorageSeekCache_CorruptEntryIsTreatedAsMiss(t *testing.T) {
	ctx := context.Background()
	port := store.NewMemory()
	c := NewStorageSeekCache(port, "g1")

	badOid, err := port.WriteBlob(ctx, []byte("not valid cbor"))
	if err != nil {
		t.Fatalf("write bad blob: %v", err)
	}
	if err := port.UpdateRef(ctx, c.refName("k1"), badOid); err != nil {
		t.Fatalf("update ref: %v", err)
	}

	_, ok, err := c.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("expected a corrupted entry to be treated as a miss, not an error: %v", err)
	}
	if ok {
		t.Fatal("expected a corrupted entry to report a cache miss")
	}
}
