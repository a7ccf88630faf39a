package store

import (
	"context"
	"testing"

	"github.com/git-warp/warp"
)

func TestMemory_BlobRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	oid, err := m.WriteBlob(ctx, []byte("hello"))
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	oid2, err := m.WriteBlob(ctx, []byte("hello"))
	if err != nil {
		t.Fatalf("WriteBlob (repeat): %v", err)
	}
	if oid != oid2 {
		t.Errorf("expected idempotent OID, got %s and %s", oid, oid2)
	}

	got, err := m.ReadBlob(ctx, oid)
	if err != nil {
		t.Fatalf("ReadBlob: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("expected %q, got %q", "hello", got)
	}
}

func TestMemory_ReadBlob_NotFound(t *testing.T) {
	m := NewMemory()
	if _, err := m.ReadBlob(context.Background(), "deadbeef"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemory_TreeRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	b1, _ := m.WriteBlob(ctx, []byte("a"))
	b2, _ := m.WriteBlob(ctx, []byte("b"))

	treeOid, err := m.WriteTree(ctx, []TreeEntry{
		{OID: b2, Path: "second"},
		{OID: b1, Path: "first"},
	})
	if err != nil {
		t.Fatalf("WriteTree: %v", err)
	}

	entries, err := m.ReadTreeOids(ctx, treeOid)
	if err != nil {
		t.Fatalf("ReadTreeOids: %v", err)
	}
	if entries["first"] != b1 || entries["second"] != b2 {
		t.Errorf("unexpected tree entries: %+v", entries)
	}
}

func TestMemory_CommitAndAncestry(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	root, err := m.CommitNode(ctx, "root", nil)
	if err != nil {
		t.Fatalf("CommitNode root: %v", err)
	}
	mid, err := m.CommitNode(ctx, "mid", []warp.OID{root})
	if err != nil {
		t.Fatalf("CommitNode mid: %v", err)
	}
	tip, err := m.CommitNode(ctx, "tip", []warp.OID{mid})
	if err != nil {
		t.Fatalf("CommitNode tip: %v", err)
	}

	ok, err := m.IsAncestor(ctx, root, tip)
	if err != nil {
		t.Fatalf("IsAncestor: %v", err)
	}
	if !ok {
		t.Errorf("expected root to be ancestor of tip")
	}

	ok, err = m.IsAncestor(ctx, tip, root)
	if err != nil {
		t.Fatalf("IsAncestor (reverse): %v", err)
	}
	if ok {
		t.Errorf("expected tip to not be ancestor of root")
	}

	info, err := m.GetNodeInfo(ctx, mid)
	if err != nil {
		t.Fatalf("GetNodeInfo: %v", err)
	}
	if info.Message != "mid" || len(info.Parents) != 1 || info.Parents[0] != root {
		t.Errorf("unexpected node info: %+v", info)
	}
}

func TestMemory_Refs(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, ok, err := m.ReadRef(ctx, "refs/heads/main"); err != nil || ok {
		t.Fatalf("expected missing ref, got ok=%v err=%v", ok, err)
	}

	oid, _ := m.CommitNode(ctx, "c1", nil)
	if err := m.UpdateRef(ctx, "refs/heads/main", oid); err != nil {
		t.Fatalf("UpdateRef: %v", err)
	}

	got, ok, err := m.ReadRef(ctx, "refs/heads/main")
	if err != nil || !ok || got != oid {
		t.Errorf("expected ref %s, got %s ok=%v err=%v", oid, got, ok, err)
	}
}
