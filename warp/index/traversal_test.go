package index

import (
	"context"
	"testing"

	"github.com/git-warp/warp"
)

// linearChain is a, b, c with edges a->b->c (a is parent of b, b parent of c).
func linearChainReader(t *testing.T) (*BitmapIndexReader, warp.OID, warp.OID, warp.OID) {
	t.Helper()
	store := newFakeBlobStore()
	a := warp.OID("aaaa000000000000000000000000000000000a")
	b := warp.OID("bbbb000000000000000000000000000000000b")
	c := warp.OID("cccc000000000000000000000000000000000c")

	shardOids := buildAndStore(t, store, [][2]warp.OID{{a, b}, {b, c}})
	r, err := NewBitmapIndexReader(store, 16, true, nil)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	r.Setup(shardOids)
	return r, a, b, c
}

func TestDagTraversal_BFS_Descendants(t *testing.T) {
	r, a, b, c := linearChainReader(t)
	tr := NewDagTraversal(r)

	visits, err := tr.Descendants(context.Background(), a, 100, 10, nil)
	if err != nil {
		t.Fatalf("descendants: %v", err)
	}
	if len(visits) != 3 {
		t.Fatalf("expected 3 visits, got %d: %+v", len(visits), visits)
	}
	if visits[0].Sha != a || visits[0].Depth != 0 {
		t.Fatalf("first visit should be start at depth 0, got %+v", visits[0])
	}
	gotDepths := map[warp.OID]int{}
	for _, v := range visits {
		gotDepths[v.Sha] = v.Depth
	}
	if gotDepths[b] != 1 || gotDepths[c] != 2 {
		t.Fatalf("unexpected depths: %+v", gotDepths)
	}
}

func TestDagTraversal_Ancestors(t *testing.T) {
	r, a, b, c := linearChainReader(t)
	tr := NewDagTraversal(r)

	visits, err := tr.Ancestors(context.Background(), c, 100, 10, nil)
	if err != nil {
		t.Fatalf("ancestors: %v", err)
	}
	shas := map[warp.OID]bool{}
	for _, v := range visits {
		shas[v.Sha] = true
	}
	if !shas[c] || !shas[b] || !shas[a] {
		t.Fatalf("expected c,b,a all reachable as ancestors, got %+v", visits)
	}
}

func TestDagTraversal_MaxDepthBounds(t *testing.T) {
	r, a, b, c := linearChainReader(t)
	tr := NewDagTraversal(r)

	visits, err := tr.Descendants(context.Background(), a, 100, 1, nil)
	if err != nil {
		t.Fatalf("descendants: %v", err)
	}
	for _, v := range visits {
		if v.Sha == c {
			t.Fatalf("maxDepth=1 should not reach c, got %+v", visits)
		}
	}
	_ = b
}

func TestDagTraversal_MaxNodesBounds(t *testing.T) {
	r, a, _, _ := linearChainReader(t)
	tr := NewDagTraversal(r)

	visits, err := tr.Descendants(context.Background(), a, 1, 10, nil)
	if err != nil {
		t.Fatalf("descendants: %v", err)
	}
	if len(visits) != 1 {
		t.Fatalf("expected exactly 1 visit with maxNodes=1, got %d", len(visits))
	}
}

func TestDagTraversal_IsReachable(t *testing.T) {
	r, a, _, c := linearChainReader(t)
	tr := NewDagTraversal(r)
	ctx := context.Background()

	ok, err := tr.IsReachable(ctx, a, c, 100, 10, Forward, nil)
	if err != nil {
		t.Fatalf("is reachable: %v", err)
	}
	if !ok {
		t.Fatal("expected c to be reachable from a")
	}

	ok, err = tr.IsReachable(ctx, c, a, 100, 10, Forward, nil)
	if err != nil {
		t.Fatalf("is reachable: %v", err)
	}
	if ok {
		t.Fatal("expected a not reachable from c going forward")
	}
}

func TestDagTraversal_DFS_VisitsAll(t *testing.T) {
	r, a, b, c := linearChainReader(t)
	tr := NewDagTraversal(r)

	visits, err := tr.DFS(context.Background(), a, 100, 10, Forward, nil)
	if err != nil {
		t.Fatalf("dfs: %v", err)
	}
	if len(visits) != 3 {
		t.Fatalf("expected 3 visits, got %d", len(visits))
	}
	seen := map[warp.OID]bool{}
	for _, v := range visits {
		seen[v.Sha] = true
	}
	if !seen[a] || !seen[b] || !seen[c] {
		t.Fatalf("DFS did not visit all nodes: %+v", visits)
	}
}
