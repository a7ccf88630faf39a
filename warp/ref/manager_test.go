package ref

import (
	"context"
	"testing"

	"github.com/git-warp/warp"
	"github.com/git-warp/warp/store"
)

func TestManager_SyncHead_NilCurrent(t *testing.T) {
	ctx := context.Background()
	port := store.NewMemory()
	m := NewManager(port, "g1", nil)

	newTip, _ := port.CommitNode(ctx, "patch", nil)
	result, err := m.SyncHead(ctx, "refs/warp/g1/writers/alice", newTip)
	if err != nil {
		t.Fatalf("SyncHead: %v", err)
	}
	if !result.Updated || result.Anchor || result.Sha != newTip {
		t.Errorf("unexpected result: %+v", result)
	}

	got, ok, err := port.ReadRef(ctx, "refs/warp/g1/writers/alice")
	if err != nil || !ok || got != newTip {
		t.Errorf("ref not updated correctly: got=%s ok=%v err=%v", got, ok, err)
	}
}

func TestManager_SyncHead_NoOpWhenUnchanged(t *testing.T) {
	ctx := context.Background()
	port := store.NewMemory()
	m := NewManager(port, "g1", nil)

	tip, _ := port.CommitNode(ctx, "patch", nil)
	_ = port.UpdateRef(ctx, "refs/x", tip)

	result, err := m.SyncHead(ctx, "refs/x", tip)
	if err != nil {
		t.Fatalf("SyncHead: %v", err)
	}
	if result.Updated {
		t.Errorf("expected no-op, got %+v", result)
	}
}

func TestManager_SyncHead_FastForward(t *testing.T) {
	ctx := context.Background()
	port := store.NewMemory()
	m := NewManager(port, "g1", nil)

	root, _ := port.CommitNode(ctx, "root", nil)
	child, _ := port.CommitNode(ctx, "child", []warp.OID{root})
	_ = port.UpdateRef(ctx, "refs/x", root)

	result, err := m.SyncHead(ctx, "refs/x", child)
	if err != nil {
		t.Fatalf("SyncHead: %v", err)
	}
	if !result.Updated || result.Anchor || result.Sha != child {
		t.Errorf("expected fast-forward, got %+v", result)
	}
}

// TestManager_SyncHead_S6_AnchorSynthesis reproduces scenario S6: current
// and newTip diverge (neither is an ancestor of the other), so syncHead
// must synthesize an anchor with parents [current, newTip] in order.
func TestManager_SyncHead_S6_AnchorSynthesis(t *testing.T) {
	ctx := context.Background()
	port := store.NewMemory()
	m := NewManager(port, "g1", nil)

	root, _ := port.CommitNode(ctx, "root", nil)
	a, _ := port.CommitNode(ctx, "branch-a", []warp.OID{root})
	b, _ := port.CommitNode(ctx, "branch-b", []warp.OID{root})
	_ = port.UpdateRef(ctx, "refs/x", a)

	result, err := m.SyncHead(ctx, "refs/x", b)
	if err != nil {
		t.Fatalf("SyncHead: %v", err)
	}
	if !result.Updated || !result.Anchor {
		t.Fatalf("expected anchor synthesis, got %+v", result)
	}

	info, err := port.GetNodeInfo(ctx, result.Sha)
	if err != nil {
		t.Fatalf("GetNodeInfo: %v", err)
	}
	if len(info.Parents) != 2 || info.Parents[0] != a || info.Parents[1] != b {
		t.Errorf("expected anchor parents [%s, %s], got %v", a, b, info.Parents)
	}

	got, ok, err := port.ReadRef(ctx, "refs/x")
	if err != nil || !ok || got != result.Sha {
		t.Errorf("ref not updated to anchor: got=%s ok=%v err=%v", got, ok, err)
	}
}

// TestManager_SyncHead_Property7 checks: anchor=true iff current != nil
// and current != newTip and current is not an ancestor of newTip.
func TestManager_SyncHead_Property7(t *testing.T) {
	ctx := context.Background()
	port := store.NewMemory()
	m := NewManager(port, "g1", nil)

	root, _ := port.CommitNode(ctx, "root", nil)
	descendant, _ := port.CommitNode(ctx, "descendant", []warp.OID{root})
	sibling, _ := port.CommitNode(ctx, "sibling", []warp.OID{root})

	cases := []struct {
		name       string
		current    *warp.OID
		newTip     warp.OID
		wantAnchor bool
	}{
		{"nil current", nil, root, false},
		{"unchanged", &root, root, false},
		{"fast-forward", &root, descendant, false},
		{"divergent", &descendant, sibling, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			refName := "refs/" + tc.name
			if tc.current != nil {
				if err := port.UpdateRef(ctx, refName, *tc.current); err != nil {
					t.Fatalf("UpdateRef: %v", err)
				}
			}
			result, err := m.SyncHead(ctx, refName, tc.newTip)
			if err != nil {
				t.Fatalf("SyncHead: %v", err)
			}
			if result.Anchor != tc.wantAnchor {
				t.Errorf("anchor = %v, want %v", result.Anchor, tc.wantAnchor)
			}
		})
	}
}
