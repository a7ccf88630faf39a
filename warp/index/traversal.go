package index

import (
	"context"

	"github.com/git-warp/warp"
)

// Direction selects which bitmap shard a traversal walks: forward
// follows children (descendants), reverse follows parents (ancestors).
type Direction int

const (
	Forward Direction = iota
	Reverse
)

// abortCheckInterval is how often (in yielded nodes) BFS/DFS check the
// abort signal, per spec §5's "every batch boundary (every 1,000 nodes
// in walks and traversals... is a cancellation point".
const abortCheckInterval = 1000

// NeighborSource is the subset of BitmapIndexReader a traversal needs.
type NeighborSource interface {
	GetChildren(ctx context.Context, sha warp.OID) ([]warp.OID, error)
	GetParents(ctx context.Context, sha warp.OID) ([]warp.OID, error)
}

// Visit is one node yielded by a traversal: its depth from start and the
// neighbor it was reached through (zero-value OID for start itself).
type Visit struct {
	Sha    warp.OID
	Depth  int
	Parent warp.OID
}

// DagTraversal runs BFS or DFS over a NeighborSource.
type DagTraversal struct {
	src NeighborSource
}

// NewDagTraversal builds a traversal over src (typically a BitmapIndexReader).
func NewDagTraversal(src NeighborSource) *DagTraversal {
	return &DagTraversal{src: src}
}

func (t *DagTraversal) neighbors(ctx context.Context, sha warp.OID, dir Direction) ([]warp.OID, error) {
	if dir == Forward {
		return t.src.GetChildren(ctx, sha)
	}
	return t.src.GetParents(ctx, sha)
}

// BFS walks breadth-first from start, yielding at most maxNodes visits
// no deeper than maxDepth, in the given direction. abort, if non-nil, is
// checked every 1,000 yielded nodes.
func (t *DagTraversal) BFS(ctx context.Context, start warp.OID, maxNodes, maxDepth int, dir Direction, abort AbortSignal) ([]Visit, error) {
	visited := map[warp.OID]bool{start: true}
	queue := []Visit{{Sha: start, Depth: 0}}
	var out []Visit

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		out = append(out, cur)

		if len(out)%abortCheckInterval == 0 && aborted(abort) {
			return nil, warp.NewAbortedError("index: BFS aborted")
		}
		if len(out) >= maxNodes {
			break
		}
		if cur.Depth >= maxDepth {
			continue
		}

		next, err := t.neighbors(ctx, cur.Sha, dir)
		if err != nil {
			return nil, err
		}
		for _, n := range next {
			if visited[n] {
				continue
			}
			visited[n] = true
			queue = append(queue, Visit{Sha: n, Depth: cur.Depth + 1, Parent: cur.Sha})
		}
	}
	return out, nil
}

// DFS walks depth-first from start with the same bounds as BFS.
func (t *DagTraversal) DFS(ctx context.Context, start warp.OID, maxNodes, maxDepth int, dir Direction, abort AbortSignal) ([]Visit, error) {
	visited := map[warp.OID]bool{start: true}
	stack := []Visit{{Sha: start, Depth: 0}}
	var out []Visit

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, cur)

		if len(out)%abortCheckInterval == 0 && aborted(abort) {
			return nil, warp.NewAbortedError("index: DFS aborted")
		}
		if len(out) >= maxNodes {
			break
		}
		if cur.Depth >= maxDepth {
			continue
		}

		next, err := t.neighbors(ctx, cur.Sha, dir)
		if err != nil {
			return nil, err
		}
		for i := len(next) - 1; i >= 0; i-- {
			n := next[i]
			if visited[n] {
				continue
			}
			visited[n] = true
			stack = append(stack, Visit{Sha: n, Depth: cur.Depth + 1, Parent: cur.Sha})
		}
	}
	return out, nil
}

// Ancestors is a thin alias for a reverse BFS: every node reachable by
// repeatedly following parent edges from start.
func (t *DagTraversal) Ancestors(ctx context.Context, start warp.OID, maxNodes, maxDepth int, abort AbortSignal) ([]Visit, error) {
	return t.BFS(ctx, start, maxNodes, maxDepth, Reverse, abort)
}

// Descendants is a thin alias for a forward BFS: every node reachable by
// repeatedly following child edges from start.
func (t *DagTraversal) Descendants(ctx context.Context, start warp.OID, maxNodes, maxDepth int, abort AbortSignal) ([]Visit, error) {
	return t.BFS(ctx, start, maxNodes, maxDepth, Forward, abort)
}

// IsReachable reports whether target is reachable from start in the
// given direction, falling back to a bounded BFS when no separate
// path-finder is available.
func (t *DagTraversal) IsReachable(ctx context.Context, start, target warp.OID, maxNodes, maxDepth int, dir Direction, abort AbortSignal) (bool, error) {
	if start == target {
		return true, nil
	}
	visits, err := t.BFS(ctx, start, maxNodes, maxDepth, dir, abort)
	if err != nil {
		return false, err
	}
	for _, v := range visits {
		if v.Sha == target {
			return true, nil
		}
	}
	return false, nil
}
