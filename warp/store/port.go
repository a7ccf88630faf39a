// Package store defines the storage port WARP's engine is built against
// (spec §6) plus two concrete backends, grounded in the teacher's
// pluggable store.Store[S] interface (graph/store/store.go) with its
// Mem/SQLite/MySQL implementations — here repurposed from persisting
// workflow steps/checkpoints to persisting content-addressed objects
// (blobs, trees, commits) and named refs.
package store

import (
	"context"
	"errors"

	"github.com/git-warp/warp"
)

// ErrNotFound is returned when a read targets an OID or ref the store
// has never seen, mirroring the teacher's store.ErrNotFound.
var ErrNotFound = errors.New("warp/store: not found")

// TreeEntry is one line of a tree object: "100644 blob <oid>\t<path>".
// WriteTree sorts entries by Path itself, so callers may pass any order.
type TreeEntry struct {
	OID  warp.OID
	Path string
}

// NodeInfo is a commit-like object's message, tree, and parent list.
type NodeInfo struct {
	Message string
	TreeOid warp.OID
	Parents []warp.OID
}

// Port is the storage contract WARP's engine requires of any backing
// object store (spec §6). Every operation may suspend on I/O; callers
// must pass a context that can cancel that suspension.
type Port interface {
	// WriteBlob is idempotent: identical bytes always produce the same OID.
	WriteBlob(ctx context.Context, data []byte) (warp.OID, error)
	// ReadBlob fails cleanly (ErrNotFound) if oid is unknown.
	ReadBlob(ctx context.Context, oid warp.OID) ([]byte, error)

	// WriteTree sorts entries by Path before hashing; input order does not
	// affect the resulting OID.
	WriteTree(ctx context.Context, entries []TreeEntry) (warp.OID, error)
	// ReadTreeOids returns the tree as a flat path-to-blob map.
	ReadTreeOids(ctx context.Context, oid warp.OID) (map[string]warp.OID, error)

	// CommitNodeWithTree creates a commit-like object pointing at treeOid.
	CommitNodeWithTree(ctx context.Context, treeOid warp.OID, parents []warp.OID, message string) (warp.OID, error)
	// CommitNode creates a commit-like object pointing at the empty tree.
	CommitNode(ctx context.Context, message string, parents []warp.OID) (warp.OID, error)

	ReadRef(ctx context.Context, name string) (warp.OID, bool, error)
	UpdateRef(ctx context.Context, name string, oid warp.OID) error

	// IsAncestor reports whether a is reachable from b by parent edges.
	IsAncestor(ctx context.Context, a, b warp.OID) (bool, error)

	GetNodeInfo(ctx context.Context, oid warp.OID) (NodeInfo, error)
}
