package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/git-warp/warp"
)

type objectKind int

const (
	kindBlob objectKind = iota
	kindTree
	kindCommit
)

type object struct {
	kind    objectKind
	blob    []byte
	entries []TreeEntry
	message string
	parents []warp.OID
}

// emptyTreeOID is the content hash of a tree with zero entries. WriteTree
// of a nil/empty slice always returns this value, matching
// writeBlob/writeTree's idempotence contract.
var emptyTreeOID = hashTree(nil)

// Memory is an in-memory implementation of Port, mirroring the shape of
// the teacher's MemStore[S] (map-backed, mutex-guarded, thread-safe for
// concurrent access) but keyed by content hash rather than run id.
type Memory struct {
	mu      sync.RWMutex
	objects map[warp.OID]object
	refs    map[string]warp.OID
}

func NewMemory() *Memory {
	return &Memory{
		objects: make(map[warp.OID]object),
		refs:    make(map[string]warp.OID),
	}
}

func hashBytes(data []byte) warp.OID {
	sum := sha256.Sum256(data)
	return warp.OID(hex.EncodeToString(sum[:])[:40])
}

func hashTree(entries []TreeEntry) warp.OID {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "100644 blob %s\t%s\n", e.OID, e.Path)
	}
	return hashBytes([]byte(b.String()))
}

func hashCommit(treeOid warp.OID, parents []warp.OID, message string) warp.OID {
	var b strings.Builder
	fmt.Fprintf(&b, "tree %s\n", treeOid)
	for _, p := range parents {
		fmt.Fprintf(&b, "parent %s\n", p)
	}
	b.WriteString("\n")
	b.WriteString(message)
	return hashBytes([]byte(b.String()))
}

func (m *Memory) WriteBlob(_ context.Context, data []byte) (warp.OID, error) {
	oid := hashBytes(data)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.objects[oid]; !exists {
		cp := append([]byte(nil), data...)
		m.objects[oid] = object{kind: kindBlob, blob: cp}
	}
	return oid, nil
}

func (m *Memory) ReadBlob(_ context.Context, oid warp.OID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[oid]
	if !ok || obj.kind != kindBlob {
		return nil, ErrNotFound
	}
	return append([]byte(nil), obj.blob...), nil
}

func (m *Memory) WriteTree(_ context.Context, entries []TreeEntry) (warp.OID, error) {
	sorted := append([]TreeEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	oid := hashTree(sorted)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.objects[oid]; !exists {
		m.objects[oid] = object{kind: kindTree, entries: sorted}
	}
	return oid, nil
}

func (m *Memory) ReadTreeOids(_ context.Context, oid warp.OID) (map[string]warp.OID, error) {
	if oid == emptyTreeOID {
		return map[string]warp.OID{}, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[oid]
	if !ok || obj.kind != kindTree {
		return nil, ErrNotFound
	}
	out := make(map[string]warp.OID, len(obj.entries))
	for _, e := range obj.entries {
		out[e.Path] = e.OID
	}
	return out, nil
}

func (m *Memory) CommitNodeWithTree(_ context.Context, treeOid warp.OID, parents []warp.OID, message string) (warp.OID, error) {
	oid := hashCommit(treeOid, parents, message)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.objects[oid]; !exists {
		m.objects[oid] = object{
			kind:    kindCommit,
			message: message,
			parents: append([]warp.OID(nil), parents...),
			entries: nil,
			blob:    []byte(treeOid),
		}
	}
	return oid, nil
}

func (m *Memory) CommitNode(ctx context.Context, message string, parents []warp.OID) (warp.OID, error) {
	return m.CommitNodeWithTree(ctx, emptyTreeOID, parents, message)
}

func (m *Memory) ReadRef(_ context.Context, name string) (warp.OID, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	oid, ok := m.refs[name]
	return oid, ok, nil
}

func (m *Memory) UpdateRef(_ context.Context, name string, oid warp.OID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs[name] = oid
	return nil
}

func (m *Memory) IsAncestor(ctx context.Context, a, b warp.OID) (bool, error) {
	if a == b {
		return true, nil
	}
	visited := make(map[warp.OID]struct{})
	queue := []warp.OID{b}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, seen := visited[cur]; seen {
			continue
		}
		visited[cur] = struct{}{}
		info, err := m.GetNodeInfo(ctx, cur)
		if err != nil {
			continue
		}
		for _, p := range info.Parents {
			if p == a {
				return true, nil
			}
			queue = append(queue, p)
		}
	}
	return false, nil
}

func (m *Memory) GetNodeInfo(_ context.Context, oid warp.OID) (NodeInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[oid]
	if !ok || obj.kind != kindCommit {
		return NodeInfo{}, ErrNotFound
	}
	return NodeInfo{
		Message: obj.message,
		TreeOid: warp.OID(obj.blob),
		Parents: append([]warp.OID(nil), obj.parents...),
	}, nil
}
