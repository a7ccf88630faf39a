package graph

import (
	"context"
	"fmt"
	"sync"

	"github.com/git-warp/warp"
	"github.com/git-warp/warp/checkpoint"
	"github.com/git-warp/warp/store"
)

// SeekCache is the persistent seek cache spec §4.8 says materializeAt
// "may consult first": a store of ceiling-bounded materialization
// results keyed by a fingerprint of (ceiling, frontier), mirroring the
// teacher's pluggable store.Store[S] interface (one capability, multiple
// backends) rather than hardcoding the in-memory form.
type SeekCache interface {
	Get(ctx context.Context, key string) (*warp.State, bool, error)
	Put(ctx context.Context, key string, state *warp.State) error
}

// MemorySeekCache is the in-memory SeekCache, equivalent to the teacher's
// MemStore[S]: a mutex-guarded map, gone when the process exits.
type MemorySeekCache struct {
	mu      sync.Mutex
	entries map[string]*warp.State
}

// NewMemorySeekCache builds an empty in-memory seek cache.
func NewMemorySeekCache() *MemorySeekCache {
	return &MemorySeekCache{entries: make(map[string]*warp.State)}
}

func (c *MemorySeekCache) Get(_ context.Context, key string) (*warp.State, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.entries[key]
	return state, ok, nil
}

func (c *MemorySeekCache) Put(_ context.Context, key string, state *warp.State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = state
	return nil
}

// StorageSeekCache persists seek cache entries through a storage Port, at
// refs/warp/<graph>/seekcache/<key>, so a materializeAt result survives a
// process restart. A corrupted or unreadable entry is treated as a cache
// miss rather than an error — self-healing, since Put will simply
// overwrite it with a fresh, valid entry on the next write.
type StorageSeekCache struct {
	port  store.Port
	graph string
}

// NewStorageSeekCache builds a seek cache backed by port for one graph.
func NewStorageSeekCache(port store.Port, graph string) *StorageSeekCache {
	return &StorageSeekCache{port: port, graph: graph}
}

func (c *StorageSeekCache) refName(key string) string {
	return fmt.Sprintf("refs/warp/%s/seekcache/%s", c.graph, key)
}

func (c *StorageSeekCache) Get(ctx context.Context, key string) (*warp.State, bool, error) {
	oid, ok, err := c.port.ReadRef(ctx, c.refName(key))
	if err != nil {
		return nil, false, fmt.Errorf("graph: read seek cache ref: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	data, err := c.port.ReadBlob(ctx, oid)
	if err != nil {
		// Self-heal: an unreadable blob is a cache miss, not a fatal error.
		return nil, false, nil
	}
	state, err := checkpoint.DeserializeFullState(data)
	if err != nil {
		// Self-heal: a corrupted entry is a cache miss, not a fatal error.
		return nil, false, nil
	}
	return state, true, nil
}

func (c *StorageSeekCache) Put(ctx context.Context, key string, state *warp.State) error {
	data, err := checkpoint.SerializeFullState(state)
	if err != nil {
		return fmt.Errorf("graph: serialize seek cache entry: %w", err)
	}
	oid, err := c.port.WriteBlob(ctx, data)
	if err != nil {
		return fmt.Errorf("graph: write seek cache blob: %w", err)
	}
	return c.port.UpdateRef(ctx, c.refName(key), oid)
}

// ctxAbortSignal adapts a context.Context to index.AbortSignal so
// cancellation propagates into long-running index operations the same
// way spec §5 describes ("abort signal propagates through rebuild,
// streaming flush, chunk merge, finalize").
type ctxAbortSignal struct {
	ctx context.Context
}

func (a ctxAbortSignal) Aborted() bool {
	return a.ctx.Err() != nil
}
