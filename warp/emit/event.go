// Package emit is WARP's observability layer: engine events flow through
// an Emitter rather than a logging library directly, the same shape the
// teacher engine uses for node-execution events, retargeted here at
// patch/checkpoint/index/GC/ref events.
package emit

// Event is one observable occurrence in the materialization pipeline.
// Msg is one of: "patch_applied", "patch_skipped", "checkpoint_created",
// "checkpoint_loaded", "index_rebuilt", "index_stale", "gc_ran",
// "ref_synced", "shard_load_failed".
type Event struct {
	Graph string                 `json:"graph"`
	Msg   string                 `json:"msg"`
	Meta  map[string]interface{} `json:"meta,omitempty"`
}
