package warp

import (
	"testing"
	"time"
)

func TestGCPolicy_Validate(t *testing.T) {
	if err := (GCPolicy{}).Validate(); err == nil {
		t.Errorf("expected error for a policy with no triggers enabled")
	}
	if err := (GCPolicy{MaxTombstoneRatio: 1.5}).Validate(); err == nil {
		t.Errorf("expected error for out-of-range ratio")
	}
	if err := (GCPolicy{MaxTombstoneCount: 100}).Validate(); err != nil {
		t.Errorf("expected valid policy, got %v", err)
	}
}

func TestGCPolicy_ShouldRun(t *testing.T) {
	p := GCPolicy{MaxTombstoneCount: 10}
	if p.ShouldRun(GCStats{TombstoneCount: 5}, time.Now()) {
		t.Errorf("expected no trigger below threshold")
	}
	if !p.ShouldRun(GCStats{TombstoneCount: 10}, time.Now()) {
		t.Errorf("expected trigger at threshold")
	}
}

// TestState_RunGC_Property6 verifies property 6: every tombstoned dot
// remaining after a compacting run has a counter strictly greater than
// appliedVV.get(writerId).
func TestState_RunGC_Property6(t *testing.T) {
	state := NewState()
	state.NodeAlive.Add("a", Dot{WriterID: "alice", Counter: 1})
	state.NodeAlive.Add("a", Dot{WriterID: "alice", Counter: 2})
	state.NodeAlive.Remove("a")

	state.RunGC()

	vv := state.AppliedVV()
	for d := range state.NodeAlive.Tombstones {
		if d.Counter <= vv.Get(d.WriterID) {
			t.Errorf("expected tombstoned dot %s to have counter > appliedVV[%s]=%d", d, d.WriterID, vv.Get(d.WriterID))
		}
	}
}
