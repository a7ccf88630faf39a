package index

import (
	"testing"

	"github.com/git-warp/warp"
)

func TestCheckStaleness_S5_AdvancedWriter(t *testing.T) {
	indexed := map[string]warp.OID{"alice": "x"}
	current := map[string]warp.OID{"alice": "y"}

	report := CheckStaleness(indexed, current)
	if !report.Stale {
		t.Fatal("expected stale=true")
	}
	if len(report.AdvancedWriters) != 1 || report.AdvancedWriters[0] != "alice" {
		t.Fatalf("advancedWriters = %v, want [alice]", report.AdvancedWriters)
	}
}

func TestCheckStaleness_NoChange(t *testing.T) {
	indexed := map[string]warp.OID{"alice": "x", "bob": "z"}
	current := map[string]warp.OID{"alice": "x", "bob": "z"}

	report := CheckStaleness(indexed, current)
	if report.Stale {
		t.Fatalf("expected stale=false, got advanced=%v", report.AdvancedWriters)
	}
	if len(report.AdvancedWriters) != 0 {
		t.Fatalf("expected no advanced writers, got %v", report.AdvancedWriters)
	}
}

func TestCheckStaleness_NewWriter(t *testing.T) {
	indexed := map[string]warp.OID{"alice": "x"}
	current := map[string]warp.OID{"alice": "x", "bob": "z"}

	report := CheckStaleness(indexed, current)
	if !report.Stale {
		t.Fatal("expected stale=true when a new writer joined")
	}
	if len(report.AdvancedWriters) != 1 || report.AdvancedWriters[0] != "bob" {
		t.Fatalf("advancedWriters = %v, want [bob]", report.AdvancedWriters)
	}
}
