package emit

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestLogEmitter_TextMode(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(&buf, false)
	e.Emit(Event{Graph: "g1", Msg: "patch_applied", Meta: map[string]interface{}{"writer": "alice"}})

	out := buf.String()
	if !strings.Contains(out, "[patch_applied]") || !strings.Contains(out, "graph=g1") {
		t.Errorf("unexpected text output: %q", out)
	}
}

func TestLogEmitter_JSONMode(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(&buf, true)
	e.Emit(Event{Graph: "g1", Msg: "gc_ran"})

	out := buf.String()
	if !strings.Contains(out, `"msg":"gc_ran"`) {
		t.Errorf("expected JSON output to contain msg field, got %q", out)
	}
}

func TestNullEmitter_DiscardsEverything(t *testing.T) {
	e := NewNullEmitter()
	e.Emit(Event{Graph: "g1", Msg: "patch_applied"})
	if err := e.EmitBatch(context.Background(), []Event{{Msg: "x"}}); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

func TestBufferedEmitter_HistoryAndFilter(t *testing.T) {
	e := NewBufferedEmitter()
	e.Emit(Event{Graph: "g1", Msg: "patch_applied"})
	e.Emit(Event{Graph: "g1", Msg: "gc_ran"})
	e.Emit(Event{Graph: "g2", Msg: "patch_applied"})

	if got := len(e.History("g1")); got != 2 {
		t.Errorf("expected 2 events for g1, got %d", got)
	}
	if got := len(e.HistoryWithMsg("g1", "gc_ran")); got != 1 {
		t.Errorf("expected 1 gc_ran event for g1, got %d", got)
	}

	e.Clear("g1")
	if got := len(e.History("g1")); got != 0 {
		t.Errorf("expected 0 events for g1 after clear, got %d", got)
	}
	if got := len(e.History("g2")); got != 1 {
		t.Errorf("expected g2 untouched, got %d", got)
	}
}
