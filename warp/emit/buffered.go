package emit

import (
	"context"
	"sync"
)

// BufferedEmitter stores events in memory, organized by graph name, for
// query and testing. Not for production use with long-running or
// high-volume graphs (events are never evicted).
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // graph -> events
}

func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.Graph] = append(b.events[event.Graph], event)
}

func (b *BufferedEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		b.Emit(e)
	}
	return nil
}

func (b *BufferedEmitter) Flush(context.Context) error { return nil }

// History returns a copy of every event recorded for graph, in emission
// order.
func (b *BufferedEmitter) History(graph string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	events := b.events[graph]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// HistoryWithMsg filters History(graph) to events whose Msg equals msg.
func (b *BufferedEmitter) HistoryWithMsg(graph, msg string) []Event {
	var out []Event
	for _, e := range b.History(graph) {
		if e.Msg == msg {
			out = append(out, e)
		}
	}
	return out
}

// Clear removes stored events for graph, or every graph if graph == "".
func (b *BufferedEmitter) Clear(graph string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if graph == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, graph)
}
