package events

import (
	"sync"

	"nervix/core/types"
)

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, the mirror).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards all events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer collects events in emission order. The node uses one per message so
// events of a rejected operation are never published.
type Buffer struct {
	mu     sync.Mutex
	events []types.Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if b == nil || evt == nil || evt.Event() == nil {
		return
	}
	b.mu.Lock()
	b.events = append(b.events, cloneEvent(*evt.Event()))
	b.mu.Unlock()
}

// Events returns a copy of the buffered events.
func (b *Buffer) Events() []types.Event {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.Event, len(b.events))
	for i := range b.events {
		out[i] = cloneEvent(b.events[i])
	}
	return out
}

// Reset drops all buffered events.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.events = nil
	b.mu.Unlock()
}

func cloneEvent(evt types.Event) types.Event {
	attrs := make(map[string]string, len(evt.Attributes))
	for k, v := range evt.Attributes {
		attrs[k] = v
	}
	return types.Event{Type: evt.Type, Attributes: attrs}
}
