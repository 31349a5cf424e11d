package emit

import (
	"context"
	"sync"
)

// BufferedEmitter stores events in memory, organized by ThreadID, so
// tests and interactive tooling can inspect a run's full event history
// after the fact.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.ThreadID] = append(b.events[event.ThreadID], event)
}

func (b *BufferedEmitter) EmitBatch(_ context.Context, events []Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range events {
		b.events[e.ThreadID] = append(b.events[e.ThreadID], e)
	}
	return nil
}

func (b *BufferedEmitter) Flush(context.Context) error { return nil }

// History returns a copy of every event recorded for threadID, in
// emission order.
func (b *BufferedEmitter) History(threadID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	events := b.events[threadID]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// HistoryByMode filters History(threadID) to events of the given mode.
func (b *BufferedEmitter) HistoryByMode(threadID, mode string) []Event {
	var out []Event
	for _, e := range b.History(threadID) {
		if e.Mode == mode {
			out = append(out, e)
		}
	}
	return out
}

// Clear removes stored events for threadID, or every thread if threadID
// is empty.
func (b *BufferedEmitter) Clear(threadID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if threadID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, threadID)
}
