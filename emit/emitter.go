package emit

import "context"

// Emitter receives stream events from a running Pregel loop.
//
// Implementations should be:
//   - Non-blocking: avoid slowing down the loop (the loop does not
//     advance to the next step until the current step's events are
//     delivered, so a slow Emitter is itself a form of backpressure —
//     implementations that want to decouple should buffer internally).
//   - Thread-safe: Emit may be called concurrently by tasks within a
//     superstep (e.g. "custom" events written mid-task).
//   - Resilient: must not panic; handle backend failures internally.
type Emitter interface {
	// Emit sends a single event to the configured backend.
	Emit(event Event)

	// EmitBatch sends multiple events in one operation, preserving
	// order. Returns an error only on catastrophic failure; individual
	// event failures should be logged, not returned.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until all buffered events have been delivered, or
	// ctx is done. Safe to call multiple times.
	Flush(ctx context.Context) error
}
