package pregel

// Channel is a named, typed accumulator defining how concurrent writes in
// one superstep merge into a single observable value.
//
// Implementations are the five variants of C1: LastValue, AnyValue,
// EphemeralValue, Topic, and BinaryOperatorAggregate. A Channel instance
// is mutable, single-threaded state owned by one Pregel run; the loop
// never shares a Channel across concurrent runs.
//
// Every variant supports the same round-trip contract: for any non-empty
// channel, FromCheckpoint(Checkpoint()).Get() must equal Get(), including
// falsy values such as 0, "", false, and nil.
type Channel interface {
	// Update merges writes produced in one superstep into the channel.
	// It returns true iff the externally observable value changed, which
	// is what drives the version bump in apply-writes. It returns
	// ErrInvalidUpdate if the writes violate the channel's arity.
	Update(writes []any) (bool, error)

	// Get returns the channel's current value, or ErrEmptyChannel if the
	// channel has nothing to return (see each variant's doc comment for
	// when that applies).
	Get() (any, error)

	// Consume advances any state the channel owns for being "consumed on
	// read" and reports whether it did so. Only EphemeralValue does
	// anything here; every other variant always returns false. Apply-writes
	// calls this only for a task's triggering channels.
	Consume() bool

	// Checkpoint returns a serializable snapshot of the channel's current
	// value, suitable for json.Marshal and for later replay via
	// FromCheckpoint.
	Checkpoint() any

	// FromCheckpoint returns a new Channel of the same variant and
	// configuration as the receiver, loaded with the value snapshot
	// previously produced by Checkpoint. The receiver is not mutated.
	FromCheckpoint(snapshot any) Channel

	// Empty returns a new, freshly-initialized Channel of the same
	// variant and configuration as the receiver, with no value. Used to
	// seed a fresh run's channel set from a graph's channel templates.
	Empty() Channel
}
