// Package emit provides event emission and observability for Pregel loop
// execution.
package emit

// Event is a single tagged item on the Pregel loop's stream, matching the
// event stream contract: the loop yields events tagged with a
// stream Mode and an optional subgraph Namespace.
//
// Events provide insight into loop execution:
//   - post-step channel snapshots ("values")
//   - per-node write maps ("updates")
//   - token-level message chunks ("messages"/"messages-tuple")
//   - user-written chunks ("custom")
//   - full checkpoints ("checkpoints")
//   - task creation/result/error ("tasks")
//   - internal diagnostics ("debug")
//   - structured failures ("error")
type Event struct {
	// ThreadID identifies the run this event belongs to.
	ThreadID string

	// Namespace is the subgraph path this event originated from; empty
	// for the root run.
	Namespace string

	// Mode names which stream category this event belongs to: values,
	// updates, messages, messages-tuple, custom, checkpoints, tasks,
	// debug, or error.
	Mode string

	// Step is the superstep this event was produced during. Zero for
	// run-level events (start, complete).
	Step int

	// NodeID identifies which node emitted this event. Empty for
	// step/run-level events.
	NodeID string

	// Msg is a short, human-readable description.
	Msg string

	// Payload carries the mode-specific data: a channel_values map for
	// "values", a node->writes map for "updates", the checkpoint for
	// "checkpoints", a TaskError for "error", and so on.
	Payload any

	// Meta carries additional structured data, e.g. duration_ms,
	// checkpoint_id, retryable.
	Meta map[string]any
}
