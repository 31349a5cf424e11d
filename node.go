package pregel

import (
	"context"
	"time"
)

// Runnable is the bound computation a PregelNode executes. It receives
// the resolved input (per the node's Channels read-spec) and the
// per-task config threaded through TaskConfig (writer, reader, resume
// lookup, namespace). It returns writes as a set of channel/value pairs,
// or an error; a *GraphInterrupt error pauses the run.
type Runnable interface {
	Run(ctx context.Context, input any, cfg *TaskConfig) ([]ChannelWrite, error)
}

// RunnableFunc adapts a plain function to the Runnable interface.
type RunnableFunc func(ctx context.Context, input any, cfg *TaskConfig) ([]ChannelWrite, error)

func (f RunnableFunc) Run(ctx context.Context, input any, cfg *TaskConfig) ([]ChannelWrite, error) {
	return f(ctx, input, cfg)
}

// ChannelWrite is a single (channel, value) pair produced by a node. The
// reserved channel name ChannelTasks carries Send packets; other names
// must resolve to a channel known to the graph.
type ChannelWrite struct {
	Channel string
	Value   any
}

// ChannelSpec describes how a node reads its input from one or more
// channels: either an ordered list (the first non-empty one wins) or a
// keyed map (each key reads its own channel, required iff that channel
// is also a trigger).
type ChannelSpec struct {
	List []string
	Map  map[string]string
}

// InputMapper transforms the raw channel read(s) into the value passed
// to Runnable.Run. It is applied after ChannelSpec resolution and may be
// nil, in which case the resolved value is passed through unchanged.
type InputMapper func(resolved any) any

// PregelNode is a static description of a graph node: which channels
// trigger it, which it reads, the bound computation, and its execution
// policies. PregelNode values are immutable once the graph is built; all
// per-run state lives in Task and Checkpoint.
type PregelNode struct {
	Name string

	// Triggers is the set of channels whose version bump makes this
	// node eligible in a step.
	Triggers []string

	// Channels describes how the node's input is resolved; see
	// ChannelSpec.
	Channels ChannelSpec

	// Mapper, if set, post-processes the resolved input.
	Mapper InputMapper

	// Bound is the computation this node runs when triggered.
	Bound Runnable

	// Writers is the static set of channels this node is declared to
	// write; used for validation when the graph is compiled. The node's
	// actual writes at runtime are whatever Bound
	// returns, which must be a subset in a well-formed graph.
	Writers []string

	RetryPolicy *RetryPolicy
	CachePolicy *CachePolicy

	// Timeout overrides WithDefaultTaskTimeout for this node's attempts.
	// Zero defers to the engine-wide default; a negative value is treated
	// as "no timeout" even when the engine has one configured.
	Timeout time.Duration

	Tags     []string
	Metadata map[string]any
}

// triggerSet returns n.Triggers as a lookup set.
func (n *PregelNode) triggerSet() map[string]bool {
	set := make(map[string]bool, len(n.Triggers))
	for _, t := range n.Triggers {
		set[t] = true
	}
	return set
}
