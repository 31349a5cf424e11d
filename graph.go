package pregel

import (
	"fmt"
	"sort"
)

// ChannelFactory produces a fresh, empty Channel of a fixed variant and
// configuration. Graph stores one factory per declared channel name so
// every run starts from a clean instance and checkpoints can rehydrate
// one via Channel.FromCheckpoint.
type ChannelFactory func() Channel

// Graph is the mutable builder for a Pregel graph: a set of named
// channels and the nodes that trigger off them. Build one with NewGraph,
// register nodes and channels, then call Compile to obtain an immutable
// CompiledGraph an engine can run.
type Graph struct {
	nodes    map[string]*PregelNode
	channels map[string]ChannelFactory
	entries  []string
}

// NewGraph creates an empty Graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:    make(map[string]*PregelNode),
		channels: make(map[string]ChannelFactory),
	}
}

// AddChannel registers a user channel. name must not be one of the
// reserved names in reserved.go.
func (g *Graph) AddChannel(name string, factory ChannelFactory) error {
	if IsReserved(name) {
		return fmt.Errorf("%w: %s", ErrReservedChannel, name)
	}
	if factory == nil {
		return fmt.Errorf("pregel: channel %q needs a non-nil factory", name)
	}
	g.channels[name] = factory
	return nil
}

// AddNode registers a node. Node names must be unique and Bound must be
// set; triggers and read/write channels are validated at Compile time,
// once every AddChannel/AddNode call has been made.
func (g *Graph) AddNode(node *PregelNode) error {
	if node == nil || node.Name == "" {
		return fmt.Errorf("pregel: node name cannot be empty")
	}
	if node.Bound == nil {
		return fmt.Errorf("pregel: node %q has no bound computation", node.Name)
	}
	if _, exists := g.nodes[node.Name]; exists {
		return fmt.Errorf("pregel: duplicate node %q", node.Name)
	}
	if node.RetryPolicy != nil {
		if err := node.RetryPolicy.Validate(); err != nil {
			return fmt.Errorf("pregel: node %q: %w", node.Name, err)
		}
	}
	if node.CachePolicy != nil {
		if err := node.CachePolicy.Validate(); err != nil {
			return fmt.Errorf("pregel: node %q: %w", node.Name, err)
		}
	}
	g.nodes[node.Name] = node
	return nil
}

// SetEntry marks nodeName as triggered by the reserved start channel, so
// a run's initial input reaches it at step 0 without the caller needing
// to declare __start__ as an explicit trigger.
func (g *Graph) SetEntry(nodeName string) error {
	node, ok := g.nodes[nodeName]
	if !ok {
		return fmt.Errorf("pregel: entry node %q not registered", nodeName)
	}
	node.Triggers = append(node.Triggers, ChannelStart)
	g.entries = append(g.entries, nodeName)
	return nil
}

// CompiledGraph is Graph's immutable, validated form. It is safe for
// concurrent use by multiple Pregel engines and multiple concurrent runs
// of the same engine.
type CompiledGraph struct {
	nodes    map[string]*PregelNode
	channels map[string]ChannelFactory
	entries  []string
}

// Compile validates the graph and freezes it. Validation checks:
//   - at least one entry point is set
//   - every node trigger and read channel names either a declared channel
//     or a reserved one
//   - every node's declared Writers names either a declared channel, a
//     reserved channel, or __tasks__ for Send-based dispatch
func (g *Graph) Compile() (*CompiledGraph, error) {
	if len(g.entries) == 0 {
		return nil, fmt.Errorf("pregel: graph has no entry point, call SetEntry")
	}

	known := func(name string) bool {
		if IsReserved(name) || name == ChannelTasks {
			return true
		}
		_, ok := g.channels[name]
		return ok
	}

	var names []string
	for name := range g.nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		node := g.nodes[name]
		for _, c := range node.Triggers {
			if !known(c) {
				return nil, fmt.Errorf("pregel: node %q triggers undeclared channel %q", name, c)
			}
		}
		for _, c := range node.Channels.List {
			if !known(c) {
				return nil, fmt.Errorf("pregel: node %q reads undeclared channel %q", name, c)
			}
		}
		for _, c := range node.Channels.Map {
			if !known(c) {
				return nil, fmt.Errorf("pregel: node %q reads undeclared channel %q", name, c)
			}
		}
		for _, c := range node.Writers {
			if !known(c) {
				return nil, fmt.Errorf("pregel: node %q writes undeclared channel %q", name, c)
			}
		}
	}

	channels := make(map[string]ChannelFactory, len(g.channels)+3)
	for name, f := range g.channels {
		channels[name] = f
	}
	channels[ChannelStart] = func() Channel { return NewLastValue() }
	channels[ChannelEnd] = func() Channel { return NewTopic(false, true) }
	channels[ChannelInterrupt] = func() Channel { return NewTopic(false, true) }

	nodes := make(map[string]*PregelNode, len(g.nodes))
	for k, v := range g.nodes {
		nodes[k] = v
	}

	return &CompiledGraph{
		nodes:    nodes,
		channels: channels,
		entries:  append([]string(nil), g.entries...),
	}, nil
}

// newChannelSet instantiates one fresh Channel per declared factory.
func (cg *CompiledGraph) newChannelSet() map[string]Channel {
	out := make(map[string]Channel, len(cg.channels))
	for name, f := range cg.channels {
		out[name] = f()
	}
	return out
}

// hydrateChannels builds a channel set from a checkpoint's persisted
// values, falling back to a fresh Empty() channel for anything the
// checkpoint never wrote.
func (cg *CompiledGraph) hydrateChannels(cp *Checkpoint) map[string]Channel {
	fresh := cg.newChannelSet()
	out := make(map[string]Channel, len(fresh))
	for name, ch := range fresh {
		if snap, ok := cp.ChannelValues[name]; ok {
			out[name] = ch.FromCheckpoint(snap)
		} else {
			out[name] = ch.Empty()
		}
	}
	return out
}
