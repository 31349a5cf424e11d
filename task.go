package pregel

import (
	"encoding/json"
	"sort"

	"github.com/google/uuid"
)

// TaskKind distinguishes tasks derived from a trigger-channel version
// bump (pull) from tasks derived from a pending Send packet (push).
type TaskKind string

const (
	TaskPull TaskKind = "__pregel_pull__"
	TaskPush TaskKind = "__pregel_push__"
)

// TaskConfig is the per-task configuration threaded through a running
// node's Runnable. It is deliberately explicit rather than ambient
// (design note 9): every piece of per-task state a node needs — its
// writer, its reader, its resume lookup, its namespace — is reachable
// only through the *TaskConfig passed into Runnable.Run, never through
// package-level state, so concurrent tasks within a step never share
// mutable context.
type TaskConfig struct {
	TaskID       string
	NodeName     string
	Step         int
	Triggers     []string
	Namespace    Namespace
	CheckpointNS string

	// ParentCheckpoints carries the ancestor checkpoint-id chain for
	// subgraph tasks.
	ParentCheckpoints ParentCheckpoints

	// Metadata records {step, node, triggers} for observability.
	Metadata map[string]any

	writes []ChannelWrite
	reader func(channel string, fresh bool) (any, error)

	resume         *resumeValues
	interruptCalls int

	// custom receives values written through the config writer for the
	// "custom" stream mode, independent of channel writes.
	custom func(value any)
}

// Write records a channel write against the task's local write buffer;
// it is not visible to other tasks until apply-writes runs after the
// whole step completes.
func (c *TaskConfig) Write(channel string, value any) {
	c.writes = append(c.writes, ChannelWrite{Channel: channel, Value: value})
}

// Read returns the current value of channel as seen at the start of the
// step (not including this or any other in-flight task's writes).
func (c *TaskConfig) Read(channel string) (any, error) {
	return c.reader(channel, false)
}

// ReadFresh returns channel's value with this task's own writes so far
// (via Write, earlier in the same Run) applied on top of the step-start
// value. It never observes another task's writes, only this task's own,
// and never mutates the channel itself.
func (c *TaskConfig) ReadFresh(channel string) (any, error) {
	return c.reader(channel, true)
}

// StreamCustom emits value on the "custom" stream mode, tagged with the
// emitting node's name.
func (c *TaskConfig) StreamCustom(value any) {
	if c.custom != nil {
		c.custom(value)
	}
}

// Task is the ephemeral per-step unit of work computed by prepareTasks.
// Its ID is deterministic from (namespace, step, node, kind, key, parent
// checkpoint id) so re-preparing the same checkpoint and
// step always yields identical task IDs, which is what makes resume
// correct.
type Task struct {
	ID       string
	Kind     TaskKind
	NodeName string
	Node     *PregelNode

	// Triggers is the sorted set of trigger channels that fired this
	// task (pull tasks only).
	Triggers []string

	// SendIndex is this task's index into the checkpoint's pending
	// sends (push tasks only).
	SendIndex int

	Input any

	Config *TaskConfig
}

// deterministicTaskID computes the uuid5 scheme: a namespace
// UUID derived from the parent checkpoint's ID, seeded further with a
// JSON-encoded (namespace, step, node, kind, key) tuple.
func deterministicTaskID(ns Namespace, step int, node string, kind TaskKind, key any, parentCheckpointID string) string {
	nsUUID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(parentCheckpointID))
	keyBytes, _ := json.Marshal([]any{string(ns), step, node, string(kind), key})
	return uuid.NewSHA1(nsUUID, keyBytes).String()
}

// prepareTasks computes the task set for checkpoint cp at step, given
// the graph's node set (by name) and channel set (by name). namespace is
// the enclosing subgraph's namespace ("" at the root).
func prepareTasks(cp *Checkpoint, step int, nodes map[string]*PregelNode, channels map[string]Channel, ns Namespace, parents ParentCheckpoints) ([]*Task, []error) {
	var tasks []*Task
	var warnings []error

	// Push tasks: one per pending send, in stored order.
	for i, send := range cp.PendingSends {
		node, ok := nodes[send.Node]
		if !ok {
			warnings = append(warnings, &sendTargetError{Node: send.Node})
			continue
		}
		id := deterministicTaskID(ns, step, send.Node, TaskPush, i, cp.ID)
		tasks = append(tasks, &Task{
			ID:        id,
			Kind:      TaskPush,
			NodeName:  send.Node,
			Node:      node,
			SendIndex: i,
			Input:     send.Args,
			Config:    newTaskConfig(id, send.Node, step, nil, ns, parents, channels),
		})
	}

	// Pull tasks: one per triggered node, ordered by sorted node name so
	// that, combined with the push tasks above, apply-writes sees a
	// deterministic per-step task order.
	var names []string
	for name := range nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		node := nodes[name]
		triggered, triggers := isTriggered(node, cp)
		if !triggered {
			continue
		}
		input, ok := resolveInput(node, channels, cp)
		if !ok {
			continue
		}
		if node.Mapper != nil {
			input = node.Mapper(input)
		}
		sortedTriggers := append([]string(nil), triggers...)
		sort.Strings(sortedTriggers)
		id := deterministicTaskID(ns, step, name, TaskPull, sortedTriggers, cp.ID)
		tasks = append(tasks, &Task{
			ID:       id,
			Kind:     TaskPull,
			NodeName: name,
			Node:     node,
			Triggers: sortedTriggers,
			Input:    input,
			Config:   newTaskConfig(id, name, step, sortedTriggers, ns, parents, channels),
		})
	}

	return tasks, warnings
}

// newTaskConfig builds a task's config, including its READ accessor:
// a closure over the step's live channel set that, for a "fresh" read,
// folds the task's own writes so far on top of a scratch copy of the
// channel rather than the channel's step-start value.
func newTaskConfig(taskID, node string, step int, triggers []string, ns Namespace, parents ParentCheckpoints, channels map[string]Channel) *TaskConfig {
	cfg := &TaskConfig{
		TaskID:            taskID,
		NodeName:          node,
		Step:              step,
		Triggers:          triggers,
		Namespace:         ns.Join(taskID),
		ParentCheckpoints: parents,
		Metadata: map[string]any{
			"step":     step,
			"node":     node,
			"triggers": triggers,
		},
	}
	cfg.reader = func(channel string, fresh bool) (any, error) {
		ch, ok := channels[channel]
		if !ok {
			return nil, ErrChannelNotFound
		}
		if !fresh {
			return ch.Get()
		}
		var own []any
		for _, w := range cfg.writes {
			if w.Channel == channel {
				own = append(own, w.Value)
			}
		}
		if len(own) == 0 {
			return ch.Get()
		}
		scratch := ch.FromCheckpoint(ch.Checkpoint())
		if _, err := scratch.Update(own); err != nil {
			return nil, err
		}
		return scratch.Get()
	}
	return cfg
}

// isTriggered reports a node eligible iff at least one
// trigger channel's version exceeds the version the node last saw it at.
func isTriggered(node *PregelNode, cp *Checkpoint) (bool, []string) {
	var fired []string
	for _, c := range node.Triggers {
		cur, ok := cp.ChannelVersions[c]
		if !ok {
			continue
		}
		seen := nullVersion
		if m, ok := cp.VersionsSeen[node.Name]; ok {
			if v, ok := m[c]; ok {
				seen = v
			}
		}
		if cur > seen {
			fired = append(fired, c)
		}
	}
	return len(fired) > 0, fired
}

// resolveInput implements a node's channel-read resolution for its
// ChannelSpec. The second return is false when the node has nothing
// readable and should be skipped this step.
func resolveInput(node *PregelNode, channels map[string]Channel, cp *Checkpoint) (any, bool) {
	switch {
	case len(node.Channels.List) > 0:
		for _, name := range node.Channels.List {
			ch, ok := channels[name]
			if !ok {
				continue
			}
			v, err := ch.Get()
			if err == nil {
				return v, true
			}
		}
		return nil, false

	case node.Channels.Map != nil:
		required := node.triggerSet()
		out := make(map[string]any, len(node.Channels.Map))
		anyReadable := false
		for key, chanName := range node.Channels.Map {
			ch, ok := channels[chanName]
			if !ok {
				continue
			}
			v, err := ch.Get()
			if err != nil {
				if required[chanName] {
					return nil, false
				}
				continue
			}
			out[key] = v
			anyReadable = true
		}
		if !anyReadable {
			return nil, false
		}
		return out, true

	default:
		return nil, true
	}
}

// sendTargetError records a Send whose target node is not part of the
// compiled graph; the packet is dropped, not fatal.
type sendTargetError struct {
	Node string
}

func (e *sendTargetError) Error() string {
	return ErrNodeNotFound.Error() + ": " + e.Node
}

func (e *sendTargetError) Unwrap() error { return ErrNodeNotFound }
