package pregel

import "strings"

// Namespace identifies a subgraph's position in the caller hierarchy as a
// colon-joined path, used to disambiguate checkpoints of nested runs. The
// root run's namespace is the empty string.
type Namespace string

// Join appends a task ID segment to ns, matching the task-config
// namespace rule: parent_ns joined with ":" and the task id.
func (ns Namespace) Join(taskID string) Namespace {
	if ns == "" {
		return Namespace(taskID)
	}
	return Namespace(string(ns) + ":" + taskID)
}

// Parent returns the namespace with its last colon-delimited segment
// removed, or the empty namespace if ns has no parent.
func (ns Namespace) Parent() Namespace {
	i := strings.LastIndex(string(ns), ":")
	if i < 0 {
		return ""
	}
	return Namespace(ns[:i])
}

// ParentCheckpoints carries the ancestor chain of checkpoint IDs for a
// running task, keyed by namespace, so that a task executing a nested
// Pregel run can locate its ancestor's checkpoint.
// This is the CHECKPOINT_MAP of the source system.
type ParentCheckpoints map[Namespace]string

// WithAncestor returns a copy of pc with ns mapped to checkpointID.
func (pc ParentCheckpoints) WithAncestor(ns Namespace, checkpointID string) ParentCheckpoints {
	out := make(ParentCheckpoints, len(pc)+1)
	for k, v := range pc {
		out[k] = v
	}
	out[ns] = checkpointID
	return out
}
