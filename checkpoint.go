package pregel

import (
	"context"
	"time"
)

// Checkpoint is an immutable snapshot of a run's channel state taken at a
// superstep boundary. Checkpoints are never mutated after creation; a new
// step (or a user update_state call) always produces a new checkpoint
// linked to its parent by ParentID.
type Checkpoint struct {
	// V is the checkpoint format version, bumped when the on-disk shape
	// of Checkpoint changes.
	V int `json:"v"`

	// ID is a monotonic, lexicographically-ordered identifier. Sorting
	// checkpoint IDs within a thread recovers creation order.
	ID string `json:"id"`

	// ParentID is the checkpoint this one was derived from. Empty for
	// the initial checkpoint of a thread.
	ParentID string `json:"parent_id,omitempty"`

	// TS is the creation time.
	TS time.Time `json:"ts"`

	// ChannelValues holds the last committed value of every channel
	// that has ever been written, keyed by channel name.
	ChannelValues map[string]any `json:"channel_values"`

	// ChannelVersions holds the current version of every channel in
	// ChannelValues; the two maps share exactly the same key set
	// at all times.
	ChannelVersions map[string]Version `json:"channel_versions"`

	// VersionsSeen records, per node, the channel versions that were
	// current the last time that node triggered.
	VersionsSeen map[string]map[string]Version `json:"versions_seen"`

	// PendingSends holds Send packets produced by the prior step that
	// have not yet been dispatched as push tasks.
	PendingSends []Send `json:"pending_sends"`
}

// Version is a channel's monotonic version marker. Real backends may
// persist versions as integers or as lexicographically-ordered strings;
// the core only ever compares versions through maxVersion and nextVersion,
// so either representation is valid as long as a given saver is
// internally consistent. This implementation uses a plain int64 counter.
type Version int64

// nullVersion is the version attributed to a channel that has never been
// observed by a node, per the "absent entries treated as the
// null version" rule.
const nullVersion Version = 0

// NextVersionFunc computes the next version for a channel given the
// current maximum version across all channels in the checkpoint. Callers
// may supply a custom one (e.g. to namespace versions per channel); the
// default simply increments the global maximum.
type NextVersionFunc func(max Version, channel string) Version

func defaultNextVersion(max Version, _ string) Version {
	return max + 1
}

func maxVersion(versions map[string]Version) Version {
	max := nullVersion
	for _, v := range versions {
		if v > max {
			max = v
		}
	}
	return max
}

// CheckpointSource records why a checkpoint was created.
type CheckpointSource string

const (
	SourceInput  CheckpointSource = "input"
	SourceLoop   CheckpointSource = "loop"
	SourceUpdate CheckpointSource = "update"
	SourceFork   CheckpointSource = "fork"
)

// CheckpointMetadata carries the provenance of a checkpoint: how it was
// produced, at which step, what it wrote, and its position in any parent
// namespace chain (for subgraphs).
type CheckpointMetadata struct {
	Source  CheckpointSource  `json:"source"`
	Step    int                `json:"step"`
	Writes  map[string]any     `json:"writes,omitempty"`
	Parents map[string]string  `json:"parents,omitempty"`
}

// Send is an instruction to dispatch Node with Args in a later step,
// independent of channel triggers.
type Send struct {
	Node string `json:"node"`
	Args any    `json:"args"`
}

// Command is optional input to a run that controls interrupt-resume.
// Run and Stream read only Resume; Update and Goto are carried on the
// struct but are not read by the engine, so a Command does not mutate
// state or attribute writes (UpdateState does that as a separate call).
type Command struct {
	// Resume supplies the value a paused interrupt() call should return.
	Resume any

	// Update holds channel values; Run and Stream do not apply it.
	Update map[string]any

	// Goto names a node; Run and Stream do not read it.
	Goto string
}

// PendingWrite is a single (task, channel, value) write persisted
// independently of the enclosing checkpoint, so a crash mid-step can be
// recovered without re-executing tasks whose writes already landed.
type PendingWrite struct {
	TaskID  string `json:"task_id"`
	Channel string `json:"channel"`
	Value   any    `json:"value"`
	Idx     int    `json:"idx"`
}

// ThreadConfig identifies the (thread, namespace, checkpoint) partition a
// CheckpointSaver operation addresses. CheckpointID is optional on read:
// a zero value means "the latest checkpoint in this partition".
type ThreadConfig struct {
	ThreadID     string
	CheckpointNS string
	CheckpointID string
}

// CheckpointTuple is what a CheckpointSaver returns for a single
// checkpoint: the checkpoint itself, its metadata, any pending writes
// recorded against it, and the config to address its parent.
type CheckpointTuple struct {
	Config        ThreadConfig
	Checkpoint    *Checkpoint
	Metadata      CheckpointMetadata
	PendingWrites []PendingWrite
	ParentConfig  *ThreadConfig
}

// ListOptions narrows a CheckpointSaver.List call: Before restricts
// results to checkpoints created before the given checkpoint ID, Limit
// caps the result count, and Filter matches by equality against
// CheckpointMetadata fields. The bundled savers recognise only the
// "source" and "step" keys; a filter naming any other key matches no
// checkpoint.
type ListOptions struct {
	Before string
	Limit  int
	Filter map[string]any
}

// CheckpointSaver is the storage contract the Pregel loop depends on
// Implementations live in package store; the core never
// assumes a particular backend.
type CheckpointSaver interface {
	// GetTuple returns the checkpoint addressed by cfg, or the latest
	// in cfg's (ThreadID, CheckpointNS) partition if cfg.CheckpointID is
	// empty. Returns ErrNoCheckpoint if the partition has nothing yet.
	GetTuple(ctx context.Context, cfg ThreadConfig) (*CheckpointTuple, error)

	// List iterates checkpoints for a thread, newest first.
	List(ctx context.Context, cfg ThreadConfig, opts ListOptions) ([]*CheckpointTuple, error)

	// Put persists cp atomically within cfg's partition and returns the
	// config addressing it (with CheckpointID populated).
	Put(ctx context.Context, cfg ThreadConfig, cp *Checkpoint, metadata CheckpointMetadata) (ThreadConfig, error)

	// PutWrites persists intermediate task writes keyed by
	// (thread, ns, checkpoint, task_id, idx). Must be idempotent per
	// (task_id, idx) when idx >= 0.
	PutWrites(ctx context.Context, cfg ThreadConfig, writes []PendingWrite, taskID string) error
}
