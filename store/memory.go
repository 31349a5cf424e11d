// Package store provides CheckpointSaver implementations for the Pregel
// execution core.
package store

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/dshills/pregel"
)

// MemoryStore is an in-memory pregel.CheckpointSaver, primarily for tests
// and single-process runs that don't need durability across restarts.
// It is safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	byThread map[string][]*pregel.CheckpointTuple // newest last
	writes   map[string][]pregel.PendingWrite     // keyed by thread+ns+checkpoint
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byThread: make(map[string][]*pregel.CheckpointTuple),
		writes:   make(map[string][]pregel.PendingWrite),
	}
}

func partitionKey(threadID, ns string) string {
	return threadID + "\x00" + ns
}

func writesKey(threadID, ns, checkpointID string) string {
	return threadID + "\x00" + ns + "\x00" + checkpointID
}

func (s *MemoryStore) GetTuple(_ context.Context, cfg pregel.ThreadConfig) (*pregel.CheckpointTuple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.byThread[partitionKey(cfg.ThreadID, cfg.CheckpointNS)]
	if len(list) == 0 {
		return nil, pregel.ErrNoCheckpoint
	}

	if cfg.CheckpointID == "" {
		return s.hydrate(list[len(list)-1]), nil
	}
	for _, t := range list {
		if t.Checkpoint.ID == cfg.CheckpointID {
			return s.hydrate(t), nil
		}
	}
	return nil, pregel.ErrNotFound
}

// hydrate attaches the pending writes recorded against this checkpoint's
// own id, which lets resume find already-completed task results. Writes
// recorded against the parent checkpoint are not attached.
func (s *MemoryStore) hydrate(t *pregel.CheckpointTuple) *pregel.CheckpointTuple {
	key := writesKey(t.Config.ThreadID, t.Config.CheckpointNS, t.Checkpoint.ID)
	out := *t
	out.PendingWrites = append([]pregel.PendingWrite(nil), s.writes[key]...)
	return &out
}

func (s *MemoryStore) List(_ context.Context, cfg pregel.ThreadConfig, opts pregel.ListOptions) ([]*pregel.CheckpointTuple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.byThread[partitionKey(cfg.ThreadID, cfg.CheckpointNS)]
	// newest first
	ordered := make([]*pregel.CheckpointTuple, len(list))
	for i, t := range list {
		ordered[len(list)-1-i] = t
	}

	var out []*pregel.CheckpointTuple
	pastBefore := opts.Before == ""
	for _, t := range ordered {
		if !pastBefore {
			if t.Checkpoint.ID == opts.Before {
				pastBefore = true
			}
			continue
		}
		if !matchesFilter(t.Metadata, opts.Filter) {
			continue
		}
		out = append(out, s.hydrate(t))
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

func matchesFilter(md pregel.CheckpointMetadata, filter map[string]any) bool {
	for k, v := range filter {
		switch k {
		case "source":
			if string(md.Source) != v {
				return false
			}
		case "step":
			if md.Step != v {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (s *MemoryStore) Put(_ context.Context, cfg pregel.ThreadConfig, cp *pregel.Checkpoint, metadata pregel.CheckpointMetadata) (pregel.ThreadConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := partitionKey(cfg.ThreadID, cfg.CheckpointNS)
	cpCopy := *cp
	t := &pregel.CheckpointTuple{
		Config:     pregel.ThreadConfig{ThreadID: cfg.ThreadID, CheckpointNS: cfg.CheckpointNS, CheckpointID: cp.ID},
		Checkpoint: &cpCopy,
		Metadata:   metadata,
	}
	if cfg.CheckpointID != "" {
		parent := cfg.CheckpointID
		t.ParentConfig = &pregel.ThreadConfig{ThreadID: cfg.ThreadID, CheckpointNS: cfg.CheckpointNS, CheckpointID: parent}
	}
	s.byThread[key] = append(s.byThread[key], t)
	sort.SliceStable(s.byThread[key], func(i, j int) bool {
		return s.byThread[key][i].Checkpoint.ID < s.byThread[key][j].Checkpoint.ID
	})

	return pregel.ThreadConfig{ThreadID: cfg.ThreadID, CheckpointNS: cfg.CheckpointNS, CheckpointID: cp.ID}, nil
}

func (s *MemoryStore) PutWrites(_ context.Context, cfg pregel.ThreadConfig, writes []pregel.PendingWrite, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := writesKey(cfg.ThreadID, cfg.CheckpointNS, cfg.CheckpointID)
	existing := s.writes[key]

	seen := make(map[string]bool, len(existing))
	for _, w := range existing {
		if w.Idx >= 0 {
			seen[w.TaskID+"\x00"+strconv.Itoa(w.Idx)] = true
		}
	}

	for _, w := range writes {
		w.TaskID = taskID
		if w.Idx >= 0 {
			k := w.TaskID + "\x00" + strconv.Itoa(w.Idx)
			if seen[k] {
				continue // idempotent: earliest value for (task_id, idx) wins
			}
			seen[k] = true
		}
		existing = append(existing, w)
	}
	s.writes[key] = existing
	return nil
}
