package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dshills/pregel"
	"github.com/dshills/pregel/store"
)

func putCheckpoint(t *testing.T, s pregel.CheckpointSaver, cfg pregel.ThreadConfig, id string, md pregel.CheckpointMetadata) pregel.ThreadConfig {
	t.Helper()
	cp := &pregel.Checkpoint{
		V:               1,
		ID:              id,
		ParentID:        cfg.CheckpointID,
		ChannelValues:   map[string]any{"x": id},
		ChannelVersions: map[string]pregel.Version{"x": 1},
		VersionsSeen:    map[string]map[string]pregel.Version{},
	}
	next, err := s.Put(context.Background(), cfg, cp, md)
	if err != nil {
		t.Fatalf("Put %s: %v", id, err)
	}
	return next
}

func TestMemoryStore_GetTupleLatestAndByID(t *testing.T) {
	s := store.NewMemoryStore()
	cfg := pregel.ThreadConfig{ThreadID: "t1"}

	if _, err := s.GetTuple(context.Background(), cfg); !errors.Is(err, pregel.ErrNoCheckpoint) {
		t.Fatalf("empty partition: expected ErrNoCheckpoint, got %v", err)
	}

	cfg = putCheckpoint(t, s, cfg, "01", pregel.CheckpointMetadata{Source: pregel.SourceInput, Step: -1})
	cfg = putCheckpoint(t, s, cfg, "02", pregel.CheckpointMetadata{Source: pregel.SourceLoop, Step: 0})

	latest, err := s.GetTuple(context.Background(), pregel.ThreadConfig{ThreadID: "t1"})
	if err != nil {
		t.Fatalf("GetTuple latest: %v", err)
	}
	if latest.Checkpoint.ID != "02" {
		t.Fatalf("latest = %s, want 02", latest.Checkpoint.ID)
	}
	if latest.ParentConfig == nil || latest.ParentConfig.CheckpointID != "01" {
		t.Fatalf("latest parent = %v, want 01", latest.ParentConfig)
	}

	byID, err := s.GetTuple(context.Background(), pregel.ThreadConfig{ThreadID: "t1", CheckpointID: "01"})
	if err != nil {
		t.Fatalf("GetTuple by id: %v", err)
	}
	if byID.Checkpoint.ID != "01" {
		t.Fatalf("by id = %s, want 01", byID.Checkpoint.ID)
	}

	if _, err := s.GetTuple(context.Background(), pregel.ThreadConfig{ThreadID: "t1", CheckpointID: "99"}); !errors.Is(err, pregel.ErrNotFound) {
		t.Fatalf("unknown id: expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_PartitionsAreIsolated(t *testing.T) {
	s := store.NewMemoryStore()
	putCheckpoint(t, s, pregel.ThreadConfig{ThreadID: "t1"}, "01", pregel.CheckpointMetadata{})
	putCheckpoint(t, s, pregel.ThreadConfig{ThreadID: "t1", CheckpointNS: "sub"}, "02", pregel.CheckpointMetadata{})

	latest, err := s.GetTuple(context.Background(), pregel.ThreadConfig{ThreadID: "t1"})
	if err != nil {
		t.Fatalf("GetTuple: %v", err)
	}
	if latest.Checkpoint.ID != "01" {
		t.Fatalf("root namespace sees %s, want 01", latest.Checkpoint.ID)
	}
	if _, err := s.GetTuple(context.Background(), pregel.ThreadConfig{ThreadID: "t2"}); !errors.Is(err, pregel.ErrNoCheckpoint) {
		t.Fatalf("other thread: expected ErrNoCheckpoint, got %v", err)
	}
}

func TestMemoryStore_ListNewestFirstWithBeforeLimitFilter(t *testing.T) {
	s := store.NewMemoryStore()
	cfg := pregel.ThreadConfig{ThreadID: "t1"}
	cfg = putCheckpoint(t, s, cfg, "01", pregel.CheckpointMetadata{Source: pregel.SourceInput, Step: -1})
	cfg = putCheckpoint(t, s, cfg, "02", pregel.CheckpointMetadata{Source: pregel.SourceLoop, Step: 0})
	cfg = putCheckpoint(t, s, cfg, "03", pregel.CheckpointMetadata{Source: pregel.SourceLoop, Step: 1})

	all, err := s.List(context.Background(), pregel.ThreadConfig{ThreadID: "t1"}, pregel.ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 || all[0].Checkpoint.ID != "03" || all[2].Checkpoint.ID != "01" {
		t.Fatalf("unexpected order: %v", ids(all))
	}

	before, err := s.List(context.Background(), pregel.ThreadConfig{ThreadID: "t1"}, pregel.ListOptions{Before: "03"})
	if err != nil {
		t.Fatalf("List before: %v", err)
	}
	if len(before) != 2 || before[0].Checkpoint.ID != "02" {
		t.Fatalf("before=03 should yield [02 01], got %v", ids(before))
	}

	limited, err := s.List(context.Background(), pregel.ThreadConfig{ThreadID: "t1"}, pregel.ListOptions{Limit: 1})
	if err != nil {
		t.Fatalf("List limit: %v", err)
	}
	if len(limited) != 1 || limited[0].Checkpoint.ID != "03" {
		t.Fatalf("limit=1 should yield [03], got %v", ids(limited))
	}

	filtered, err := s.List(context.Background(), pregel.ThreadConfig{ThreadID: "t1"}, pregel.ListOptions{Filter: map[string]any{"source": "input"}})
	if err != nil {
		t.Fatalf("List filter: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Checkpoint.ID != "01" {
		t.Fatalf("filter source=input should yield [01], got %v", ids(filtered))
	}
}

func TestMemoryStore_PutWritesIdempotentPerIdx(t *testing.T) {
	s := store.NewMemoryStore()
	cfg := putCheckpoint(t, s, pregel.ThreadConfig{ThreadID: "t1"}, "01", pregel.CheckpointMetadata{})
	ctx := context.Background()

	first := []pregel.PendingWrite{{Channel: "x", Value: "original", Idx: 0}}
	if err := s.PutWrites(ctx, cfg, first, "task-a"); err != nil {
		t.Fatalf("PutWrites: %v", err)
	}
	// A retry of the same task replays (task_id, idx); the earliest value
	// must win.
	second := []pregel.PendingWrite{{Channel: "x", Value: "retry", Idx: 0}}
	if err := s.PutWrites(ctx, cfg, second, "task-a"); err != nil {
		t.Fatalf("PutWrites retry: %v", err)
	}

	tuple, err := s.GetTuple(ctx, cfg)
	if err != nil {
		t.Fatalf("GetTuple: %v", err)
	}
	if len(tuple.PendingWrites) != 1 {
		t.Fatalf("expected one pending write, got %d", len(tuple.PendingWrites))
	}
	if tuple.PendingWrites[0].Value != "original" {
		t.Fatalf("earliest value must win, got %v", tuple.PendingWrites[0].Value)
	}
	if tuple.PendingWrites[0].TaskID != "task-a" {
		t.Fatalf("task id = %s, want task-a", tuple.PendingWrites[0].TaskID)
	}
}

func ids(tuples []*pregel.CheckpointTuple) []string {
	out := make([]string, len(tuples))
	for i, t := range tuples {
		out[i] = t.Checkpoint.ID
	}
	return out
}
