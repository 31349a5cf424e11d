package pregel

import (
	"context"
	"testing"
)

func TestDeterministicTaskID_StableAcrossRepeatedCalls(t *testing.T) {
	id1 := deterministicTaskID("", 3, "nodeA", TaskPull, []string{"x"}, "parent-1")
	id2 := deterministicTaskID("", 3, "nodeA", TaskPull, []string{"x"}, "parent-1")
	if id1 != id2 {
		t.Fatalf("expected identical task IDs for identical inputs, got %q and %q", id1, id2)
	}
}

func TestDeterministicTaskID_VariesByStep(t *testing.T) {
	id1 := deterministicTaskID("", 1, "nodeA", TaskPull, []string{"x"}, "parent-1")
	id2 := deterministicTaskID("", 2, "nodeA", TaskPull, []string{"x"}, "parent-1")
	if id1 == id2 {
		t.Fatalf("expected different task IDs across steps, got the same %q for both", id1)
	}
}

func TestDeterministicTaskID_VariesByParentCheckpoint(t *testing.T) {
	id1 := deterministicTaskID("", 1, "nodeA", TaskPull, []string{"x"}, "parent-1")
	id2 := deterministicTaskID("", 1, "nodeA", TaskPull, []string{"x"}, "parent-2")
	if id1 == id2 {
		t.Fatalf("expected different task IDs across parent checkpoints, got the same %q for both", id1)
	}
}

// TestPrepareTasks_DeterministicOrdering re-runs prepareTasks against the
// same checkpoint twice and asserts it produces the same task IDs in the
// same order both times: push tasks in stored pending_sends order, then
// pull tasks sorted by node name.
func TestPrepareTasks_DeterministicOrdering(t *testing.T) {
	nodes := map[string]*PregelNode{
		"zeta": {
			Name:     "zeta",
			Triggers: []string{"a"},
			Bound:    RunnableFunc(func(context.Context, any, *TaskConfig) ([]ChannelWrite, error) { return nil, nil }),
		},
		"alpha": {
			Name:     "alpha",
			Triggers: []string{"a"},
			Bound:    RunnableFunc(func(context.Context, any, *TaskConfig) ([]ChannelWrite, error) { return nil, nil }),
		},
	}
	channels := map[string]Channel{"a": NewLastValue()}
	channels["a"].Update([]any{"seed"})

	cp := &Checkpoint{
		ID:              "cp-1",
		ChannelValues:   map[string]any{"a": "seed"},
		ChannelVersions: map[string]Version{"a": 1},
		VersionsSeen:    map[string]map[string]Version{},
		PendingSends: []Send{
			{Node: "alpha", Args: 1},
			{Node: "zeta", Args: 2},
		},
	}

	first, warns := prepareTasks(cp, 1, nodes, channels, "", nil)
	if len(warns) != 0 {
		t.Fatalf("unexpected warnings: %v", warns)
	}
	second, warns := prepareTasks(cp, 1, nodes, channels, "", nil)
	if len(warns) != 0 {
		t.Fatalf("unexpected warnings: %v", warns)
	}

	if len(first) != len(second) {
		t.Fatalf("task count differs across calls: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID || first[i].NodeName != second[i].NodeName {
			t.Fatalf("task %d differs across calls: %+v vs %+v", i, first[i], second[i])
		}
	}

	// Push tasks (alpha, zeta in pending_sends order) come first, then
	// pull tasks sorted by node name (alpha, zeta).
	wantOrder := []string{"alpha", "zeta", "alpha", "zeta"}
	if len(first) != len(wantOrder) {
		t.Fatalf("expected %d tasks, got %d", len(wantOrder), len(first))
	}
	for i, name := range wantOrder {
		if first[i].NodeName != name {
			t.Fatalf("task %d: expected node %q, got %q", i, name, first[i].NodeName)
		}
	}
	if first[0].Kind != TaskPush || first[1].Kind != TaskPush {
		t.Fatalf("expected the first two tasks to be push tasks")
	}
	if first[2].Kind != TaskPull || first[3].Kind != TaskPull {
		t.Fatalf("expected the last two tasks to be pull tasks")
	}
}

// TestCheckpointRoundTrip_FalsyValues verifies the Channel contract's
// round-trip guarantee for falsy values: a LastValueChannel holding 0,
// "", or false must survive Checkpoint/FromCheckpoint and still read back
// as "set", not as an empty channel.
func TestCheckpointRoundTrip_FalsyValues(t *testing.T) {
	cases := []any{0, "", false, nil}
	for _, want := range cases {
		ch := NewLastValue()
		if _, err := ch.Update([]any{want}); err != nil {
			t.Fatalf("update(%v): %v", want, err)
		}
		snap := ch.Checkpoint()
		restored := ch.Empty().FromCheckpoint(snap)
		got, err := restored.Get()
		if err != nil {
			t.Fatalf("Get after round-trip for value %v: %v", want, err)
		}
		if got != want {
			t.Fatalf("round-trip mismatch: wrote %v (%T), got %v (%T)", want, want, got, got)
		}
	}
}

// TestCheckpointRoundTrip_TopicChannel exercises the Topic variant's
// round-trip with unique+accumulate both set, across two steps.
func TestCheckpointRoundTrip_TopicChannel(t *testing.T) {
	ch := NewTopic(true, true)
	if _, err := ch.Update([]any{"a", "b", "a"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := ch.Update([]any{"b", "c"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	snap := ch.Checkpoint()
	restored := ch.Empty().FromCheckpoint(snap)

	got, err := restored.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := []any{"a", "b", "c"}
	gotSlice, ok := got.([]any)
	if !ok || len(gotSlice) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if gotSlice[i] != want[i] {
			t.Fatalf("expected %v at index %d, got %v", want[i], i, gotSlice[i])
		}
	}
}
