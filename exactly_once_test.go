package pregel_test

import (
	"context"
	"testing"

	. "github.com/dshills/pregel"
	"github.com/dshills/pregel/store"
)

// TestExactlyOnce_WriteLandsOnceAcrossPauseAndResume builds a node whose
// code before Interrupt is allowed to re-run on resume (per Interrupt's
// doc comment) but whose committed write must land exactly once: the
// side-effect counter below only increments after the Interrupt call
// returns with a real value, which only happens on the resuming attempt.
func TestExactlyOnce_WriteLandsOnceAcrossPauseAndResume(t *testing.T) {
	var completions int

	g := NewGraph()
	if err := g.AddChannel("result", func() Channel { return NewLastValue() }); err != nil {
		t.Fatalf("add channel: %v", err)
	}
	node := &PregelNode{
		Name:     "gate",
		Triggers: []string{ChannelStart},
		Writers:  []string{"result"},
		Bound: RunnableFunc(func(_ context.Context, _ any, cfg *TaskConfig) ([]ChannelWrite, error) {
			v := Interrupt(cfg, "need approval")
			completions++
			return []ChannelWrite{{Channel: "result", Value: v}}, nil
		}),
	}
	if err := g.AddNode(node); err != nil {
		t.Fatalf("add node: %v", err)
	}
	if err := g.SetEntry("gate"); err != nil {
		t.Fatalf("set entry: %v", err)
	}
	cg, err := g.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	eng, err := New(cg, store.NewMemoryStore())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cfg := ThreadConfig{ThreadID: "t1"}

	paused, err := eng.Run(context.Background(), cfg, RunInput{Values: map[string]any{"start": true}})
	if err != nil {
		t.Fatalf("Run (pause): %v", err)
	}
	if len(paused.Interrupts) != 1 {
		t.Fatalf("expected one interrupt, got %d", len(paused.Interrupts))
	}
	if completions != 0 {
		t.Fatalf("expected zero completions while paused, got %d", completions)
	}

	resumed, err := eng.Run(context.Background(), paused.Config, RunInput{Command: &Command{Resume: "approved"}})
	if err != nil {
		t.Fatalf("Run (resume): %v", err)
	}
	if len(resumed.Interrupts) != 0 {
		t.Fatalf("expected no interrupts after resume, got %v", resumed.Interrupts)
	}
	if completions != 1 {
		t.Fatalf("expected exactly one completion after resume, got %d", completions)
	}

	// A follow-up Run against the already-resumed thread, with no new
	// input, must not re-trigger the node: nothing about its trigger set
	// has changed since the resumed checkpoint was committed.
	again, err := eng.Run(context.Background(), resumed.Config, RunInput{})
	if err != nil {
		t.Fatalf("Run (idle): %v", err)
	}
	if completions != 1 {
		t.Fatalf("expected completions to stay at 1 after an idle re-run, got %d", completions)
	}
	if got := again.Values["result"]; got != "approved" {
		t.Fatalf("expected result to remain %q, got %v", "approved", got)
	}
}

// TestExactlyOnce_PutWritesIsIdempotent exercises the CheckpointSaver
// contract directly: persisting the same (task_id, idx) pending write
// twice must not duplicate it.
func TestExactlyOnce_PutWritesIsIdempotent(t *testing.T) {
	saver := store.NewMemoryStore()
	cfg := ThreadConfig{ThreadID: "t1"}
	cp := &Checkpoint{
		ID:              "cp-0",
		ChannelValues:   map[string]any{},
		ChannelVersions: map[string]Version{},
		VersionsSeen:    map[string]map[string]Version{},
	}
	addr, err := saver.Put(context.Background(), cfg, cp, CheckpointMetadata{Source: SourceLoop, Step: 0})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	writes := []PendingWrite{{TaskID: "task-1", Channel: "result", Value: "v1", Idx: 0}}
	if err := saver.PutWrites(context.Background(), addr, writes, "task-1"); err != nil {
		t.Fatalf("PutWrites (first): %v", err)
	}
	if err := saver.PutWrites(context.Background(), addr, writes, "task-1"); err != nil {
		t.Fatalf("PutWrites (retry): %v", err)
	}

	tuple, err := saver.GetTuple(context.Background(), addr)
	if err != nil {
		t.Fatalf("GetTuple: %v", err)
	}
	count := 0
	for _, w := range tuple.PendingWrites {
		if w.TaskID == "task-1" && w.Idx == 0 {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one persisted write for (task-1, 0) after a retry, got %d", count)
	}
}
