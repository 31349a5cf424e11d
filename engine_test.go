package pregel_test

import (
	"context"
	"testing"

	. "github.com/dshills/pregel"
	"github.com/dshills/pregel/store"
)

func counterGraph(t *testing.T, limit int) *CompiledGraph {
	t.Helper()
	g := NewGraph()
	if err := g.AddChannel("count", func() Channel { return NewLastValue() }); err != nil {
		t.Fatalf("add channel: %v", err)
	}
	node := &PregelNode{
		Name:     "incr",
		Triggers: []string{ChannelStart, "count"},
		Channels: ChannelSpec{List: []string{"count", ChannelStart}},
		Mapper: func(resolved any) any {
			if m, ok := resolved.(map[string]any); ok {
				if v, ok := m["count"]; ok {
					return v
				}
				return 0
			}
			return resolved
		},
		Writers: []string{"count"},
		Bound: RunnableFunc(func(_ context.Context, input any, _ *TaskConfig) ([]ChannelWrite, error) {
			n, _ := input.(int)
			if n >= limit {
				return nil, nil
			}
			n++
			return []ChannelWrite{{Channel: "count", Value: n}}, nil
		}),
	}
	if err := g.AddNode(node); err != nil {
		t.Fatalf("add node: %v", err)
	}
	if err := g.SetEntry("incr"); err != nil {
		t.Fatalf("set entry: %v", err)
	}
	cg, err := g.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return cg
}

func TestEngine_RunToFixedPoint(t *testing.T) {
	cg := counterGraph(t, 3)
	eng, err := New(cg, store.NewMemoryStore())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := eng.Run(context.Background(), ThreadConfig{ThreadID: "t1"}, RunInput{Values: map[string]any{"count": 0}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Interrupts) != 0 {
		t.Fatalf("expected no interrupts, got %v", res.Interrupts)
	}
	if got := res.Values["count"]; got != 3 {
		t.Fatalf("expected count=3 at fixed point, got %v", got)
	}
}

func TestEngine_RecursionLimit(t *testing.T) {
	cg := counterGraph(t, 1000)
	eng, err := New(cg, store.NewMemoryStore(), WithMaxSteps(2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = eng.Run(context.Background(), ThreadConfig{ThreadID: "t1"}, RunInput{Values: map[string]any{"count": 0}})
	if err != ErrGraphRecursionError {
		t.Fatalf("expected ErrGraphRecursionError, got %v", err)
	}
}

func interruptGraph(t *testing.T) *CompiledGraph {
	t.Helper()
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
	return cg
}

func TestEngine_InterruptThenResume(t *testing.T) {
	cg := interruptGraph(t)
	eng, err := New(cg, store.NewMemoryStore())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cfg := ThreadConfig{ThreadID: "t1"}

	first, err := eng.Run(context.Background(), cfg, RunInput{Values: map[string]any{"start": true}})
	if err != nil {
		t.Fatalf("Run (pause): %v", err)
	}
	if len(first.Interrupts) != 1 {
		t.Fatalf("expected exactly one interrupt, got %d", len(first.Interrupts))
	}
	if first.Interrupts[0].Value != "need approval" {
		t.Fatalf("unexpected interrupt value: %v", first.Interrupts[0].Value)
	}

	second, err := eng.Run(context.Background(), first.Config, RunInput{Command: &Command{Resume: "approved"}})
	if err != nil {
		t.Fatalf("Run (resume): %v", err)
	}
	if len(second.Interrupts) != 0 {
		t.Fatalf("expected no interrupts after resume, got %v", second.Interrupts)
	}
	if got := second.Values["result"]; got != "approved" {
		t.Fatalf("expected result=approved, got %v", got)
	}
}

func TestEngine_UpdateState(t *testing.T) {
	g := NewGraph()
	if err := g.AddChannel("note", func() Channel { return NewLastValue() }); err != nil {
		t.Fatalf("add channel: %v", err)
	}
	node := &PregelNode{
		Name:     "noop",
		Triggers: []string{ChannelStart},
		Bound: RunnableFunc(func(_ context.Context, _ any, _ *TaskConfig) ([]ChannelWrite, error) {
			return nil, nil
		}),
	}
	if err := g.AddNode(node); err != nil {
		t.Fatalf("add node: %v", err)
	}
	if err := g.SetEntry("noop"); err != nil {
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
	if _, err := eng.Run(context.Background(), cfg, RunInput{Values: map[string]any{"start": true}}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	newCfg, err := eng.UpdateState(context.Background(), cfg, map[string]any{"note": "edited"}, "noop")
	if err != nil {
		t.Fatalf("UpdateState: %v", err)
	}

	snap, err := eng.GetState(context.Background(), newCfg)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if got := snap.Values["note"]; got != "edited" {
		t.Fatalf("expected note=edited, got %v", got)
	}
}
