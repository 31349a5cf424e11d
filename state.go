package pregel

import (
	"context"
	"sort"
)

// StateSnapshot is a point-in-time view of a thread's state, derived
// from a single persisted checkpoint: its channel values, which nodes
// are eligible to run next, and any outstanding interrupts.
type StateSnapshot struct {
	Values       map[string]any
	Next         []string
	Config       ThreadConfig
	ParentConfig *ThreadConfig
	Metadata     CheckpointMetadata
	Interrupts   []InterruptSignal
}

// GetState returns the snapshot addressed by cfg (the latest checkpoint
// in cfg's partition if cfg.CheckpointID is empty).
func (p *Pregel) GetState(ctx context.Context, cfg ThreadConfig) (*StateSnapshot, error) {
	tuple, err := p.saver.GetTuple(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return p.snapshotFromTuple(tuple), nil
}

// GetStateHistory returns every checkpoint matching opts for cfg's
// thread, newest first, each as a StateSnapshot.
func (p *Pregel) GetStateHistory(ctx context.Context, cfg ThreadConfig, opts ListOptions) ([]*StateSnapshot, error) {
	tuples, err := p.saver.List(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	out := make([]*StateSnapshot, len(tuples))
	for i, t := range tuples {
		out[i] = p.snapshotFromTuple(t)
	}
	return out, nil
}

func (p *Pregel) snapshotFromTuple(t *CheckpointTuple) *StateSnapshot {
	cp := t.Checkpoint
	channels := p.graph.hydrateChannels(cp)

	tasks, _ := prepareTasks(cp, t.Metadata.Step+1, p.graph.nodes, channels, "", nil)
	seen := map[string]bool{}
	var next []string
	for _, task := range tasks {
		if !seen[task.NodeName] {
			seen[task.NodeName] = true
			next = append(next, task.NodeName)
		}
	}
	sort.Strings(next)

	var interrupts []InterruptSignal
	for _, w := range t.PendingWrites {
		if w.Channel != ChannelInterrupt {
			continue
		}
		if sig, ok := decodeInterruptSignal(w.Value); ok {
			interrupts = append(interrupts, sig)
		}
	}

	return &StateSnapshot{
		Values:       snapshotValues(channels),
		Next:         next,
		Config:       t.Config,
		ParentConfig: t.ParentConfig,
		Metadata:     t.Metadata,
		Interrupts:   interrupts,
	}
}
