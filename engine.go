package pregel

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dshills/pregel/emit"
)

// Pregel is the compiled, runnable engine: a CompiledGraph bound to a
// CheckpointSaver and a set of Options. One Pregel value may drive many
// concurrent runs (distinguished by ThreadConfig.ThreadID); the engine
// itself holds no per-run state.
type Pregel struct {
	graph *CompiledGraph
	saver CheckpointSaver
	opts  Options
}

// New compiles an engine from graph and saver, applying opts in order.
func New(graph *CompiledGraph, saver CheckpointSaver, opts ...Option) (*Pregel, error) {
	if graph == nil {
		return nil, fmt.Errorf("pregel: graph is required")
	}
	if saver == nil {
		return nil, fmt.Errorf("pregel: checkpoint saver is required")
	}
	cfg := &engineConfig{}
	for _, o := range opts {
		if err := o(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.opts.MaxConcurrentTasks <= 0 {
		cfg.opts.MaxConcurrentTasks = 1
	}
	return &Pregel{graph: graph, saver: saver, opts: cfg.opts}, nil
}

func (p *Pregel) nextVersion() NextVersionFunc {
	if p.opts.NextVersion != nil {
		return p.opts.NextVersion
	}
	return defaultNextVersion
}

// RunInput is the input to a Run or Stream call: either fresh values to
// inject onto their named channels (and onto __start__ as a whole), or a
// Command resuming a paused thread. Only Command.Resume is read here; use
// UpdateState to mutate a thread's state out of band.
type RunInput struct {
	Values  map[string]any
	Command *Command
}

// RunResult is what a completed or paused Run/Stream call returns.
type RunResult struct {
	// Values holds every non-reserved channel's current value, keyed by
	// channel name.
	Values map[string]any

	// Interrupts is non-empty when the run paused rather than finished;
	// Config addresses the unchanged checkpoint the interrupted tasks
	// are parented to, ready to be resumed with a Command.
	Interrupts []InterruptSignal

	Config ThreadConfig
}

// Run drives the graph to a fixed point (or a pause/error/step limit)
// without emitting any stream events.
func (p *Pregel) Run(ctx context.Context, cfg ThreadConfig, in RunInput) (*RunResult, error) {
	return p.execute(ctx, cfg, in, emit.NewNullEmitter())
}

// Stream behaves like Run but emits events to emitter as configured by
// WithStreamModes. A nil emitter is treated as NullEmitter.
func (p *Pregel) Stream(ctx context.Context, cfg ThreadConfig, in RunInput, emitter emit.Emitter) (*RunResult, error) {
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	return p.execute(ctx, cfg, in, emitter)
}

// execute is the START -> STEP -> EXEC -> APPLY loop.
func (p *Pregel) execute(ctx context.Context, cfg ThreadConfig, in RunInput, emitter emit.Emitter) (*RunResult, error) {
	if p.opts.RunWallClockBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.RunWallClockBudget)
		defer cancel()
	}

	tuple, err := p.saver.GetTuple(ctx, cfg)
	if err != nil {
		if err != ErrNoCheckpoint {
			return nil, err
		}
		tuple = &CheckpointTuple{
			Config: cfg,
			Checkpoint: &Checkpoint{
				ChannelValues:   map[string]any{},
				ChannelVersions: map[string]Version{},
				VersionsSeen:    map[string]map[string]Version{},
			},
			Metadata: CheckpointMetadata{Step: -1},
		}
	}

	cp := tuple.Checkpoint
	channels := p.graph.hydrateChannels(cp)

	// Classify any pending writes recorded against the loaded checkpoint
	// from a prior, paused attempt at the step about to run.
	completedWrites := map[string][]ChannelWrite{}
	pausedInterrupt := map[string]InterruptSignal{}
	for _, w := range tuple.PendingWrites {
		if w.Channel == ChannelInterrupt {
			if sig, ok := decodeInterruptSignal(w.Value); ok {
				pausedInterrupt[w.TaskID] = sig
			}
			continue
		}
		completedWrites[w.TaskID] = append(completedWrites[w.TaskID], ChannelWrite{Channel: w.Channel, Value: w.Value})
	}
	resumeForTask := resumeMapFromCommand(in.Command, pausedInterrupt)

	step := tuple.Metadata.Step + 1

	if len(in.Values) > 0 {
		newCP, err := p.applyInput(ctx, cfg, cp, channels, in.Values, step)
		if err != nil {
			return nil, err
		}
		cp = newCP
		cfg = ThreadConfig{ThreadID: cfg.ThreadID, CheckpointNS: cfg.CheckpointNS, CheckpointID: cp.ID}
		emitCheckpoint(emitter, p.opts.StreamModes, cfg, cp, step-1)
	}

	firstStep := step
	cache := newTaskCache()
	firstAttempt := true

	for {
		if p.opts.MaxSteps > 0 && step-firstStep >= p.opts.MaxSteps {
			return nil, ErrGraphRecursionError
		}
		select {
		case <-ctx.Done():
			return nil, ErrCancelled
		default:
		}

		tasks, warnings := prepareTasks(cp, step, p.graph.nodes, channels, "", nil)
		for _, w := range warnings {
			emitDebug(emitter, p.opts.StreamModes, cfg, step, w.Error())
		}
		if len(tasks) == 0 {
			return p.finalResult(channels, cfg), nil
		}
		for _, t := range tasks {
			nodeName, curStep := t.NodeName, step
			t.Config.custom = func(value any) {
				emitCustom(emitter, p.opts.StreamModes, cfg, curStep, nodeName, value)
			}
		}

		var toRun []*Task
		results := make(map[string]*taskResult, len(tasks))

		if firstAttempt {
			for _, t := range tasks {
				if ws, ok := completedWrites[t.ID]; ok {
					results[t.ID] = &taskResult{Task: t, Writes: ws}
					continue
				}
				if sig, paused := pausedInterrupt[t.ID]; paused {
					if v, ok := resumeForTask[t.ID]; ok {
						t.Config.resume = &resumeValues{values: []any{v}}
						toRun = append(toRun, t)
					} else {
						results[t.ID] = &taskResult{Task: t, Interrupt: &GraphInterrupt{Interrupts: []InterruptSignal{sig}}}
					}
					continue
				}
				toRun = append(toRun, t)
			}
		} else {
			toRun = tasks
		}
		firstAttempt = false

		started := time.Now()
		stepResults, runErr := runStep(ctx, toRun, schedulerConfig{
			ThreadID:            cfg.ThreadID,
			MaxConcurrentTasks:  p.opts.MaxConcurrentTasks,
			QueueDepth:          p.opts.QueueDepth,
			BackpressureTimeout: p.opts.BackpressureTimeout,
			DefaultTaskTimeout:  p.opts.DefaultTaskTimeout,
			Metrics:             p.opts.Metrics,
			OnTaskDone: func(r *taskResult) {
				emitTaskDone(emitter, p.opts.StreamModes, cfg, step, r)
			},
		}, cache)
		if runErr != nil {
			if p.opts.Metrics != nil {
				p.opts.Metrics.RecordStepLatency(cfg.ThreadID, time.Since(started), "error")
			}
			emitError(emitter, p.opts.StreamModes, cfg, step, runErr)
			return nil, runErr
		}
		for _, r := range stepResults {
			if r != nil {
				results[r.Task.ID] = r
			}
		}

		var pending []InterruptSignal
		writesByTask := make(map[string][]ChannelWrite, len(tasks))
		for _, t := range tasks {
			r := results[t.ID]
			if r == nil {
				continue
			}
			if r.Interrupt != nil {
				if len(r.Interrupt.Interrupts) > 0 {
					pending = append(pending, r.Interrupt.Interrupts...)
				} else {
					pending = append(pending, InterruptSignal{ID: t.ID, Value: r.Interrupt.Value, When: "breakpoint"})
				}
				continue
			}
			writesByTask[t.ID] = r.Writes
		}

		if len(pending) > 0 {
			for _, t := range tasks {
				r := results[t.ID]
				if r == nil {
					continue
				}
				var writes []PendingWrite
				if r.Interrupt != nil {
					sig := InterruptSignal{ID: t.ID, Value: r.Interrupt.Value, When: "breakpoint"}
					if n := len(r.Interrupt.Interrupts); n > 0 {
						sig = r.Interrupt.Interrupts[n-1]
					}
					writes = []PendingWrite{{TaskID: t.ID, Channel: ChannelInterrupt, Value: sig}}
				} else {
					for i, w := range r.Writes {
						writes = append(writes, PendingWrite{TaskID: t.ID, Channel: w.Channel, Value: w.Value, Idx: i})
					}
				}
				if len(writes) > 0 {
					if err := p.saver.PutWrites(ctx, cfg, writes, t.ID); err != nil {
						return nil, err
					}
				}
			}
			if p.opts.Metrics != nil {
				p.opts.Metrics.RecordStepLatency(cfg.ThreadID, time.Since(started), "paused")
			}
			emitInterrupt(emitter, p.opts.StreamModes, cfg, step, pending)
			return &RunResult{Values: snapshotValues(channels), Interrupts: pending, Config: cfg}, nil
		}

		result, err := applyWrites(cp, channels, tasks, writesByTask, p.nextVersion())
		if err != nil {
			if p.opts.Metrics != nil {
				p.opts.Metrics.RecordStepLatency(cfg.ThreadID, time.Since(started), "error")
				if we, ok := err.(*TaskError); ok {
					p.opts.Metrics.IncrementWriteConflicts(cfg.ThreadID, we.NodeID)
				}
			}
			emitError(emitter, p.opts.StreamModes, cfg, step, err)
			return nil, err
		}

		newCP := &Checkpoint{
			V:               1,
			ID:              newCheckpointID(),
			ParentID:        cp.ID,
			TS:              time.Now(),
			ChannelValues:   snapshotVersionedChannels(channels, result.ChannelVersions),
			ChannelVersions: result.ChannelVersions,
			VersionsSeen:    result.VersionsSeen,
			PendingSends:    result.PendingSends,
		}
		newCfg, err := p.saver.Put(ctx, cfg, newCP, CheckpointMetadata{Source: SourceLoop, Step: step, Writes: flattenWrites(writesByTask)})
		if err != nil {
			return nil, err
		}

		if p.opts.Metrics != nil {
			p.opts.Metrics.RecordStepLatency(cfg.ThreadID, time.Since(started), "success")
		}
		emitCheckpoint(emitter, p.opts.StreamModes, newCfg, newCP, step)
		emitValues(emitter, p.opts.StreamModes, newCfg, step, channels)

		cp = newCP
		cfg = newCfg
		step++
	}
}

func flattenWrites(writesByTask map[string][]ChannelWrite) map[string]any {
	if len(writesByTask) == 0 {
		return nil
	}
	out := make(map[string]any, len(writesByTask))
	for taskID, writes := range writesByTask {
		out[taskID] = writes
	}
	return out
}

func (p *Pregel) finalResult(channels map[string]Channel, cfg ThreadConfig) *RunResult {
	return &RunResult{Values: snapshotValues(channels), Config: cfg}
}

// applyInput writes a fresh batch of named values onto their channels
// (and, as a whole map, onto __start__) as an input-sourced checkpoint,
// per the rule that a run begins by writing its input to channels.
func (p *Pregel) applyInput(ctx context.Context, cfg ThreadConfig, cp *Checkpoint, channels map[string]Channel, values map[string]any, step int) (*Checkpoint, error) {
	versions := make(map[string]Version, len(cp.ChannelVersions))
	for k, v := range cp.ChannelVersions {
		versions[k] = v
	}
	maxV := maxVersion(versions)
	nextVersion := p.nextVersion()

	if ch, ok := channels[ChannelStart]; ok {
		changed, err := ch.Update([]any{values})
		if err != nil {
			return nil, err
		}
		if changed {
			versions[ChannelStart] = nextVersion(maxV, ChannelStart)
			if versions[ChannelStart] > maxV {
				maxV = versions[ChannelStart]
			}
		}
	}

	var names []string
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ch, ok := channels[name]
		if !ok {
			continue
		}
		changed, err := ch.Update([]any{values[name]})
		if err != nil {
			return nil, err
		}
		if changed {
			versions[name] = nextVersion(maxV, name)
			if versions[name] > maxV {
				maxV = versions[name]
			}
		}
	}

	newCP := &Checkpoint{
		V:               1,
		ID:              newCheckpointID(),
		ParentID:        cp.ID,
		TS:              time.Now(),
		ChannelValues:   snapshotVersionedChannels(channels, versions),
		ChannelVersions: versions,
		VersionsSeen:    cloneVersionsSeen(cp.VersionsSeen),
		PendingSends:    cp.PendingSends,
	}
	if _, err := p.saver.Put(ctx, cfg, newCP, CheckpointMetadata{Source: SourceInput, Step: step - 1, Writes: values}); err != nil {
		return nil, err
	}
	return newCP, nil
}

// UpdateState applies values directly onto the named channels of the
// checkpoint cfg addresses (the latest one on cfg's thread when
// cfg.CheckpointID is empty), attributing the write to asNode so
// the run does not immediately re-trigger on its own update (an
// "out-of-band state mutation"). It is a separate operation from
// Run/Stream: it never executes a node's Bound computation.
func (p *Pregel) UpdateState(ctx context.Context, cfg ThreadConfig, values map[string]any, asNode string) (ThreadConfig, error) {
	tuple, err := p.saver.GetTuple(ctx, cfg)
	if err != nil {
		return ThreadConfig{}, err
	}
	cp := tuple.Checkpoint
	channels := p.graph.hydrateChannels(cp)

	versions := make(map[string]Version, len(cp.ChannelVersions))
	for k, v := range cp.ChannelVersions {
		versions[k] = v
	}
	maxV := maxVersion(versions)
	nextVersion := p.nextVersion()

	var names []string
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ch, ok := channels[name]
		if !ok {
			return ThreadConfig{}, fmt.Errorf("pregel: update_state targets unknown channel %q", name)
		}
		changed, err := ch.Update([]any{values[name]})
		if err != nil {
			return ThreadConfig{}, err
		}
		if changed {
			versions[name] = nextVersion(maxV, name)
			if versions[name] > maxV {
				maxV = versions[name]
			}
		}
	}

	versionsSeen := cloneVersionsSeen(cp.VersionsSeen)
	if asNode != "" {
		seen := versionsSeen[asNode]
		if seen == nil {
			seen = make(map[string]Version, len(names))
			versionsSeen[asNode] = seen
		}
		for _, name := range names {
			seen[name] = versions[name]
		}
	}

	newCP := &Checkpoint{
		V:               1,
		ID:              newCheckpointID(),
		ParentID:        cp.ID,
		TS:              time.Now(),
		ChannelValues:   snapshotVersionedChannels(channels, versions),
		ChannelVersions: versions,
		VersionsSeen:    versionsSeen,
		PendingSends:    cp.PendingSends,
	}
	return p.saver.Put(ctx, ThreadConfig{ThreadID: cfg.ThreadID, CheckpointNS: cfg.CheckpointNS, CheckpointID: cp.ID}, newCP,
		CheckpointMetadata{Source: SourceUpdate, Step: tuple.Metadata.Step, Writes: values, Parents: tuple.Metadata.Parents})
}

func cloneVersionsSeen(in map[string]map[string]Version) map[string]map[string]Version {
	out := make(map[string]map[string]Version, len(in))
	for node, seen := range in {
		m := make(map[string]Version, len(seen))
		for k, v := range seen {
			m[k] = v
		}
		out[node] = m
	}
	return out
}

// snapshotVersionedChannels snapshots exactly the channels that carry a
// version entry, so a checkpoint's channel_values and channel_versions
// always share the same key set.
func snapshotVersionedChannels(channels map[string]Channel, versions map[string]Version) map[string]any {
	out := make(map[string]any, len(versions))
	for name := range versions {
		if ch, ok := channels[name]; ok {
			out[name] = ch.Checkpoint()
		}
	}
	return out
}

func snapshotValues(channels map[string]Channel) map[string]any {
	out := make(map[string]any, len(channels))
	for name, ch := range channels {
		if IsReserved(name) {
			continue
		}
		if v, err := ch.Get(); err == nil {
			out[name] = v
		}
	}
	return out
}

// resumeMapFromCommand resolves in.Command.Resume against the set of
// tasks currently paused on an interrupt. A scalar Resume value applies
// to the sole paused task when there is exactly one; a map[string]any
// applies per task ID.
func resumeMapFromCommand(cmd *Command, paused map[string]InterruptSignal) map[string]any {
	out := map[string]any{}
	if cmd == nil || cmd.Resume == nil {
		return out
	}
	if m, ok := cmd.Resume.(map[string]any); ok {
		for taskID := range paused {
			if v, ok := m[taskID]; ok {
				out[taskID] = v
			}
		}
		return out
	}
	if len(paused) == 1 {
		for taskID := range paused {
			out[taskID] = cmd.Resume
		}
	}
	return out
}

// decodeInterruptSignal accepts either an in-process InterruptSignal
// value or the map[string]any shape a JSON-backed CheckpointSaver
// returns after a round trip.
func decodeInterruptSignal(v any) (InterruptSignal, bool) {
	switch sig := v.(type) {
	case InterruptSignal:
		return sig, true
	case map[string]any:
		out := InterruptSignal{}
		if id, ok := sig["id"].(string); ok {
			out.ID = id
		}
		if when, ok := sig["when"].(string); ok {
			out.When = when
		}
		out.Value = sig["value"]
		return out, true
	default:
		return InterruptSignal{}, false
	}
}

func emitCheckpoint(emitter emit.Emitter, modes []StreamMode, cfg ThreadConfig, cp *Checkpoint, step int) {
	if !hasMode(modes, StreamCheckpoints) {
		return
	}
	emitter.Emit(emit.Event{ThreadID: cfg.ThreadID, Mode: string(StreamCheckpoints), Step: step, Msg: "checkpoint", Payload: cp, Meta: map[string]any{"checkpoint_id": cp.ID}})
}

func emitValues(emitter emit.Emitter, modes []StreamMode, cfg ThreadConfig, step int, channels map[string]Channel) {
	if !hasMode(modes, StreamValues) {
		return
	}
	emitter.Emit(emit.Event{ThreadID: cfg.ThreadID, Mode: string(StreamValues), Step: step, Msg: "values", Payload: snapshotValues(channels)})
}

func emitTaskDone(emitter emit.Emitter, modes []StreamMode, cfg ThreadConfig, step int, r *taskResult) {
	if !hasMode(modes, StreamTasks) && !hasMode(modes, StreamUpdates) {
		return
	}
	switch {
	case r.Err != nil:
		if hasMode(modes, StreamTasks) {
			emitter.Emit(emit.Event{ThreadID: cfg.ThreadID, Mode: string(StreamTasks), Step: step, NodeID: r.Task.NodeName, Msg: "task_error", Payload: r.Err})
		}
	case r.Interrupt != nil:
		if hasMode(modes, StreamTasks) {
			emitter.Emit(emit.Event{ThreadID: cfg.ThreadID, Mode: string(StreamTasks), Step: step, NodeID: r.Task.NodeName, Msg: "task_interrupted", Payload: r.Interrupt})
		}
	default:
		if hasMode(modes, StreamTasks) {
			emitter.Emit(emit.Event{ThreadID: cfg.ThreadID, Mode: string(StreamTasks), Step: step, NodeID: r.Task.NodeName, Msg: "task_done"})
		}
		if hasMode(modes, StreamUpdates) {
			emitter.Emit(emit.Event{ThreadID: cfg.ThreadID, Mode: string(StreamUpdates), Step: step, NodeID: r.Task.NodeName, Msg: "updates", Payload: r.Writes})
		}
	}
}

func emitInterrupt(emitter emit.Emitter, modes []StreamMode, cfg ThreadConfig, step int, signals []InterruptSignal) {
	if !hasMode(modes, StreamTasks) {
		return
	}
	emitter.Emit(emit.Event{ThreadID: cfg.ThreadID, Mode: string(StreamTasks), Step: step, Msg: "paused", Payload: signals})
}

func emitCustom(emitter emit.Emitter, modes []StreamMode, cfg ThreadConfig, step int, nodeID string, value any) {
	if !hasMode(modes, StreamCustom) {
		return
	}
	emitter.Emit(emit.Event{ThreadID: cfg.ThreadID, Mode: string(StreamCustom), Step: step, NodeID: nodeID, Msg: "custom", Payload: value})
}

func emitDebug(emitter emit.Emitter, modes []StreamMode, cfg ThreadConfig, step int, msg string) {
	if !hasMode(modes, StreamDebug) {
		return
	}
	emitter.Emit(emit.Event{ThreadID: cfg.ThreadID, Mode: string(StreamDebug), Step: step, Msg: msg})
}

func emitError(emitter emit.Emitter, modes []StreamMode, cfg ThreadConfig, step int, err error) {
	if !hasMode(modes, StreamError) {
		return
	}
	emitter.Emit(emit.Event{ThreadID: cfg.ThreadID, Mode: string(StreamError), Step: step, Msg: err.Error()})
}
