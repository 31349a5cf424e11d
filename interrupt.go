package pregel

// InterruptSignal describes a single pause point raised by a node via
// Interrupt(cfg, value). A task may raise several across its lifetime if
// it is resumed and runs further before pausing again.
type InterruptSignal struct {
	ID    string `json:"id"`
	Value any    `json:"value"`
	When  string `json:"when"`
}

// GraphInterrupt is the structured pause signal a task's Runnable raises
// (by returning it as an error) to suspend the run. The loop catches it,
// persists Value as a pending write on the reserved ChannelInterrupt keyed
// to the task's ID, emits the interrupt on the event stream, and returns
// a paused result to the caller.
type GraphInterrupt struct {
	Value      any
	Interrupts []InterruptSignal
}

func (e *GraphInterrupt) Error() string {
	return "pregel: graph interrupted"
}

// resumeValues holds the already-recorded resume values for a task,
// indexed by the order in which Interrupt was called on a prior attempt.
// A task that calls Interrupt more than once before finally completing
// replays its earlier calls from this slice instead of pausing again.
type resumeValues struct {
	values []any
}

func (r *resumeValues) valueAt(i int) (any, bool) {
	if r == nil || i >= len(r.values) {
		return nil, false
	}
	return r.values[i], true
}

// Interrupt pauses the current task, surfacing value to the caller. If
// cfg already holds a resume value for this call site (because the task
// is being re-executed after a prior pause), Interrupt
// returns that value synchronously instead of pausing again — the code
// preceding an Interrupt call re-runs on resume, matching the
// "ran exactly once total" contract of a completed task.
//
// Because Go has no coroutines, a pause is modeled as a panic carrying a
// sentinel the scheduler recovers; callers must not recover it
// themselves.
func Interrupt(cfg *TaskConfig, value any) any {
	idx := cfg.interruptCalls
	cfg.interruptCalls++
	if v, ok := cfg.resume.valueAt(idx); ok {
		return v
	}
	panic(&graphInterruptSignal{
		interrupt: InterruptSignal{ID: cfg.TaskID, Value: value, When: "breakpoint"},
	})
}

// graphInterruptSignal is the panic payload Interrupt raises; the
// scheduler recovers it and converts it into a *GraphInterrupt error so
// it propagates through the normal error path from there on.
type graphInterruptSignal struct {
	interrupt InterruptSignal
}
