package pregel

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// taskResult is the outcome of running a single task to completion (or to
// a pause/error). Exactly one of Writes, Interrupt, Err is meaningful.
type taskResult struct {
	Task      *Task
	Writes    []ChannelWrite
	Interrupt *GraphInterrupt
	Err       error
}

// schedulerConfig carries the EXEC-phase knobs a runner needs; it is a
// narrow view of engineConfig kept here so scheduler.go does not need to
// import the whole engine.
type schedulerConfig struct {
	ThreadID            string
	MaxConcurrentTasks  int
	QueueDepth          int
	BackpressureTimeout time.Duration
	DefaultTaskTimeout  time.Duration
	Metrics             *PrometheusMetrics
	OnTaskDone          func(*taskResult)
}

// runStep executes tasks concurrently ("concurrent task execution
// within each superstep"), honoring each node's retry and cache policy,
// and reports results through cfg.OnTaskDone as each task completes so
// the caller can persist put_writes for durability as soon as possible.
// runStep blocks until every task has completed, been cancelled, or
// raised a *GraphInterrupt.
func runStep(ctx context.Context, tasks []*Task, cfg schedulerConfig, cache *taskCache) ([]*taskResult, error) {
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = 1
	}
	queueDepth := cfg.QueueDepth
	if queueDepth <= 0 {
		queueDepth = cfg.MaxConcurrentTasks
	}

	sem := make(chan struct{}, queueDepth)
	results := make([]*taskResult, len(tasks))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i, t := range tasks {
		i, t := i, t

		acquireCtx := runCtx
		var acquireCancel context.CancelFunc
		if cfg.BackpressureTimeout > 0 {
			acquireCtx, acquireCancel = context.WithTimeout(runCtx, cfg.BackpressureTimeout)
		}
		select {
		case sem <- struct{}{}:
			if acquireCancel != nil {
				acquireCancel()
			}
		case <-acquireCtx.Done():
			if acquireCancel != nil {
				acquireCancel()
			}
			if cfg.Metrics != nil {
				cfg.Metrics.IncrementBackpressure(cfg.ThreadID, "queue_full")
			}
			mu.Lock()
			if firstErr == nil {
				if runCtx.Err() != nil {
					firstErr = ErrCancelled
				} else {
					firstErr = ErrBackpressureTimeout
				}
			}
			mu.Unlock()
			cancel()
			continue
		}

		if cfg.Metrics != nil {
			cfg.Metrics.UpdateInflightTasks(len(sem))
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if cfg.Metrics != nil {
					cfg.Metrics.UpdateInflightTasks(len(sem))
				}
			}()

			r := executeWithPolicy(runCtx, t, cfg, cache)
			results[i] = r
			if cfg.OnTaskDone != nil {
				cfg.OnTaskDone(r)
			}
			if r.Err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = r.Err
				}
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	return results, firstErr
}

// executeWithPolicy runs a single task, applying its node's cache policy
// (short-circuiting on hit) and retry policy (on miss / error), and
// converts a panicked Interrupt call into a *GraphInterrupt result.
func executeWithPolicy(ctx context.Context, t *Task, cfg schedulerConfig, cache *taskCache) *taskResult {
	var cacheKey string
	if t.Node.CachePolicy != nil {
		cacheKey = t.Node.CachePolicy.KeyFunc(t.NodeName, t.Input)
		if writes, ok := cache.get(t.NodeName, cacheKey); ok {
			return &taskResult{Task: t, Writes: writes}
		}
	}

	policy := t.Node.RetryPolicy
	attempts := 1
	if policy != nil {
		attempts = policy.MaxAttempts
	}

	var rng *rand.Rand
	if policy != nil {
		rng = rand.New(rand.NewSource(int64(len(t.ID))))
	}

	var last *taskResult
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && policy != nil {
			delay := computeBackoff(attempt-1, policy.BaseDelay, policy.MaxDelay, rng)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return &taskResult{Task: t, Err: ErrCancelled}
			}
			if cfg.Metrics != nil {
				cfg.Metrics.IncrementRetries(cfg.ThreadID, t.NodeName)
			}
		}

		runCtx := ctx
		var cancel context.CancelFunc
		if d := taskTimeout(t.Node, cfg.DefaultTaskTimeout); d > 0 {
			runCtx, cancel = context.WithTimeout(ctx, d)
		}
		last = runOnce(runCtx, t)
		if cancel != nil {
			cancel()
		}

		if last.Err == nil || last.Interrupt != nil {
			break
		}
		if policy == nil || policy.Retryable == nil || !policy.Retryable(last.Err) {
			break
		}
	}

	if last.Err == nil && last.Interrupt == nil && t.Node.CachePolicy != nil {
		cache.put(t.NodeName, cacheKey, last.Writes, t.Node.CachePolicy.TTL)
	}
	return last
}

// taskTimeout resolves a node's effective per-attempt timeout: a node's
// own Timeout wins when set, a negative value means "no timeout" even
// under a configured default, and zero defers to defaultTimeout.
func taskTimeout(node *PregelNode, defaultTimeout time.Duration) time.Duration {
	if node.Timeout < 0 {
		return 0
	}
	if node.Timeout > 0 {
		return node.Timeout
	}
	return defaultTimeout
}

// runOnce executes the bound computation exactly once, recovering a
// graphInterruptSignal panic (raised by Interrupt) into a *GraphInterrupt
// result rather than letting it escape as a runtime panic.
func runOnce(ctx context.Context, t *Task) (result *taskResult) {
	defer func() {
		if r := recover(); r != nil {
			sig, ok := r.(*graphInterruptSignal)
			if !ok {
				panic(r)
			}
			result = &taskResult{
				Task:      t,
				Interrupt: &GraphInterrupt{Value: sig.interrupt.Value, Interrupts: []InterruptSignal{sig.interrupt}},
			}
		}
	}()

	t.Config.writes = nil
	writes, err := t.Node.Bound.Run(ctx, t.Input, t.Config)
	if err != nil {
		if gi, ok := err.(*GraphInterrupt); ok {
			return &taskResult{Task: t, Interrupt: gi}
		}
		return &taskResult{Task: t, Err: &TaskError{NodeID: t.NodeName, TaskID: t.ID, Cause: err}}
	}
	return &taskResult{Task: t, Writes: append(writes, t.Config.writes...)}
}
