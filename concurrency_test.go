package pregel

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// slowNodeTask returns a Task whose node's Bound blocks on a
// channel until released, tracking how many instances are in flight at
// once, for asserting MaxConcurrentTasks is honored.
func slowNodeTask(id, name string, inflight, maxSeen *int64, release <-chan struct{}) *Task {
	node := &PregelNode{
		Name: name,
		Bound: RunnableFunc(func(ctx context.Context, _ any, _ *TaskConfig) ([]ChannelWrite, error) {
			cur := atomic.AddInt64(inflight, 1)
			for {
				old := atomic.LoadInt64(maxSeen)
				if cur <= old || atomic.CompareAndSwapInt64(maxSeen, old, cur) {
					break
				}
			}
			select {
			case <-release:
			case <-ctx.Done():
				atomic.AddInt64(inflight, -1)
				return nil, ctx.Err()
			}
			atomic.AddInt64(inflight, -1)
			return nil, nil
		}),
	}
	return &Task{
		ID:       id,
		Kind:     TaskPull,
		NodeName: name,
		Node:     node,
		Config:   newTaskConfig(id, name, 0, nil, "", nil, nil),
	}
}

// TestScheduler_RespectsMaxConcurrentTasks runs more tasks than
// MaxConcurrentTasks allows and asserts the observed concurrency never
// exceeds the configured bound.
func TestScheduler_RespectsMaxConcurrentTasks(t *testing.T) {
	var inflight, maxSeen int64
	release := make(chan struct{})

	const taskCount = 6
	const limit = 2
	tasks := make([]*Task, taskCount)
	for i := 0; i < taskCount; i++ {
		tasks[i] = slowNodeTask(string(rune('a'+i)), string(rune('a'+i)), &inflight, &maxSeen, release)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var results []*taskResult
	var runErr error
	go func() {
		defer wg.Done()
		results, runErr = runStep(context.Background(), tasks, schedulerConfig{
			MaxConcurrentTasks: limit,
		}, newTaskCache())
	}()

	// Give every admitted task a chance to register before releasing.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if runErr != nil {
		t.Fatalf("runStep: %v", runErr)
	}
	if len(results) != taskCount {
		t.Fatalf("expected %d results, got %d", taskCount, len(results))
	}
	if got := atomic.LoadInt64(&maxSeen); got > int64(limit) {
		t.Fatalf("observed %d tasks in flight at once, want at most %d", got, limit)
	}
}

// TestScheduler_CancellationMidStep cancels the context while a second
// task is still parked waiting for the single execution slot a first,
// still-running task holds, and expects runStep to surface ErrCancelled
// from the blocked dispatch rather than hang or silently drop it.
func TestScheduler_CancellationMidStep(t *testing.T) {
	var inflight, maxSeen int64
	release := make(chan struct{})
	defer close(release)

	tasks := []*Task{
		slowNodeTask("t1", "n1", &inflight, &maxSeen, release),
		slowNodeTask("t2", "n2", &inflight, &maxSeen, release),
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	var runErr error
	go func() {
		defer wg.Done()
		_, runErr = runStep(ctx, tasks, schedulerConfig{MaxConcurrentTasks: 1}, newTaskCache())
	}()

	// t1 takes the only slot and blocks on release; t2 parks waiting for
	// a slot to free. Cancel while t2 is still parked there.
	time.Sleep(20 * time.Millisecond)
	cancel()
	wg.Wait()

	if runErr != ErrCancelled {
		t.Fatalf("expected ErrCancelled, got %v", runErr)
	}
}

// TestScheduler_BackpressureTimeout fills the queue beyond QueueDepth and
// expects the overflowing task to fail with ErrBackpressureTimeout rather
// than block forever.
func TestScheduler_BackpressureTimeout(t *testing.T) {
	var inflight, maxSeen int64
	release := make(chan struct{})

	tasks := []*Task{
		slowNodeTask("t1", "n1", &inflight, &maxSeen, release),
		slowNodeTask("t2", "n2", &inflight, &maxSeen, release),
		slowNodeTask("t3", "n3", &inflight, &maxSeen, release),
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var runErr error
	go func() {
		defer wg.Done()
		_, runErr = runStep(context.Background(), tasks, schedulerConfig{
			MaxConcurrentTasks:  1,
			QueueDepth:          1,
			BackpressureTimeout: 30 * time.Millisecond,
		}, newTaskCache())
	}()

	// Let t2/t3 exhaust the queue and time out while t1 holds the only
	// slot, then release t1 so runStep can return.
	time.Sleep(80 * time.Millisecond)
	close(release)
	wg.Wait()

	if runErr != ErrBackpressureTimeout {
		t.Fatalf("expected ErrBackpressureTimeout, got %v", runErr)
	}
}
