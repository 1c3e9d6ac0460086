package msgworker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startPool(t *testing.T, workers, queue int) *DispatchWorkerPool {
	t.Helper()

	pool := NewDispatchWorkerPool(workers, queue)
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	t.Cleanup(func() {
		cancel()
		pool.Stop()
	})
	return pool
}

func TestPool_TryDispatchNonBlocking(t *testing.T) {
	pool := startPool(t, 2, 10)

	start := time.Now()
	ok := pool.TryDispatch(DispatchJob{
		InstanceID: "inst",
		JobID:      "job",
		Handler: func(ctx context.Context) error {
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	})

	assert.True(t, ok)
	assert.Less(t, time.Since(start), 20*time.Millisecond)
}

func TestPool_SingleWorkerRunsInSubmissionOrder(t *testing.T) {
	pool := startPool(t, 1, 100)

	var (
		mu      sync.Mutex
		results []int
	)
	for i := 1; i <= 5; i++ {
		val := i
		require.True(t, pool.TryDispatch(DispatchJob{
			InstanceID: "inst1",
			JobID:      fmt.Sprintf("job-%d", i),
			Handler: func(ctx context.Context) error {
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				results = append(results, val)
				mu.Unlock()
				return nil
			},
		}))
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) == 5
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3, 4, 5}, results)
}

func TestPool_LongJobDoesNotDelayOtherInstances(t *testing.T) {
	pool := startPool(t, 2, 100)

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	longStarted := make(chan struct{})
	require.True(t, pool.TryDispatch(DispatchJob{
		InstanceID: "inst-a",
		JobID:      "campaign",
		Handler: func(ctx context.Context) error {
			close(longStarted)
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		},
	}))
	<-longStarted

	// Every instance id must reach the free worker, whatever it hashes to.
	var done int32
	for i := 0; i < 16; i++ {
		require.True(t, pool.TryDispatch(DispatchJob{
			InstanceID: fmt.Sprintf("inst-%d", i),
			JobID:      "scheduled",
			Handler: func(ctx context.Context) error {
				atomic.AddInt32(&done, 1)
				return nil
			},
		}))
	}

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&done) == 16 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return pool.GetStats().ActiveWorkers == 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, pool.GetStats().ActiveJobs, "inst-a|campaign")
}

func TestPool_JobsOnSameInstanceRunConcurrently(t *testing.T) {
	pool := startPool(t, 2, 10)

	var active, maxActive, done int32
	for i := 0; i < 2; i++ {
		require.True(t, pool.TryDispatch(DispatchJob{
			InstanceID: "inst1",
			JobID:      fmt.Sprintf("job-%d", i),
			Handler: func(ctx context.Context) error {
				cur := atomic.AddInt32(&active, 1)
				for {
					max := atomic.LoadInt32(&maxActive)
					if cur <= max || atomic.CompareAndSwapInt32(&maxActive, max, cur) {
						break
					}
				}
				time.Sleep(50 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				atomic.AddInt32(&done, 1)
				return nil
			},
		}))
	}

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&done) == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&maxActive))
}

func TestPool_RespectsMaxWorkers(t *testing.T) {
	maxWorkers := 3
	pool := startPool(t, maxWorkers, 100)

	var activeCount, maxActive, done int32
	for i := 0; i < 10; i++ {
		pool.TryDispatch(DispatchJob{
			InstanceID: fmt.Sprintf("inst-%d", i),
			JobID:      "job",
			Handler: func(ctx context.Context) error {
				current := atomic.AddInt32(&activeCount, 1)
				for {
					max := atomic.LoadInt32(&maxActive)
					if current <= max || atomic.CompareAndSwapInt32(&maxActive, max, current) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&activeCount, -1)
				atomic.AddInt32(&done, 1)
				return nil
			},
		})
	}

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&done) == 10 }, 2*time.Second, 10*time.Millisecond)
	assert.LessOrEqual(t, atomic.LoadInt32(&maxActive), int32(maxWorkers))
}

func TestPool_PanicIsRecovered(t *testing.T) {
	pool := startPool(t, 1, 10)

	var ran int32
	pool.TryDispatch(DispatchJob{InstanceID: "a", JobID: "boom", Handler: func(ctx context.Context) error {
		panic("kaboom")
	}})
	pool.TryDispatch(DispatchJob{InstanceID: "a", JobID: "ok", Handler: func(ctx context.Context) error {
		atomic.StoreInt32(&ran, 1)
		return errors.New("soft failure")
	}})

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&ran) == 1 }, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return pool.GetStats().TotalErrors == 2 }, time.Second, 10*time.Millisecond)
}

func TestPool_StopCancelsHandlers(t *testing.T) {
	pool := NewDispatchWorkerPool(1, 10)
	pool.Start(context.Background())

	started := make(chan struct{})
	var cancelled int32
	pool.TryDispatch(DispatchJob{InstanceID: "a", JobID: "long", Handler: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		atomic.StoreInt32(&cancelled, 1)
		return ctx.Err()
	}})

	<-started
	pool.Stop()

	assert.Equal(t, int32(1), atomic.LoadInt32(&cancelled))
	assert.False(t, pool.TryDispatch(DispatchJob{InstanceID: "a", JobID: "late", Handler: func(ctx context.Context) error { return nil }}))
}

func TestPool_QueueFullRejects(t *testing.T) {
	pool := startPool(t, 1, 1)

	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	handler := func(ctx context.Context) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	}

	require.True(t, pool.TryDispatch(DispatchJob{InstanceID: "a", JobID: "1", Handler: handler}))
	assert.Eventually(t, func() bool { return pool.GetStats().ActiveWorkers == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, pool.TryDispatch(DispatchJob{InstanceID: "a", JobID: "2", Handler: handler}))
	assert.False(t, pool.TryDispatch(DispatchJob{InstanceID: "a", JobID: "3", Handler: handler}))
	assert.Equal(t, int64(1), pool.GetStats().TotalDropped)
	assert.Equal(t, 1, pool.GetStats().QueueDepth)
}
