package batch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBatcherCoalesces(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var flushes [][]int
	b := NewBatcher[int](10*time.Millisecond, func(vs []int) {
		mu.Lock()
		flushes = append(flushes, vs)
		mu.Unlock()
	})
	defer b.Stop()

	b.Enqueue(1)
	b.Enqueue(2)
	b.Enqueue(3)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(flushes) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	require.Equal(t, []int{1, 2, 3}, flushes[0])
	mu.Unlock()
}

func TestBatcherSkipsEmptyFlushes(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	count := 0
	b := NewBatcher[int](5*time.Millisecond, func([]int) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	defer b.Stop()

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	require.Zero(t, count)
	mu.Unlock()
}

func TestBatcherClearDropsPending(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	count := 0
	b := NewBatcher[int](10*time.Millisecond, func([]int) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	defer b.Stop()

	b.Enqueue(1)
	b.Clear()
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	require.Zero(t, count)
	mu.Unlock()
}

func TestThrottleCoalescesTriggers(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	runs := 0
	th := NewThrottle(30*time.Millisecond, func() {
		mu.Lock()
		runs++
		mu.Unlock()
	})
	defer th.Stop()

	for i := 0; i < 20; i++ {
		th.Trigger()
	}
	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	require.Equal(t, 1, runs)
	mu.Unlock()
}

func TestThrottleFlushRunsPendingNow(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	runs := 0
	th := NewThrottle(time.Hour, func() {
		mu.Lock()
		runs++
		mu.Unlock()
	})
	defer th.Stop()

	th.Flush() // nothing pending
	th.Trigger()
	th.Flush()
	mu.Lock()
	require.Equal(t, 1, runs)
	mu.Unlock()
}

func TestThrottleStopCancelsPending(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	runs := 0
	th := NewThrottle(10*time.Millisecond, func() {
		mu.Lock()
		runs++
		mu.Unlock()
	})
	th.Trigger()
	th.Stop()
	th.Trigger()
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	require.Zero(t, runs)
	mu.Unlock()
}
