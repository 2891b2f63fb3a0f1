// Package batch provides the two timing primitives of the sync protocol: a
// Batcher that coalesces outbound changes over a short window, and a Throttle
// that gates an action to at most one run per interval.
package batch

import (
	"sync"
	"time"
)

// FlushInterval is the default coalescing window for outbound changes. Short
// enough to be imperceptible, long enough to collapse a burst of freehand
// edits into one message.
const FlushInterval = 32 * time.Millisecond

// Batcher accumulates values and delivers the whole pending list to the flush
// callback at a fixed interval. Flushes with nothing pending are skipped.
type Batcher[T any] struct {
	mu       sync.Mutex
	pending  []T
	flush    func([]T)
	done     chan struct{}
	stopOnce sync.Once
}

// NewBatcher starts a batcher flushing every interval. The callback runs on
// the batcher's own goroutine.
func NewBatcher[T any](interval time.Duration, flush func([]T)) *Batcher[T] {
	b := &Batcher[T]{flush: flush, done: make(chan struct{})}
	go b.run(interval)
	return b
}

func (b *Batcher[T]) run(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			b.Flush()
		case <-b.done:
			return
		}
	}
}

// Enqueue appends a value to the pending list.
func (b *Batcher[T]) Enqueue(v T) {
	b.mu.Lock()
	b.pending = append(b.pending, v)
	b.mu.Unlock()
}

// Flush delivers the pending list immediately, if non-empty.
func (b *Batcher[T]) Flush() {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()
	if len(pending) > 0 {
		b.flush(pending)
	}
}

// Clear drops everything pending without delivering it. Used when the replica
// has diverged and the buffered changes would only make it worse.
func (b *Batcher[T]) Clear() {
	b.mu.Lock()
	b.pending = nil
	b.mu.Unlock()
}

// Stop halts the flush timer. Pending values are not delivered.
func (b *Batcher[T]) Stop() {
	b.stopOnce.Do(func() { close(b.done) })
}

// Throttle runs a function at most once per interval, coalescing any number
// of triggers in between into a single trailing-edge run.
type Throttle struct {
	mu       sync.Mutex
	interval time.Duration
	fn       func()
	timer    *time.Timer
	stopped  bool
}

// NewThrottle returns a throttle around fn.
func NewThrottle(interval time.Duration, fn func()) *Throttle {
	return &Throttle{interval: interval, fn: fn}
}

// Trigger schedules a run. Repeated triggers before the run fires are
// coalesced into it.
func (t *Throttle) Trigger() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.timer != nil {
		return
	}
	t.timer = time.AfterFunc(t.interval, func() {
		t.mu.Lock()
		t.timer = nil
		t.mu.Unlock()
		t.fn()
	})
}

// Flush runs fn now if a run is pending, cancelling the timer.
func (t *Throttle) Flush() {
	t.mu.Lock()
	pending := t.timer != nil && t.timer.Stop()
	t.timer = nil
	t.mu.Unlock()
	if pending {
		t.fn()
	}
}

// Stop cancels any pending run and rejects future triggers.
func (t *Throttle) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.stopped = true
}
