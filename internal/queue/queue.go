// Package queue implements the bounded single-producer/single-consumer
// frame ring described in spec.md §4.2: fixed capacity, copy-in push,
// newest-wins drop policy when full, and a stop signal that wakes a
// blocked consumer.
package queue

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/zbynekdrlik/ndi-bridge-go/internal/frame"
)

// cacheLine is the padding width that keeps the producer's tail counter
// and the consumer's head counter off each other's cache line.
const cacheLine = 64

// paddedUint64 is an atomic counter padded out to its own cache line.
type paddedUint64 struct {
	v atomic.Uint64
	_ [cacheLine - 8]byte
}

// Queue is a fixed-capacity ring of Frames. head and tail are
// cache-line-padded, monotonically increasing atomic sequence counters
// indexed into slots mod capacity (spec.md §4.2): empty is head==tail,
// full is tail-head==capacity. head is normally advanced only by the
// consumer (TryPop); on overflow TryPush also advances it to evict the
// oldest frame (newest-wins), so both sides arbitrate head with a
// CompareAndSwap rather than a plain store. tail is written only by the
// producer. Slots are not pre-allocated: TryPush stores a freshly
// allocated copy of the frame's data (Frame.Owned) in the slot on every
// push, so backend-owned buffers can be requeued to the kernel
// immediately after the call returns.
type Queue struct {
	slots    []frame.Frame
	capacity uint64

	head paddedUint64
	tail paddedUint64

	dropped atomic.Uint64
	stopped atomic.Bool

	waitMu sync.Mutex
	notify chan struct{} // re-created each wait; closed to wake waiters
}

// New creates a queue with room for capacity frames.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		slots:    make([]frame.Frame, capacity),
		capacity: uint64(capacity),
		notify:   make(chan struct{}),
	}
}

// wake closes the current notify channel (broadcasting to all waiters)
// and installs a fresh one.
func (q *Queue) wake() {
	q.waitMu.Lock()
	close(q.notify)
	q.notify = make(chan struct{})
	q.waitMu.Unlock()
}

// TryPush inserts f, copying its data into the slot. When full, it evicts
// the oldest slot (head) and increments the dropped count before writing
// the new frame — newest-wins latency behaviour. TryPush never blocks.
func (q *Queue) TryPush(f frame.Frame) bool {
	owned := f.Owned()

	tail := q.tail.v.Load()
	for {
		head := q.head.v.Load()
		if tail-head != q.capacity {
			break
		}
		if q.head.v.CompareAndSwap(head, head+1) {
			q.slots[head%q.capacity] = frame.Frame{}
			q.dropped.Add(1)
			break
		}
		// Consumer popped concurrently; head moved, re-check fullness.
	}

	q.slots[tail%q.capacity] = owned
	q.tail.v.Store(tail + 1)
	q.wake()
	return true
}

// TryPop waits up to timeout for a frame to become available or for Stop
// to be called, returning (frame, true) on success or (zero, false) on
// timeout/stop.
func (q *Queue) TryPop(timeout time.Duration) (frame.Frame, bool) {
	deadline := time.Now().Add(timeout)
	for {
		for {
			head := q.head.v.Load()
			tail := q.tail.v.Load()
			if head == tail {
				break // empty
			}
			if q.head.v.CompareAndSwap(head, head+1) {
				f := q.slots[head%q.capacity]
				q.slots[head%q.capacity] = frame.Frame{}
				return f, true
			}
			// Lost the race with a concurrent TryPush eviction; retry.
		}

		if q.stopped.Load() {
			return frame.Frame{}, false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return frame.Frame{}, false
		}

		q.waitMu.Lock()
		ch := q.notify
		q.waitMu.Unlock()

		timer := time.NewTimer(remaining)
		select {
		case <-ch:
			timer.Stop()
		case <-timer.C:
			return frame.Frame{}, false
		}
	}
}

// Clear discards all queued frames without resetting the dropped count.
func (q *Queue) Clear() {
	for {
		if _, ok := q.TryPop(0); !ok {
			return
		}
	}
}

// Stop wakes any blocked consumer; subsequent TryPop calls return
// immediately with (zero, false).
func (q *Queue) Stop() {
	q.stopped.Store(true)
	q.wake()
}

// Empty reports whether the queue currently holds no frames.
func (q *Queue) Empty() bool {
	return q.head.v.Load() == q.tail.v.Load()
}

// Full reports whether the queue is at capacity.
func (q *Queue) Full() bool {
	return q.tail.v.Load()-q.head.v.Load() == q.capacity
}

// Size returns the current number of queued frames.
func (q *Queue) Size() int {
	return int(q.tail.v.Load() - q.head.v.Load())
}

// Capacity returns N, the fixed slot count.
func (q *Queue) Capacity() int { return int(q.capacity) }

// DroppedCount returns the number of frames discarded because the queue
// was full at push time.
func (q *Queue) DroppedCount() uint64 {
	return q.dropped.Load()
}
