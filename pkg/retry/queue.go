// Package retry holds location samples whose fan-out round failed and
// drains them back through the dispatcher when the network returns.
package retry

import (
	"sync"

	"github.com/gammazero/deque"

	"github.com/teslashibe/go-pantera/pkg/location"
)

// DefaultCapacity is the number of samples held before the oldest is evicted.
const DefaultCapacity = 100

// Queue is a bounded FIFO of samples. It is shared by the live fix
// pipeline and the drain loop; every operation takes the same mutex.
type Queue struct {
	mu       sync.Mutex
	items    deque.Deque[location.Sample]
	capacity int
	evicted  uint64

	// OnEvict is called (outside the lock) with each sample dropped on overflow.
	OnEvict func(location.Sample)
}

// NewQueue creates a queue holding at most capacity samples.
// A non-positive capacity selects DefaultCapacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{capacity: capacity}
}

// Enqueue appends s, evicting the oldest sample when full.
// It reports whether a sample was evicted.
func (q *Queue) Enqueue(s location.Sample) bool {
	q.mu.Lock()
	q.items.PushBack(s)
	dropped, evicted := q.trimLocked()
	onEvict := q.OnEvict
	q.mu.Unlock()

	if evicted && onEvict != nil {
		onEvict(dropped)
	}
	return evicted
}

// PopFront removes and returns the oldest sample.
func (q *Queue) PopFront() (location.Sample, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Len() == 0 {
		return location.Sample{}, false
	}
	return q.items.PopFront(), true
}

// PushFront returns a sample to the head of the queue after a failed
// drain attempt so the remaining order is preserved. If enqueues filled
// the queue in the meantime, the oldest sample (s itself) is the one evicted.
func (q *Queue) PushFront(s location.Sample) {
	q.mu.Lock()
	q.items.PushFront(s)
	dropped, evicted := q.trimLocked()
	onEvict := q.OnEvict
	q.mu.Unlock()

	if evicted && onEvict != nil {
		onEvict(dropped)
	}
}

func (q *Queue) trimLocked() (location.Sample, bool) {
	if q.items.Len() <= q.capacity {
		return location.Sample{}, false
	}
	q.evicted++
	return q.items.PopFront(), true
}

// Len returns the number of queued samples.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Capacity returns the configured bound.
func (q *Queue) Capacity() int {
	return q.capacity
}

// Evicted returns how many samples were dropped on overflow.
func (q *Queue) Evicted() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.evicted
}

// Items returns a copy of the queue, oldest first.
func (q *Queue) Items() []location.Sample {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]location.Sample, q.items.Len())
	for i := range out {
		out[i] = q.items.At(i)
	}
	return out
}
