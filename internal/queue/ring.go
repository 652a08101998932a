// Package queue implements the bounded FIFO ring buffer that backs every
// per-lane queue in the priority lane buffer (internal/lanebuffer).
package queue

import "github.com/relaytide/edgegateway/internal/gwerr"

// Ring is a fixed-capacity FIFO. When full, Enqueue evicts and returns the
// oldest element instead of rejecting the new one. Every operation is O(1)
// except Drain, which is O(size). Not safe for concurrent use by itself —
// callers that need concurrency (internal/lanebuffer) add their own lock.
type Ring[T any] struct {
	buf   []T
	head  int // index of the oldest element
	size  int
}

// New constructs a Ring with the given capacity. capacity must be >= 1.
func New[T any](capacity int) (*Ring[T], error) {
	if capacity < 1 {
		return nil, gwerr.Wrap(gwerr.ErrInvalidArgument, "queue: capacity must be >= 1, got %d", capacity)
	}
	return &Ring[T]{buf: make([]T, capacity)}, nil
}

// Len returns the current number of queued elements.
func (r *Ring[T]) Len() int { return r.size }

// Cap returns the ring's fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Enqueue appends x. If the ring was already at capacity, the oldest element
// is evicted first and returned as dropped=true, evicted.
func (r *Ring[T]) Enqueue(x T) (dropped bool, evicted T) {
	if r.size == len(r.buf) {
		evicted, _ = r.dequeueLocked()
		dropped = true
	}
	tail := (r.head + r.size) % len(r.buf)
	r.buf[tail] = x
	r.size++
	return dropped, evicted
}

// Dequeue removes and returns the oldest element, if any.
func (r *Ring[T]) Dequeue() (x T, ok bool) {
	return r.dequeueLocked()
}

func (r *Ring[T]) dequeueLocked() (x T, ok bool) {
	if r.size == 0 {
		return x, false
	}
	x = r.buf[r.head]
	var zero T
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.size--
	return x, true
}

// Peek returns the oldest element without removing it.
func (r *Ring[T]) Peek() (x T, ok bool) {
	if r.size == 0 {
		return x, false
	}
	return r.buf[r.head], true
}

// Drain removes and returns every queued element in FIFO order, emptying
// the ring.
func (r *Ring[T]) Drain() []T {
	out := make([]T, 0, r.size)
	for r.size > 0 {
		x, _ := r.dequeueLocked()
		out = append(out, x)
	}
	return out
}
