// Package ring implements the fixed-capacity slot array shared by the
// submission and completion rings: a plain producer tail (single
// producer by contract), an atomic consumer head (observed by the
// producer to clear back-pressure), and a doorbell callback invoked on
// every tail/head advance.
//
// This is the Go translation of the original driver's queue<T> template
// (original_source/drivers/nvme-user-queue.hh): the same fields, the same
// non-atomic-tail/atomic-head split, generalized with Go generics instead
// of a C++ template.
package ring

import "sync/atomic"

// Doorbell writes a 32-bit value to a device MMIO register.
type Doorbell func(value uint32)

// Ring is a fixed-capacity array of N entries of type T.
type Ring[T any] struct {
	entries []T
	n       uint32

	tail     uint32 // producer-owned; single-writer by contract
	head     atomic.Uint32
	doorbell Doorbell
}

// New creates a ring of capacity n backed by a caller-supplied,
// DMA-capable slice (its zero value on construction, per spec §3) and a
// doorbell callback.
func New[T any](entries []T, doorbell Doorbell) *Ring[T] {
	return &Ring[T]{
		entries:  entries,
		n:        uint32(len(entries)),
		doorbell: doorbell,
	}
}

// N returns the ring's capacity.
func (r *Ring[T]) N() uint32 { return r.n }

// Tail returns the current producer tail.
func (r *Ring[T]) Tail() uint32 { return r.tail }

// Head returns the current consumer head.
func (r *Ring[T]) Head() uint32 { return r.head.Load() }

// Slot returns a pointer to the entry at index i for in-place writes.
func (r *Ring[T]) Slot(i uint32) *T { return &r.entries[i] }

// Full reports whether advancing the tail once more would collide with
// head — i.e. (tail+1) mod N == head.
func (r *Ring[T]) Full() bool {
	return (r.tail+1)%r.n == r.head.Load()
}

// Empty reports whether head == tail. Completion rings use the phase tag
// instead of this check (see spec §3); it is provided for the submission
// ring and for tests.
func (r *Ring[T]) Empty() bool {
	return r.head.Load() == r.tail
}

// AdvanceTail increments the producer tail modulo N and rings the
// doorbell with the new tail value. The caller is responsible for
// checking Full() after advancing and latching its own sq_full flag (that
// flag belongs to the owning queue pair, not the ring — see spec §3).
func (r *Ring[T]) AdvanceTail() {
	r.tail = (r.tail + 1) % r.n
	if r.doorbell != nil {
		r.doorbell(r.tail)
	}
}

// SetHead overwrites the consumer head directly, for the queue pair's
// sq.head ← completion.sqhd resync (spec §4.5 step 3). It reports whether
// the stored value actually changed.
func (r *Ring[T]) SetHead(v uint32) (changed bool) {
	old := r.head.Swap(v)
	return old != v
}

// AdvanceHead increments the consumer head modulo N, invoking onWrap when
// the head wraps back to 0 (the completion ring's phase-tag toggle), then
// rings the doorbell with the new head value.
func (r *Ring[T]) AdvanceHead(onWrap func()) {
	next := (r.head.Load() + 1) % r.n
	r.head.Store(next)
	if next == 0 && onWrap != nil {
		onWrap()
	}
	if r.doorbell != nil {
		r.doorbell(next)
	}
}
