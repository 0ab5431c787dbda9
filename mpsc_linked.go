// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mpq

import (
	"math"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// MPSCLinked is an unbounded multi-producer single-consumer linked queue.
//
// Based on Vyukov's intrusive MPSC node queue. A producer swaps itself in
// as the new tail and then links the previous tail to its node:
//
//	prev := producerNode.SwapAcqRel(n)   // unique predecessor per producer
//	prev.next.StoreRelease(n)           // link becomes visible later
//
// Between the two steps the chain is broken. A consumer that finds no next
// node while the consumer node is not the producer node spins until the
// link appears. This is the one place the queue is not wait-free.
//
// The consumer node is always a stub whose value has been consumed.
// Consumed nodes link to themselves so that GC can reclaim them without
// a chain of dead nodes keeping each other alive.
//
// Offer never fails. Memory grows with the number of queued elements.
type MPSCLinked[T any] struct {
	_            pad
	producerNode atomix.Pointer[linkedNode[T]] // Producers swap here
	_            pad
	consumerNode atomix.Pointer[linkedNode[T]] // Single consumer writes
	_            pad
}

type linkedNode[T any] struct {
	next  atomix.Pointer[linkedNode[T]]
	value T
}

// NewMPSCLinked creates a new unbounded linked MPSC queue.
func NewMPSCLinked[T any]() *MPSCLinked[T] {
	q := &MPSCLinked[T]{}
	stub := &linkedNode[T]{}
	q.producerNode.StoreRelaxed(stub)
	q.consumerNode.StoreRelaxed(stub)
	return q
}

// Offer adds an element to the queue (multiple producers safe).
// Always returns nil.
func (q *MPSCLinked[T]) Offer(elem T) error {
	checkElem(elem)
	n := &linkedNode[T]{value: elem}
	prev := q.producerNode.SwapAcqRel(n)
	prev.next.StoreRelease(n)
	return nil
}

// RelaxedOffer is Offer.
func (q *MPSCLinked[T]) RelaxedOffer(elem T) error {
	return q.Offer(elem)
}

// Fill links up to limit elements from s into a private chain and
// publishes the whole chain with a single swap (multiple producers safe).
// Always offers limit elements. A nil interface from s panics before the
// chain is published, leaving the queue unchanged.
func (q *MPSCLinked[T]) Fill(s func() T, limit int) int {
	if limit <= 0 {
		return 0
	}
	head := &linkedNode[T]{value: s()}
	checkElem(head.value)
	tail := head
	for i := 1; i < limit; i++ {
		n := &linkedNode[T]{value: s()}
		checkElem(n.value)
		tail.next.StoreRelaxed(n)
		tail = n
	}
	prev := q.producerNode.SwapAcqRel(tail)
	prev.next.StoreRelease(head)
	return limit
}

// FillLoop offers elements from s until exit reports false.
func (q *MPSCLinked[T]) FillLoop(s func() T, w WaitStrategy, exit ExitCondition) {
	fillLoop(q.Fill, s, w, exit)
}

// Poll removes and returns an element (single consumer only).
// Returns (zero-value, ErrWouldBlock) if the queue is empty.
func (q *MPSCLinked[T]) Poll() (T, error) {
	cn := q.consumerNode.LoadRelaxed()
	next := q.nextNode(cn)
	if next == nil {
		var zero T
		return zero, ErrWouldBlock
	}
	return q.advance(cn, next), nil
}

// RelaxedPoll is Poll that reports empty instead of waiting for a producer
// that has swapped the tail but not linked it yet.
func (q *MPSCLinked[T]) RelaxedPoll() (T, error) {
	cn := q.consumerNode.LoadRelaxed()
	next := cn.next.LoadAcquire()
	if next == nil {
		var zero T
		return zero, ErrWouldBlock
	}
	return q.advance(cn, next), nil
}

// nextNode returns the successor of n, spinning over a pending link.
// Returns nil if n is the tail.
func (q *MPSCLinked[T]) nextNode(n *linkedNode[T]) *linkedNode[T] {
	next := n.next.LoadAcquire()
	if next == nil && n != q.producerNode.LoadAcquire() {
		next = spinNext(n)
	}
	return next
}

func spinNext[T any](n *linkedNode[T]) *linkedNode[T] {
	sw := spin.Wait{}
	for {
		if next := n.next.LoadAcquire(); next != nil {
			return next
		}
		sw.Once()
	}
}

// advance makes next the new stub and returns its value.
func (q *MPSCLinked[T]) advance(cn, next *linkedNode[T]) T {
	elem := next.value
	var zero T
	next.value = zero
	cn.next.StoreRelaxed(cn)
	q.consumerNode.StoreRelease(next)
	return elem
}

// Peek returns the head element without removing it (single consumer only).
func (q *MPSCLinked[T]) Peek() (T, error) {
	next := q.nextNode(q.consumerNode.LoadRelaxed())
	if next == nil {
		var zero T
		return zero, ErrWouldBlock
	}
	return next.value, nil
}

// RelaxedPeek is Peek without spinning.
func (q *MPSCLinked[T]) RelaxedPeek() (T, error) {
	next := q.consumerNode.LoadRelaxed().next.LoadAcquire()
	if next == nil {
		var zero T
		return zero, ErrWouldBlock
	}
	return next.value, nil
}

// RemoveFunc unlinks the first queued element for which match returns
// true. It reports whether an element was removed.
//
// RemoveFunc must only be called from the consumer goroutine. It is
// best-effort with respect to concurrent producers: when the match is the
// current tail, RemoveFunc tries to move the tail back and otherwise splices
// the node out once the racing producer has linked its successor.
func (q *MPSCLinked[T]) RemoveFunc(match func(T) bool) bool {
	prev := q.consumerNode.LoadRelaxed()
	curr := q.nextNode(prev)
	for curr != nil {
		if match(curr.value) {
			next := q.nextNode(curr)
			if next != nil {
				prev.next.StoreRelease(next)
			} else {
				// curr is the tail.
				prev.next.StoreRelaxed(nil)
				if !q.producerNode.CompareAndSwapAcqRel(curr, prev) {
					// A producer swapped past curr after the check.
					prev.next.StoreRelease(spinNext(curr))
				}
			}
			curr.next.StoreRelaxed(nil)
			var zero T
			curr.value = zero
			return true
		}
		prev = curr
		curr = q.nextNode(curr)
	}
	return false
}

// Remove unlinks the first queued element equal to v.
// The same restrictions as [MPSCLinked.RemoveFunc] apply.
func Remove[T comparable](q *MPSCLinked[T], v T) bool {
	return q.RemoveFunc(func(e T) bool { return e == v })
}

// Drain polls up to limit elements into fn (single consumer only).
func (q *MPSCLinked[T]) Drain(fn func(T), limit int) int {
	return drainN(q.RelaxedPoll, fn, limit)
}

// DrainLoop drains into fn until exit reports false (single consumer only).
func (q *MPSCLinked[T]) DrainLoop(fn func(T), w WaitStrategy, exit ExitCondition) {
	drainLoop(q.RelaxedPoll, fn, w, exit)
}

// Size counts the linked elements from the consumer to the producer node.
//
// Size walks the chain and is O(n). It stops early at a link that is not
// yet visible or at a node the consumer has already released.
func (q *MPSCLinked[T]) Size() int {
	chaser := q.consumerNode.LoadAcquire()
	tail := q.producerNode.LoadAcquire()
	size := 0
	for chaser != tail && size < math.MaxInt {
		next := chaser.next.LoadAcquire()
		if next == nil || next == chaser {
			break
		}
		chaser = next
		size++
	}
	return size
}

// IsEmpty reports whether the queue was observed empty.
func (q *MPSCLinked[T]) IsEmpty() bool {
	return q.consumerNode.LoadAcquire() == q.producerNode.LoadAcquire()
}

// Cap returns Unbounded.
func (q *MPSCLinked[T]) Cap() int {
	return Unbounded
}
