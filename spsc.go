// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mpq

import "code.hybscloud.com/atomix"

// DefaultLookAheadStep is the default ceiling of the SPSC look-ahead step.
const DefaultLookAheadStep = 4096

// SPSC is a single-producer single-consumer bounded queue.
//
// Based on Lamport's ring buffer with look-ahead full detection (FastFlow
// style). Instead of reading the consumer index, the producer probes the
// slot lookAheadStep positions ahead. If it is empty, the next lookAheadStep
// offers need no check at all. The consumer never reads the producer index
// on Poll: the slot state alone tells it whether an element is there.
//
// Memory: O(capacity), one state word per slot
type SPSC[T any] struct {
	_             pad
	producerIndex atomix.Uint64 // Producer writes here
	producerLimit uint64        // Producer-local: first index that needs a probe
	_             pad
	consumerIndex atomix.Uint64 // Consumer reads from here
	_             pad
	buffer        []cell[T]
	mask          uint64
	lookAheadStep uint64
}

// NewSPSC creates a new SPSC queue with the default look-ahead ceiling.
// Capacity rounds up to the next power of 2.
func NewSPSC[T any](capacity int) *SPSC[T] {
	return NewSPSCLookAhead[T](capacity, DefaultLookAheadStep)
}

// NewSPSCLookAhead creates a new SPSC queue whose look-ahead step is
// min(capacity/4, maxStep), at least 1.
// Capacity rounds up to the next power of 2.
func NewSPSCLookAhead[T any](capacity, maxStep int) *SPSC[T] {
	if capacity < 2 {
		panic(errCapacity)
	}
	if maxStep < 1 {
		panic(errLookAhead)
	}

	n := uint64(roundToPow2(capacity))
	step := min(n/4, uint64(maxStep))
	if step < 1 {
		step = 1
	}
	return &SPSC[T]{
		buffer:        make([]cell[T], n),
		mask:          n - 1,
		lookAheadStep: step,
	}
}

// Offer adds an element to the queue (producer only).
// Returns ErrWouldBlock if the queue is full.
func (q *SPSC[T]) Offer(elem T) error {
	checkElem(elem)
	p := q.producerIndex.LoadRelaxed()
	if p >= q.producerLimit && !q.probe(p) {
		return ErrWouldBlock
	}
	q.publish(p, elem)
	return nil
}

// RelaxedOffer is Offer. The SPSC full check is already exact.
func (q *SPSC[T]) RelaxedOffer(elem T) error {
	return q.Offer(elem)
}

// probe refreshes producerLimit. It reports whether slot p is free.
func (q *SPSC[T]) probe(p uint64) bool {
	ahead := p + q.lookAheadStep
	if q.buffer[ahead&q.mask].state.LoadAcquire() == cellEmpty {
		q.producerLimit = ahead
		return true
	}
	return q.buffer[p&q.mask].state.LoadAcquire() == cellEmpty
}

func (q *SPSC[T]) publish(p uint64, elem T) {
	c := &q.buffer[p&q.mask]
	c.data = elem
	c.state.StoreRelease(cellFull)
	q.producerIndex.StoreRelease(p + 1)
}

// Poll removes and returns an element (consumer only).
// Returns (zero-value, ErrWouldBlock) if the queue is empty.
func (q *SPSC[T]) Poll() (T, error) {
	ci := q.consumerIndex.LoadRelaxed()
	c := &q.buffer[ci&q.mask]
	if c.state.LoadAcquire() != cellFull {
		var zero T
		return zero, ErrWouldBlock
	}

	elem := c.data
	var zero T
	c.data = zero
	c.state.StoreRelease(cellEmpty)
	q.consumerIndex.StoreRelease(ci + 1)
	return elem, nil
}

// RelaxedPoll is Poll. The producer publishes slot and index together.
func (q *SPSC[T]) RelaxedPoll() (T, error) {
	return q.Poll()
}

// Peek returns the head element without removing it (consumer only).
func (q *SPSC[T]) Peek() (T, error) {
	c := &q.buffer[q.consumerIndex.LoadRelaxed()&q.mask]
	if c.state.LoadAcquire() != cellFull {
		var zero T
		return zero, ErrWouldBlock
	}
	return c.data, nil
}

// RelaxedPeek is Peek.
func (q *SPSC[T]) RelaxedPeek() (T, error) {
	return q.Peek()
}

// Fill offers up to limit elements from s (producer only).
func (q *SPSC[T]) Fill(s func() T, limit int) int {
	n := 0
	for ; n < limit; n++ {
		p := q.producerIndex.LoadRelaxed()
		if p >= q.producerLimit && !q.probe(p) {
			break
		}
		elem := s()
		checkElem(elem)
		q.publish(p, elem)
	}
	return n
}

// FillLoop offers elements from s until exit reports false (producer only).
func (q *SPSC[T]) FillLoop(s func() T, w WaitStrategy, exit ExitCondition) {
	fillLoop(q.Fill, s, w, exit)
}

// Drain polls up to limit elements into fn (consumer only).
func (q *SPSC[T]) Drain(fn func(T), limit int) int {
	return drainN(q.Poll, fn, limit)
}

// DrainLoop drains into fn until exit reports false (consumer only).
func (q *SPSC[T]) DrainLoop(fn func(T), w WaitStrategy, exit ExitCondition) {
	drainLoop(q.Poll, fn, w, exit)
}

// Size returns an estimate of the number of queued elements.
func (q *SPSC[T]) Size() int {
	return sizeOf(&q.producerIndex, &q.consumerIndex, 0, q.mask+1)
}

// IsEmpty reports whether the queue was observed empty.
func (q *SPSC[T]) IsEmpty() bool {
	return q.consumerIndex.LoadAcquire() == q.producerIndex.LoadAcquire()
}

// Cap returns the queue capacity.
func (q *SPSC[T]) Cap() int {
	return int(q.mask + 1)
}
