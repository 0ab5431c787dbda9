// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mpq

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// SPMC is a single-producer multi-consumer bounded queue.
//
// The producer owns the producer index and publishes each element before
// advancing it. Consumers CAS the shared consumer index to claim the head
// slot, sharing a cached copy of the producer index so that most polls do
// not touch the producer's cache line.
//
// Memory: n slots for capacity n
type SPMC[T any] struct {
	_                  pad
	producerIndex      atomix.Uint64 // Single producer writes, consumers read
	_                  pad
	producerIndexCache atomix.Uint64 // Consumers' shared view of producerIndex
	_                  pad
	consumerIndex      atomix.Uint64 // Consumers CAS here
	_                  pad
	buffer             []cell[T]
	mask               uint64
	capacity           uint64
}

// NewSPMC creates a new SPMC queue.
// Capacity rounds up to the next power of 2.
func NewSPMC[T any](capacity int) *SPMC[T] {
	if capacity < 2 {
		panic(errCapacity)
	}

	n := uint64(roundToPow2(capacity))
	return &SPMC[T]{
		buffer:   make([]cell[T], n),
		mask:     n - 1,
		capacity: n,
	}
}

// Offer adds an element to the queue (single producer only).
// Returns ErrWouldBlock if the queue is full.
func (q *SPMC[T]) Offer(elem T) error {
	checkElem(elem)
	p := q.producerIndex.LoadRelaxed()
	if !q.reserve(p) {
		return ErrWouldBlock
	}
	q.publish(p, elem)
	return nil
}

// RelaxedOffer is Offer.
func (q *SPMC[T]) RelaxedOffer(elem T) error {
	return q.Offer(elem)
}

// reserve reports whether slot p can be written. A slot still occupied
// while the queue is not full belongs to a consumer that has claimed it and
// is about to clear it, so reserve waits for that consumer.
func (q *SPMC[T]) reserve(p uint64) bool {
	c := &q.buffer[p&q.mask]
	if c.state.LoadAcquire() == cellEmpty {
		return true
	}
	if p-q.consumerIndex.LoadAcquire() > q.mask {
		return false
	}
	sw := spin.Wait{}
	for c.state.LoadAcquire() != cellEmpty {
		sw.Once()
	}
	return true
}

func (q *SPMC[T]) publish(p uint64, elem T) {
	c := &q.buffer[p&q.mask]
	c.data = elem
	c.state.StoreRelease(cellFull)
	q.producerIndex.StoreRelease(p + 1)
}

// Fill offers up to limit elements from s (single producer only).
func (q *SPMC[T]) Fill(s func() T, limit int) int {
	n := 0
	for ; n < limit; n++ {
		p := q.producerIndex.LoadRelaxed()
		if !q.reserve(p) {
			break
		}
		elem := s()
		checkElem(elem)
		q.publish(p, elem)
	}
	return n
}

// FillLoop offers elements from s until exit reports false.
func (q *SPMC[T]) FillLoop(s func() T, w WaitStrategy, exit ExitCondition) {
	fillLoop(q.Fill, s, w, exit)
}

// Poll removes and returns an element (multiple consumers safe).
// Returns (zero-value, ErrWouldBlock) if the queue is empty.
func (q *SPMC[T]) Poll() (T, error) {
	cached := q.producerIndexCache.LoadAcquire()
	var ci uint64
	for {
		ci = q.consumerIndex.LoadAcquire()
		if ci >= cached {
			p := q.producerIndex.LoadAcquire()
			if ci >= p {
				var zero T
				return zero, ErrWouldBlock
			}
			cached = p
			q.producerIndexCache.StoreRelease(p)
		}
		if q.consumerIndex.CompareAndSwapAcqRel(ci, ci+1) {
			break
		}
	}

	// The claim may become visible before the element does.
	c := &q.buffer[ci&q.mask]
	spinUntilFull(c)
	elem := c.data
	var zero T
	c.data = zero
	c.state.StoreRelease(cellEmpty)
	return elem, nil
}

// RelaxedPoll is Poll.
func (q *SPMC[T]) RelaxedPoll() (T, error) {
	return q.Poll()
}

// Peek returns the head element without removing it.
//
// Peek reads the consumer index, the slot and the consumer index again.
// If another consumer moved the index in between, the slot may have been
// cleared or refilled by a wrapping producer, so Peek retries.
//
// The discarded read can overlap another consumer zeroing the slot. For a
// multi-word T that read is a data race the race detector reports.
func (q *SPMC[T]) Peek() (T, error) {
	cached := q.producerIndexCache.LoadAcquire()
	for {
		ci := q.consumerIndex.LoadAcquire()
		if ci >= cached {
			p := q.producerIndex.LoadAcquire()
			if ci >= p {
				var zero T
				return zero, ErrWouldBlock
			}
			cached = p
			q.producerIndexCache.StoreRelease(p)
		}
		c := &q.buffer[ci&q.mask]
		if c.state.LoadAcquire() != cellFull {
			continue
		}
		elem := c.data
		// A plain reload may be merged with the first load; the CAS is not.
		if q.consumerIndex.CompareAndSwapAcqRel(ci, ci) {
			return elem, nil
		}
	}
}

// RelaxedPeek is Peek.
func (q *SPMC[T]) RelaxedPeek() (T, error) {
	return q.Peek()
}

// Drain polls up to limit elements into fn (multiple consumers safe).
func (q *SPMC[T]) Drain(fn func(T), limit int) int {
	return drainN(q.Poll, fn, limit)
}

// DrainLoop drains into fn until exit reports false.
func (q *SPMC[T]) DrainLoop(fn func(T), w WaitStrategy, exit ExitCondition) {
	drainLoop(q.Poll, fn, w, exit)
}

// Size returns an estimate of the number of queued elements.
func (q *SPMC[T]) Size() int {
	return sizeOf(&q.producerIndex, &q.consumerIndex, 0, q.capacity)
}

// IsEmpty reports whether the queue was observed empty.
func (q *SPMC[T]) IsEmpty() bool {
	return q.consumerIndex.LoadAcquire() == q.producerIndex.LoadAcquire()
}

// Cap returns the queue capacity.
func (q *SPMC[T]) Cap() int {
	return int(q.capacity)
}
