// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mpq

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// MPSC is a CAS-based multi-producer single-consumer bounded queue.
//
// Producers CAS the shared producer index and then publish the element into
// the claimed slot. The claimed index becomes visible before the element, so
// the consumer spins on a slot that is claimed but not yet written.
//
// Producers cache a producer limit (consumer index + capacity) to avoid
// reading the consumer index on every offer. A stale limit only causes a
// recheck, never an overrun.
//
// Memory: n slots for capacity n
type MPSC[T any] struct {
	_             pad
	producerIndex atomix.Uint64 // Producers CAS here
	_             pad
	producerLimit atomix.Uint64 // Cached consumerIndex + capacity
	_             pad
	consumerIndex atomix.Uint64 // Single consumer writes, producers read
	_             pad
	buffer        []cell[T]
	mask          uint64
	capacity      uint64
}

// NewMPSC creates a new CAS-based MPSC queue.
// Capacity rounds up to the next power of 2.
func NewMPSC[T any](capacity int) *MPSC[T] {
	if capacity < 2 {
		panic(errCapacity)
	}

	n := uint64(roundToPow2(capacity))
	q := &MPSC[T]{
		buffer:   make([]cell[T], n),
		mask:     n - 1,
		capacity: n,
	}
	q.producerLimit.StoreRelaxed(n)
	return q
}

// Offer adds an element to the queue (multiple producers safe).
// Returns ErrWouldBlock if the queue is full.
func (q *MPSC[T]) Offer(elem T) error {
	checkElem(elem)
	p, k := q.claim(1)
	if k == 0 {
		return ErrWouldBlock
	}
	q.publish(p, elem)
	return nil
}

// RelaxedOffer is Offer.
func (q *MPSC[T]) RelaxedOffer(elem T) error {
	return q.Offer(elem)
}

// claim reserves up to n consecutive indices below the producer limit.
// It returns the first claimed index and the claimed count, 0 if full.
func (q *MPSC[T]) claim(n uint64) (uint64, uint64) {
	limit := q.producerLimit.LoadAcquire()
	for {
		p := q.producerIndex.LoadAcquire()
		if p >= limit {
			limit = q.consumerIndex.LoadAcquire() + q.capacity
			if p >= limit {
				return 0, 0
			}
			q.producerLimit.StoreRelease(limit)
		}
		k := min(n, limit-p)
		if q.producerIndex.CompareAndSwapAcqRel(p, p+k) {
			return p, k
		}
	}
}

func (q *MPSC[T]) publish(p uint64, elem T) {
	c := &q.buffer[p&q.mask]
	c.data = elem
	c.state.StoreRelease(cellFull)
}

// FailFastOffer attempts the producer index CAS exactly once.
//
// Unlike Offer it does not retry when another producer wins the race, so
// the caller can tell contention (OfferContended) from a full queue
// (OfferFull).
func (q *MPSC[T]) FailFastOffer(elem T) OfferResult {
	checkElem(elem)
	p := q.producerIndex.LoadAcquire()
	limit := q.producerLimit.LoadAcquire()
	if p >= limit {
		limit = q.consumerIndex.LoadAcquire() + q.capacity
		if p >= limit {
			return OfferFull
		}
		q.producerLimit.StoreRelease(limit)
	}
	if !q.producerIndex.CompareAndSwapAcqRel(p, p+1) {
		return OfferContended
	}
	q.publish(p, elem)
	return OfferOK
}

// OfferIfBelowThreshold offers elem only while the estimated size is below
// threshold. Returns ErrWouldBlock without claiming a slot otherwise.
//
// Useful for soft admission control: producers stop early and leave
// capacity - threshold slots for other traffic.
func (q *MPSC[T]) OfferIfBelowThreshold(elem T, threshold int) error {
	checkElem(elem)
	t := min(uint64(max(threshold, 0)), q.capacity)
	limit := q.producerLimit.LoadAcquire()
	for {
		p := q.producerIndex.LoadAcquire()
		// limit - p is a lower bound of the free slots
		if p >= limit || q.capacity-(limit-p) >= t {
			c := q.consumerIndex.LoadAcquire()
			if p-c >= t {
				return ErrWouldBlock
			}
			limit = c + q.capacity
			q.producerLimit.StoreRelease(limit)
		}
		if q.producerIndex.CompareAndSwapAcqRel(p, p+1) {
			q.publish(p, elem)
			return nil
		}
	}
}

// Fill offers up to limit elements from s (multiple producers safe).
// Slots are claimed in batches with a single CAS.
//
// s must not return a nil interface. The resulting panic leaves the claimed
// slots unpublished, and a later strict Poll waits on them forever.
func (q *MPSC[T]) Fill(s func() T, limit int) int {
	n := 0
	for n < limit {
		p, k := q.claim(uint64(limit - n))
		if k == 0 {
			break
		}
		for i := range k {
			elem := s()
			checkElem(elem)
			q.publish(p+i, elem)
		}
		n += int(k)
	}
	return n
}

// FillLoop offers elements from s until exit reports false.
func (q *MPSC[T]) FillLoop(s func() T, w WaitStrategy, exit ExitCondition) {
	fillLoop(q.Fill, s, w, exit)
}

// Poll removes and returns an element (single consumer only).
// Returns (zero-value, ErrWouldBlock) if the queue is empty.
//
// If a producer has claimed the head slot but not yet written it, Poll
// spins until the element is visible: the queue is not empty.
func (q *MPSC[T]) Poll() (T, error) {
	ci := q.consumerIndex.LoadRelaxed()
	c := &q.buffer[ci&q.mask]
	if c.state.LoadAcquire() != cellFull {
		if ci == q.producerIndex.LoadAcquire() {
			var zero T
			return zero, ErrWouldBlock
		}
		spinUntilFull(c)
	}
	return q.take(ci, c), nil
}

// RelaxedPoll is Poll that reports empty instead of spinning on a claimed
// but unpublished slot.
func (q *MPSC[T]) RelaxedPoll() (T, error) {
	ci := q.consumerIndex.LoadRelaxed()
	c := &q.buffer[ci&q.mask]
	if c.state.LoadAcquire() != cellFull {
		var zero T
		return zero, ErrWouldBlock
	}
	return q.take(ci, c), nil
}

func (q *MPSC[T]) take(ci uint64, c *cell[T]) T {
	elem := c.data
	var zero T
	c.data = zero
	c.state.StoreRelaxed(cellEmpty)
	q.consumerIndex.StoreRelease(ci + 1)
	return elem
}

// Peek returns the head element without removing it (single consumer only).
func (q *MPSC[T]) Peek() (T, error) {
	ci := q.consumerIndex.LoadRelaxed()
	c := &q.buffer[ci&q.mask]
	if c.state.LoadAcquire() != cellFull {
		if ci == q.producerIndex.LoadAcquire() {
			var zero T
			return zero, ErrWouldBlock
		}
		spinUntilFull(c)
	}
	return c.data, nil
}

// RelaxedPeek is Peek without spinning.
func (q *MPSC[T]) RelaxedPeek() (T, error) {
	c := &q.buffer[q.consumerIndex.LoadRelaxed()&q.mask]
	if c.state.LoadAcquire() != cellFull {
		var zero T
		return zero, ErrWouldBlock
	}
	return c.data, nil
}

// Drain polls up to limit elements into fn (single consumer only).
func (q *MPSC[T]) Drain(fn func(T), limit int) int {
	return drainN(q.RelaxedPoll, fn, limit)
}

// DrainLoop drains into fn until exit reports false (single consumer only).
func (q *MPSC[T]) DrainLoop(fn func(T), w WaitStrategy, exit ExitCondition) {
	drainLoop(q.RelaxedPoll, fn, w, exit)
}

// Size returns an estimate of the number of queued elements.
func (q *MPSC[T]) Size() int {
	return sizeOf(&q.producerIndex, &q.consumerIndex, 0, q.capacity)
}

// IsEmpty reports whether the queue was observed empty.
func (q *MPSC[T]) IsEmpty() bool {
	return q.consumerIndex.LoadAcquire() == q.producerIndex.LoadAcquire()
}

// Cap returns the queue capacity.
func (q *MPSC[T]) Cap() int {
	return int(q.capacity)
}

// spinUntilFull waits for a producer that has claimed c to publish into it.
func spinUntilFull[T any](c *cell[T]) {
	sw := spin.Wait{}
	for c.state.LoadAcquire() != cellFull {
		sw.Once()
	}
}
