// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mpq

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// MPMC is a CAS-based multi-producer multi-consumer bounded queue.
//
// Based on Vyukov's bounded MPMC queue. Each slot carries a sequence
// counter initialized to its own index:
//
//	seq == p          slot free for the producer at index p
//	seq == c + 1      slot holds the element for the consumer at index c
//	seq == c + n      slot released for the producer one lap later
//
// The generational sequence lets producers and consumers work on different
// slots without a shared full/empty flag.
//
// Memory: n slots for capacity n, one cache line per slot for small T
type MPMC[T any] struct {
	_             pad
	producerIndex atomix.Uint64 // Producers CAS here
	_             pad
	consumerIndex atomix.Uint64 // Consumers CAS here
	_             pad
	buffer        []mpmcSlot[T]
	mask          uint64
	capacity      uint64
}

type mpmcSlot[T any] struct {
	seq  atomix.Uint64
	data T
	_    padShort // Pad to cache line
}

// NewMPMC creates a new MPMC queue.
// Capacity rounds up to the next power of 2.
func NewMPMC[T any](capacity int) *MPMC[T] {
	if capacity < 2 {
		panic(errCapacity)
	}

	n := uint64(roundToPow2(capacity))
	q := &MPMC[T]{
		buffer:   make([]mpmcSlot[T], n),
		mask:     n - 1,
		capacity: n,
	}

	for i := uint64(0); i < n; i++ {
		q.buffer[i].seq.StoreRelaxed(i)
	}

	return q
}

// Offer adds an element to the queue (multiple producers safe).
// Returns ErrWouldBlock if the queue is full.
func (q *MPMC[T]) Offer(elem T) error {
	checkElem(elem)
	p, ok := q.claim(true)
	if !ok {
		return ErrWouldBlock
	}
	q.publish(p, elem)
	return nil
}

// RelaxedOffer is Offer that gives up as soon as the target slot is not
// yet released, without checking the consumer index.
func (q *MPMC[T]) RelaxedOffer(elem T) error {
	checkElem(elem)
	p, ok := q.claim(false)
	if !ok {
		return ErrWouldBlock
	}
	q.publish(p, elem)
	return nil
}

// claim reserves a producer index. With strict set, a slot that is not yet
// released only fails the claim when the consumer index confirms the queue
// is full; otherwise the claim is retried.
func (q *MPMC[T]) claim(strict bool) (uint64, bool) {
	var ci uint64 // Stale-low view of consumerIndex
	sw := spin.Wait{}
	for {
		p := q.producerIndex.LoadAcquire()
		seq := q.buffer[p&q.mask].seq.LoadAcquire()
		switch {
		case seq == p:
			if q.producerIndex.CompareAndSwapAcqRel(p, p+1) {
				return p, true
			}
		case seq < p:
			// Slot not yet released by the consumer one lap behind.
			if !strict {
				return 0, false
			}
			if p >= ci+q.capacity {
				ci = q.consumerIndex.LoadAcquire()
				if p >= ci+q.capacity {
					return 0, false
				}
			}
		}
		// seq > p: another producer claimed p, reload
		sw.Once()
	}
}

func (q *MPMC[T]) publish(p uint64, elem T) {
	slot := &q.buffer[p&q.mask]
	slot.data = elem
	slot.seq.StoreRelease(p + 1)
}

// Fill offers up to limit elements from s (multiple producers safe).
//
// s must not return a nil interface. The resulting panic leaves the claimed
// slots unpublished, and a later strict Poll waits on them forever.
func (q *MPMC[T]) Fill(s func() T, limit int) int {
	n := 0
	for ; n < limit; n++ {
		p, ok := q.claim(false)
		if !ok {
			break
		}
		elem := s()
		checkElem(elem)
		q.publish(p, elem)
	}
	return n
}

// FillLoop offers elements from s until exit reports false.
func (q *MPMC[T]) FillLoop(s func() T, w WaitStrategy, exit ExitCondition) {
	fillLoop(q.Fill, s, w, exit)
}

// Poll removes and returns an element (multiple consumers safe).
// Returns (zero-value, ErrWouldBlock) if the queue is empty.
func (q *MPMC[T]) Poll() (T, error) {
	return q.poll(true)
}

// RelaxedPoll is Poll that gives up as soon as the head slot is not yet
// published, without checking the producer index.
func (q *MPMC[T]) RelaxedPoll() (T, error) {
	return q.poll(false)
}

func (q *MPMC[T]) poll(strict bool) (T, error) {
	var pi uint64 // Stale-low view of producerIndex
	sw := spin.Wait{}
	for {
		ci := q.consumerIndex.LoadAcquire()
		slot := &q.buffer[ci&q.mask]
		seq := slot.seq.LoadAcquire()
		want := ci + 1
		switch {
		case seq == want:
			if q.consumerIndex.CompareAndSwapAcqRel(ci, ci+1) {
				elem := slot.data
				var zero T
				slot.data = zero
				slot.seq.StoreRelease(ci + q.capacity)
				return elem, nil
			}
		case seq < want:
			// Slot not yet published by the producer at ci.
			if !strict {
				var zero T
				return zero, ErrWouldBlock
			}
			if ci >= pi {
				pi = q.producerIndex.LoadAcquire()
				if ci >= pi {
					var zero T
					return zero, ErrWouldBlock
				}
			}
		}
		// seq > want: another consumer claimed ci, reload
		sw.Once()
	}
}

// Peek returns the head element without removing it.
//
// A slot that is claimed by a producer but not yet written is retried;
// Peek reports empty only when the consumer index reaches the producer index.
//
// The element is read before the consumer index is validated, so it may be
// read while another consumer clears the slot. The value is discarded when
// validation fails, but for a multi-word T the read itself is a data race
// the race detector reports.
func (q *MPMC[T]) Peek() (T, error) {
	return q.peek(true)
}

// RelaxedPeek is Peek that reports empty on an unpublished head slot.
func (q *MPMC[T]) RelaxedPeek() (T, error) {
	return q.peek(false)
}

func (q *MPMC[T]) peek(strict bool) (T, error) {
	var pi uint64
	sw := spin.Wait{}
	for {
		ci := q.consumerIndex.LoadAcquire()
		slot := &q.buffer[ci&q.mask]
		seq := slot.seq.LoadAcquire()
		want := ci + 1
		switch {
		case seq == want:
			elem := slot.data
			// A plain reload may be merged with the first load; the CAS is not.
			if q.consumerIndex.CompareAndSwapAcqRel(ci, ci) {
				return elem, nil
			}
		case seq < want:
			if !strict {
				var zero T
				return zero, ErrWouldBlock
			}
			if ci >= pi {
				pi = q.producerIndex.LoadAcquire()
				if ci >= pi {
					var zero T
					return zero, ErrWouldBlock
				}
			}
		}
		sw.Once()
	}
}

// Drain polls up to limit elements into fn (multiple consumers safe).
func (q *MPMC[T]) Drain(fn func(T), limit int) int {
	return drainN(q.RelaxedPoll, fn, limit)
}

// DrainLoop drains into fn until exit reports false.
func (q *MPMC[T]) DrainLoop(fn func(T), w WaitStrategy, exit ExitCondition) {
	drainLoop(q.RelaxedPoll, fn, w, exit)
}

// Size returns an estimate of the number of queued elements.
func (q *MPMC[T]) Size() int {
	return sizeOf(&q.producerIndex, &q.consumerIndex, 0, q.capacity)
}

// IsEmpty reports whether the queue was observed empty.
func (q *MPMC[T]) IsEmpty() bool {
	return q.consumerIndex.LoadAcquire() == q.producerIndex.LoadAcquire()
}

// Cap returns the queue capacity.
func (q *MPMC[T]) Cap() int {
	return int(q.capacity)
}
