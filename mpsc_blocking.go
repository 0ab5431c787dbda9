// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mpq

import (
	"context"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// MPSCBlocking is a multi-producer single-consumer bounded queue whose
// consumer can park until an element arrives.
//
// Both indices advance by 2 per element. The low bit of the producer index
// is the "consumer parked" flag:
//
//	consumer: queue empty at index p     → CAS p → p+1, publish waiter, park
//	producer: sees odd index p+1         → CAS p+1 → p+2, store slot p, unpark
//	consumer: timeout or cancellation    → CAS p+1 → p to roll back
//
// Whoever wins the CAS on the odd index decides the outcome, so a wakeup is
// never lost: if the rollback fails, a producer has already claimed the
// announced slot and the consumer takes that element.
//
// Offer, Poll and Peek never block. Only Take, PollTimeout and DrainTimeout
// park the consumer goroutine.
type MPSCBlocking[T any] struct {
	_             pad
	producerIndex atomix.Uint64 // 2 per element, bit 0 = consumer parked
	_             pad
	producerLimit atomix.Uint64 // Cached consumerIndex + 2*capacity
	_             pad
	consumerIndex atomix.Uint64 // 2 per element
	_             pad
	blocked       atomix.Bool // Set while the consumer parks on the waiter
	_             pad
	buffer        []cell[T]
	mask          uint64
	capacity      uint64
	waiter        parker
}

// parker is a one-token permit: unpark deposits the token, park takes it.
// A token left over from an earlier handoff only causes a spurious wakeup.
type parker struct {
	permit chan struct{}
}

func (w *parker) unpark() {
	select {
	case w.permit <- struct{}{}:
	default:
	}
}

// NewMPSCBlocking creates a new blocking-consumer MPSC queue.
// Capacity rounds up to the next power of 2.
func NewMPSCBlocking[T any](capacity int) *MPSCBlocking[T] {
	if capacity < 2 {
		panic(errCapacity)
	}

	n := uint64(roundToPow2(capacity))
	q := &MPSCBlocking[T]{
		buffer:   make([]cell[T], n),
		mask:     n - 1,
		capacity: n,
		waiter:   parker{permit: make(chan struct{}, 1)},
	}
	q.producerLimit.StoreRelaxed(2 * n)
	return q
}

func (q *MPSCBlocking[T]) cellAt(index uint64) *cell[T] {
	return &q.buffer[(index>>1)&q.mask]
}

// Offer adds an element to the queue (multiple producers safe).
// Returns ErrWouldBlock if the queue is full. If the consumer is parked on
// an empty queue, Offer hands the element over and wakes it.
func (q *MPSCBlocking[T]) Offer(elem T) error {
	checkElem(elem)
	p, w, ok := q.claim()
	if !ok {
		return ErrWouldBlock
	}
	q.publish(p, elem)
	if w != nil {
		w.unpark()
	}
	return nil
}

// RelaxedOffer is Offer.
func (q *MPSCBlocking[T]) RelaxedOffer(elem T) error {
	return q.Offer(elem)
}

// claim reserves the slot for index p. A non-nil parker means p is the slot
// the consumer is parked on and must be woken after publishing.
func (q *MPSCBlocking[T]) claim() (uint64, *parker, bool) {
	sw := spin.Wait{}
	for {
		p := q.producerIndex.LoadAcquire()
		if p&1 == 1 {
			// The waiter may not be published yet, or the consumer is
			// rolling back after a timeout.
			if q.blocked.LoadAcquire() && q.producerIndex.CompareAndSwapAcqRel(p, p+1) {
				return p, &q.waiter, true
			}
			sw.Once()
			continue
		}

		limit := q.producerLimit.LoadAcquire()
		if p >= limit {
			c := q.consumerIndex.LoadAcquire()
			fresh := c + 2*q.capacity
			if p >= fresh {
				return 0, nil, false
			}
			q.producerLimit.CompareAndSwapAcqRel(limit, fresh)
		}
		if q.producerIndex.CompareAndSwapAcqRel(p, p+2) {
			return p, nil, true
		}
	}
}

func (q *MPSCBlocking[T]) publish(p uint64, elem T) {
	c := q.cellAt(p)
	c.data = elem
	c.state.StoreRelease(cellFull)
}

// Fill offers up to limit elements from s (multiple producers safe).
//
// s must not return a nil interface. The resulting panic leaves the claimed
// slots unpublished, and a later strict Poll waits on them forever.
func (q *MPSCBlocking[T]) Fill(s func() T, limit int) int {
	n := 0
	for ; n < limit; n++ {
		p, w, ok := q.claim()
		if !ok {
			break
		}
		elem := s()
		checkElem(elem)
		q.publish(p, elem)
		if w != nil {
			w.unpark()
		}
	}
	return n
}

// FillLoop offers elements from s until exit reports false.
func (q *MPSCBlocking[T]) FillLoop(s func() T, w WaitStrategy, exit ExitCondition) {
	fillLoop(q.Fill, s, w, exit)
}

// Poll removes and returns an element without blocking (single consumer only).
// Returns (zero-value, ErrWouldBlock) if the queue is empty.
func (q *MPSCBlocking[T]) Poll() (T, error) {
	ci := q.consumerIndex.LoadRelaxed()
	c := q.cellAt(ci)
	if c.state.LoadAcquire() != cellFull {
		if ci>>1 == q.producerIndex.LoadAcquire()>>1 {
			var zero T
			return zero, ErrWouldBlock
		}
		spinUntilFull(c)
	}
	return q.take(ci, c), nil
}

// RelaxedPoll is Poll without spinning on a claimed but unpublished slot.
func (q *MPSCBlocking[T]) RelaxedPoll() (T, error) {
	ci := q.consumerIndex.LoadRelaxed()
	c := q.cellAt(ci)
	if c.state.LoadAcquire() != cellFull {
		var zero T
		return zero, ErrWouldBlock
	}
	return q.take(ci, c), nil
}

func (q *MPSCBlocking[T]) take(ci uint64, c *cell[T]) T {
	elem := c.data
	var zero T
	c.data = zero
	c.state.StoreRelaxed(cellEmpty)
	q.consumerIndex.StoreRelease(ci + 2)
	return elem
}

// Take removes and returns the head element, parking until one arrives
// (single consumer only).
//
// If ctx is done while parked, Take withdraws its announcement and returns
// ctx.Err(). If a producer claimed the announced slot first, Take returns
// that element with a nil error instead.
func (q *MPSCBlocking[T]) Take(ctx context.Context) (T, error) {
	ci := q.consumerIndex.LoadRelaxed()
	c := q.cellAt(ci)
	if c.state.LoadAcquire() == cellFull {
		return q.take(ci, c), nil
	}
	return q.parkUntilNext(ctx, ci, c, 0)
}

// PollTimeout is Take bounded by timeout (single consumer only).
// Returns (zero-value, ErrWouldBlock) if timeout elapses first.
// A timeout <= 0 behaves like Poll.
func (q *MPSCBlocking[T]) PollTimeout(ctx context.Context, timeout time.Duration) (T, error) {
	ci := q.consumerIndex.LoadRelaxed()
	c := q.cellAt(ci)
	if c.state.LoadAcquire() == cellFull {
		return q.take(ci, c), nil
	}
	if timeout <= 0 {
		return q.Poll()
	}
	return q.parkUntilNext(ctx, ci, c, timeout)
}

// parkUntilNext parks on slot ci. timeout 0 means no deadline.
func (q *MPSCBlocking[T]) parkUntilNext(ctx context.Context, ci uint64, c *cell[T], timeout time.Duration) (T, error) {
	p := q.producerIndex.LoadAcquire()
	if ci == p && q.producerIndex.CompareAndSwapAcqRel(p, p+1) {
		// Producers only hand off once both the flag and the waiter are visible.
		q.blocked.StoreRelease(true)
		err := q.park(ctx, p, timeout)
		q.blocked.StoreRelease(false)
		if err != nil {
			var zero T
			return zero, err
		}
	}
	// The producer index can be visible before the element.
	spinUntilFull(c)
	return q.take(ci, c), nil
}

// park waits until a producer clears the parked flag set at p+1. It returns
// nil when the slot at p has been claimed, or the error to report after a
// successful rollback.
func (q *MPSCBlocking[T]) park(ctx context.Context, p uint64, timeout time.Duration) error {
	var expired <-chan time.Time
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	for {
		select {
		case <-q.waiter.permit:
		case <-expired:
		case <-ctx.Done():
			if q.producerIndex.CompareAndSwapAcqRel(p+1, p) {
				return ctx.Err()
			}
			return nil
		}
		if q.producerIndex.LoadAcquire()&1 == 0 {
			return nil
		}
		if timeout > 0 && !time.Now().Before(deadline) {
			if q.producerIndex.CompareAndSwapAcqRel(p+1, p) {
				return ErrWouldBlock
			}
			// Claimed just in time.
			return nil
		}
	}
}

// DrainTimeout waits up to timeout for the first element, then drains up
// to limit-1 more without waiting (single consumer only).
// Returns the number of elements handed to fn, and ErrWouldBlock if nothing
// arrived in time or ctx.Err() if ctx was done first.
func (q *MPSCBlocking[T]) DrainTimeout(ctx context.Context, fn func(T), limit int, timeout time.Duration) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	elem, err := q.PollTimeout(ctx, timeout)
	if err != nil {
		return 0, err
	}
	fn(elem)
	return 1 + q.Drain(fn, limit-1), nil
}

// Peek returns the head element without removing it (single consumer only).
func (q *MPSCBlocking[T]) Peek() (T, error) {
	ci := q.consumerIndex.LoadRelaxed()
	c := q.cellAt(ci)
	if c.state.LoadAcquire() != cellFull {
		if ci>>1 == q.producerIndex.LoadAcquire()>>1 {
			var zero T
			return zero, ErrWouldBlock
		}
		spinUntilFull(c)
	}
	return c.data, nil
}

// RelaxedPeek is Peek without spinning.
func (q *MPSCBlocking[T]) RelaxedPeek() (T, error) {
	c := q.cellAt(q.consumerIndex.LoadRelaxed())
	if c.state.LoadAcquire() != cellFull {
		var zero T
		return zero, ErrWouldBlock
	}
	return c.data, nil
}

// Drain polls up to limit elements into fn without blocking (single consumer only).
func (q *MPSCBlocking[T]) Drain(fn func(T), limit int) int {
	return drainN(q.RelaxedPoll, fn, limit)
}

// DrainLoop drains into fn until exit reports false (single consumer only).
func (q *MPSCBlocking[T]) DrainLoop(fn func(T), w WaitStrategy, exit ExitCondition) {
	drainLoop(q.RelaxedPoll, fn, w, exit)
}

// Size returns an estimate of the number of queued elements.
func (q *MPSCBlocking[T]) Size() int {
	return sizeOf(&q.producerIndex, &q.consumerIndex, 1, q.capacity)
}

// IsEmpty reports whether the queue was observed empty.
func (q *MPSCBlocking[T]) IsEmpty() bool {
	return q.consumerIndex.LoadAcquire()>>1 == q.producerIndex.LoadAcquire()>>1
}

// Cap returns the queue capacity.
func (q *MPSCBlocking[T]) Cap() int {
	return int(q.capacity)
}
