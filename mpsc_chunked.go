// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mpq

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// MPSCChunked is a multi-producer single-consumer queue stored in a chain
// of array segments, bounded by a maximum capacity.
//
// Producers CAS the shared producer index as in MPSC. Both indices advance
// by 2 per element; the low bit of the producer index marks a resize in
// progress, during which other producers spin.
//
// When the current segment cannot take another element but the queue is
// below its maximum, the producer that wins the resize allocates the next
// segment and, in order: stores its element there, links the old segment
// to the new one, writes a jump marker into the old segment's slot, then
// publishes the producer limit and index. The consumer follows the jump
// marker to the new segment at the same logical index and drops the old one.
//
// Two growth policies exist:
//
//	NewMPSCChunked   every segment has the chunk size
//	NewMPSCGrowable  segments double up to the maximum, which is then reused
//
// Memory: only the segments in use are allocated
type MPSCChunked[T any] struct {
	_             pad
	producerIndex atomix.Uint64 // 2 per element, bit 0 = resize in progress
	_             pad
	producerLimit atomix.Uint64 // Exclusive bound for the current segment
	producerSeg   atomix.Pointer[segment[T]]
	_             pad
	consumerIndex atomix.Uint64 // 2 per element
	consumerSeg   *segment[T]   // Consumer-local
	_             pad
	maxCapacity   uint64 // 2 per element
	growable      bool
}

type segment[T any] struct {
	cells []cell[T]
	mask  uint64
	next  atomix.Pointer[segment[T]]
}

func newSegment[T any](size uint64) *segment[T] {
	return &segment[T]{cells: make([]cell[T], size), mask: size - 1}
}

func (s *segment[T]) at(index uint64) *cell[T] {
	return &s.cells[(index>>1)&s.mask]
}

// NewMPSCChunked creates a chunked MPSC queue whose segments hold
// chunkSize elements, bounded by maxCapacity.
// Both sizes round up to the next power of 2.
//
// Panics if maxCapacity < 4 or chunkSize is not below maxCapacity.
func NewMPSCChunked[T any](chunkSize, maxCapacity int) *MPSCChunked[T] {
	return newMPSCChunked[T](chunkSize, maxCapacity, false)
}

// NewMPSCGrowable creates a growable MPSC queue whose first segment holds
// initialCapacity elements. Each new segment doubles in size until it
// reaches maxCapacity.
// Both sizes round up to the next power of 2.
//
// Panics if maxCapacity < 4 or initialCapacity is not below maxCapacity.
func NewMPSCGrowable[T any](initialCapacity, maxCapacity int) *MPSCChunked[T] {
	return newMPSCChunked[T](initialCapacity, maxCapacity, true)
}

func newMPSCChunked[T any](chunkSize, maxCapacity int, growable bool) *MPSCChunked[T] {
	if maxCapacity < 4 {
		panic(errMaxCapacity)
	}
	if chunkSize < 2 {
		panic(errChunkSize)
	}
	chunk := uint64(roundToPow2(chunkSize))
	maxCap := uint64(roundToPow2(maxCapacity))
	if chunk >= maxCap {
		panic(errChunkSize)
	}

	seg := newSegment[T](chunk)
	q := &MPSCChunked[T]{
		consumerSeg: seg,
		maxCapacity: 2 * maxCap,
		growable:    growable,
	}
	q.producerSeg.StoreRelaxed(seg)
	q.producerLimit.StoreRelaxed(2 * seg.mask)
	return q
}

type claimResult int

const (
	claimOK claimResult = iota
	claimFull
	claimResize
)

// Offer adds an element to the queue (multiple producers safe).
// Returns ErrWouldBlock if the queue holds its maximum capacity.
func (q *MPSCChunked[T]) Offer(elem T) error {
	checkElem(elem)
	seg, p, r := q.claim()
	switch r {
	case claimFull:
		return ErrWouldBlock
	case claimResize:
		q.resize(seg, p, elem)
	default:
		publishCell(seg.at(p), elem)
	}
	return nil
}

// RelaxedOffer is Offer.
func (q *MPSCChunked[T]) RelaxedOffer(elem T) error {
	return q.Offer(elem)
}

// claim reserves index p in seg. claimResize means the caller holds the
// resize bit and must call resize.
func (q *MPSCChunked[T]) claim() (*segment[T], uint64, claimResult) {
	sw := spin.Wait{}
	for {
		limit := q.producerLimit.LoadAcquire()
		p := q.producerIndex.LoadAcquire()
		if p&1 == 1 {
			sw.Once()
			continue
		}
		// Consistent with p: a resize changes the index before it completes.
		seg := q.producerSeg.LoadAcquire()

		if p >= limit {
			c := q.consumerIndex.LoadAcquire()
			segCap := q.segmentCapacity(seg)
			switch {
			case c+segCap > p:
				// The consumer freed slots in the current segment.
				if !q.producerLimit.CompareAndSwapAcqRel(limit, c+segCap) {
					continue
				}
			case p-c >= q.maxCapacity:
				return nil, 0, claimFull
			case q.producerIndex.CompareAndSwapAcqRel(p, p+1):
				return seg, p, claimResize
			default:
				continue
			}
		}

		if q.producerIndex.CompareAndSwapAcqRel(p, p+2) {
			return seg, p, claimOK
		}
	}
}

// segmentCapacity returns how far ahead of the consumer the producer may
// run inside seg, in index units. A segment short of the maximum keeps one
// slot free for the jump marker.
func (q *MPSCChunked[T]) segmentCapacity(seg *segment[T]) uint64 {
	if q.growable && 2*uint64(len(seg.cells)) == q.maxCapacity {
		return q.maxCapacity
	}
	return 2 * seg.mask
}

func (q *MPSCChunked[T]) nextSegmentSize(seg *segment[T]) uint64 {
	size := uint64(len(seg.cells))
	if !q.growable {
		return size
	}
	size *= 2
	if 2*size > q.maxCapacity {
		panic(errSegmentSize)
	}
	return size
}

// resize links a new segment after old and publishes elem at index p in it.
// The caller holds the resize bit, so the index reads p+1.
func (q *MPSCChunked[T]) resize(old *segment[T], p uint64, elem T) {
	next := newSegment[T](q.nextSegmentSize(old))
	q.producerSeg.StoreRelease(next)

	publishCell(next.at(p), elem)
	old.next.StoreRelease(next)

	// Read before the jump marker lets the consumer move past p.
	c := q.consumerIndex.LoadAcquire()
	old.at(p).state.StoreRelease(cellJump)

	avail := q.maxCapacity - (p - c)
	q.producerLimit.StoreRelease(p + min(2*next.mask, avail))
	q.producerIndex.StoreRelease(p + 2)
}

func publishCell[T any](c *cell[T], elem T) {
	c.data = elem
	c.state.StoreRelease(cellFull)
}

// Fill offers up to limit elements from s (multiple producers safe).
//
// s must not return a nil interface. The resulting panic leaves the claimed
// slots unpublished, and a later strict Poll waits on them forever.
func (q *MPSCChunked[T]) Fill(s func() T, limit int) int {
	n := 0
	for ; n < limit; n++ {
		seg, p, r := q.claim()
		if r == claimFull {
			break
		}
		elem := s()
		checkElem(elem)
		if r == claimResize {
			q.resize(seg, p, elem)
			continue
		}
		publishCell(seg.at(p), elem)
	}
	return n
}

// FillLoop offers elements from s until exit reports false.
func (q *MPSCChunked[T]) FillLoop(s func() T, w WaitStrategy, exit ExitCondition) {
	fillLoop(q.Fill, s, w, exit)
}

// Poll removes and returns an element (single consumer only).
// Returns (zero-value, ErrWouldBlock) if the queue is empty.
func (q *MPSCChunked[T]) Poll() (T, error) {
	return q.poll(true)
}

// RelaxedPoll is Poll without spinning on a claimed but unpublished slot.
func (q *MPSCChunked[T]) RelaxedPoll() (T, error) {
	return q.poll(false)
}

func (q *MPSCChunked[T]) poll(strict bool) (T, error) {
	ci := q.consumerIndex.LoadRelaxed()
	c := q.consumerSeg.at(ci)
	st := c.state.LoadAcquire()
	if st == cellEmpty {
		// After following a jump the consumer can be one step past a
		// producer index that still carries the resize bit.
		if !strict || ci >= q.producerIndex.LoadAcquire() {
			var zero T
			return zero, ErrWouldBlock
		}
		st = awaitCell(c)
	}
	if st == cellJump {
		c = q.followJump(ci)
	}

	elem := c.data
	var zero T
	c.data = zero
	c.state.StoreRelaxed(cellEmpty)
	q.consumerIndex.StoreRelease(ci + 2)
	return elem, nil
}

// followJump moves the consumer to the next segment and returns the cell
// for ci there, which must already hold an element.
func (q *MPSCChunked[T]) followJump(ci uint64) *cell[T] {
	next := q.consumerSeg.next.LoadAcquire()
	if next == nil {
		panic(errLinkMissing)
	}
	q.consumerSeg = next
	c := next.at(ci)
	if c.state.LoadAcquire() != cellFull {
		panic(errEmptySegment)
	}
	return c
}

// awaitCell spins until a producer publishes into c and returns its state.
func awaitCell[T any](c *cell[T]) uint64 {
	sw := spin.Wait{}
	for {
		if st := c.state.LoadAcquire(); st != cellEmpty {
			return st
		}
		sw.Once()
	}
}

// Peek returns the head element without removing it (single consumer only).
func (q *MPSCChunked[T]) Peek() (T, error) {
	return q.peek(true)
}

// RelaxedPeek is Peek without spinning.
func (q *MPSCChunked[T]) RelaxedPeek() (T, error) {
	return q.peek(false)
}

func (q *MPSCChunked[T]) peek(strict bool) (T, error) {
	ci := q.consumerIndex.LoadRelaxed()
	c := q.consumerSeg.at(ci)
	st := c.state.LoadAcquire()
	if st == cellEmpty {
		if !strict || ci >= q.producerIndex.LoadAcquire() {
			var zero T
			return zero, ErrWouldBlock
		}
		st = awaitCell(c)
	}
	if st == cellJump {
		c = q.followJump(ci)
	}
	return c.data, nil
}

// Drain polls up to limit elements into fn (single consumer only).
func (q *MPSCChunked[T]) Drain(fn func(T), limit int) int {
	return drainN(q.RelaxedPoll, fn, limit)
}

// DrainLoop drains into fn until exit reports false (single consumer only).
func (q *MPSCChunked[T]) DrainLoop(fn func(T), w WaitStrategy, exit ExitCondition) {
	drainLoop(q.RelaxedPoll, fn, w, exit)
}

// Size returns an estimate of the number of queued elements.
func (q *MPSCChunked[T]) Size() int {
	return sizeOf(&q.producerIndex, &q.consumerIndex, 1, q.maxCapacity/2)
}

// IsEmpty reports whether the queue was observed empty.
func (q *MPSCChunked[T]) IsEmpty() bool {
	return q.consumerIndex.LoadAcquire() >= q.producerIndex.LoadAcquire()
}

// Cap returns the maximum capacity.
func (q *MPSCChunked[T]) Cap() int {
	return int(q.maxCapacity / 2)
}
