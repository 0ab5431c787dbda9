// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mpq

import "code.hybscloud.com/atomix"

// Queue is the combined producer-consumer interface for a FIFO queue.
//
// Queue provides non-blocking Offer, Poll and Peek operations. They return
// ErrWouldBlock when they cannot proceed (queue full or empty).
//
// Size and IsEmpty are estimates: producers and consumers may move the
// indices while they are read. The returned size is always within [0, Cap()].
//
// Example:
//
//	q := mpq.NewMPMC[int](1024)
//
//	if err := q.Offer(42); err != nil {
//	    // Handle full queue
//	}
//
//	elem, err := q.Poll()
//	if err == nil {
//	    fmt.Println(elem)
//	}
type Queue[T any] interface {
	Producer[T]
	Consumer[T]

	// Size returns an estimate of the number of queued elements.
	Size() int

	// Cap returns the queue capacity, or Unbounded for linked queues.
	Cap() int

	// IsEmpty reports whether the queue was observed empty.
	IsEmpty() bool
}

// Producer is the interface for offering elements.
//
// Thread safety depends on queue type:
//   - SPSC/SPMC: single producer only
//   - MPSC/MPMC: multiple producers safe
type Producer[T any] interface {
	// Offer adds an element to the queue (non-blocking).
	// Returns nil on success, ErrWouldBlock if the queue is full.
	// Panics if elem is a nil interface value.
	Offer(elem T) error

	// RelaxedOffer is Offer without the guarantee that ErrWouldBlock
	// implies the queue was full at some instant.
	RelaxedOffer(elem T) error

	// Fill offers up to limit elements obtained from s.
	// s is called only once a slot has been claimed for its result.
	// Returns the number of elements offered.
	//
	// A nil interface from s panics. Multi-producer queues have already
	// claimed the slot by then and are unusable afterwards.
	Fill(s func() T, limit int) int

	// FillLoop offers elements from s until exit reports false.
	// w is consulted while the queue is full.
	FillLoop(s func() T, w WaitStrategy, exit ExitCondition)
}

// Consumer is the interface for polling elements.
//
// Polled slots are cleared to allow garbage collection of referenced objects.
//
// Thread safety depends on queue type:
//   - SPSC/MPSC: single consumer only
//   - SPMC/MPMC: multiple consumers safe
type Consumer[T any] interface {
	// Poll removes and returns the head element (non-blocking).
	// Returns (zero-value, ErrWouldBlock) if the queue is empty.
	Poll() (T, error)

	// Peek returns the head element without removing it.
	// Returns (zero-value, ErrWouldBlock) if the queue is empty.
	Peek() (T, error)

	// RelaxedPoll is Poll without waiting for an element whose slot
	// has been claimed but not yet published.
	RelaxedPoll() (T, error)

	// RelaxedPeek is Peek with the same relaxation as RelaxedPoll.
	RelaxedPeek() (T, error)

	// Drain polls up to limit elements and hands them to fn.
	// Returns the number of elements drained.
	Drain(fn func(T), limit int) int

	// DrainLoop drains into fn until exit reports false.
	// w is consulted while the queue is empty.
	DrainLoop(fn func(T), w WaitStrategy, exit ExitCondition)
}

// OfferResult is the outcome of a fail-fast offer.
type OfferResult int

const (
	// OfferOK means the element was queued.
	OfferOK OfferResult = iota
	// OfferFull means the queue was at capacity.
	OfferFull
	// OfferContended means another producer won the index race.
	OfferContended
)

func (r OfferResult) String() string {
	switch r {
	case OfferOK:
		return "ok"
	case OfferFull:
		return "full"
	case OfferContended:
		return "contended"
	}
	return "unknown"
}

// Unbounded is the Cap of queues without a capacity limit.
const Unbounded = -1

// Cell states. A cell's data is meaningful only while its state is cellFull.
const (
	cellEmpty uint64 = iota
	cellFull
	cellJump // segment exhausted, follow the link
)

// cell is a tagged slot shared by the flag-based queues.
type cell[T any] struct {
	state atomix.Uint64
	data  T
}

// checkElem panics on the one value that cannot be an element.
func checkElem[T any](elem T) {
	if any(elem) == nil {
		panic(errNilElement)
	}
}

// sizeOf estimates producer - consumer with a consumer-producer-consumer
// sandwich so that the result never goes negative. shift is applied to both
// indices for queues whose indices advance by 2.
func sizeOf(producer, consumer *atomix.Uint64, shift uint, capacity uint64) int {
	after := consumer.LoadAcquire()
	for {
		before := after
		p := producer.LoadAcquire()
		after = consumer.LoadAcquire()
		if before == after {
			n := (p >> shift) - (after >> shift)
			if int64(n) < 0 {
				return 0
			}
			if n > capacity {
				return int(capacity)
			}
			return int(n)
		}
	}
}
