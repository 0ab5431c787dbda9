// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package mpq provides lock-free FIFO queues for message passing between
// goroutines.
//
// The package offers one queue per producer/consumer pattern, plus
// growable and unbounded MPSC variants:
//
//   - SPSC: Single-Producer Single-Consumer (look-ahead ring buffer)
//   - MPSC: Multi-Producer Single-Consumer (CAS producers)
//   - MPSCBlocking: MPSC whose consumer can park until an element arrives
//   - MPSCChunked: MPSC made of linked array segments, bounded growth
//   - MPSCLinked: MPSC made of linked nodes, unbounded
//   - SPMC: Single-Producer Multi-Consumer (CAS consumers)
//   - MPMC: Multi-Producer Multi-Consumer (per-slot sequences)
//
// # Quick Start
//
// Direct constructors:
//
//	q := mpq.NewSPSC[Event](1024)
//	q := mpq.NewMPMC[*Request](4096)
//	q := mpq.NewMPSCGrowable[Job](64, 65536)
//	q := mpq.NewMPSCLinked[Message]()
//
// Builder API auto-selects the algorithm from the constraints:
//
//	q := mpq.Build[Event](mpq.New(1024).SingleProducer().SingleConsumer())  // → SPSC
//	q := mpq.Build[Event](mpq.New(1024).SingleConsumer())                   // → MPSC
//	q := mpq.Build[Event](mpq.New(1024).SingleConsumer().Blocking())        // → MPSCBlocking
//	q := mpq.Build[Event](mpq.New(64).SingleConsumer().Chunked(4096))       // → MPSCChunked
//	q := mpq.Build[Event](mpq.New(1024).SingleProducer())                   // → SPMC
//	q := mpq.Build[Event](mpq.New(1024))                                    // → MPMC
//
// # Basic Usage
//
// All queues share the same interface for offering and polling:
//
//	q := mpq.NewMPMC[int](1024)
//
//	// Offer (non-blocking)
//	err := q.Offer(42)
//	if mpq.IsWouldBlock(err) {
//	    // Queue is full - handle backpressure
//	}
//
//	// Poll (non-blocking)
//	elem, err := q.Poll()
//	if mpq.IsWouldBlock(err) {
//	    // Queue is empty - try again later
//	}
//
// Elements are stored by value. A nil interface value cannot be an element:
// Offer panics on it.
//
// # Relaxed Operations
//
// In the multi-producer queues a producer claims an index before it writes
// the element, so a consumer can see an index that is ahead of the data.
// Poll and Peek wait for such an element: they report empty only when the
// queue really is empty. RelaxedPoll and RelaxedPeek return ErrWouldBlock
// instead of waiting, and Drain is built on them.
//
// # Batches and Wait Strategies
//
// Drain and Fill move up to a limit of elements and stop early when the
// queue is empty or full. DrainLoop and FillLoop run until an exit condition
// reports false, idling through a WaitStrategy while there is nothing to do:
//
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	go q.DrainLoop(handle, &mpq.BackoffWait{}, mpq.ContextExit(ctx))
//
// The exit condition is only checked between batches of 4096 operations.
//
// # Blocking Consumer
//
// MPSCBlocking adds Take, PollTimeout and DrainTimeout. The consumer
// announces that it parks on the empty slot through the low bit of the
// producer index; the producer that claims that slot wakes it. Cancellation
// through the context rolls the announcement back, unless a producer has
// already claimed the slot, in which case the element is returned:
//
//	for {
//	    job, err := q.Take(ctx)
//	    if err != nil {
//	        return err // ctx.Err()
//	    }
//	    job.Run()
//	}
//
// # Growth
//
// MPSCChunked links a new segment when the current one is exhausted and the
// queue holds less than its maximum capacity. NewMPSCChunked uses segments
// of one size; NewMPSCGrowable doubles the segment size up to the maximum.
// Offer fails with ErrWouldBlock only once the maximum is reached.
//
// MPSCLinked never fails Offer. RemoveFunc and Remove unlink an element
// from the consumer goroutine, best-effort against concurrent producers.
//
// # Error Handling
//
// Queues return [ErrWouldBlock] when operations cannot proceed. This error
// is sourced from [code.hybscloud.com/iox] for ecosystem consistency.
//
//	backoff := iox.Backoff{}
//	for {
//	    err := q.Offer(item)
//	    if err == nil {
//	        backoff.Reset()
//	        break
//	    }
//	    if !mpq.IsWouldBlock(err) {
//	        return err
//	    }
//	    backoff.Wait()
//	}
//
// Misconfiguration (capacity < 2, chunk size not below the maximum) and nil
// elements panic with a message prefixed "mpq:".
//
// # Capacity and Size
//
// Capacity rounds up to the next power of 2:
//
//	q := mpq.NewMPMC[int](3)     // Actual capacity: 4
//	q := mpq.NewMPMC[int](1000)  // Actual capacity: 1024
//
// Size is an estimate taken while producers and consumers move. It never
// goes below zero or above Cap. MPSCLinked reports Cap as [Unbounded] and
// computes Size by walking its nodes.
//
// # Thread Safety
//
// All queue operations are thread-safe within their access pattern constraints:
//
//   - SPSC: One producer goroutine, one consumer goroutine
//   - MPSC variants: Multiple producer goroutines, one consumer goroutine
//   - SPMC: One producer goroutine, multiple consumer goroutines
//   - MPMC: Multiple producer and consumer goroutines
//
// Violating these constraints (e.g., multiple producers on SPSC) causes
// undefined behavior including data corruption and races.
//
// # Race Detection
//
// Go's race detector is not designed for lock-free algorithm verification.
// It tracks explicit synchronization primitives (mutex, channels, WaitGroup)
// but cannot observe happens-before relationships established through
// acquire-release orderings on a different variable.
//
// The queues publish plain element fields through release stores on slot
// states, sequences and indices. The algorithms are correct, but the race
// detector may report false positives. Concurrency tests skip themselves
// when [RaceEnabled] is set.
//
// # Dependencies
//
// This package uses [code.hybscloud.com/iox] for semantic errors and
// backoff, [code.hybscloud.com/atomix] for atomic primitives with explicit
// memory ordering, and [code.hybscloud.com/spin] for CPU pause instructions.
package mpq
