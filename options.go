// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mpq

// Options configures queue creation and algorithm selection.
type Options struct {
	// Producer/Consumer constraints (determines queue type)
	singleProducer bool
	singleConsumer bool

	// MPSC flavors
	blocking bool
	chunked  bool
	growable bool

	// Capacity (rounds up to next power of 2). For chunked and growable
	// queues capacity is the segment size and maxCapacity the bound.
	capacity    int
	maxCapacity int

	// SPSC look-ahead ceiling
	lookAhead int
}

// Builder creates queues with fluent configuration.
//
// Builder selects the algorithm from the producer/consumer constraints and
// the MPSC flavor hints.
//
// Example:
//
//	// SPSC queue (optimal for single producer/consumer)
//	q := mpq.BuildSPSC[Event](mpq.New(1024).SingleProducer().SingleConsumer())
//
//	// MPMC queue (default, general purpose)
//	q := mpq.BuildMPMC[Request](mpq.New(4096))
//
//	// MPSC queue that starts at 64 slots and grows up to 65536
//	q := mpq.BuildMPSCChunked[Job](mpq.New(64).SingleConsumer().Growable(65536))
type Builder struct {
	opts Options
}

// New creates a queue builder with the given capacity.
//
// Capacity rounds up to the next power of 2.
// For example, capacity=4 results in actual capacity=4, capacity=1000 results
// in actual capacity=1024.
//
// Panics if capacity < 2.
func New(capacity int) *Builder {
	if capacity < 2 {
		panic(errCapacity)
	}
	return &Builder{opts: Options{capacity: capacity, lookAhead: DefaultLookAheadStep}}
}

// SingleProducer declares that only one goroutine will offer.
// Enables optimized algorithms for SPSC or SPMC patterns.
func (b *Builder) SingleProducer() *Builder {
	b.opts.singleProducer = true
	return b
}

// SingleConsumer declares that only one goroutine will poll.
// Enables optimized algorithms for SPSC or MPSC patterns.
func (b *Builder) SingleConsumer() *Builder {
	b.opts.singleConsumer = true
	return b
}

// LookAhead sets the SPSC look-ahead ceiling.
// Other queue types ignore it.
func (b *Builder) LookAhead(step int) *Builder {
	if step < 1 {
		panic(errLookAhead)
	}
	b.opts.lookAhead = step
	return b
}

// Blocking selects the MPSC queue whose consumer can park in Take.
// Requires SingleConsumer().
func (b *Builder) Blocking() *Builder {
	b.opts.blocking = true
	return b
}

// Chunked selects the MPSC queue made of fixed-size segments of the
// builder capacity, linked on demand up to maxCapacity.
// Requires SingleConsumer().
func (b *Builder) Chunked(maxCapacity int) *Builder {
	b.opts.chunked = true
	b.opts.growable = false
	b.opts.maxCapacity = maxCapacity
	return b
}

// Growable selects the MPSC queue whose segments start at the builder
// capacity and double on each growth up to maxCapacity.
// Requires SingleConsumer().
func (b *Builder) Growable(maxCapacity int) *Builder {
	b.opts.growable = true
	b.opts.chunked = false
	b.opts.maxCapacity = maxCapacity
	return b
}

// Build creates a Queue[T] with automatic algorithm selection.
//
// Algorithm selection:
//
//	SingleProducer + SingleConsumer → SPSC (look-ahead ring buffer)
//	SingleProducer only             → SPMC (CAS consumers)
//	SingleConsumer + Blocking       → MPSCBlocking (parking consumer)
//	SingleConsumer + Chunked        → MPSCChunked (fixed segments)
//	SingleConsumer + Growable       → MPSCChunked (doubling segments)
//	SingleConsumer only             → MPSC (CAS producers)
//	Neither                         → MPMC (per-slot sequences)
func Build[T any](b *Builder) Queue[T] {
	switch {
	case b.opts.singleProducer && b.opts.singleConsumer:
		return NewSPSCLookAhead[T](b.opts.capacity, b.opts.lookAhead)
	case b.opts.singleProducer:
		return NewSPMC[T](b.opts.capacity)
	case b.opts.singleConsumer && b.opts.blocking:
		return NewMPSCBlocking[T](b.opts.capacity)
	case b.opts.singleConsumer && b.opts.chunked:
		return NewMPSCChunked[T](b.opts.capacity, b.opts.maxCapacity)
	case b.opts.singleConsumer && b.opts.growable:
		return NewMPSCGrowable[T](b.opts.capacity, b.opts.maxCapacity)
	case b.opts.singleConsumer:
		return NewMPSC[T](b.opts.capacity)
	default:
		return NewMPMC[T](b.opts.capacity)
	}
}

// BuildSPSC creates an SPSC queue with compile-time type safety.
// Panics if builder is not configured with SingleProducer().SingleConsumer().
func BuildSPSC[T any](b *Builder) *SPSC[T] {
	if !b.opts.singleProducer || !b.opts.singleConsumer {
		panic("mpq: BuildSPSC requires SingleProducer().SingleConsumer()")
	}
	return NewSPSCLookAhead[T](b.opts.capacity, b.opts.lookAhead)
}

// BuildMPSC creates an MPSC queue with compile-time type safety.
// Panics if builder is not configured with SingleConsumer() only.
func BuildMPSC[T any](b *Builder) *MPSC[T] {
	if b.opts.singleProducer || !b.opts.singleConsumer {
		panic("mpq: BuildMPSC requires SingleConsumer() without SingleProducer()")
	}
	return NewMPSC[T](b.opts.capacity)
}

// BuildMPSCBlocking creates a blocking-consumer MPSC queue.
// Panics if builder is not configured with SingleConsumer().Blocking().
func BuildMPSCBlocking[T any](b *Builder) *MPSCBlocking[T] {
	if b.opts.singleProducer || !b.opts.singleConsumer || !b.opts.blocking {
		panic("mpq: BuildMPSCBlocking requires SingleConsumer().Blocking()")
	}
	return NewMPSCBlocking[T](b.opts.capacity)
}

// BuildMPSCChunked creates a chunked or growable MPSC queue.
// Panics if builder is not configured with SingleConsumer() and one of
// Chunked() or Growable().
func BuildMPSCChunked[T any](b *Builder) *MPSCChunked[T] {
	if b.opts.singleProducer || !b.opts.singleConsumer || !(b.opts.chunked || b.opts.growable) {
		panic("mpq: BuildMPSCChunked requires SingleConsumer() with Chunked() or Growable()")
	}
	if b.opts.growable {
		return NewMPSCGrowable[T](b.opts.capacity, b.opts.maxCapacity)
	}
	return NewMPSCChunked[T](b.opts.capacity, b.opts.maxCapacity)
}

// BuildSPMC creates an SPMC queue with compile-time type safety.
// Panics if builder is not configured with SingleProducer() only.
func BuildSPMC[T any](b *Builder) *SPMC[T] {
	if !b.opts.singleProducer || b.opts.singleConsumer {
		panic("mpq: BuildSPMC requires SingleProducer() without SingleConsumer()")
	}
	return NewSPMC[T](b.opts.capacity)
}

// BuildMPMC creates an MPMC queue with compile-time type safety.
// Panics if builder has any constraints set.
func BuildMPMC[T any](b *Builder) *MPMC[T] {
	if b.opts.singleProducer || b.opts.singleConsumer {
		panic("mpq: BuildMPMC requires no constraints")
	}
	return NewMPMC[T](b.opts.capacity)
}

// roundToPow2 rounds n up to the next power of 2.
func roundToPow2(n int) int {
	if n < 2 {
		return 2
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

// pad is cache line padding to prevent false sharing.
type pad [64]byte

// padShort is padding to fill cache line after 8-byte field.
type padShort [64 - 8]byte
