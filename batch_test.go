// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mpq_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/mpq"
)

// loopBatch mirrors the number of operations between exit checks.
const loopBatch = 4096

// =============================================================================
// Bounded Drain / Fill
// =============================================================================

func TestDrainLimit(t *testing.T) {
	for _, tc := range allQueues() {
		t.Run(tc.name, func(t *testing.T) {
			q := tc.new(16)
			for i := range 10 {
				q.Offer(i)
			}

			var got []int
			collect := func(v int) { got = append(got, v) }
			if n := q.Drain(collect, 0); n != 0 {
				t.Fatalf("Drain(0): got %d, want 0", n)
			}
			if n := q.Drain(collect, 4); n != 4 {
				t.Fatalf("Drain(4): got %d, want 4", n)
			}
			if n := q.Drain(collect, 100); n != 6 {
				t.Fatalf("Drain(100): got %d, want 6", n)
			}
			for i, v := range got {
				if v != i {
					t.Fatalf("Drain[%d]: got %d, want %d", i, v, i)
				}
			}
			if n := q.Drain(collect, 1); n != 0 {
				t.Fatalf("Drain on empty: got %d, want 0", n)
			}
		})
	}
}

func TestFillStopsWhenFull(t *testing.T) {
	for _, tc := range boundedQueues {
		t.Run(tc.name, func(t *testing.T) {
			q := tc.new(8)
			calls := 0
			supply := func() int { calls++; return calls }

			if n := q.Fill(supply, -1); n != 0 {
				t.Fatalf("Fill(-1): got %d, want 0", n)
			}
			if n := q.Fill(supply, 20); n != 8 {
				t.Fatalf("Fill(20): got %d, want 8", n)
			}
			if calls != 8 {
				t.Fatalf("supplier calls: got %d, want 8", calls)
			}
			for want := 1; want <= 8; want++ {
				if v, err := q.Poll(); err != nil || v != want {
					t.Fatalf("Poll: got (%d, %v), want (%d, nil)", v, err, want)
				}
			}
		})
	}
}

// =============================================================================
// Loops
// =============================================================================

func TestDrainLoopChecksExitBetweenBatches(t *testing.T) {
	q := mpq.NewMPSC[int](16)
	for i := range 10 {
		q.Offer(i)
	}

	exitChecks := 0
	exit := mpq.ExitFunc(func() bool {
		exitChecks++
		return exitChecks == 1
	})
	idleCalls, maxIdle := 0, 0
	w := mpq.WaitFunc(func(n int) int {
		idleCalls++
		maxIdle = max(maxIdle, n+1)
		return n + 1
	})

	drained := 0
	q.DrainLoop(func(int) { drained++ }, w, exit)

	if drained != 10 {
		t.Fatalf("drained: got %d, want 10", drained)
	}
	if exitChecks != 2 {
		t.Fatalf("exit checks: got %d, want 2", exitChecks)
	}
	// The rest of the first batch idles with a growing counter.
	if idleCalls != loopBatch-10 || maxIdle != loopBatch-10 {
		t.Fatalf("idle: calls=%d max=%d, want %d", idleCalls, maxIdle, loopBatch-10)
	}
}

func TestDrainLoopResetsIdleCounter(t *testing.T) {
	q := mpq.NewSPSC[int](4)
	var counters []int
	w := mpq.WaitFunc(func(n int) int {
		counters = append(counters, n)
		// Refill on every third idle round.
		if n == 2 {
			q.Offer(1)
		}
		return n + 1
	})

	rounds := 0
	q.DrainLoop(func(int) {}, w, mpq.ExitFunc(func() bool { rounds++; return rounds == 1 }))

	for i := range 6 {
		if counters[i] != i%3 {
			t.Fatalf("idle counter %d: got %d, want %d", i, counters[i], i%3)
		}
	}
}

func TestFillLoopIdlesWhenFull(t *testing.T) {
	q := mpq.NewSPSC[int](16)
	rounds := 0
	exit := mpq.ExitFunc(func() bool { rounds++; return rounds <= 3 })
	var counters []int
	w := mpq.WaitFunc(func(n int) int {
		counters = append(counters, n)
		return n + 1
	})

	q.FillLoop(func() int { return 7 }, w, exit)

	if q.Size() != 16 {
		t.Fatalf("Size: got %d, want 16", q.Size())
	}
	// Round 1 fills the queue, rounds 2 and 3 find it full.
	if len(counters) != 2 || counters[0] != 0 || counters[1] != 1 {
		t.Fatalf("idle counters: got %v, want [0 1]", counters)
	}
}

func TestContextExit(t *testing.T) {
	q := mpq.NewMPMC[int](8)
	q.Offer(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	polled := 0
	q.DrainLoop(func(int) { polled++ }, mpq.BusySpin{}, mpq.ContextExit(ctx))
	if polled != 0 {
		t.Fatalf("DrainLoop with done ctx: polled %d, want 0", polled)
	}
	q.FillLoop(func() int { return 2 }, mpq.BusySpin{}, mpq.ContextExit(ctx))
	if q.Size() != 1 {
		t.Fatalf("FillLoop with done ctx: Size %d, want 1", q.Size())
	}
	if !mpq.Forever().KeepRunning() {
		t.Fatal("Forever: got false")
	}
}

func TestDrainLoopConcurrent(t *testing.T) {
	if mpq.RaceEnabled {
		t.Skip("skip: lock-free algorithm uses cross-variable memory ordering")
	}

	const total = 100000
	q := mpq.NewMPSCGrowable[int](64, 4096)
	seen := make([]atomix.Int32, total)
	var consumed atomix.Int64

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		exit := mpq.ExitFunc(func() bool { return consumed.Load() < total && ctx.Err() == nil })
		q.DrainLoop(func(v int) {
			seen[v].Add(1)
			consumed.Add(1)
		}, mpq.YieldWait{}, exit)
	}()

	const producers = 4
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := p
			fill := func() int {
				v := next
				next += producers
				return v
			}
			for next < total {
				// Stop before the supplier produces values past total.
				if q.Fill(fill, min(64, (total-next+producers-1)/producers)) == 0 {
					time.Sleep(time.Microsecond)
				}
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		t.Fatalf("timeout: consumed=%d", consumed.Load())
	}
	for i := range total {
		if c := seen[i].Load(); c != 1 {
			t.Fatalf("item %d seen %d times", i, c)
		}
	}
}

// =============================================================================
// Wait Strategies
// =============================================================================

func TestWaitStrategiesCount(t *testing.T) {
	strategies := map[string]mpq.WaitStrategy{
		"BusySpin":    mpq.BusySpin{},
		"SpinWait":    &mpq.SpinWait{},
		"YieldWait":   mpq.YieldWait{},
		"BackoffWait": &mpq.BackoffWait{},
		"SleepWait":   mpq.SleepWait{Spins: 1, Yields: 1, Sleep: time.Microsecond},
	}
	for name, w := range strategies {
		t.Run(name, func(t *testing.T) {
			n := 0
			for i := range 4 {
				n = w.Idle(n)
				if n != i+1 {
					t.Fatalf("Idle: got %d, want %d", n, i+1)
				}
			}
			if n = w.Idle(0); n != 1 {
				t.Fatalf("Idle after reset: got %d, want 1", n)
			}
		})
	}
}

func TestSleepWaitParks(t *testing.T) {
	w := mpq.SleepWait{Sleep: 2 * time.Millisecond}
	start := time.Now()
	w.Idle(0)
	if elapsed := time.Since(start); elapsed < 2*time.Millisecond {
		t.Fatalf("SleepWait returned after %v, want >= 2ms", elapsed)
	}
}
